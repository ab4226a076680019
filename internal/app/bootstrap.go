package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/kine-api/internal/config"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/internal/repository/memory"
	"github.com/jwalitptl/kine-api/internal/repository/postgres"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/messaging"
	"github.com/jwalitptl/kine-api/pkg/messaging/redis"
	"github.com/jwalitptl/kine-api/pkg/worker"
)

// NewLogger builds the application logger and installs it as the global
// zerolog logger used by the HTTP middleware.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.JSON,
	})
	log.Logger = *l.Zerolog()
	return l
}

// Storage is the repository set selected by storage.driver. DB is nil for
// the in-memory driver.
type Storage struct {
	Repos *repository.Repositories
	DB    *sqlx.DB
}

func OpenStorage(cfg *config.Config) (*Storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return &Storage{Repos: memory.NewStore().Repositories()}, nil
	case config.StoragePostgres:
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		return &Storage{Repos: postgres.NewRepositories(db), DB: db}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Ping reports database reachability; the in-memory driver is always ready.
func (s *Storage) Ping(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.PingContext(ctx)
}

func (s *Storage) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Clinic.Location()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Location:               loc,
		DefaultDurationMinutes: cfg.Clinic.DefaultDurationMinutes,
		DefaultVisibilityDays:  cfg.Clinic.DefaultVisibilityDays,
		CatalogTTL:             cfg.Catalog.TTL,
		CatalogCleanup:         cfg.Catalog.CleanupInterval,
	}, nil
}

// NewBroker connects to Redis when enabled and falls back to the in-process
// broker otherwise.
func NewBroker(ctx context.Context, cfg config.RedisConfig, l *logger.Logger) (messaging.Broker, error) {
	if !cfg.Enabled {
		return messaging.NewMemoryBroker(64), nil
	}
	return redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.URL,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}, l)
}

func OutboxProcessorConfig(cfg *config.Config) worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		Channel:       cfg.Redis.Channel,
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
		MaxRetries:    cfg.Outbox.MaxRetries,
	}
}

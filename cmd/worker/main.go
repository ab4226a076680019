package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/kine-api/internal/app"
	"github.com/jwalitptl/kine-api/internal/config"
	"github.com/jwalitptl/kine-api/internal/worker"
	"github.com/jwalitptl/kine-api/pkg/clock"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/metrics"
	pkgworker "github.com/jwalitptl/kine-api/pkg/worker"
)

const healthAddr = ":8081"

func setupHealthCheck(storage *app.Storage, m *metrics.Metrics, l *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := storage.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: healthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error(err, "health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	appLog := app.NewLogger(cfg.Log).WithFields(map[string]interface{}{"component": "worker"})

	if cfg.Storage.Driver == config.StorageMemory {
		appLog.Fatal(errors.New("memory storage is process local"),
			"the standalone worker needs postgres; use `kine-api serve --with-workers` instead")
	}

	storage, err := app.OpenStorage(cfg)
	if err != nil {
		appLog.Fatal(err, "failed to open storage")
	}
	defer storage.Close()

	opts, err := app.OptionsFromConfig(cfg)
	if err != nil {
		appLog.Fatal(err, "invalid clinic configuration")
	}
	m := metrics.NewMetrics("kine_worker")
	a := app.New(storage.Repos, opts, clock.Real(), m, appLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := app.NewBroker(ctx, cfg.Redis, appLog)
	if err != nil {
		appLog.Fatal(err, "failed to create message broker")
	}
	defer broker.Close()

	health := setupHealthCheck(storage, m, appLog)

	if cfg.Sweep.Enabled {
		sweeper := worker.NewSweepScheduler(a.Maintenance,
			time.Duration(cfg.Sweep.IntervalMinutes)*time.Minute, opts.Location, appLog)
		if err := sweeper.Start(ctx); err != nil {
			appLog.Fatal(err, "failed to start sweep scheduler")
		}
		defer sweeper.Stop()
	}

	processor := pkgworker.NewOutboxProcessor(a.Repos.Outbox, broker, app.OutboxProcessorConfig(cfg), a.Clock, appLog, m)
	processor.Start(ctx)

	appLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)
}

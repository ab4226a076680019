package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/kine-api/internal/app"
	"github.com/jwalitptl/kine-api/internal/config"
	healthhandler "github.com/jwalitptl/kine-api/internal/handler/health"
	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository/postgres"
	"github.com/jwalitptl/kine-api/internal/router"
	"github.com/jwalitptl/kine-api/internal/service/schedule"
	"github.com/jwalitptl/kine-api/internal/worker"
	"github.com/jwalitptl/kine-api/pkg/auth"
	"github.com/jwalitptl/kine-api/pkg/clock"
	"github.com/jwalitptl/kine-api/pkg/metrics"
	pkgworker "github.com/jwalitptl/kine-api/pkg/worker"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "kine-api",
		Short:        "Physiotherapy scheduling and care-plan API",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yaml")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.Load()
}

func jwtService(cfg *config.Config) (*auth.HMACService, error) {
	if cfg.JWT.Secret == "" {
		return nil, errors.New("jwt.secret must be set (KINE_JWT_SECRET)")
	}
	return auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer,
		time.Duration(cfg.JWT.ExpiryHours)*time.Hour, clock.Real()), nil
}

func serveCmd() *cobra.Command {
	var withWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(withWorkers)
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "with-workers", false,
		"run the sweep scheduler and outbox processor in-process (implied by the memory storage driver)")
	return cmd
}

func runServer(withWorkers bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	appLog := app.NewLogger(cfg.Log)

	tokens, err := jwtService(cfg)
	if err != nil {
		return err
	}

	storage, err := app.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	opts, err := app.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	a := app.New(storage.Repos, opts, clock.Real(), metrics.NewMetrics("kine"), appLog)

	r := a.Router(tokens, router.RouterConfig{
		Mode:             cfg.Server.Mode,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:        cfg.RateLimit.Burst,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		RequestTimeout:   cfg.Server.RequestTimeout,
	}, map[string]healthhandler.Checker{"database": storage.Ping})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if withWorkers || cfg.Storage.Driver == config.StorageMemory {
		stopWorkers, err := startWorkers(ctx, cfg, a, opts)
		if err != nil {
			return err
		}
		defer stopWorkers()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("storage", cfg.Storage.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server exited properly")
	return nil
}

// startWorkers runs the background jobs next to the API. The returned func
// stops them.
func startWorkers(ctx context.Context, cfg *config.Config, a *app.App, opts app.Options) (func(), error) {
	broker, err := app.NewBroker(ctx, cfg.Redis, a.Log)
	if err != nil {
		return nil, err
	}

	processor := pkgworker.NewOutboxProcessor(a.Repos.Outbox, broker, app.OutboxProcessorConfig(cfg), a.Clock, a.Log, a.Metrics)
	go processor.Start(ctx)

	var sweeper *worker.SweepScheduler
	if cfg.Sweep.Enabled {
		sweeper = worker.NewSweepScheduler(a.Maintenance,
			time.Duration(cfg.Sweep.IntervalMinutes)*time.Minute, opts.Location, a.Log)
		if err := sweeper.Start(ctx); err != nil {
			_ = broker.Close()
			return nil, err
		}
	}

	return func() {
		if sweeper != nil {
			sweeper.Stop()
		}
		_ = broker.Close()
	}, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeDB, err := openMigrator()
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := migrator.Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeDB, err := openMigrator()
			if err != nil {
				return err
			}
			defer closeDB()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, st := range statuses {
				state := "pending"
				if st.AppliedAt != nil {
					state = "applied " + st.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%03d  %-30s %s\n", st.Version, st.Name, state)
			}
			return nil
		},
	}

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func openMigrator() (*postgres.Migrator, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewMigrator(db), func() { _ = db.Close() }, nil
}

func sweepCmd() *cobra.Command {
	var practitioner string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending appointments and complete past confirmed ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			var practitionerID *uuid.UUID
			if practitioner != "" {
				id, err := uuid.Parse(practitioner)
				if err != nil {
					return fmt.Errorf("invalid --practitioner: %w", err)
				}
				practitionerID = &id
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storage, err := app.OpenStorage(cfg)
			if err != nil {
				return err
			}
			defer storage.Close()
			opts, err := app.OptionsFromConfig(cfg)
			if err != nil {
				return err
			}

			a := app.New(storage.Repos, opts, clock.Real(), metrics.NewMetrics("kine"), app.NewLogger(cfg.Log))
			result, err := a.Maintenance.Run(cmd.Context(), practitionerID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d, completed %d\n", result.ExpiredCount, result.CompletedCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&practitioner, "practitioner", "", "limit the sweep to one practitioner id")
	return cmd
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Print the clinic opening hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := app.OptionsFromConfig(cfg)
			if err != nil {
				return err
			}

			policy := schedule.NewPolicy(opts.Location)
			fmt.Fprintf(cmd.OutOrStdout(), "timezone %s\n", policy.Location())
			for _, d := range policy.Template() {
				if !d.Open {
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s closed\n", d.Day)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s-%s\n", d.Day, d.Opens, d.Closes)
			}
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var user, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user id and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tokens, err := jwtService(cfg)
			if err != nil {
				return err
			}

			token, err := tokens.GenerateAccessToken(model.Caller{UserID: userID, Role: model.Role(role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&role, "role", string(model.RolePatient), "patient, practitioner or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

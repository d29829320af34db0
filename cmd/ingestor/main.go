package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/config"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/github"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/logging"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/pipeline"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/repository"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/runlock"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/scheduler"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/server"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ingestor",
	Short: "GitHub public events ingestion pipeline",
	Long: `ingestor pulls the public GitHub events feed on a schedule,
normalizes each event, and persists raw and clean projections into
PostgreSQL with per-run bookkeeping.`,
	Version: "0.1.0",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled ingestion service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService()
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single ingestion cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runMigrations(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.AddCommand(runCmd, onceCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrations(cfg *config.Config) error {
	m, err := migrate.New("file://"+cfg.Ingestion.MigrationsDir, cfg.Database.ConnString())
	if err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations completed")
	return nil
}

// setup loads config and wires the pipeline; shared by run and once.
func setup(ctx context.Context) (*config.Config, *pipeline.Runner, repository.Repository, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(slog.String("service", "ingestor"))
	logging.SetDefault(logger)

	if err := runMigrations(cfg); err != nil {
		return nil, nil, nil, err
	}

	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.ConnString(), cfg.Ingestion.WriteChunk)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Finalize runs left STARTED by a previous crashed process.
	cutoff := time.Now().UTC().Add(-cfg.Ingestion.StaleRunAge)
	if n, err := repo.MarkStaleRuns(ctx, cutoff); err != nil {
		logger.Warn("stale run sweep failed", logging.Err(err))
	} else if n > 0 {
		logger.Warn("finalized stale runs from previous process", slog.Int("count", n))
	}

	fetcher := github.NewClient(github.Config{
		BaseURL:        cfg.GitHub.BaseURL,
		Token:          cfg.GitHub.Token,
		UserAgent:      cfg.GitHub.UserAgent,
		RequestTimeout: cfg.GitHub.RequestTimeout,
		PerPage:        cfg.GitHub.PerPage,
		MaxPages:       cfg.GitHub.MaxPages,
		MaxRetries:     cfg.GitHub.MaxRetries,
		MaxEvents:      cfg.Ingestion.MaxEvents,
		MaxRateWait:    cfg.GitHub.MaxRateWait,
	}, logger)

	return cfg, pipeline.NewRunner(fetcher, repo, logger), repo, nil
}

func runOnce() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, runner, repo, err := setup(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	run, err := runner.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("cycle failed (run_id=%s): %w", run.RunID, err)
	}
	slog.Info("cycle complete",
		logging.RunID(run.RunID),
		slog.Int(logging.FieldFetched, run.RowsFetched),
		slog.Int(logging.FieldInserted, run.RowsInserted),
	)
	return nil
}

func runService() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, runner, repo, err := setup(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	var lock runlock.Lock = runlock.NoOpLock{}
	if cfg.Redis.Enabled {
		redisLock, err := runlock.NewRedisLock(cfg.Redis.URL, cfg.Ingestion.Interval)
		if err != nil {
			slog.Warn("redis lock unavailable, falling back to local exclusion", logging.Err(err))
		} else {
			lock = redisLock
			slog.Info("shared cycle lock enabled", slog.String("redis_url", cfg.Redis.URL))
		}
	}
	defer lock.Close()

	sched := scheduler.New(runner, lock, cfg.Ingestion.Interval, slog.Default())
	go sched.Start(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		slog.Info("observability server listening", slog.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", logging.Err(err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", logging.Err(err))
	}

	slog.Info("shutdown complete")
	return nil
}

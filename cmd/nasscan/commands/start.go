package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/nasscan/internal/api"
	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/config"
	"github.com/marmos91/nasscan/pkg/core"
	"github.com/marmos91/nasscan/pkg/history"
	"github.com/marmos91/nasscan/pkg/metrics"
	"github.com/marmos91/nasscan/pkg/metrics/prometheus"
	"github.com/marmos91/nasscan/pkg/scan"
	"github.com/marmos91/nasscan/pkg/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nasscan service",
	Long: `Start the nasscan service with the specified configuration.

The service schedules the configured scans, serves the REST API, and
keeps measurement history in the configured database.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/nasscan/config.yaml.

Examples:
  # Start with default config location
  nasscan start

  # Start with custom config file
  nasscan start --config /etc/nasscan/config.yaml

  # Start with environment variable overrides
  ENABLE_LOGS=debug nasscan start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded",
		"source", getConfigSource(GetConfigFile()),
		"scans", len(cfg.Scans))

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	}

	store, err := history.New(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	store.SetMetrics(prometheus.NewStoreMetrics())
	store.StartupCleanup(ctx)

	executor := scan.NewExecutor(store, scan.Options{
		MaxParallel: cfg.Scanner.EffectiveParallelism(),
		VerifyTLS:   cfg.Scanner.VerifyTLS,
		Metrics:     prometheus.NewScannerMetrics(),
		APIMetrics:  prometheus.NewAPIMetrics(),
	})

	// The scheduler re-reads scans through the core so REST views and
	// jobs stay consistent after a reload.
	var c *core.Core
	sched := scheduler.New(executor, func() ([]config.ScanConfig, error) {
		return c.LoadScans()
	}, scheduler.Options{
		ReloadInterval: cfg.Scheduler.ReloadInterval,
		MisfireGrace:   cfg.Scheduler.MisfireGrace,
		StopTimeout:    cfg.ShutdownTimeout,
	})
	c = core.New(cfg, GetConfigFile(), store, executor, sched)

	// Scheduling failures are per-scan and non-fatal: the API still
	// serves history and manual triggers.
	sched.Load(cfg.Scans)
	sched.Start(ctx)
	c.Start(ctx)

	apiServer := api.NewServer(cfg.API, c)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Service is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		sched.Stop()

		if err := <-serverDone; err != nil {
			logger.Error("API server shutdown error", "error", err)
			return err
		}
		logger.Info("Service stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		sched.Stop()
		if err != nil {
			logger.Error("API server error", "error", err)
			return err
		}
		logger.Info("Service stopped")
	}

	return nil
}

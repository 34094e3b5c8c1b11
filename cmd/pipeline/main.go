// Command pipeline runs the weather/energy ingestion pipeline. Each stage is
// independently invokable and idempotent:
//
//	pipeline fetch     fetch raw weather and energy observations per city
//	pipeline merge     clean and inner-join the raw series
//	pipeline quality   compute the data quality report
//	pipeline anomaly   flag anomalous merged rows
//	pipeline run       all stages in order
//	pipeline schedule  periodic full runs at a fixed interval
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

	"github.com/spf13/cobra"

	"github.com/chrisedeson/weather-energy-pipeline/internal/adapter/eia"
	"github.com/chrisedeson/weather-energy-pipeline/internal/adapter/httpadmin"
	"github.com/chrisedeson/weather-energy-pipeline/internal/adapter/noaa"
	"github.com/chrisedeson/weather-energy-pipeline/internal/anomaly"
	"github.com/chrisedeson/weather-energy-pipeline/internal/config"
	"github.com/chrisedeson/weather-energy-pipeline/internal/observability"
	"github.com/chrisedeson/weather-energy-pipeline/internal/pipeline"
	"github.com/chrisedeson/weather-energy-pipeline/internal/retry"
	"github.com/chrisedeson/weather-energy-pipeline/internal/scheduler"
	"github.com/chrisedeson/weather-energy-pipeline/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired pipeline and its collaborators.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	pipe    *pipeline.Pipeline
}

// newApp loads configuration and wires the pipeline. Credentials are
// validated only for commands that reach the remote sources, so merge- and
// report-only invocations work without keys.
func newApp(configPath string, needsCredentials bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	if needsCredentials {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
	}

	metrics := observability.NewMetrics()

	weatherPolicy := retry.DefaultPolicy()
	weatherPolicy.OnRetry = func(int, error) {
		metrics.FetchRetries.WithLabelValues("noaa").Inc()
	}
	energyPolicy := retry.DefaultPolicy()
	energyPolicy.OnRetry = func(int, error) {
		metrics.FetchRetries.WithLabelValues("eia").Inc()
	}

	weather := noaa.NewCachedClient(
		noaa.NewClient(cfg.NOAAAPIKey, cfg.FetchTimeout, weatherPolicy, logger),
		cfg.FetchCacheSize,
	)
	energy := eia.NewCachedClient(
		eia.NewClient(cfg.EIAAPIKey, cfg.FetchTimeout, energyPolicy, logger),
		cfg.FetchCacheSize,
	)

	pipe := pipeline.New(pipeline.Options{
		Weather:          weather,
		Energy:           energy,
		Store:            store.New(cfg.DataDir),
		Detector:         anomaly.NewDetector(logger),
		Logger:           logger,
		Metrics:          metrics,
		Cities:           cfg.Cities,
		FetchDays:        cfg.FetchDays,
		FetchConcurrency: cfg.FetchConcurrency,
	})

	return &app{cfg: cfg, logger: logger, metrics: metrics, pipe: pipe}, nil
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Daily weather/energy ingestion and quality pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the city config file")

	stage := func(name, short string, needsCredentials bool, run func(ctx context.Context, a *app) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := newApp(configPath, needsCredentials)
				if err != nil {
					slog.Error("startup failed", "error", err)
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				if err := run(ctx, a); err != nil {
					a.logger.Error("stage failed", "stage", name, "error", err)
					return err
				}
				return nil
			},
		}
	}

	root.AddCommand(
		stage("fetch", "Fetch raw weather and energy observations per city", true,
			func(ctx context.Context, a *app) error { return a.pipe.RunFetch(ctx) }),
		stage("merge", "Clean and inner-join the raw series into the merged dataset", false,
			func(ctx context.Context, a *app) error { return a.pipe.RunMerge(ctx) }),
		stage("quality", "Compute the data quality report over the merged dataset", false,
			func(ctx context.Context, a *app) error { return a.pipe.RunQuality(ctx) }),
		stage("anomaly", "Flag anomalous merged rows per city", false,
			func(ctx context.Context, a *app) error { return a.pipe.RunAnomaly(ctx) }),
		stage("run", "Run all stages in order", true,
			func(ctx context.Context, a *app) error {
				shutdownAdmin := startAdminServer(a)
				defer shutdownAdmin()
				return a.pipe.Run(ctx)
			}),
		newScheduleCmd(&configPath),
	)

	return root
}

func newScheduleCmd(configPath *string) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the full pipeline periodically until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath, true)
			if err != nil {
				slog.Error("startup failed", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownAdmin := startAdminServer(a)
			defer shutdownAdmin()

			sched := scheduler.New(a.pipe, every, a.logger)
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer sched.Stop()

			<-ctx.Done()
			a.logger.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().DurationVar(&every, "every", 24*time.Hour, "interval between pipeline runs")

	return cmd
}

// startAdminServer starts the health/metrics listener when HTTP_ADDR is set.
// The returned function shuts it down.
func startAdminServer(a *app) func() {
	if a.cfg.HTTPAddr == "" {
		return func() {}
	}

	srv := httpadmin.NewServer(a.cfg.HTTPAddr, a.pipe, a.logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin http server error", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("admin http server shutdown error", "error", err)
		}
	}
}

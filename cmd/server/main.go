package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/surveyforge/surveyforge-backend/internal/app"
	"github.com/surveyforge/surveyforge-backend/internal/config"
	"github.com/surveyforge/surveyforge-backend/internal/db"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
	"github.com/surveyforge/surveyforge-backend/internal/repository"
	"github.com/surveyforge/surveyforge-backend/internal/sweeper"
	"github.com/surveyforge/surveyforge-backend/internal/tools/common"
)

func main() {
	root := &cobra.Command{
		Use:   "surveyforge",
		Short: "Survey management backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and retention sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run one comprehensive retention sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sweepOnce(cmd.Context())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	_ = common.LoadEnvFile(".env")

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, observability.LoggingConfig{
		Enabled:     cfg.OTELLogsEnabled,
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Insecure:    cfg.OTELExporterOTLPInsecure,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.OTELEnvironment,
	})
	if err != nil {
		return err
	}
	meterProvider, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		Enabled:        cfg.OTELMetricsEnabled,
		Endpoint:       cfg.OTELExporterOTLPEndpoint,
		Insecure:       cfg.OTELExporterOTLPInsecure,
		ServiceName:    cfg.OTELServiceName,
		Environment:    cfg.OTELEnvironment,
		ExportInterval: cfg.OTELMetricsExportInterval,
	}, logger)
	if err != nil {
		return err
	}
	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.OTELTracingEnabled,
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Insecure:    cfg.OTELExporterOTLPInsecure,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.OTELEnvironment,
		SampleRatio: cfg.OTELTraceSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	runtime := &observability.Runtime{
		MeterProvider:  meterProvider,
		TracerProvider: tracerProvider,
		LoggerProvider: loggerProvider,
	}

	a, err := app.New(ctx, cfg, logger, runtime)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// sweepOnce is the cron-friendly entrypoint: no HTTP server, one
// comprehensive pass over the credential store.
func sweepOnce(ctx context.Context) error {
	_ = common.LoadEnvFile(".env")

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logger, _, err := observability.InitLogging(ctx, observability.LoggingConfig{})
	if err != nil {
		return err
	}

	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	creds := repository.NewCredentialRepository(gdb)
	sw := sweeper.New(creds, sweeper.Config{
		JobTimeout:        cfg.SweepJobTimeout,
		RevokedRetention:  cfg.RevokedRetention,
		OwnerInactivity:   cfg.OwnerInactivityThreshold,
		OveruseThresholds: cfg.OveruseThresholds(),
	}, logger)

	result := sw.TriggerComprehensiveSweep(ctx)
	logger.Info("sweep finished", "total", result.Total)
	for name, count := range result.Counts {
		logger.Info("sweep category", "category", name, "deleted", count)
	}
	return nil
}

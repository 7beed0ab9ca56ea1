package main

import (
	"context"
	"os"
	"time"

	"saldo/internal/backend"
	"saldo/internal/cli"
	applog "saldo/internal/log"
	"saldo/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	res := cli.InitBackend(context.Background(), logger, cfg)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	exporter, err := backend.NewFactory(logger.Logger).CreateExporter(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize exporter", applog.FieldError, err)
		os.Exit(1)
	}

	w := worker.NewExportWorker(res.Repository, exporter, cfg.SyncBatchSize)

	// The backend is closed after Run returns so the consumer never sees a
	// closed channel.
	ctx, done := cli.GracefulShutdown(logger, 15*time.Second, nil)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	}()

	if err := w.StartupSync(ctx); err != nil {
		logger.Warn("Startup sync failed, continuing with periodic reconcile", applog.FieldError, err)
	}

	var source worker.EventSource
	if res.Events != nil {
		source = res.Events
	}

	logger.Info("Starting export worker",
		"interval", cfg.SyncInterval,
		"batch_size", cfg.SyncBatchSize,
		"amqp_enabled", source != nil)

	if err := w.Run(ctx, source, cfg.SyncInterval); err != nil {
		logger.Error("Export worker stopped with error", applog.FieldError, err)
		_ = res.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Export worker stopped")
}

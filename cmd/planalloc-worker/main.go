package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"planalloc/internal/amqp"
	"planalloc/internal/backend"
	"planalloc/internal/cli"
	"planalloc/internal/services"
	"planalloc/internal/worker"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting planalloc-worker", "backend", cfg.DataBackend, "spreadsheet", cfg.GoogleSpreadsheetID != "")

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		return err
	}
	factory := backend.NewFactory(logger)
	res, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", "error", err)
		}
	}()

	exporter, err := factory.CreateExporter(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize result exporter", "error", err)
		return err
	}

	processor := services.NewExportProcessor(res.Store, exporter, services.ExportProcessorConfig{
		PollInterval: cfg.ExportInterval,
		BatchSize:    cfg.ExportBatchSize,
	})
	exportWorker := worker.NewExportWorker(processor, 0)

	// Executions committed while the worker was down.
	if n := exportWorker.StartupExportCheck(ctx); n > 0 {
		logger.Info("Startup export check finished", "exported", n)
	}

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start export processor", "error", err)
		return err
	}
	defer cli.RunCleanup(logger, 10*time.Second, processor.Stop)

	g, gctx := errgroup.WithContext(ctx)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		// The periodic sweep still exports everything, only later.
		logger.Warn("AMQP unavailable, relying on periodic export sweep", "error", err, "interval", cfg.ExportInterval)
	} else {
		defer amqpClient.Close()
		g.Go(func() error {
			err := amqpClient.ConsumeAllocationCompleted(gctx, exportWorker.HandleCompleted)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		return err
	}
	logger.Info("Worker stopped gracefully")
	return nil
}

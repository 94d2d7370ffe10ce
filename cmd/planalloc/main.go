package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"planalloc/internal/amqp"
	"planalloc/internal/backend"
	"planalloc/internal/cache"
	"planalloc/internal/cli"
	"planalloc/internal/core"
	apphttp "planalloc/internal/http"
	applog "planalloc/internal/log"
	"planalloc/internal/services"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run returns after shutdown so deferred cleanup happens before exit.
func run() error {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting planalloc", "port", cfg.Port, "backend", cfg.DataBackend, "lock", cfg.LockBackend)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		return err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", "error", err)
		}
	}()

	opts := []services.Option{
		services.WithLogger(applog.New(applog.Config{Handler: logger.Handler(), Component: applog.ComponentAllocation})),
	}

	// Runs still commit without a broker; the worker's sweep picks the exports up.
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, completion messages disabled", "error", err)
	} else {
		defer amqpClient.Close()
		opts = append(opts, services.WithPublisher(amqpClient))
	}

	cacheManager := cache.NewManager()
	if cfg.ResultCacheSize > 0 {
		results := cache.NewLRUCache[core.AllocationExecution](cfg.ResultCacheSize, cfg.ResultCacheTTL)
		cacheManager.Register(results)
		cacheManager.StartCleanup(time.Minute)
		opts = append(opts, services.WithResultCache(results))
	}
	defer cacheManager.Stop()

	svc := services.NewAllocationService(res.Store, res.Locker, services.Config{
		RunTimeout:    cfg.AllocationTimeout,
		CommitTimeout: cfg.CommitTimeout,
	}, opts...)

	srv := apphttp.NewServer(":"+cfg.Port, svc, res.Store, apphttp.DefaultOptions())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mindleap-provisioning/internal/bootstrap"
	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().
		Str("version", cfg.App.Version).
		Int("workers", cfg.Workers.Provision.Count).
		Msg("Starting provision worker")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backends")
	}
	defer backends.Close()

	if backends.InProcess {
		log.Fatal().Msg("The memory backend has no shared queue; run the API server instead")
	}

	_, svc := backends.Services(cfg)
	provisionWorker := backends.ProvisionWorker(cfg, svc)
	sweeper := backends.JobSweeper(cfg)

	// Start worker
	go func() {
		if err := provisionWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Provision worker failed")
			cancel()
		}
	}()

	go func() {
		if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Job sweeper failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down provision worker...")

	// Cancel context to stop worker
	cancel()
	sweeper.Stop()
	provisionWorker.Stop()

	log.Info().Msg("Provision worker exited")
}

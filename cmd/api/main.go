package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mindleap-provisioning/internal/api"
	"mindleap-provisioning/internal/auth"
	"mindleap-provisioning/internal/bootstrap"
	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/logger"

	"github.com/gin-gonic/gin"
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
		Str("backend", cfg.Firebase.Backend).
		Msg("Starting API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize backends
	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backends")
	}
	defer backends.Close()

	reg, svc := backends.Services(cfg)

	// Operator tokens
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = devSecret()
		log.Warn().Msg("No JWT secret configured, using a random one for this process")
	}
	tokens := auth.NewTokenManager(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if backends.InProcess {
		token, err := tokens.Issue("dev-admin", auth.RoleSuperAdmin, nil, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue development token")
		}
		log.Info().Str("token", token).Msg("Development superadmin token")
	}

	// The memory queue only exists in this process
	if backends.InProcess {
		provisionWorker := backends.ProvisionWorker(cfg, svc)
		go func() {
			if err := provisionWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Provision worker failed")
			}
		}()
		defer provisionWorker.Stop()

		sweeper := backends.JobSweeper(cfg)
		go func() {
			if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Job sweeper failed")
			}
		}()
		defer sweeper.Stop()
	}

	// Initialize API handler
	handler := api.NewHandler(api.Deps{
		Provisioner: svc,
		Registry:    reg,
		Catalog:     backends.Repo,
		Jobs:        backends.Jobs,
		Storage:     backends.Storage,
		Queue:       backends.Queue,
		Progress:    backends.Progress,
		Checks:      backends.Checks,
	}, cfg)

	// Setup Gin router
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(api.Recovery(log))
	router.Use(api.RequestLogger(log))
	router.Use(api.CORS())

	// Setup routes
	api.SetupRoutes(router, handler, tokens)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancel()

	log.Info().Msg("Server exited")
}

func devSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("Failed to generate secret: %v", err))
	}
	return hex.EncodeToString(buf)
}

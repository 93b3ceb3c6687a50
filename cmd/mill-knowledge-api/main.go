// Package main provides the mill knowledge API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/config"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

func main() {
	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting mill knowledge API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db, err := storage.Open(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	store := storage.NewStore(db, cfg.Database.Driver)
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Cache and run events
	var notifier cache.Notifier
	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Warn().Err(err).Msg("Cache unavailable, serving without cache")
		cacheClient = nil
	} else {
		defer cacheClient.Close()
		if n, ok := cacheClient.(cache.Notifier); ok {
			notifier = n
			go func() {
				if err := watchRuns(ctx, logger, cacheClient, n); err != nil {
					logger.Warn().Err(err).Msg("Run event subscription failed")
				}
			}()
		}
	}

	drift := monitoring.NewDriftRunner(logger, store.Repositories, notifier, monitoring.DriftConfig{
		ArtifactPath: cfg.Output.JSONPath,
	})

	appCfg := DefaultAppConfig()
	appCfg.RequestTimeout = cfg.Server.ReadTimeout
	appCfg.CacheTTL = cfg.Cache.TTL

	router := NewRouter(logger, Dependencies{
		Store:      store,
		Cache:      cacheClient,
		Dictionary: codedict.Default(),
		Drift:      drift,
	}, appCfg)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}

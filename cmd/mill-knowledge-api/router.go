// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/cmd/mill-knowledge-api/handlers"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/cmd/mill-knowledge-api/middleware"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

// Dependencies are the services the router serves from.
type Dependencies struct {
	Store *storage.Store
	// Cache may be nil.
	Cache      cache.Client
	Dictionary *codedict.Dictionary
	Drift      *monitoring.DriftRunner
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, deps Dependencies, cfg *AppConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"mill-knowledge"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := deps.Store.Ping(r.Context()); err != nil {
			logger.Warn().Err(err).Msg("Database ping failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	dict := deps.Dictionary
	if dict == nil {
		dict = codedict.Default()
	}
	drift := deps.Drift
	if drift == nil {
		drift = monitoring.NewDriftRunner(logger, deps.Store.Repositories, nil, monitoring.DriftConfig{})
	}

	chunkHandler := handlers.NewChunkHandler(logger, deps.Store.Repositories, deps.Cache)
	vocabHandler := handlers.NewVocabularyHandler(logger, deps.Store.Repositories, deps.Cache, cfg.CacheTTL)
	runHandler := handlers.NewRunHandler(logger, deps.Store.Repositories, drift)
	decodeHandler := handlers.NewDecodeHandler(dict)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/chunks", func(r chi.Router) {
			r.Get("/", chunkHandler.List)
			r.Get("/search", chunkHandler.Search)
			r.Get("/{chunkId}", chunkHandler.Get)
		})
		r.Get("/stages", chunkHandler.Stages)

		r.Route("/vocabulary", func(r chi.Router) {
			r.Get("/", vocabHandler.Get)
			r.Get("/match", vocabHandler.Match)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runHandler.List)
			r.Get("/latest", runHandler.Latest)
			r.Get("/{runId}", runHandler.Get)
			r.Get("/{runId}/lineage", runHandler.Lineage)
		})
		r.Get("/check", runHandler.Check)

		r.Route("/decode", func(r chi.Router) {
			r.Get("/", decodeHandler.Domains)
			r.Get("/yarn/{code}", decodeHandler.Yarn)
			r.Get("/{domain}/{code}", decodeHandler.Resolve)
		})
	})

	return r
}

// AppConfig holds application configuration.
type AppConfig struct {
	RequestTimeout time.Duration
	CacheTTL       time.Duration
	AllowedOrigins []string
}

// DefaultAppConfig returns default configuration values.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		RequestTimeout: 30 * time.Second,
		CacheTTL:       5 * time.Minute,
		AllowedOrigins: []string{"*"},
	}
}

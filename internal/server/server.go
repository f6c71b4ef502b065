// Package server provides the HTTP API for Ronbun.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/ronbun/internal/cache"
	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/pipeline"
	"github.com/hyperjump/ronbun/internal/session"
	"go.uber.org/zap"
)

// Server is the HTTP server for the Ronbun API.
type Server struct {
	orch     *pipeline.Orchestrator
	sessions *session.Store
	cache    *cache.Store
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	orch *pipeline.Orchestrator,
	sessions *session.Store,
	cacheStore *cache.Store,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		orch:     orch,
		sessions: sessions,
		cache:    cacheStore,
		config:   cfg,
		logger:   logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Initialization clones and indexes a repository, which can be slow.
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/session", s.handleCreateSession)
	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/select", s.handleSelect)
	r.Post("/api/v1/initialize", s.handleInitialize)
	r.Post("/api/v1/chat", s.handleChat)
	r.Post("/api/v1/reset", s.handleReset)
	r.Get("/api/v1/concept-map", s.handleConceptMap)
	r.Get("/api/v1/cache/stats", s.handleCacheStats)
	r.Delete("/api/v1/cache/{id}", s.handleCacheDelete)
	r.Delete("/api/v1/cache", s.handleCacheClear)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

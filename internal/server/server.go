// Package server provides the HTTP API for Quarry.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/index"
)

// Server is the HTTP server for the Quarry API.
type Server struct {
	engine *index.Engine
	addr   string
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server over the given engine.
func NewServer(engine *index.Engine, addr string, logger *zap.Logger) *Server {
	return &Server{
		engine: engine,
		addr:   addr,
		logger: logger,
	}
}

// Router builds the API router. Exposed separately so tests can drive the
// handlers without a listening socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/ingest", s.handleIngest)
	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/answer", s.handleAnswer)
	r.Post("/api/v1/reset", s.handleReset)
	r.Get("/api/v1/documents", s.handleDocuments)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops. A graceful Stop
// is a clean exit, not an error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

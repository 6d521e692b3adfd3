// Package api provides the HTTP API server for the build gateway.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/appforge/gateway/internal/api/handlers"
	"github.com/appforge/gateway/internal/api/health"
	"github.com/appforge/gateway/internal/api/middleware"
	"github.com/appforge/gateway/internal/artifact"
	"github.com/appforge/gateway/internal/metrics"
	"github.com/appforge/gateway/internal/quota"
	"github.com/appforge/gateway/internal/staging"
	"github.com/appforge/gateway/internal/store"
	"github.com/appforge/gateway/pkg/config"
)

// Version is the current version of the gateway.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// Deps carries the server's collaborators.
type Deps struct {
	Store     store.Store
	Ledger    *quota.Ledger
	Staging   *staging.Area
	Artifacts *artifact.Store
	Notifier  handlers.Notifier
	Recorder  *metrics.Recorder
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		logger: logger,
	}
	s.healthChecker = health.NewChecker(deps.Store, Version)
	s.setupRouter(deps)
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter(deps Deps) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthChecker.Handler())
	r.Handle("/metrics", deps.Recorder.Handler())

	jobHandler := handlers.NewJobHandler(deps.Store, deps.Ledger, deps.Staging, deps.Artifacts, deps.Notifier, deps.Recorder, s.logger)
	quotaHandler := handlers.NewQuotaHandler(deps.Ledger, s.logger)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobHandler.Submit)
			r.Get("/", jobHandler.List)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", jobHandler.Get)
				r.Get("/artifact", jobHandler.Artifact)
			})
		})
		r.Get("/quota", quotaHandler.Get)
	})

	s.router = r
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.HTTPHost, s.config.HTTPPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}

// Package core provides the API chassis for the GaiYa control plane.
// It builds a chi router usable both under a standard HTTP server (local
// dev) and a serverless entry point, and enforces cross-cutting concerns
// (security, logging, rate limiting, error handling) before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gaiya/internal/config"
)

// Server encapsulates all dependencies for the GaiYa API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Authenticator  Authenticator   // Resolves tokens to Actors; injected for testability.
	RateLimitStore RateLimitStore  // Sliding-window counters; nil disables limiting.
	HealthProbes   []HealthProbe   // Subsystem checks behind GET /health.
	RouteRegistrars []RouteRegistrar

	// Cleanup hooks run in order during Shutdown (pool close, log flush).
	shutdownHooks []func(ctx context.Context) error

	// Internal router
	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares
// the server for route mounting. It performs a "fail-fast" check on
// critical configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// OnShutdown registers a cleanup hook to run during Shutdown.
func (s *Server) OnShutdown(hook func(ctx context.Context) error) {
	s.shutdownHooks = append(s.shutdownHooks, hook)
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources by running
// the registered cleanup hooks in order. The first hook error aborts the
// sequence and is returned to the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for _, hook := range s.shutdownHooks {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			return fmt.Errorf("running shutdown hook: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}

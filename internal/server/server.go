// Package server exposes a small read-only HTTP surface over a running
// guard: health, version, and per-key limiter usage. It never proxies
// provider traffic; admission happens in-process at the call site.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/config"
	"github.com/quotaguard/quotaguard/internal/server/handlers"
	servermw "github.com/quotaguard/quotaguard/internal/server/middleware"
)

// VersionInfo carries build metadata injected at link time.
type VersionInfo struct {
	Name      string
	Version   string
	Commit    string
	BuildDate string
}

// Server is the introspection HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
	logger *zap.Logger
	health *handlers.HealthManager
}

// New wires the router: health, version, and limits endpoints behind
// request correlation, logging, and recovery middleware.
func New(cfg config.ServerConfig, logger *zap.Logger, source handlers.UsageSource, version VersionInfo) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	hm := handlers.NewHealthManager(version.Version)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.Logging(logger))
	r.Use(servermw.Recovery(logger))

	r.Get("/health", hm.HealthHandler)
	r.Get("/version", handlers.VersionHandler{
		Name:      version.Name,
		Version:   version.Version,
		Commit:    version.Commit,
		BuildDate: version.BuildDate,
	}.ServeHTTP)

	limits := handlers.LimitsHandler{Source: source}
	r.Get("/v1/limits", limits.List)
	r.Get("/v1/limits/{provider}", limits.List)

	return &Server{
		router: r,
		cfg:    cfg,
		logger: logger,
		health: hm,
	}
}

// RegisterChecker adds a named health check to the aggregate endpoint.
func (s *Server) RegisterChecker(name string, checker handlers.HealthChecker) {
	s.health.RegisterChecker(name, checker)
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  timeoutOr(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: timeoutOr(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting introspection server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down introspection server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Package ops serves the operational HTTP surface of the ingestor: a
// dependency health report and a breaker/build status view.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"weatheringest/internal/breaker"
	"weatheringest/internal/config"
	"weatheringest/internal/health"
)

const shutdownTimeout = 10 * time.Second

// BreakerSource exposes the breaker state shown on /status.
type BreakerSource interface {
	Snapshot() breaker.Snapshot
}

// Config wires the server's dependencies.
type Config struct {
	Addr          string
	Service       string
	Environment   string
	Build         config.BuildInfo
	Probes        []health.Probe
	HealthTimeout time.Duration
	Breaker       BreakerSource
	Logger        *slog.Logger
}

// Server is the ops HTTP server.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	router  *chi.Mux
	started time.Time
	now     func() time.Time
}

// NewServer builds the router and mounts the ops routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Breaker == nil {
		return nil, fmt.Errorf("breaker source must not be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8081"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "ops"),
		router:  chi.NewRouter(),
		started: time.Now(),
		now:     time.Now,
	}
	s.mountRoutes()
	return s, nil
}

func (s *Server) mountRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/status", s.HandleStatus)
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	s.logger.Info("ops server stopped")
	return nil
}

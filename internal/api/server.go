// Package api exposes the movierec engine to the surrounding application over
// HTTP.
//
// It exposes endpoints for aggregated operation status, preference
// load/save, completion checks, and state reset. The API integrates with the
// operation registry, the application state store, and the preference
// synchronizer.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/movierec/movierec/internal/appstate"
	"github.com/movierec/movierec/internal/operation"
	"github.com/movierec/movierec/internal/preferences"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// Opts holds server configuration options.
type Opts struct {
	Addr string
}

// Option configures the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server serves the engine's HTTP surface.
type Server struct {
	registry *operation.Registry
	state    *appstate.Store
	syncer   *preferences.Synchronizer
	httpSrv  *http.Server
}

// NewServer creates an HTTP server wired to the engine's services.
func NewServer(registry *operation.Registry, state *appstate.Store, syncer *preferences.Synchronizer, options ...Option) *Server {
	opts := Opts{Addr: DefaultAddr}
	for _, opt := range options {
		opt(&opts)
	}

	s := &Server{
		registry: registry,
		state:    state,
		syncer:   syncer,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/preferences", s.preferencesHandler)
	mux.HandleFunc("/preferences/complete", s.completeHandler)
	mux.HandleFunc("/state/reset", s.resetHandler)

	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	slog.Info("Server.Start: listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping")
	return s.httpSrv.Shutdown(ctx)
}

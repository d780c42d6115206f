// Package api provides HTTP handlers and the main API server logic for
// RecoveryCompanion.
//
// It exposes the streaming turn endpoint and the phase status endpoint,
// backed by the flow engine.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/flow"
	"github.com/BTreeMap/RecoveryCompanion/internal/models"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Server timeouts. The turn endpoint streams model output, so the write
// timeout has to cover a full generation.
const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 5 * time.Minute
	defaultIdleTimeout  = 120 * time.Second
)

// TurnEngine is the engine surface the server depends on.
type TurnEngine interface {
	ProcessTurn(ctx context.Context, userID, conversationID, message string, onDelta func(delta string) error) (*flow.TurnResult, error)
	PhaseStatus(ctx context.Context, userID string) (*models.PhaseStatus, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the flow engine to HTTP endpoints.
type Server struct {
	engine     TurnEngine
	addr       string
	httpServer *http.Server
}

// NewServer creates an API server around the given engine.
func NewServer(engine TurnEngine, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("Creating API server", "addr", cfg.Addr)
	return &Server{engine: engine, addr: cfg.Addr}
}

// Handler returns the routed handler, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/turn", s.turnHandler)
	mux.HandleFunc("/phase", s.phaseHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
	slog.Info("API server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

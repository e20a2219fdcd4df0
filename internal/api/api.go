// Package api exposes the NudgeLoop HTTP surface.
//
// It provides RESTful endpoints for context submission, micro-intervention
// generation, window prediction, intervention history, effectiveness
// reporting, and trigger library reloads, plus Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/engine"
	"github.com/NudgeLoop/NudgeLoop/internal/messaging"
	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server configuration defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// snapshotCache keeps the most recent context snapshot per user. It feeds
// the proactive evaluation sweep.
type snapshotCache struct {
	mu     sync.RWMutex
	latest map[string]models.ContextSnapshot
}

func newSnapshotCache() *snapshotCache {
	return &snapshotCache{latest: make(map[string]models.ContextSnapshot)}
}

func (c *snapshotCache) Put(snap models.ContextSnapshot) {
	c.mu.Lock()
	c.latest[snap.UserID] = snap
	c.mu.Unlock()
}

// LatestSnapshots implements engine.SnapshotSource.
func (c *snapshotCache) LatestSnapshots() []models.ContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ContextSnapshot, 0, len(c.latest))
	for _, snap := range c.latest {
		out = append(out, snap)
	}
	return out
}

// Server wires the engine and messaging service to HTTP handlers.
type Server struct {
	engine     *engine.Engine
	msgService messaging.Service
	snapshots  *snapshotCache
	httpServer *http.Server
}

// NewServer creates the API server around an engine and its transport.
func NewServer(eng *engine.Engine, msgService messaging.Service, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		engine:     eng,
		msgService: msgService,
		snapshots:  newSnapshotCache(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", s.evaluateHandler)
	mux.HandleFunc("POST /v1/micro", s.microHandler)
	mux.HandleFunc("GET /v1/users/{id}/windows", s.windowsHandler)
	mux.HandleFunc("GET /v1/users/{id}/interventions", s.interventionsHandler)
	mux.HandleFunc("POST /v1/interventions/{id}/effectiveness", s.effectivenessHandler)
	mux.HandleFunc("POST /v1/triggers/reload", s.reloadTriggersHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Twilio delivers inbound SMS replies by webhook.
	if twilioSvc, ok := msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("POST /webhooks/twilio", twilioSvc.TwilioWebhookHandler)
		slog.Debug("Twilio webhook endpoint registered")
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	return s
}

// Snapshots exposes the per-user snapshot cache for the proactive loop.
func (s *Server) Snapshots() engine.SnapshotSource {
	return s.snapshots
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

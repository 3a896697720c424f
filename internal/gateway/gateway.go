// Package gateway exposes the HTTP surface: the chat endpoints (SSE,
// WebSocket and synchronous), transcript history, per-user settings,
// connection testing, health and metrics. It is a leaf package; wiring
// happens in core.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sibylhq/sibyl/internal/breaker"
	"github.com/sibylhq/sibyl/internal/observe"
	"github.com/sibylhq/sibyl/internal/pipeline"
	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/store"
)

// Config holds the HTTP listener settings.
type Config struct {
	// Bind is the listen address, host:port.
	Bind string

	// CORSOrigins lists the origins allowed to call the API from a
	// browser. Empty means same-origin only; "*" allows any.
	CORSOrigins []string

	// ShutdownGrace is how long in-flight requests get to finish on
	// shutdown.
	ShutdownGrace time.Duration

	// ReadHeaderTimeout bounds header parsing. The write side carries no
	// server-level timeout: SSE and WebSocket streams stay open as long
	// as the query runs.
	ReadHeaderTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = ":8080"
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 200 * time.Millisecond
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
}

// QueryRunner is the slice of the pipeline the gateway drives.
type QueryRunner interface {
	Answer(ctx context.Context, q pipeline.Query) (pipeline.Response, error)
	RunStream(ctx context.Context, q pipeline.Query, sink pipeline.Sink) error
}

// ConnTester probes credentials on demand for POST /test-connection.
// Implemented by core, which knows how to build adapters and model clients.
type ConnTester interface {
	TestLLM(ctx context.Context, s store.Settings) error
	TestSource(ctx context.Context, id source.ID, creds source.CredentialsBlob) error
}

// Deps are the collaborators the gateway serves. OnSettingsChanged may be
// nil; when set it runs after every successful settings write so the core
// can rebuild credentialed adapters.
type Deps struct {
	Runner      QueryRunner
	Settings    store.SettingsStore
	Transcripts store.TranscriptStore
	Registry    *source.Registry
	Breakers    *breaker.Set
	Tester      ConnTester
	Metrics     *observe.Metrics

	OnSettingsChanged func(ctx context.Context, userID string, s store.Settings) error
}

// Gateway is the HTTP server.
type Gateway struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	server *http.Server
}

// New creates a Gateway. The server is not listening until Start.
func New(cfg Config, deps Deps, logger *slog.Logger) *Gateway {
	cfg.defaults()
	return &Gateway{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "gateway"),
	}
}

// Start binds the listener and serves in the background. Returns once the
// listener is accepting, so callers can rely on the port being open.
func (g *Gateway) Start(ctx context.Context) error {
	g.server = &http.Server{
		Addr:              g.cfg.Bind,
		Handler:           g.Router(),
		ReadHeaderTimeout: g.cfg.ReadHeaderTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.cfg.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once Start has run.
func (g *Gateway) Addr() string {
	if g.server == nil {
		return g.cfg.Bind
	}
	return g.server.Addr
}

// Stop shuts the server down, giving in-flight requests the configured
// grace period.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.cfg.ShutdownGrace)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

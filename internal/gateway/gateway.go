// Package gateway exposes the execution engine over HTTP. It serves the
// session and call API, health and Prometheus metrics, and a WebSocket bridge
// that lets a UI client answer permission prompts. It binds to loopback by
// default.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/security"
)

// ErrInsecureBind is returned when the gateway would serve the API on a
// non-loopback address without authentication.
var ErrInsecureBind = errors.New("gateway: auth is required when binding to a non-loopback address")

// Options holds the gateway's collaborators. Engine is required.
type Options struct {
	Config  Config
	Engine  *engine.Engine
	Hub     *PromptHub
	Audit   *security.AuditLogger
	Limiter *security.RateLimiter

	// Gatherer serves /metrics. Registerer receives the HTTP metrics.
	// Both default to the global Prometheus registry.
	Gatherer   prometheus.Gatherer
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

// Gateway is the HTTP front end of the engine.
type Gateway struct {
	config    Config
	engine    *engine.Engine
	hub       *PromptHub
	audit     *security.AuditLogger
	limiter   *security.RateLimiter
	gatherer  prometheus.Gatherer
	metrics   *httpMetrics
	logger    *slog.Logger
	startedAt time.Time

	// base outlives individual requests; asynchronous calls run under it.
	base   context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New validates opts and builds a gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Engine == nil {
		return nil, errors.New("gateway: engine is required")
	}
	cfg := opts.Config
	cfg.defaults()

	host, _, err := net.SplitHostPort(cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid bind address %q: %w", cfg.Bind, err)
	}
	if !cfg.Auth.IsConfigured() && !isLoopback(host) {
		return nil, ErrInsecureBind
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewPromptHub(opts.Logger)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	base, cancel := context.WithCancel(context.Background())
	return &Gateway{
		config:    cfg,
		engine:    opts.Engine,
		hub:       opts.Hub,
		audit:     opts.Audit,
		limiter:   opts.Limiter,
		gatherer:  opts.Gatherer,
		metrics:   newHTTPMetrics(opts.Registerer),
		logger:    opts.Logger,
		startedAt: time.Now(),
		base:      base,
		cancel:    cancel,
	}, nil
}

// Config returns the effective configuration.
func (g *Gateway) Config() Config {
	return g.config
}

// Hub returns the prompt hub.
func (g *Gateway) Hub() *PromptHub {
	return g.hub
}

// Handler returns the routed HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:      g.Handler(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}
	g.mu.Lock()
	g.server = srv
	g.listener = ln
	g.mu.Unlock()

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String(), "auth", g.config.Auth.IsConfigured())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the gateway listens on, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop shuts the server down gracefully within the configured timeout and
// cancels asynchronous calls still running.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.server
	g.mu.Unlock()

	g.hub.Close()

	var err error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
		defer cancel()
		g.logger.Info("gateway shutting down")
		err = srv.Shutdown(shutdownCtx)
	}

	g.cancel()
	g.calls.Wait()
	return err
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Package engine drives tool calls from receipt to a single outcome. It owns
// sessions, validates arguments, consults the permission manager, bounds
// concurrency and time, and reclaims processes left behind by abandoned calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/process"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

// Default limits.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxConcurrent  = 4
	DefaultMaxOutputBytes = 1 << 20
	DefaultMaxFileSize    = 50_000_000
	DefaultRetainedCalls  = 256
	DefaultReapGrace      = 5 * time.Second
)

const tracerName = "github.com/flemzord/toolgate/internal/engine"

// Limits bounds the resources a session's calls may use.
type Limits struct {
	DefaultTimeout   time.Duration
	MaxConcurrent    int
	MaxOutputBytes   int
	MaxFileSize      int64
	MaxArgumentBytes int
	MaxJSONDepth     int

	// RetainedCalls is how many finished calls a session keeps for Outcome
	// and Cancel lookups.
	RetainedCalls int

	// ToolTimeouts overrides the time budget per tool name.
	ToolTimeouts map[string]time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.DefaultTimeout <= 0 {
		l.DefaultTimeout = DefaultTimeout
	}
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = DefaultMaxConcurrent
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = DefaultMaxFileSize
	}
	if l.RetainedCalls <= 0 {
		l.RetainedCalls = DefaultRetainedCalls
	}
	l.ToolTimeouts = maps.Clone(l.ToolTimeouts)
	return l
}

// Defaults is the configuration snapshot new sessions are built from.
type Defaults struct {
	Workspace   string
	DeniedPaths []string
	Yolo        bool
	Modes       permission.Modes
	Env         map[string]string

	// Secrets are redacted from environment values handed to tools.
	Secrets []string

	Limits Limits
}

// Config holds the engine's collaborators. Registry is required.
type Config struct {
	Registry  *tool.Registry
	Validator *security.Validator
	Manager   *permission.Manager
	Processes *process.Table
	Audit     *security.AuditLogger
	Limiter   *security.RateLimiter
	Metrics   *Metrics
	Tracer    trace.Tracer
	Resolver  security.Resolver
	Defaults  Defaults

	// ReapGrace bounds how long an abandoned tool gets to return after its
	// processes were killed.
	ReapGrace time.Duration

	Logger *slog.Logger
}

// Engine is the entry point for tool calls. It is safe for concurrent use.
type Engine struct {
	registry  *tool.Registry
	validator *security.Validator
	manager   *permission.Manager
	procs     *process.Table
	audit     *security.AuditLogger
	limiter   *security.RateLimiter
	metrics   *Metrics
	tracer    trace.Tracer
	resolver  security.Resolver
	reapGrace time.Duration
	logger    *slog.Logger

	mu       sync.RWMutex
	defaults Defaults
	sessions map[string]*Session
}

// New creates an engine and seals the registry.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validator == nil {
		cfg.Validator = security.NewValidator(cfg.Resolver, security.CommandRules{})
	}
	if cfg.Manager == nil {
		cfg.Manager = permission.NewManager(permission.Config{Logger: cfg.Logger})
	}
	if cfg.Processes == nil {
		cfg.Processes = process.NewTable(cfg.Logger)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.ReapGrace <= 0 {
		cfg.ReapGrace = DefaultReapGrace
	}
	cfg.Registry.Seal()

	return &Engine{
		registry:  cfg.Registry,
		validator: cfg.Validator,
		manager:   cfg.Manager,
		procs:     cfg.Processes,
		audit:     cfg.Audit,
		limiter:   cfg.Limiter,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		resolver:  cfg.Resolver,
		reapGrace: cfg.ReapGrace,
		logger:    cfg.Logger,
		defaults:  cfg.Defaults,
		sessions:  make(map[string]*Session),
	}, nil
}

// Registry returns the sealed tool registry.
func (e *Engine) Registry() *tool.Registry {
	return e.registry
}

// Manager returns the permission manager.
func (e *Engine) Manager() *permission.Manager {
	return e.manager
}

// SetDefaults replaces the snapshot used by sessions opened afterwards.
// Open sessions keep the snapshot they were built from.
func (e *Engine) SetDefaults(d Defaults) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = d
}

// SessionOptions customizes one session on top of the engine defaults.
type SessionOptions struct {
	// ID names the session. A random ID is generated when empty.
	ID string

	// Workspace replaces the default workspace root.
	Workspace string

	// Yolo enables yolo mode for this session in addition to the default.
	Yolo bool

	// DeniedPaths are added to the default denied paths.
	DeniedPaths []string

	// Env is merged over the default environment overrides.
	Env map[string]string
}

// OpenSession creates a session from the current defaults and opts.
func (e *Engine) OpenSession(opts SessionOptions) (*Session, error) {
	e.mu.RLock()
	d := e.defaults
	e.mu.RUnlock()

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	workspace := d.Workspace
	if opts.Workspace != "" {
		workspace = opts.Workspace
	}
	modes := d.Modes

	st, err := permission.NewState(permission.StateConfig{
		WorkspaceRoot: workspace,
		DeniedPaths:   append(slices.Clone(d.DeniedPaths), opts.DeniedPaths...),
		Yolo:          d.Yolo || opts.Yolo,
		Modes:         &modes,
		Resolver:      e.resolver,
	})
	if err != nil {
		return nil, err
	}

	env := maps.Clone(d.Env)
	if env == nil {
		env = make(map[string]string, len(opts.Env))
	}
	maps.Copy(env, opts.Env)

	s := newSession(e, id, st, d.Limits.withDefaults(), security.SanitizedEnv(nil, env, d.Secrets...))

	e.mu.Lock()
	if _, exists := e.sessions[id]; exists {
		e.mu.Unlock()
		s.cancel()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	e.sessions[id] = s
	e.mu.Unlock()

	e.audit.Log(security.AuditEvent{
		Type:      security.EventSessionOpen,
		SessionID: id,
		Detail:    st.WorkspaceRoot(),
	})
	e.logger.Info("session opened", "session_id", id, "workspace", st.WorkspaceRoot(), "yolo", st.Yolo())
	return s, nil
}

// Session returns the open session with the given ID.
func (e *Engine) Session(id string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Sessions returns a summary of every open session, ordered by ID.
func (e *Engine) Sessions() []SessionInfo {
	e.mu.RLock()
	list := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		list = append(list, s)
	}
	e.mu.RUnlock()

	infos := make([]SessionInfo, len(list))
	for i, s := range list {
		infos[i] = s.Info()
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return infos
}

// CloseSession cancels the session's in-flight calls, waits for them to
// finish and forgets the session. Other sessions are unaffected.
func (e *Engine) CloseSession(id string) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	s.close()
	e.limiter.Forget(id)
	e.audit.Log(security.AuditEvent{Type: security.EventSessionClose, SessionID: id})
	e.logger.Info("session closed", "session_id", id)
	return nil
}

// Execute routes req to its session.
func (e *Engine) Execute(ctx context.Context, req tool.Request) (tool.Response, error) {
	s, err := e.Session(req.SessionID)
	if err != nil {
		return tool.Failure(err.Error(), nil), err
	}
	return s.Execute(ctx, req)
}

// Sweep closes sessions with no call in flight that have been idle for at
// least idle. It returns the number of sessions closed.
func (e *Engine) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	e.mu.RLock()
	var stale []string
	for id, s := range e.sessions {
		if s.idleSince(cutoff) {
			stale = append(stale, id)
		}
	}
	e.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if err := e.CloseSession(id); err == nil {
			n++
		}
	}
	if n > 0 {
		e.logger.Info("idle sessions swept", "count", n, "idle", idle)
	}
	return n
}

// Shutdown closes every session and kills any process still tracked.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	ids := slices.Collect(maps.Keys(e.sessions))
	e.mu.RUnlock()

	for _, id := range ids {
		_ = e.CloseSession(id)
	}
	if n := e.procs.KillAll(); n > 0 {
		e.logger.Warn("killed leftover processes at shutdown", "count", n)
	}
}

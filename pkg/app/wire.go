package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flemzord/toolgate/internal/builtin"
	"github.com/flemzord/toolgate/internal/config"
	"github.com/flemzord/toolgate/internal/cron"
	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/process"
	"github.com/flemzord/toolgate/internal/reload"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/telemetry"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/modules/audit/sqlite"
)

const engineTracer = "github.com/flemzord/toolgate/internal/engine"

// App holds the wired components of one toolgate process.
type App struct {
	Config     *config.Config
	ConfigPath string
	DataDir    string
	Logger     *slog.Logger
	Redactor   *security.Redactor

	Engine     *engine.Engine
	Audit      *security.AuditLogger
	AuditStore *sqlite.Store
	Limiter    *security.RateLimiter
	Metrics    *prometheus.Registry
	Telemetry  *telemetry.Provider

	auditFile *os.File
	scheduler *cron.Scheduler
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	prompter func(*slog.Logger) permission.Prompter
}

// WithPrompter sets the prompter the permission manager asks when a call
// needs approval. fn receives the application logger. Without a prompter
// such calls are denied.
func WithPrompter(fn func(*slog.Logger) permission.Prompter) Option {
	return func(o *buildOptions) { o.prompter = fn }
}

// Build loads the configuration named by p and wires every component. The
// caller owns the returned App and must Close it.
func Build(ctx context.Context, p Params, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	cfg, cfgPath, err := LoadConfig(p.ConfigPath)
	if err != nil {
		return nil, err
	}

	redactor := security.NewRedactor()
	redactor.SetLiterals(cfg.Secrets())

	a := &App{
		Config:     cfg,
		ConfigPath: cfgPath,
		DataDir:    p.DataDir,
		Redactor:   redactor,
		Limiter:    security.NewRateLimiter(cfg.RateLimits()),
		Metrics:    prometheus.NewRegistry(),
	}
	if a.DataDir == "" {
		a.DataDir = DefaultDataDir()
	}
	a.Logger = NewLogger(p.logOutput(), p.LogFormat, p.LogLevel, redactor)

	if err := a.wire(ctx, p, bo); err != nil {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.Logger.Warn("cleanup after failed start", "error", cerr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, p Params, bo buildOptions) error {
	cfg := a.Config

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: p.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	a.Telemetry = tp

	if err := a.openAudit(ctx); err != nil {
		return err
	}

	registry, err := NewToolRegistry(cfg)
	if err != nil {
		return err
	}

	var prompter permission.Prompter
	if bo.prompter != nil {
		prompter = bo.prompter(a.Logger)
	}
	manager := permission.NewManager(permission.Config{
		Prompter:        prompter,
		Modes:           cfg.Modes(),
		ApprovalTimeout: cfg.Limits.ApprovalTimeout,
		LogDecisions:    cfg.LogDecisions,
		Logger:          a.Logger,
	})

	a.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.Engine, err = engine.New(engine.Config{
		Registry:  registry,
		Validator: security.NewValidator(nil, cfg.Validator),
		Manager:   manager,
		Processes: process.NewTable(a.Logger),
		Audit:     a.Audit,
		Limiter:   a.Limiter,
		Metrics:   engine.NewMetrics(a.Metrics),
		Tracer:    tp.Tracer(engineTracer),
		Defaults:  cfg.EngineDefaults(),
		Logger:    a.Logger,
	})
	return err
}

// openAudit opens the configured audit sinks. Relative paths are resolved
// against the data directory.
func (a *App) openAudit(ctx context.Context) error {
	acfg := security.AuditLoggerConfig{
		Redactor: a.Redactor,
		Logger:   a.Logger,
	}

	if path := a.Config.Audit.Path; path != "" {
		path = a.dataPath(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		a.auditFile = f
		acfg.Writer = f
	}

	if path := a.Config.Audit.SQLite; path != "" {
		store, err := sqlite.Open(ctx, sqlite.Config{Path: a.dataPath(path)})
		if err != nil {
			return err
		}
		a.AuditStore = store
		acfg.Store = store
	}

	a.Audit = security.NewAuditLogger(acfg)
	return nil
}

func (a *App) dataPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.DataDir, p)
}

// NewToolRegistry returns a registry holding the builtin tools configured
// by cfg.
func NewToolRegistry(cfg *config.Config) (*tool.Registry, error) {
	reg := tool.NewRegistry()
	opts := builtin.Options{Sandbox: security.NewSandbox(cfg.Sandbox)}
	if err := builtin.Register(reg, opts); err != nil {
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}
	return reg, nil
}

// StartScheduler registers the maintenance jobs and starts them. Idle
// sessions are swept only when sweep is set, since a long-lived single
// session (MCP) must not be closed under its client.
func (a *App) StartScheduler(sweep bool) error {
	s := cron.NewScheduler(a.Logger)
	if idle := a.Config.Gateway.SessionIdle; sweep && idle > 0 {
		if err := s.RegisterJob(&cron.SessionSweepJob{
			Sweeper: a.Engine,
			MaxIdle: idle,
			Logger:  a.Logger,
		}); err != nil {
			return err
		}
	}
	if a.AuditStore != nil && a.Config.Audit.Retention > 0 {
		if err := s.RegisterJob(&cron.AuditPruneJob{
			Store:        a.AuditStore,
			Retention:    a.Config.Audit.Retention,
			Logger:       a.Logger,
			ScheduleExpr: a.Config.Audit.PruneSchedule,
		}); err != nil {
			return err
		}
	}
	if len(s.Jobs()) == 0 {
		return nil
	}
	if err := s.Start(); err != nil {
		return err
	}
	a.scheduler = s
	return nil
}

// ReloadHandler returns a handler that applies a reloaded config file to
// the engine and the log redactor.
func (a *App) ReloadHandler() *reload.Handler {
	return reload.NewHandler(a.Engine, a.Logger,
		reload.WithAudit(a.Audit),
		reload.OnReload(func(cfg *config.Config) {
			a.Redactor.SetLiterals(cfg.Secrets())
		}),
	)
}

// Close stops the scheduler, closes every session, flushes traces and
// closes the audit sinks. Components that were never started are skipped.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop(ctx))
	}
	if a.Engine != nil {
		a.Engine.Shutdown()
	}
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	if a.AuditStore != nil {
		errs = append(errs, a.AuditStore.Close())
	}
	if a.auditFile != nil {
		errs = append(errs, a.auditFile.Close())
	}
	return errors.Join(errs...)
}

func (p Params) logOutput() io.Writer {
	if p.LogOutput != nil {
		return p.LogOutput
	}
	return os.Stderr
}

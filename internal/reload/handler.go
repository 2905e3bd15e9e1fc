package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/toolgate/internal/config"
	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/security"
)

// Target receives the configuration snapshot for sessions opened after a
// reload. Open sessions keep the snapshot they were created with.
type Target interface {
	SetDefaults(engine.Defaults)
}

// Handler reloads the configuration file and applies it to a Target.
type Handler struct {
	target   Target
	audit    *security.AuditLogger
	logger   *slog.Logger
	onReload func(*config.Config)
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithAudit records a config_change event for every reload attempt.
func WithAudit(a *security.AuditLogger) HandlerOption {
	return func(h *Handler) { h.audit = a }
}

// OnReload registers a callback run after a successful reload, for
// collaborators that cache config values of their own.
func OnReload(fn func(*config.Config)) HandlerOption {
	return func(h *Handler) { h.onReload = fn }
}

// NewHandler creates a reload handler.
func NewHandler(target Target, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{target: target, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleReload loads a fresh config from disk, validates it, and applies it.
// An invalid file leaves the running configuration untouched.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		h.record(configPath, "rejected", err.Error())
		return fmt.Errorf("reloading %s: %w", configPath, err)
	}

	h.target.SetDefaults(cfg.EngineDefaults())
	if h.onReload != nil {
		h.onReload(cfg)
	}
	h.record(configPath, "applied", "")
	h.logger.Info("configuration reloaded", "path", configPath)
	return nil
}

// Run applies every event from w until ctx is done. Failed reloads are
// logged and the previous configuration stays active.
func (h *Handler) Run(ctx context.Context, w *Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.Events():
			if err := h.HandleReload(ctx, ev.ConfigPath); err != nil {
				h.logger.Error("configuration reload failed", "error", err)
			}
		}
	}
}

func (h *Handler) record(path, outcome, detail string) {
	h.audit.Log(security.AuditEvent{
		Type:     security.EventConfigChange,
		Outcome:  outcome,
		Detail:   detail,
		Metadata: map[string]string{"path": path},
	})
}

// Package app wires toolgate's components from a configuration file and
// runs them as an HTTP gateway, an MCP stdio server or a one-shot call.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/toolgate/internal/config"
	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/gateway"
	"github.com/flemzord/toolgate/internal/mcpserver"
	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/reload"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

// closeTimeout bounds how long Close may spend flushing and stopping.
const closeTimeout = 10 * time.Second

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Params configures how the application is built.
type Params struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, config.ResolvePath searches the standard locations.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir holds relative audit paths. Defaults to DefaultDataDir.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// LogFormat is "text" (default) or "json".
	LogFormat string

	// LogOutput receives log records. Defaults to os.Stderr.
	LogOutput io.Writer
}

// NewLogger builds the process logger. Every record passes through the
// redactor before it reaches w.
func NewLogger(w io.Writer, format string, level slog.Level, redactor *security.Redactor) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if format == LogFormatJSON {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

// LoadConfig resolves, loads and validates the configuration file. It
// returns the path that was loaded.
func LoadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.ResolvePath(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/toolgate if set, otherwise ~/.local/share/toolgate.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "toolgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "toolgate")
}

// Serve runs the HTTP gateway until ctx is cancelled or a shutdown signal
// arrives. SIGHUP and file-change events reload the configuration for
// sessions opened afterwards.
func Serve(ctx context.Context, p Params) error {
	var hub *gateway.PromptHub
	a, err := Build(ctx, p, WithPrompter(func(l *slog.Logger) permission.Prompter {
		hub = gateway.NewPromptHub(l)
		return hub
	}))
	if err != nil {
		return err
	}
	defer closeApp(a)

	gw, err := gateway.New(gateway.Options{
		Config:     a.Config.Gateway,
		Engine:     a.Engine,
		Hub:        hub,
		Audit:      a.Audit,
		Limiter:    a.Limiter,
		Gatherer:   a.Metrics,
		Registerer: a.Metrics,
		Logger:     a.Logger,
	})
	if err != nil {
		return err
	}
	if err := a.StartScheduler(true); err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := gw.Stop(context.WithoutCancel(ctx)); err != nil {
			a.Logger.Warn("gateway shutdown", "error", err)
		}
	}()

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	var changes <-chan reload.Event
	watcher, err := reload.NewWatcher(reload.WatcherConfig{ConfigPath: a.ConfigPath, Logger: a.Logger})
	if err != nil {
		a.Logger.Warn("config watcher unavailable, reload on SIGHUP only", "error", err)
	} else {
		watcher.Start(watchCtx)
		defer watcher.Stop()
		changes = watcher.Events()
	}

	handler := a.ReloadHandler()

	// --- main event loop ---
	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("context cancelled, shutting down")
			return nil
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				a.Logger.Info("shutdown signal received", "signal", sig.String())
				return nil
			}
			a.Logger.Info("SIGHUP received, reloading configuration")
			if err := handler.HandleReload(watchCtx, a.ConfigPath); err != nil {
				a.Logger.Error("reload failed", "error", err)
			}
		case evt := <-changes:
			a.Logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := handler.HandleReload(watchCtx, evt.ConfigPath); err != nil {
				a.Logger.Error("reload failed", "error", err)
			}
		}
	}
}

// ServeMCP exposes every tool over MCP on in and out until the client
// disconnects, ctx is cancelled or a shutdown signal arrives. Approvals are
// requested from the client through elicitation.
func ServeMCP(ctx context.Context, p Params, in io.Reader, out io.Writer) error {
	elicitor := mcpserver.NewElicitor()
	a, err := Build(ctx, p, WithPrompter(func(*slog.Logger) permission.Prompter {
		return elicitor
	}))
	if err != nil {
		return err
	}
	defer closeApp(a)

	srv, err := mcpserver.New(a.Engine, mcpserver.Options{
		Name:     "toolgate",
		Version:  p.Version,
		Elicitor: elicitor,
		Logger:   a.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			a.Logger.Debug("closing mcp session", "error", err)
		}
	}()
	if err := a.StartScheduler(false); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.ServeStdio(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// CallParams describes a one-shot tool call.
type CallParams struct {
	ToolName  string
	Arguments json.RawMessage
	Yolo      bool
	Prompter  permission.Prompter
}

// RunTool executes one call through the full pipeline in a fresh session
// and returns its outcome.
func RunTool(ctx context.Context, p Params, cp CallParams) (engine.Outcome, error) {
	a, err := Build(ctx, p, WithPrompter(func(*slog.Logger) permission.Prompter {
		return cp.Prompter
	}))
	if err != nil {
		return engine.Outcome{}, err
	}
	defer closeApp(a)

	s, err := a.Engine.OpenSession(engine.SessionOptions{Yolo: cp.Yolo})
	if err != nil {
		return engine.Outcome{}, err
	}
	req := tool.Request{
		CallID:    uuid.NewString(),
		SessionID: s.ID(),
		ToolName:  cp.ToolName,
		Arguments: cp.Arguments,
	}
	if _, err := s.Execute(ctx, req); err != nil {
		a.Logger.Debug("call did not succeed", "call_id", req.CallID, "error", err)
	}
	o, ok, err := s.Outcome(req.CallID)
	if err != nil {
		return engine.Outcome{}, err
	}
	if !ok {
		return engine.Outcome{}, fmt.Errorf("call %s did not finish", req.CallID)
	}
	return o, nil
}

// ListTools returns the descriptors of the tools a config would register.
// A nil config lists the builtin tools with default options.
func ListTools(cfg *config.Config) ([]tool.Descriptor, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	reg, err := NewToolRegistry(cfg)
	if err != nil {
		return nil, err
	}
	return reg.Descriptors(), nil
}

func closeApp(a *App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("shutdown incomplete", "error", err)
		return
	}
	a.Logger.Info("shutdown complete")
}

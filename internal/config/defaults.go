package config

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/security"
)

// RestrictedPaths are system locations denied to every session on top of
// the configured denied paths.
var RestrictedPaths = []string{"/etc", "/sys", "/proc", "/dev", "/root", "/boot"}

// Modes returns the per-tool permission overrides.
func (c *Config) Modes() permission.Modes {
	m := permission.Modes{Tools: make(map[string]permission.Mode, len(c.Tools))}
	for name, tc := range c.Tools {
		if tc.Mode != "" {
			m.Tools[name] = tc.Mode
		}
		rules := permission.PathRules{
			Denied:  slices.Clone(tc.DeniedPaths),
			Allowed: slices.Clone(tc.AllowedPaths),
		}
		if !rules.Empty() {
			if m.Paths == nil {
				m.Paths = make(map[string]permission.PathRules)
			}
			m.Paths[name] = rules
		}
	}
	return m
}

// EngineLimits converts the limits section. Zero values fall back to the
// engine defaults.
func (c *Config) EngineLimits() engine.Limits {
	l := engine.Limits{
		DefaultTimeout:   c.Limits.DefaultTimeout,
		MaxConcurrent:    c.Limits.MaxConcurrent,
		MaxOutputBytes:   c.Limits.MaxOutputBytes,
		MaxFileSize:      c.Limits.MaxFileSize,
		MaxArgumentBytes: c.Limits.MaxArgumentBytes,
		MaxJSONDepth:     c.Limits.MaxJSONDepth,
		RetainedCalls:    c.Limits.RetainedCalls,
	}
	for name, tc := range c.Tools {
		if tc.Timeout > 0 {
			if l.ToolTimeouts == nil {
				l.ToolTimeouts = make(map[string]time.Duration)
			}
			l.ToolTimeouts[name] = tc.Timeout
		}
	}
	return l
}

// EngineDefaults builds the snapshot new sessions are created from.
func (c *Config) EngineDefaults() engine.Defaults {
	return engine.Defaults{
		Workspace:   c.Workspace,
		DeniedPaths: c.deniedPaths(),
		Yolo:        c.Yolo,
		Modes:       c.Modes(),
		Env:         c.Env,
		Secrets:     c.Secrets(),
		Limits:      c.EngineLimits(),
	}
}

// RateLimits returns the rate limiter configuration.
func (c *Config) RateLimits() security.RateLimitConfig {
	return security.RateLimitConfig{
		ToolCallsPerMin: c.Limits.CallsPerMinute,
		AuthPerMin:      c.Limits.AuthPerMinute,
	}
}

// Secrets returns the credential values that must never reach logs, audit
// records or child environments.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Gateway.Auth.BearerToken, c.Gateway.Auth.BasicPass} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// deniedPaths merges the configured paths with the restricted system paths.
// A restricted path that contains the workspace is left out, otherwise every
// call would be denied.
func (c *Config) deniedPaths() []string {
	out := slices.Clone(c.DeniedPaths)
	ws, err := filepath.Abs(c.Workspace)
	if err != nil {
		ws = c.Workspace
	}
	for _, p := range RestrictedPaths {
		if security.Within(ws, p) || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

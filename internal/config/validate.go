package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"

	"github.com/flemzord/toolgate/internal/cron"
	"github.com/flemzord/toolgate/internal/permission"
)

// Validate checks the structural validity of a Config and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateWorkspace(cfg.Workspace)...)
	errs = append(errs, validateLimits(cfg.Limits)...)
	errs = append(errs, validateTools(cfg.Tools)...)
	errs = append(errs, validateRules(cfg)...)
	errs = append(errs, validateAudit(cfg.Audit)...)

	if cfg.Gateway.Bind != "" {
		if _, _, err := net.SplitHostPort(cfg.Gateway.Bind); err != nil {
			errs = append(errs, fmt.Errorf("config: gateway.bind: %w", err))
		}
	}
	if cfg.Gateway.Auth.BasicUser != "" && cfg.Gateway.Auth.BasicPass == "" {
		errs = append(errs, errors.New("config: gateway.auth.basic_user is set but basic_pass is empty"))
	}

	return errors.Join(errs...)
}

func validateWorkspace(ws string) []error {
	if ws == "" {
		return []error{errors.New("config: workspace is required")}
	}
	info, err := os.Stat(ws)
	if err != nil {
		return []error{fmt.Errorf("config: workspace: %w", err)}
	}
	if !info.IsDir() {
		return []error{fmt.Errorf("config: workspace %s is not a directory", ws)}
	}
	return nil
}

func validateLimits(l LimitsConfig) []error {
	var errs []error
	nonNegative := func(name string, v int64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("config: limits.%s must not be negative", name))
		}
	}
	nonNegative("default_timeout", int64(l.DefaultTimeout))
	nonNegative("max_concurrent", int64(l.MaxConcurrent))
	nonNegative("max_output_bytes", int64(l.MaxOutputBytes))
	nonNegative("max_file_size", l.MaxFileSize)
	nonNegative("max_argument_bytes", int64(l.MaxArgumentBytes))
	nonNegative("max_json_depth", int64(l.MaxJSONDepth))
	nonNegative("retained_calls", int64(l.RetainedCalls))
	nonNegative("calls_per_minute", int64(l.CallsPerMinute))
	nonNegative("auth_per_minute", int64(l.AuthPerMinute))
	nonNegative("approval_timeout", int64(l.ApprovalTimeout))
	return errs
}

func validateTools(tools map[string]ToolConfig) []error {
	var errs []error
	for name, tc := range tools {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("config: tools: empty tool name"))
			continue
		}
		if tc.Mode != "" && !tc.Mode.Valid() {
			errs = append(errs, fmt.Errorf("config: tools.%s.mode: unknown mode %q (want %s, %s or %s)",
				name, tc.Mode, permission.ModeAuto, permission.ModePrompt, permission.ModeDeny))
		}
		if tc.Timeout < 0 {
			errs = append(errs, fmt.Errorf("config: tools.%s.timeout must not be negative", name))
		}
		for i, p := range slices.Concat(tc.DeniedPaths, tc.AllowedPaths) {
			if strings.TrimSpace(p) == "" {
				errs = append(errs, fmt.Errorf("config: tools.%s: path rule %d is empty", name, i))
			}
		}
	}
	return errs
}

func validateRules(cfg *Config) []error {
	var errs []error
	for i, p := range cfg.DeniedPaths {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("config: denied_paths[%d] is empty", i))
		}
	}
	check := func(field string, values []string) {
		for i, v := range values {
			if v == "" {
				errs = append(errs, fmt.Errorf("config: validator.%s[%d] is empty", field, i))
			}
		}
	}
	check("dangerous_commands", cfg.Validator.Commands)
	check("dangerous_patterns", cfg.Validator.Patterns)
	check("metacharacters", cfg.Validator.Metacharacters)
	return errs
}

func validateAudit(a AuditConfig) []error {
	var errs []error
	if a.Retention < 0 {
		errs = append(errs, errors.New("config: audit.retention must not be negative"))
	}
	if a.Retention > 0 && a.SQLite == "" {
		errs = append(errs, errors.New("config: audit.retention requires audit.sqlite"))
	}
	if a.PruneSchedule != "" {
		if err := cron.ValidateSchedule(a.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("config: audit.prune_schedule: %w", err))
		}
	}
	return errs
}

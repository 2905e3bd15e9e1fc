// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for toolgate.
package config

import (
	"time"

	"github.com/flemzord/toolgate/internal/gateway"
	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/security"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	// An empty version is read as "1".
	Version string `yaml:"version"`

	// Workspace is the directory file tools are confined to. Relative paths
	// are resolved against the directory holding the config file.
	Workspace string `yaml:"workspace"`

	// Yolo auto-approves prompts. Hard denials still apply.
	Yolo bool `yaml:"yolo"`

	// DeniedPaths are blocked for every tool, inside or outside the workspace.
	DeniedPaths []string `yaml:"denied_paths"`

	// LogDecisions logs every permission decision at info level.
	LogDecisions bool `yaml:"log_decisions"`

	// Env is added to the sanitized environment of child processes.
	Env map[string]string `yaml:"env"`

	Limits    LimitsConfig           `yaml:"limits"`
	Tools     map[string]ToolConfig  `yaml:"tools"`
	Validator security.CommandRules  `yaml:"validator"`
	Sandbox   security.SandboxPolicy `yaml:"sandbox"`
	Audit     AuditConfig            `yaml:"audit"`
	Gateway   gateway.Config         `yaml:"gateway"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`
}

// LimitsConfig bounds what a session's calls may consume.
type LimitsConfig struct {
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	MaxOutputBytes   int           `yaml:"max_output_bytes"`
	MaxFileSize      int64         `yaml:"max_file_size"`
	MaxArgumentBytes int           `yaml:"max_argument_bytes"`
	MaxJSONDepth     int           `yaml:"max_json_depth"`
	RetainedCalls    int           `yaml:"retained_calls"`
	CallsPerMinute   int           `yaml:"calls_per_minute"`
	AuthPerMinute    int           `yaml:"auth_per_minute"`
	ApprovalTimeout  time.Duration `yaml:"approval_timeout"`
}

// ToolConfig holds per-tool overrides.
type ToolConfig struct {
	Mode    permission.Mode `yaml:"mode"`
	Timeout time.Duration   `yaml:"timeout"`

	// DeniedPaths and AllowedPaths confine the tool within the workspace.
	// Relative entries resolve against the workspace root.
	DeniedPaths  []string `yaml:"denied_paths"`
	AllowedPaths []string `yaml:"allowed_paths"`
}

// AuditConfig controls where audit events go and how long they are kept.
type AuditConfig struct {
	// Path is a JSONL file events are appended to.
	Path string `yaml:"path"`

	// SQLite is a database file events are stored in for querying.
	SQLite string `yaml:"sqlite"`

	// Retention is how long stored events are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is the cron expression of the retention job.
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector, e.g. localhost:4318.
	// Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

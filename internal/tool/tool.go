// Package tool defines the tool contract, the request/response model and the
// registry for toolgate. Tools are the security boundary of an agent runtime:
// every action reaching the operating system goes through a registered tool
// and is gated by the permission layer before it runs.
package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"
)

// Capability declares what kind of access a tool requires.
// Capabilities are independent axes, not a risk ordering.
// Every tool must declare at least one capability.
type Capability string

// Capability values.
const (
	CapRead      Capability = "read"
	CapWrite     Capability = "write"
	CapExecute   Capability = "execute"
	CapNetwork   Capability = "network"
	CapDangerous Capability = "dangerous"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapRead, CapWrite, CapExecute, CapNetwork, CapDangerous:
		return true
	default:
		return false
	}
}

// Tool is the interface that all toolgate tools implement.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	Description() string

	// Schema returns a JSON Schema describing the tool's parameters.
	Schema() json.RawMessage

	// Capabilities returns the access this tool requires.
	// Must return at least one capability.
	Capabilities() []Capability

	// Execute runs the tool with the given arguments and environment.
	// Implementations must return promptly once ctx is done.
	Execute(ctx context.Context, args json.RawMessage, env ExecutionEnv) (Response, error)
}

// Subjects are the parts of a call's arguments the safety validator inspects.
type Subjects struct {
	// Paths are filesystem paths as given by the model, relative or absolute.
	Paths []string

	// Command is an argument vector about to be executed.
	Command []string
}

// Subjecter is implemented by tools whose arguments name paths or commands.
// Tools that do not implement it are validated on capability alone.
type Subjecter interface {
	Subjects(args json.RawMessage) (Subjects, error)
}

// Timeouter is implemented by tools whose default time budget differs from
// the engine default. Operator overrides still take precedence.
type Timeouter interface {
	DefaultTimeout() time.Duration
}

// ProcessTracker records child processes spawned on behalf of a call so that
// they can be reclaimed when the call is abandoned.
type ProcessTracker interface {
	Track(callID string, pid int) (release func())
}

// ExecutionEnv provides the runtime environment for tool execution.
// It intentionally does not expose secrets or os.Environ.
type ExecutionEnv struct {
	// CallID identifies the call being executed.
	CallID string

	// SessionID identifies the owning session.
	SessionID string

	// Workspace is the canonical root directory for the session.
	Workspace string

	// Env is the sanitized environment handed to child processes.
	Env []string

	// MaxOutputBytes caps captured process output. Zero means the tool default.
	MaxOutputBytes int

	// MaxFileSize caps file reads and writes. Zero means the tool default.
	MaxFileSize int64

	// Processes tracks spawned children. May be nil.
	Processes ProcessTracker

	// Logger is scoped to the call. May be nil.
	Logger *slog.Logger
}

// Log returns the environment logger, falling back to slog.Default.
func (e ExecutionEnv) Log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Request is one model-issued tool call.
type Request struct {
	CallID    string          `json:"call_id"`
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Response is the result of a tool execution. Exactly one is produced per
// accepted request.
type Response struct {
	// Content is the model-readable result or error transcript.
	Content string `json:"content"`

	// Success is false when the underlying operation failed.
	Success bool `json:"success"`

	// Metadata carries structured details such as exit codes or byte counts.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Success builds a successful response.
func Success(content string, metadata map[string]any) Response {
	return Response{Content: content, Success: true, Metadata: metadata}
}

// Failure builds a failed response.
func Failure(content string, metadata map[string]any) Response {
	return Response{Content: content, Success: false, Metadata: metadata}
}

// Descriptor is the immutable, model-facing description of a registered tool.
type Descriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Schema       json.RawMessage `json:"parameters"`
	Capabilities []Capability    `json:"capabilities"`
}

// Has reports whether the descriptor declares capability c.
func (d Descriptor) Has(c Capability) bool {
	return slices.Contains(d.Capabilities, c)
}

// ReadOnly reports whether every declared capability is CapRead.
func (d Descriptor) ReadOnly() bool {
	if len(d.Capabilities) == 0 {
		return false
	}
	for _, c := range d.Capabilities {
		if c != CapRead {
			return false
		}
	}
	return true
}

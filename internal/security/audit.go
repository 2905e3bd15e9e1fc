package security

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// EventType categorizes audit events.
type EventType string

// Audit event types covering all security-relevant interactions.
const (
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventApproval     EventType = "approval"
	EventAuthSuccess  EventType = "auth_success"
	EventAuthFailure  EventType = "auth_failure"
	EventConfigChange EventType = "config_change"
	EventSessionOpen  EventType = "session_open"
	EventSessionClose EventType = "session_close"
	EventRateLimit    EventType = "rate_limit"
)

// AuditEvent is a single audit log entry. Tool events carry the call ID, the
// permission decision and, for results, the terminal outcome.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	CallID    string            `json:"call_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	ToolName  string            `json:"tool_name,omitempty"`
	Decision  string            `json:"decision,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Arguments are the raw tool-call arguments. Log moves them, redacted,
	// into Metadata["arguments"].
	Arguments json.RawMessage `json:"-"`
}

// AuditStore persists audit events, for example in a database.
type AuditStore interface {
	Append(ctx context.Context, event AuditEvent) error
}

// AuditLoggerConfig configures the audit logger.
type AuditLoggerConfig struct {
	// Writer is the destination for JSONL output. If nil, events are only
	// dispatched to OnEvent and Store.
	Writer io.Writer

	// Store, if non-nil, receives every event after redaction.
	Store AuditStore

	// Redactor, if non-nil, is applied to Detail and Metadata values before writing.
	Redactor *Redactor

	// OnEvent, if non-nil, is called for every event (used in tests and by
	// live event streams).
	OnEvent func(AuditEvent)

	// Logger reports sink failures. Defaults to slog.Default.
	Logger *slog.Logger

	// Now overrides time.Now for testing. Defaults to time.Now.
	Now func() time.Time
}

// AuditLogger writes structured audit events as JSONL with optional redaction.
// A nil *AuditLogger discards events.
type AuditLogger struct {
	writer      io.Writer
	store       AuditStore
	redactor    *Redactor
	onEvent     func(AuditEvent)
	logger      *slog.Logger
	now         func() time.Time
	mu          sync.Mutex
	writeErrors atomic.Int64
}

// NewAuditLogger creates an audit logger with the given configuration.
func NewAuditLogger(cfg AuditLoggerConfig) *AuditLogger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		writer:   cfg.Writer,
		store:    cfg.Store,
		redactor: cfg.Redactor,
		onEvent:  cfg.OnEvent,
		logger:   logger,
		now:      now,
	}
}

// Log records an audit event. The timestamp is set automatically.
// If a Redactor is configured, Detail, Metadata and Arguments are redacted.
// The caller's Metadata map is never mutated.
func (l *AuditLogger) Log(event AuditEvent) {
	if l == nil {
		return
	}
	event.Timestamp = l.now()

	if len(event.Metadata) > 0 {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if len(event.Arguments) > 0 {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string, 1)
		}
		if l.redactor != nil {
			event.Metadata["arguments"] = l.redactor.RedactArguments(event.Arguments)
		} else {
			event.Metadata["arguments"] = string(event.Arguments)
		}
		event.Arguments = nil
	}

	if l.redactor != nil {
		event.Detail = l.redactor.Redact(event.Detail)
		for k, v := range event.Metadata {
			event.Metadata[k] = l.redactor.Redact(v)
		}
	}

	// Dispatch under one lock so every sink sees the same order.
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.onEvent != nil {
		l.onEvent(event)
	}

	if l.writer != nil {
		if err := json.NewEncoder(l.writer).Encode(event); err != nil {
			l.writeErrors.Add(1)
		}
	}

	if l.store != nil {
		if err := l.store.Append(context.Background(), event); err != nil {
			l.writeErrors.Add(1)
			l.logger.Warn("audit store append failed", "type", event.Type, "call_id", event.CallID, "error", err)
		}
	}
}

// WriteErrors returns how many sink writes have failed.
func (l *AuditLogger) WriteErrors() int64 {
	if l == nil {
		return 0
	}
	return l.writeErrors.Load()
}

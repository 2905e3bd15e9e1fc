package security

import (
	"context"
	"log/slog"
)

// maxLogValue caps string attributes so a tool's full output never lands in
// the process log. The audit trail and the caller keep the complete text.
const maxLogValue = 2048

// RedactingHandler is a slog.Handler that scrubs secrets before records
// reach the wrapped handler. Attributes named like credentials ("token",
// "api_key", ...) are replaced outright; other strings go through the
// Redactor and are capped at maxLogValue bytes.
type RedactingHandler struct {
	next     slog.Handler
	redactor *Redactor
}

var _ slog.Handler = (*RedactingHandler)(nil)

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler, redactor *Redactor) *RedactingHandler {
	return &RedactingHandler{next: next, redactor: redactor}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactor.Redact(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.scrub(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.scrub(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(scrubbed), redactor: h.redactor}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *RedactingHandler) scrub(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch a.Value.Kind() {
	case slog.KindGroup:
		group := a.Value.Group()
		scrubbed := make([]slog.Attr, len(group))
		for i, ga := range group {
			scrubbed[i] = h.scrub(ga)
		}
		a.Value = slog.GroupValue(scrubbed...)
		return a
	case slog.KindString, slog.KindAny:
	default:
		// Numbers, bools, durations and times carry no secrets.
		return a
	}

	if secretKeyPattern.MatchString(a.Key) {
		a.Value = slog.StringValue(RedactPlaceholder)
		return a
	}

	s := a.Value.String()
	redacted := truncateLogValue(h.redactor.Redact(s))
	if a.Value.Kind() == slog.KindString || redacted != s {
		a.Value = slog.StringValue(redacted)
	}
	return a
}

func truncateLogValue(s string) string {
	if len(s) <= maxLogValue {
		return s
	}
	return s[:maxLogValue] + "...(truncated)"
}

package security

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(r *Redactor, level slog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(inner, r)), &buf
}

func TestRedactingHandler_Scrubs(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	r.AddLiteral("configured-literal")

	tests := []struct {
		name   string
		log    func(*slog.Logger)
		secret string
	}{
		{
			name:   "message",
			log:    func(l *slog.Logger) { l.Info("key is sk-abcdefghijklmnopqrstuvwxyz") },
			secret: "sk-abcdefghijklmnopqrstuvwxyz",
		},
		{
			name:   "attribute value",
			log:    func(l *slog.Logger) { l.Info("exec", "command", "curl -u u:configured-literal") },
			secret: "configured-literal",
		},
		{
			name:   "secret key name",
			log:    func(l *slog.Logger) { l.Info("auth", "bearer_token", "opaque-unknown-value") },
			secret: "opaque-unknown-value",
		},
		{
			name:   "with attrs",
			log:    func(l *slog.Logger) { l.With("api_key", "persistent").Info("ready") },
			secret: "persistent",
		},
		{
			name:   "with group",
			log:    func(l *slog.Logger) { l.WithGroup("call").Info("args", "argv", "PASSWORD=hunter2") },
			secret: "hunter2",
		},
		{
			name: "nested group",
			log: func(l *slog.Logger) {
				l.Info("req", slog.Group("headers", slog.String("authorization", "Basic abc"), slog.String("path", "/v1")))
			},
			secret: "Basic abc",
		},
		{
			name:   "error value",
			log:    func(l *slog.Logger) { l.Warn("exec failed", "error", errors.New("auth configured-literal rejected")) },
			secret: "configured-literal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, buf := newTestLogger(r, slog.LevelDebug)
			tt.log(logger)
			out := buf.String()
			if strings.Contains(out, tt.secret) {
				t.Errorf("secret %q in log output: %s", tt.secret, out)
			}
			if !strings.Contains(out, RedactPlaceholder) {
				t.Errorf("no placeholder in log output: %s", out)
			}
		})
	}
}

func TestRedactingHandler_KeepsPlainValues(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(NewRedactor(), slog.LevelDebug)
	logger.Info("call finished", "tool", "read_file", "exit_code", 0, "path", "notes.txt")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["tool"] != "read_file" || rec["path"] != "notes.txt" || rec["exit_code"] != float64(0) {
		t.Errorf("record = %v", rec)
	}
	if strings.Contains(buf.String(), RedactPlaceholder) {
		t.Errorf("unexpected redaction: %s", buf.String())
	}
}

func TestRedactingHandler_TruncatesLongValues(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(NewRedactor(), slog.LevelDebug)
	logger.Info("output", "stdout", strings.Repeat("x", maxLogValue*2))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, _ := rec["stdout"].(string)
	if len(got) >= maxLogValue*2 || !strings.HasSuffix(got, "(truncated)") {
		t.Errorf("stdout attribute len = %d, want truncated", len(got))
	}
}

func TestRedactingHandler_Enabled(t *testing.T) {
	t.Parallel()

	inner := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewRedactingHandler(inner, NewRedactor())

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled under warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled under warn level")
	}
}

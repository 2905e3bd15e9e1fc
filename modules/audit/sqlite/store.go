package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flemzord/toolgate/internal/security"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed audit store. It is safe for concurrent use;
// writes are serialized on a single connection.
type Store struct {
	db *sql.DB
}

// Compile-time interface check.
var _ security.AuditStore = (*Store)(nil)

// Open opens or creates the database described by cfg and migrates its
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	if !cfg.NoWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements security.AuditStore.
func (s *Store) Append(ctx context.Context, ev security.AuditEvent) error {
	meta := "{}"
	if len(ev.Metadata) > 0 {
		data, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		meta = string(data)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (ts, type, call_id, session_id, tool_name, decision, outcome, detail, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(tsLayout), string(ev.Type), ev.CallID, ev.SessionID,
		ev.ToolName, ev.Decision, ev.Outcome, ev.Detail, meta,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append audit event: %w", err)
	}
	return nil
}

// Filter selects audit events. Zero fields match everything.
type Filter struct {
	SessionID string
	CallID    string
	ToolName  string
	Type      security.EventType
	Since     time.Time

	// Limit caps the result. Zero means 100.
	Limit int
}

// Query returns matching events, oldest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]security.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.CallID != "" {
		where = append(where, "call_id = ?")
		args = append(args, f.CallID)
	}
	if f.ToolName != "" {
		where = append(where, "tool_name = ?")
		args = append(args, f.ToolName)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().Format(tsLayout))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT ts, type, call_id, session_id, tool_name, decision, outcome, detail, metadata FROM audit_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []security.AuditEvent
	for rows.Next() {
		var (
			ev       security.AuditEvent
			ts, typ  string
			metadata string
		)
		if err := rows.Scan(&ts, &typ, &ev.CallID, &ev.SessionID, &ev.ToolName, &ev.Decision, &ev.Outcome, &ev.Detail, &metadata); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit event: %w", err)
		}
		ev.Type = security.EventType(typ)
		if ev.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("sqlite: parse timestamp %q: %w", ts, err)
		}
		if metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events recorded before the cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE ts < ?", before.UTC().Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune audit events: %w", err)
	}
	return n, nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count audit events: %w", err)
	}
	return n, nil
}

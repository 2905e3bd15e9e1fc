package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/toolgate/internal/security"
)

func TestOpen_MigratesToLatest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "audit.db"), NoWAL: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	var v int
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&v); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if v != latestVersion() {
		t.Fatalf("schema version = %d, want %d", v, latestVersion())
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", latestVersion()+1); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = s.Close()

	if s, err := Open(ctx, Config{Path: path}); err == nil {
		_ = s.Close()
		t.Fatal("expected error opening a database from a newer release")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	for i := 0; i < 2; i++ {
		if err := migrate(ctx, db); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	if _, err := (Config{}).withDefaults(); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := (Config{Path: "a.db", BusyTimeout: -time.Second}).withDefaults(); err == nil {
		t.Error("expected error for negative busy timeout")
	}
	cfg, err := (Config{Path: "a.db"}).withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}
	if cfg.BusyTimeout != defaultBusyTimeout || cfg.NoWAL {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestQuery_ByToolName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	for _, name := range []string{"read_file", "run_shell", "read_file"} {
		if err := s.Append(ctx, security.AuditEvent{Type: security.EventToolCall, ToolName: name}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	events, err := s.Query(ctx, Filter{ToolName: "read_file"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

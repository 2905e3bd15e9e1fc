package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order. Each runs in its own transaction
// together with the version bump, so a failed step leaves the previous
// version intact. Append only.
var migrations = [][]string{
	1: {
		`CREATE TABLE audit_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         TEXT    NOT NULL,
			type       TEXT    NOT NULL,
			call_id    TEXT    NOT NULL DEFAULT '',
			session_id TEXT    NOT NULL DEFAULT '',
			tool_name  TEXT    NOT NULL DEFAULT '',
			decision   TEXT    NOT NULL DEFAULT '',
			outcome    TEXT    NOT NULL DEFAULT '',
			detail     TEXT    NOT NULL DEFAULT '',
			metadata   TEXT    NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX idx_audit_ts ON audit_events(ts)`,
		`CREATE INDEX idx_audit_session ON audit_events(session_id, id)`,
		`CREATE INDEX idx_audit_call ON audit_events(call_id)`,
	},
	2: {
		`CREATE INDEX idx_audit_tool ON audit_events(tool_name, id)`,
	},
}

func latestVersion() int { return len(migrations) - 1 }

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}
	if current > latestVersion() {
		return fmt.Errorf("sqlite: database schema version %d is newer than supported %d", current, latestVersion())
	}

	for v := current + 1; v <= latestVersion(); v++ {
		if err := applyMigration(ctx, db, v); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: migrate to v%d: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range migrations[version] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate to v%d: %w", version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("sqlite: record schema version %d: %w", version, err)
	}
	return tx.Commit()
}

// Package sqlite stores audit events in a SQLite database so that they can
// be queried and pruned. It implements security.AuditStore.
package sqlite

import (
	"errors"
	"fmt"
	"time"
)

const defaultBusyTimeout = 5 * time.Second

// Config describes the audit database.
type Config struct {
	// Path is the database file. Its directory is created on Open.
	Path string

	// BusyTimeout bounds how long a write waits on a lock held by another
	// process reading the same file. Defaults to 5s.
	BusyTimeout time.Duration

	// NoWAL keeps the rollback journal. Needed on filesystems without
	// shared-memory support, such as some network mounts.
	NoWAL bool
}

func (c Config) withDefaults() (Config, error) {
	if c.Path == "" {
		return c, errors.New("sqlite: path is required")
	}
	if c.BusyTimeout < 0 {
		return c, fmt.Errorf("sqlite: busy timeout must not be negative, got %s", c.BusyTimeout)
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	return c, nil
}

package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper closes sessions idle for longer than a cutoff. Implemented by
// *engine.Engine.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// AuditPruner deletes audit records older than a cutoff.
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SessionSweepJob closes sessions that have been idle longer than MaxIdle.
type SessionSweepJob struct {
	Sweeper      Sweeper
	MaxIdle      time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*SessionSweepJob)(nil)

// Name implements Job.
func (j *SessionSweepJob) Name() string { return "session_sweep" }

// Schedule implements Job.
func (j *SessionSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run closes idle sessions.
func (j *SessionSweepJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: session sweep cancelled: %w", ctx.Err())
	}
	if n := j.Sweeper.Sweep(j.MaxIdle); n > 0 {
		logger(j.Logger).Info("cron: closed idle sessions", "count", n, "max_idle", j.MaxIdle)
	}
	return nil
}

// AuditPruneJob deletes audit records older than Retention.
type AuditPruneJob struct {
	Store        AuditPruner
	Retention    time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * *"

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Compile-time interface check.
var _ Job = (*AuditPruneJob)(nil)

// Name implements Job.
func (j *AuditPruneJob) Name() string { return "audit_prune" }

// Schedule implements Job.
func (j *AuditPruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run deletes expired records. A zero Retention keeps everything.
func (j *AuditPruneJob) Run(ctx context.Context) error {
	if j.Retention <= 0 {
		return nil
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().Add(-j.Retention)
	n, err := j.Store.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cron: audit prune: %w", err)
	}
	if n > 0 {
		logger(j.Logger).Info("cron: pruned audit records", "count", n, "before", cutoff)
	}
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

package cron_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/toolgate/internal/cron"
	"github.com/flemzord/toolgate/internal/cron/crontest"
)

func TestSessionSweepJob_Defaults(t *testing.T) {
	t.Parallel()
	j := &cron.SessionSweepJob{}
	if j.Name() != "session_sweep" {
		t.Errorf("name = %q, want %q", j.Name(), "session_sweep")
	}
	if j.Schedule() != "*/5 * * * *" {
		t.Errorf("schedule = %q, want %q", j.Schedule(), "*/5 * * * *")
	}
	j.ScheduleExpr = "*/1 * * * *"
	if j.Schedule() != "*/1 * * * *" {
		t.Errorf("schedule override = %q", j.Schedule())
	}
}

func TestSessionSweepJob_Run(t *testing.T) {
	t.Parallel()

	sweeper := &crontest.MockSweeper{
		SweepFunc: func(idle time.Duration) int {
			if idle != 30*time.Minute {
				t.Errorf("idle = %v, want 30m", idle)
			}
			return 3
		},
	}
	j := &cron.SessionSweepJob{Sweeper: sweeper, MaxIdle: 30 * time.Minute}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sweeper.SweepCalls.Load() != 1 {
		t.Errorf("sweep calls = %d, want 1", sweeper.SweepCalls.Load())
	}
}

func TestSessionSweepJob_CancelledContext(t *testing.T) {
	t.Parallel()

	sweeper := &crontest.MockSweeper{}
	j := &cron.SessionSweepJob{Sweeper: sweeper, MaxIdle: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Run(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if sweeper.SweepCalls.Load() != 0 {
		t.Error("sweep ran after cancellation")
	}
}

func TestAuditPruneJob_Run(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	pruner := &crontest.MockPruner{}
	j := &cron.AuditPruneJob{
		Store:     pruner,
		Retention: 30 * 24 * time.Hour,
		Now:       func() time.Time { return now },
	}
	if j.Name() != "audit_prune" || j.Schedule() != "0 3 * * *" {
		t.Errorf("job = %s @ %s", j.Name(), j.Schedule())
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	cutoffs := pruner.Cutoffs()
	if len(cutoffs) != 1 || !cutoffs[0].Equal(now.Add(-30*24*time.Hour)) {
		t.Errorf("cutoffs = %v", cutoffs)
	}
}

func TestAuditPruneJob_ZeroRetentionKeepsEverything(t *testing.T) {
	t.Parallel()

	pruner := &crontest.MockPruner{}
	j := &cron.AuditPruneJob{Store: pruner}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(pruner.Cutoffs()) != 0 {
		t.Error("Prune called with zero retention")
	}
}

func TestAuditPruneJob_StoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	j := &cron.AuditPruneJob{
		Store: &crontest.MockPruner{PruneFunc: func(context.Context, time.Time) (int64, error) {
			return 0, boom
		}},
		Retention: time.Hour,
	}
	if err := j.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want wrapped store error", err)
	}
}

func TestMockJob_CountsRuns(t *testing.T) {
	t.Parallel()

	var _ cron.Job = (*crontest.MockJob)(nil)
	m := &crontest.MockJob{NameVal: "m", ScheduleVal: "* * * * *"}
	_ = m.Run(context.Background())
	if m.CallCount() != 1 || m.LastCall().IsZero() {
		t.Errorf("CallCount() = %d, LastCall() = %v", m.CallCount(), m.LastCall())
	}
}

// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/toolgate/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockSweeper is a test double for cron.Sweeper.
type MockSweeper struct {
	SweepFunc  func(idle time.Duration) int
	SweepCalls atomic.Int32
}

// Sweep implements cron.Sweeper.
func (m *MockSweeper) Sweep(idle time.Duration) int {
	m.SweepCalls.Add(1)
	if m.SweepFunc != nil {
		return m.SweepFunc(idle)
	}
	return 0
}

// MockPruner is a test double for cron.AuditPruner.
type MockPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time

	PruneFunc func(ctx context.Context, before time.Time) (int64, error)
}

// Prune implements cron.AuditPruner.
func (m *MockPruner) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	m.cutoffs = append(m.cutoffs, before)
	m.mu.Unlock()
	if m.PruneFunc != nil {
		return m.PruneFunc(ctx, before)
	}
	return 0, nil
}

// Cutoffs returns the cutoffs Prune was called with.
func (m *MockPruner) Cutoffs() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.cutoffs...)
}

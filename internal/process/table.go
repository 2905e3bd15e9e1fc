// Package process tracks child processes spawned by tool calls so they can be
// reclaimed when a call times out, is cancelled or its session ends.
package process

import (
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// DefaultWaitDelay is how long Wait waits for output pipes after the process
// group has been killed.
const DefaultWaitDelay = 2 * time.Second

// Table is the process-global registry of live children, keyed by call ID.
// It is safe for concurrent use.
type Table struct {
	mu     sync.Mutex
	byCall map[string]map[int]struct{}
	logger *slog.Logger
}

// NewTable creates an empty table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		byCall: make(map[string]map[int]struct{}),
		logger: logger,
	}
}

// Track records pid under callID. The returned func removes the entry and
// must be called once the process has been waited for.
func (t *Table) Track(callID string, pid int) (release func()) {
	t.mu.Lock()
	pids, ok := t.byCall[callID]
	if !ok {
		pids = make(map[int]struct{})
		t.byCall[callID] = pids
	}
	pids[pid] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if pids, ok := t.byCall[callID]; ok {
				delete(pids, pid)
				if len(pids) == 0 {
					delete(t.byCall, callID)
				}
			}
		})
	}
}

// KillCall kills the process groups of every child tracked for callID and
// returns how many were signalled.
func (t *Table) KillCall(callID string) int {
	t.mu.Lock()
	pids := make([]int, 0, len(t.byCall[callID]))
	for pid := range t.byCall[callID] {
		pids = append(pids, pid)
	}
	t.mu.Unlock()

	for _, pid := range pids {
		if err := killGroup(pid); err != nil {
			t.logger.Debug("kill process group", "call_id", callID, "pid", pid, "error", err)
		}
	}
	return len(pids)
}

// KillAll kills every tracked child. Used at shutdown.
func (t *Table) KillAll() int {
	t.mu.Lock()
	calls := make([]string, 0, len(t.byCall))
	for id := range t.byCall {
		calls = append(calls, id)
	}
	t.mu.Unlock()

	n := 0
	for _, id := range calls {
		n += t.KillCall(id)
	}
	return n
}

// Len returns the number of tracked processes.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, pids := range t.byCall {
		n += len(pids)
	}
	return n
}

// Reap kills whatever is left of pid's process group once the leader has
// been waited for, so children it put in the background do not outlive it.
func Reap(pid int) error {
	return killGroup(pid)
}

// Prepare configures cmd to start in its own process group and to kill the
// whole group when its context is done.
func Prepare(cmd *exec.Cmd) {
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killGroup(cmd.Process.Pid)
	}
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
}

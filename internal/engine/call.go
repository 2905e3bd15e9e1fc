package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/tool"
)

// call is the engine's record of one accepted request.
type call struct {
	req     tool.Request
	cancel  context.CancelCauseFunc
	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	state    State
	history  []State
	decision permission.Decision
	outcome  Outcome
}

func newCall(req tool.Request, cancel context.CancelCauseFunc) *call {
	return &call{
		req:     req,
		cancel:  cancel,
		started: time.Now(),
		done:    make(chan struct{}),
		state:   StateReceived,
		history: []State{StateReceived},
	}
}

// advance moves the call to the next state. It reports false, and leaves the
// call untouched, for a transition the lifecycle does not allow.
func (c *call) advance(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advanceLocked(to)
}

func (c *call) advanceLocked(to State) bool {
	if !CanTransition(c.state, to) {
		return false
	}
	c.state = to
	c.history = append(c.history, to)
	return true
}

func (c *call) setDecision(d permission.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decision = d
}

// finish records the terminal outcome and releases waiters.
func (c *call) finish(to State, resp tool.Response, err error) Outcome {
	c.mu.Lock()
	c.advanceLocked(to)
	c.outcome = Outcome{
		CallID:     c.req.CallID,
		SessionID:  c.req.SessionID,
		ToolName:   c.req.ToolName,
		State:      c.state,
		Response:   resp,
		Err:        err,
		Decision:   c.decision,
		History:    slices.Clone(c.history),
		StartedAt:  c.started,
		FinishedAt: time.Now(),
	}
	o := c.outcome
	c.mu.Unlock()

	close(c.done)
	return o
}

func (c *call) result() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// snapshot describes the call whether or not it has finished.
func (c *call) snapshot() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return c.outcome
	}
	return Outcome{
		CallID:    c.req.CallID,
		SessionID: c.req.SessionID,
		ToolName:  c.req.ToolName,
		State:     c.state,
		Decision:  c.decision,
		History:   slices.Clone(c.history),
		StartedAt: c.started,
	}
}

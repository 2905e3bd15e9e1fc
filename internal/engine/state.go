package engine

import (
	"slices"
	"time"

	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/tool"
)

// State is the lifecycle position of one call.
type State string

// Call states. Every call ends in exactly one terminal state.
const (
	StateReceived          State = "received"
	StateSchemaValidated   State = "schema_validated"
	StatePermissionChecked State = "permission_checked"
	StateExecuting         State = "executing"

	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateDenied    State = "denied"
	StateCancelled State = "cancelled"
	StateInvalid   State = "invalid"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateDenied, StateCancelled, StateInvalid:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateReceived:          {StateSchemaValidated, StateInvalid, StateCancelled},
	StateSchemaValidated:   {StatePermissionChecked, StateDenied, StateInvalid, StateCancelled},
	StatePermissionChecked: {StateExecuting, StateFailed, StateCancelled},
	StateExecuting:         {StateSucceeded, StateFailed, StateTimedOut, StateCancelled},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Outcome is the final record of a call.
type Outcome struct {
	CallID    string
	SessionID string
	ToolName  string
	State     State

	// Response is what the model sees. It is set for every terminal state.
	Response tool.Response

	// Err carries the typed cause for every state except succeeded,
	// including the ones whose error is not returned by Execute.
	Err error

	Decision permission.Decision

	// History lists the states the call went through, in order.
	History []State

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time from receipt to the terminal state.
func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// returned maps the outcome to the error Execute reports. Timeouts and tool
// failures come back as unsuccessful responses, not errors.
func (o Outcome) returned() error {
	switch o.State {
	case StateSucceeded, StateFailed, StateTimedOut:
		return nil
	}
	return o.Err
}

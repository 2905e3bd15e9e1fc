package permission

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ApprovalState represents the current state of a pending approval.
type ApprovalState int

// ApprovalState values for the pending approval state machine.
const (
	StateIdle     ApprovalState = iota // No prompt outstanding
	StatePending                       // Waiting for the user
	StateAnswered                      // An answer was received
	StateExpired                       // Timed out, denied by default
)

// PendingApproval manages the state machine for a single prompt.
// It transitions: idle → pending → answered | expired (deny by default).
type PendingApproval struct {
	mu      sync.Mutex
	state   ApprovalState
	answers chan Answer
}

// NewPendingApproval creates a new PendingApproval in the idle state.
func NewPendingApproval() *PendingApproval {
	return &PendingApproval{
		state:   StateIdle,
		answers: make(chan Answer, 1),
	}
}

// State returns the current approval state.
func (p *PendingApproval) State() ApprovalState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Respond delivers an answer out of band (for example from a UI that
// received the prompt through another channel). It reports whether the
// answer was accepted.
func (p *PendingApproval) Respond(a Answer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return false
	}
	select {
	case p.answers <- a:
		return true
	default:
		return false
	}
}

// Begin sends req to prompter and waits for an answer, an out-of-band
// Respond, the timeout or ctx. On timeout the answer is AnswerDeny together
// with ErrApprovalTimeout.
func (p *PendingApproval) Begin(
	ctx context.Context,
	prompter Prompter,
	req PromptRequest,
	timeout time.Duration,
) (Answer, error) {
	p.mu.Lock()
	if p.state == StatePending {
		p.mu.Unlock()
		return AnswerDeny, errors.New("approval already pending")
	}
	p.state = StatePending
	p.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	if prompter != nil {
		go func() {
			a, err := prompter.Prompt(ctx, req)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case p.answers <- a:
			case <-ctx.Done():
			}
		}()
	}

	select {
	case a := <-p.answers:
		p.finish(StateAnswered)
		return a, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return p.expire(ctx)
		}
		p.finish(StateIdle)
		return AnswerDeny, err
	case <-ctx.Done():
		return p.expire(ctx)
	}
}

func (p *PendingApproval) expire(ctx context.Context) (Answer, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.finish(StateExpired)
		return AnswerDeny, ErrApprovalTimeout
	}
	p.finish(StateIdle)
	return AnswerDeny, ctx.Err()
}

func (p *PendingApproval) finish(s ApprovalState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

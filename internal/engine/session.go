package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/tool"
)

// Session groups the calls of one conversation. It owns the permission state
// and the concurrency slots those calls share.
type Session struct {
	id      string
	engine  *Engine
	perms   *permission.State
	limits  Limits
	env     []string
	sem     *semaphore.Weighted
	created time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	calls      map[string]*call
	finished   []string
	inFlight   int
	closed     bool
	lastActive time.Time
	wg         sync.WaitGroup
}

// SessionInfo summarizes a session for listings.
type SessionInfo struct {
	ID         string    `json:"id"`
	Workspace  string    `json:"workspace"`
	Yolo       bool      `json:"yolo"`
	Allowed    []string  `json:"session_allowed,omitempty"`
	Calls      int       `json:"calls"`
	InFlight   int       `json:"in_flight"`
	Created    time.Time `json:"created"`
	LastActive time.Time `json:"last_active"`
}

func newSession(e *Engine, id string, st *permission.State, limits Limits, env []string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		id:         id,
		engine:     e,
		perms:      st,
		limits:     limits,
		env:        env,
		sem:        semaphore.NewWeighted(int64(limits.MaxConcurrent)),
		created:    now,
		ctx:        ctx,
		cancel:     cancel,
		calls:      make(map[string]*call),
		lastActive: now,
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Permissions returns the session's permission state.
func (s *Session) Permissions() *permission.State {
	return s.perms
}

// Info returns a summary of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:         s.id,
		Workspace:  s.perms.WorkspaceRoot(),
		Yolo:       s.perms.Yolo(),
		Allowed:    s.perms.SessionAllowed(),
		Calls:      len(s.calls),
		InFlight:   s.inFlight,
		Created:    s.created,
		LastActive: s.lastActive,
	}
}

// Execute runs one call to completion and returns its response.
// Tool failures and timeouts are reported as unsuccessful responses with a
// nil error; every other non-success state returns a typed error alongside
// a response describing it.
func (s *Session) Execute(ctx context.Context, req tool.Request) (tool.Response, error) {
	o := s.execute(ctx, req)
	return o.Response, o.returned()
}

// ExecuteBatch runs reqs in parallel and returns their outcomes in input
// order. Callers correlate results by CallID.
func (s *Session) ExecuteBatch(ctx context.Context, reqs []tool.Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Go(func() {
			outcomes[i] = s.execute(ctx, req)
		})
	}
	wg.Wait()
	return outcomes
}

// Cancel stops an in-flight call and returns its final outcome. Cancelling
// a finished call returns the stored outcome unchanged.
func (s *Session) Cancel(callID string) (Outcome, error) {
	c, err := s.lookup(callID)
	if err != nil {
		return Outcome{}, err
	}
	c.cancel(errCancelRequested)
	<-c.done
	return c.result(), nil
}

// Outcome returns the outcome of a finished call. ok is false while the
// call is still running. Finished calls past the retention limit are
// forgotten and report ErrUnknownCall.
func (s *Session) Outcome(callID string) (o Outcome, ok bool, err error) {
	c, err := s.lookup(callID)
	if err != nil {
		return Outcome{}, false, err
	}
	select {
	case <-c.done:
		return c.result(), true, nil
	default:
		return c.snapshot(), false, nil
	}
}

// Outcomes returns a snapshot of the running calls and the most recent
// finished ones.
func (s *Session) Outcomes() []Outcome {
	s.mu.Lock()
	calls := make([]*call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.Unlock()

	out := make([]Outcome, len(calls))
	for i, c := range calls {
		out[i] = c.snapshot()
	}
	return out
}

func (s *Session) lookup(callID string) (*call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	return c, nil
}

func (s *Session) execute(ctx context.Context, req tool.Request) Outcome {
	if req.SessionID == "" {
		req.SessionID = s.id
	}
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}
	if req.SessionID != s.id {
		return rejected(req, fmt.Errorf("%w: call addressed to %s, not %s", ErrUnknownSession, req.SessionID, s.id))
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(ErrSessionClosed) })
	defer stop()

	c := newCall(req, cancel)

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return rejected(req, fmt.Errorf("%w: %s", ErrSessionClosed, s.id))
	case s.calls[req.CallID] != nil:
		s.mu.Unlock()
		return rejected(req, fmt.Errorf("%w: %s", ErrDuplicateCall, req.CallID))
	}
	s.calls[req.CallID] = c
	s.inFlight++
	s.lastActive = c.started
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.lastActive = time.Now()
		s.retireLocked(req.CallID)
		s.mu.Unlock()
		s.wg.Done()
	}()

	return s.engine.run(callCtx, s, c)
}

// retireLocked queues a finished call and forgets the oldest finished calls
// beyond the retention limit. Running calls are never evicted. s.mu must be
// held.
func (s *Session) retireLocked(callID string) {
	s.finished = append(s.finished, callID)
	for len(s.finished) > s.limits.RetainedCalls {
		delete(s.calls, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// rejected builds the outcome of a request that was never accepted.
func rejected(req tool.Request, err error) Outcome {
	now := time.Now()
	return Outcome{
		CallID:     req.CallID,
		SessionID:  req.SessionID,
		ToolName:   req.ToolName,
		State:      StateInvalid,
		Response:   tool.Failure(err.Error(), nil),
		Err:        err,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func (s *Session) timeoutFor(name string, t tool.Tool) time.Duration {
	if d, ok := s.limits.ToolTimeouts[name]; ok && d > 0 {
		return d
	}
	if h, ok := t.(tool.Timeouter); ok {
		if d := h.DefaultTimeout(); d > 0 {
			return d
		}
	}
	return s.limits.DefaultTimeout
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight == 0 && s.lastActive.Before(cutoff)
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

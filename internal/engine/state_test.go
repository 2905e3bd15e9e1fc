package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/tooltest"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateReceived, StateSchemaValidated, true},
		{StateReceived, StateExecuting, false},
		{StateSchemaValidated, StateDenied, true},
		{StatePermissionChecked, StateExecuting, true},
		{StatePermissionChecked, StateTimedOut, false},
		{StateExecuting, StateTimedOut, true},
		{StateExecuting, StateDenied, false},
		{StateSucceeded, StateCancelled, false},
		{StateCancelled, StateSucceeded, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateSucceeded, StateFailed, StateTimedOut, StateDenied, StateCancelled, StateInvalid} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateReceived, StateSchemaValidated, StatePermissionChecked, StateExecuting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCall_FinishOnce(t *testing.T) {
	t.Parallel()

	c := newCall(tool.Request{CallID: "c-1", ToolName: "echo"}, func(error) {})
	c.advance(StateSchemaValidated)
	if c.advance(StateSucceeded) {
		t.Fatal("schema_validated -> succeeded should be rejected")
	}

	o := c.finish(StateInvalid, tool.Failure("bad", nil), tool.ErrInvalidArguments)
	if o.State != StateInvalid {
		t.Fatalf("State = %q", o.State)
	}
	if got := c.snapshot(); got.State != StateInvalid || !errors.Is(got.Err, tool.ErrInvalidArguments) {
		t.Fatalf("snapshot = %+v", got)
	}
	select {
	case <-c.done:
	default:
		t.Fatal("done should be closed")
	}
}

func TestOutcome_Returned(t *testing.T) {
	t.Parallel()

	cause := errors.New("x")
	tests := []struct {
		state State
		want  error
	}{
		{StateSucceeded, nil},
		{StateFailed, nil},
		{StateTimedOut, nil},
		{StateDenied, cause},
		{StateCancelled, cause},
		{StateInvalid, cause},
	}
	for _, tt := range tests {
		o := Outcome{State: tt.state, Err: cause}
		if got := o.returned(); got != tt.want {
			t.Errorf("returned() for %s = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestSession_TimeoutFor(t *testing.T) {
	t.Parallel()

	s := &Session{limits: Limits{
		DefaultTimeout: 30 * time.Second,
		ToolTimeouts:   map[string]time.Duration{"read_file": 5 * time.Second},
	}.withDefaults()}

	if got := s.timeoutFor("read_file", tooltest.SimpleTool("read_file")); got != 5*time.Second {
		t.Errorf("override = %s, want 5s", got)
	}
	if got := s.timeoutFor("run_command", hinted{tooltest.SimpleTool("run_command")}); got != 2*time.Minute {
		t.Errorf("tool default = %s, want 2m", got)
	}
	if got := s.timeoutFor("list_dir", tooltest.SimpleTool("list_dir")); got != 30*time.Second {
		t.Errorf("engine default = %s, want 30s", got)
	}
}

func TestLimits_WithDefaults(t *testing.T) {
	t.Parallel()

	l := Limits{}.withDefaults()
	if l.MaxFileSize != 50_000_000 {
		t.Errorf("MaxFileSize = %d, want 50000000", l.MaxFileSize)
	}
	if l.RetainedCalls != DefaultRetainedCalls {
		t.Errorf("RetainedCalls = %d, want %d", l.RetainedCalls, DefaultRetainedCalls)
	}
	if l.DefaultTimeout != 30*time.Second || l.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("withDefaults() = %+v", l)
	}

	l = Limits{MaxFileSize: 1024, RetainedCalls: 8}.withDefaults()
	if l.MaxFileSize != 1024 || l.RetainedCalls != 8 {
		t.Errorf("explicit limits overridden: %+v", l)
	}
}

type hinted struct{ *tooltest.MockTool }

func (hinted) DefaultTimeout() time.Duration { return 2 * time.Minute }

func TestMetrics_RecordsCalls(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	tools := tool.NewRegistry()
	tools.MustRegister(tooltest.SimpleTool("echo"))
	boom := tooltest.SimpleTool("boom")
	boom.ExecuteFunc = func(context.Context, json.RawMessage, tool.ExecutionEnv) (tool.Response, error) {
		return tool.Response{}, errors.New("boom")
	}
	tools.MustRegister(boom)

	e, err := New(Config{Registry: tools, Metrics: m, Defaults: Defaults{Workspace: t.TempDir()}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := e.OpenSession(SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}

	_, _ = s.Execute(context.Background(), tool.Request{CallID: "1", ToolName: "echo"})
	_, _ = s.Execute(context.Background(), tool.Request{CallID: "2", ToolName: "echo"})
	_, _ = s.Execute(context.Background(), tool.Request{CallID: "3", ToolName: "boom"})

	if got := testutil.ToFloat64(m.calls.WithLabelValues("echo", "succeeded")); got != 2 {
		t.Errorf("echo succeeded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.calls.WithLabelValues("boom", "failed")); got != 1 {
		t.Errorf("boom failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.decisions.WithLabelValues("echo", "allow")); got != 2 {
		t.Errorf("echo allow decisions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.observeOutcome("x", StateSucceeded)
	m.observeDecision("x", "allow")
	m.observeDuration("x", time.Second)
	m.addInFlight(1)
	m.addQueued(1)
}

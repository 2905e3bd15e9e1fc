package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/permission/permissiontest"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/tooltest"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.defaults()

	if cfg.Bind != DefaultBind {
		t.Errorf("Bind = %q, want %q", cfg.Bind, DefaultBind)
	}
	if cfg.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 0 {
		t.Errorf("WriteTimeout = %v, want 0", cfg.WriteTimeout)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	e, err := engine.New(engine.Config{Registry: tool.NewRegistry()})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(e.Shutdown)

	tests := []struct {
		name    string
		opts    Options
		wantErr error
		fails   bool
	}{
		{name: "no engine", opts: Options{}, fails: true},
		{name: "bad bind", opts: Options{Engine: e, Config: Config{Bind: "nope"}}, fails: true},
		{name: "public without auth", opts: Options{Engine: e, Config: Config{Bind: "0.0.0.0:7420"}}, wantErr: ErrInsecureBind, fails: true},
		{name: "public with auth", opts: Options{Engine: e, Config: Config{Bind: "0.0.0.0:7420", Auth: AuthConfig{BearerToken: "t"}}}},
		{name: "localhost", opts: Options{Engine: e, Config: Config{Bind: "localhost:0"}}},
		{name: "ipv6 loopback", opts: Options{Engine: e, Config: Config{Bind: "[::1]:0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := prometheus.NewRegistry()
			tt.opts.Registerer = reg
			tt.opts.Gatherer = reg
			_, err := New(tt.opts)
			if tt.fails != (err != nil) {
				t.Fatalf("New() error = %v, fails = %v", err, tt.fails)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	e, err := engine.New(engine.Config{Registry: tool.NewRegistry()})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(e.Shutdown)

	reg := prometheus.NewRegistry()
	g, err := New(Options{Engine: e, Config: Config{Bind: "127.0.0.1:0"}, Registerer: reg, Gatherer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + g.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := http.Get("http://" + g.Addr() + "/health"); err == nil {
		t.Fatal("expected connection error after Stop")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	tg.openSession(t, "s1")

	rr := tg.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	h := decode[HealthResponse](t, rr)
	if h.Status != "ok" || h.Tools != 2 || h.Sessions != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	rr := tg.do(t, http.MethodGet, "/v1/tools", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	descs := decode[[]tool.Descriptor](t, rr)
	if len(descs) != 2 || descs[0].Name != "echo" || descs[1].Name != "writer" {
		t.Fatalf("descriptors = %+v", descs)
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	tg.openSession(t, "s1")

	if rr := tg.do(t, http.MethodPost, "/v1/sessions", map[string]any{"id": "s1"}); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate open: status = %d, want 409", rr.Code)
	}

	rr := tg.do(t, http.MethodGet, "/v1/sessions", nil)
	infos := decode[[]engine.SessionInfo](t, rr)
	if len(infos) != 1 || infos[0].ID != "s1" {
		t.Fatalf("sessions = %+v", infos)
	}

	rr = tg.do(t, http.MethodGet, "/v1/sessions/s1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rr.Code)
	}

	if rr := tg.do(t, http.MethodDelete, "/v1/sessions/s1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", rr.Code)
	}
	if rr := tg.do(t, http.MethodGet, "/v1/sessions/s1", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d, want 404", rr.Code)
	}
	if rr := tg.do(t, http.MethodDelete, "/v1/sessions/s1", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestOpenSession_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	rr := tg.do(t, http.MethodPost, "/v1/sessions", map[string]any{"id": "s1", "bogus": true})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestExecute_Sync(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	tg.openSession(t, "s1")

	rr := tg.do(t, http.MethodPost, "/v1/sessions/s1/calls", map[string]any{
		"call_id":   "c1",
		"tool_name": "echo",
		"arguments": json.RawMessage(`{}`),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	c := decode[callJSON](t, rr)
	if c.State != string(engine.StateSucceeded) || !c.Success || c.Content != "executed: echo" {
		t.Fatalf("call = %+v", c)
	}
	if c.Rule != string(permission.RuleReadOnly) {
		t.Errorf("rule = %q, want %q", c.Rule, permission.RuleReadOnly)
	}
	if !c.Done || c.FinishedAt == nil {
		t.Errorf("call not finished: %+v", c)
	}

	rr = tg.do(t, http.MethodGet, "/v1/sessions/s1/calls/c1", nil)
	if got := decode[callJSON](t, rr); got.State != string(engine.StateSucceeded) {
		t.Fatalf("GET call state = %q", got.State)
	}

	rr = tg.do(t, http.MethodGet, "/v1/sessions/s1/calls", nil)
	if calls := decode[[]callJSON](t, rr); len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
}

func TestExecute_Outcomes(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	tg.openSession(t, "s1")

	tests := []struct {
		name      string
		body      map[string]any
		wantCode  int
		wantState engine.State
	}{
		{
			name:      "unknown tool",
			body:      map[string]any{"call_id": "u1", "tool_name": "nope"},
			wantCode:  http.StatusOK,
			wantState: engine.StateInvalid,
		},
		{
			name:      "needs approval without prompter",
			body:      map[string]any{"call_id": "w1", "tool_name": "writer"},
			wantCode:  http.StatusOK,
			wantState: engine.StateDenied,
		},
		{
			name:     "missing tool name",
			body:     map[string]any{"call_id": "m1"},
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := tg.do(t, http.MethodPost, "/v1/sessions/s1/calls", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantState == "" {
				return
			}
			c := decode[callJSON](t, rr)
			if c.State != string(tt.wantState) {
				t.Fatalf("state = %q, want %q", c.State, tt.wantState)
			}
			if c.Error == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestExecute_DuplicateCall(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	tg.openSession(t, "s1")

	body := map[string]any{"call_id": "c1", "tool_name": "echo"}
	if rr := tg.do(t, http.MethodPost, "/v1/sessions/s1/calls", body); rr.Code != http.StatusOK {
		t.Fatalf("first: status = %d", rr.Code)
	}
	if rr := tg.do(t, http.MethodPost, "/v1/sessions/s1/calls", body); rr.Code != http.StatusConflict {
		t.Fatalf("second: status = %d, want 409", rr.Code)
	}
}

func TestExecute_UnknownSession(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	rr := tg.do(t, http.MethodPost, "/v1/sessions/missing/calls", map[string]any{"tool_name": "echo"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestExecute_AsyncAndCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	tg := newTestGateway(t, testOptions{tools: []tool.Tool{tooltest.BlockingTool("block", started, release)}})
	tg.openSession(t, "s1")

	rr := tg.do(t, http.MethodPost, "/v1/sessions/s1/calls", map[string]any{
		"call_id": "c1", "tool_name": "block", "async": true,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool did not start")
	}

	rr = tg.do(t, http.MethodGet, "/v1/sessions/s1/calls/c1", nil)
	if c := decode[callJSON](t, rr); c.Done || c.State != string(engine.StateExecuting) {
		t.Fatalf("running call = %+v", c)
	}

	rr = tg.do(t, http.MethodDelete, "/v1/sessions/s1/calls/c1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: status = %d", rr.Code)
	}
	if c := decode[callJSON](t, rr); c.State != string(engine.StateCancelled) {
		t.Fatalf("cancelled state = %q", c.State)
	}

	rr = tg.do(t, http.MethodDelete, "/v1/sessions/s1/calls/c1", nil)
	if c := decode[callJSON](t, rr); c.State != string(engine.StateCancelled) {
		t.Fatalf("second cancel state = %q", c.State)
	}

	if rr := tg.do(t, http.MethodDelete, "/v1/sessions/s1/calls/nope", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown call: status = %d, want 404", rr.Code)
	}
}

func TestApproval_OutOfBand(t *testing.T) {
	t.Parallel()

	prompts := make(chan permission.PromptRequest, 1)
	prompter := &permissiontest.MockPrompter{
		PromptFunc: func(ctx context.Context, req permission.PromptRequest) (permission.Answer, error) {
			prompts <- req
			<-ctx.Done()
			return permission.AnswerDeny, ctx.Err()
		},
	}
	tg := newTestGateway(t, testOptions{prompter: prompter})
	tg.openSession(t, "s1")

	done := make(chan callJSON, 1)
	go func() {
		rr := tg.do(t, http.MethodPost, "/v1/sessions/s1/calls", map[string]any{"call_id": "c1", "tool_name": "writer"})
		var c callJSON
		_ = json.NewDecoder(rr.Body).Decode(&c)
		done <- c
	}()

	var req permission.PromptRequest
	select {
	case req = <-prompts:
	case <-time.After(5 * time.Second):
		t.Fatal("prompt not issued")
	}

	if rr := tg.do(t, http.MethodPost, "/v1/approvals/"+req.ApprovalID, map[string]string{"answer": "maybe"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad answer: status = %d, want 400", rr.Code)
	}
	if rr := tg.do(t, http.MethodPost, "/v1/approvals/unknown", map[string]string{"answer": "once"}); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown approval: status = %d, want 404", rr.Code)
	}
	if rr := tg.do(t, http.MethodPost, "/v1/approvals/"+req.ApprovalID, map[string]string{"answer": "once"}); rr.Code != http.StatusNoContent {
		t.Fatalf("approve: status = %d, want 204", rr.Code)
	}

	select {
	case c := <-done:
		if c.State != string(engine.StateSucceeded) || c.Rule != string(permission.RuleUser) {
			t.Fatalf("call = %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call did not finish")
	}
}

func TestAuth_ProtectsAPI(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{auth: AuthConfig{BearerToken: "secret"}})

	if rr := tg.do(t, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("/health: status = %d, want 200", rr.Code)
	}
	for _, path := range []string{"/v1/tools", "/v1/sessions", "/metrics"} {
		if rr := tg.do(t, http.MethodGet, path, nil); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, rr.Code)
		}
	}
}

func TestMetrics_Exposed(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, testOptions{})
	tg.do(t, http.MethodGet, "/v1/tools", nil)

	rr := tg.do(t, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `toolgate_http_requests_total{code="200",method="GET",route="/v1/tools"} 1`) {
		t.Fatalf("missing request counter in:\n%s", body)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{engine.ErrUnknownSession, http.StatusNotFound},
		{tool.ErrUnknownTool, http.StatusNotFound},
		{engine.ErrDuplicateCall, http.StatusConflict},
		{engine.ErrSessionClosed, http.StatusGone},
		{tool.ErrInvalidArguments, http.StatusBadRequest},
		{&permission.DeniedError{Tool: "x", Rule: permission.RuleHardDeny}, http.StatusForbidden},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

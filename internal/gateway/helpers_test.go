package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/tooltest"
)

type testGateway struct {
	gw      *Gateway
	engine  *engine.Engine
	handler http.Handler
}

type testOptions struct {
	prompter permission.Prompter
	hub      *PromptHub
	auth     AuthConfig
	limiter  *security.RateLimiter
	tools    []tool.Tool
}

func newTestGateway(t *testing.T, opts testOptions) *testGateway {
	t.Helper()

	reg := tool.NewRegistry()
	tools := opts.tools
	if tools == nil {
		tools = []tool.Tool{
			tooltest.SimpleTool("echo"),
			tooltest.SimpleTool("writer", tool.CapWrite),
		}
	}
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("Register(%s): %v", tl.Name(), err)
		}
	}

	prompter := opts.prompter
	if prompter == nil && opts.hub != nil {
		prompter = opts.hub
	}
	e, err := engine.New(engine.Config{
		Registry: reg,
		Manager:  permission.NewManager(permission.Config{Prompter: prompter, ApprovalTimeout: time.Minute}),
		Defaults: engine.Defaults{Workspace: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(e.Shutdown)

	promReg := prometheus.NewRegistry()
	g, err := New(Options{
		Config:     Config{Auth: opts.auth},
		Engine:     e,
		Hub:        opts.hub,
		Limiter:    opts.limiter,
		Gatherer:   promReg,
		Registerer: promReg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = g.Stop(context.Background()) })

	return &testGateway{gw: g, engine: e, handler: g.Handler()}
}

func (tg *testGateway) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	tg.handler.ServeHTTP(rr, req)
	return rr
}

func (tg *testGateway) openSession(t *testing.T, id string) {
	t.Helper()
	rr := tg.do(t, http.MethodPost, "/v1/sessions", map[string]any{"id": id})
	if rr.Code != http.StatusCreated {
		t.Fatalf("open session: status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/tooltest"
)

func newTestServer(t *testing.T, prompter permission.Prompter, tools ...tool.Tool) *Server {
	t.Helper()

	reg := tool.NewRegistry()
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("Register(%s): %v", tl.Name(), err)
		}
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

	s, err := New(e, Options{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// rpc sends one JSON-RPC message and returns the "result" object.
func rpc(t *testing.T, s *Server, method string, params any) map[string]any {
	t.Helper()

	msg, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := s.MCP().HandleMessage(context.Background(), msg)
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp struct {
		Result map[string]any `json:"result"`
		Error  any            `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if resp.Error != nil {
		t.Fatalf("%s: rpc error %v", method, resp.Error)
	}
	return resp.Result
}

func resultText(t *testing.T, result map[string]any) (string, bool) {
	t.Helper()

	content, ok := result["content"].([]any)
	if !ok || len(content) == 0 {
		t.Fatalf("no content in %v", result)
	}
	first, _ := content[0].(map[string]any)
	text, _ := first["text"].(string)
	isError, _ := result["isError"].(bool)
	return text, isError
}

func TestNew_RegistersTools(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil,
		tooltest.SimpleTool("reader"),
		tooltest.SimpleTool("shell", tool.CapExecute, tool.CapDangerous),
	)

	result := rpc(t, s, "tools/list", map[string]any{})
	list, ok := result["tools"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("tools = %v", result["tools"])
	}

	hints := map[string]map[string]any{}
	for _, item := range list {
		m := item.(map[string]any)
		hints[m["name"].(string)], _ = m["annotations"].(map[string]any)
	}
	if hints["reader"]["readOnlyHint"] != true {
		t.Errorf("reader annotations = %v", hints["reader"])
	}
	if hints["shell"]["destructiveHint"] != true || hints["shell"]["readOnlyHint"] != false {
		t.Errorf("shell annotations = %v", hints["shell"])
	}
}

func TestNew_DuplicateSession(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, tooltest.SimpleTool("reader"))
	if _, err := New(s.engine, Options{}); !errors.Is(err, engine.ErrDuplicateSession) {
		t.Fatalf("err = %v, want ErrDuplicateSession", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := New(s.engine, Options{}); err != nil {
		t.Fatalf("New after Close: %v", err)
	}
}

func TestCallTool(t *testing.T) {
	t.Parallel()

	failing := tooltest.SimpleTool("failing")
	failing.ExecuteFunc = func(context.Context, json.RawMessage, tool.ExecutionEnv) (tool.Response, error) {
		return tool.Failure("exit status 2", nil), nil
	}
	s := newTestServer(t, nil,
		tooltest.SimpleTool("reader"),
		tooltest.SimpleTool("writer", tool.CapWrite),
		failing,
	)

	tests := []struct {
		name      string
		tool      string
		wantText  string
		wantError bool
	}{
		{name: "success", tool: "reader", wantText: "executed: reader"},
		{name: "tool failure", tool: "failing", wantText: "exit status 2", wantError: true},
		{name: "denied without prompter", tool: "writer", wantText: "permission denied", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := rpc(t, s, "tools/call", map[string]any{"name": tt.tool, "arguments": map[string]any{}})
			text, isError := resultText(t, result)
			if isError != tt.wantError {
				t.Fatalf("isError = %v, want %v (%s)", isError, tt.wantError, text)
			}
			if !strings.Contains(text, tt.wantText) {
				t.Fatalf("text = %q, want it to contain %q", text, tt.wantText)
			}
		})
	}

	if n := len(s.Session().Outcomes()); n != 3 {
		t.Fatalf("session outcomes = %d, want 3", n)
	}
}

func TestRawArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{nil, `{}`},
		{json.RawMessage(`{"a":1}`), `{"a":1}`},
		{map[string]any{"path": "x"}, `{"path":"x"}`},
	}
	for _, tt := range tests {
		got, err := rawArguments(tt.in)
		if err != nil {
			t.Fatalf("rawArguments(%v): %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Errorf("rawArguments(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := rawArguments(func() {}); !errors.Is(err, tool.ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
}

func TestElicitor_Unbound(t *testing.T) {
	t.Parallel()

	_, err := NewElicitor().Prompt(context.Background(), permission.PromptRequest{})
	if !errors.Is(err, permission.ErrNoPrompter) {
		t.Fatalf("err = %v, want ErrNoPrompter", err)
	}
}

func TestElicitor_Prompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		result  *mcp.ElicitationResult
		err     error
		want    permission.Answer
		wantErr error
	}{
		{
			name:   "accept session",
			result: &mcp.ElicitationResult{ElicitationResponse: mcp.ElicitationResponse{Action: mcp.ElicitationResponseActionAccept, Content: map[string]any{"answer": "allow_session"}}},
			want:   permission.AnswerAllowSession,
		},
		{
			name:   "accept once alias",
			result: &mcp.ElicitationResult{ElicitationResponse: mcp.ElicitationResponse{Action: mcp.ElicitationResponseActionAccept, Content: map[string]any{"answer": "once"}}},
			want:   permission.AnswerAllowOnce,
		},
		{
			name:   "decline",
			result: &mcp.ElicitationResult{ElicitationResponse: mcp.ElicitationResponse{Action: mcp.ElicitationResponseActionDecline}},
			want:   permission.AnswerDeny,
		},
		{
			name:   "accept without content",
			result: &mcp.ElicitationResult{ElicitationResponse: mcp.ElicitationResponse{Action: mcp.ElicitationResponseActionAccept}},
			want:   permission.AnswerDeny,
		},
		{
			name:    "client lacks elicitation",
			err:     server.ErrElicitationNotSupported,
			want:    permission.AnswerDeny,
			wantErr: permission.ErrNoPrompter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got mcp.ElicitationRequest
			e := &Elicitor{elicit: func(_ context.Context, req mcp.ElicitationRequest) (*mcp.ElicitationResult, error) {
				got = req
				return tt.result, tt.err
			}}

			a, err := e.Prompt(context.Background(), permission.PromptRequest{Summary: "write_file wants write"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Prompt: %v", err)
			}
			if a != tt.want {
				t.Fatalf("answer = %q, want %q", a, tt.want)
			}
			if got.Params.Message != "write_file wants write" || got.Params.RequestedSchema == nil {
				t.Fatalf("request = %+v", got.Params)
			}
		})
	}
}

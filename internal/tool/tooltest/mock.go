// Package tooltest provides test helpers and mocks for the tool package.
package tooltest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flemzord/toolgate/internal/tool"
)

// MockTool is a configurable mock implementation of tool.Tool.
type MockTool struct {
	NameFunc         func() string
	DescriptionFunc  func() string
	SchemaFunc       func() json.RawMessage
	CapabilitiesFunc func() []tool.Capability
	SubjectsFunc     func(args json.RawMessage) (tool.Subjects, error)
	ExecuteFunc      func(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error)

	mu           sync.Mutex
	executeCalls int
}

// Name implements tool.Tool.
func (m *MockTool) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock_tool"
}

// Description implements tool.Tool.
func (m *MockTool) Description() string {
	if m.DescriptionFunc != nil {
		return m.DescriptionFunc()
	}
	return "a mock tool"
}

// Schema implements tool.Tool.
func (m *MockTool) Schema() json.RawMessage {
	if m.SchemaFunc != nil {
		return m.SchemaFunc()
	}
	return json.RawMessage(`{"type":"object"}`)
}

// Capabilities implements tool.Tool.
func (m *MockTool) Capabilities() []tool.Capability {
	if m.CapabilitiesFunc != nil {
		return m.CapabilitiesFunc()
	}
	return []tool.Capability{tool.CapRead}
}

// Subjects implements tool.Subjecter.
func (m *MockTool) Subjects(args json.RawMessage) (tool.Subjects, error) {
	if m.SubjectsFunc != nil {
		return m.SubjectsFunc(args)
	}
	return tool.Subjects{}, nil
}

// Execute implements tool.Tool.
func (m *MockTool) Execute(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error) {
	m.mu.Lock()
	m.executeCalls++
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, args, env)
	}
	return tool.Success("ok", nil), nil
}

// ExecuteCalls returns how many times Execute ran.
func (m *MockTool) ExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeCalls
}

// SimpleTool creates a minimal tool with the given name and capabilities.
func SimpleTool(name string, caps ...tool.Capability) *MockTool {
	if len(caps) == 0 {
		caps = []tool.Capability{tool.CapRead}
	}
	return &MockTool{
		NameFunc:         func() string { return name },
		DescriptionFunc:  func() string { return "simple test tool: " + name },
		CapabilitiesFunc: func() []tool.Capability { return caps },
		ExecuteFunc: func(_ context.Context, _ json.RawMessage, _ tool.ExecutionEnv) (tool.Response, error) {
			return tool.Success("executed: "+name, nil), nil
		},
	}
}

// PathTool creates a tool whose "path" argument is reported as a subject.
func PathTool(name string, caps ...tool.Capability) *MockTool {
	m := SimpleTool(name, caps...)
	m.SchemaFunc = func() json.RawMessage {
		return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	}
	m.SubjectsFunc = func(args json.RawMessage) (tool.Subjects, error) {
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return tool.Subjects{}, err
		}
		return tool.Subjects{Paths: []string{in.Path}}, nil
	}
	return m
}

// BlockingTool returns a tool whose Execute blocks until ctx is done or
// release is closed. started receives one value per invocation.
func BlockingTool(name string, started chan<- struct{}, release <-chan struct{}) *MockTool {
	m := SimpleTool(name)
	m.ExecuteFunc = func(ctx context.Context, _ json.RawMessage, _ tool.ExecutionEnv) (tool.Response, error) {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-ctx.Done():
			return tool.Response{}, ctx.Err()
		case <-release:
			return tool.Success("released", nil), nil
		}
	}
	return m
}

// Interface guards.
var (
	_ tool.Tool      = (*MockTool)(nil)
	_ tool.Subjecter = (*MockTool)(nil)
)

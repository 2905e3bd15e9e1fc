// Package permissiontest provides test helpers for the permission package.
package permissiontest

import (
	"context"
	"sync"

	"github.com/flemzord/toolgate/internal/permission"
)

// MockPrompter is a configurable permission.Prompter that records requests.
type MockPrompter struct {
	PromptFunc func(ctx context.Context, req permission.PromptRequest) (permission.Answer, error)

	mu       sync.Mutex
	requests []permission.PromptRequest
}

// Answering returns a MockPrompter that always replies with a.
func Answering(a permission.Answer) *MockPrompter {
	return &MockPrompter{
		PromptFunc: func(context.Context, permission.PromptRequest) (permission.Answer, error) {
			return a, nil
		},
	}
}

// Blocking returns a MockPrompter that waits for ctx to end.
func Blocking() *MockPrompter {
	return &MockPrompter{
		PromptFunc: func(ctx context.Context, _ permission.PromptRequest) (permission.Answer, error) {
			<-ctx.Done()
			return permission.AnswerDeny, ctx.Err()
		},
	}
}

// Prompt implements permission.Prompter.
func (m *MockPrompter) Prompt(ctx context.Context, req permission.PromptRequest) (permission.Answer, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.PromptFunc != nil {
		return m.PromptFunc(ctx, req)
	}
	return permission.AnswerAllowOnce, nil
}

// Calls returns how many prompts were issued.
func (m *MockPrompter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded prompt requests.
func (m *MockPrompter) Requests() []permission.PromptRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]permission.PromptRequest(nil), m.requests...)
}

// Interface guard.
var _ permission.Prompter = (*MockPrompter)(nil)

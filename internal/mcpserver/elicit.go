package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/toolgate/internal/permission"
)

// answerSchema is the form shown to the MCP client's user.
var answerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"answer": map[string]any{
			"type":        "string",
			"title":       "Decision",
			"enum":        []string{string(permission.AnswerAllowOnce), string(permission.AnswerAllowSession), string(permission.AnswerDeny)},
			"enumNames":   []string{"Allow once", "Allow for this session", "Deny"},
			"description": "Whether the tool call may run.",
		},
	},
	"required": []string{"answer"},
}

// elicitFunc sends an elicitation request to the client in ctx.
type elicitFunc func(ctx context.Context, req mcp.ElicitationRequest) (*mcp.ElicitationResult, error)

// Elicitor is a permission.Prompter that asks the MCP client through an
// elicitation request. It needs the client session carried by the tool
// call's context, so it only answers prompts raised by MCP calls. Clients
// without elicitation support are reported as permission.ErrNoPrompter.
type Elicitor struct {
	mu     sync.RWMutex
	elicit elicitFunc
}

var _ permission.Prompter = (*Elicitor)(nil)

// NewElicitor returns an unbound Elicitor. It is bound by New.
func NewElicitor() *Elicitor {
	return &Elicitor{}
}

func (e *Elicitor) bind(s *server.MCPServer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.elicit = s.RequestElicitation
}

// Prompt implements permission.Prompter.
func (e *Elicitor) Prompt(ctx context.Context, req permission.PromptRequest) (permission.Answer, error) {
	e.mu.RLock()
	elicit := e.elicit
	e.mu.RUnlock()
	if elicit == nil {
		return permission.AnswerDeny, permission.ErrNoPrompter
	}

	res, err := elicit(ctx, mcp.ElicitationRequest{
		Params: mcp.ElicitationParams{
			Message:         req.Summary,
			RequestedSchema: answerSchema,
		},
	})
	if err != nil {
		if errors.Is(err, server.ErrElicitationNotSupported) || errors.Is(err, server.ErrNoActiveSession) {
			return permission.AnswerDeny, fmt.Errorf("%w: %w", permission.ErrNoPrompter, err)
		}
		return permission.AnswerDeny, err
	}
	return answerFrom(res), nil
}

// answerFrom maps an elicitation result to an answer. Anything other than
// an accepted, recognised answer is a denial.
func answerFrom(res *mcp.ElicitationResult) permission.Answer {
	if res == nil || res.Action != mcp.ElicitationResponseActionAccept {
		return permission.AnswerDeny
	}
	content, ok := res.Content.(map[string]any)
	if !ok {
		return permission.AnswerDeny
	}
	s, ok := content["answer"].(string)
	if !ok {
		return permission.AnswerDeny
	}
	a, ok := permission.ParseAnswer(s)
	if !ok {
		return permission.AnswerDeny
	}
	return a
}

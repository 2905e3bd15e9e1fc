package permission

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/flemzord/toolgate/internal/security"
)

// Answer is the user's reply to a prompt.
type Answer string

// Answer values.
const (
	AnswerAllowOnce    Answer = "allow_once"
	AnswerAllowSession Answer = "allow_session"
	AnswerDeny         Answer = "deny"
)

// ParseAnswer accepts the canonical values plus a few short aliases.
func ParseAnswer(s string) (Answer, bool) {
	switch s {
	case string(AnswerAllowOnce), "once", "yes", "y":
		return AnswerAllowOnce, true
	case string(AnswerAllowSession), "session", "always", "a":
		return AnswerAllowSession, true
	case string(AnswerDeny), "no", "n":
		return AnswerDeny, true
	default:
		return "", false
	}
}

// Prompt errors.
var (
	// ErrApprovalTimeout is returned when a prompt is not answered in time.
	ErrApprovalTimeout = errors.New("approval request timed out")

	// ErrNoPrompter is returned when a call needs a human answer but no
	// prompter is available.
	ErrNoPrompter = errors.New("no interactive prompter available")
)

// PromptRequest is what the UI layer renders when a call needs approval.
type PromptRequest struct {
	ApprovalID string             `json:"approval_id"`
	CallID     string             `json:"call_id"`
	SessionID  string             `json:"session_id"`
	ToolName   string             `json:"tool_name"`
	Summary    string             `json:"summary"`
	Arguments  json.RawMessage    `json:"arguments,omitempty"`
	Findings   []security.Finding `json:"findings,omitempty"`
}

// Prompter asks a human whether a call may proceed. Implementations block
// until an answer arrives or ctx is done, and must not block other calls.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (Answer, error)
}

// PromptFunc adapts a function to the Prompter interface.
type PromptFunc func(ctx context.Context, req PromptRequest) (Answer, error)

// Prompt implements Prompter.
func (f PromptFunc) Prompt(ctx context.Context, req PromptRequest) (Answer, error) {
	return f(ctx, req)
}

// Package prompt provides permission.Prompter implementations for the CLI:
// an interactive terminal prompter and a fixed-answer prompter for
// non-interactive runs.
package prompt

import (
	"context"

	"github.com/flemzord/toolgate/internal/permission"
)

// Static answers every prompt with the same answer. It is used for
// non-interactive runs, where the safe choice is permission.AnswerDeny.
type Static struct {
	Answer permission.Answer
}

var _ permission.Prompter = Static{}

// Prompt implements permission.Prompter.
func (s Static) Prompt(ctx context.Context, _ permission.PromptRequest) (permission.Answer, error) {
	if err := ctx.Err(); err != nil {
		return permission.AnswerDeny, err
	}
	if s.Answer == "" {
		return permission.AnswerDeny, nil
	}
	return s.Answer, nil
}

package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/security"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	summaryStyle = lipgloss.NewStyle().PaddingLeft(2)
	dangerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	noteStyle    = lipgloss.NewStyle().Faint(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

// Terminal asks the user on a terminal. Prompts from concurrent calls are
// shown one at a time.
type Terminal struct {
	in         io.Reader
	out        io.Writer
	accessible bool

	mu sync.Mutex
}

var _ permission.Prompter = (*Terminal)(nil)

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithIO sets the input and output streams. Defaults to stdin and stderr.
func WithIO(in io.Reader, out io.Writer) TerminalOption {
	return func(t *Terminal) {
		t.in = in
		t.out = out
	}
}

// WithAccessible switches the form to line-based prompts for screen readers
// and dumb terminals.
func WithAccessible(on bool) TerminalOption {
	return func(t *Terminal) {
		t.accessible = on
	}
}

// NewTerminal creates a terminal prompter.
func NewTerminal(opts ...TerminalOption) *Terminal {
	t := &Terminal{in: os.Stdin, out: os.Stderr}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Prompt implements permission.Prompter. Aborting the form counts as a denial.
func (t *Terminal) Prompt(ctx context.Context, req permission.PromptRequest) (permission.Answer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return permission.AnswerDeny, err
	}

	if _, err := fmt.Fprintln(t.out, Render(req)); err != nil {
		return permission.AnswerDeny, fmt.Errorf("prompt: write summary: %w", err)
	}

	choice := string(permission.AnswerDeny)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Allow %s?", req.ToolName)).
				Options(
					huh.NewOption("Allow once", string(permission.AnswerAllowOnce)),
					huh.NewOption("Allow for this session", string(permission.AnswerAllowSession)),
					huh.NewOption("Deny", string(permission.AnswerDeny)),
				).
				Value(&choice),
		),
	).WithInput(t.in).WithOutput(t.out).WithAccessible(t.accessible)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return permission.AnswerDeny, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return permission.AnswerDeny, ctxErr
		}
		return permission.AnswerDeny, fmt.Errorf("prompt: %w", err)
	}

	a, ok := permission.ParseAnswer(choice)
	if !ok {
		return permission.AnswerDeny, nil
	}
	return a, nil
}

// Render formats a prompt request as a boxed risk summary.
func Render(req permission.PromptRequest) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Permission required: " + req.ToolName))
	b.WriteString("\n")

	lines := strings.Split(req.Summary, "\n")
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(summaryStyle.Render(l))
	}

	for _, f := range req.Findings {
		if f.Kind != security.FindingDangerousToken {
			continue
		}
		b.WriteString("\n")
		b.WriteString(dangerStyle.Render("! dangerous: " + f.Detail))
	}

	b.WriteString("\n")
	b.WriteString(noteStyle.Render(fmt.Sprintf("call %s, session %s", req.CallID, req.SessionID)))
	return boxStyle.Render(b.String())
}

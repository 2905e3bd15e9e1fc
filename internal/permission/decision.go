// Package permission decides whether a tool call may run. It owns the
// per-session permission state, the ordered decision rules and the bridge to
// an interactive prompter for calls that need a human answer.
package permission

import (
	"fmt"

	"github.com/flemzord/toolgate/internal/tool"
)

// Kind is the outcome of a permission rule.
type Kind string

// Kind values.
const (
	Allow   Kind = "allow"
	Deny    Kind = "deny"
	AskUser Kind = "ask"
)

// Rule identifies which decision rule fired.
type Rule string

// Rule values, in evaluation order.
const (
	RuleHardDeny     Rule = "hard_deny"
	RuleToolDeny     Rule = "tool_deny"
	RuleDangerous    Rule = "dangerous"
	RuleSessionAllow Rule = "session_allow"
	RuleToolAuto     Rule = "tool_auto"
	RuleReadOnly     Rule = "read_only"
	RuleDefault      Rule = "default"
	RuleUser         Rule = "user"
)

// Decision is the transient verdict for one call. It is never persisted.
type Decision struct {
	Kind   Kind
	Rule   Rule
	Reason string
}

func (d Decision) String() string {
	if d.Reason == "" {
		return fmt.Sprintf("%s (%s)", d.Kind, d.Rule)
	}
	return fmt.Sprintf("%s (%s): %s", d.Kind, d.Rule, d.Reason)
}

// DeniedError is returned when a call is denied. It matches
// tool.ErrPermissionDenied under errors.Is.
type DeniedError struct {
	Tool   string
	Rule   Rule
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s: %s (rule %s)", tool.ErrPermissionDenied, e.Tool, e.Reason, e.Rule)
}

// Is reports whether target is tool.ErrPermissionDenied.
func (e *DeniedError) Is(target error) bool {
	return target == tool.ErrPermissionDenied
}

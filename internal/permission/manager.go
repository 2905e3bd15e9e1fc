package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

// DefaultApprovalTimeout bounds how long a call waits for a human answer.
const DefaultApprovalTimeout = 5 * time.Minute

// Config configures a Manager.
type Config struct {
	Prompter        Prompter
	Modes           Modes
	ApprovalTimeout time.Duration
	LogDecisions    bool
	Logger          *slog.Logger
}

// Manager is the single authority deciding whether a call may proceed.
// It is shared by all sessions; per-session data lives in State.
type Manager struct {
	prompter     Prompter
	modes        Modes
	timeout      time.Duration
	logDecisions bool
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]*PendingApproval
}

// NewManager creates a Manager. A nil Prompter denies every call that needs
// a human answer.
func NewManager(cfg Config) *Manager {
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = DefaultApprovalTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		prompter:     cfg.Prompter,
		modes:        cfg.Modes,
		timeout:      cfg.ApprovalTimeout,
		logDecisions: cfg.LogDecisions,
		logger:       cfg.Logger,
		pending:      make(map[string]*PendingApproval),
	}
}

// Decide applies the decision rules in order; the first match wins.
// It never blocks.
func (m *Manager) Decide(req tool.Request, desc tool.Descriptor, findings []security.Finding, st *State) Decision {
	// Rule 1: denied paths and workspace escapes are unconditional.
	for _, f := range findings {
		if prefix, ok := st.deniedPrefix(f.Path); ok {
			return Decision{Kind: Deny, Rule: RuleHardDeny, Reason: fmt.Sprintf("%s is under denied path %s", f.Path, prefix)}
		}
	}
	for _, f := range findings {
		if f.Escapes() {
			return Decision{Kind: Deny, Rule: RuleHardDeny, Reason: fmt.Sprintf("%s: %s", f.Kind, f.Detail)}
		}
	}

	modes := m.modes
	if st.modes != nil {
		modes = *st.modes
	}
	// Rule 1a: per-tool path restrictions hold even under yolo.
	if reason, ok := st.toolPathDenial(desc.Name, modes.Paths[desc.Name], findings); ok {
		return Decision{Kind: Deny, Rule: RuleToolDeny, Reason: reason}
	}
	mode, _ := modes.Resolve(desc.Name)
	if mode == ModeDeny {
		return Decision{Kind: Deny, Rule: RuleToolDeny, Reason: fmt.Sprintf("tool %s is disabled by configuration", desc.Name)}
	}

	yolo := st.Yolo()

	// Rule 2: dangerous tools and tokens always prompt outside yolo mode.
	if reason, ok := dangerReason(desc, findings); ok {
		if yolo {
			return Decision{Kind: Allow, Rule: RuleDangerous, Reason: "yolo mode: " + reason}
		}
		return Decision{Kind: AskUser, Rule: RuleDangerous, Reason: reason}
	}

	if st.Allowed(desc.Name) {
		return Decision{Kind: Allow, Rule: RuleSessionAllow, Reason: "approved for this session"}
	}
	if mode == ModeAuto {
		return Decision{Kind: Allow, Rule: RuleToolAuto, Reason: "auto-approved by configuration"}
	}
	if desc.ReadOnly() {
		return Decision{Kind: Allow, Rule: RuleReadOnly, Reason: "read-only"}
	}

	reason := "requires " + capabilityList(desc.Capabilities)
	if yolo {
		return Decision{Kind: Allow, Rule: RuleDefault, Reason: "yolo mode: " + reason}
	}
	return Decision{Kind: AskUser, Rule: RuleDefault, Reason: reason}
}

// Authorize decides and, for AskUser, blocks the calling goroutine until the
// prompter answers. It returns a *DeniedError for every denial. When ctx is
// cancelled while waiting it returns ctx.Err().
func (m *Manager) Authorize(
	ctx context.Context,
	req tool.Request,
	desc tool.Descriptor,
	findings []security.Finding,
	st *State,
) (Decision, error) {
	d := m.Decide(req, desc, findings, st)
	m.logDecision(req, d)

	switch d.Kind {
	case Allow:
		return d, nil
	case Deny:
		return d, &DeniedError{Tool: desc.Name, Rule: d.Rule, Reason: d.Reason}
	}

	if m.prompter == nil {
		return m.denied(req, desc, RuleUser, d.Reason+"; "+ErrNoPrompter.Error())
	}

	preq := PromptRequest{
		ApprovalID: uuid.NewString(),
		CallID:     req.CallID,
		SessionID:  req.SessionID,
		ToolName:   desc.Name,
		Summary:    Summarize(desc, req.Arguments, findings, d.Reason),
		Arguments:  req.Arguments,
		Findings:   findings,
	}

	pending := NewPendingApproval()
	m.mu.Lock()
	m.pending[preq.ApprovalID] = pending
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, preq.ApprovalID)
		m.mu.Unlock()
	}()

	answer, err := pending.Begin(ctx, m.prompter, preq, m.timeout)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrApprovalTimeout) {
			return Decision{Kind: Deny, Rule: RuleUser, Reason: "cancelled while awaiting approval"}, ctx.Err()
		}
		if errors.Is(err, ErrApprovalTimeout) {
			return m.denied(req, desc, RuleUser, fmt.Sprintf("no answer within %s", m.timeout))
		}
		return m.denied(req, desc, RuleUser, "prompt failed: "+err.Error())
	}

	switch answer {
	case AnswerAllowOnce:
		d = Decision{Kind: Allow, Rule: RuleUser, Reason: "approved once"}
	case AnswerAllowSession:
		st.AllowForSession(desc.Name)
		d = Decision{Kind: Allow, Rule: RuleUser, Reason: "approved for this session"}
	default:
		return m.denied(req, desc, RuleUser, "denied by user")
	}
	m.logDecision(req, d)
	return d, nil
}

// Respond delivers an answer to an outstanding prompt by approval ID.
// It reports whether a pending prompt accepted the answer.
func (m *Manager) Respond(approvalID string, a Answer) bool {
	m.mu.Lock()
	p, ok := m.pending[approvalID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return p.Respond(a)
}

// Pending returns the number of outstanding prompts.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) denied(req tool.Request, desc tool.Descriptor, rule Rule, reason string) (Decision, error) {
	d := Decision{Kind: Deny, Rule: rule, Reason: reason}
	m.logDecision(req, d)
	return d, &DeniedError{Tool: desc.Name, Rule: rule, Reason: reason}
}

func (m *Manager) logDecision(req tool.Request, d Decision) {
	level := slog.LevelDebug
	if m.logDecisions {
		level = slog.LevelInfo
	}
	m.logger.Log(context.Background(), level, "permission decision",
		"call_id", req.CallID,
		"session_id", req.SessionID,
		"tool", req.ToolName,
		"decision", d.Kind,
		"rule", d.Rule,
		"reason", d.Reason,
	)
}

func dangerReason(desc tool.Descriptor, findings []security.Finding) (string, bool) {
	for _, f := range findings {
		if f.Kind == security.FindingDangerousToken {
			return "dangerous command: " + f.Detail, true
		}
	}
	if desc.Has(tool.CapDangerous) {
		return "tool is marked dangerous", true
	}
	return "", false
}

func capabilityList(caps []tool.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, "+") + " access"
}

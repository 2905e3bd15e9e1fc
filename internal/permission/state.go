package permission

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/toolgate/internal/security"
)

// StateConfig seeds a session's permission state.
type StateConfig struct {
	// WorkspaceRoot is the directory file tools are confined to.
	WorkspaceRoot string

	// DeniedPaths are path prefixes that can never be accessed. Relative
	// entries are resolved against WorkspaceRoot.
	DeniedPaths []string

	// Yolo auto-approves prompts. It never bypasses hard denials.
	Yolo bool

	// Modes, when non-nil, replaces the Manager's per-tool modes for this
	// session, so a config reload never changes an open session.
	Modes *Modes

	// Resolver expands symlinks during canonicalization. Nil uses the host.
	Resolver security.Resolver
}

// State is the session-scoped permission state. One mutex guards it; readers
// never observe a partially updated set.
type State struct {
	mu           sync.RWMutex
	root         string
	denied       []string
	sessionAllow map[string]struct{}
	yolo         bool
	yoloUntil    time.Time
	modes        *Modes
	resolver     security.Resolver
	now          func() time.Time
}

// NewState canonicalizes the workspace root and denied paths.
func NewState(cfg StateConfig) (*State, error) {
	if cfg.WorkspaceRoot == "" {
		return nil, fmt.Errorf("permission: workspace root is required")
	}
	abs, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("permission: workspace root: %w", err)
	}
	root, err := security.Canonicalize(cfg.Resolver, abs)
	if err != nil {
		return nil, fmt.Errorf("permission: workspace root: %w", err)
	}

	s := &State{
		root:         root,
		sessionAllow: make(map[string]struct{}),
		yolo:         cfg.Yolo,
		modes:        cfg.Modes,
		resolver:     cfg.Resolver,
		now:          time.Now,
	}
	for _, p := range cfg.DeniedPaths {
		if err := s.denyPath(cfg.Resolver, p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WorkspaceRoot returns the canonical workspace root. It never changes.
func (s *State) WorkspaceRoot() string {
	return s.root
}

// Yolo reports whether prompts are currently auto-approved.
func (s *State) Yolo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.yolo {
		return true
	}
	return !s.yoloUntil.IsZero() && s.now().Before(s.yoloUntil)
}

// SetYolo switches yolo mode for the rest of the session.
func (s *State) SetYolo(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yolo = on
	if !on {
		s.yoloUntil = time.Time{}
	}
}

// YoloFor enables yolo mode for a bounded duration.
func (s *State) YoloFor(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yoloUntil = s.now().Add(d)
}

// Allowed reports whether the user granted toolName for the session.
func (s *State) Allowed(toolName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessionAllow[toolName]
	return ok
}

// AllowForSession adds toolName to the session allow-set.
func (s *State) AllowForSession(toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionAllow[toolName] = struct{}{}
}

// SessionAllowed returns the session allow-set, sorted.
func (s *State) SessionAllowed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessionAllow))
	for name := range s.sessionAllow {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// DenyPath adds a denied prefix. Denied paths never shrink.
func (s *State) DenyPath(p string) error {
	return s.denyPath(nil, p)
}

func (s *State) denyPath(r security.Resolver, p string) error {
	if p == "" {
		return nil
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, p)
	}
	canon, err := security.Canonicalize(r, abs)
	if err != nil {
		return fmt.Errorf("permission: denied path %q: %w", p, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.denied, canon) {
		s.denied = append(s.denied, canon)
	}
	return nil
}

// DeniedPaths returns a copy of the canonical denied prefixes.
func (s *State) DeniedPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.denied)
}

// deniedPrefix returns the denied prefix covering path, if any.
func (s *State) deniedPrefix(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.denied {
		if security.Within(path, d) {
			return d, true
		}
	}
	return "", false
}

// toolPathDenial applies one tool's path rules to the resolved paths in
// findings and returns the reason for the first violation.
func (s *State) toolPathDenial(toolName string, rules PathRules, findings []security.Finding) (string, bool) {
	if rules.Empty() {
		return "", false
	}
	denied := s.resolveRules(rules.Denied)
	allowed := s.resolveRules(rules.Allowed)
	for _, f := range findings {
		if f.Path == "" {
			continue
		}
		for _, d := range denied {
			if security.Within(f.Path, d) {
				return fmt.Sprintf("%s may not access %s (denied path %s)", toolName, f.Path, d), true
			}
		}
		if len(rules.Allowed) > 0 && !slices.ContainsFunc(allowed, func(a string) bool { return security.Within(f.Path, a) }) {
			return fmt.Sprintf("%s may only access %s", toolName, strings.Join(rules.Allowed, ", ")), true
		}
	}
	return "", false
}

// resolveRules canonicalizes rule entries against the workspace root. An
// entry that cannot be resolved is kept lexically so it still matches.
func (s *State) resolveRules(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(s.root, p)
		}
		canon, err := security.Canonicalize(s.resolver, abs)
		if err != nil {
			canon = filepath.Clean(abs)
		}
		out = append(out, canon)
	}
	return out
}

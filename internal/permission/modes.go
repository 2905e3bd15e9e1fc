package permission

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Mode is a per-tool override configured by the operator.
type Mode string

const (
	// ModeAuto lets the tool run without a prompt once hard checks pass.
	ModeAuto Mode = "auto"

	// ModePrompt keeps the default rules (the zero value behaves the same).
	ModePrompt Mode = "prompt"

	// ModeDeny blocks the tool entirely.
	ModeDeny Mode = "deny"
)

// ErrToolInMultipleLists is returned when a tool appears in conflicting mode
// lists (e.g., both auto and deny).
var ErrToolInMultipleLists = errors.New("tool appears in conflicting mode lists")

// Modes holds the configured per-tool overrides.
type Modes struct {
	// Tools maps tool names to explicit modes.
	Tools map[string]Mode

	// Auto lists tools that run without confirmation.
	Auto []string

	// Prompt lists tools that follow the default rules.
	Prompt []string

	// Deny lists tools that must never execute.
	Deny []string

	// Paths restricts the workspace paths individual tools may touch.
	Paths map[string]PathRules
}

// PathRules confine one tool to part of the workspace. Relative entries
// resolve against the session's workspace root.
type PathRules struct {
	// Denied paths are refused to the tool, also under yolo.
	Denied []string

	// Allowed, when non-empty, is the only part of the workspace the tool
	// may touch.
	Allowed []string
}

// Empty reports whether r restricts nothing.
func (r PathRules) Empty() bool {
	return len(r.Denied) == 0 && len(r.Allowed) == 0
}

// Resolve returns the explicit mode for toolName.
// Resolution order: explicit tool mapping > deny > prompt > auto.
func (m Modes) Resolve(toolName string) (Mode, bool) {
	for name, mode := range m.Tools {
		if strings.TrimSpace(name) == toolName {
			return mode, true
		}
	}
	if inList(m.Deny, toolName) {
		return ModeDeny, true
	}
	if inList(m.Prompt, toolName) {
		return ModePrompt, true
	}
	if inList(m.Auto, toolName) {
		return ModeAuto, true
	}
	return "", false
}

// Validate checks that every mode is known and that no tool is listed with
// conflicting modes.
func (m Modes) Validate() error {
	explicit := make(map[string]Mode)
	for name, mode := range m.Tools {
		toolName := strings.TrimSpace(name)
		if toolName == "" {
			return fmt.Errorf("modes: tool mapping has empty name")
		}
		if !mode.Valid() {
			return fmt.Errorf("modes: tool %q has invalid mode %q", toolName, mode)
		}
		explicit[toolName] = mode
	}

	for name, rules := range m.Paths {
		for _, p := range slices.Concat(rules.Denied, rules.Allowed) {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("modes: tool %q has an empty path rule", name)
			}
		}
	}

	if err := validateList(m.Auto, ModeAuto, explicit); err != nil {
		return err
	}
	if err := validateList(m.Prompt, ModePrompt, explicit); err != nil {
		return err
	}
	return validateList(m.Deny, ModeDeny, explicit)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModePrompt, ModeDeny:
		return true
	default:
		return false
	}
}

func validateList(names []string, mode Mode, explicit map[string]Mode) error {
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return fmt.Errorf("modes: %s list contains empty tool name", mode)
		}
		if existing, ok := explicit[name]; ok && existing != mode {
			return fmt.Errorf("%w: tool %q appears in both %q and %q", ErrToolInMultipleLists, name, existing, mode)
		}
		explicit[name] = mode
	}
	return nil
}

func inList(list []string, name string) bool {
	for _, candidate := range list {
		if strings.TrimSpace(candidate) == name {
			return true
		}
	}
	return false
}

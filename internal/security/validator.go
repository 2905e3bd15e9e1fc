package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FindingKind classifies what the validator observed about an argument.
type FindingKind string

// FindingKind values.
const (
	FindingNone           FindingKind = "none"
	FindingPathTraversal  FindingKind = "path_traversal"
	FindingAbsoluteEscape FindingKind = "absolute_escape"
	FindingDangerousToken FindingKind = "dangerous_token"
)

// Finding is the validator's verdict on one path or command.
type Finding struct {
	Kind   FindingKind `json:"kind"`
	Detail string      `json:"detail,omitempty"`

	// Path is the canonical target of a path finding. Empty for commands or
	// when the path could not be resolved.
	Path string `json:"path,omitempty"`
}

// Clean reports whether the finding is FindingNone.
func (f Finding) Clean() bool { return f.Kind == FindingNone }

// Escapes reports whether the finding is a workspace escape.
func (f Finding) Escapes() bool {
	return f.Kind == FindingPathTraversal || f.Kind == FindingAbsoluteEscape
}

// CommandRules is the configurable denylist applied to argument vectors.
type CommandRules struct {
	// Commands are program basenames, matched with filepath.Match.
	Commands []string `yaml:"dangerous_commands"`

	// Patterns are substrings matched against the space-joined argv.
	Patterns []string `yaml:"dangerous_patterns"`

	// Metacharacters are shell sequences that indicate chaining or
	// substitution inside a single literal command.
	Metacharacters []string `yaml:"metacharacters"`
}

// DefaultCommandRules returns the built-in denylist.
func DefaultCommandRules() CommandRules {
	return CommandRules{
		Commands: []string{
			"sudo", "su", "doas", "pkexec", "runas",
			"mkfs", "mkfs.*", "mkswap", "wipefs", "fdisk", "sfdisk", "parted", "dd", "shred",
			"shutdown", "reboot", "halt", "poweroff", "init",
			"curl", "wget", "nc", "netcat", "ncat", "socat", "telnet", "ftp", "sftp",
			"ssh", "scp", "rsync",
		},
		Patterns: []string{
			"--no-preserve-root",
			"chmod -R 777",
			"chmod 777 /",
			"chown -R root",
			":(){",
			"of=/dev/",
			"> /dev/sd",
		},
		Metacharacters: []string{";", "&&", "||", "|", "`", "$(", ">", "<"},
	}
}

// wrappers are programs that run another program named in their arguments.
var wrappers = map[string]struct{}{
	"env": {}, "nice": {}, "nohup": {}, "timeout": {}, "time": {},
	"xargs": {}, "command": {}, "exec": {}, "stdbuf": {}, "ionice": {},
}

var shells = map[string]struct{}{
	"sh": {}, "bash": {}, "zsh": {}, "dash": {}, "ksh": {}, "fish": {}, "busybox": {},
}

// Validator performs side-effect-free inspection of proposed tool arguments.
// It holds no mutable state and is safe for concurrent use. Path checks issue
// read-only metadata lookups through its Resolver to expand symlinks.
type Validator struct {
	resolver Resolver
	rules    CommandRules
}

// NewValidator creates a validator. A nil resolver uses the host filesystem.
// Zero-value rules fall back to DefaultCommandRules.
func NewValidator(resolver Resolver, rules CommandRules) *Validator {
	if resolver == nil {
		resolver = OSResolver()
	}
	defaults := DefaultCommandRules()
	if rules.Commands == nil {
		rules.Commands = defaults.Commands
	}
	if rules.Patterns == nil {
		rules.Patterns = defaults.Patterns
	}
	if rules.Metacharacters == nil {
		rules.Metacharacters = defaults.Metacharacters
	}
	return &Validator{resolver: resolver, rules: rules}
}

// Resolver returns the resolver used for symlink expansion.
func (v *Validator) Resolver() Resolver { return v.resolver }

// ValidatePath canonicalizes candidate against workspaceRoot and checks that
// it stays inside. Symlinks are expanded before the containment check.
func (v *Validator) ValidatePath(candidate, workspaceRoot string) Finding {
	if strings.TrimSpace(candidate) == "" {
		return Finding{Kind: FindingPathTraversal, Detail: "empty path"}
	}
	if strings.ContainsRune(candidate, 0) {
		return Finding{Kind: FindingPathTraversal, Detail: "path contains NUL byte"}
	}

	root, err := Canonicalize(v.resolver, workspaceRoot)
	if err != nil {
		return Finding{Kind: FindingPathTraversal, Detail: fmt.Sprintf("workspace root unresolvable: %v", err)}
	}

	escape := FindingPathTraversal
	if filepath.IsAbs(candidate) {
		escape = FindingAbsoluteEscape
	}

	resolved, err := JoinWorkspace(v.resolver, root, candidate)
	if err != nil {
		return Finding{Kind: escape, Detail: fmt.Sprintf("%s: cannot resolve: %v", candidate, err)}
	}

	if !Within(resolved, root) {
		return Finding{
			Kind:   escape,
			Detail: fmt.Sprintf("%s resolves to %s outside workspace %s", candidate, resolved, root),
			Path:   resolved,
		}
	}
	return Finding{Kind: FindingNone, Path: resolved}
}

// ValidateCommand inspects an argument vector against the denylist.
// It is a conservative token matcher, not a shell parser.
func (v *Validator) ValidateCommand(tokens []string) Finding {
	if len(tokens) == 0 {
		return Finding{Kind: FindingNone}
	}

	for i, tok := range tokens {
		for _, meta := range v.rules.Metacharacters {
			if meta != "" && strings.Contains(tok, meta) {
				return dangerous("shell metacharacter %q in argument %d", meta, i)
			}
		}
	}

	joined := strings.Join(tokens, " ")
	for _, p := range v.rules.Patterns {
		if p != "" && strings.Contains(joined, p) {
			return dangerous("matches dangerous pattern %q", p)
		}
	}

	for _, argv := range commandPositions(tokens) {
		name := filepath.Base(argv[0])
		for _, pattern := range v.rules.Commands {
			if ok, _ := filepath.Match(pattern, name); ok {
				return dangerous("%s is a denylisted command", name)
			}
		}
		if name == "rm" && recursiveForce(argv[1:]) {
			return dangerous("recursive forced delete: %s", strings.Join(argv, " "))
		}
		if _, ok := shells[name]; ok && hasFlag(argv[1:], "-c") {
			return dangerous("%s -c runs a shell script", name)
		}
	}

	return Finding{Kind: FindingNone}
}

// Inspect validates every path against root and the command, if any.
// It returns one finding per subject so callers can match denied paths even
// when the path is otherwise clean.
func (v *Validator) Inspect(paths []string, command []string, root string) []Finding {
	findings := make([]Finding, 0, len(paths)+1)
	for _, p := range paths {
		findings = append(findings, v.ValidatePath(p, root))
	}
	if len(command) > 0 {
		findings = append(findings, v.ValidateCommand(command))
	}
	return findings
}

func dangerous(format string, args ...any) Finding {
	return Finding{Kind: FindingDangerousToken, Detail: fmt.Sprintf(format, args...)}
}

// commandPositions returns the argv slices starting at every program that
// will run: the command itself plus whatever wrappers like env or nice launch.
func commandPositions(tokens []string) [][]string {
	var out [][]string
	for len(tokens) > 0 {
		out = append(out, tokens)
		if _, ok := wrappers[filepath.Base(tokens[0])]; !ok {
			break
		}
		rest := tokens[1:]
		for len(rest) > 0 && wrapperOperand(rest[0]) {
			rest = rest[1:]
		}
		tokens = rest
	}
	return out
}

// wrapperOperand reports whether tok is an option, an env assignment or a
// numeric operand (timeout/nice values) rather than the wrapped program.
func wrapperOperand(tok string) bool {
	if strings.HasPrefix(tok, "-") || strings.Contains(tok, "=") {
		return true
	}
	trimmed := strings.TrimRight(tok, "smhd")
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func recursiveForce(args []string) bool {
	var recursive, force bool
	for _, a := range args {
		switch {
		case a == "--":
			return recursive && force
		case a == "--recursive":
			recursive = true
		case a == "--force":
			force = true
		case strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--"):
			if strings.ContainsAny(a, "rR") {
				recursive = true
			}
			if strings.Contains(a, "f") {
				force = true
			}
		}
	}
	return recursive && force
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
		if strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.Contains(a, strings.TrimPrefix(flag, "-")) {
			return true
		}
	}
	return false
}

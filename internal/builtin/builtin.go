// Package builtin provides the representative tools: process execution and
// workspace file access. Every path argument is resolved against the session
// workspace with the same symlink-aware canonicalization the safety
// validator uses, so the file a tool opens is the file that was approved.
package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

// Options configures the builtin tools.
type Options struct {
	// Sandbox wraps command tools in a container when enabled. May be nil.
	Sandbox *security.Sandbox

	// Resolver expands symlinks. Nil uses the host filesystem.
	Resolver security.Resolver
}

// Tools returns every builtin tool in registration order.
func Tools(opts Options) []tool.Tool {
	return []tool.Tool{
		NewRunCommand(opts),
		NewRunShell(opts),
		NewReadFile(opts),
		NewWriteFile(opts),
		NewEditFile(opts),
		NewSearch(opts),
		NewListDir(opts),
	}
}

// Register adds every builtin tool to reg.
func Register(reg *tool.Registry, opts Options) error {
	for _, t := range Tools(opts) {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// decode unmarshals args into v. Empty arguments decode as an empty object.
func decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %w", tool.ErrInvalidArguments, err)
	}
	return nil
}

// resolve maps a model-supplied path to its canonical location inside the
// workspace. An empty path is the workspace root.
func resolve(r security.Resolver, workspace, p string) (string, error) {
	if p == "" {
		return workspace, nil
	}
	resolved, err := security.JoinWorkspace(r, workspace, p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if !security.Within(resolved, workspace) {
		return "", fmt.Errorf("%s is outside the workspace", p)
	}
	return resolved, nil
}

// pathSubjects returns the subjects for a tool whose only path argument is
// named "path". An absent path defaults to the workspace root.
func pathSubjects(args json.RawMessage) (tool.Subjects, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := decode(args, &in); err != nil {
		return tool.Subjects{}, err
	}
	if in.Path == "" {
		in.Path = "."
	}
	return tool.Subjects{Paths: []string{in.Path}}, nil
}

package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aymanbagabas/go-udiff"

	"github.com/flemzord/toolgate/internal/tool"
)

// ErrNoMatch is returned when old_string does not occur in the file.
var ErrNoMatch = errors.New("old_string not found")

// ErrAmbiguousMatch is returned when old_string occurs more than once and
// replace_all is not set.
var ErrAmbiguousMatch = errors.New("old_string is not unique")

// EditFile replaces an exact string in a workspace file.
type EditFile struct {
	opts Options
}

type editFileArgs struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

// NewEditFile creates the edit_file tool.
func NewEditFile(opts Options) *EditFile {
	return &EditFile{opts: opts}
}

func (t *EditFile) Name() string { return "edit_file" }
func (t *EditFile) Description() string {
	return "Replace an exact string in a workspace file. The string must match exactly once unless replace_all is set."
}

func (t *EditFile) Schema() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {
			"type": "string",
			"minLength": 1,
			"description": "File path relative to the workspace"
		},
		"old_string": {
			"type": "string",
			"minLength": 1,
			"description": "Exact text to replace"
		},
		"new_string": {
			"type": "string",
			"description": "Replacement text"
		},
		"replace_all": {
			"type": "boolean",
			"description": "Replace every occurrence instead of requiring a unique match"
		}
	},
	"required": ["path", "old_string", "new_string"],
	"additionalProperties": false
}`)
}

func (t *EditFile) Capabilities() []tool.Capability {
	return []tool.Capability{tool.CapWrite}
}

// Subjects implements tool.Subjecter.
func (t *EditFile) Subjects(args json.RawMessage) (tool.Subjects, error) {
	return pathSubjects(args)
}

func (t *EditFile) Execute(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error) {
	var in editFileArgs
	if err := decode(args, &in); err != nil {
		return tool.Response{}, err
	}
	if in.OldString == in.NewString {
		return tool.Response{}, fmt.Errorf("%w: old_string and new_string are identical", tool.ErrInvalidArguments)
	}
	path, err := resolve(t.opts.Resolver, env.Workspace, in.Path)
	if err != nil {
		return tool.Response{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return tool.Response{}, err
	}
	data, err := readAll(ctx, f, maxFileSize(env))
	f.Close()
	if err != nil {
		return tool.Response{}, fmt.Errorf("read %s: %w", in.Path, err)
	}
	if isBinary(data) {
		return tool.Response{}, fmt.Errorf("%w: %s", ErrBinaryFile, in.Path)
	}

	before := string(data)
	count := strings.Count(before, in.OldString)
	switch {
	case count == 0:
		return tool.Response{}, fmt.Errorf("%w in %s", ErrNoMatch, in.Path)
	case count > 1 && !in.ReplaceAll:
		return tool.Response{}, fmt.Errorf("%w: %d matches in %s, add context or set replace_all", ErrAmbiguousMatch, count, in.Path)
	}

	after := strings.ReplaceAll(before, in.OldString, in.NewString)
	if int64(len(after)) > maxFileSize(env) {
		return tool.Response{}, fmt.Errorf("%w: edited %s would be %d bytes", ErrFileTooLarge, in.Path, len(after))
	}
	if _, err := writeAtomic(ctx, path, []byte(after)); err != nil {
		return tool.Response{}, fmt.Errorf("write %s: %w", in.Path, err)
	}

	diff := udiff.Unified(in.Path, in.Path, before, after)
	return tool.Success(fmt.Sprintf("Edited %s (%d replacements)\n%s", in.Path, count, diff), map[string]any{
		"path":         in.Path,
		"replacements": count,
		"diff":         diff,
	}), nil
}

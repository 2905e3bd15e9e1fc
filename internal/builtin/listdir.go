package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flemzord/toolgate/internal/tool"
)

// ListDir lists the entries of a workspace directory.
type ListDir struct {
	opts Options
}

type listDirArgs struct {
	Path   string   `json:"path"`
	Ignore []string `json:"ignore"`
}

// NewListDir creates the list_dir tool.
func NewListDir(opts Options) *ListDir {
	return &ListDir{opts: opts}
}

func (t *ListDir) Name() string { return "list_dir" }
func (t *ListDir) Description() string {
	return "List a workspace directory. Directories come first and end with '/'."
}

func (t *ListDir) Schema() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {
			"type": "string",
			"description": "Directory relative to the workspace (default: workspace root)"
		},
		"ignore": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Glob patterns of entry names to leave out"
		}
	},
	"additionalProperties": false
}`)
}

func (t *ListDir) Capabilities() []tool.Capability {
	return []tool.Capability{tool.CapRead}
}

// Subjects implements tool.Subjecter.
func (t *ListDir) Subjects(args json.RawMessage) (tool.Subjects, error) {
	return pathSubjects(args)
}

func (t *ListDir) Execute(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error) {
	var in listDirArgs
	if err := decode(args, &in); err != nil {
		return tool.Response{}, err
	}
	for _, p := range in.Ignore {
		if !doublestar.ValidatePattern(p) {
			return tool.Response{}, fmt.Errorf("%w: ignore: bad glob %q", tool.ErrInvalidArguments, p)
		}
	}
	dir, err := resolve(t.opts.Resolver, env.Workspace, in.Path)
	if err != nil {
		return tool.Response{}, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return tool.Response{}, err
	}

	var dirs, files []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return tool.Response{}, err
		}
		if ignored(e.Name(), in.Ignore) {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, e.Name()+"/")
		} else {
			files = append(files, e.Name())
		}
	}
	slices.Sort(dirs)
	slices.Sort(files)
	items := append(dirs, files...)

	md := map[string]any{"path": in.Path, "total_items": len(items)}
	if len(items) == 0 {
		return tool.Success("(empty directory)", md), nil
	}
	return tool.Success(strings.Join(items, "\n"), md), nil
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flemzord/toolgate/internal/tool"
)

// Search result limits.
const (
	DefaultMaxResults = 200
	maxResultsCeiling = 2000
	maxLineLength     = 500
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// Search finds lines matching a regular expression.
type Search struct {
	opts Options
}

type searchArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	Include    string `json:"include"`
	MaxResults int    `json:"max_results"`
}

// NewSearch creates the search tool.
func NewSearch(opts Options) *Search {
	return &Search{opts: opts}
}

func (t *Search) Name() string { return "search" }
func (t *Search) Description() string {
	return "Search workspace files for lines matching a regular expression (RE2 syntax). Results are file:line: text."
}

func (t *Search) Schema() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"pattern": {
			"type": "string",
			"minLength": 1,
			"description": "RE2 regular expression"
		},
		"path": {
			"type": "string",
			"description": "File or directory to search, relative to the workspace (default: workspace root)"
		},
		"include": {
			"type": "string",
			"description": "Glob filter on file paths, e.g. '*.go' or 'internal/**/*.go'"
		},
		"max_results": {
			"type": "integer",
			"minimum": 1,
			"maximum": 2000,
			"description": "Maximum number of matching lines (default 200)"
		}
	},
	"required": ["pattern"],
	"additionalProperties": false
}`)
}

func (t *Search) Capabilities() []tool.Capability {
	return []tool.Capability{tool.CapRead}
}

// Subjects implements tool.Subjecter.
func (t *Search) Subjects(args json.RawMessage) (tool.Subjects, error) {
	return pathSubjects(args)
}

func (t *Search) Execute(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error) {
	var in searchArgs
	if err := decode(args, &in); err != nil {
		return tool.Response{}, err
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return tool.Response{}, fmt.Errorf("%w: pattern: %w", tool.ErrInvalidArguments, err)
	}
	if in.Include != "" && !doublestar.ValidatePattern(in.Include) {
		return tool.Response{}, fmt.Errorf("%w: include: bad glob %q", tool.ErrInvalidArguments, in.Include)
	}
	limit := in.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	limit = min(limit, maxResultsCeiling)

	root, err := resolve(t.opts.Resolver, env.Workspace, in.Path)
	if err != nil {
		return tool.Response{}, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return tool.Response{}, err
	}

	s := &searcher{
		re:        re,
		include:   in.Include,
		workspace: env.Workspace,
		root:      root,
		limit:     limit,
		files:     make(map[string]struct{}),
	}
	if info.IsDir() {
		err = s.walk(ctx)
	} else {
		err = s.file(root)
	}
	if err != nil {
		return tool.Response{}, err
	}

	md := map[string]any{
		"matches":   len(s.lines),
		"files":     len(s.files),
		"truncated": s.truncated,
	}
	if len(s.lines) == 0 {
		return tool.Success(fmt.Sprintf("No matches for %q", in.Pattern), md), nil
	}
	out := strings.Join(s.lines, "\n")
	if s.truncated {
		out += fmt.Sprintf("\n[results truncated at %d matches]", limit)
	}
	return tool.Success(out, md), nil
}

type searcher struct {
	re        *regexp.Regexp
	include   string
	workspace string
	root      string
	limit     int

	lines     []string
	files     map[string]struct{}
	truncated bool
}

func (s *searcher) walk(ctx context.Context) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.included(path) {
			return nil
		}
		if err := s.file(path); err != nil {
			return err
		}
		if s.truncated {
			return filepath.SkipAll
		}
		return nil
	})
}

func (s *searcher) included(path string) bool {
	if s.include == "" {
		return true
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if ok, _ := doublestar.Match(s.include, rel); ok {
		return true
	}
	// Patterns without a separator match the base name anywhere in the tree.
	if !strings.Contains(s.include, "/") {
		ok, _ := doublestar.Match(s.include, filepath.Base(path))
		return ok
	}
	return false
}

func (s *searcher) file(path string) error {
	if isBinaryFile(path) {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	display := path
	if rel, err := filepath.Rel(s.workspace, path); err == nil {
		display = filepath.ToSlash(rel)
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if !s.re.MatchString(line) {
			continue
		}
		if len(s.lines) >= s.limit {
			s.truncated = true
			return nil
		}
		if len(line) > maxLineLength {
			line = truncateUTF8(line, maxLineLength) + "..."
		}
		s.lines = append(s.lines, fmt.Sprintf("%s:%d: %s", display, n, strings.TrimRight(line, "\r")))
		s.files[display] = struct{}{}
	}
	// A line longer than the scanner buffer ends the file early; what was
	// found so far is kept.
	return nil
}

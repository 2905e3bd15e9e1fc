package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/flemzord/toolgate/internal/tool"
)

// DefaultMaxFileSize caps file reads and writes when the environment sets no
// limit.
const DefaultMaxFileSize = 50_000_000

const readChunk = 64 << 10

// ErrFileTooLarge is returned for files above the size limit.
var ErrFileTooLarge = errors.New("file too large")

// ErrBinaryFile is returned when a text tool is pointed at a binary file.
var ErrBinaryFile = errors.New("binary file")

func maxFileSize(env tool.ExecutionEnv) int64 {
	if env.MaxFileSize > 0 {
		return env.MaxFileSize
	}
	return DefaultMaxFileSize
}

// readAll reads f in chunks, checking ctx between them.
func readAll(ctx context.Context, f io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := f.Read(chunk)
		buf.Write(chunk[:n])
		if int64(buf.Len()) > limit {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, limit)
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ReadFile returns the text of a workspace file.
type ReadFile struct {
	opts Options
}

type readFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// NewReadFile creates the read_file tool.
func NewReadFile(opts Options) *ReadFile {
	return &ReadFile{opts: opts}
}

func (t *ReadFile) Name() string { return "read_file" }
func (t *ReadFile) Description() string {
	return "Read a text file from the workspace, optionally a window of lines."
}

func (t *ReadFile) Schema() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {
			"type": "string",
			"minLength": 1,
			"description": "File path relative to the workspace"
		},
		"offset": {
			"type": "integer",
			"minimum": 1,
			"description": "First line to return, 1-based"
		},
		"limit": {
			"type": "integer",
			"minimum": 1,
			"description": "Maximum number of lines to return"
		}
	},
	"required": ["path"],
	"additionalProperties": false
}`)
}

func (t *ReadFile) Capabilities() []tool.Capability {
	return []tool.Capability{tool.CapRead}
}

// Subjects implements tool.Subjecter.
func (t *ReadFile) Subjects(args json.RawMessage) (tool.Subjects, error) {
	return pathSubjects(args)
}

func (t *ReadFile) Execute(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error) {
	var in readFileArgs
	if err := decode(args, &in); err != nil {
		return tool.Response{}, err
	}
	path, err := resolve(t.opts.Resolver, env.Workspace, in.Path)
	if err != nil {
		return tool.Response{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return tool.Response{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return tool.Response{}, err
	}
	if info.IsDir() {
		return tool.Response{}, fmt.Errorf("%s is a directory", in.Path)
	}
	limit := maxFileSize(env)
	if info.Size() > limit {
		return tool.Response{}, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrFileTooLarge, in.Path, info.Size(), limit)
	}

	data, err := readAll(ctx, f, limit)
	if err != nil {
		return tool.Response{}, fmt.Errorf("read %s: %w", in.Path, err)
	}
	if isBinary(data) {
		return tool.Response{}, fmt.Errorf("%w: %s", ErrBinaryFile, in.Path)
	}

	text, lines, truncated := window(string(data), in.Offset, in.Limit)
	return tool.Success(text, map[string]any{
		"path":      in.Path,
		"bytes":     len(data),
		"lines":     lines,
		"truncated": truncated,
	}), nil
}

// window returns lines [offset, offset+limit) of text, 1-based, along with
// the file's total line count and whether lines were left out.
func window(text string, offset, limit int) (string, int, bool) {
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)
	if offset <= 1 && limit <= 0 {
		return text, total, false
	}

	start := max(offset, 1) - 1
	if start > total {
		start = total
	}
	end := total
	if limit > 0 && start+limit < total {
		end = start + limit
	}
	return strings.Join(lines[start:end], ""), total, start > 0 || end < total
}

// WriteFile creates or replaces a workspace file.
type WriteFile struct {
	opts Options
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// NewWriteFile creates the write_file tool.
func NewWriteFile(opts Options) *WriteFile {
	return &WriteFile{opts: opts}
}

func (t *WriteFile) Name() string { return "write_file" }
func (t *WriteFile) Description() string {
	return "Write a file in the workspace, creating parent directories. Replaces the whole file."
}

func (t *WriteFile) Schema() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {
			"type": "string",
			"minLength": 1,
			"description": "File path relative to the workspace"
		},
		"content": {
			"type": "string",
			"description": "Full file content"
		}
	},
	"required": ["path", "content"],
	"additionalProperties": false
}`)
}

func (t *WriteFile) Capabilities() []tool.Capability {
	return []tool.Capability{tool.CapWrite}
}

// Subjects implements tool.Subjecter.
func (t *WriteFile) Subjects(args json.RawMessage) (tool.Subjects, error) {
	return pathSubjects(args)
}

func (t *WriteFile) Execute(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error) {
	var in writeFileArgs
	if err := decode(args, &in); err != nil {
		return tool.Response{}, err
	}
	if limit := maxFileSize(env); int64(len(in.Content)) > limit {
		return tool.Response{}, fmt.Errorf("%w: content is %d bytes, limit is %d", ErrFileTooLarge, len(in.Content), limit)
	}
	path, err := resolve(t.opts.Resolver, env.Workspace, in.Path)
	if err != nil {
		return tool.Response{}, err
	}
	if path == env.Workspace {
		return tool.Response{}, fmt.Errorf("%s is a directory", in.Path)
	}

	created, err := writeAtomic(ctx, path, []byte(in.Content))
	if err != nil {
		return tool.Response{}, fmt.Errorf("write %s: %w", in.Path, err)
	}

	verb := "Updated"
	if created {
		verb = "Created"
	}
	return tool.Success(fmt.Sprintf("%s %s (%d bytes)", verb, in.Path, len(in.Content)), map[string]any{
		"path":    in.Path,
		"bytes":   len(in.Content),
		"created": created,
	}), nil
}

// writeAtomic replaces path with data through a temp file in the same
// directory. An existing file keeps its permission bits.
func writeAtomic(ctx context.Context, path string, data []byte) (created bool, err error) {
	mode := fs.FileMode(0o644)
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return false, fmt.Errorf("%s is a directory", path)
		}
		mode = info.Mode().Perm()
	case errors.Is(err, fs.ErrNotExist):
		created = true
	default:
		return false, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	for rest := data; len(rest) > 0; {
		if err = ctx.Err(); err != nil {
			tmp.Close()
			return false, err
		}
		n := min(len(rest), readChunk)
		if _, err = tmp.Write(rest[:n]); err != nil {
			tmp.Close()
			return false, err
		}
		rest = rest[n:]
	}
	if err = tmp.Chmod(mode); err != nil {
		tmp.Close()
		return false, err
	}
	if err = tmp.Close(); err != nil {
		return false, err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return false, err
	}
	return created, nil
}

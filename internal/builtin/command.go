package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/flemzord/toolgate/internal/process"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

// CommandTimeout is the default budget of the command tools.
const CommandTimeout = 2 * time.Minute

// DefaultMaxOutputBytes caps captured output when the environment sets no limit.
const DefaultMaxOutputBytes = 1 << 20

const (
	stderrHeader    = "\n--- STDERR ---\n"
	noOutput        = "(No output)"
	truncatedMarker = "\n[output truncated]"
)

// RunCommand executes an argument vector without a shell.
type RunCommand struct {
	opts Options
}

type runCommandArgs struct {
	Command     []string `json:"command"`
	Workdir     string   `json:"workdir"`
	TimeoutMS   int64    `json:"timeout_ms"`
	Description string   `json:"description"`
}

// NewRunCommand creates the run_command tool.
func NewRunCommand(opts Options) *RunCommand {
	return &RunCommand{opts: opts}
}

func (t *RunCommand) Name() string { return "run_command" }
func (t *RunCommand) Description() string {
	return "Run a program with arguments in the workspace. No shell is involved: pipes, redirects and globbing are not interpreted."
}

func (t *RunCommand) Schema() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1,
			"description": "Program and arguments, e.g. [\"go\", \"test\", \"./...\"]"
		},
		"workdir": {
			"type": "string",
			"description": "Working directory relative to the workspace (default: workspace root)"
		},
		"timeout_ms": {
			"type": "integer",
			"minimum": 1,
			"description": "Timeout in milliseconds; can only shorten the configured budget"
		},
		"description": {
			"type": "string",
			"description": "Short human-readable purpose of the command"
		}
	},
	"required": ["command"],
	"additionalProperties": false
}`)
}

func (t *RunCommand) Capabilities() []tool.Capability {
	return commandCapabilities(t.opts.Sandbox, tool.CapExecute)
}

// DefaultTimeout implements tool.Timeouter.
func (t *RunCommand) DefaultTimeout() time.Duration { return CommandTimeout }

// Subjects implements tool.Subjecter.
func (t *RunCommand) Subjects(args json.RawMessage) (tool.Subjects, error) {
	var in runCommandArgs
	if err := decode(args, &in); err != nil {
		return tool.Subjects{}, err
	}
	s := tool.Subjects{Command: in.Command}
	if in.Workdir != "" {
		s.Paths = []string{in.Workdir}
	}
	return s, nil
}

func (t *RunCommand) Execute(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error) {
	var in runCommandArgs
	if err := decode(args, &in); err != nil {
		return tool.Response{}, err
	}
	if len(in.Command) == 0 || in.Command[0] == "" {
		return tool.Response{}, fmt.Errorf("%w: command is empty", tool.ErrInvalidArguments)
	}
	dir, err := resolve(t.opts.Resolver, env.Workspace, in.Workdir)
	if err != nil {
		return tool.Response{}, err
	}
	return runProcess(ctx, env, t.opts.Sandbox, processSpec{
		argv:      in.Command,
		display:   strings.Join(in.Command, " "),
		dir:       dir,
		timeoutMS: in.TimeoutMS,
	})
}

// RunShell runs a script through sh -c. It is always dangerous.
type RunShell struct {
	opts Options
}

type runShellArgs struct {
	Script      string `json:"script"`
	Workdir     string `json:"workdir"`
	TimeoutMS   int64  `json:"timeout_ms"`
	Description string `json:"description"`
}

// NewRunShell creates the run_shell tool.
func NewRunShell(opts Options) *RunShell {
	return &RunShell{opts: opts}
}

func (t *RunShell) Name() string { return "run_shell" }
func (t *RunShell) Description() string {
	return "Run a shell script with sh -c in the workspace. Requires explicit approval unless yolo mode is on."
}

func (t *RunShell) Schema() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"script": {
			"type": "string",
			"minLength": 1,
			"description": "Shell script passed to sh -c"
		},
		"workdir": {
			"type": "string",
			"description": "Working directory relative to the workspace (default: workspace root)"
		},
		"timeout_ms": {
			"type": "integer",
			"minimum": 1,
			"description": "Timeout in milliseconds; can only shorten the configured budget"
		},
		"description": {
			"type": "string",
			"description": "Short human-readable purpose of the script"
		}
	},
	"required": ["script"],
	"additionalProperties": false
}`)
}

func (t *RunShell) Capabilities() []tool.Capability {
	return commandCapabilities(t.opts.Sandbox, tool.CapExecute, tool.CapDangerous)
}

// DefaultTimeout implements tool.Timeouter.
func (t *RunShell) DefaultTimeout() time.Duration { return CommandTimeout }

// Subjects implements tool.Subjecter.
func (t *RunShell) Subjects(args json.RawMessage) (tool.Subjects, error) {
	var in runShellArgs
	if err := decode(args, &in); err != nil {
		return tool.Subjects{}, err
	}
	s := tool.Subjects{Command: []string{"sh", "-c", in.Script}}
	if in.Workdir != "" {
		s.Paths = []string{in.Workdir}
	}
	return s, nil
}

func (t *RunShell) Execute(ctx context.Context, args json.RawMessage, env tool.ExecutionEnv) (tool.Response, error) {
	var in runShellArgs
	if err := decode(args, &in); err != nil {
		return tool.Response{}, err
	}
	dir, err := resolve(t.opts.Resolver, env.Workspace, in.Workdir)
	if err != nil {
		return tool.Response{}, err
	}
	return runProcess(ctx, env, t.opts.Sandbox, processSpec{
		argv:      []string{"sh", "-c", in.Script},
		display:   in.Script,
		dir:       dir,
		timeoutMS: in.TimeoutMS,
	})
}

// commandCapabilities adds CapNetwork unless the sandbox cuts the network.
func commandCapabilities(sb *security.Sandbox, caps ...tool.Capability) []tool.Capability {
	if !sb.NetworkIsolated() {
		caps = append(caps, tool.CapNetwork)
	}
	return caps
}

type processSpec struct {
	argv      []string
	display   string
	dir       string
	timeoutMS int64
}

func runProcess(ctx context.Context, env tool.ExecutionEnv, sb *security.Sandbox, spec processSpec) (tool.Response, error) {
	if spec.timeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(spec.timeoutMS)*time.Millisecond)
		defer cancel()
	}

	argv, err := sb.Wrap(spec.argv, env.Workspace, spec.dir, env.Env)
	if err != nil {
		return tool.Response{}, err
	}

	limit := env.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	stdout := newCappedBuffer(limit)
	stderr := newCappedBuffer(limit)

	//nolint:gosec // argv was validated and approved by the permission layer.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.dir
	if sb.Enabled() {
		cmd.Dir = env.Workspace
	}
	cmd.Env = env.Env
	if cmd.Env == nil {
		// A nil Env would inherit the host environment unfiltered.
		cmd.Env = security.SanitizedEnv(nil, nil)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	process.Prepare(cmd)

	if err := cmd.Start(); err != nil {
		return tool.Response{}, fmt.Errorf("start %s: %w", argv[0], err)
	}
	if env.Processes != nil {
		release := env.Processes.Track(env.CallID, cmd.Process.Pid)
		defer release()
	}
	env.Log().Debug("process started", "pid", cmd.Process.Pid, "command", spec.display)

	waitErr := cmd.Wait()
	exitCode := cmd.ProcessState.ExitCode()
	if err := process.Reap(cmd.Process.Pid); err != nil {
		env.Log().Debug("reap process group", "pid", cmd.Process.Pid, "error", err)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return tool.Response{}, fmt.Errorf("wait %s: %w", argv[0], waitErr)
	}

	out := stdout.String()
	errOut := stderr.String()
	var content strings.Builder
	content.WriteString(out)
	if errOut != "" {
		if content.Len() > 0 {
			content.WriteString(stderrHeader)
		}
		content.WriteString(errOut)
	}
	text := content.String()
	truncated := stdout.Truncated() || stderr.Truncated()
	if len(text) > limit {
		text = truncateUTF8(text, limit)
		truncated = true
	}
	if text == "" {
		text = noOutput
	}
	if truncated {
		text += truncatedMarker
	}
	if ctx.Err() != nil {
		text += fmt.Sprintf("\n[command terminated: %v]", context.Cause(ctx))
	}

	md := map[string]any{
		"command":       spec.display,
		"exit_code":     exitCode,
		"timeout_ms":    spec.timeoutMS,
		"stdout_length": stdout.Total(),
		"stderr_length": stderr.Total(),
		"truncated":     truncated,
	}
	if exitCode != 0 {
		return tool.Failure(text, md), nil
	}
	return tool.Success(text, md), nil
}

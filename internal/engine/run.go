package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/process"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

type execResult struct {
	resp     tool.Response
	err      error
	panicked bool
}

// run drives c through the lifecycle and returns its terminal outcome.
func (e *Engine) run(ctx context.Context, s *Session, c *call) (o Outcome) {
	req := c.req
	ctx, span := e.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", req.ToolName),
		attribute.String("call.id", req.CallID),
		attribute.String("session.id", req.SessionID),
	))
	defer func() {
		span.SetAttributes(attribute.String("call.state", string(o.State)))
		if o.State != StateSucceeded && o.Err != nil {
			span.RecordError(o.Err)
			span.SetStatus(codes.Error, string(o.State))
		}
		span.End()
		e.record(o)
	}()

	desc, t, err := e.registry.Resolve(req.ToolName)
	if err != nil {
		return c.finish(StateInvalid, tool.Failure(err.Error(), nil), err)
	}

	if err := security.ValidateArguments(req.Arguments, s.limits.MaxArgumentBytes, s.limits.MaxJSONDepth); err != nil {
		err = fmt.Errorf("%w: %s: %w", tool.ErrInvalidArguments, desc.Name, err)
		return c.finish(StateInvalid, tool.Failure(err.Error(), nil), err)
	}
	if err := e.registry.ValidateArguments(desc.Name, req.Arguments); err != nil {
		return c.finish(StateInvalid, tool.Failure(err.Error(), nil), err)
	}
	c.advance(StateSchemaValidated)

	var subjects tool.Subjects
	if sj, ok := t.(tool.Subjecter); ok {
		subjects, err = sj.Subjects(req.Arguments)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", tool.ErrValidationFailed, desc.Name, err)
			return c.finish(StateInvalid, tool.Failure(err.Error(), nil), err)
		}
	}
	findings := e.validator.Inspect(subjects.Paths, subjects.Command, s.perms.WorkspaceRoot())

	decision, err := e.manager.Authorize(ctx, req, desc, findings, s.perms)
	c.setDecision(decision)
	e.metrics.observeDecision(desc.Name, string(decision.Kind))
	e.audit.Log(security.AuditEvent{
		Type:      security.EventToolCall,
		CallID:    req.CallID,
		SessionID: req.SessionID,
		ToolName:  desc.Name,
		Decision:  string(decision.Kind),
		Detail:    decision.Reason,
		Metadata:  map[string]string{"rule": string(decision.Rule)},
		Arguments: req.Arguments,
	})
	if err != nil {
		var denied *permission.DeniedError
		if errors.As(err, &denied) {
			return c.finish(StateDenied, tool.Failure(denied.Error(), nil), err)
		}
		return e.cancelled(ctx, c, desc.Name)
	}
	c.advance(StatePermissionChecked)

	if err := e.limiter.Wait(ctx, security.KindToolCall, s.id); err != nil {
		if ctx.Err() != nil {
			return e.cancelled(ctx, c, desc.Name)
		}
		e.audit.Log(security.AuditEvent{
			Type:      security.EventRateLimit,
			CallID:    req.CallID,
			SessionID: req.SessionID,
			ToolName:  desc.Name,
			Detail:    err.Error(),
		})
		err = fmt.Errorf("%w: %w", tool.ErrExecutionFailed, err)
		return c.finish(StateFailed, tool.Failure(err.Error(), nil), err)
	}

	e.metrics.addQueued(1)
	err = s.sem.Acquire(ctx, 1)
	e.metrics.addQueued(-1)
	if err != nil {
		return e.cancelled(ctx, c, desc.Name)
	}
	defer s.sem.Release(1)

	c.advance(StateExecuting)
	return e.invoke(ctx, s, c, desc, t)
}

// invoke runs the tool under its time budget. The tool runs on its own
// goroutine so that a tool ignoring its context cannot hold the call open.
func (e *Engine) invoke(ctx context.Context, s *Session, c *call, desc tool.Descriptor, t tool.Tool) Outcome {
	req := c.req
	budget := s.timeoutFor(desc.Name, t)
	execCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	procKey := processKey(req.SessionID, req.CallID)
	env := tool.ExecutionEnv{
		CallID:         req.CallID,
		SessionID:      req.SessionID,
		Workspace:      s.perms.WorkspaceRoot(),
		Env:            s.env,
		MaxOutputBytes: s.limits.MaxOutputBytes,
		MaxFileSize:    s.limits.MaxFileSize,
		Processes:      scopedTracker{table: e.procs, key: procKey},
		Logger:         e.logger.With("call_id", req.CallID, "session_id", req.SessionID, "tool", desc.Name),
	}

	results := make(chan execResult, 1)
	start := time.Now()
	e.metrics.addInFlight(1)
	defer e.metrics.addInFlight(-1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- execResult{err: fmt.Errorf("tool %q panicked: %v", desc.Name, r), panicked: true}
			}
		}()
		resp, err := t.Execute(execCtx, req.Arguments, env)
		results <- execResult{resp: resp, err: err}
	}()

	var res execResult
	abandoned := false
	select {
	case res = <-results:
	case <-execCtx.Done():
		abandoned = true
	}
	e.metrics.observeDuration(desc.Name, time.Since(start))

	// A tool that returned unsuccessfully after its context ended lost the race
	// against the timeout or cancellation; attribute the outcome to that.
	if abandoned || (execCtx.Err() != nil && (res.err != nil || !res.resp.Success)) {
		if n := e.procs.KillCall(procKey); n > 0 {
			env.Logger.Warn("killed abandoned processes", "count", n)
		}
		if abandoned {
			select {
			case <-results:
			case <-time.After(e.reapGrace):
				env.Logger.Warn("tool did not return after cancellation", "grace", e.reapGrace)
			}
		}
		if ctx.Err() != nil {
			return e.cancelled(ctx, c, desc.Name)
		}
		err := fmt.Errorf("%w: %s after %s", tool.ErrTimedOut, desc.Name, budget)
		return c.finish(StateTimedOut, tool.Response{
			Content:  fmt.Sprintf("tool %q timed out after %s", desc.Name, budget),
			Metadata: map[string]any{"timeout_ms": budget.Milliseconds()},
		}, err)
	}

	switch {
	case res.err != nil:
		if res.panicked {
			env.Logger.Error("tool panicked", "error", res.err)
		}
		err := fmt.Errorf("%w: %w", tool.ErrExecutionFailed, res.err)
		return c.finish(StateFailed, tool.Response{Content: res.err.Error(), Metadata: res.resp.Metadata}, err)
	case !res.resp.Success:
		err := fmt.Errorf("%w: %s reported failure", tool.ErrExecutionFailed, desc.Name)
		return c.finish(StateFailed, res.resp, err)
	}
	return c.finish(StateSucceeded, res.resp, nil)
}

func (e *Engine) cancelled(ctx context.Context, c *call, name string) Outcome {
	err := fmt.Errorf("%w: %s", tool.ErrCancelled, name)
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		err = fmt.Errorf("%w: %s: %w", tool.ErrCancelled, name, cause)
	}
	return c.finish(StateCancelled, tool.Failure(fmt.Sprintf("tool %q was cancelled", name), nil), err)
}

// record emits the metrics, audit event and log line for a finished call.
func (e *Engine) record(o Outcome) {
	e.metrics.observeOutcome(o.ToolName, o.State)

	detail := ""
	if o.Err != nil {
		detail = o.Err.Error()
	}
	e.audit.Log(security.AuditEvent{
		Type:      security.EventToolResult,
		CallID:    o.CallID,
		SessionID: o.SessionID,
		ToolName:  o.ToolName,
		Decision:  string(o.Decision.Kind),
		Outcome:   string(o.State),
		Detail:    detail,
		Metadata:  map[string]string{"duration_ms": strconv.FormatInt(o.Duration().Milliseconds(), 10)},
	})

	attrs := []any{
		"call_id", o.CallID,
		"session_id", o.SessionID,
		"tool", o.ToolName,
		"state", o.State,
		"duration", o.Duration(),
	}
	if o.State == StateSucceeded {
		e.logger.Debug("tool call finished", attrs...)
		return
	}
	e.logger.Info("tool call finished", append(attrs, "error", o.Err)...)
}

func processKey(sessionID, callID string) string {
	return sessionID + "/" + callID
}

// scopedTracker keys process entries by session so call IDs only need to be
// unique within a session.
type scopedTracker struct {
	table *process.Table
	key   string
}

func (s scopedTracker) Track(_ string, pid int) func() {
	return s.table.Track(s.key, pid)
}

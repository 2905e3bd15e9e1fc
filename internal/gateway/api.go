package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/permission"
	"github.com/flemzord/toolgate/internal/tool"
)

// maxBodyBytes bounds request bodies. Tool arguments are further bounded by
// the engine limits.
const maxBodyBytes = 4 << 20

// openSessionRequest is the body of POST /v1/sessions.
type openSessionRequest struct {
	ID          string            `json:"id"`
	Workspace   string            `json:"workspace"`
	Yolo        bool              `json:"yolo"`
	DeniedPaths []string          `json:"denied_paths"`
	Env         map[string]string `json:"env"`
}

// executeRequest is the body of POST /v1/sessions/{id}/calls.
type executeRequest struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`

	// Async returns 202 at once; the outcome is polled by call ID.
	Async bool `json:"async"`
}

// callJSON is a serializable call outcome.
type callJSON struct {
	CallID     string         `json:"call_id"`
	SessionID  string         `json:"session_id"`
	ToolName   string         `json:"tool_name"`
	State      string         `json:"state"`
	Done       bool           `json:"done"`
	Success    bool           `json:"success"`
	Content    string         `json:"content,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
	Decision   string         `json:"decision,omitempty"`
	Rule       string         `json:"rule,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	History    []string       `json:"history"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

func toCallJSON(o engine.Outcome) callJSON {
	c := callJSON{
		CallID:     o.CallID,
		SessionID:  o.SessionID,
		ToolName:   o.ToolName,
		State:      string(o.State),
		Done:       o.State.Terminal(),
		Success:    o.Response.Success,
		Content:    o.Response.Content,
		Metadata:   o.Response.Metadata,
		Decision:   string(o.Decision.Kind),
		Rule:       string(o.Decision.Rule),
		Reason:     o.Decision.Reason,
		History:    make([]string, len(o.History)),
		StartedAt:  o.StartedAt,
		DurationMS: o.Duration().Milliseconds(),
	}
	for i, s := range o.History {
		c.History[i] = string(s)
	}
	if o.Err != nil {
		c.Error = o.Err.Error()
	}
	if !o.FinishedAt.IsZero() {
		t := o.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

func (g *Gateway) handleListTools() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, g.engine.Registry().Descriptors())
	}
}

func (g *Gateway) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, g.engine.Sessions())
	}
}

func (g *Gateway) handleOpenSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body openSessionRequest
		if r.ContentLength != 0 {
			if err := decodeBody(w, r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		s, err := g.engine.OpenSession(engine.SessionOptions{
			ID:          body.ID,
			Workspace:   body.Workspace,
			Yolo:        body.Yolo,
			DeniedPaths: body.DeniedPaths,
			Env:         body.Env,
		})
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, s.Info())
	}
}

func (g *Gateway) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := g.session(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Info())
	}
}

func (g *Gateway) handleCloseSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.engine.CloseSession(chi.URLParam(r, "id")); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleListCalls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := g.session(w, r)
		if !ok {
			return
		}
		outcomes := s.Outcomes()
		slices.SortFunc(outcomes, func(a, b engine.Outcome) int {
			return a.StartedAt.Compare(b.StartedAt)
		})
		calls := make([]callJSON, len(outcomes))
		for i, o := range outcomes {
			calls[i] = toCallJSON(o)
		}
		writeJSON(w, http.StatusOK, calls)
	}
}

// handleExecute runs one call. A synchronous call is tied to the request, so
// a client that disconnects cancels it.
func (g *Gateway) handleExecute() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := g.session(w, r)
		if !ok {
			return
		}
		var body executeRequest
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(body.ToolName) == "" {
			writeError(w, http.StatusBadRequest, "tool_name is required")
			return
		}
		if body.CallID == "" {
			body.CallID = uuid.NewString()
		}
		req := tool.Request{
			CallID:    body.CallID,
			SessionID: s.ID(),
			ToolName:  body.ToolName,
			Arguments: body.Arguments,
		}

		if body.Async {
			if _, _, err := s.Outcome(req.CallID); err == nil {
				writeError(w, http.StatusConflict, engine.ErrDuplicateCall.Error()+": "+req.CallID)
				return
			}
			g.calls.Go(func() {
				_, _ = s.Execute(g.base, req)
			})
			writeJSON(w, http.StatusAccepted, map[string]string{"call_id": req.CallID, "session_id": s.ID()})
			return
		}

		_, err := s.Execute(r.Context(), req)
		if errors.Is(err, engine.ErrDuplicateCall) || errors.Is(err, engine.ErrSessionClosed) {
			writeError(w, statusFor(err), err.Error())
			return
		}
		o, _, err := s.Outcome(req.CallID)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toCallJSON(o))
	}
}

func (g *Gateway) handleGetCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := g.session(w, r)
		if !ok {
			return
		}
		o, _, err := s.Outcome(chi.URLParam(r, "callID"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toCallJSON(o))
	}
}

func (g *Gateway) handleCancelCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := g.session(w, r)
		if !ok {
			return
		}
		o, err := s.Cancel(chi.URLParam(r, "callID"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toCallJSON(o))
	}
}

// handleApproval answers a pending prompt out of band.
func (g *Gateway) handleApproval() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body AnswerPayload
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		answer, ok := permission.ParseAnswer(body.Answer)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown answer "+body.Answer)
			return
		}
		if !g.engine.Manager().Respond(chi.URLParam(r, "id"), answer) {
			writeError(w, http.StatusNotFound, "no pending approval with that id")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) session(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	s, err := g.engine.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return s, true
}

// statusFor maps engine and tool errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, engine.ErrUnknownSession), errors.Is(err, engine.ErrUnknownCall), errors.Is(err, tool.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrDuplicateSession), errors.Is(err, engine.ErrDuplicateCall):
		return http.StatusConflict
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, tool.ErrInvalidArguments), errors.Is(err, tool.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, tool.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, tool.ErrCancelled):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flemzord/toolgate/internal/permission"
)

// MessageType identifies the kind of message on the prompt socket.
type MessageType string

// Prompt socket message types.
const (
	MsgPromptRequest MessageType = "prompt_request"
	MsgPromptCancel  MessageType = "prompt_cancel"
	MsgPromptAnswer  MessageType = "prompt_answer"
	MsgError         MessageType = "error"
)

// Envelope is the wire format for all prompt socket messages.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AnswerPayload is sent by a client to answer the prompt named by the
// envelope ID.
type AnswerPayload struct {
	Answer string `json:"answer"`
}

// PromptHub bridges permission prompts to UI clients connected over a
// WebSocket. Every prompt is sent to every connected client and the first
// valid answer wins. It implements permission.Prompter.
type PromptHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*websocket.Conn
	waiting map[string]chan permission.Answer
}

var _ permission.Prompter = (*PromptHub)(nil)

// NewPromptHub creates a hub with no clients.
func NewPromptHub(logger *slog.Logger) *PromptHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptHub{
		logger:  logger,
		clients: make(map[string]*websocket.Conn),
		waiting: make(map[string]chan permission.Answer),
	}
}

// Clients returns the number of connected clients.
func (h *PromptHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Prompt implements permission.Prompter. With no client connected it
// returns permission.ErrNoPrompter at once.
func (h *PromptHub) Prompt(ctx context.Context, req permission.PromptRequest) (permission.Answer, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return permission.AnswerDeny, fmt.Errorf("gateway: marshal prompt: %w", err)
	}

	ch := make(chan permission.Answer, 1)
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return permission.AnswerDeny, permission.ErrNoPrompter
	}
	h.waiting[req.ApprovalID] = ch
	conns := h.snapshotLocked()
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.waiting, req.ApprovalID)
		h.mu.Unlock()
	}()

	env := Envelope{Type: MsgPromptRequest, ID: req.ApprovalID, Payload: payload, Timestamp: time.Now()}
	sent := 0
	for _, conn := range conns {
		if err := h.send(ctx, conn, env); err == nil {
			sent++
		}
	}
	if sent == 0 {
		return permission.AnswerDeny, permission.ErrNoPrompter
	}

	select {
	case a := <-ch:
		h.broadcast(Envelope{Type: MsgPromptCancel, ID: req.ApprovalID, Timestamp: time.Now()})
		return a, nil
	case <-ctx.Done():
		h.broadcast(Envelope{Type: MsgPromptCancel, ID: req.ApprovalID, Timestamp: time.Now()})
		return permission.AnswerDeny, ctx.Err()
	}
}

// ServeHTTP accepts a client connection and reads answers until it closes.
func (h *PromptHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()

	id := uuid.NewString()
	h.mu.Lock()
	h.clients[id] = conn
	h.mu.Unlock()
	h.logger.Info("prompt client connected", "client_id", id, "remote_addr", r.RemoteAddr)

	h.readLoop(r.Context(), conn, id)

	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
	h.logger.Info("prompt client disconnected", "client_id", id)
}

// Close disconnects every client.
func (h *PromptHub) Close() {
	h.mu.Lock()
	conns := h.snapshotLocked()
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *PromptHub) readLoop(ctx context.Context, conn *websocket.Conn, clientID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(ctx, conn, "", "invalid message format")
			continue
		}
		if env.Type != MsgPromptAnswer {
			h.sendError(ctx, conn, env.ID, fmt.Sprintf("unexpected message type %q", env.Type))
			continue
		}

		var p AnswerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(ctx, conn, env.ID, "invalid prompt_answer payload")
			continue
		}
		answer, ok := permission.ParseAnswer(p.Answer)
		if !ok {
			h.sendError(ctx, conn, env.ID, fmt.Sprintf("unknown answer %q", p.Answer))
			continue
		}
		if err := h.deliver(env.ID, answer); err != nil {
			h.sendError(ctx, conn, env.ID, err.Error())
			continue
		}
		h.logger.Debug("prompt answered", "client_id", clientID, "approval_id", env.ID, "answer", answer)
	}
}

var errNoSuchPrompt = errors.New("no pending prompt with that id")

func (h *PromptHub) deliver(approvalID string, a permission.Answer) error {
	h.mu.Lock()
	ch, ok := h.waiting[approvalID]
	h.mu.Unlock()
	if !ok {
		return errNoSuchPrompt
	}
	// Late or duplicate answers are dropped.
	select {
	case ch <- a:
	default:
	}
	return nil
}

func (h *PromptHub) snapshotLocked() []*websocket.Conn {
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	return conns
}

func (h *PromptHub) broadcast(env Envelope) {
	h.mu.Lock()
	conns := h.snapshotLocked()
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, conn := range conns {
		_ = h.send(ctx, conn, env)
	}
}

func (h *PromptHub) send(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Warn("write envelope failed", "type", env.Type, "error", err)
		return err
	}
	return nil
}

func (h *PromptHub) sendError(ctx context.Context, conn *websocket.Conn, id, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	_ = h.send(ctx, conn, Envelope{Type: MsgError, ID: id, Payload: payload, Timestamp: time.Now()})
}

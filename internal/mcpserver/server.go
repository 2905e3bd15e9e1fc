// Package mcpserver exposes the registered tools to Model Context Protocol
// clients. Calls go through the engine, so every MCP tool call is validated,
// authorized and bounded like any other.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/tool"
)

// DefaultSessionID names the engine session MCP calls run in.
const DefaultSessionID = "mcp"

// Options configures a Server.
type Options struct {
	Name      string
	Version   string
	SessionID string

	// Elicitor, if non-nil, is bound to the server so that it can ask the
	// MCP client to approve calls.
	Elicitor *Elicitor

	Logger *slog.Logger
}

// Server is an MCP server backed by one engine session.
type Server struct {
	engine  *engine.Engine
	session *engine.Session
	mcp     *server.MCPServer
	logger  *slog.Logger
}

// New opens the engine session and registers every tool with an MCP server.
func New(e *engine.Engine, opts Options) (*Server, error) {
	if opts.Name == "" {
		opts.Name = "toolgate"
	}
	if opts.SessionID == "" {
		opts.SessionID = DefaultSessionID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sess, err := e.OpenSession(engine.SessionOptions{ID: opts.SessionID})
	if err != nil {
		return nil, fmt.Errorf("mcpserver: %w", err)
	}

	srvOpts := []server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	}
	if opts.Elicitor != nil {
		srvOpts = append(srvOpts, server.WithElicitation())
	}

	s := &Server{
		engine:  e,
		session: sess,
		mcp:     server.NewMCPServer(opts.Name, opts.Version, srvOpts...),
		logger:  opts.Logger,
	}
	for _, desc := range e.Registry().Descriptors() {
		s.mcp.AddTool(toMCPTool(desc), s.handler(desc.Name))
	}
	if opts.Elicitor != nil {
		opts.Elicitor.bind(s.mcp)
	}
	return s, nil
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Session returns the engine session MCP calls run in.
func (s *Server) Session() *engine.Session {
	return s.session
}

// ServeStdio speaks MCP over in and out until ctx ends or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp server listening on stdio", "tools", s.engine.Registry().Len(), "session_id", s.session.ID())
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// Close closes the engine session, cancelling calls still in flight.
func (s *Server) Close() error {
	return s.engine.CloseSession(s.session.ID())
}

func toMCPTool(desc tool.Descriptor) mcp.Tool {
	t := mcp.NewToolWithRawSchema(desc.Name, desc.Description, desc.Schema)
	t.Annotations.ReadOnlyHint = mcp.ToBoolPtr(desc.ReadOnly())
	t.Annotations.DestructiveHint = mcp.ToBoolPtr(desc.Has(tool.CapDangerous))
	t.Annotations.OpenWorldHint = mcp.ToBoolPtr(desc.Has(tool.CapNetwork))
	return t
}

// handler runs one MCP call through the engine. Engine errors become tool
// errors the model can read, not protocol errors.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := rawArguments(req.GetRawArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		resp, err := s.session.Execute(ctx, tool.Request{ToolName: name, Arguments: args})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(resp.Content), nil
		}
		return mcp.NewToolResultText(resp.Content), nil
	}
}

func rawArguments(v any) (json.RawMessage, error) {
	switch a := v.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return a, nil
	default:
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", tool.ErrInvalidArguments, err)
		}
		return data, nil
	}
}

// Package admin exposes engine administration over the MCP protocol. Tools
// list live sessions, close one, report counters and show recent engine
// events; the server can be mounted as a streamable HTTP handler or served
// over stdio.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/stash/pkg/engine"
	"github.com/germanamz/stash/pkg/transport"
)

// Engine is the part of *engine.Engine the admin tools drive.
type Engine interface {
	Sessions() []engine.SessionInfo
	CloseSession(ctx context.Context, actor transport.ActorID) bool
	Stats() engine.Stats
	RecentEvents(limit int) []engine.Event
}

// defaultEventLimit is used when recent_events gets no limit.
const defaultEventLimit = 50

// handler runs a tool with raw JSON arguments and returns its text result.
type handler func(ctx context.Context, input json.RawMessage) (string, error)

type tool struct {
	name        string
	description string
	schema      json.RawMessage
	handler     handler
}

// Server serves admin tools over MCP.
type Server struct {
	eng    Engine
	server *mcp.Server
}

// New creates a Server for eng.
func New(eng Engine, version string) *Server {
	s := &Server{
		eng: eng,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "stash-admin",
			Version: version,
		}, nil),
	}

	for _, t := range s.tools() {
		s.server.AddTool(&mcp.Tool{
			Name:        t.name,
			Description: t.description,
			InputSchema: t.schema,
		}, toSDKHandler(t.handler))
	}

	return s
}

// Handler returns a streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

// Serve serves MCP requests read from in, writing responses to out. It
// blocks until ctx is cancelled or the transport closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.run(ctx, &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	})
}

func (s *Server) run(ctx context.Context, t mcp.Transport) error {
	return s.server.Run(ctx, t)
}

func (s *Server) tools() []tool {
	return []tool{
		{
			name:        "list_sessions",
			description: "List live sessions with their current screen and last activity.",
			schema:      json.RawMessage(`{"type":"object","properties":{}}`),
			handler:     s.listSessions,
		},
		{
			name:        "close_session",
			description: "Close the session of an actor.",
			schema:      json.RawMessage(`{"type":"object","properties":{"actor":{"type":"string","description":"Actor id"}}}`),
			handler:     s.closeSession,
		},
		{
			name:        "stats",
			description: "Report the number of sessions and busy actor locks.",
			schema:      json.RawMessage(`{"type":"object","properties":{}}`),
			handler:     s.stats,
		},
		{
			name:        "recent_events",
			description: "Show the newest engine events (sessions started, closed or expired, transitions, rejections, panics), oldest first.",
			schema:      json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","description":"Maximum number of events, default 50"}}}`),
			handler:     s.recentEvents,
		},
	}
}

func (s *Server) listSessions(context.Context, json.RawMessage) (string, error) {
	return marshal(s.eng.Sessions())
}

type closeInput struct {
	Actor string `json:"actor"`
}

func (s *Server) closeSession(ctx context.Context, input json.RawMessage) (string, error) {
	var in closeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("close_session: invalid input: %w", err)
	}
	if in.Actor == "" {
		return "", fmt.Errorf("close_session: actor is required")
	}

	if !s.eng.CloseSession(ctx, transport.ActorID(in.Actor)) {
		return "", fmt.Errorf("close_session: no session for %q", in.Actor)
	}

	return fmt.Sprintf("closed session of %s", in.Actor), nil
}

func (s *Server) stats(context.Context, json.RawMessage) (string, error) {
	return marshal(s.eng.Stats())
}

type eventsInput struct {
	Limit int `json:"limit"`
}

func (s *Server) recentEvents(_ context.Context, input json.RawMessage) (string, error) {
	var in eventsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("recent_events: invalid input: %w", err)
	}
	if in.Limit < 0 {
		return "", fmt.Errorf("recent_events: limit must not be negative")
	}
	if in.Limit == 0 {
		in.Limit = defaultEventLimit
	}

	return marshal(s.eng.RecentEvents(in.Limit))
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// toSDKHandler wraps a handler as an SDK ToolHandler. Handler errors become
// tool errors rather than protocol errors.
func toSDKHandler(h handler) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}
		result, err := h(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

package admin

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/stash/pkg/engine"
	"github.com/germanamz/stash/pkg/transport"
)

type fakeEngine struct {
	mu       sync.Mutex
	sessions map[transport.ActorID]engine.SessionInfo
}

func newFakeEngine() *fakeEngine {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	return &fakeEngine{sessions: map[transport.ActorID]engine.SessionInfo{
		"alice": {Actor: "alice", Screen: "repo_view", LastActivity: ts},
		"bob":   {Actor: "bob", Screen: "hello", LastActivity: ts},
	}}
}

func (f *fakeEngine) Sessions() []engine.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]engine.SessionInfo, 0, len(f.sessions))
	for _, actor := range []transport.ActorID{"alice", "bob"} {
		if s, ok := f.sessions[actor]; ok {
			out = append(out, s)
		}
	}

	return out
}

func (f *fakeEngine) CloseSession(_ context.Context, actor transport.ActorID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.sessions[actor]
	delete(f.sessions, actor)

	return ok
}

func (f *fakeEngine) Stats() engine.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return engine.Stats{Sessions: len(f.sessions), BusyLocks: 1}
}

func (f *fakeEngine) RecentEvents(limit int) []engine.Event {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []engine.Event{
		{Kind: engine.EventSessionStarted, Actor: "alice", Timestamp: ts},
		{Kind: engine.EventDispatched, Actor: "alice", Timestamp: ts, Data: engine.EventSummary{Kind: transport.KindCommand, Name: "show"}},
		{Kind: engine.EventSessionClosed, Actor: "bob", Timestamp: ts},
	}
	if limit < len(events) {
		events = events[len(events)-limit:]
	}

	return events
}

func connect(t *testing.T, eng Engine) *mcp.ClientSession {
	t.Helper()

	s := New(eng, "test")
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- s.run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
	})

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	return tc.Text, result.IsError
}

func TestListTools(t *testing.T) {
	session := connect(t, newFakeEngine())

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"list_sessions", "close_session", "stats", "recent_events"}, names)
}

func TestListSessions(t *testing.T) {
	session := connect(t, newFakeEngine())

	text, isErr := call(t, session, "list_sessions", map[string]any{})
	require.False(t, isErr)

	var infos []engine.SessionInfo
	require.NoError(t, json.Unmarshal([]byte(text), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, transport.ActorID("alice"), infos[0].Actor)
	assert.Equal(t, "repo_view", infos[0].Screen)
}

func TestCloseSession(t *testing.T) {
	eng := newFakeEngine()
	session := connect(t, eng)

	text, isErr := call(t, session, "close_session", map[string]any{"actor": "bob"})
	assert.False(t, isErr)
	assert.Equal(t, "closed session of bob", text)
	assert.Equal(t, 1, eng.Stats().Sessions)

	text, isErr = call(t, session, "close_session", map[string]any{"actor": "bob"})
	assert.True(t, isErr)
	assert.Contains(t, text, "no session")

	text, isErr = call(t, session, "close_session", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "actor is required")
}

func TestStats(t *testing.T) {
	session := connect(t, newFakeEngine())

	text, isErr := call(t, session, "stats", map[string]any{})
	require.False(t, isErr)
	assert.JSONEq(t, `{"sessions":2,"busy_locks":1}`, text)
}

func TestHandler(t *testing.T) {
	hs := httptest.NewServer(New(newFakeEngine(), "test").Handler())
	defer hs.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "http-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: hs.URL}, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	text, isErr := call(t, session, "stats", map[string]any{})
	require.False(t, isErr)
	assert.Contains(t, text, `"sessions":2`)
}

func TestRunCancelled(t *testing.T) {
	s := New(newFakeEngine(), "test")
	serverTransport, _ := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.run(ctx, serverTransport), context.Canceled)
}

func TestRecentEvents(t *testing.T) {
	session := connect(t, newFakeEngine())

	text, isErr := call(t, session, "recent_events", map[string]any{"limit": 2})
	require.False(t, isErr)
	assert.JSONEq(t, `[
		{"kind":"event_dispatched","actor":"alice","time":"2024-05-01T12:00:00Z","data":{"kind":"command","name":"show"}},
		{"kind":"session_closed","actor":"bob","time":"2024-05-01T12:00:00Z"}
	]`, text)

	text, isErr = call(t, session, "recent_events", map[string]any{})
	require.False(t, isErr)
	var all []map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &all))
	assert.Len(t, all, 3)

	text, isErr = call(t, session, "recent_events", map[string]any{"limit": -1})
	assert.True(t, isErr)
	assert.Contains(t, text, "must not be negative")
}

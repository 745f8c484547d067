// Package wsock serves bot sessions over websockets. Each connection
// belongs to one actor, named by the actor query parameter. Inbound frames
// become transport events; everything the bot sends, edits or deletes is
// written back as an outbound frame.
package wsock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/germanamz/stash/pkg/transport"
)

// ErrNotConnected is returned when the actor has no open connection.
var ErrNotConnected = errors.New("wsock: actor not connected")

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// Dispatcher receives inbound events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev transport.Event) error
}

// Inbound is a frame sent by a client.
type Inbound struct {
	Type      string `json:"type"` // message, command or callback
	Name      string `json:"name,omitempty"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Outbound is a frame sent to a client.
type Outbound struct {
	Op        string             `json:"op"` // send, edit or delete
	MessageID string             `json:"message_id"`
	Text      string             `json:"text,omitempty"`
	Keyboard  transport.Keyboard `json:"keyboard,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithOriginPatterns allows cross-origin clients matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.accept.OriginPatterns = patterns }
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// Server is both the websocket endpoint and the bot's Transport.
type Server struct {
	log          *slog.Logger
	accept       websocket.AcceptOptions
	writeTimeout time.Duration

	mu         sync.Mutex
	dispatcher Dispatcher
	conns      map[transport.ActorID]*conn
}

var (
	_ transport.Transport = (*Server)(nil)
	_ http.Handler        = (*Server)(nil)
)

// New creates a Server. Bind must be called before it serves connections.
func New(opts ...Option) *Server {
	s := &Server{
		log:          slog.New(slog.DiscardHandler),
		writeTimeout: DefaultWriteTimeout,
		conns:        make(map[transport.ActorID]*conn),
	}
	for _, o := range opts {
		o(s)
	}

	return s
}

// Bind sets the receiver of inbound events.
func (s *Server) Bind(d Dispatcher) {
	s.mu.Lock()
	s.dispatcher = d
	s.mu.Unlock()
}

// Connected reports whether actor has an open connection.
func (s *Server) Connected(actor transport.ActorID) bool {
	return s.lookup(actor) != nil
}

// ServeHTTP upgrades the request and pumps frames until the client leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor := transport.ActorID(r.URL.Query().Get("actor"))
	if actor == "" {
		http.Error(w, "missing actor", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	d := s.dispatcher
	s.mu.Unlock()
	if d == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &s.accept)
	if err != nil {
		s.log.WarnContext(r.Context(), "websocket accept failed", "actor", string(actor), "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(ws)
	s.attach(actor, c)
	defer s.detach(actor, c)

	go c.writeLoop(ctx, s.writeTimeout, s.log)

	log := s.log.With("actor", string(actor))
	log.InfoContext(ctx, "client connected")

	for {
		var in Inbound
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				log.DebugContext(ctx, "read failed", "error", err)
			}
			break
		}

		ev, err := in.event(actor)
		if err != nil {
			log.WarnContext(ctx, "bad frame", "error", err)
			continue
		}

		if err := d.Dispatch(ctx, ev); err != nil {
			log.WarnContext(ctx, "dispatch failed", "kind", ev.Kind, "error", err)
		}
	}

	log.InfoContext(ctx, "client disconnected")
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

func (in Inbound) event(actor transport.ActorID) (transport.Event, error) {
	id := transport.MessageID(in.MessageID)

	switch in.Type {
	case "message":
		return transport.NewMessage(actor, id, in.Text), nil
	case "command":
		if in.Name == "" {
			return transport.Event{}, fmt.Errorf("wsock: command without name")
		}
		ev := transport.NewCommand(actor, id, in.Name)
		ev.Text = in.Text
		return ev, nil
	case "callback":
		if in.Name == "" {
			return transport.Event{}, fmt.Errorf("wsock: callback without name")
		}
		return transport.NewCallback(actor, id, in.Name), nil
	default:
		return transport.Event{}, fmt.Errorf("wsock: unknown frame type %q", in.Type)
	}
}

// SendMessage implements transport.Transport.
func (s *Server) SendMessage(_ context.Context, actor transport.ActorID, msg transport.Outgoing) (transport.MessageID, error) {
	id := transport.MessageID(uuid.NewString())
	if err := s.enqueue(actor, Outbound{Op: "send", MessageID: string(id), Text: msg.Text, Keyboard: msg.Keyboard}); err != nil {
		return "", err
	}

	return id, nil
}

// EditMessage implements transport.Transport.
func (s *Server) EditMessage(_ context.Context, actor transport.ActorID, id transport.MessageID, msg transport.Outgoing) error {
	return s.enqueue(actor, Outbound{Op: "edit", MessageID: string(id), Text: msg.Text, Keyboard: msg.Keyboard})
}

// DeleteMessage implements transport.Transport.
func (s *Server) DeleteMessage(_ context.Context, actor transport.ActorID, id transport.MessageID) error {
	return s.enqueue(actor, Outbound{Op: "delete", MessageID: string(id)})
}

func (s *Server) enqueue(actor transport.ActorID, f Outbound) error {
	c := s.lookup(actor)
	if c == nil {
		return fmt.Errorf("wsock: %s %s: %w", f.Op, actor, ErrNotConnected)
	}
	c.push(f)

	return nil
}

func (s *Server) lookup(actor transport.ActorID) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conns[actor]
}

// attach registers c, evicting an older connection of the same actor.
func (s *Server) attach(actor transport.ActorID, c *conn) {
	s.mu.Lock()
	old := s.conns[actor]
	s.conns[actor] = c
	s.mu.Unlock()

	if old != nil {
		_ = old.ws.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
}

func (s *Server) detach(actor transport.ActorID, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns[actor] == c {
		delete(s.conns, actor)
	}
}

// conn is one client connection with an unbounded outbox drained by a
// single writer, so senders never block on the network.
type conn struct {
	ws     *websocket.Conn
	signal chan struct{}

	mu     sync.Mutex
	outbox *queue.Queue
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:     ws,
		signal: make(chan struct{}, 1),
		outbox: queue.New(),
	}
}

func (c *conn) push(f Outbound) {
	c.mu.Lock()
	c.outbox.Add(f)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *conn) pop() (Outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outbox.Length() == 0 {
		return Outbound{}, false
	}

	return c.outbox.Remove().(Outbound), true
}

func (c *conn) writeLoop(ctx context.Context, timeout time.Duration, log *slog.Logger) {
	for {
		f, ok := c.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.signal:
			}
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, timeout)
		err := wsjson.Write(wctx, c.ws, f)
		cancel()
		if err != nil {
			log.DebugContext(ctx, "write failed", "op", f.Op, "error", err)
			_ = c.ws.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
}

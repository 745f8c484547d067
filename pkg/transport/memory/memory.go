// Package memory provides an in-process Transport that records every effect.
// It is used by tests and by tooling that needs to observe what a session
// would have shown an actor.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/germanamz/stash/pkg/transport"
)

// ErrUnknownMessage is returned when editing or deleting a message that is
// not live.
var ErrUnknownMessage = errors.New("memory: unknown message")

// OpKind names a recorded effect.
type OpKind string

const (
	OpSend   OpKind = "send"
	OpEdit   OpKind = "edit"
	OpDelete OpKind = "delete"
)

// Op is a single recorded effect.
type Op struct {
	Kind    OpKind
	Actor   transport.ActorID
	ID      transport.MessageID
	Message transport.Outgoing
}

type message struct {
	seq int
	out transport.Outgoing
}

// Transport records effects in memory. The zero value is ready to use.
type Transport struct {
	mu     sync.Mutex
	once   sync.Once
	signal chan struct{}
	ops    []Op
	live   map[transport.ActorID]map[transport.MessageID]message
	seq    int
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) init() {
	t.once.Do(func() {
		t.signal = make(chan struct{})
		t.live = make(map[transport.ActorID]map[transport.MessageID]message)
	})
}

// notify wakes goroutines blocked in Wait. Callers must hold t.mu.
func (t *Transport) notify() {
	close(t.signal)
	t.signal = make(chan struct{})
}

// SendMessage records a new live message and returns its id.
func (t *Transport) SendMessage(_ context.Context, actor transport.ActorID, msg transport.Outgoing) (transport.MessageID, error) {
	t.init()
	t.mu.Lock()
	defer t.mu.Unlock()

	id := transport.MessageID(uuid.NewString())
	if t.live[actor] == nil {
		t.live[actor] = make(map[transport.MessageID]message)
	}
	t.seq++
	t.live[actor][id] = message{seq: t.seq, out: msg}
	t.ops = append(t.ops, Op{Kind: OpSend, Actor: actor, ID: id, Message: msg})
	t.notify()

	return id, nil
}

// EditMessage replaces the content of a live message.
func (t *Transport) EditMessage(_ context.Context, actor transport.ActorID, id transport.MessageID, msg transport.Outgoing) error {
	t.init()
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.live[actor][id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	m.out = msg
	t.live[actor][id] = m
	t.ops = append(t.ops, Op{Kind: OpEdit, Actor: actor, ID: id, Message: msg})
	t.notify()

	return nil
}

// DeleteMessage removes a message. Deleting a message the transport never
// sent (an actor's own message) is recorded and succeeds.
func (t *Transport) DeleteMessage(_ context.Context, actor transport.ActorID, id transport.MessageID) error {
	t.init()
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.live[actor], id)
	t.ops = append(t.ops, Op{Kind: OpDelete, Actor: actor, ID: id})
	t.notify()

	return nil
}

// Ops returns a copy of every recorded effect in order.
func (t *Transport) Ops() []Op {
	t.init()
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]Op(nil), t.ops...)
}

// Live returns the actor's messages that have been sent and not deleted,
// oldest first.
func (t *Transport) Live(actor transport.ActorID) []Op {
	t.init()
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.liveLocked(actor)
}

func (t *Transport) liveLocked(actor transport.ActorID) []Op {
	msgs := t.live[actor]
	out := make([]Op, 0, len(msgs))
	seqs := make(map[transport.MessageID]int, len(msgs))
	for id, m := range msgs {
		out = append(out, Op{Kind: OpSend, Actor: actor, ID: id, Message: m.out})
		seqs[id] = m.seq
	}
	sort.Slice(out, func(i, j int) bool { return seqs[out[i].ID] < seqs[out[j].ID] })

	return out
}

// Last returns the newest live message for actor.
func (t *Transport) Last(actor transport.ActorID) (Op, bool) {
	live := t.Live(actor)
	if len(live) == 0 {
		return Op{}, false
	}

	return live[len(live)-1], true
}

// Wait blocks until a live message of actor contains substr, returning it.
func (t *Transport) Wait(ctx context.Context, actor transport.ActorID, substr string) (Op, error) {
	t.init()

	for {
		t.mu.Lock()
		live := t.liveLocked(actor)
		sig := t.signal
		t.mu.Unlock()

		for i := len(live) - 1; i >= 0; i-- {
			if strings.Contains(live[i].Message.Text, substr) {
				return live[i], nil
			}
		}

		select {
		case <-ctx.Done():
			return Op{}, fmt.Errorf("memory: wait for %q: %w", substr, ctx.Err())
		case <-sig:
		}
	}
}

// Reset forgets every recorded effect.
func (t *Transport) Reset() {
	t.init()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ops = nil
	t.live = make(map[transport.ActorID]map[transport.MessageID]message)
	t.notify()
}

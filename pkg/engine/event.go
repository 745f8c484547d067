package engine

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/germanamz/stash/pkg/session"
	"github.com/germanamz/stash/pkg/transport"
)

// EventKind names something that happened to a session.
type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventSessionClosed  EventKind = "session_closed"
	EventSessionExpired EventKind = "session_expired"
	EventTransition     EventKind = "transition"
	EventDispatched     EventKind = "event_dispatched"
	EventRejected       EventKind = "event_rejected"
	EventPanic          EventKind = "dispatch_panic"
)

// Event is one entry of the engine's activity stream. Data is an
// EventSummary, a TransitionInfo or, for EventPanic, the panic text.
type Event struct {
	Kind      EventKind         `json:"kind"`
	Actor     transport.ActorID `json:"actor,omitempty"`
	Timestamp time.Time         `json:"time"`
	Data      any               `json:"data,omitempty"`
}

// EventSummary describes an inbound event without its text, which may hold
// a password.
type EventSummary struct {
	Kind   transport.EventKind `json:"kind"`
	Name   string              `json:"name,omitempty"`
	Reason string              `json:"reason,omitempty"`
}

func summarize(ev transport.Event, reason string) EventSummary {
	return EventSummary{Kind: ev.Kind, Name: ev.Name, Reason: reason}
}

// TransitionInfo is the Data of an EventTransition.
type TransitionInfo struct {
	From   string                   `json:"from"`
	To     string                   `json:"to"`
	Reason session.TransitionReason `json:"reason"`
}

// Subscription is a buffered feed of events.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	dropped atomic.Int64
}

// Dropped reports how many events did not fit into C.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// EventBus fans events out to subscribers. Publishing never blocks: a
// subscriber with a full buffer misses the event.
type EventBus struct {
	mu   sync.RWMutex
	subs []*Subscription
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus { return &EventBus{} }

// Subscribe registers a subscriber buffering up to size events.
func (b *EventBus) Subscribe(size int) *Subscription {
	ch := make(chan Event, size)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes sub and closes its channel. Unknown subscriptions are
// ignored.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	close(sub.ch)
}

// Publish stamps e when it has no time yet and hands it to every subscriber.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// EventLog remembers the latest events, oldest first.
type EventLog struct {
	size int

	mu sync.Mutex
	q  *queue.Queue
}

// NewEventLog keeps at most size events.
func NewEventLog(size int) *EventLog {
	return &EventLog{size: max(size, 1), q: queue.New()}
}

// Record appends e, evicting the oldest entry when the log is full.
func (l *EventLog) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.q.Add(e)
	for l.q.Length() > l.size {
		l.q.Remove()
	}
}

// Recent returns up to n of the newest events, oldest first. n <= 0 returns
// everything kept.
func (l *EventLog) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.q.Length()
	if n <= 0 || n > total {
		n = total
	}

	out := make([]Event, 0, n)
	for i := total - n; i < total; i++ {
		out = append(out, l.q.Get(i).(Event))
	}

	return out
}

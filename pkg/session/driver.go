// Package session drives one actor's conversation. A Driver owns the
// actor's current root context, serializes every event through the actor's
// lock, and swaps the root when it finishes or asks to be replaced.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/sessionlock"
	"github.com/germanamz/stash/pkg/transport"
)

// ErrClosed is returned by Dispatch after Shutdown.
var ErrClosed = errors.New("session: driver closed")

// DefaultPollInterval bounds how long a watchdog-driven termination can go
// unnoticed.
const DefaultPollInterval = time.Second

// RootFunc builds a fresh root context for env.
type RootFunc func(env dialog.Env) dialog.Context

// Options configures a Driver.
type Options struct {
	Transport    transport.Transport
	Logger       *slog.Logger
	PollInterval time.Duration
	// OnTransition is called under the actor lock after every root swap.
	OnTransition func(from, to dialog.Context, reason TransitionReason)
}

// TransitionReason tells why the root was swapped.
type TransitionReason string

const (
	ReasonTerminal    TransitionReason = "terminal"
	ReasonReplacement TransitionReason = "replacement"
	// ReasonReset means a transition panicked and a fresh root took over.
	ReasonReset TransitionReason = "reset"
)

// Driver runs one actor's session.
type Driver struct {
	actor   transport.ActorID
	locks   *sessionlock.Registry
	root    RootFunc
	env     dialog.Env
	log     *slog.Logger
	poll    time.Duration
	onTrans func(from, to dialog.Context, reason TransitionReason)

	wake     chan struct{}
	stop     context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	current  dialog.Context
	closed   bool
	activity time.Time
}

// New builds the actor's root context, starts it and launches the
// transition watcher.
func New(actor transport.ActorID, locks *sessionlock.Registry, root RootFunc, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	d := &Driver{
		actor:    actor,
		locks:    locks,
		root:     root,
		log:      logger.With("actor", string(actor)),
		poll:     poll,
		onTrans:  opts.OnTransition,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		activity: time.Now(),
	}
	d.env = dialog.Env{
		Actor:     actor,
		Transport: opts.Transport,
		Logger:    logger,
		Wake:      d.Wake,
	}

	d.current = d.root(d.env)
	d.current.Start()

	ctx, cancel := context.WithCancel(context.Background())
	d.stop = cancel
	go d.watch(ctx)

	return d
}

// Actor returns the driven actor.
func (d *Driver) Actor() transport.ActorID { return d.actor }

// Current returns the current root context.
func (d *Driver) Current() dialog.Context {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.current
}

// LastActivity returns when the last event was dispatched.
func (d *Driver) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.activity
}

// Wake requests a transition check without waiting for the next poll.
func (d *Driver) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Dispatch delivers ev to the current root under the actor lock. Transitions
// are checked before delivery, so a root that finished between polls never
// swallows ev, and again before the lock is released.
func (d *Driver) Dispatch(ctx context.Context, ev transport.Event) error {
	h, err := d.locks.Acquire(ctx, d.actor)
	if err != nil {
		return fmt.Errorf("session: dispatch: %w", err)
	}
	defer h.Release()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.activity = time.Now()
	d.mu.Unlock()

	// A root that finished between polls or during its own startup must not
	// swallow ev.
	select {
	case <-d.Current().Ready():
	case <-ctx.Done():
	}
	d.checkTransitions(ctx)

	dialog.Deliver(ctx, d.Current(), ev)

	d.checkTransitions(ctx)
	d.Wake()

	return nil
}

// checkTransitions performs at most one root swap. Callers must hold the
// actor lock. A panic while swapping resets the session to a fresh root.
func (d *Driver) checkTransitions(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	cur := d.current
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "session transition failed", "error", &dialog.PanicError{Op: "transition", Value: r})
			d.reset(ctx, cur)
		}
	}()

	var (
		next   dialog.Context
		reason TransitionReason
	)

	switch {
	case cur.IsTerminal():
		reason = ReasonTerminal
	case cur.PendingNext() != nil:
		next = cur.PendingNext()
		reason = ReasonReplacement
	default:
		return
	}

	cur.Shutdown(ctx)

	if next == nil {
		next = d.root(d.env)
	}
	next.Start()

	d.mu.Lock()
	d.current = next
	d.mu.Unlock()

	d.log.DebugContext(ctx, "session transition", "reason", reason)

	if d.onTrans != nil {
		d.onTrans(cur, next, reason)
	}
}

// reset drops cur, and whatever was installed in its place, for a fresh root.
func (d *Driver) reset(ctx context.Context, cur dialog.Context) {
	d.mu.Lock()
	installed := d.current
	d.mu.Unlock()

	d.discard(ctx, cur)
	if installed != cur {
		d.discard(ctx, installed)
	}

	next := d.root(d.env)
	next.Start()

	d.mu.Lock()
	d.current = next
	d.mu.Unlock()

	if d.onTrans != nil {
		d.onTrans(cur, next, ReasonReset)
	}
}

// discard shuts c down, tolerating a context that is already shut down or
// fails while doing so.
func (d *Driver) discard(ctx context.Context, c dialog.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WarnContext(ctx, "context did not shut down cleanly", "panic", r)
		}
	}()

	c.Shutdown(ctx)
}

func (d *Driver) watch(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}

		h, err := d.locks.Acquire(ctx, d.actor)
		if err != nil {
			return
		}
		d.checkTransitions(context.WithoutCancel(ctx))
		h.Release()
	}
}

// Shutdown stops the watcher and shuts the current root down. It is safe to
// call more than once, and a root failing to shut down does not panic.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(d.stop)
	<-d.done

	h, err := d.locks.Acquire(ctx, d.actor)
	if err != nil {
		return fmt.Errorf("session: shutdown: %w", err)
	}
	defer h.Release()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cur := d.current
	d.mu.Unlock()

	d.discard(ctx, cur)
	d.log.DebugContext(ctx, "session shut down")

	return nil
}

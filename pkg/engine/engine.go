package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/session"
	"github.com/germanamz/stash/pkg/sessionlock"
	"github.com/germanamz/stash/pkg/transport"
	"github.com/germanamz/stash/pkg/whitelist"
)

var (
	// ErrNotAllowed is returned when the whitelist rejects an actor.
	ErrNotAllowed = errors.New("engine: actor not allowed")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("engine: closed")
)

const (
	notAllowedText = "You are not allowed to use this bot"
	slowDownText   = "Too many messages, slow down"
	closedText     = "Session closed"
	noSessionText  = "No active session"
	crashedText    = "Something went wrong, your session was reset"

	// historySize bounds the events kept for RecentEvents.
	historySize = 256
)

// Options carries the collaborators of an Engine.
type Options struct {
	Transport transport.Transport
	Root      session.RootFunc
	Whitelist *whitelist.List // nil admits everyone
	Logger    *slog.Logger
}

// SessionInfo describes a live session.
type SessionInfo struct {
	Actor        transport.ActorID `json:"actor"`
	Screen       string            `json:"screen"`
	LastActivity time.Time         `json:"last_activity"`
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Sessions  int `json:"sessions"`
	BusyLocks int `json:"busy_locks"`
}

// Engine is the composition root that owns every actor's session and exposes
// them through a frontend-agnostic API.
type Engine struct {
	cfg        Config
	timing     Timing
	tr         transport.Transport
	root       session.RootFunc
	allow      *whitelist.List
	log        *slog.Logger
	events     *EventBus
	history    *EventLog
	limiter    *RateLimiter
	locks      sessionlock.Registry
	dispatcher Dispatcher

	mu      sync.Mutex
	drivers map[transport.ActorID]*session.Driver
	closed  bool
}

// New creates an Engine from the given configuration.
func New(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timing, err := cfg.Timing()
	if err != nil {
		return nil, err
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("engine: transport is required")
	}
	if opts.Root == nil {
		return nil, fmt.Errorf("engine: root factory is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		cfg:     cfg,
		timing:  timing,
		tr:      opts.Transport,
		root:    opts.Root,
		allow:   opts.Whitelist,
		log:     log,
		events:  NewEventBus(),
		history: NewEventLog(historySize),
		limiter: NewRateLimiter(cfg.RateLimit),
		drivers: make(map[transport.ActorID]*session.Driver),
	}

	e.dispatcher = Chain(DispatcherFunc(e.dispatch),
		Logger(log),
		Recovery(e.recovered),
		Admit(e.allowed, func(ctx context.Context, ev transport.Event) {
			e.events.Publish(Event{Kind: EventRejected, Actor: ev.Actor, Data: summarize(ev, "not_allowed")})
			e.notify(ctx, ev.Actor, notAllowedText)
		}),
		RateLimit(e.limiter, func(ctx context.Context, ev transport.Event) {
			e.events.Publish(Event{Kind: EventRejected, Actor: ev.Actor, Data: summarize(ev, "rate_limited")})
			e.notify(ctx, ev.Actor, slowDownText)
		}),
		Timeout(timing.DispatchTimeout),
	)

	return e, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Locks returns the per-actor lock registry.
func (e *Engine) Locks() *sessionlock.Registry { return &e.locks }

// Dispatch routes ev to its actor's session.
func (e *Engine) Dispatch(ctx context.Context, ev transport.Event) error {
	return e.dispatcher.Dispatch(ctx, ev)
}

// RecentEvents returns up to limit of the newest events recorded while Run
// was active, oldest first.
func (e *Engine) RecentEvents(limit int) []Event { return e.history.Recent(limit) }

func (e *Engine) allowed(actor transport.ActorID) bool {
	return e.allow == nil || e.allow.Allowed(actor)
}

// recovered drops the session whose dispatch panicked. Its state may be half
// updated, so the actor starts over with the next event.
func (e *Engine) recovered(ctx context.Context, ev transport.Event, r any) {
	e.log.ErrorContext(ctx, "dispatch panic", "actor", string(ev.Actor), "panic", r)
	e.events.Publish(Event{Kind: EventPanic, Actor: ev.Actor, Data: fmt.Sprint(r)})

	ctx = context.WithoutCancel(ctx)
	e.CloseSession(ctx, ev.Actor)
	e.notify(ctx, ev.Actor, crashedText)
}

func (e *Engine) dispatch(ctx context.Context, ev transport.Event) error {
	if ev.Kind == transport.KindCommand && ev.Name == e.cfg.CloseCommand {
		if e.CloseSession(ctx, ev.Actor) {
			e.notify(ctx, ev.Actor, closedText)
		} else {
			e.notify(ctx, ev.Actor, noSessionText)
		}
		return nil
	}

	// A driver closed by a concurrent sweep or /close is already out of the
	// map, so one retry reaches a fresh session.
	for range 2 {
		d, err := e.driver(ev.Actor)
		if err != nil {
			return err
		}

		err = d.Dispatch(ctx, ev)
		if errors.Is(err, session.ErrClosed) {
			continue
		}
		if err != nil {
			return err
		}

		e.events.Publish(Event{Kind: EventDispatched, Actor: ev.Actor, Data: summarize(ev, "")})
		return nil
	}

	return fmt.Errorf("engine: dispatch %s: %w", ev.Actor, session.ErrClosed)
}

// driver returns the actor's driver, starting a new session if needed.
func (e *Engine) driver(actor transport.ActorID) (*session.Driver, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if d, ok := e.drivers[actor]; ok {
		return d, nil
	}

	d := session.New(actor, &e.locks, e.root, session.Options{
		Transport:    e.tr,
		Logger:       e.log,
		PollInterval: e.timing.PollInterval,
		OnTransition: func(from, to dialog.Context, reason session.TransitionReason) {
			e.events.Publish(Event{
				Kind:  EventTransition,
				Actor: actor,
				Data:  TransitionInfo{From: screenName(from), To: screenName(to), Reason: reason},
			})
		},
	})
	e.drivers[actor] = d

	e.log.Info("session started", "actor", string(actor))
	e.events.Publish(Event{Kind: EventSessionStarted, Actor: actor})

	return d, nil
}

// CloseSession shuts the actor's session down. It reports whether a session
// existed.
func (e *Engine) CloseSession(ctx context.Context, actor transport.ActorID) bool {
	e.mu.Lock()
	d, ok := e.drivers[actor]
	delete(e.drivers, actor)
	e.mu.Unlock()

	if !ok {
		return false
	}

	if err := d.Shutdown(ctx); err != nil {
		e.log.WarnContext(ctx, "session shutdown failed", "actor", string(actor), "error", err)
	}

	e.log.InfoContext(ctx, "session closed", "actor", string(actor))
	e.events.Publish(Event{Kind: EventSessionClosed, Actor: actor})

	return true
}

// Sessions lists live sessions ordered by actor.
func (e *Engine) Sessions() []SessionInfo {
	e.mu.Lock()
	drivers := make([]*session.Driver, 0, len(e.drivers))
	for _, d := range e.drivers {
		drivers = append(drivers, d)
	}
	e.mu.Unlock()

	infos := make([]SessionInfo, 0, len(drivers))
	for _, d := range drivers {
		infos = append(infos, SessionInfo{
			Actor:        d.Actor(),
			Screen:       screenName(d.Current()),
			LastActivity: d.LastActivity(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Actor < infos[j].Actor })

	return infos
}

// Stats returns session and lock counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	n := len(e.drivers)
	e.mu.Unlock()

	return Stats{Sessions: n, BusyLocks: e.locks.Len()}
}

// Sweep closes sessions idle for longer than the configured TTL and returns
// the expired actors.
func (e *Engine) Sweep(ctx context.Context, now time.Time) []transport.ActorID {
	e.mu.Lock()
	var stale []*session.Driver
	for actor, d := range e.drivers {
		if now.Sub(d.LastActivity()) > e.timing.SessionTTL {
			stale = append(stale, d)
			delete(e.drivers, actor)
		}
	}
	e.mu.Unlock()

	e.limiter.Prune(now)

	expired := make([]transport.ActorID, 0, len(stale))
	for _, d := range stale {
		e.limiter.Forget(d.Actor())
		if err := d.Shutdown(ctx); err != nil {
			e.log.WarnContext(ctx, "session shutdown failed", "actor", string(d.Actor()), "error", err)
		}
		e.notify(ctx, d.Actor(), fmt.Sprintf("Session expired after %s of inactivity", e.timing.SessionTTL))
		e.log.InfoContext(ctx, "session expired", "actor", string(d.Actor()))
		e.events.Publish(Event{Kind: EventSessionExpired, Actor: d.Actor()})
		expired = append(expired, d.Actor())
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	return expired
}

// Run sweeps idle sessions and feeds RecentEvents until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	sub := e.events.Subscribe(historySize)
	defer e.events.Unsubscribe(sub)

	ticker := time.NewTicker(e.timing.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if ok {
				e.history.Record(ev)
			}
		case now := <-ticker.C:
			e.Sweep(ctx, now)
		}
	}
}

// Close shuts every session down concurrently. Dispatch fails with ErrClosed
// afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	drivers := e.drivers
	e.drivers = make(map[transport.ActorID]*session.Driver)
	e.mu.Unlock()

	p := pool.New().WithErrors()
	for _, d := range drivers {
		e.limiter.Forget(d.Actor())
		p.Go(func() error {
			if err := d.Shutdown(ctx); err != nil {
				return fmt.Errorf("engine: close %s: %w", d.Actor(), err)
			}
			e.events.Publish(Event{Kind: EventSessionClosed, Actor: d.Actor()})
			return nil
		})
	}

	return p.Wait()
}

func (e *Engine) notify(ctx context.Context, actor transport.ActorID, text string) {
	if _, err := e.tr.SendMessage(ctx, actor, transport.Outgoing{Text: text}); err != nil {
		e.log.WarnContext(ctx, "notify failed", "actor", string(actor), "error", err)
	}
}

func screenName(c dialog.Context) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}

	return fmt.Sprintf("%T", c)
}

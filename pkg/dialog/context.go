package dialog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/germanamz/stash/pkg/transport"
)

// Env carries what every context of one actor shares.
type Env struct {
	Actor     transport.ActorID
	Transport transport.Transport
	Logger    *slog.Logger
	// Wake asks the owning driver to check for transitions now instead of
	// at its next poll. May be nil.
	Wake func()
}

// Context is one node of an actor's conversation chain.
type Context interface {
	Actor() transport.ActorID
	// Start schedules the startup hooks. It is idempotent.
	Start()
	// Ready is closed once startup has finished.
	Ready() <-chan struct{}
	HandleMessage(ctx context.Context, ev transport.Event)
	HandleCommand(ctx context.Context, ev transport.Event)
	HandleCallback(ctx context.Context, ev transport.Event)
	// Shutdown stops the sub-context first, then runs own shutdown hooks.
	// Calling it twice panics.
	Shutdown(ctx context.Context)
	IsTerminal() bool
	// Result panics while the context is not terminal.
	Result() Outcome
	// PendingNext returns the requested replacement, or nil.
	PendingNext() Context
	LastActivity() time.Time
}

// Deliver routes ev to the handler of c that matches its kind. Unknown
// kinds are delivered as messages.
func Deliver(ctx context.Context, c Context, ev transport.Event) {
	switch ev.Kind {
	case transport.KindCommand:
		c.HandleCommand(ctx, ev)
	case transport.KindCallback:
		c.HandleCallback(ctx, ev)
	default:
		c.HandleMessage(ctx, ev)
	}
}

// State is the result state of a context.
type State int

const (
	Pending State = iota
	Resolved
	Exited
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Outcome is the result of a terminal context.
type Outcome struct {
	State State
	Value any
}

// Base implements Context. Screens embed it and register their handlers.
type Base struct {
	env  Env
	name string
	log  *slog.Logger

	life      Lifecycle
	callbacks Emitter
	commands  Emitter

	onMessage    Handler
	onSubResult  func(ctx context.Context, sub Context)
	onUnexpected func(ctx context.Context, ev transport.Event)

	runCtx context.Context
	cancel context.CancelFunc

	// serial orders event handling against the idle watchdog.
	serial sync.Mutex

	mu       sync.Mutex
	sub      Context
	outcome  Outcome
	next     func() Context
	nextCtx  Context
	activity time.Time
	closed   bool
}

var _ Context = (*Base)(nil)

// NewBase creates a pending context for env. name labels log records.
func NewBase(env Env, name string) *Base {
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Base{
		env:      env,
		name:     name,
		log:      logger.With("context", name, "actor", string(env.Actor)),
		runCtx:   ctx,
		cancel:   cancel,
		activity: time.Now(),
	}
}

// Name returns the context label.
func (b *Base) Name() string { return b.name }

// Env returns the environment the context was created with.
func (b *Base) Env() Env { return b.env }

// Actor returns the actor the context belongs to.
func (b *Base) Actor() transport.ActorID { return b.env.Actor }

// Transport returns the actor's transport.
func (b *Base) Transport() transport.Transport { return b.env.Transport }

// Log returns the context logger.
func (b *Base) Log() *slog.Logger { return b.log }

// Callbacks returns the callback emitter.
func (b *Base) Callbacks() *Emitter { return &b.callbacks }

// Commands returns the command emitter.
func (b *Base) Commands() *Emitter { return &b.commands }

// OnMessage sets the free-text message handler.
func (b *Base) OnMessage(h Handler) { b.onMessage = h }

// OnSubResult sets the hook told about every sub-context that finished.
// The sub-context is already shut down and detached when it runs.
func (b *Base) OnSubResult(fn func(ctx context.Context, sub Context)) { b.onSubResult = fn }

// OnUnexpected replaces the recovery run when an event has no handler. The
// default deletes the message that carried the event.
func (b *Base) OnUnexpected(fn func(ctx context.Context, ev transport.Event)) { b.onUnexpected = fn }

// OnStartup appends a startup hook.
func (b *Base) OnStartup(h Hook) { b.life.OnStartup(h) }

// OnShutdown appends a shutdown hook.
func (b *Base) OnShutdown(h Hook) { b.life.OnShutdown(h) }

// Start launches the startup hooks.
func (b *Base) Start() {
	b.life.Start(b.runCtx, func(err error) {
		b.log.Error("startup failed", "error", err)
		if errors.Is(err, ErrPanicked) {
			b.abort()
		}
	})
}

// Ready is closed once startup has finished.
func (b *Base) Ready() <-chan struct{} { return b.life.Ready() }

// Wake asks the driver for an early transition check.
func (b *Base) Wake() {
	if b.env.Wake != nil {
		b.env.Wake()
	}
}

// HandleMessage handles a free-text message.
func (b *Base) HandleMessage(ctx context.Context, ev transport.Event) { b.handle(ctx, ev) }

// HandleCommand handles a named command.
func (b *Base) HandleCommand(ctx context.Context, ev transport.Event) { b.handle(ctx, ev) }

// HandleCallback handles a named callback.
func (b *Base) HandleCallback(ctx context.Context, ev transport.Event) { b.handle(ctx, ev) }

func (b *Base) handle(ctx context.Context, ev transport.Event) {
	b.serial.Lock()
	defer b.serial.Unlock()

	b.touch()
	b.Start()

	select {
	case <-b.Ready():
	case <-ctx.Done():
		b.log.WarnContext(ctx, "event dropped before startup finished", "kind", ev.Kind, "error", ctx.Err())
		return
	}

	if b.IsTerminal() {
		b.log.DebugContext(ctx, "event after terminal dropped", "kind", ev.Kind, "name", ev.Name)
		return
	}

	b.reconcile(ctx)

	if sub := b.SubContext(); sub != nil {
		Deliver(ctx, sub, ev)
	} else {
		b.absorb(ctx, ev, b.own(ctx, ev))
	}

	b.reconcile(ctx)
}

func (b *Base) own(ctx context.Context, ev transport.Event) error {
	switch ev.Kind {
	case transport.KindMessage:
		if b.onMessage == nil {
			return &UnexpectedEmitError{Name: string(transport.KindMessage)}
		}
		return b.onMessage(ctx, ev)
	case transport.KindCommand:
		return b.commands.Emit(ctx, ev.Name, ev)
	case transport.KindCallback:
		return b.callbacks.Emit(ctx, ev.Name, ev)
	default:
		return &UnexpectedEmitError{Name: string(ev.Kind)}
	}
}

// absorb keeps handler failures inside the context.
func (b *Base) absorb(ctx context.Context, ev transport.Event, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrUnexpectedEmit):
		b.log.WarnContext(ctx, "unexpected event", "kind", ev.Kind, "name", ev.Name, "error", err)
		if b.onUnexpected != nil {
			b.onUnexpected(ctx, ev)
			return
		}
		b.dropMessage(ctx, ev)
	default:
		b.log.ErrorContext(ctx, "event handler failed", "kind", ev.Kind, "name", ev.Name, "error", err)
	}
}

func (b *Base) dropMessage(ctx context.Context, ev transport.Event) {
	if ev.MessageID == "" || b.env.Transport == nil {
		return
	}
	if err := b.env.Transport.DeleteMessage(ctx, b.env.Actor, ev.MessageID); err != nil {
		b.log.WarnContext(ctx, "cleanup failed", "message", ev.MessageID, "error", err)
	}
}

// reconcile detaches a finished sub-context and reports it.
func (b *Base) reconcile(ctx context.Context) {
	sub := b.SubContext()
	if sub == nil || !sub.IsTerminal() {
		return
	}

	sub.Shutdown(ctx)

	b.mu.Lock()
	if b.sub == sub {
		b.sub = nil
	}
	b.mu.Unlock()

	if b.onSubResult != nil {
		b.onSubResult(ctx, sub)
	}
}

// SubContext returns the attached sub-context, or nil.
func (b *Base) SubContext() Context {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sub
}

// SetSubContext attaches and starts sub. It panics when a sub-context is
// already attached or b is terminal.
func (b *Base) SetSubContext(sub Context) {
	b.mu.Lock()
	switch {
	case b.outcome.State != Pending:
		b.mu.Unlock()
		violate("set sub context", "context is terminal")
	case b.sub != nil:
		b.mu.Unlock()
		violate("set sub context", "a sub context is already attached")
	}
	b.sub = sub
	b.mu.Unlock()

	sub.Start()
}

// SetResult resolves the context with v.
func (b *Base) SetResult(v any) { b.finish("set result", Outcome{State: Resolved, Value: v}) }

// Exit terminates the context without a value.
func (b *Base) Exit() { b.finish("exit", Outcome{State: Exited}) }

func (b *Base) finish(op string, o Outcome) {
	b.mu.Lock()
	if b.outcome.State != Pending {
		b.mu.Unlock()
		violate(op, "context already terminal")
	}
	b.outcome = o
	b.mu.Unlock()
}

// abort exits a pending context after a panic on one of its goroutines and
// wakes the driver so the root gets replaced. It never panics itself.
func (b *Base) abort() {
	b.mu.Lock()
	if b.outcome.State == Pending {
		b.outcome = Outcome{State: Exited}
	}
	b.mu.Unlock()

	b.Wake()
}

// IsTerminal reports whether the context has resolved or exited.
func (b *Base) IsTerminal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.outcome.State != Pending
}

// Result returns the outcome. It panics while the context is pending.
func (b *Base) Result() Outcome {
	b.mu.Lock()
	o := b.outcome
	b.mu.Unlock()

	if o.State == Pending {
		violate("result", "context is not terminal")
	}

	return o
}

// RequestNewContext asks the driver to replace this root context with the
// one factory builds. It may be called once, and only while pending.
func (b *Base) RequestNewContext(factory func() Context) {
	b.mu.Lock()
	switch {
	case b.outcome.State != Pending:
		b.mu.Unlock()
		violate("request new context", "context is terminal")
	case b.next != nil:
		b.mu.Unlock()
		violate("request new context", "replacement already requested")
	}
	b.next = factory
	b.mu.Unlock()

	b.Wake()
}

// PendingNext instantiates the requested replacement on first call and
// returns the same instance afterwards.
func (b *Base) PendingNext() Context {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.next == nil {
		return nil
	}
	if b.nextCtx == nil {
		b.nextCtx = b.next()
	}

	return b.nextCtx
}

// LastActivity returns when the context last received an event.
func (b *Base) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.activity
}

func (b *Base) touch() {
	b.mu.Lock()
	b.activity = time.Now()
	b.mu.Unlock()
}

// Shutdown cancels startup, shuts the sub-context down, then runs own
// shutdown hooks in order.
func (b *Base) Shutdown(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		violate("shutdown", "context already shut down")
	}
	b.closed = true
	b.mu.Unlock()

	b.life.Stop()

	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		sub.Shutdown(ctx)
	}

	if err := b.life.RunShutdown(ctx); err != nil {
		b.log.ErrorContext(ctx, "shutdown failed", "error", err)
	}

	b.cancel()
}

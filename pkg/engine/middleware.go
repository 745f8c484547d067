package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/stash/pkg/transport"
)

// Dispatcher handles one inbound event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev transport.Event) error
}

// DispatcherFunc adapts a plain function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, ev transport.Event) error

// Dispatch calls the underlying function.
func (f DispatcherFunc) Dispatch(ctx context.Context, ev transport.Event) error {
	return f(ctx, ev)
}

// Middleware wraps a Dispatcher, returning a new Dispatcher with added
// behaviour.
type Middleware func(next Dispatcher) Dispatcher

// Chain wraps d so that the first middleware is the outermost.
func Chain(d Dispatcher, mws ...Middleware) Dispatcher {
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}

	return d
}

// --- Timeout middleware ---

// Timeout returns a Middleware that wraps the dispatch context with a deadline.
func Timeout(d time.Duration) Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, ev transport.Event) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			return next.Dispatch(ctx, ev)
		})
	}
}

// --- Admission middleware ---

// Admit returns a Middleware that stops events of actors allowed rejects
// before any later middleware sees them. onRejected, if set, runs for each
// rejected event.
func Admit(allowed func(transport.ActorID) bool, onRejected func(ctx context.Context, ev transport.Event)) Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, ev transport.Event) error {
			if !allowed(ev.Actor) {
				if onRejected != nil {
					onRejected(ctx, ev)
				}
				return ErrNotAllowed
			}

			return next.Dispatch(ctx, ev)
		})
	}
}

// --- Recovery middleware ---

// Recovery returns a Middleware that catches panics and converts them to
// errors. onPanic, if set, runs before the error is returned.
func Recovery(onPanic func(ctx context.Context, ev transport.Event, recovered any)) Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, ev transport.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					if onPanic != nil {
						onPanic(ctx, ev, r)
					}
					err = fmt.Errorf("engine: dispatch panicked: %v", r)
				}
			}()

			return next.Dispatch(ctx, ev)
		})
	}
}

// --- Logger middleware ---

// Logger returns a Middleware that logs each event, its duration and error.
func Logger(log *slog.Logger) Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, ev transport.Event) error {
			start := time.Now()

			err := next.Dispatch(ctx, ev)

			duration := time.Since(start)

			if err != nil {
				log.ErrorContext(ctx, "dispatch finished with error",
					"actor", string(ev.Actor),
					"kind", ev.Kind,
					"name", ev.Name,
					"duration", duration,
					"error", err,
				)
			} else {
				log.DebugContext(ctx, "dispatch finished",
					"actor", string(ev.Actor),
					"kind", ev.Kind,
					"name", ev.Name,
					"duration", duration,
				)
			}

			return err
		})
	}
}

package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Hook is a startup or shutdown action.
type Hook func(ctx context.Context) error

// Lifecycle holds ordered startup and shutdown hooks. Startup hooks run on a
// goroutine launched by Start; Ready is closed once they have all returned.
// Shutdown hooks run at most once. The zero value is ready to use.
type Lifecycle struct {
	mu       sync.Mutex
	startup  []Hook
	shutdown []Hook

	startOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}
	cancel    context.CancelFunc
	started   bool
	ranDown   bool
}

func (l *Lifecycle) readyChan() chan struct{} {
	l.readyOnce.Do(func() { l.ready = make(chan struct{}) })
	return l.ready
}

// OnStartup appends a startup hook. Hooks added after Start are ignored.
func (l *Lifecycle) OnStartup(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.startup = append(l.startup, h)
}

// OnShutdown appends a shutdown hook.
func (l *Lifecycle) OnShutdown(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.shutdown = append(l.shutdown, h)
}

// Start launches the startup hooks in order on a new goroutine. Errors are
// passed to report and do not stop later hooks. A panicking hook stops the
// remaining ones and is reported as a *PanicError before Ready is closed.
// Calling Start again has no effect.
func (l *Lifecycle) Start(ctx context.Context, report func(error)) {
	l.startOnce.Do(func() {
		ready := l.readyChan()

		l.mu.Lock()
		ctx, cancel := context.WithCancel(ctx)
		l.cancel = cancel
		l.started = true
		hooks := append([]Hook(nil), l.startup...)
		l.mu.Unlock()

		go func() {
			defer close(ready)
			defer cancel()
			defer func() {
				if r := recover(); r != nil && report != nil {
					report(&PanicError{Op: "startup", Value: r})
				}
			}()

			for i, h := range hooks {
				if ctx.Err() != nil {
					return
				}
				if err := h(ctx); err != nil && report != nil {
					report(fmt.Errorf("dialog: startup hook %d: %w", i, err))
				}
			}
		}()
	})
}

// Ready is closed when every startup hook has returned.
func (l *Lifecycle) Ready() <-chan struct{} { return l.readyChan() }

// Stop cancels running startup hooks and waits for them to return. It is a
// no-op when Start was never called.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	started, cancel := l.started, l.cancel
	l.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-l.readyChan()
}

// RunShutdown runs the shutdown hooks in registration order and returns the
// joined errors. A second call panics.
func (l *Lifecycle) RunShutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.ranDown {
		l.mu.Unlock()
		violate("run shutdown", "shutdown hooks already ran")
	}
	l.ranDown = true
	hooks := append([]Hook(nil), l.shutdown...)
	l.mu.Unlock()

	var errs []error
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dialog: shutdown hook %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

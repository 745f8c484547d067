package dialog

import (
	"context"
	"time"

	"github.com/germanamz/stash/pkg/transport"
)

// KillIfUnused exits the context once no event has arrived for d. The wait
// restarts from the latest activity each time it elapses, so the context
// never exits earlier than d after its last event. When it fires on a
// pending context, reason is sent to the actor and the driver is woken. The
// watchdog is stopped by Shutdown.
func (b *Base) KillIfUnused(d time.Duration, reason string) {
	ctx, cancel := context.WithCancel(b.runCtx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("idle watchdog failed", "error", &PanicError{Op: "idle watchdog", Value: r})
				b.abort()
			}
		}()
		b.watchIdle(ctx, d, reason)
	}()

	b.OnShutdown(func(context.Context) error {
		cancel()
		<-done
		return nil
	})
}

func (b *Base) watchIdle(ctx context.Context, d time.Duration, reason string) {
	for {
		if !sleepUntilIdle(ctx, b, d) {
			return
		}

		if b.expire(ctx, d, reason) {
			return
		}
	}
}

// sleepUntilIdle blocks until d has passed since the last activity. It
// returns false when ctx is cancelled first.
func sleepUntilIdle(ctx context.Context, b *Base, d time.Duration) bool {
	for {
		remaining := d - time.Since(b.LastActivity())
		if remaining <= 0 {
			return true
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// expire exits the context unless an event arrived in the meantime. It
// reports whether the watchdog is finished.
func (b *Base) expire(ctx context.Context, d time.Duration, reason string) bool {
	b.serial.Lock()
	defer b.serial.Unlock()

	if ctx.Err() != nil || b.IsTerminal() {
		return true
	}
	if time.Since(b.LastActivity()) < d {
		return false
	}

	b.Exit()
	b.log.InfoContext(ctx, "context expired", "idle", d)

	if reason != "" && b.env.Transport != nil {
		if _, err := b.env.Transport.SendMessage(ctx, b.env.Actor, transport.Outgoing{Text: reason}); err != nil {
			b.log.WarnContext(ctx, "expiry notice failed", "error", err)
		}
	}

	b.Wake()

	return true
}

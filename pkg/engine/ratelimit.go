package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/germanamz/stash/pkg/transport"
)

// ErrRateLimited is returned when an actor sends more events per minute than
// allowed.
var ErrRateLimited = errors.New("engine: rate limited")

// RateLimiter tracks events per actor over a sliding one-minute window.
type RateLimiter struct {
	rpm int // events per minute, 0 = no limit

	mu      sync.Mutex
	windows map[transport.ActorID][]time.Time

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewRateLimiter allows rpm events per actor and minute.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm:     rpm,
		windows: make(map[transport.ActorID][]time.Time),
		nowFunc: time.Now,
	}
}

// Allow records an event of actor and reports whether it is within the
// limit. Rejected events are not recorded.
func (r *RateLimiter) Allow(actor transport.ActorID) bool {
	if r.rpm <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	window := prune(r.windows[actor], now)

	if len(window) >= r.rpm {
		r.windows[actor] = window
		return false
	}

	r.windows[actor] = append(window, now)

	return true
}

// Forget drops the window of actor.
func (r *RateLimiter) Forget(actor transport.ActorID) {
	r.mu.Lock()
	delete(r.windows, actor)
	r.mu.Unlock()
}

// Prune drops the windows of actors with no event in the minute before now.
func (r *RateLimiter) Prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for actor, window := range r.windows {
		if len(prune(window, now)) == 0 {
			delete(r.windows, actor)
		}
	}
}

// Len returns the number of tracked actors.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.windows)
}

// prune removes entries older than one minute.
func prune(window []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		window = append(window[:0:0], window[i:]...)
	}

	return window
}

// RateLimit returns a Middleware that rejects events beyond the limiter's
// budget. onLimited, if set, runs for each rejected event.
func RateLimit(r *RateLimiter, onLimited func(ctx context.Context, ev transport.Event)) Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, ev transport.Event) error {
			if !r.Allow(ev.Actor) {
				if onLimited != nil {
					onLimited(ctx, ev)
				}
				return fmt.Errorf("engine: %s: %w", ev.Actor, ErrRateLimited)
			}

			return next.Dispatch(ctx, ev)
		})
	}
}

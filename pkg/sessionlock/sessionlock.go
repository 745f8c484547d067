// Package sessionlock serializes work per actor. A Registry hands out one
// mutual-exclusion lock per actor id and forgets it as soon as nobody holds
// or waits for it, so its size tracks the number of busy actors rather than
// every actor ever seen.
package sessionlock

import (
	"context"
	"fmt"
	"sync"

	"github.com/germanamz/stash/pkg/transport"
)

type entry struct {
	sem     chan struct{}
	waiters int
	held    bool
}

// Registry maps actors to locks. The zero value is ready to use.
type Registry struct {
	mu      sync.Mutex
	entries map[transport.ActorID]*entry
}

// Handle is a held lock. Release it exactly when the work is done.
type Handle struct {
	r     *Registry
	actor transport.ActorID
	e     *entry
	once  sync.Once
}

// Acquire blocks until the actor's lock is held or ctx is done.
func (r *Registry) Acquire(ctx context.Context, actor transport.ActorID) (*Handle, error) {
	r.mu.Lock()
	if r.entries == nil {
		r.entries = make(map[transport.ActorID]*entry)
	}
	e, ok := r.entries[actor]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.entries[actor] = e
	}
	e.waiters++
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.mu.Lock()
		e.waiters--
		r.prune(actor, e)
		r.mu.Unlock()

		return nil, fmt.Errorf("sessionlock: acquire %s: %w", actor, ctx.Err())
	}

	r.mu.Lock()
	e.waiters--
	e.held = true
	r.mu.Unlock()

	return &Handle{r: r, actor: actor, e: e}, nil
}

// Release unlocks the actor. Further calls are no-ops.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.r.mu.Lock()
		defer h.r.mu.Unlock()

		h.e.held = false
		<-h.e.sem
		h.r.prune(h.actor, h.e)
	})
}

// prune drops e when it is idle. Callers must hold r.mu.
func (r *Registry) prune(actor transport.ActorID, e *entry) {
	if e.waiters == 0 && !e.held && r.entries[actor] == e {
		delete(r.entries, actor)
	}
}

// Len returns the number of actors with a held or awaited lock.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

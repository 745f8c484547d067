package dialog

import (
	"context"
	"sort"

	"github.com/germanamz/stash/pkg/transport"
)

// Handler reacts to one inbound event.
type Handler func(ctx context.Context, ev transport.Event) error

// Emitter maps names to handlers. The zero value is ready to use. It is not
// safe for concurrent use; a Context serializes every access to its
// emitters.
type Emitter struct {
	handlers map[string]Handler
}

// Set registers h under name, replacing any previous handler.
func (e *Emitter) Set(name string, h Handler) {
	if e.handlers == nil {
		e.handlers = make(map[string]Handler)
	}
	e.handlers[name] = h
}

// ClearAll removes every handler.
func (e *Emitter) ClearAll() {
	e.handlers = nil
}

// Len returns the number of registered handlers.
func (e *Emitter) Len() int { return len(e.handlers) }

// Names returns the registered names in sorted order.
func (e *Emitter) Names() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Emit invokes the handler registered under name. It returns an
// *UnexpectedEmitError when there is none.
func (e *Emitter) Emit(ctx context.Context, name string, ev transport.Event) error {
	h, ok := e.handlers[name]
	if !ok {
		return &UnexpectedEmitError{Name: name, Expected: e.Names()}
	}

	return h(ctx, ev)
}

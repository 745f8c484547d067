package screens

import (
	"context"
	"time"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/secstore"
	"github.com/germanamz/stash/pkg/transport"
)

// ShowCommand redraws the current screen.
const ShowCommand = "show"

// CancelCommand abandons a multi-step input.
const CancelCommand = "cancel"

// DefaultIdleTimeout closes an unlocked repository nobody uses.
const DefaultIdleTimeout = 10 * time.Minute

// Deps are the collaborators screens need.
type Deps struct {
	Store       secstore.Store
	IdleTimeout time.Duration
}

func (d Deps) idleTimeout() time.Duration {
	if d.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}

	return d.IdleTimeout
}

// Root returns the factory for the first screen of every session.
func Root(deps Deps) func(env dialog.Env) dialog.Context {
	return func(env dialog.Env) dialog.Context {
		return NewHello(env, deps)
	}
}

func send(ctx context.Context, b *dialog.Base, out transport.Outgoing) (transport.MessageID, error) {
	return b.Transport().SendMessage(ctx, b.Actor(), out)
}

func sendText(ctx context.Context, b *dialog.Base, text string) (transport.MessageID, error) {
	return send(ctx, b, transport.Outgoing{Text: text})
}

// remove deletes messages, skipping empty ids. Failures are only logged.
func remove(ctx context.Context, b *dialog.Base, ids ...transport.MessageID) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := b.Transport().DeleteMessage(ctx, b.Actor(), id); err != nil {
			b.Log().WarnContext(ctx, "delete message failed", "message", id, "error", err)
		}
	}
}

// replace deletes *id and sends out in its place.
func replace(ctx context.Context, b *dialog.Base, id *transport.MessageID, out transport.Outgoing) error {
	remove(ctx, b, *id)
	*id = ""

	newID, err := send(ctx, b, out)
	if err != nil {
		return err
	}
	*id = newID

	return nil
}

// discard deletes every free-text message the screen does not expect.
func discard(b *dialog.Base) dialog.Handler {
	return func(ctx context.Context, ev transport.Event) error {
		remove(ctx, b, ev.MessageID)
		return nil
	}
}

func button(label, callback string) transport.Button {
	return transport.Button{Label: label, Callback: callback}
}

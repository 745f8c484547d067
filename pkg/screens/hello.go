package screens

import (
	"context"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/transport"
)

const openRepositoryCallback = "open_repository"

// Hello greets the actor. Without a repository it hands over to CreateRepo
// straight away; otherwise it offers to open the repository.
type Hello struct {
	*dialog.Base

	deps     Deps
	keyboard transport.MessageID
	leaving  bool
}

// NewHello builds the greeting screen.
func NewHello(env dialog.Env, deps Deps) *Hello {
	h := &Hello{Base: dialog.NewBase(env, "hello"), deps: deps}

	h.OnStartup(h.showKeyboard)
	h.OnMessage(discard(h.Base))
	h.Commands().Set(ShowCommand, h.showCommand)

	return h
}

func (h *Hello) showCommand(ctx context.Context, ev transport.Event) error {
	remove(ctx, h.Base, ev.MessageID)
	return h.showKeyboard(ctx)
}

// leave requests the next screen once.
func (h *Hello) leave(next func() dialog.Context) {
	if h.leaving {
		return
	}
	h.leaving = true
	h.RequestNewContext(next)
}

func (h *Hello) showKeyboard(ctx context.Context) error {
	if h.leaving {
		return nil
	}
	if !h.deps.Store.Exists(h.Actor()) {
		h.leave(func() dialog.Context { return NewCreateRepo(h.Env(), h.deps) })
		return nil
	}

	h.Callbacks().Set(openRepositoryCallback, h.openRepository)

	return replace(ctx, h.Base, &h.keyboard, transport.Outgoing{
		Text:     "Repository",
		Keyboard: transport.Keyboard{transport.Row(button("Open repository", openRepositoryCallback))},
	})
}

func (h *Hello) openRepository(ctx context.Context, ev transport.Event) error {
	h.leave(func() dialog.Context { return NewOpenRepo(h.Env(), h.deps) })
	remove(ctx, h.Base, ev.MessageID)
	if ev.MessageID == h.keyboard {
		h.keyboard = ""
	}

	return nil
}

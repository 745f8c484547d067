package screens

import (
	"context"
	"errors"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/secstore"
	"github.com/germanamz/stash/pkg/transport"
)

// OpenRepo unlocks the actor's repository and hands over to RepoView.
type OpenRepo struct {
	*dialog.Base

	deps    Deps
	prompt  transport.MessageID
	leaving bool
}

// NewOpenRepo builds the password prompt screen.
func NewOpenRepo(env dialog.Env, deps Deps) *OpenRepo {
	o := &OpenRepo{Base: dialog.NewBase(env, "open_repo"), deps: deps}

	o.OnStartup(o.ask("Enter the password"))
	o.OnMessage(o.unlock)
	o.OnShutdown(func(ctx context.Context) error {
		remove(ctx, o.Base, o.prompt)
		return nil
	})

	return o
}

func (o *OpenRepo) ask(text string) dialog.Hook {
	return func(ctx context.Context) error {
		return replace(ctx, o.Base, &o.prompt, transport.Outgoing{Text: text})
	}
}

func (o *OpenRepo) unlock(ctx context.Context, ev transport.Event) error {
	remove(ctx, o.Base, ev.MessageID)
	if o.leaving {
		return nil
	}

	repo, err := o.deps.Store.Open(o.Actor(), ev.Text)
	switch {
	case errors.Is(err, secstore.ErrWrongCredential):
		return o.ask("Wrong password. Try again")(ctx)
	case err != nil:
		o.Log().ErrorContext(ctx, "open repository failed", "error", err)
		_, _ = sendText(ctx, o.Base, "Could not open the repository.")
		o.Exit()
		return nil
	}

	o.leaving = true
	o.RequestNewContext(func() dialog.Context { return NewRepoView(o.Env(), o.deps, repo) })

	return nil
}

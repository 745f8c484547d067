package screens

import (
	"context"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/transport"
)

const (
	createRepositoryCallback = "create_repository"
	cancelPasswordCallback   = "cancel_password"
)

// CreateRepo offers to create the actor's repository and asks for its
// password. It resolves with nil once done or abandoned.
type CreateRepo struct {
	*dialog.Base

	deps     Deps
	keyboard transport.MessageID
}

// NewCreateRepo builds the repository creation screen.
func NewCreateRepo(env dialog.Env, deps Deps) *CreateRepo {
	c := &CreateRepo{Base: dialog.NewBase(env, "create_repo"), deps: deps}

	c.OnStartup(c.showKeyboard)
	c.OnMessage(discard(c.Base))
	c.OnSubResult(c.passwordChosen)

	return c
}

func (c *CreateRepo) showKeyboard(ctx context.Context) error {
	c.Callbacks().Set(createRepositoryCallback, c.create)

	return replace(ctx, c.Base, &c.keyboard, transport.Outgoing{
		Text:     "Choose an action",
		Keyboard: transport.Keyboard{transport.Row(button("Create repository", createRepositoryCallback))},
	})
}

func (c *CreateRepo) create(ctx context.Context, ev transport.Event) error {
	c.Callbacks().ClearAll()
	c.SetSubContext(newPasswordInput(c.Env()))
	remove(ctx, c.Base, ev.MessageID)
	c.keyboard = ""

	return nil
}

func (c *CreateRepo) passwordChosen(ctx context.Context, sub dialog.Context) {
	defer c.SetResult(nil)

	password, ok := sub.Result().Value.(string)
	if !ok {
		return
	}

	if _, err := c.deps.Store.Create(c.Actor(), password); err != nil {
		c.Log().ErrorContext(ctx, "create repository failed", "error", err)
		_, _ = sendText(ctx, c.Base, "Could not create the repository.")
		return
	}

	if _, err := sendText(ctx, c.Base, "Repository created!"); err != nil {
		c.Log().WarnContext(ctx, "send confirmation failed", "error", err)
	}
}

// passwordInput asks for a new password twice. It resolves with the
// password, or with nil when cancelled.
type passwordInput struct {
	*dialog.Base

	header transport.MessageID
	prompt transport.MessageID
	first  *string
}

func newPasswordInput(env dialog.Env) *passwordInput {
	p := &passwordInput{Base: dialog.NewBase(env, "password_input")}

	p.OnStartup(p.greet)
	p.OnMessage(p.enter)

	return p
}

func (p *passwordInput) greet(ctx context.Context) error {
	var err error

	p.Callbacks().Set(cancelPasswordCallback, p.cancel)
	p.header, err = send(ctx, p.Base, transport.Outgoing{
		Text:     "Creating a password",
		Keyboard: transport.Keyboard{transport.Row(button("Cancel", cancelPasswordCallback))},
	})
	if err != nil {
		return err
	}

	p.prompt, err = sendText(ctx, p.Base, "Choose a password")

	return err
}

func (p *passwordInput) cancel(ctx context.Context, ev transport.Event) error {
	p.SetResult(nil)
	remove(ctx, p.Base, p.prompt, p.header)
	if ev.MessageID != p.header {
		remove(ctx, p.Base, ev.MessageID)
	}

	return nil
}

func (p *passwordInput) enter(ctx context.Context, ev transport.Event) error {
	remove(ctx, p.Base, ev.MessageID, p.prompt)
	p.prompt = ""

	if p.first == nil {
		text := ev.Text
		p.first = &text

		return p.ask(ctx, "Repeat the password")
	}

	if ev.Text != *p.first {
		return p.ask(ctx, "Passwords do not match. Try again")
	}

	remove(ctx, p.Base, p.header)
	p.SetResult(*p.first)

	return nil
}

func (p *passwordInput) ask(ctx context.Context, text string) error {
	id, err := sendText(ctx, p.Base, text)
	p.prompt = id

	return err
}

package screens

import (
	"context"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/secstore"
	"github.com/germanamz/stash/pkg/transport"
)

// AddRecord asks for a value, a name and a description, in that order. It
// resolves with the new secstore.Record, or exits on /cancel.
type AddRecord struct {
	*dialog.Base

	answers []string
	litter  []transport.MessageID
}

var addRecordPrompts = []string{"Enter the value", "Enter the name", "Enter the description"}

// NewAddRecord builds the record creation screen.
func NewAddRecord(env dialog.Env) *AddRecord {
	a := &AddRecord{Base: dialog.NewBase(env, "add_record")}

	a.OnStartup(func(ctx context.Context) error { return a.ask(ctx, 0) })
	a.OnShutdown(func(ctx context.Context) error {
		remove(ctx, a.Base, a.litter...)
		return nil
	})
	a.OnMessage(a.answer)
	a.Commands().Set(CancelCommand, func(ctx context.Context, ev transport.Event) error {
		a.litter = append(a.litter, ev.MessageID)
		a.Exit()
		return nil
	})

	return a
}

func (a *AddRecord) ask(ctx context.Context, step int) error {
	id, err := sendText(ctx, a.Base, addRecordPrompts[step])
	if err != nil {
		return err
	}
	a.litter = append(a.litter, id)

	return nil
}

func (a *AddRecord) answer(ctx context.Context, ev transport.Event) error {
	a.litter = append(a.litter, ev.MessageID)
	a.answers = append(a.answers, ev.Text)

	if len(a.answers) < len(addRecordPrompts) {
		return a.ask(ctx, len(a.answers))
	}

	a.SetResult(secstore.NewRecord(a.answers[1], a.answers[2], a.answers[0]))

	return nil
}

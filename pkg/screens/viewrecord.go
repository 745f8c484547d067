package screens

import (
	"context"
	"fmt"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/secstore"
	"github.com/germanamz/stash/pkg/transport"
)

const (
	editRecordCallback   = "edit_record"
	deleteRecordCallback = "delete_record"
	closeViewCallback    = "close_view"
)

// ActionKind is what the actor chose to do with a viewed record.
type ActionKind int

const (
	ActionEdit ActionKind = iota + 1
	ActionDelete
)

// RecordAction is the result of ViewRecord. Closing the view resolves with
// nil instead.
type RecordAction struct {
	Kind ActionKind
	ID   string
}

// ViewRecord shows one record with edit, delete and close buttons.
type ViewRecord struct {
	*dialog.Base

	record secstore.Record
	view   transport.MessageID
}

// NewViewRecord builds the record screen.
func NewViewRecord(env dialog.Env, record secstore.Record) *ViewRecord {
	v := &ViewRecord{Base: dialog.NewBase(env, "view_record"), record: record}

	v.OnStartup(v.show)
	v.OnMessage(discard(v.Base))
	v.OnShutdown(func(ctx context.Context) error {
		remove(ctx, v.Base, v.view)
		return nil
	})

	return v
}

func renderRecord(r secstore.Record) string {
	return fmt.Sprintf("**Name:** `%s`\n**Description:** `%s`\n**Value:** `%s`\n", r.Name, r.Description, r.Value)
}

func (v *ViewRecord) show(ctx context.Context) error {
	v.Callbacks().Set(editRecordCallback, v.resolve(&RecordAction{Kind: ActionEdit, ID: v.record.ID}))
	v.Callbacks().Set(deleteRecordCallback, v.resolve(&RecordAction{Kind: ActionDelete, ID: v.record.ID}))
	v.Callbacks().Set(closeViewCallback, v.resolve(nil))

	return replace(ctx, v.Base, &v.view, transport.Outgoing{
		Text: renderRecord(v.record),
		Keyboard: transport.Keyboard{
			transport.Row(button("Edit", editRecordCallback)),
			transport.Row(button("Delete", deleteRecordCallback)),
			transport.Row(button("Close", closeViewCallback)),
		},
	})
}

func (v *ViewRecord) resolve(action *RecordAction) dialog.Handler {
	return func(context.Context, transport.Event) error {
		if action == nil {
			v.SetResult(nil)
			return nil
		}
		v.SetResult(*action)
		return nil
	}
}

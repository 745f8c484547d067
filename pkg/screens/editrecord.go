package screens

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/secstore"
	"github.com/germanamz/stash/pkg/transport"
)

const (
	editNameCallback        = "edit_name"
	editDescriptionCallback = "edit_description"
	editValueCallback       = "edit_value"
	cancelEditCallback      = "cancel_edit"
	saveEditCallback        = "save_edit"
)

// EditResult is the result of EditRecord.
type EditResult struct {
	Saved  bool
	Record secstore.Record
}

type field int

const (
	noField field = iota
	nameField
	descriptionField
	valueField
)

// EditRecord edits a copy of a record field by field and previews the
// pending changes as a diff.
type EditRecord struct {
	*dialog.Base

	original secstore.Record
	draft    secstore.Record
	editing  field
	preview  transport.MessageID
	prompt   transport.MessageID
}

// NewEditRecord builds the edit screen for record.
func NewEditRecord(env dialog.Env, record secstore.Record) *EditRecord {
	e := &EditRecord{Base: dialog.NewBase(env, "edit_record"), original: record, draft: record}

	e.Callbacks().Set(editNameCallback, e.choose(nameField, "Enter the new name"))
	e.Callbacks().Set(editDescriptionCallback, e.choose(descriptionField, "Enter the new description"))
	e.Callbacks().Set(editValueCallback, e.choose(valueField, "Enter the new value"))
	e.Callbacks().Set(cancelEditCallback, func(context.Context, transport.Event) error {
		e.SetResult(EditResult{Record: e.original})
		return nil
	})
	e.Callbacks().Set(saveEditCallback, func(context.Context, transport.Event) error {
		e.SetResult(EditResult{Saved: true, Record: e.draft})
		return nil
	})

	e.OnStartup(e.render)
	e.OnMessage(e.enter)
	e.OnShutdown(func(ctx context.Context) error {
		remove(ctx, e.Base, e.prompt, e.preview)
		return nil
	})

	return e
}

func (e *EditRecord) choose(f field, prompt string) dialog.Handler {
	return func(ctx context.Context, _ transport.Event) error {
		e.editing = f
		return replace(ctx, e.Base, &e.prompt, transport.Outgoing{Text: prompt})
	}
}

func (e *EditRecord) enter(ctx context.Context, ev transport.Event) error {
	remove(ctx, e.Base, ev.MessageID, e.prompt)
	e.prompt = ""

	switch e.editing {
	case nameField:
		e.draft.Name = ev.Text
	case descriptionField:
		e.draft.Description = ev.Text
	case valueField:
		e.draft.Value = ev.Text
	default:
		return nil
	}
	e.editing = noField

	return e.render(ctx)
}

func (e *EditRecord) render(ctx context.Context) error {
	out := transport.Outgoing{
		Text: e.previewText(),
		Keyboard: transport.Keyboard{
			transport.Row(button("Edit name", editNameCallback)),
			transport.Row(button("Edit description", editDescriptionCallback)),
			transport.Row(button("Edit value", editValueCallback)),
			transport.Row(button("Cancel", cancelEditCallback), button("Save", saveEditCallback)),
		},
	}

	if e.preview != "" {
		err := e.Transport().EditMessage(ctx, e.Actor(), e.preview, out)
		if err == nil {
			return nil
		}
		e.Log().WarnContext(ctx, "edit preview failed, resending", "error", err)
	}

	return replace(ctx, e.Base, &e.preview, out)
}

func (e *EditRecord) previewText() string {
	var sb strings.Builder

	sb.WriteString("Preview:\n\n")
	sb.WriteString(renderRecord(e.draft))

	if diff := recordDiff(e.original, e.draft); diff != "" {
		sb.WriteString("\n```diff\n")
		sb.WriteString(diff)
		sb.WriteString("```\n")
	}

	return sb.String()
}

func recordLines(r secstore.Record) string {
	return fmt.Sprintf("name: %s\ndescription: %s\nvalue: %s\n", r.Name, r.Description, r.Value)
}

// recordDiff returns a unified diff between the saved and drafted fields,
// or "" when nothing changed.
func recordDiff(before, after secstore.Record) string {
	if before == after {
		return ""
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(recordLines(before)),
		B:        difflib.SplitLines(recordLines(after)),
		FromFile: "saved",
		ToFile:   "draft",
		Context:  3,
	})
	if err != nil {
		return ""
	}

	return diff
}

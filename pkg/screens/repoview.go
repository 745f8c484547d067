package screens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/secstore"
	"github.com/germanamz/stash/pkg/transport"
)

const (
	viewRecordPrefix        = "view:"
	addRecordCallback       = "add_record"
	closeRepositoryCallback = "close_repository"
)

// RepoView lists the records of an unlocked repository. It closes itself
// after Deps.IdleTimeout without events.
type RepoView struct {
	*dialog.Base

	repo     secstore.Repository
	keyboard transport.MessageID
}

// NewRepoView builds the repository screen for repo.
func NewRepoView(env dialog.Env, deps Deps, repo secstore.Repository) *RepoView {
	v := &RepoView{Base: dialog.NewBase(env, "repo_view"), repo: repo}

	v.OnStartup(v.showKeyboard)
	v.OnShutdown(func(ctx context.Context) error {
		remove(ctx, v.Base, v.keyboard)
		return nil
	})
	v.OnMessage(discard(v.Base))
	v.OnSubResult(v.subFinished)
	v.Commands().Set(ShowCommand, func(ctx context.Context, ev transport.Event) error {
		remove(ctx, v.Base, ev.MessageID)
		return v.showKeyboard(ctx)
	})

	idle := deps.idleTimeout()
	v.KillIfUnused(idle, fmt.Sprintf("Repository closed after %s of inactivity", idle))

	return v
}

func (v *RepoView) showKeyboard(ctx context.Context) error {
	v.Callbacks().ClearAll()

	records := v.repo.List()
	kb := make(transport.Keyboard, 0, len(records)+2)
	for _, r := range records {
		cb := viewRecordPrefix + r.ID
		kb = append(kb, transport.Row(button(r.Name, cb)))
		v.Callbacks().Set(cb, v.viewRecord)
	}
	kb = append(kb,
		transport.Row(button("Add record", addRecordCallback)),
		transport.Row(button("Close repository", closeRepositoryCallback)),
	)
	v.Callbacks().Set(addRecordCallback, v.addRecord)
	v.Callbacks().Set(closeRepositoryCallback, v.closeRepository)

	return replace(ctx, v.Base, &v.keyboard, transport.Outgoing{
		Text:     fmt.Sprintf("Records: %d", len(records)),
		Keyboard: kb,
	})
}

// hideKeyboard drops the list while a sub-screen is active.
func (v *RepoView) hideKeyboard(ctx context.Context) {
	v.Callbacks().ClearAll()
	remove(ctx, v.Base, v.keyboard)
	v.keyboard = ""
}

func (v *RepoView) viewRecord(ctx context.Context, ev transport.Event) error {
	rec, err := v.repo.Get(strings.TrimPrefix(ev.Name, viewRecordPrefix))
	if err != nil {
		return fmt.Errorf("screens: view record: %w", err)
	}

	v.hideKeyboard(ctx)
	v.SetSubContext(NewViewRecord(v.Env(), rec))

	return nil
}

func (v *RepoView) addRecord(ctx context.Context, _ transport.Event) error {
	v.hideKeyboard(ctx)
	v.SetSubContext(NewAddRecord(v.Env()))

	return nil
}

func (v *RepoView) closeRepository(ctx context.Context, _ transport.Event) error {
	v.hideKeyboard(ctx)
	v.repo.Cancel()
	v.Exit()

	return nil
}

func (v *RepoView) subFinished(ctx context.Context, sub dialog.Context) {
	out := sub.Result()

	switch sub.(type) {
	case *AddRecord:
		if rec, ok := out.Value.(secstore.Record); ok {
			v.apply(ctx, func() error { return v.repo.Add(rec) })
		}
	case *EditRecord:
		if res, ok := out.Value.(EditResult); ok && res.Saved {
			v.apply(ctx, func() error { return v.repo.Update(res.Record) })
		}
	case *ViewRecord:
		action, ok := out.Value.(RecordAction)
		if !ok {
			break
		}
		switch action.Kind {
		case ActionEdit:
			rec, err := v.repo.Get(action.ID)
			if err != nil {
				v.Log().WarnContext(ctx, "record vanished", "record", action.ID, "error", err)
				break
			}
			v.SetSubContext(NewEditRecord(v.Env(), rec))
			return
		case ActionDelete:
			v.apply(ctx, func() error { return v.repo.Delete(action.ID) })
		}
	}

	if err := v.showKeyboard(ctx); err != nil {
		v.Log().ErrorContext(ctx, "redraw failed", "error", err)
	}
}

// apply runs change and saves the repository, rolling back on failure.
func (v *RepoView) apply(ctx context.Context, change func() error) {
	err := change()
	if err == nil {
		err = v.repo.Save()
	}
	if err == nil {
		return
	}

	v.repo.Cancel()
	v.Log().ErrorContext(ctx, "repository change failed", "error", err)

	text := "Could not save the change."
	if errors.Is(err, secstore.ErrRecordExists) {
		text = "A record with that name already exists."
	}
	if _, err := sendText(ctx, v.Base, text); err != nil {
		v.Log().WarnContext(ctx, "send notice failed", "error", err)
	}
}

package screens

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/stash/pkg/dialog"
	"github.com/germanamz/stash/pkg/secstore"
	"github.com/germanamz/stash/pkg/session"
	"github.com/germanamz/stash/pkg/sessionlock"
	"github.com/germanamz/stash/pkg/transport"
	"github.com/germanamz/stash/pkg/transport/memory"
)

const actor transport.ActorID = "alice"

type harness struct {
	t     *testing.T
	tr    *memory.Transport
	store *secstore.FileStore
	drv   *session.Driver
	seq   int
}

func newStore(t *testing.T) *secstore.FileStore {
	t.Helper()

	return secstore.NewFileStore(t.TempDir(), secstore.WithKDF(secstore.KDFParams{Time: 1, Memory: 1024, Threads: 1}))
}

func newHarness(t *testing.T, store *secstore.FileStore, idle time.Duration) *harness {
	t.Helper()

	h := &harness{t: t, tr: &memory.Transport{}, store: store}
	h.drv = session.New(actor, &sessionlock.Registry{}, Root(Deps{Store: store, IdleTimeout: idle}), session.Options{
		Transport:    h.tr,
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(func() { _ = h.drv.Shutdown(context.Background()) })

	return h
}

func (h *harness) dispatch(ev transport.Event) {
	h.t.Helper()
	require.NoError(h.t, h.drv.Dispatch(context.Background(), ev))
}

func (h *harness) send(text string) {
	h.t.Helper()
	h.seq++
	h.dispatch(transport.NewMessage(actor, transport.MessageID(fmt.Sprintf("user-%d", h.seq)), text))
}

func (h *harness) wait(substr string) memory.Op {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	op, err := h.tr.Wait(ctx, actor, substr)
	require.NoError(h.t, err)

	return op
}

// button finds a live keyboard button whose label or callback matches.
func (h *harness) button(match string) (transport.MessageID, string) {
	for _, op := range h.tr.Live(actor) {
		for _, row := range op.Message.Keyboard {
			for _, b := range row {
				if b.Label == match || b.Callback == match {
					return op.ID, b.Callback
				}
			}
		}
	}

	return "", ""
}

func (h *harness) press(match string) {
	h.t.Helper()

	var id transport.MessageID
	var cb string
	require.Eventually(h.t, func() bool {
		id, cb = h.button(match)
		return id != ""
	}, 2*time.Second, 5*time.Millisecond, "button %q never shown", match)

	h.dispatch(transport.NewCallback(actor, id, cb))
}

func TestNoRepositoryLeadsToCreateRepo(t *testing.T) {
	h := newHarness(t, newStore(t), 0)

	h.send("hi")

	_, ok := h.drv.Current().(*CreateRepo)
	require.True(t, ok, "current screen is %T", h.drv.Current())
	h.wait("Choose an action")
}

func TestCreateRepoConfirmsPassword(t *testing.T) {
	store := newStore(t)
	h := newHarness(t, store, 0)

	h.send("hi")
	h.press(createRepositoryCallback)
	h.wait("Choose a password")

	h.send("alpha")
	h.wait("Repeat the password")
	h.send("beta")
	h.wait("Passwords do not match")

	cr, ok := h.drv.Current().(*CreateRepo)
	require.True(t, ok)
	assert.False(t, cr.IsTerminal())
	assert.False(t, store.Exists(actor))

	h.send("alpha")
	h.wait("Repository created!")

	assert.True(t, store.Exists(actor))
	_, err := store.Open(actor, "alpha")
	require.NoError(t, err)

	_, ok = h.drv.Current().(*Hello)
	assert.True(t, ok)
	h.press(openRepositoryCallback)
	h.wait("Enter the password")
}

func TestCreateRepoCancelled(t *testing.T) {
	store := newStore(t)
	h := newHarness(t, store, 0)

	h.send("hi")
	h.press(createRepositoryCallback)
	h.press(cancelPasswordCallback)

	assert.False(t, store.Exists(actor))
	h.wait("Choose an action")
}

func TestPasswordInputResolves(t *testing.T) {
	tr := &memory.Transport{}
	parent := dialog.NewBase(dialog.Env{Actor: actor, Transport: tr}, "parent")

	var got dialog.Outcome
	parent.OnSubResult(func(_ context.Context, sub dialog.Context) { got = sub.Result() })

	parent.SetSubContext(newPasswordInput(parent.Env()))

	ctx := context.Background()
	parent.HandleMessage(ctx, transport.NewMessage(actor, "m1", "alpha"))
	parent.HandleMessage(ctx, transport.NewMessage(actor, "m2", "alpha"))

	assert.Equal(t, dialog.Outcome{State: dialog.Resolved, Value: "alpha"}, got)
	assert.Nil(t, parent.SubContext())

	for _, op := range tr.Live(actor) {
		assert.NotContains(t, op.Message.Text, "alpha")
	}
}

func TestRepositoryLifecycle(t *testing.T) {
	store := newStore(t)
	_, err := store.Create(actor, "alpha")
	require.NoError(t, err)

	h := newHarness(t, store, 0)

	h.press(openRepositoryCallback)
	h.wait("Enter the password")
	h.send("wrong")
	h.wait("Wrong password")
	h.send("alpha")

	_, ok := h.drv.Current().(*RepoView)
	require.True(t, ok, "current screen is %T", h.drv.Current())
	h.wait("Records: 0")

	// add
	h.press(addRecordCallback)
	h.wait("Enter the value")
	h.send("v1")
	h.wait("Enter the name")
	h.send("mail")
	h.wait("Enter the description")
	h.send("inbox")
	h.wait("Records: 1")

	repo, err := store.Open(actor, "alpha")
	require.NoError(t, err)
	require.Len(t, repo.List(), 1)
	assert.Equal(t, secstore.Record{ID: repo.List()[0].ID, Name: "mail", Description: "inbox", Value: "v1"}, repo.List()[0])

	// edit
	h.press("mail")
	h.wait("**Name:** `mail`")
	h.press(editRecordCallback)
	h.wait("Preview:")
	h.press(editValueCallback)
	h.wait("Enter the new value")
	h.send("v2")
	preview := h.wait("+value: v2")
	assert.Contains(t, preview.Message.Text, "-value: v1")
	h.press(saveEditCallback)
	h.wait("Records: 1")

	repo, err = store.Open(actor, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "v2", repo.List()[0].Value)

	// delete
	h.press("mail")
	h.press(deleteRecordCallback)
	h.wait("Records: 0")

	repo, err = store.Open(actor, "alpha")
	require.NoError(t, err)
	assert.Empty(t, repo.List())

	// close
	h.press(closeRepositoryCallback)
	_, ok = h.drv.Current().(*Hello)
	assert.True(t, ok)
	h.press(openRepositoryCallback)
}

func TestAddRecordCancel(t *testing.T) {
	store := newStore(t)
	_, err := store.Create(actor, "alpha")
	require.NoError(t, err)

	h := newHarness(t, store, 0)
	h.press(openRepositoryCallback)
	h.send("alpha")
	h.press(addRecordCallback)
	h.send("v1")
	h.dispatch(transport.NewCommand(actor, "c1", CancelCommand))

	h.wait("Records: 0")
	for _, op := range h.tr.Live(actor) {
		assert.NotContains(t, op.Message.Text, "Enter the")
	}
}

func TestRepoViewClosesWhenIdle(t *testing.T) {
	store := newStore(t)
	_, err := store.Create(actor, "alpha")
	require.NoError(t, err)

	h := newHarness(t, store, 150*time.Millisecond)
	h.press(openRepositoryCallback)
	h.send("alpha")
	h.wait("Records: 0")

	h.wait("Repository closed after")
	require.Eventually(t, func() bool {
		_, ok := h.drv.Current().(*Hello)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	_, id := h.button(addRecordCallback)
	assert.Empty(t, id)
}

func TestShowCommandRedraws(t *testing.T) {
	store := newStore(t)
	_, err := store.Create(actor, "alpha")
	require.NoError(t, err)

	h := newHarness(t, store, 0)
	h.wait("Repository")
	first, _ := h.button(openRepositoryCallback)
	require.NotEmpty(t, first)

	h.dispatch(transport.NewCommand(actor, "c1", ShowCommand))

	second, _ := h.button(openRepositoryCallback)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestRecordDiff(t *testing.T) {
	before := secstore.Record{ID: "1", Name: "mail", Value: "v1"}

	assert.Empty(t, recordDiff(before, before))

	after := before
	after.Value = "v2"
	diff := recordDiff(before, after)
	assert.Contains(t, diff, "--- saved")
	assert.Contains(t, diff, "+++ draft")
	assert.Contains(t, diff, "-value: v1")
	assert.Contains(t, diff, "+value: v2")
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/stash/pkg/transport"
)

func TestSendEditDelete(t *testing.T) {
	tr := &Transport{}
	ctx := context.Background()

	id, err := tr.SendMessage(ctx, "a", transport.Outgoing{Text: "one"})
	require.NoError(t, err)
	require.NoError(t, tr.EditMessage(ctx, "a", id, transport.Outgoing{Text: "two"}))

	last, ok := tr.Last("a")
	require.True(t, ok)
	assert.Equal(t, "two", last.Message.Text)

	require.NoError(t, tr.DeleteMessage(ctx, "a", id))
	assert.Empty(t, tr.Live("a"))

	ops := tr.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, []OpKind{OpSend, OpEdit, OpDelete}, []OpKind{ops[0].Kind, ops[1].Kind, ops[2].Kind})
}

func TestEditUnknown(t *testing.T) {
	tr := &Transport{}

	err := tr.EditMessage(context.Background(), "a", "nope", transport.Outgoing{})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestLiveOrder(t *testing.T) {
	tr := &Transport{}
	ctx := context.Background()

	for _, text := range []string{"1", "2", "3"} {
		_, err := tr.SendMessage(ctx, "a", transport.Outgoing{Text: text})
		require.NoError(t, err)
	}

	live := tr.Live("a")
	require.Len(t, live, 3)
	assert.Equal(t, "1", live[0].Message.Text)
	assert.Equal(t, "3", live[2].Message.Text)
}

func TestWait(t *testing.T) {
	tr := &Transport{}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = tr.SendMessage(context.Background(), "a", transport.Outgoing{Text: "ready now"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	op, err := tr.Wait(ctx, "a", "ready")
	require.NoError(t, err)
	assert.Equal(t, "ready now", op.Message.Text)
}

func TestWaitTimeout(t *testing.T) {
	tr := &Transport{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tr.Wait(ctx, "a", "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package dialog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/stash/pkg/transport"
)

func TestEmitterSetReplaces(t *testing.T) {
	var e Emitter
	var got []string

	e.Set("a", func(context.Context, transport.Event) error { got = append(got, "first"); return nil })
	e.Set("a", func(context.Context, transport.Event) error { got = append(got, "second"); return nil })

	require.NoError(t, e.Emit(context.Background(), "a", transport.Event{}))
	assert.Equal(t, []string{"second"}, got)
	assert.Equal(t, 1, e.Len())
}

func TestEmitterUnexpected(t *testing.T) {
	var e Emitter
	e.Set("b", func(context.Context, transport.Event) error { return nil })
	e.Set("a", func(context.Context, transport.Event) error { return nil })

	err := e.Emit(context.Background(), "c", transport.Event{})
	require.ErrorIs(t, err, ErrUnexpectedEmit)

	var ue *UnexpectedEmitError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "c", ue.Name)
	assert.Equal(t, []string{"a", "b"}, ue.Expected)
	assert.Equal(t, `dialog: unexpected emit "c": expected one of [a, b]`, err.Error())
}

func TestEmitterClearAll(t *testing.T) {
	var e Emitter
	e.Set("a", func(context.Context, transport.Event) error { return nil })
	e.ClearAll()

	assert.Zero(t, e.Len())
	assert.ErrorIs(t, e.Emit(context.Background(), "a", transport.Event{}), ErrUnexpectedEmit)
}

func TestEmitterPropagatesHandlerError(t *testing.T) {
	var e Emitter
	boom := errors.New("boom")
	e.Set("a", func(context.Context, transport.Event) error { return boom })

	assert.ErrorIs(t, e.Emit(context.Background(), "a", transport.Event{}), boom)
}

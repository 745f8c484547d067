package dialog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleStartupOrder(t *testing.T) {
	var l Lifecycle
	var order []int

	for i := range 3 {
		l.OnStartup(func(context.Context) error { order = append(order, i); return nil })
	}

	l.Start(context.Background(), nil)
	l.Start(context.Background(), nil)

	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatal("startup did not finish")
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestLifecycleStartupErrorsReported(t *testing.T) {
	var l Lifecycle
	var reported []error
	ran := false

	l.OnStartup(func(context.Context) error { return errors.New("boom") })
	l.OnStartup(func(context.Context) error { ran = true; return nil })

	l.Start(context.Background(), func(err error) { reported = append(reported, err) })
	<-l.Ready()

	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "boom")
	assert.True(t, ran)
}

func TestLifecycleStopCancelsStartup(t *testing.T) {
	var l Lifecycle
	l.OnStartup(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	l.Start(context.Background(), nil)
	l.Stop()

	select {
	case <-l.Ready():
	default:
		t.Fatal("ready not closed after stop")
	}
}

func TestLifecycleStopWithoutStart(t *testing.T) {
	var l Lifecycle
	l.Stop()
}

func TestLifecycleShutdownOnce(t *testing.T) {
	var l Lifecycle
	var order []string

	l.OnShutdown(func(context.Context) error { order = append(order, "a"); return nil })
	l.OnShutdown(func(context.Context) error { order = append(order, "b"); return errors.New("b failed") })
	l.OnShutdown(func(context.Context) error { order = append(order, "c"); return nil })

	err := l.RunShutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Equal(t, []string{"a", "b", "c"}, order)

	assert.PanicsWithError(t, "dialog: run shutdown: shutdown hooks already ran", func() {
		_ = l.RunShutdown(context.Background())
	})
}

func TestLifecycleStartupPanicReported(t *testing.T) {
	var l Lifecycle
	var reported []error
	ran := false

	l.OnStartup(func(context.Context) error { panic("hook blew up") })
	l.OnStartup(func(context.Context) error { ran = true; return nil })

	l.Start(context.Background(), func(err error) { reported = append(reported, err) })

	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready not closed after panic")
	}

	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], ErrPanicked)
	assert.Contains(t, reported[0].Error(), "hook blew up")
	assert.False(t, ran)
}

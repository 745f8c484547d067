package whitelist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/stash/pkg/transport"
)

func TestZeroValueAdmitsEveryone(t *testing.T) {
	var l List

	assert.True(t, l.Allowed("anyone"))
	assert.Equal(t, "[all]", l.String())
}

func TestLoadMissingFile(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "whitelist"), nil)
	require.NoError(t, err)

	assert.True(t, l.Allowed("anyone"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist")
	require.NoError(t, os.WriteFile(path, []byte("# admins\n 42 \n\nalice\n"), 0o600))

	l, err := Load(path, nil)
	require.NoError(t, err)

	assert.True(t, l.Allowed("42"))
	assert.True(t, l.Allowed("alice"))
	assert.False(t, l.Allowed("bob"))
	assert.Equal(t, []transport.ActorID{"42", "alice"}, l.Actors())
	assert.Equal(t, "['42', 'alice']", l.String())
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist")
	require.NoError(t, os.WriteFile(path, []byte("alice\n"), 0o600))

	l, err := Load(path, nil)
	require.NoError(t, err)
	require.False(t, l.Allowed("bob"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("alice\nbob\n"), 0o600))

	assert.Eventually(t, func() bool { return l.Allowed("bob") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

package secstore

import (
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKDF keeps argon2 cheap in tests.
var testKDF = KDFParams{Time: 1, Memory: 1024, Threads: 1}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()

	return NewFileStore(t.TempDir(), WithKDF(testKDF))
}

func TestCreateAndOpen(t *testing.T) {
	s := newTestStore(t)

	assert.False(t, s.Exists("alice"))

	repo, err := s.Create("alice", "alpha")
	require.NoError(t, err)
	assert.True(t, s.Exists("alice"))
	assert.Empty(t, repo.List())

	rec := NewRecord("mail", "personal mailbox", "hunter2")
	require.NoError(t, repo.Add(rec))
	require.NoError(t, repo.Save())

	reopened, err := s.Open("alice", "alpha")
	require.NoError(t, err)

	got, err := reopened.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestCreateExisting(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("alice", "alpha")
	require.NoError(t, err)

	_, err = s.Create("alice", "beta")
	assert.ErrorIs(t, err, ErrRepositoryExists)
}

func TestOpenWrongCredential(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("alice", "alpha")
	require.NoError(t, err)

	_, err = s.Open("alice", "beta")
	assert.ErrorIs(t, err, ErrWrongCredential)
}

func TestOpenMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Open("nobody", "x")
	assert.ErrorIs(t, err, ErrRepositoryNotFound)
}

func TestActorBoundCiphertext(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("alice", "alpha")
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path("alice"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("bob"), data, 0o600))

	_, err = s.Open("bob", "alpha")
	assert.ErrorIs(t, err, ErrWrongCredential)
}

func TestCancelDiscardsUnsaved(t *testing.T) {
	s := newTestStore(t)

	repo, err := s.Create("alice", "alpha")
	require.NoError(t, err)

	kept := NewRecord("kept", "", "1")
	require.NoError(t, repo.Add(kept))
	require.NoError(t, repo.Save())

	require.NoError(t, repo.Add(NewRecord("dropped", "", "2")))
	require.NoError(t, repo.Delete(kept.ID))
	repo.Cancel()

	assert.Equal(t, []Record{kept}, repo.List())
}

func TestRecordOperations(t *testing.T) {
	s := newTestStore(t)

	repo, err := s.Create("alice", "alpha")
	require.NoError(t, err)

	b := NewRecord("bank", "", "1")
	a := NewRecord("aws", "", "2")
	require.NoError(t, repo.Add(b))
	require.NoError(t, repo.Add(a))

	assert.ErrorIs(t, repo.Add(NewRecord("bank", "", "3")), ErrRecordExists)
	assert.ErrorIs(t, repo.Add(NewRecord(" ", "", "3")), ErrInvalidRecord)

	names := []string{}
	for _, r := range repo.List() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"aws", "bank"}, names)

	a.Value = "changed"
	require.NoError(t, repo.Update(a))
	got, err := repo.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Value)

	a.Name = "bank"
	assert.ErrorIs(t, repo.Update(a), ErrRecordExists)
	assert.ErrorIs(t, repo.Update(NewRecord("ghost", "", "")), ErrRecordNotFound)

	require.NoError(t, repo.Delete(b.ID))
	assert.ErrorIs(t, repo.Delete(b.ID), ErrRecordNotFound)
	_, err = repo.Get(b.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestConcurrentSaves(t *testing.T) {
	s := newTestStore(t)

	repo, err := s.Create("alice", "alpha")
	require.NoError(t, err)
	require.NoError(t, repo.Add(NewRecord("x", "", "1")))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Save())
		}()
	}
	wg.Wait()

	reopened, err := s.Open("alice", "alpha")
	require.NoError(t, err)
	assert.Len(t, reopened.List(), 1)
}

func TestOpenRejectsTamperedKDF(t *testing.T) {
	tests := []struct {
		name string
		kdf  KDFParams
	}{
		{"no threads", KDFParams{Time: 1, Memory: 1024, Threads: 0}},
		{"no passes", KDFParams{Time: 0, Memory: 1024, Threads: 1}},
		{"huge memory", KDFParams{Time: 1, Memory: 1 << 31, Threads: 1}},
		{"too many passes", KDFParams{Time: 1 << 20, Memory: 1024, Threads: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			_, err := s.Create("alice", "alpha")
			require.NoError(t, err)

			path := s.Path("alice")
			data, err := os.ReadFile(path)
			require.NoError(t, err)

			var vf vaultFile
			require.NoError(t, json.Unmarshal(data, &vf))
			vf.KDF = tt.kdf
			data, err = json.Marshal(vf)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data, 0o600))

			_, err = s.Open("alice", "alpha")
			assert.ErrorIs(t, err, ErrInvalidKDF)
		})
	}
}

func TestCreateRejectsInvalidKDF(t *testing.T) {
	s := NewFileStore(t.TempDir(), WithKDF(KDFParams{Time: 1, Memory: 1024}))

	_, err := s.Create("alice", "alpha")
	assert.ErrorIs(t, err, ErrInvalidKDF)
	assert.False(t, s.Exists("alice"))
}

func TestCreateDoesNotReplaceConcurrentVault(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("alice", "alpha")
	require.NoError(t, err)

	path := s.Path("alice")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// A writer that passed the Exists check before the vault appeared.
	err = writeFileLocked(path, []byte("other"), false)
	assert.ErrorIs(t, err, ErrRepositoryExists)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = s.Open("alice", "alpha")
	require.NoError(t, err)
}

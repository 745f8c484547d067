package secstore

import (
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/germanamz/stash/pkg/transport"
)

const fileVersion = 1

// vaultFile is the on-disk layout. Data is the sealed JSON record list.
type vaultFile struct {
	Version int       `json:"version"`
	KDF     KDFParams `json:"kdf"`
	Salt    []byte    `json:"salt"`
	Data    []byte    `json:"data"`
}

// Store opens and creates repositories.
type Store interface {
	Exists(actor transport.ActorID) bool
	Open(actor transport.ActorID, credential string) (Repository, error)
	Create(actor transport.ActorID, credential string) (Repository, error)
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithKDF overrides the key derivation parameters for new repositories.
func WithKDF(p KDFParams) Option {
	return func(s *FileStore) { s.kdf = p }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *FileStore) { s.log = l }
}

// FileStore keeps one encrypted file per actor in a directory.
type FileStore struct {
	dir string
	kdf KDFParams
	log *slog.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string, opts ...Option) *FileStore {
	s := &FileStore{
		dir: dir,
		kdf: DefaultKDF,
		log: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}

	return s
}

// Path returns the file backing actor's repository.
func (s *FileStore) Path(actor transport.ActorID) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(actor))+".vault")
}

// Exists reports whether actor has a repository.
func (s *FileStore) Exists(actor transport.ActorID) bool {
	_, err := os.Stat(s.Path(actor))

	return err == nil
}

// Open unlocks actor's repository with credential.
func (s *FileStore) Open(actor transport.ActorID, credential string) (Repository, error) {
	path := s.Path(actor)

	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the store directory
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrRepositoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("secstore: read %s: %w", path, err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("secstore: parse %s: %w", path, err)
	}
	if vf.Version != fileVersion {
		return nil, fmt.Errorf("secstore: %s: unsupported version %d", path, vf.Version)
	}

	aead, err := deriveAEAD(credential, vf.Salt, vf.KDF)
	if err != nil {
		return nil, fmt.Errorf("secstore: %s: %w", path, err)
	}

	plain, err := unseal(aead, vf.Data, []byte(actor))
	if err != nil {
		s.log.Warn("repository unlock failed", "actor", string(actor))
		return nil, err
	}

	var list []Record
	if err := json.Unmarshal(plain, &list); err != nil {
		return nil, fmt.Errorf("secstore: decode records: %w", err)
	}

	return &fileRepository{
		path:    path,
		actor:   actor,
		aead:    aead,
		header:  vaultFile{Version: vf.Version, KDF: vf.KDF, Salt: vf.Salt},
		records: newRecords(list),
	}, nil
}

// Create makes an empty repository for actor protected by credential. It
// fails with ErrRepositoryExists when one exists, including one written by
// another process after the first check.
func (s *FileStore) Create(actor transport.ActorID, credential string) (Repository, error) {
	if s.Exists(actor) {
		return nil, ErrRepositoryExists
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}

	aead, err := deriveAEAD(credential, salt, s.kdf)
	if err != nil {
		return nil, err
	}

	repo := &fileRepository{
		path:    s.Path(actor),
		actor:   actor,
		aead:    aead,
		header:  vaultFile{Version: fileVersion, KDF: s.kdf, Salt: salt},
		records: newRecords(nil),
	}
	if err := repo.save(false); err != nil {
		return nil, err
	}
	s.log.Info("repository created", "actor", string(actor))

	return repo, nil
}

type fileRepository struct {
	path   string
	actor  transport.ActorID
	aead   cipher.AEAD
	header vaultFile

	mu      sync.Mutex
	records records
}

func (r *fileRepository) Add(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.records.add(rec)
}

func (r *fileRepository) Get(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.records.get(id)
}

func (r *fileRepository) Update(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.records.update(rec)
}

func (r *fileRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.records.delete(id)
}

func (r *fileRepository) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.records.list()
}

func (r *fileRepository) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records.rollback()
}

// Save seals the records and replaces the file atomically. The snapshot is
// taken under the lock; the write happens outside it.
func (r *fileRepository) Save() error { return r.save(true) }

// save writes the records. Without overwrite it refuses to touch an existing
// file.
func (r *fileRepository) save(overwrite bool) error {
	r.mu.Lock()
	list := r.records.list()
	r.mu.Unlock()

	plain, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("secstore: encode records: %w", err)
	}

	sealed, err := seal(r.aead, plain, []byte(r.actor))
	if err != nil {
		return err
	}

	vf := r.header
	vf.Data = sealed

	data, err := json.Marshal(vf)
	if err != nil {
		return fmt.Errorf("secstore: encode file: %w", err)
	}

	if err := writeFileLocked(r.path, data, overwrite); err != nil {
		return err
	}

	r.mu.Lock()
	r.records.commit(list)
	r.mu.Unlock()

	return nil
}

// writeFileLocked writes data to path via a temp file and rename while
// holding an exclusive lock on path.lock. Without overwrite an existing path
// yields ErrRepositoryExists.
func writeFileLocked(path string, data []byte, overwrite bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("secstore: create dir: %w", err)
	}

	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return fmt.Errorf("secstore: lock %s: %w", path, err)
	}
	defer unlock()

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return ErrRepositoryExists
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("secstore: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("secstore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("secstore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("secstore: close: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("secstore: rename: %w", err)
	}

	return nil
}

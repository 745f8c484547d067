package secstore

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrWrongCredential    = errors.New("secstore: wrong credential")
	ErrRepositoryNotFound = errors.New("secstore: repository not found")
	ErrRepositoryExists   = errors.New("secstore: repository already exists")
	ErrRecordNotFound     = errors.New("secstore: record not found")
	ErrRecordExists       = errors.New("secstore: record already exists")
	ErrInvalidRecord      = errors.New("secstore: invalid record")
	ErrInvalidKDF         = errors.New("secstore: invalid kdf parameters")
)

// Record is a single named secret.
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

// NewRecord returns a record with a fresh id.
func NewRecord(name, description, value string) Record {
	return Record{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Value:       value,
	}
}

// Validate checks that the record can be stored.
func (r Record) Validate() error {
	if r.ID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("id is required"))
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.Join(ErrInvalidRecord, errors.New("name is required"))
	}

	return nil
}

// Repository is an unlocked set of records.
type Repository interface {
	Add(r Record) error
	Get(id string) (Record, error)
	Update(r Record) error
	Delete(id string) error
	// List returns every record sorted by name.
	List() []Record
	// Save persists every change made since the last Save.
	Save() error
	// Cancel discards every change made since the last Save.
	Cancel()
}

// records is the in-memory part shared by repository implementations. It
// is not safe for concurrent use.
type records struct {
	current map[string]Record
	saved   map[string]Record
}

func newRecords(list []Record) records {
	m := make(map[string]Record, len(list))
	for _, r := range list {
		m[r.ID] = r
	}

	return records{current: m, saved: clone(m)}
}

func clone(m map[string]Record) map[string]Record {
	cp := make(map[string]Record, len(m))
	for k, v := range m {
		cp[k] = v
	}

	return cp
}

func (rs *records) add(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, ok := rs.current[r.ID]; ok {
		return ErrRecordExists
	}
	for _, existing := range rs.current {
		if existing.Name == r.Name {
			return ErrRecordExists
		}
	}
	rs.current[r.ID] = r

	return nil
}

func (rs *records) get(id string) (Record, error) {
	r, ok := rs.current[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}

	return r, nil
}

func (rs *records) update(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, ok := rs.current[r.ID]; !ok {
		return ErrRecordNotFound
	}
	for _, existing := range rs.current {
		if existing.ID != r.ID && existing.Name == r.Name {
			return ErrRecordExists
		}
	}
	rs.current[r.ID] = r

	return nil
}

func (rs *records) delete(id string) error {
	if _, ok := rs.current[id]; !ok {
		return ErrRecordNotFound
	}
	delete(rs.current, id)

	return nil
}

func (rs *records) list() []Record {
	out := make([]Record, 0, len(rs.current))
	for _, r := range rs.current {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})

	return out
}

// commit marks list as the persisted state.
func (rs *records) commit(list []Record) { rs.saved = newRecords(list).current }

func (rs *records) rollback() { rs.current = clone(rs.saved) }

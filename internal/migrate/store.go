package migrate

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
)

// Store persists migrations, the chain tip and the draft.
type Store interface {
	// Get returns a copy of the named migration, or ErrMigrationNotFound.
	Get(name string) (*Migration, error)
	// Put stores m, replacing any migration with the same name.
	Put(m *Migration) error
	// Delete removes the named migration. Missing names are ignored.
	Delete(name string) error
	// Names lists every stored migration, in the chain or not, sorted.
	Names() ([]string, error)
	// Latest returns the tip name, empty when there are no migrations.
	Latest() (string, error)
	// SetLatest moves the tip; an empty name means no migrations.
	SetLatest(name string) error
	// LoadDraft returns the persisted draft snapshot, unresolved.
	LoadDraft() (*ast.ADB, error)
	// SaveDraft persists the draft snapshot.
	SaveDraft(db *ast.ADB) error
	// ClearDraft removes the persisted draft.
	ClearDraft() error
}

func notFound(name string) *alerr.Error {
	return alerr.Newf(alerr.ErrMigrationNotFound, "no migration named %q", name).WithMigration(name)
}

// -----------------------------------------------------------------------------
// MemStore
// -----------------------------------------------------------------------------

// MemStore keeps every migration in memory. Its JSON form is the single
// document embedded in generated code.
type MemStore struct {
	mu         sync.RWMutex
	migrations map[string]*Migration
	current    *Migration
	latest     string
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		migrations: make(map[string]*Migration),
		current:    newMigration(CurrentName),
	}
}

// MemStoreFromJSON decodes a document produced by MemStore.MarshalJSON.
func MemStoreFromJSON(data []byte) (*MemStore, error) {
	s := NewMemStore()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, alerr.Wrap(alerr.ErrMigrationStore, err, "failed to decode migrations document")
	}
	return s, nil
}

func (s *MemStore) Get(name string) (*Migration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.migrations[name]
	if !ok {
		return nil, notFound(name)
	}
	return m.Clone(), nil
}

func (s *MemStore) Put(m *Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations[m.Name] = m.Clone()
	return nil
}

func (s *MemStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.migrations, name)
	return nil
}

func (s *MemStore) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.migrations))
	for name := range s.migrations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemStore) Latest() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, nil
}

func (s *MemStore) SetLatest(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = name
	return nil
}

func (s *MemStore) LoadDraft() (*ast.ADB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.DB.Clone(), nil
}

func (s *MemStore) SaveDraft(db *ast.ADB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.DB = db.Clone()
	return nil
}

func (s *MemStore) ClearDraft() error {
	return s.SaveDraft(ast.NewADB())
}

type memWire struct {
	Migrations map[string]*Migration `json:"migrations"`
	Current    *Migration            `json:"current"`
	Latest     *string               `json:"latest"`
}

// MarshalJSON encodes {migrations, current, latest}.
func (s *MemStore) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := memWire{Migrations: s.migrations, Current: s.current}
	if s.latest != "" {
		latest := s.latest
		w.Latest = &latest
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *MemStore) UnmarshalJSON(data []byte) error {
	var w memWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations = make(map[string]*Migration, len(w.Migrations))
	for name, m := range w.Migrations {
		m.Name = name
		s.migrations[name] = m
	}
	s.current = w.Current
	if s.current == nil {
		s.current = newMigration(CurrentName)
	}
	s.latest = ""
	if w.Latest != nil {
		s.latest = *w.Latest
	}
	return nil
}

var _ Store = (*MemStore)(nil)

// Package migrate manages the migration chain: the draft snapshot built from
// model declarations, committed migrations with per-backend SQL, the stores
// that persist them, and the runner that applies them to a database.
package migrate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// TableName is the bookkeeping table recording applied migrations.
const TableName = "lode_migrations"

// nameColumn is the single column of TableName.
const nameColumn = "name"

// CurrentName is the reserved name of the draft.
const CurrentName = "current"

// BookkeepingTable returns the definition of TableName.
func BookkeepingTable() *ast.Table {
	return ast.NewTable(TableName, ast.Column{
		Name:    nameColumn,
		SqlType: ast.KnownType(sqlval.Text),
		PK:      true,
	})
}

// DefaultName returns a lexically sortable migration name for t:
// YYYYMMDD_HHMMSSmmm, followed by _suffix when suffix is not empty.
func DefaultName(t time.Time, suffix string) string {
	t = t.UTC()
	name := fmt.Sprintf("%s%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
	if suffix = strings.TrimSpace(suffix); suffix != "" {
		name += "_" + suffix
	}
	return name
}

// ValidateName rejects names that cannot serve as a migration directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return alerr.New(alerr.ErrMigration, "migration name is empty")
	case name == CurrentName:
		return alerr.Newf(alerr.ErrMigration, "%q is reserved for the draft", CurrentName)
	case strings.ContainsAny(name, `/\:*?"<>|`) || strings.HasPrefix(name, "."):
		return alerr.Newf(alerr.ErrMigration, "invalid migration name %q", name).
			WithHelp("use letters, digits, '_' and '-'")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Migration
// -----------------------------------------------------------------------------

// Migration is one committed step of the chain. It is immutable once
// committed; the stores hand out copies.
type Migration struct {
	Name string
	// From names the predecessor; empty for the first migration.
	From string
	// DB is the resolved snapshot after this migration.
	DB *ast.ADB
	// Up and Down hold the rendered SQL script per backend name.
	Up   map[string]string
	Down map[string]string
	// Fingerprint is the merkle root of DB at commit time.
	Fingerprint string
}

func newMigration(name string) *Migration {
	return &Migration{
		Name: name,
		DB:   ast.NewADB(),
		Up:   make(map[string]string),
		Down: make(map[string]string),
	}
}

// UpSQL returns the up script for backend.
func (m *Migration) UpSQL(backend string) (string, error) {
	sql, ok := m.Up[backend]
	if !ok {
		return "", m.missingBackend(backend)
	}
	return sql, nil
}

// DownSQL returns the down script for backend.
func (m *Migration) DownSQL(backend string) (string, error) {
	sql, ok := m.Down[backend]
	if !ok {
		return "", m.missingBackend(backend)
	}
	return sql, nil
}

func (m *Migration) missingBackend(backend string) *alerr.Error {
	return alerr.Newf(alerr.ErrUnknownBackend, "migration %s has no SQL for backend %q", m.Name, backend).
		WithMigration(m.Name).
		WithBackend(backend).
		WithHelp(fmt.Sprintf("run 'lode backend add %s' to render it", backend))
}

// Backends returns the backends with rendered SQL, sorted.
func (m *Migration) Backends() []string {
	out := make([]string, 0, len(m.Up))
	for name := range m.Up {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetSQL records the scripts for backend.
func (m *Migration) SetSQL(backend, up, down string) {
	m.Up[backend] = up
	m.Down[backend] = down
}

// RemoveSQL drops the scripts for backend.
func (m *Migration) RemoveSQL(backend string) {
	delete(m.Up, backend)
	delete(m.Down, backend)
}

// Clone returns a deep copy of m.
func (m *Migration) Clone() *Migration {
	out := &Migration{
		Name:        m.Name,
		From:        m.From,
		DB:          m.DB.Clone(),
		Up:          make(map[string]string, len(m.Up)),
		Down:        make(map[string]string, len(m.Down)),
		Fingerprint: m.Fingerprint,
	}
	for k, v := range m.Up {
		out.Up[k] = v
	}
	for k, v := range m.Down {
		out.Down[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// JSON encoding
// -----------------------------------------------------------------------------

type migrationWire struct {
	Name        string            `json:"name"`
	DB          *ast.ADB          `json:"db"`
	From        *string           `json:"from"`
	Up          map[string]string `json:"up"`
	Down        map[string]string `json:"down"`
	Fingerprint string            `json:"fingerprint,omitempty"`
}

// MarshalJSON encodes {name, db, from, up, down}; from is null for the first
// migration.
func (m *Migration) MarshalJSON() ([]byte, error) {
	w := migrationWire{Name: m.Name, DB: m.DB, Up: m.Up, Down: m.Down, Fingerprint: m.Fingerprint}
	if m.From != "" {
		from := m.From
		w.From = &from
	}
	if w.DB == nil {
		w.DB = ast.NewADB()
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Migration) UnmarshalJSON(data []byte) error {
	var w migrationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = *newMigration(w.Name)
	if w.From != nil {
		m.From = *w.From
	}
	if w.DB != nil {
		m.DB = w.DB
	}
	for k, v := range w.Up {
		m.Up[k] = v
	}
	for k, v := range w.Down {
		m.Down[k] = v
	}
	m.Fingerprint = w.Fingerprint
	return nil
}

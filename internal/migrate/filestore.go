package migrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/lockfile"
)

const (
	stateFile = "state.json"
	infoFile  = "info.json"
	typesFile = "types.json"
	tableExt  = ".table"
)

// FileStore keeps migrations in a directory:
//
//	<root>/state.json            {"latest": name}
//	<root>/lode.lock             checksums of every committed script
//	<root>/<name>/info.json      {"from", "table_bases", "backends", "fingerprint"}
//	<root>/<name>/<table>.table  tables changed by the migration
//	<root>/<name>/types.json     extra type registry
//	<root>/<name>/<backend>_up.sql, <backend>_down.sql
//	<root>/current/              the draft, same layout without SQL
//
// A table left unchanged by a migration is not written again; info.json
// records which earlier migration holds it.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

type migrationInfo struct {
	From        *string           `json:"from,omitempty"`
	TableBases  map[string]string `json:"table_bases,omitempty"`
	Backends    []string          `json:"backends"`
	Fingerprint string            `json:"fingerprint,omitempty"`
}

type storeState struct {
	Latest *string `json:"latest"`
}

func storeErr(err error, msg, path string) *alerr.Error {
	return alerr.Wrap(alerr.ErrMigrationStore, err, msg).With("path", path)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return storeErr(err, "failed to encode", path)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return storeErr(err, "failed to create directory", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return storeErr(err, "failed to write", path)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return storeErr(err, "failed to read", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return storeErr(err, "failed to decode", path)
	}
	return nil
}

func (s *FileStore) dir(name string) string { return filepath.Join(s.root, name) }

// -----------------------------------------------------------------------------
// Chain state
// -----------------------------------------------------------------------------

func (s *FileStore) Latest() (string, error) {
	var st storeState
	err := readJSON(filepath.Join(s.root, stateFile), &st)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if st.Latest == nil {
		return "", nil
	}
	return *st.Latest, nil
}

func (s *FileStore) SetLatest(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLatest(name)
}

func (s *FileStore) setLatest(name string) error {
	gi := filepath.Join(s.root, ".gitignore")
	if _, err := os.Stat(gi); errors.Is(err, fs.ErrNotExist) {
		if err := writeFile(gi, []byte("current/\n")); err != nil {
			return err
		}
	}
	st := storeState{}
	if name != "" {
		st.Latest = &name
	}
	return writeJSON(filepath.Join(s.root, stateFile), st)
}

func (s *FileStore) Names() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "failed to list migrations", s.root)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == CurrentName || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), infoFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// -----------------------------------------------------------------------------
// Migrations
// -----------------------------------------------------------------------------

func (s *FileStore) info(name string) (*migrationInfo, error) {
	var info migrationInfo
	if err := readJSON(filepath.Join(s.dir(name), infoFile), &info); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(name)
		}
		return nil, err
	}
	return &info, nil
}

func (s *FileStore) Get(name string) (*Migration, error) {
	info, err := s.info(name)
	if err != nil {
		return nil, err
	}
	m := newMigration(name)
	if info.From != nil {
		m.From = *info.From
	}
	m.Fingerprint = info.Fingerprint

	bases := make([]string, 0, len(info.TableBases))
	for table := range info.TableBases {
		bases = append(bases, table)
	}
	sort.Strings(bases)
	for _, table := range bases {
		var t ast.Table
		if err := readJSON(filepath.Join(s.dir(info.TableBases[table]), table+tableExt), &t); err != nil {
			return nil, err
		}
		m.DB.ReplaceTable(&t)
	}
	db, err := readSnapshot(s.dir(name))
	if err != nil {
		return nil, err
	}
	for _, t := range db.Tables() {
		m.DB.ReplaceTable(t)
	}
	for _, k := range db.TypeKeys() {
		ty, _ := db.Type(k)
		m.DB.AddType(k, ty)
	}
	if err := m.DB.ResolveTypes(); err != nil {
		return nil, err
	}

	for _, backend := range info.Backends {
		for dir, target := range map[string]map[string]string{"up": m.Up, "down": m.Down} {
			data, err := os.ReadFile(filepath.Join(s.dir(name), backend+"_"+dir+".sql"))
			if err != nil {
				return nil, storeErr(err, "failed to read migration SQL", s.dir(name)).WithBackend(backend)
			}
			target[backend] = string(data)
		}
	}
	return m, nil
}

// readSnapshot loads the .table files and types.json of one directory.
func readSnapshot(dir string) (*ast.ADB, error) {
	db := ast.NewADB()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return db, nil
	}
	if err != nil {
		return nil, storeErr(err, "failed to list directory", dir)
	}
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), tableExt):
			var t ast.Table
			if err := readJSON(filepath.Join(dir, e.Name()), &t); err != nil {
				return nil, err
			}
			db.ReplaceTable(&t)
		case e.Name() == typesFile:
			types := map[ast.TypeKey]ast.DeferredSqlType{}
			if err := readJSON(filepath.Join(dir, e.Name()), &types); err != nil {
				return nil, err
			}
			for k, v := range types {
				db.AddType(k, v)
			}
		}
	}
	return db, nil
}

// writeSnapshot writes tables (all of them unless keep says otherwise) and
// the type registry of db into dir.
func writeSnapshot(dir string, db *ast.ADB, keep func(t *ast.Table) bool) error {
	for _, t := range db.Tables() {
		if keep != nil && !keep(t) {
			continue
		}
		if err := writeJSON(filepath.Join(dir, t.Name+tableExt), t); err != nil {
			return err
		}
	}
	keys := db.TypeKeys()
	if len(keys) == 0 {
		return nil
	}
	types := make(map[ast.TypeKey]ast.DeferredSqlType, len(keys))
	for _, k := range keys {
		types[k], _ = db.Type(k)
	}
	return writeJSON(filepath.Join(dir, typesFile), types)
}

func sameTable(a, b *ast.Table) bool {
	ja, err1 := json.Marshal(a)
	jb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ja, jb)
}

func (s *FileStore) Put(m *Migration) error {
	if err := ValidateName(m.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &migrationInfo{TableBases: map[string]string{}, Backends: m.Backends(), Fingerprint: m.Fingerprint}
	var prev *Migration
	var prevInfo *migrationInfo
	if m.From != "" {
		from := m.From
		info.From = &from
		if p, err := s.Get(m.From); err == nil {
			prev = p
			prevInfo, _ = s.info(m.From)
		}
	}

	dir := s.dir(m.Name)
	if err := os.RemoveAll(dir); err != nil {
		return storeErr(err, "failed to reset migration directory", dir)
	}

	keep := func(t *ast.Table) bool {
		if prev == nil {
			return true
		}
		old := prev.DB.Table(t.Name)
		if old == nil || !sameTable(old, t) {
			return true
		}
		base := m.From
		if prevInfo != nil {
			if b, ok := prevInfo.TableBases[t.Name]; ok {
				base = b
			}
		}
		info.TableBases[t.Name] = base
		return false
	}
	if err := writeSnapshot(dir, m.DB, keep); err != nil {
		return err
	}
	for _, backend := range info.Backends {
		if err := writeFile(filepath.Join(dir, backend+"_up.sql"), []byte(m.Up[backend])); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dir, backend+"_down.sql"), []byte(m.Down[backend])); err != nil {
			return err
		}
	}
	if err := writeJSON(filepath.Join(dir, infoFile), info); err != nil {
		return err
	}
	return lockfile.Write(s.root, CurrentName)
}

// Delete removes a migration directory. Later migrations that reuse its
// tables keep working only if they are deleted too, so callers delete whole
// chains.
func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ValidateName(name); err != nil {
		return err
	}
	slog.Debug("deleting migration directory", "path", s.dir(name))
	if err := os.RemoveAll(s.dir(name)); err != nil {
		return storeErr(err, "failed to delete migration", s.dir(name))
	}
	return lockfile.Write(s.root, CurrentName)
}

// -----------------------------------------------------------------------------
// Draft
// -----------------------------------------------------------------------------

func (s *FileStore) LoadDraft() (*ast.ADB, error) {
	return readSnapshot(s.dir(CurrentName))
}

func (s *FileStore) SaveDraft(db *ast.ADB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.dir(CurrentName)
	if err := os.RemoveAll(dir); err != nil {
		return storeErr(err, "failed to reset draft", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storeErr(err, "failed to create draft", dir)
	}
	return writeSnapshot(dir, db, nil)
}

func (s *FileStore) ClearDraft() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Info("deleting draft", "path", s.dir(CurrentName))
	if err := os.RemoveAll(s.dir(CurrentName)); err != nil {
		return storeErr(err, "failed to delete draft", s.dir(CurrentName))
	}
	return nil
}

// Verify checks the committed scripts against lode.lock.
func (s *FileStore) Verify() error {
	return lockfile.Verify(s.root, CurrentName)
}

// Relock rewrites lode.lock from the scripts on disk.
func (s *FileStore) Relock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockfile.Write(s.root, CurrentName)
}

var _ Store = (*FileStore)(nil)

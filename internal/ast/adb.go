package ast

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// ADB is an abstract database: every table plus the registry of extra types.
// The zero value is not usable; call NewADB.
type ADB struct {
	tables map[string]*Table
	types  map[TypeKey]DeferredSqlType
}

// NewADB returns an empty schema.
func NewADB() *ADB {
	return &ADB{
		tables: make(map[string]*Table),
		types:  make(map[TypeKey]DeferredSqlType),
	}
}

// Table returns the named table or nil.
func (db *ADB) Table(name string) *Table {
	return db.tables[name]
}

// TableNames returns all table names, sorted.
func (db *ADB) TableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables returns all tables sorted by name.
func (db *ADB) Tables() []*Table {
	out := make([]*Table, 0, len(db.tables))
	for _, name := range db.TableNames() {
		out = append(out, db.tables[name])
	}
	return out
}

// IsEmpty reports whether the schema has no tables.
func (db *ADB) IsEmpty() bool {
	return len(db.tables) == 0
}

// ReplaceTable stores a copy of t, replacing any table with the same name.
func (db *ADB) ReplaceTable(t *Table) {
	db.tables[t.Name] = t.Clone()
}

// RemoveTable drops the named table if present.
func (db *ADB) RemoveTable(name string) {
	delete(db.tables, name)
}

// AddType registers ty under key, replacing an earlier registration.
func (db *ADB) AddType(key TypeKey, ty DeferredSqlType) {
	db.types[key] = ty
}

// Type returns the registered type for key.
func (db *ADB) Type(key TypeKey) (DeferredSqlType, bool) {
	ty, ok := db.types[key]
	return ty, ok
}

// TypeKeys returns registered keys in TypeKey order.
func (db *ADB) TypeKeys() []TypeKey {
	keys := make([]TypeKey, 0, len(db.types))
	for k := range db.types {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Clone returns a deep copy.
func (db *ADB) Clone() *ADB {
	out := NewADB()
	for name, t := range db.tables {
		out.tables[name] = t.Clone()
	}
	for k, v := range db.types {
		out.types[k] = v
	}
	return out
}

// TransformWith applies op to the snapshot in place.
func (db *ADB) TransformWith(op Operation) {
	switch o := op.(type) {
	case *AddTable:
		db.ReplaceTable(o.Def)
	case *AddTableIfNotExists:
		db.ReplaceTable(o.Def)
	case *RemoveTable:
		db.RemoveTable(o.Name)
	case *AddColumn:
		if t := db.tables[o.TableName]; t != nil {
			t.AddColumn(o.Column)
		}
	case *RemoveColumn:
		if t := db.tables[o.TableName]; t != nil {
			t.RemoveColumn(o.Name)
		}
	case *ChangeColumn:
		if t := db.tables[o.TableName]; t != nil {
			t.ReplaceColumn(o.New)
		}
	}
}

// -----------------------------------------------------------------------------
// Type resolution
// -----------------------------------------------------------------------------

// resolver accumulates every key whose concrete type is known.
type resolver map[TypeKey]TypeIdentifier

// insert records ty under key; it reports whether the key was new.
func (r resolver) insert(key TypeKey, ty TypeIdentifier) bool {
	if _, ok := r[key]; ok {
		return false
	}
	r[key] = ty
	return true
}

// ResolveTypes replaces every deferred column and registry type with its
// concrete type. Resolution iterates to a fixpoint: each pass publishes the
// primary key type of every table whose key is known, then resolves whatever
// became reachable. A key left deferred afterward is an error; when the
// chain of references loops the error names the cycle.
func (db *ADB) ResolveTypes() error {
	r := make(resolver)
	names := db.TableNames()
	keys := db.TypeKeys()

	for changed := true; changed; {
		changed = false
		for _, name := range names {
			t := db.tables[name]
			if pk := t.PK(); pk != nil && pk.SqlType.IsKnown() {
				id, _ := pk.SqlType.TypeID()
				changed = r.insert(PKKey(name), id) || changed
			}
			for i := range t.Columns {
				col := &t.Columns[i]
				if col.SqlType.IsKnown() {
					continue
				}
				if id, ok := r[col.SqlType.Key()]; ok {
					col.SqlType = Known(id)
					changed = true
				}
			}
		}
		for _, key := range keys {
			ty := db.types[key]
			if ty.IsKnown() {
				id, _ := ty.TypeID()
				changed = r.insert(key, id) || changed
				continue
			}
			if id, ok := r[ty.Key()]; ok {
				db.types[key] = Known(id)
				changed = true
			}
		}
	}

	for _, key := range keys {
		if ty := db.types[key]; !ty.IsKnown() {
			return db.unresolvedError(key)
		}
	}
	for _, name := range names {
		for _, col := range db.tables[name].Columns {
			if !col.SqlType.IsKnown() {
				return db.unresolvedError(col.SqlType.Key()).WithTable(name).WithColumn(col.Name)
			}
		}
	}
	return nil
}

// next returns the key that key itself waits on, if any.
func (db *ADB) next(key TypeKey) (TypeKey, bool) {
	if key.Kind == KeyPK {
		if t := db.tables[key.Name]; t != nil {
			if pk := t.PK(); pk != nil && !pk.SqlType.IsKnown() {
				return pk.SqlType.Key(), true
			}
		}
		return TypeKey{}, false
	}
	if ty, ok := db.types[key]; ok && !ty.IsKnown() {
		return ty.Key(), true
	}
	return TypeKey{}, false
}

func (db *ADB) unresolvedError(start TypeKey) *alerr.Error {
	err := alerr.CannotResolveType(start.String())
	seen := map[TypeKey]bool{start: true}
	path := []string{start.String()}
	for key := start; ; {
		nxt, ok := db.next(key)
		if !ok {
			return err
		}
		path = append(path, nxt.String())
		if seen[nxt] {
			return err.With("cycle", strings.Join(path, " -> "))
		}
		seen[nxt] = true
		key = nxt
	}
}

// -----------------------------------------------------------------------------
// JSON encoding
// -----------------------------------------------------------------------------

type adbWire struct {
	Tables     map[string]*Table           `json:"tables"`
	ExtraTypes map[TypeKey]DeferredSqlType `json:"extra_types"`
}

// MarshalJSON encodes {"tables": {...}, "extra_types": {...}}.
func (db *ADB) MarshalJSON() ([]byte, error) {
	return json.Marshal(adbWire{Tables: db.tables, ExtraTypes: db.types})
}

// UnmarshalJSON implements json.Unmarshaler.
func (db *ADB) UnmarshalJSON(data []byte) error {
	var w adbWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*db = *NewADB()
	for name, t := range w.Tables {
		t.Name = name
		db.tables[name] = t
	}
	for k, v := range w.ExtraTypes {
		db.types[k] = v
	}
	return nil
}

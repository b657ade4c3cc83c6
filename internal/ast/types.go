// Package ast defines the abstract database (ADB): a dialect-independent
// snapshot of tables, columns and the registry of types that are only known
// by reference until the whole schema has been declared.
package ast

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// -----------------------------------------------------------------------------
// TypeKey - name of a type resolved later
// -----------------------------------------------------------------------------

// KeyKind distinguishes the namespaces a TypeKey can live in.
type KeyKind int

const (
	// KeyPK is the primary key type of the named table.
	KeyPK KeyKind = iota
	// KeyCustom is a user type registered with AddType.
	KeyCustom
	// KeyMany is the element type of a many-to-many field ("Owner.field").
	KeyMany
)

var keyPrefixes = map[KeyKind]string{
	KeyPK:     "PK",
	KeyCustom: "CT",
	KeyMany:   "MANY",
}

// TypeKey identifies a deferred type.
type TypeKey struct {
	Kind KeyKind
	Name string
}

// PKKey returns the key for the primary key type of table.
func PKKey(table string) TypeKey { return TypeKey{Kind: KeyPK, Name: table} }

// CustomKey returns the key for a custom type name.
func CustomKey(name string) TypeKey { return TypeKey{Kind: KeyCustom, Name: name} }

// ManyKey returns the key for the element type of a many-to-many field.
func ManyKey(owner, field string) TypeKey {
	return TypeKey{Kind: KeyMany, Name: owner + "." + field}
}

// String returns the serialized form, e.g. "PK:users" or "CT:Currency".
func (k TypeKey) String() string {
	return keyPrefixes[k.Kind] + ":" + k.Name
}

// Less orders keys by kind (PK, CT, MANY) then by name.
func (k TypeKey) Less(o TypeKey) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.Name < o.Name
}

// ParseTypeKey parses the form produced by String.
func ParseTypeKey(s string) (TypeKey, error) {
	prefix, name, ok := strings.Cut(s, ":")
	if ok {
		for kind, p := range keyPrefixes {
			if p == prefix {
				return TypeKey{Kind: kind, Name: name}, nil
			}
		}
	}
	return TypeKey{}, fmt.Errorf("unknown type key %q", s)
}

// MarshalText lets TypeKey serve as a JSON object key.
func (k TypeKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *TypeKey) UnmarshalText(b []byte) error {
	parsed, err := ParseTypeKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// -----------------------------------------------------------------------------
// TypeIdentifier - a concrete type
// -----------------------------------------------------------------------------

// TypeIdentifier is either a portable SqlType or the name of a backend-native
// type that is written verbatim into DDL.
type TypeIdentifier struct {
	Ty   sqlval.SqlType `json:"ty,omitempty"`
	Name string         `json:"name,omitempty"`
}

// Ty wraps a portable type.
func Ty(t sqlval.SqlType) TypeIdentifier { return TypeIdentifier{Ty: t} }

// Named wraps a backend-native type name.
func Named(name string) TypeIdentifier { return TypeIdentifier{Name: name} }

// IsNamed reports whether the identifier is a custom type name.
func (t TypeIdentifier) IsNamed() bool { return t.Name != "" }

func (t TypeIdentifier) String() string {
	if t.IsNamed() {
		return t.Name
	}
	return t.Ty.String()
}

// -----------------------------------------------------------------------------
// DeferredSqlType
// -----------------------------------------------------------------------------

// DeferredSqlType is a column type that is either known or refers to a key
// that ResolveTypes will look up.
type DeferredSqlType struct {
	known bool
	id    TypeIdentifier
	key   TypeKey
}

// Known returns a resolved type.
func Known(id TypeIdentifier) DeferredSqlType {
	return DeferredSqlType{known: true, id: id}
}

// KnownType is Known(Ty(t)).
func KnownType(t sqlval.SqlType) DeferredSqlType {
	return Known(Ty(t))
}

// Deferred returns a type resolved through key.
func Deferred(key TypeKey) DeferredSqlType {
	return DeferredSqlType{key: key}
}

// IsKnown reports whether the type has been resolved.
func (d DeferredSqlType) IsKnown() bool { return d.known }

// Key returns the pending key. It is meaningless once the type is known.
func (d DeferredSqlType) Key() TypeKey { return d.key }

// TypeID returns the concrete type, or ErrCannotResolveType while deferred.
func (d DeferredSqlType) TypeID() (TypeIdentifier, error) {
	if !d.known {
		return TypeIdentifier{}, alerr.CannotResolveType(d.key.String())
	}
	return d.id, nil
}

// Equal compares two types structurally.
func (d DeferredSqlType) Equal(o DeferredSqlType) bool {
	if d.known != o.known {
		return false
	}
	if d.known {
		return d.id == o.id
	}
	return d.key == o.key
}

func (d DeferredSqlType) String() string {
	if d.known {
		return d.id.String()
	}
	return "deferred(" + d.key.String() + ")"
}

type deferredWire struct {
	Known    *TypeIdentifier `json:"known,omitempty"`
	Deferred *TypeKey        `json:"deferred,omitempty"`
}

// MarshalJSON encodes {"known": {...}} or {"deferred": "PK:x"}.
func (d DeferredSqlType) MarshalJSON() ([]byte, error) {
	if d.known {
		id := d.id
		return json.Marshal(deferredWire{Known: &id})
	}
	key := d.key
	return json.Marshal(deferredWire{Deferred: &key})
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DeferredSqlType) UnmarshalJSON(data []byte) error {
	var w deferredWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Known != nil:
		*d = Known(*w.Known)
	case w.Deferred != nil:
		*d = Deferred(*w.Deferred)
	default:
		return fmt.Errorf("sql type has neither known nor deferred form")
	}
	return nil
}

package ast

import (
	"fmt"
	"regexp"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Validation messages shared across Table, Column and the Operation types.
const (
	msgTableNameRequired  = "table name is required"
	msgColumnNameRequired = "column name is required"
	msgTableNeedsColumn   = "table must have at least one column"
	msgTableNeedsOnePK    = "table must have exactly one primary key column"
	msgAutoNeedsKey       = "auto-increment column must be the primary key or unique"
	msgAutoNeedsInteger   = "auto-increment column must be an int or bigint"
)

// validIdentifierPattern matches identifiers every backend accepts once quoted.
var validIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks that a name can be used as a table or column name.
func ValidateIdentifier(name string) error {
	if !validIdentifierPattern.MatchString(name) {
		return alerr.New(alerr.ErrInvalidIdentifier,
			fmt.Sprintf("invalid identifier %q; must match [A-Za-z_][A-Za-z0-9_]*", name))
	}
	return nil
}

// -----------------------------------------------------------------------------
// ForeignKey - column reference
// -----------------------------------------------------------------------------

// ForeignKey names the table and column a column references.
type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// -----------------------------------------------------------------------------
// Column - abstract column
// -----------------------------------------------------------------------------

// Column is the abstract definition of a table column.
type Column struct {
	Name      string          `json:"name"`
	SqlType   DeferredSqlType `json:"sqltype"`
	Nullable  bool            `json:"nullable"`
	PK        bool            `json:"pk"`
	Auto      bool            `json:"auto"`
	Unique    bool            `json:"unique"`
	Default   *sqlval.SqlVal  `json:"default"`
	Reference *ForeignKey     `json:"reference,omitempty"`
}

// NewColumn returns a non-null, non-key column with no default.
func NewColumn(name string, ty DeferredSqlType) Column {
	return Column{Name: name, SqlType: ty}
}

// TypeID returns the resolved type of the column.
func (c *Column) TypeID() (TypeIdentifier, error) {
	id, err := c.SqlType.TypeID()
	if err != nil {
		return id, alerr.CannotResolveType(c.SqlType.Key().String()).WithColumn(c.Name)
	}
	return id, nil
}

// Equal compares every structural property of two columns.
func (c Column) Equal(o Column) bool {
	if c.Name != o.Name || c.Nullable != o.Nullable || c.PK != o.PK ||
		c.Auto != o.Auto || c.Unique != o.Unique {
		return false
	}
	if !c.SqlType.Equal(o.SqlType) {
		return false
	}
	if (c.Default == nil) != (o.Default == nil) {
		return false
	}
	if c.Default != nil && !c.Default.Equal(*o.Default) {
		return false
	}
	if (c.Reference == nil) != (o.Reference == nil) {
		return false
	}
	return c.Reference == nil || *c.Reference == *o.Reference
}

// Clone returns a deep copy.
func (c Column) Clone() Column {
	if c.Default != nil {
		d := *c.Default
		c.Default = &d
	}
	if c.Reference != nil {
		r := *c.Reference
		c.Reference = &r
	}
	return c
}

// Validate checks the column-level invariants.
func (c *Column) Validate() error {
	if c.Name == "" {
		return alerr.New(alerr.ErrSchemaInvalid, msgColumnNameRequired)
	}
	if err := ValidateIdentifier(c.Name); err != nil {
		return err
	}
	if c.Auto && !c.PK && !c.Unique {
		return alerr.New(alerr.ErrInvalidAuto, msgAutoNeedsKey).WithColumn(c.Name)
	}
	if c.Auto && c.SqlType.IsKnown() {
		id, _ := c.SqlType.TypeID()
		if id.IsNamed() || !id.Ty.IsInteger() {
			return alerr.New(alerr.ErrInvalidAuto, msgAutoNeedsInteger).WithColumn(c.Name)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Table - abstract table
// -----------------------------------------------------------------------------

// Table is the abstract definition of a table. Columns keep declaration order.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// NewTable returns a table holding copies of cols.
func NewTable(name string, cols ...Column) *Table {
	t := &Table{Name: name}
	for _, c := range cols {
		t.ReplaceColumn(c)
	}
	return t
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PK returns the primary key column or nil.
func (t *Table) PK() *Column {
	for i := range t.Columns {
		if t.Columns[i].PK {
			return &t.Columns[i]
		}
	}
	return nil
}

// AddColumn appends col, replacing a column of the same name in place.
func (t *Table) AddColumn(col Column) {
	t.ReplaceColumn(col)
}

// ReplaceColumn swaps the column with the same name, appending if absent.
func (t *Table) ReplaceColumn(col Column) {
	col = col.Clone()
	for i := range t.Columns {
		if t.Columns[i].Name == col.Name {
			t.Columns[i] = col
			return
		}
	}
	t.Columns = append(t.Columns, col)
}

// RemoveColumn drops the named column if present.
func (t *Table) RemoveColumn(name string) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			t.Columns = append(t.Columns[:i:i], t.Columns[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{Name: t.Name, Columns: make([]Column, len(t.Columns))}
	for i, c := range t.Columns {
		out.Columns[i] = c.Clone()
	}
	return out
}

// Validate checks the table-level invariants.
func (t *Table) Validate() error {
	if t.Name == "" {
		return alerr.New(alerr.ErrSchemaInvalid, msgTableNameRequired)
	}
	if err := ValidateIdentifier(t.Name); err != nil {
		return alerr.Wrap(alerr.ErrInvalidIdentifier, err, "invalid table name").WithTable(t.Name)
	}
	if len(t.Columns) == 0 {
		return alerr.New(alerr.ErrSchemaInvalid, msgTableNeedsColumn).WithTable(t.Name)
	}

	seen := make(map[string]bool, len(t.Columns))
	pks := 0
	for i := range t.Columns {
		col := &t.Columns[i]
		if err := col.Validate(); err != nil {
			if e, ok := err.(*alerr.Error); ok {
				return e.WithTable(t.Name)
			}
			return err
		}
		if seen[col.Name] {
			return alerr.New(alerr.ErrSchemaDuplicate, "duplicate column").
				WithTable(t.Name).WithColumn(col.Name)
		}
		seen[col.Name] = true
		if col.PK {
			pks++
		}
	}
	if pks != 1 {
		return alerr.New(alerr.ErrSchemaInvalid, msgTableNeedsOnePK).
			WithTable(t.Name).With("primary_keys", pks)
	}
	return nil
}

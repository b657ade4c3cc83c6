package ast

import (
	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// OpType represents the type of a schema operation.
type OpType int

const (
	// OpAddTable creates a new table.
	OpAddTable OpType = iota

	// OpAddTableIfNotExists creates a table unless it already exists.
	// Only the bookkeeping table is created this way.
	OpAddTableIfNotExists

	// OpRemoveTable drops a table.
	OpRemoveTable

	// OpAddColumn adds a column to an existing table.
	OpAddColumn

	// OpRemoveColumn drops a column from an existing table.
	OpRemoveColumn

	// OpChangeColumn alters the definition of an existing column.
	OpChangeColumn
)

// String returns the string representation of an OpType.
func (o OpType) String() string {
	switch o {
	case OpAddTable:
		return "AddTable"
	case OpAddTableIfNotExists:
		return "AddTableIfNotExists"
	case OpRemoveTable:
		return "RemoveTable"
	case OpAddColumn:
		return "AddColumn"
	case OpRemoveColumn:
		return "RemoveColumn"
	case OpChangeColumn:
		return "ChangeColumn"
	default:
		return "Unknown"
	}
}

// Operation represents a single atomic change to the abstract schema.
// The differ produces Operations; dialects render them to SQL.
type Operation interface {
	// Type returns the operation type.
	Type() OpType

	// Table returns the name of the table the operation targets.
	Table() string

	// Validate checks that the operation is well-formed.
	Validate() error
}

// -----------------------------------------------------------------------------
// AddTable
// -----------------------------------------------------------------------------

// AddTable creates Def.
type AddTable struct {
	Def *Table
}

func (op *AddTable) Type() OpType { return OpAddTable }
func (op *AddTable) Table() string { return op.Def.Name }
func (op *AddTable) Validate() error { return op.Def.Validate() }

// AddTableIfNotExists creates Def with IF NOT EXISTS.
type AddTableIfNotExists struct {
	Def *Table
}

func (op *AddTableIfNotExists) Type() OpType { return OpAddTableIfNotExists }
func (op *AddTableIfNotExists) Table() string { return op.Def.Name }
func (op *AddTableIfNotExists) Validate() error { return op.Def.Validate() }

// -----------------------------------------------------------------------------
// RemoveTable
// -----------------------------------------------------------------------------

// RemoveTable drops the named table.
type RemoveTable struct {
	Name string
}

func (op *RemoveTable) Type() OpType { return OpRemoveTable }
func (op *RemoveTable) Table() string { return op.Name }

func (op *RemoveTable) Validate() error {
	if op.Name == "" {
		return alerr.New(alerr.ErrSchemaInvalid, msgTableNameRequired)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Column operations
// -----------------------------------------------------------------------------

// AddColumn adds Column to TableName. Fill, when set, is written to the rows
// that already exist if Column is NOT NULL without a default; the column
// keeps no default afterwards.
type AddColumn struct {
	TableName string
	Column    Column
	Fill      *sqlval.SqlVal
}

func (op *AddColumn) Type() OpType { return OpAddColumn }
func (op *AddColumn) Table() string { return op.TableName }

func (op *AddColumn) Validate() error {
	if op.TableName == "" {
		return alerr.New(alerr.ErrSchemaInvalid, msgTableNameRequired)
	}
	return op.Column.Validate()
}

// RemoveColumn drops Name from TableName.
type RemoveColumn struct {
	TableName string
	Name      string
}

func (op *RemoveColumn) Type() OpType { return OpRemoveColumn }
func (op *RemoveColumn) Table() string { return op.TableName }

func (op *RemoveColumn) Validate() error {
	if op.TableName == "" {
		return alerr.New(alerr.ErrSchemaInvalid, msgTableNameRequired)
	}
	if op.Name == "" {
		return alerr.New(alerr.ErrSchemaInvalid, msgColumnNameRequired).WithTable(op.TableName)
	}
	return nil
}

// ChangeColumn replaces Old with New. Both share a name.
type ChangeColumn struct {
	TableName string
	Old       Column
	New       Column
}

func (op *ChangeColumn) Type() OpType { return OpChangeColumn }
func (op *ChangeColumn) Table() string { return op.TableName }

func (op *ChangeColumn) Validate() error {
	if op.TableName == "" {
		return alerr.New(alerr.ErrSchemaInvalid, msgTableNameRequired)
	}
	if op.Old.Name != op.New.Name {
		return alerr.New(alerr.ErrSchemaInvalid, "changed column must keep its name").
			WithTable(op.TableName).With("old", op.Old.Name).With("new", op.New.Name)
	}
	return op.New.Validate()
}

// ColumnName returns the column an operation targets, or "" for table operations.
func ColumnName(op Operation) string {
	switch o := op.(type) {
	case *AddColumn:
		return o.Column.Name
	case *RemoveColumn:
		return o.Name
	case *ChangeColumn:
		return o.New.Name
	}
	return ""
}

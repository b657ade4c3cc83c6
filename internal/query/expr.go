// Package query defines the filter expression tree and compiles it, together
// with SELECT, COUNT and DELETE statements, into parameterized SQL.
package query

import (
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// -----------------------------------------------------------------------------
// Expr - operands
// -----------------------------------------------------------------------------

// Expr is the right-hand side of a comparison.
type Expr interface {
	isExpr()
}

// Column refers to a column by name. A qualified name ("table.col") is
// quoted part by part.
type Column string

// Value is a literal operand. It is always sent as a bound parameter.
type Value struct {
	V sqlval.SqlVal
}

// Placeholder is a parameter whose value is bound when the statement runs.
type Placeholder struct{}

// Condition embeds a boolean expression as an operand.
type Condition struct {
	Cond BoolExpr
}

func (Column) isExpr()      {}
func (Value) isExpr()       {}
func (Placeholder) isExpr() {}
func (Condition) isExpr()   {}

// Val wraps v as a Value operand.
func Val(v sqlval.SqlVal) Expr { return Value{V: v} }

// Lit converts a Go value with sqlval.Of and wraps it. It panics on types
// sqlval does not support; use Val with an explicit SqlVal otherwise.
func Lit(x any) Expr { return Value{V: sqlval.MustOf(x)} }

// -----------------------------------------------------------------------------
// BoolExpr - predicates
// -----------------------------------------------------------------------------

// BoolExpr is a predicate usable in a WHERE clause.
type BoolExpr interface {
	isBoolExpr()
}

// CmpOp is a binary comparison operator.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpLike
)

func (op CmpOp) sql() string {
	switch op {
	case OpEq:
		return " = "
	case OpNe:
		return " <> "
	case OpLt:
		return " < "
	case OpGt:
		return " > "
	case OpLe:
		return " <= "
	case OpGe:
		return " >= "
	case OpLike:
		return " LIKE "
	}
	return " ? "
}

// True matches every row.
type True struct{}

// Compare is col <op> rhs.
type Compare struct {
	Op  CmpOp
	Col string
	Rhs Expr
}

// And matches rows matched by every term. An empty And matches everything.
type And struct {
	Terms []BoolExpr
}

// Or matches rows matched by any term. An empty Or matches nothing.
type Or struct {
	Terms []BoolExpr
}

// Not negates Expr.
type Not struct {
	Expr BoolExpr
}

// In matches rows whose Col equals one of Values.
type In struct {
	Col    string
	Values []sqlval.SqlVal
}

// Subquery matches rows whose Col is among the TableCol values of the rows
// of Table matching Expr:
//
//	col IN (SELECT table_col FROM table WHERE expr)
type Subquery struct {
	Col      string
	Table    string
	TableCol string
	Expr     BoolExpr
}

// SubqueryJoin is Subquery with joins between Table and the table Expr
// filters on:
//
//	col IN (SELECT table.col2 FROM table INNER JOIN ... WHERE expr)
type SubqueryJoin struct {
	Col   string
	Table string
	// Col2 is qualified with Table when rendered.
	Col2  string
	Joins []Join
	Expr  BoolExpr
}

// Join is an INNER JOIN of Table on Col1 = Col2. Both columns are usually
// qualified.
type Join struct {
	Table string
	Col1  string
	Col2  string
}

func (True) isBoolExpr()         {}
func (Compare) isBoolExpr()      {}
func (And) isBoolExpr()          {}
func (Or) isBoolExpr()           {}
func (Not) isBoolExpr()          {}
func (In) isBoolExpr()           {}
func (Subquery) isBoolExpr()     {}
func (SubqueryJoin) isBoolExpr() {}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func Eq(col string, rhs Expr) BoolExpr   { return Compare{Op: OpEq, Col: col, Rhs: rhs} }
func Ne(col string, rhs Expr) BoolExpr   { return Compare{Op: OpNe, Col: col, Rhs: rhs} }
func Lt(col string, rhs Expr) BoolExpr   { return Compare{Op: OpLt, Col: col, Rhs: rhs} }
func Gt(col string, rhs Expr) BoolExpr   { return Compare{Op: OpGt, Col: col, Rhs: rhs} }
func Le(col string, rhs Expr) BoolExpr   { return Compare{Op: OpLe, Col: col, Rhs: rhs} }
func Ge(col string, rhs Expr) BoolExpr   { return Compare{Op: OpGe, Col: col, Rhs: rhs} }
func Like(col string, rhs Expr) BoolExpr { return Compare{Op: OpLike, Col: col, Rhs: rhs} }

// AllOf is And over terms, flattening nested Ands and dropping True.
func AllOf(terms ...BoolExpr) BoolExpr {
	var out []BoolExpr
	for _, t := range terms {
		switch e := t.(type) {
		case nil, True:
		case And:
			out = append(out, e.Terms...)
		default:
			out = append(out, t)
		}
	}
	switch len(out) {
	case 0:
		return True{}
	case 1:
		return out[0]
	}
	return And{Terms: out}
}

// AnyOf is Or over terms.
func AnyOf(terms ...BoolExpr) BoolExpr {
	if len(terms) == 1 {
		return terms[0]
	}
	return Or{Terms: terms}
}

// Negate is Not{e}.
func Negate(e BoolExpr) BoolExpr { return Not{Expr: e} }

// IsIn is In{col, values}.
func IsIn(col string, values ...sqlval.SqlVal) BoolExpr { return In{Col: col, Values: values} }

// -----------------------------------------------------------------------------
// Ordering
// -----------------------------------------------------------------------------

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Order is one ORDER BY key.
type Order struct {
	Col string
	Dir Direction
}

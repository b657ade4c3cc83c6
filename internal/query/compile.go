package query

import (
	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/sqlgen"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Compile renders e as a WHERE-clause body. Values become bound parameters
// in left-to-right order; a nil expression renders TRUE.
func Compile(d dialect.Dialect, e BoolExpr) (sqlgen.Statement, error) {
	b := sqlgen.New(d)
	if err := writeBool(b, e); err != nil {
		return sqlgen.Statement{}, err
	}
	return b.Build(), nil
}

func writeBool(b *sqlgen.Builder, e BoolExpr) error {
	switch x := e.(type) {
	case nil, True:
		b.Raw("TRUE")
	case Compare:
		return writeCompare(b, x)
	case And:
		return writeJoined(b, x.Terms, " AND ", "TRUE")
	case Or:
		return writeJoined(b, x.Terms, " OR ", "FALSE")
	case Not:
		b.Raw("NOT (")
		if err := writeBool(b, x.Expr); err != nil {
			return err
		}
		b.CloseParen()
	case In:
		if len(x.Values) == 0 {
			b.Raw("FALSE")
			return nil
		}
		b.Ident(x.Col).Raw(" IN (").Args(x.Values...).CloseParen()
	case Subquery:
		b.Ident(x.Col).Raw(" IN (SELECT ").Ident(x.TableCol).Raw(" FROM ").Ident(x.Table).Raw(" WHERE ")
		if err := writeBool(b, x.Expr); err != nil {
			return err
		}
		b.CloseParen()
	case SubqueryJoin:
		b.Ident(x.Col).Raw(" IN (SELECT ").Ident(x.Table + "." + x.Col2).Raw(" FROM ").Ident(x.Table)
		for _, j := range x.Joins {
			b.Raw(" INNER JOIN ").Ident(j.Table).Raw(" ON ").Ident(j.Col1).Raw(" = ").Ident(j.Col2)
		}
		b.Raw(" WHERE ")
		if err := writeBool(b, x.Expr); err != nil {
			return err
		}
		b.CloseParen()
	default:
		return alerr.Newf(alerr.ErrInternal, "unknown boolean expression %T", e)
	}
	return nil
}

func writeJoined(b *sqlgen.Builder, terms []BoolExpr, sep, empty string) error {
	if len(terms) == 0 {
		b.Raw(empty)
		return nil
	}
	b.OpenParen()
	for i, t := range terms {
		if i > 0 {
			b.Raw(sep)
		}
		if err := writeBool(b, t); err != nil {
			return err
		}
	}
	b.CloseParen()
	return nil
}

// writeCompare renders col <op> rhs. Comparing with a NULL value uses
// IS [NOT] NULL, since col = NULL is never true.
func writeCompare(b *sqlgen.Builder, c Compare) error {
	if v, ok := c.Rhs.(Value); ok && v.V.IsNull() {
		switch c.Op {
		case OpEq:
			b.Ident(c.Col).Raw(" IS NULL")
			return nil
		case OpNe:
			b.Ident(c.Col).Raw(" IS NOT NULL")
			return nil
		}
	}
	b.Ident(c.Col).Raw(c.Op.sql())
	return writeExpr(b, c.Rhs)
}

func writeExpr(b *sqlgen.Builder, e Expr) error {
	switch x := e.(type) {
	case Column:
		b.Ident(string(x))
	case Value:
		b.Arg(x.V)
	case Placeholder:
		b.Slot()
	case Condition:
		b.OpenParen()
		if err := writeBool(b, x.Cond); err != nil {
			return err
		}
		b.CloseParen()
	default:
		return alerr.Newf(alerr.ErrInternal, "unknown expression %T", e)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Statements
// -----------------------------------------------------------------------------

// Field is a selected column and the type its values decode to.
type Field struct {
	Name string
	Type sqlval.SqlType
}

// FieldNames returns the names of fields.
func FieldNames(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

// Select holds everything that shapes a SELECT. Negative Limit and Offset
// are unset.
type Select struct {
	Table  string
	Fields []Field
	Where  BoolExpr
	Sort   []Order
	Limit  int
	Offset int
}

// SelectSQL renders
//
//	SELECT cols FROM table [WHERE expr] [ORDER BY ...] [LIMIT n] [OFFSET m]
func SelectSQL(d dialect.Dialect, s Select) (sqlgen.Statement, error) {
	b := sqlgen.New(d)
	b.Raw("SELECT ").Idents(FieldNames(s.Fields)...).Raw(" FROM ").Ident(s.Table)
	if err := writeWhere(b, s.Where); err != nil {
		return sqlgen.Statement{}, err
	}
	writeOrderBy(b, s.Sort)
	b.Raw(d.LimitOffset(s.Limit, s.Offset))
	return b.Build(), nil
}

// CountSQL renders SELECT COUNT(*) FROM table [WHERE expr].
func CountSQL(d dialect.Dialect, table string, where BoolExpr) (sqlgen.Statement, error) {
	b := sqlgen.New(d)
	b.Raw("SELECT COUNT(*) FROM ").Ident(table)
	if err := writeWhere(b, where); err != nil {
		return sqlgen.Statement{}, err
	}
	return b.Build(), nil
}

// DeleteSQL renders DELETE FROM table WHERE expr. A nil expression deletes
// every row.
func DeleteSQL(d dialect.Dialect, table string, where BoolExpr) (sqlgen.Statement, error) {
	b := sqlgen.New(d)
	b.Raw("DELETE FROM ").Ident(table).Raw(" WHERE ")
	if err := writeBool(b, where); err != nil {
		return sqlgen.Statement{}, err
	}
	return b.Build(), nil
}

// UpdateSQL renders UPDATE table SET c1 = ?, ... WHERE pkcol = ?.
func UpdateSQL(d dialect.Dialect, table, pkcol string, pk sqlval.SqlVal, cols []string, vals []sqlval.SqlVal) (sqlgen.Statement, error) {
	if len(cols) != len(vals) {
		return sqlgen.Statement{}, alerr.Bounds(len(cols), len(vals)).WithTable(table)
	}
	b := sqlgen.New(d)
	b.Raw("UPDATE ").Ident(table).Raw(" SET ")
	for i, c := range cols {
		if i > 0 {
			b.Comma()
		}
		b.Ident(c).Raw(" = ").Arg(vals[i])
	}
	b.Raw(" WHERE ").Ident(pkcol).Raw(" = ").Arg(pk)
	return b.Build(), nil
}

// writeWhere omits the clause entirely for a nil or True filter.
func writeWhere(b *sqlgen.Builder, where BoolExpr) error {
	switch where.(type) {
	case nil, True:
		return nil
	}
	b.Raw(" WHERE ")
	return writeBool(b, where)
}

func writeOrderBy(b *sqlgen.Builder, sort []Order) {
	for i, o := range sort {
		if i == 0 {
			b.Raw(" ORDER BY ")
		} else {
			b.Comma()
		}
		b.Ident(o.Col)
		if o.Dir == Desc {
			b.Raw(" DESC")
		} else {
			b.Raw(" ASC")
		}
	}
}

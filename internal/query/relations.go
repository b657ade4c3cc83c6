package query

import (
	"strings"

	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// -----------------------------------------------------------------------------
// ForeignKey - one-to-many traversal
// -----------------------------------------------------------------------------

// ForeignKey is a column of one table holding the primary key of Table.
type ForeignKey struct {
	Col     string
	Table   string
	TablePK string
}

// Subfilter matches rows whose referenced row matches e:
//
//	col IN (SELECT pk FROM table WHERE e)
func (fk ForeignKey) Subfilter(e BoolExpr) BoolExpr {
	return Subquery{Col: fk.Col, Table: fk.Table, TableCol: fk.TablePK, Expr: e}
}

// Subfilter is ForeignKey{col, table, pk}.Subfilter(e).
func Subfilter(col, table, pk string, e BoolExpr) BoolExpr {
	return ForeignKey{Col: col, Table: table, TablePK: pk}.Subfilter(e)
}

// -----------------------------------------------------------------------------
// Many - many-to-many traversal through a junction table
// -----------------------------------------------------------------------------

// Junction column names.
const (
	JunctionOwner = "owner"
	JunctionHas   = "has"
)

// Many is the many-to-many field Field of table Owner, linking to rows of
// Other through the junction table <Owner>_<Field>_Many.
type Many struct {
	Owner   string
	OwnerPK string
	Field   string
	Other   string
	OtherPK string
}

// JunctionName is the name of the junction table.
func (m Many) JunctionName() string {
	return m.Owner + "_" + m.Field + "_Many"
}

// Contains matches owner rows linked to at least one Other row matching e.
// The junction table is in scope too, so unqualified columns of e are
// qualified with the Other table name.
//
//	ownerpk IN (SELECT j.owner FROM j INNER JOIN other ON j.has = other.pk WHERE e)
func (m Many) Contains(e BoolExpr) BoolExpr {
	j := m.JunctionName()
	return SubqueryJoin{
		Col:   m.OwnerPK,
		Table: j,
		Col2:  JunctionOwner,
		Joins: []Join{{Table: m.Other, Col1: j + "." + JunctionHas, Col2: m.Other + "." + m.OtherPK}},
		Expr:  qualify(m.Other, e),
	}
}

// qualify prefixes the unqualified columns of e with table. Nested subquery
// filters have a scope of their own and are left alone.
func qualify(table string, e BoolExpr) BoolExpr {
	col := func(name string) string {
		if name == "" || strings.Contains(name, ".") {
			return name
		}
		return table + "." + name
	}
	switch x := e.(type) {
	case Compare:
		if c, ok := x.Rhs.(Column); ok {
			x.Rhs = Column(col(string(c)))
		}
		x.Col = col(x.Col)
		return x
	case And:
		terms := make([]BoolExpr, len(x.Terms))
		for i, t := range x.Terms {
			terms[i] = qualify(table, t)
		}
		return And{Terms: terms}
	case Or:
		terms := make([]BoolExpr, len(x.Terms))
		for i, t := range x.Terms {
			terms[i] = qualify(table, t)
		}
		return Or{Terms: terms}
	case Not:
		return Not{Expr: qualify(table, x.Expr)}
	case In:
		x.Col = col(x.Col)
		return x
	case Subquery:
		x.Col = col(x.Col)
		return x
	case SubqueryJoin:
		x.Col = col(x.Col)
		return x
	}
	return e
}

// Contains is Many{...}.Contains(e).
func Contains(owner, ownerPK, field, other, otherPK string, e BoolExpr) BoolExpr {
	return Many{Owner: owner, OwnerPK: ownerPK, Field: field, Other: other, OtherPK: otherPK}.Contains(e)
}

// LinkedTo matches Other rows linked to the owner row with primary key pk,
// for loading the members of the field.
func (m Many) LinkedTo(pk sqlval.SqlVal) BoolExpr {
	return Subquery{
		Col:      m.OtherPK,
		Table:    m.JunctionName(),
		TableCol: JunctionHas,
		Expr:     Eq(JunctionOwner, Val(pk)),
	}
}

// Link matches the junction rows for one owner/member pair.
func (m Many) Link(ownerPK, otherPK sqlval.SqlVal) BoolExpr {
	return AllOf(Eq(JunctionOwner, Val(ownerPK)), Eq(JunctionHas, Val(otherPK)))
}

// TypeKey is the registry key of the field's element type.
func (m Many) TypeKey() ast.TypeKey {
	return ast.ManyKey(m.Owner, m.Field)
}

// ElementType is the registry entry for TypeKey: the primary key of Other.
func (m Many) ElementType() ast.DeferredSqlType {
	return ast.Deferred(ast.PKKey(m.Other))
}

// JunctionTable is the schema of the junction table. Its key columns stay
// deferred until the owning and member tables are resolved. The surrogate id
// exists because every table has exactly one primary key column; Contains
// qualifies filters so it never shadows a column of Other.
func (m Many) JunctionTable() *ast.Table {
	id := ast.NewColumn("id", ast.KnownType(sqlval.BigInt))
	id.PK = true
	id.Auto = true
	return ast.NewTable(m.JunctionName(),
		id,
		ast.NewColumn(JunctionOwner, ast.Deferred(ast.PKKey(m.Owner))),
		ast.NewColumn(JunctionHas, ast.Deferred(m.TypeKey())),
	)
}

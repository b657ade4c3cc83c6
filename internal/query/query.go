package query

import (
	"context"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Row is one result row, in the order of the selected fields.
type Row []sqlval.SqlVal

// Get returns the value at i, or a bounds error.
func (r Row) Get(i int) (sqlval.SqlVal, error) {
	if i < 0 || i >= len(r) {
		return sqlval.Null, alerr.Bounds(i+1, len(r))
	}
	return r[i], nil
}

// Executor runs compiled queries. Connections and transactions satisfy it.
type Executor interface {
	Query(ctx context.Context, s Select) ([]Row, error)
	Count(ctx context.Context, table string, where BoolExpr) (int64, error)
	DeleteWhere(ctx context.Context, table string, where BoolExpr) (int64, error)
}

// Query accumulates a filtered, ordered, paged selection from one table.
// The zero value is not usable; start with From.
type Query struct {
	sel Select
}

// From starts a query over table selecting fields.
func From(table string, fields ...Field) *Query {
	return &Query{sel: Select{Table: table, Fields: fields, Limit: -1, Offset: -1}}
}

// Filter narrows the query. Repeated calls AND together.
func (q *Query) Filter(e BoolExpr) *Query {
	q.sel.Where = AllOf(q.sel.Where, e)
	return q
}

// OrderAsc adds an ascending sort key after any existing ones.
func (q *Query) OrderAsc(col string) *Query {
	q.sel.Sort = append(q.sel.Sort, Order{Col: col, Dir: Asc})
	return q
}

// OrderDesc adds a descending sort key after any existing ones.
func (q *Query) OrderDesc(col string) *Query {
	q.sel.Sort = append(q.sel.Sort, Order{Col: col, Dir: Desc})
	return q
}

// Limit caps the number of rows returned.
func (q *Query) Limit(n int) *Query {
	q.sel.Limit = n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.sel.Offset = n
	return q
}

// Select returns a copy of the accumulated selection.
func (q *Query) Select() Select {
	s := q.sel
	s.Fields = append([]Field(nil), q.sel.Fields...)
	s.Sort = append([]Order(nil), q.sel.Sort...)
	return s
}

// Load runs the query.
func (q *Query) Load(ctx context.Context, ex Executor) ([]Row, error) {
	return ex.Query(ctx, q.Select())
}

// LoadFirst runs the query with a limit of one. It returns NoSuchObject when
// nothing matches.
func (q *Query) LoadFirst(ctx context.Context, ex Executor) (Row, error) {
	s := q.Select()
	s.Limit = 1
	rows, err := ex.Query(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, alerr.NoSuchObject(s.Table)
	}
	return rows[0], nil
}

// Count returns the number of matching rows, ignoring order and paging.
func (q *Query) Count(ctx context.Context, ex Executor) (int64, error) {
	return ex.Count(ctx, q.sel.Table, q.sel.Where)
}

// Delete removes every matching row and returns how many were removed.
func (q *Query) Delete(ctx context.Context, ex Executor) (int64, error) {
	return ex.DeleteWhere(ctx, q.sel.Table, q.sel.Where)
}

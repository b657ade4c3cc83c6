// Package db runs compiled statements against a live database. Conn wraps a
// *sql.DB and Tx a *sql.Tx; both satisfy Methods through a shared executor
// over the ExecQuerier they hold.
package db

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/engine"
	"github.com/hlop3z/lodestone/internal/metrics"
	"github.com/hlop3z/lodestone/internal/query"
	"github.com/hlop3z/lodestone/internal/sqlgen"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Methods is the database surface shared by connections and transactions.
type Methods interface {
	query.Executor

	// Backend returns the canonical backend name.
	Backend() string

	// Execute runs a script of one or more statements without arguments.
	Execute(ctx context.Context, script string) error

	Insert(ctx context.Context, table string, cols []string, vals []sqlval.SqlVal) error

	// InsertReturningPK inserts a row and returns its primary key as pkType.
	InsertReturningPK(ctx context.Context, table, pkcol string, pkType sqlval.SqlType, cols []string, vals []sqlval.SqlVal) (sqlval.SqlVal, error)

	// InsertOrReplace inserts a row or overwrites the row with the same key.
	InsertOrReplace(ctx context.Context, table, pkcol string, cols []string, vals []sqlval.SqlVal) error

	Update(ctx context.Context, table, pkcol string, pk sqlval.SqlVal, cols []string, vals []sqlval.SqlVal) error
	Delete(ctx context.Context, table, pkcol string, pk sqlval.SqlVal) error
	HasTable(ctx context.Context, table string) (bool, error)
}

// ExecQuerier is the part of *sql.DB, *sql.Conn and *sql.Tx the executor needs.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// executor implements Methods over any ExecQuerier.
type executor struct {
	eq      ExecQuerier
	d       dialect.Dialect
	metrics *metrics.Metrics
}

func (e *executor) Backend() string { return e.d.Name() }

// Dialect returns the dialect statements are rendered with.
func (e *executor) Dialect() dialect.Dialect { return e.d }

func (e *executor) exec(ctx context.Context, sqlText string, args []any) (sql.Result, error) {
	slog.Debug("exec", "backend", e.d.Name(), "sql", sqlText, "args", len(args))
	res, err := e.eq.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return nil, wrapDriver(err, "execute statement", sqlText).WithBackend(e.d.Name())
	}
	return res, nil
}

func (e *executor) compiled(kind string) {
	e.metrics.QueryCompiled(e.d.Name(), kind)
}

// Execute splits script and runs each statement in order.
func (e *executor) Execute(ctx context.Context, script string) error {
	for _, stmt := range engine.SplitStatements(script) {
		if _, err := e.exec(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (e *executor) Query(ctx context.Context, s query.Select) ([]query.Row, error) {
	st, err := query.SelectSQL(e.d, s)
	if err != nil {
		return nil, err
	}
	e.compiled("select")
	return e.queryRows(ctx, st, s.Fields)
}

func (e *executor) queryRows(ctx context.Context, st sqlgen.Statement, fields []query.Field) ([]query.Row, error) {
	slog.Debug("query", "backend", e.d.Name(), "sql", st.SQL, "args", len(st.Args))
	rows, err := e.eq.QueryContext(ctx, st.SQL, st.DriverArgs()...)
	if err != nil {
		return nil, wrapDriver(err, "query", st.SQL).WithBackend(e.d.Name())
	}
	defer rows.Close()
	return scanRows(rows, fields)
}

// scanRows decodes every row into the declared field types.
func scanRows(rows *sql.Rows, fields []query.Field) ([]query.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, alerr.WrapSQL(err, "read columns", "")
	}
	if len(cols) != len(fields) {
		return nil, alerr.Bounds(len(fields), len(cols))
	}

	var out []query.Row
	raw := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, alerr.WrapSQL(err, "scan row", "")
		}
		row := make(query.Row, len(fields))
		for i, f := range fields {
			v, err := sqlval.FromDriver(raw[i], f.Type)
			if err != nil {
				if ae, ok := err.(*alerr.Error); ok {
					ae.WithColumn(f.Name)
				}
				return nil, err
			}
			row[i] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, alerr.WrapSQL(err, "iterate rows", "")
	}
	return out, nil
}

func (e *executor) Count(ctx context.Context, table string, where query.BoolExpr) (int64, error) {
	st, err := query.CountSQL(e.d, table, where)
	if err != nil {
		return 0, err
	}
	e.compiled("count")
	rows, err := e.queryRows(ctx, st, []query.Field{{Name: "count", Type: sqlval.BigInt}})
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 {
		return 0, alerr.Bounds(1, len(rows)).WithTable(table)
	}
	return rows[0][0].Int64()
}

func (e *executor) HasTable(ctx context.Context, table string) (bool, error) {
	q := e.d.HasTableSQL()
	rows, err := e.eq.QueryContext(ctx, q, table)
	if err != nil {
		return false, wrapDriver(err, "look up table", q).WithTable(table)
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, alerr.WrapSQL(err, "look up table", q).WithTable(table)
	}
	return found, nil
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

func checkShape(table string, cols []string, vals []sqlval.SqlVal) error {
	if len(cols) != len(vals) {
		return alerr.Bounds(len(cols), len(vals)).WithTable(table)
	}
	return nil
}

func driverArgs(vals []sqlval.SqlVal) []any {
	return sqlgen.Statement{Args: vals}.DriverArgs()
}

func (e *executor) Insert(ctx context.Context, table string, cols []string, vals []sqlval.SqlVal) error {
	if err := checkShape(table, cols, vals); err != nil {
		return err
	}
	if len(cols) == 0 {
		stmt, returning := e.d.InsertReturningPKSQL(table, nil, "")
		if returning {
			stmt = stmt[:strings.LastIndex(stmt, " RETURNING ")]
		}
		_, err := e.exec(ctx, stmt, nil)
		return err
	}
	b := sqlgen.New(e.d)
	b.Raw("INSERT INTO ").Ident(table).Raw(" (").Idents(cols...).Raw(") VALUES (").Args(vals...).CloseParen()
	st := b.Build()
	_, err := e.exec(ctx, st.SQL, st.DriverArgs())
	return err
}

func (e *executor) InsertReturningPK(ctx context.Context, table, pkcol string, pkType sqlval.SqlType, cols []string, vals []sqlval.SqlVal) (sqlval.SqlVal, error) {
	if err := checkShape(table, cols, vals); err != nil {
		return sqlval.Null, err
	}
	stmt, returning := e.d.InsertReturningPKSQL(table, cols, pkcol)
	args := driverArgs(vals)

	if returning {
		st := sqlgen.Statement{SQL: stmt, Args: vals}
		rows, err := e.queryRows(ctx, st, []query.Field{{Name: pkcol, Type: pkType}})
		if err != nil {
			return sqlval.Null, err
		}
		if len(rows) != 1 {
			return sqlval.Null, alerr.Bounds(1, len(rows)).WithTable(table)
		}
		return rows[0][0], nil
	}

	res, err := e.exec(ctx, stmt, args)
	if err != nil {
		return sqlval.Null, err
	}
	// An explicit key is returned as given; LastInsertId only covers generated ones.
	for i, c := range cols {
		if c == pkcol {
			return vals[i], nil
		}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return sqlval.Null, alerr.WrapSQL(err, "read last insert id", stmt).WithTable(table)
	}
	return sqlval.FromDriver(id, pkType)
}

func (e *executor) InsertOrReplace(ctx context.Context, table, pkcol string, cols []string, vals []sqlval.SqlVal) error {
	if err := checkShape(table, cols, vals); err != nil {
		return err
	}
	stmt := e.d.UpsertSQL(table, cols, pkcol)
	_, err := e.exec(ctx, stmt, driverArgs(vals))
	return err
}

func (e *executor) Update(ctx context.Context, table, pkcol string, pk sqlval.SqlVal, cols []string, vals []sqlval.SqlVal) error {
	if len(cols) == 0 {
		return nil
	}
	st, err := query.UpdateSQL(e.d, table, pkcol, pk, cols, vals)
	if err != nil {
		return err
	}
	e.compiled("update")
	_, err = e.exec(ctx, st.SQL, st.DriverArgs())
	return err
}

func (e *executor) Delete(ctx context.Context, table, pkcol string, pk sqlval.SqlVal) error {
	_, err := e.DeleteWhere(ctx, table, query.Eq(pkcol, query.Val(pk)))
	return err
}

func (e *executor) DeleteWhere(ctx context.Context, table string, where query.BoolExpr) (int64, error) {
	st, err := query.DeleteSQL(e.d, table, where)
	if err != nil {
		return 0, err
	}
	e.compiled("delete")
	res, err := e.exec(ctx, st.SQL, st.DriverArgs())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, alerr.WrapSQL(err, "read affected rows", st.SQL)
	}
	return n, nil
}

var (
	_ Methods = (*Conn)(nil)
	_ Methods = (*Tx)(nil)
)

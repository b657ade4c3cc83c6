package dialect

import (
	"log/slog"
	"strconv"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// sqlite implements the Dialect interface for SQLite.
type sqlite struct{}

// SQLite returns the SQLite dialect implementation.
func SQLite() Dialect {
	return &sqlite{}
}

func (d *sqlite) Name() string {
	return "sqlite"
}

// sqliteCompat renders SQLite SQL under another backend name, so the backend
// keeps migration scripts of its own.
type sqliteCompat struct {
	*sqlite
	name string
}

func (d *sqliteCompat) Name() string { return d.name }

// LibSQL returns the dialect of libSQL, local files or a sqld server.
func LibSQL() Dialect {
	return &sqliteCompat{sqlite: &sqlite{}, name: "libsql"}
}

// Turso returns the dialect of Turso databases.
func Turso() Dialect {
	return &sqliteCompat{sqlite: &sqlite{}, name: "turso"}
}

// IsSQLite reports whether d speaks the SQLite dialect.
func IsSQLite(d Dialect) bool {
	switch d.(type) {
	case *sqlite, *sqliteCompat:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Identifiers and types
// SQLite has dynamic typing with type affinities: TEXT, INTEGER, REAL, BLOB.
// -----------------------------------------------------------------------------

func (d *sqlite) QuoteIdent(name string) string {
	return quoteWith(name, `"`)
}

func (d *sqlite) Placeholder(index int) string {
	return "?"
}

func (d *sqlite) Literal(v sqlval.SqlVal) (string, error) {
	return sqlval.Literal(v, sqlval.LiteralStyle{NumericBool: true})
}

func (d *sqlite) ColumnType(col *ast.Column) (string, error) {
	id, err := col.TypeID()
	if err != nil {
		return "", err
	}
	if id.IsNamed() {
		return id.Name, nil
	}
	switch id.Ty {
	case sqlval.Bool, sqlval.Int, sqlval.BigInt:
		// An INTEGER PRIMARY KEY column is an alias for the rowid.
		return "INTEGER", nil
	case sqlval.Real:
		return "REAL", nil
	case sqlval.Text, sqlval.Timestamp, sqlval.Json:
		return "TEXT", nil
	case sqlval.Blob:
		return "BLOB", nil
	}
	return "", alerr.Newf(alerr.ErrUnsupportedSQLType, "unsupported type %s", id.Ty).WithBackend("sqlite")
}

// autoSQL: auto-increment is only available on the rowid alias, which needs
// no clause at all.
func (d *sqlite) autoSQL(col *ast.Column) (string, error) {
	if !col.PK {
		return "", alerr.New(alerr.ErrInvalidAuto, "sqlite supports auto-increment only on the primary key").
			WithColumn(col.Name).WithBackend("sqlite")
	}
	return "", nil
}

func (d *sqlite) columnConfig() columnDefConfig {
	return columnDefConfig{
		Quote:   d.QuoteIdent,
		TypeSQL: d.ColumnType,
		Literal: d.Literal,
		AutoSQL: d.autoSQL,
	}
}

// -----------------------------------------------------------------------------
// Migrations
// -----------------------------------------------------------------------------

func (d *sqlite) HasTableSQL() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?"
}

func (d *sqlite) CreateMigrationSQL(current *ast.ADB, ops []ast.Operation) (string, error) {
	return buildMigration(d, current, ops)
}

func (d *sqlite) renderOp(s *script, work *ast.ADB, op ast.Operation) error {
	switch o := op.(type) {
	case *ast.AddTable:
		stmt, err := d.createTable(o.Def, false)
		s.add(stmt)
		return err
	case *ast.AddTableIfNotExists:
		stmt, err := d.createTable(o.Def, true)
		s.add(stmt)
		return err
	case *ast.RemoveTable:
		s.add(dropTableSQL(o.Name, d.QuoteIdent))
		return nil
	case *ast.AddColumn:
		return d.addColumn(s, work, o)
	case *ast.RemoveColumn:
		old := work.Table(o.TableName)
		if old == nil || old.Column(o.Name) == nil {
			slog.Warn("cannot remove column that does not exist", "table", o.TableName, "column", o.Name)
			return nil
		}
		next := old.Clone()
		next.RemoveColumn(o.Name)
		return d.rebuild(s, old, next, nil)
	case *ast.ChangeColumn:
		old := work.Table(o.TableName)
		if old == nil {
			slog.Warn("cannot alter column of a table that does not exist", "table", o.TableName, "column", o.New.Name)
			return nil
		}
		next := old.Clone()
		next.ReplaceColumn(o.New)
		return d.rebuild(s, old, next, nil)
	}
	return alerr.Newf(alerr.ErrInternal, "unknown operation %s", op.Type())
}

func (d *sqlite) createTable(t *ast.Table, ifNotExists bool) (string, error) {
	var constraints []string
	for i := range t.Columns {
		if col := &t.Columns[i]; col.Reference != nil {
			constraints = append(constraints, foreignKeyClause(col, d.QuoteIdent))
		}
	}
	return createTableSQL(t, ifNotExists, d.QuoteIdent, d.columnConfig(), constraints)
}

// addColumn uses ALTER TABLE ADD COLUMN, which SQLite allows only for plain
// columns. Key and referencing columns go through a rebuild, and so do filled
// columns, since SQLite cannot tighten a column to NOT NULL afterwards.
func (d *sqlite) addColumn(s *script, work *ast.ADB, op *ast.AddColumn) error {
	col := op.Column
	if col.PK || col.Unique || col.Reference != nil || needsFill(&col, op.Fill) {
		old := work.Table(op.TableName)
		if old == nil {
			return alerr.Newf(alerr.ErrSchemaNotFound, "table %q does not exist", op.TableName)
		}
		next := old.Clone()
		next.AddColumn(col)
		var fills map[string]sqlval.SqlVal
		if op.Fill != nil {
			fills = map[string]sqlval.SqlVal{col.Name: *op.Fill}
		}
		return d.rebuild(s, old, next, fills)
	}
	stmts, err := addColumnSQL(op.TableName, &col, op.Fill, d.columnConfig(), nil)
	if err != nil {
		return err
	}
	s.add(stmts...)
	return nil
}

// rebuild replaces old with next through a shadow table, which is how SQLite
// changes anything ALTER TABLE cannot:
//
//	CREATE TABLE t__lode_tmp (...)
//	INSERT INTO t__lode_tmp SELECT cols FROM t
//	DROP TABLE t
//	ALTER TABLE t__lode_tmp RENAME TO t
//
// The migration runs in one transaction, so the rebuild is atomic. Dropping a
// table that other rows reference only works with foreign keys off, which is
// what ForeignKeyGuard is for.
func (d *sqlite) rebuild(s *script, old, next *ast.Table, fills map[string]sqlval.SqlVal) error {
	tmp := next.Clone()
	tmp.Name = tmpTableName(next.Name)

	create, err := d.createTable(tmp, false)
	if err != nil {
		return err
	}
	cols, err := copySelectList(old, next, fills, d.QuoteIdent, d.Literal)
	if err != nil {
		return err
	}
	s.add(
		create,
		"INSERT INTO "+d.QuoteIdent(tmp.Name)+" SELECT "+cols+" FROM "+d.QuoteIdent(old.Name),
		dropTableSQL(old.Name, d.QuoteIdent),
		renameTableSQL(tmp.Name, next.Name, d.QuoteIdent),
	)
	return nil
}

// SQLite ignores PRAGMA foreign_keys inside a transaction, so the runner
// toggles it on the connection around the migration and checks the result
// with foreign_key_check before committing.

func (d *sqlite) DisableForeignKeysSQL() string { return "PRAGMA foreign_keys = OFF" }
func (d *sqlite) EnableForeignKeysSQL() string  { return "PRAGMA foreign_keys = ON" }
func (d *sqlite) ForeignKeyCheckSQL() string    { return "PRAGMA foreign_key_check" }

// -----------------------------------------------------------------------------
// DML
// -----------------------------------------------------------------------------

func (d *sqlite) UpsertSQL(table string, cols []string, pk string) string {
	return onConflictUpsertSQL(table, cols, pk, d.QuoteIdent, d.Placeholder)
}

func (d *sqlite) InsertReturningPKSQL(table string, cols []string, pk string) (string, bool) {
	return insertSQL(table, cols, d.QuoteIdent, d.Placeholder, "DEFAULT VALUES") + " RETURNING " + d.QuoteIdent(pk), true
}

func (d *sqlite) SupportsReturning() bool {
	return true
}

// LimitOffset: SQLite needs a LIMIT before OFFSET; -1 means no limit.
func (d *sqlite) LimitOffset(limit, offset int) string {
	switch {
	case limit >= 0 && offset >= 0:
		return " LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset)
	case limit >= 0:
		return " LIMIT " + strconv.Itoa(limit)
	case offset >= 0:
		return " LIMIT -1 OFFSET " + strconv.Itoa(offset)
	}
	return ""
}

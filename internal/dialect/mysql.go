package dialect

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// mysql implements the Dialect interface for MySQL and MariaDB.
type mysql struct{}

// MySQL returns the MySQL dialect implementation.
func MySQL() Dialect {
	return &mysql{}
}

func (d *mysql) Name() string {
	return "mysql"
}

// mysqlMaxLimit stands in for "no limit" when only an OFFSET is wanted.
const mysqlMaxLimit = "18446744073709551615"

// -----------------------------------------------------------------------------
// Identifiers and types
// -----------------------------------------------------------------------------

func (d *mysql) QuoteIdent(name string) string {
	return quoteWith(name, "`")
}

func (d *mysql) Placeholder(index int) string {
	return "?"
}

// MySQL treats backslash as an escape character inside string literals.
var mysqlLiteralStyle = sqlval.LiteralStyle{
	QuoteText: func(s string) string {
		s = strings.ReplaceAll(s, `\`, `\\`)
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	},
}

func (d *mysql) Literal(v sqlval.SqlVal) (string, error) {
	return sqlval.Literal(v, mysqlLiteralStyle)
}

// ColumnType maps types for MySQL. TEXT and BLOB columns cannot be indexed
// without a key length, so key, unique and referencing columns use VARCHAR
// and VARBINARY instead.
func (d *mysql) ColumnType(col *ast.Column) (string, error) {
	id, err := col.TypeID()
	if err != nil {
		return "", err
	}
	if col.Auto && (id.IsNamed() || !id.Ty.IsInteger()) {
		return "", alerr.Newf(alerr.ErrInvalidAuto, "auto-increment needs int or bigint, got %s", id).
			WithColumn(col.Name).WithBackend("mysql")
	}
	if id.IsNamed() {
		return id.Name, nil
	}
	indexed := col.PK || col.Unique || col.Reference != nil
	switch id.Ty {
	case sqlval.Bool:
		return "BOOLEAN", nil
	case sqlval.Int:
		return "INT", nil
	case sqlval.BigInt:
		return "BIGINT", nil
	case sqlval.Real:
		return "DOUBLE", nil
	case sqlval.Text:
		if indexed {
			return "VARCHAR(255)", nil
		}
		return "TEXT", nil
	case sqlval.Blob:
		if indexed {
			return "VARBINARY(255)", nil
		}
		return "BLOB", nil
	case sqlval.Timestamp:
		return "DATETIME(6)", nil
	case sqlval.Json:
		return "JSON", nil
	}
	return "", alerr.Newf(alerr.ErrUnsupportedSQLType, "unsupported type %s", id.Ty).WithBackend("mysql")
}

func (d *mysql) autoSQL(*ast.Column) (string, error) {
	return "AUTO_INCREMENT", nil
}

func (d *mysql) columnConfig() columnDefConfig {
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

func (d *mysql) HasTableSQL() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
}

// CreateMigrationSQL renders ops for MySQL. MySQL commits DDL implicitly, so
// a migration that fails halfway leaves the statements before the failure in
// place; only the bookkeeping row is rolled back.
func (d *mysql) CreateMigrationSQL(current *ast.ADB, ops []ast.Operation) (string, error) {
	r := &mysqlRenderer{d: d}
	if current != nil {
		r.removed = removedTables(current, ops)
	}
	return buildMigration(r, current, ops)
}

type mysqlRenderer struct {
	d           *mysql
	removed     []*ast.Table
	droppedRefs bool
}

func (r *mysqlRenderer) renderOp(s *script, work *ast.ADB, op ast.Operation) error {
	d := r.d
	switch o := op.(type) {
	case *ast.AddTable:
		return d.createTable(s, o.Def, false)
	case *ast.AddTableIfNotExists:
		return d.createTable(s, o.Def, true)
	case *ast.RemoveTable:
		if !r.droppedRefs {
			r.droppedRefs = true
			for _, t := range r.removed {
				for i := range t.Columns {
					if t.Columns[i].Reference != nil {
						s.add(d.dropForeignKey(t.Name, t.Columns[i].Name))
					}
				}
			}
		}
		s.add(dropTableSQL(o.Name, d.QuoteIdent))
		return nil
	case *ast.AddColumn:
		stmts, err := addColumnSQL(o.TableName, &o.Column, o.Fill, d.columnConfig(), func(col *ast.Column) (string, error) {
			cfg := d.columnConfig()
			cfg.OmitKeys = true
			def, err := columnDefSQL(col, cfg)
			return "ALTER TABLE " + d.QuoteIdent(o.TableName) + " MODIFY COLUMN " + def, err
		})
		if err != nil {
			return err
		}
		s.add(stmts...)
		if o.Column.Reference != nil {
			s.addLast(d.addForeignKey(o.TableName, &o.Column))
		}
		return nil
	case *ast.RemoveColumn:
		if t := work.Table(o.TableName); t != nil {
			if col := t.Column(o.Name); col != nil && col.Reference != nil {
				s.add(d.dropForeignKey(o.TableName, o.Name))
			}
		}
		s.add(dropColumnSQL(o.TableName, o.Name, d.QuoteIdent))
		return nil
	case *ast.ChangeColumn:
		if work.Table(o.TableName) == nil {
			slog.Warn("cannot alter column of a table that does not exist", "table", o.TableName, "column", o.New.Name)
			return nil
		}
		return d.changeColumn(s, o.TableName, &o.Old, &o.New)
	}
	return alerr.Newf(alerr.ErrInternal, "unknown operation %s", op.Type())
}

func (d *mysql) createTable(s *script, t *ast.Table, ifNotExists bool) error {
	stmt, err := createTableSQL(t, ifNotExists, d.QuoteIdent, d.columnConfig(), nil)
	if err != nil {
		return err
	}
	s.add(stmt)
	for i := range t.Columns {
		if t.Columns[i].Reference != nil {
			s.addLast(d.addForeignKey(t.Name, &t.Columns[i]))
		}
	}
	return nil
}

func (d *mysql) addForeignKey(table string, col *ast.Column) string {
	return "ALTER TABLE " + d.QuoteIdent(table) + " ADD CONSTRAINT " +
		d.QuoteIdent(fkConstraintName(table, col.Name)) + " " + foreignKeyClause(col, d.QuoteIdent)
}

func (d *mysql) dropForeignKey(table, column string) string {
	return "ALTER TABLE " + d.QuoteIdent(table) + " DROP FOREIGN KEY " +
		d.QuoteIdent(fkConstraintName(table, column))
}

// changeColumn alters in place: MODIFY COLUMN carries type, nullability,
// default and auto-increment; keys and references are separate statements.
func (d *mysql) changeColumn(s *script, table string, old, next *ast.Column) error {
	qt := d.QuoteIdent(table)

	if old.Reference != nil && !referencesEqual(old.Reference, next.Reference) {
		s.add(d.dropForeignKey(table, old.Name))
	}

	cfg := d.columnConfig()
	cfg.OmitKeys = true
	def, err := columnDefSQL(next, cfg)
	if err != nil {
		return err
	}
	s.add("ALTER TABLE " + qt + " MODIFY COLUMN " + def)

	if next.PK && !old.PK {
		s.add("ALTER TABLE "+qt+" DROP PRIMARY KEY",
			"ALTER TABLE "+qt+" ADD PRIMARY KEY ("+d.QuoteIdent(next.Name)+")")
	}
	if old.Unique != next.Unique && !next.PK {
		if next.Unique {
			s.add("ALTER TABLE " + qt + " ADD UNIQUE (" + d.QuoteIdent(next.Name) + ")")
		} else {
			s.add("ALTER TABLE " + qt + " DROP INDEX " + d.QuoteIdent(old.Name))
		}
	}
	if next.Reference != nil && !referencesEqual(old.Reference, next.Reference) {
		s.addLast(d.addForeignKey(table, next))
	}
	return nil
}

// -----------------------------------------------------------------------------
// DML
// -----------------------------------------------------------------------------

// UpsertSQL uses ON DUPLICATE KEY UPDATE. With the key as the only column the
// update is a no-op assignment.
func (d *mysql) UpsertSQL(table string, cols []string, pk string) string {
	var b strings.Builder
	b.WriteString(insertSQL(table, cols, d.QuoteIdent, d.Placeholder, "() VALUES ()"))
	b.WriteString(" ON DUPLICATE KEY UPDATE ")
	first := true
	for _, c := range cols {
		if c == pk {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		q := d.QuoteIdent(c)
		b.WriteString(q + " = VALUES(" + q + ")")
	}
	if first {
		q := d.QuoteIdent(pk)
		b.WriteString(q + " = " + q)
	}
	return b.String()
}

func (d *mysql) InsertReturningPKSQL(table string, cols []string, pk string) (string, bool) {
	return insertSQL(table, cols, d.QuoteIdent, d.Placeholder, "() VALUES ()"), false
}

func (d *mysql) SupportsReturning() bool {
	return false
}

func (d *mysql) LimitOffset(limit, offset int) string {
	switch {
	case limit >= 0 && offset >= 0:
		return " LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset)
	case limit >= 0:
		return " LIMIT " + strconv.Itoa(limit)
	case offset >= 0:
		return " LIMIT " + mysqlMaxLimit + " OFFSET " + strconv.Itoa(offset)
	}
	return ""
}

package dialect

import (
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// postgres implements the Dialect interface for PostgreSQL.
type postgres struct{}

// Postgres returns the PostgreSQL dialect implementation.
func Postgres() Dialect {
	return &postgres{}
}

func (d *postgres) Name() string {
	return "pg"
}

// -----------------------------------------------------------------------------
// Identifiers and types
// -----------------------------------------------------------------------------

// QuoteIdent also quotes names with upper case letters, which PostgreSQL
// would otherwise fold, so the stored name is the declared one.
func (d *postgres) QuoteIdent(name string) string {
	if !NeedsQuote(name) && strings.ToLower(name) == name {
		return name
	}
	return pq.QuoteIdentifier(name)
}

func (d *postgres) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

var pgLiteralStyle = sqlval.LiteralStyle{
	QuoteText: pq.QuoteLiteral,
	BlobLiteral: func(b []byte) string {
		return `'\x` + hex.EncodeToString(b) + `'::bytea`
	},
}

func (d *postgres) Literal(v sqlval.SqlVal) (string, error) {
	return sqlval.Literal(v, pgLiteralStyle)
}

func (d *postgres) ColumnType(col *ast.Column) (string, error) {
	id, err := col.TypeID()
	if err != nil {
		return "", err
	}
	if col.Auto {
		if !id.IsNamed() {
			switch id.Ty {
			case sqlval.Int:
				return "SERIAL", nil
			case sqlval.BigInt:
				return "BIGSERIAL", nil
			}
		}
		return "", alerr.Newf(alerr.ErrInvalidAuto, "auto-increment needs int or bigint, got %s", id).
			WithColumn(col.Name).WithBackend("pg")
	}
	if id.IsNamed() {
		return id.Name, nil
	}
	switch id.Ty {
	case sqlval.Bool:
		return "BOOLEAN", nil
	case sqlval.Int:
		return "INTEGER", nil
	case sqlval.BigInt:
		return "BIGINT", nil
	case sqlval.Real:
		return "DOUBLE PRECISION", nil
	case sqlval.Text:
		return "TEXT", nil
	case sqlval.Blob:
		return "BYTEA", nil
	case sqlval.Timestamp:
		return "TIMESTAMP", nil
	case sqlval.Json:
		return "JSONB", nil
	}
	return "", alerr.Newf(alerr.ErrUnsupportedSQLType, "unsupported type %s", id.Ty).WithBackend("pg")
}

// plainType is the column type without SERIAL, used by ALTER COLUMN ... TYPE.
func (d *postgres) plainType(col *ast.Column) (string, error) {
	c := col.Clone()
	c.Auto = false
	return d.ColumnType(&c)
}

func (d *postgres) columnConfig() columnDefConfig {
	return columnDefConfig{
		Quote:   d.QuoteIdent,
		TypeSQL: d.ColumnType,
		Literal: d.Literal,
	}
}

// -----------------------------------------------------------------------------
// Migrations
// -----------------------------------------------------------------------------

func (d *postgres) HasTableSQL() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
}

func (d *postgres) CreateMigrationSQL(current *ast.ADB, ops []ast.Operation) (string, error) {
	r := &pgRenderer{d: d}
	if current != nil {
		r.removed = removedTables(current, ops)
	}
	return buildMigration(r, current, ops)
}

// pgRenderer carries per-migration state: the tables the migration drops,
// whose outgoing foreign keys are dropped before any table is.
type pgRenderer struct {
	d           *postgres
	removed     []*ast.Table
	droppedRefs bool
}

func (r *pgRenderer) renderOp(s *script, work *ast.ADB, op ast.Operation) error {
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
			return "ALTER TABLE " + d.QuoteIdent(o.TableName) + " ALTER COLUMN " + d.QuoteIdent(col.Name) + " SET NOT NULL", nil
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
		s.add(dropColumnSQL(o.TableName, o.Name, d.QuoteIdent))
		return nil
	case *ast.ChangeColumn:
		old := work.Table(o.TableName)
		if old == nil {
			slog.Warn("cannot alter column of a table that does not exist", "table", o.TableName, "column", o.New.Name)
			return nil
		}
		if o.Old.PK != o.New.PK || o.Old.Auto != o.New.Auto {
			next := old.Clone()
			next.ReplaceColumn(o.New)
			return d.rebuild(s, old, next, inboundRefs(work, o.TableName, r.removed))
		}
		if err := d.alterColumn(s, o.TableName, &o.Old, &o.New); err != nil {
			return err
		}
		d.alterUnique(s, o.TableName, &o.Old, &o.New)
		return nil
	}
	return alerr.Newf(alerr.ErrInternal, "unknown operation %s", op.Type())
}

// createTable emits CREATE TABLE now and the table's foreign keys after every
// table of the migration exists.
func (d *postgres) createTable(s *script, t *ast.Table, ifNotExists bool) error {
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

func (d *postgres) addForeignKey(table string, col *ast.Column) string {
	return "ALTER TABLE " + d.QuoteIdent(table) + " ADD CONSTRAINT " +
		d.QuoteIdent(fkConstraintName(table, col.Name)) + " " + foreignKeyClause(col, d.QuoteIdent)
}

func (d *postgres) dropForeignKey(table, column string) string {
	return "ALTER TABLE " + d.QuoteIdent(table) + " DROP CONSTRAINT IF EXISTS " +
		d.QuoteIdent(fkConstraintName(table, column))
}

// alterUnique adds or drops a unique constraint under the name PostgreSQL
// gives an inline UNIQUE, so constraints from CREATE TABLE drop the same way.
func (d *postgres) alterUnique(s *script, table string, old, next *ast.Column) {
	if old.Unique == next.Unique || next.PK {
		return
	}
	name := d.QuoteIdent(table + "_" + next.Name + "_key")
	if next.Unique {
		s.add("ALTER TABLE " + d.QuoteIdent(table) + " ADD CONSTRAINT " + name + " UNIQUE (" + d.QuoteIdent(next.Name) + ")")
	} else {
		s.add("ALTER TABLE " + d.QuoteIdent(table) + " DROP CONSTRAINT IF EXISTS " + name)
	}
}

// inboundRef is a foreign key column of another table pointing at a table
// being rebuilt.
type inboundRef struct {
	table string
	col   *ast.Column
}

// inboundRefs lists the foreign keys of work that reference target, skipping
// target itself and the tables the migration removes.
func inboundRefs(work *ast.ADB, target string, removed []*ast.Table) []inboundRef {
	skip := map[string]bool{target: true}
	for _, t := range removed {
		skip[t.Name] = true
	}
	var out []inboundRef
	for _, t := range work.Tables() {
		if skip[t.Name] {
			continue
		}
		for i := range t.Columns {
			if ref := t.Columns[i].Reference; ref != nil && ref.Table == target {
				out = append(out, inboundRef{table: t.Name, col: &t.Columns[i]})
			}
		}
	}
	return out
}

// alterColumn changes type, nullability, default and reference in place.
func (d *postgres) alterColumn(s *script, table string, old, next *ast.Column) error {
	prefix := "ALTER TABLE " + d.QuoteIdent(table) + " ALTER COLUMN " + d.QuoteIdent(next.Name)

	if !old.SqlType.Equal(next.SqlType) {
		typ, err := d.plainType(next)
		if err != nil {
			return err
		}
		s.add(prefix + " TYPE " + typ + " USING " + d.QuoteIdent(next.Name) + "::" + typ)
	}
	if old.Nullable != next.Nullable {
		if next.Nullable {
			s.add(prefix + " DROP NOT NULL")
		} else {
			s.add(prefix + " SET NOT NULL")
		}
	}
	if !defaultsEqual(old.Default, next.Default) {
		if next.Default == nil {
			s.add(prefix + " DROP DEFAULT")
		} else {
			lit, err := d.Literal(*next.Default)
			if err != nil {
				return err
			}
			s.add(prefix + " SET DEFAULT " + lit)
		}
	}
	if !referencesEqual(old.Reference, next.Reference) {
		if old.Reference != nil {
			s.add(d.dropForeignKey(table, old.Name))
		}
		if next.Reference != nil {
			s.addLast(d.addForeignKey(table, next))
		}
	}
	return nil
}

// rebuild recreates a table whose primary key or serial columns change.
// Foreign keys of other tables pointing at it are dropped first and added
// back at the end. The copied rows keep their serial values, so each serial
// sequence is moved past the largest one.
func (d *postgres) rebuild(s *script, old, next *ast.Table, inbound []inboundRef) error {
	tmp := next.Clone()
	tmp.Name = tmpTableName(next.Name)
	for i := range tmp.Columns {
		tmp.Columns[i].Reference = nil
	}

	create, err := createTableSQL(tmp, false, d.QuoteIdent, d.columnConfig(), nil)
	if err != nil {
		return err
	}
	cols, err := copySelectList(old, next, nil, d.QuoteIdent, d.Literal)
	if err != nil {
		return err
	}
	for _, ref := range inbound {
		s.add(d.dropForeignKey(ref.table, ref.col.Name))
	}
	s.add(
		create,
		"INSERT INTO "+d.QuoteIdent(tmp.Name)+" SELECT "+cols+" FROM "+d.QuoteIdent(old.Name),
		dropTableSQL(old.Name, d.QuoteIdent),
		renameTableSQL(tmp.Name, next.Name, d.QuoteIdent),
	)
	for i := range next.Columns {
		col := &next.Columns[i]
		if col.Auto {
			// The table argument is parsed as SQL, the column argument is taken as is.
			s.add("SELECT setval(pg_get_serial_sequence(" + pq.QuoteLiteral(d.QuoteIdent(next.Name)) + ", " +
				pq.QuoteLiteral(col.Name) + "), COALESCE((SELECT MAX(" + d.QuoteIdent(col.Name) + ") FROM " +
				d.QuoteIdent(next.Name) + "), 0) + 1, false)")
		}
		if col.Reference != nil {
			s.addLast(d.addForeignKey(next.Name, col))
		}
	}
	for _, ref := range inbound {
		s.addLast(d.addForeignKey(ref.table, ref.col))
	}
	return nil
}

func defaultsEqual(a, b *sqlval.SqlVal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func referencesEqual(a, b *ast.ForeignKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// -----------------------------------------------------------------------------
// DML
// -----------------------------------------------------------------------------

func (d *postgres) UpsertSQL(table string, cols []string, pk string) string {
	return onConflictUpsertSQL(table, cols, pk, d.QuoteIdent, d.Placeholder)
}

func (d *postgres) InsertReturningPKSQL(table string, cols []string, pk string) (string, bool) {
	return insertSQL(table, cols, d.QuoteIdent, d.Placeholder, "DEFAULT VALUES") + " RETURNING " + d.QuoteIdent(pk), true
}

func (d *postgres) SupportsReturning() bool {
	return true
}

func (d *postgres) LimitOffset(limit, offset int) string {
	var b strings.Builder
	if limit >= 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	if offset >= 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(offset))
	}
	return b.String()
}

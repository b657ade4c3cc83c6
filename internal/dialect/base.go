package dialect

// This file contains the migration walker and the DDL helpers shared by all
// dialect implementations.

import (
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// QuoteIdentFunc is a function that quotes an identifier.
type QuoteIdentFunc func(name string) string

// writeQuotedList writes comma-separated quoted identifiers to the builder.
func writeQuotedList(b *strings.Builder, items []string, quote QuoteIdentFunc) {
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(item))
	}
}

// writePlaceholders writes n comma-separated placeholders starting at index 1.
func writePlaceholders(b *strings.Builder, n int, placeholder func(int) string) {
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder(i))
	}
}

// -----------------------------------------------------------------------------
// Migration walker
// -----------------------------------------------------------------------------

// opRenderer renders a single operation into w. work is the snapshot as it
// stands before op; the walker applies op to it afterwards.
type opRenderer interface {
	renderOp(w *script, work *ast.ADB, op ast.Operation) error
}

// script collects the statements of one migration. Statements added with
// addLast run after all others, which is where foreign keys go on backends
// that add them with ALTER TABLE.
type script struct {
	body []string
	last []string
}

func (s *script) add(stmts ...string)     { s.body = appendNonEmpty(s.body, stmts) }
func (s *script) addLast(stmts ...string) { s.last = appendNonEmpty(s.last, stmts) }

func appendNonEmpty(dst, stmts []string) []string {
	for _, st := range stmts {
		if st = strings.TrimSpace(st); st != "" {
			dst = append(dst, st)
		}
	}
	return dst
}

// String joins every statement, each terminated by ";" on its own line.
func (s *script) String() string {
	all := make([]string, 0, len(s.body)+len(s.last))
	all = append(all, s.body...)
	all = append(all, s.last...)
	if len(all) == 0 {
		return ""
	}
	return strings.Join(all, ";\n") + ";\n"
}

// buildMigration walks ops against a working copy of current.
func buildMigration(r opRenderer, current *ast.ADB, ops []ast.Operation) (string, error) {
	work := ast.NewADB()
	if current != nil {
		work = current.Clone()
	}
	s := &script{}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return "", err
		}
		if err := r.renderOp(s, work, op); err != nil {
			if e, ok := err.(*alerr.Error); ok {
				if _, set := e.GetContext()["table"]; !set {
					e.WithTable(op.Table())
				}
				return "", e.With("operation", op.Type().String())
			}
			return "", err
		}
		work.TransformWith(op)
	}
	return s.String(), nil
}

// removedTables returns the tables of work that ops removes.
func removedTables(work *ast.ADB, ops []ast.Operation) []*ast.Table {
	var out []*ast.Table
	for _, op := range ops {
		if rm, ok := op.(*ast.RemoveTable); ok {
			if t := work.Table(rm.Name); t != nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Column and table definitions
// -----------------------------------------------------------------------------

// columnDefConfig holds the per-dialect callbacks used by columnDefSQL.
type columnDefConfig struct {
	Quote   QuoteIdentFunc
	TypeSQL func(col *ast.Column) (string, error)
	Literal func(v sqlval.SqlVal) (string, error)
	// AutoSQL returns the auto-increment clause, if the dialect needs one.
	AutoSQL func(col *ast.Column) (string, error)
	// OmitKeys leaves PRIMARY KEY and UNIQUE out, for MODIFY-style statements.
	OmitKeys bool
}

// columnDefSQL renders: name type [NOT NULL] [PRIMARY KEY] [auto] [UNIQUE] [DEFAULT lit]
func columnDefSQL(col *ast.Column, cfg columnDefConfig) (string, error) {
	typ, err := cfg.TypeSQL(col)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(cfg.Quote(col.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	if col.PK && !cfg.OmitKeys {
		b.WriteString(" PRIMARY KEY")
	}
	if col.Auto && cfg.AutoSQL != nil {
		clause, err := cfg.AutoSQL(col)
		if err != nil {
			return "", err
		}
		if clause != "" {
			b.WriteString(" ")
			b.WriteString(clause)
		}
	}
	if col.Unique && !col.PK && !cfg.OmitKeys {
		b.WriteString(" UNIQUE")
	}
	if col.Default != nil {
		lit, err := cfg.Literal(*col.Default)
		if err != nil {
			return "", alerr.Wrap(alerr.ErrNoCustomDefault, err, "cannot render column default").WithColumn(col.Name)
		}
		b.WriteString(" DEFAULT ")
		b.WriteString(lit)
	}
	return b.String(), nil
}

// createTableSQL renders CREATE TABLE with one column per line and any
// inline constraints after the columns.
func createTableSQL(t *ast.Table, ifNotExists bool, quote QuoteIdentFunc, cfg columnDefConfig, constraints []string) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(quote(t.Name))
	b.WriteString(" (\n")
	for i := range t.Columns {
		def, err := columnDefSQL(&t.Columns[i], cfg)
		if err != nil {
			return "", alerr.Wrap(alerr.GetErrorCode(err), err, "cannot define column").
				WithTable(t.Name).WithColumn(t.Columns[i].Name)
		}
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  ")
		b.WriteString(def)
	}
	for _, c := range constraints {
		b.WriteString(",\n  ")
		b.WriteString(c)
	}
	b.WriteString("\n)")
	return b.String(), nil
}

// foreignKeyClause renders FOREIGN KEY (col) REFERENCES table (col).
func foreignKeyClause(col *ast.Column, quote QuoteIdentFunc) string {
	return "FOREIGN KEY (" + quote(col.Name) + ") REFERENCES " +
		quote(col.Reference.Table) + " (" + quote(col.Reference.Column) + ")"
}

// fkConstraintName is the name given to every foreign key constraint.
func fkConstraintName(table, column string) string {
	return table + "_" + column + "_fkey"
}

func dropTableSQL(name string, quote QuoteIdentFunc) string {
	return "DROP TABLE " + quote(name)
}

func dropColumnSQL(table, column string, quote QuoteIdentFunc) string {
	return "ALTER TABLE " + quote(table) + " DROP COLUMN " + quote(column)
}

func renameTableSQL(from, to string, quote QuoteIdentFunc) string {
	return "ALTER TABLE " + quote(from) + " RENAME TO " + quote(to)
}

// addColumnSQL renders ALTER TABLE ... ADD COLUMN. A NOT NULL column needs a
// default to fill existing rows; auto columns fill themselves. A column that
// is filled instead is added nullable, the rows get fill, and notNull renders
// the statement that tightens it again.
func addColumnSQL(table string, col *ast.Column, fill *sqlval.SqlVal, cfg columnDefConfig, notNull func(col *ast.Column) (string, error)) ([]string, error) {
	if err := requireFillValue(table, col, fill); err != nil {
		return nil, err
	}
	if !needsFill(col, fill) {
		def, err := columnDefSQL(col, cfg)
		if err != nil {
			return nil, err
		}
		return []string{"ALTER TABLE " + cfg.Quote(table) + " ADD COLUMN " + def}, nil
	}

	loose := col.Clone()
	loose.Nullable = true
	def, err := columnDefSQL(&loose, cfg)
	if err != nil {
		return nil, err
	}
	lit, err := cfg.Literal(*fill)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrNoCustomDefault, err, "cannot render fill value").
			WithTable(table).WithColumn(col.Name)
	}
	tighten, err := notNull(col)
	if err != nil {
		return nil, err
	}
	return []string{
		"ALTER TABLE " + cfg.Quote(table) + " ADD COLUMN " + def,
		"UPDATE " + cfg.Quote(table) + " SET " + cfg.Quote(col.Name) + " = " + lit,
		tighten,
	}, nil
}

// needsFill reports whether existing rows take fill rather than a default.
func needsFill(col *ast.Column, fill *sqlval.SqlVal) bool {
	return fill != nil && !col.Nullable && col.Default == nil && !col.Auto
}

func requireFillValue(table string, col *ast.Column, fill *sqlval.SqlVal) error {
	if !col.Nullable && col.Default == nil && !col.Auto && fill == nil {
		return alerr.Migration("cannot add NOT NULL column %q to existing table %q without a default", col.Name, table).
			WithTable(table).WithColumn(col.Name).
			WithHelp("give the column a default or make it nullable")
	}
	return nil
}

// copySelectList lists the columns of to, reading each from from when it
// exists there and otherwise filling it with its default or its entry in
// fills.
func copySelectList(from, to *ast.Table, fills map[string]sqlval.SqlVal, quote QuoteIdentFunc, literal func(sqlval.SqlVal) (string, error)) (string, error) {
	parts := make([]string, len(to.Columns))
	for i := range to.Columns {
		col := &to.Columns[i]
		if from.Column(col.Name) != nil {
			parts[i] = quote(col.Name)
			continue
		}
		val := col.Default
		if val == nil {
			if f, ok := fills[col.Name]; ok {
				val = &f
			}
		}
		if err := requireFillValue(from.Name, col, val); err != nil {
			return "", err
		}
		if val == nil {
			parts[i] = "NULL"
			continue
		}
		lit, err := literal(*val)
		if err != nil {
			return "", err
		}
		parts[i] = lit
	}
	return strings.Join(parts, ", "), nil
}

// tmpTableName is the shadow table used while rebuilding name.
func tmpTableName(name string) string {
	return name + "__lode_tmp"
}

// -----------------------------------------------------------------------------
// DML helpers
// -----------------------------------------------------------------------------

// insertSQL renders INSERT INTO t (cols) VALUES (placeholders).
func insertSQL(table string, cols []string, quote QuoteIdentFunc, placeholder func(int) string, emptyValues string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quote(table))
	if len(cols) == 0 {
		b.WriteString(" ")
		b.WriteString(emptyValues)
		return b.String()
	}
	b.WriteString(" (")
	writeQuotedList(&b, cols, quote)
	b.WriteString(") VALUES (")
	writePlaceholders(&b, len(cols), placeholder)
	b.WriteString(")")
	return b.String()
}

// onConflictUpsertSQL renders the SQLite/PostgreSQL upsert.
func onConflictUpsertSQL(table string, cols []string, pk string, quote QuoteIdentFunc, placeholder func(int) string) string {
	var b strings.Builder
	b.WriteString(insertSQL(table, cols, quote, placeholder, "DEFAULT VALUES"))
	b.WriteString(" ON CONFLICT (")
	b.WriteString(quote(pk))
	b.WriteString(") DO ")

	var rest []string
	for _, c := range cols {
		if c != pk {
			rest = append(rest, c)
		}
	}
	if len(rest) == 0 {
		b.WriteString("NOTHING")
		return b.String()
	}
	b.WriteString("UPDATE SET ")
	for i, c := range rest {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c))
		b.WriteString(" = excluded.")
		b.WriteString(quote(c))
	}
	return b.String()
}

package dialect

import (
	"strings"
	"testing"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/internal/testutil"
)

func allDialects() []Dialect {
	return []Dialect{SQLite(), Postgres(), MySQL()}
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

func TestGet(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"sqlite", "sqlite"},
		{"sqlite3", "sqlite"},
		{"pg", "pg"},
		{"postgres", "pg"},
		{"PostgreSQL", "pg"},
		{"mysql", "mysql"},
		{" mariadb ", "mysql"},
		{"libsql", "libsql"},
		{"Turso", "turso"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Get(tt.name)
			testutil.Must(t, err)
			if d.Name() != tt.want {
				t.Errorf("Get(%q).Name() = %q, want %q", tt.name, d.Name(), tt.want)
			}
		})
	}
}

func TestGetUnknownBackend(t *testing.T) {
	_, err := Get("sqlit")
	testutil.AssertError(t, err, alerr.ErrUnknownBackend)

	e, ok := err.(*alerr.Error)
	if !ok {
		t.Fatalf("expected *alerr.Error, got %T", err)
	}
	if !strings.Contains(strings.Join(e.Helps(), " "), "sqlite") {
		t.Errorf("expected a suggestion for sqlite, got %v", e.Helps())
	}
}

func TestSQLiteCompatBackends(t *testing.T) {
	ops := []ast.Operation{
		&ast.AddTable{Def: testutil.UsersTable()},
		&ast.AddTable{Def: testutil.PostsTable()},
	}
	want, err := SQLite().CreateMigrationSQL(nil, ops)
	testutil.Must(t, err)

	for _, d := range []Dialect{LibSQL(), Turso()} {
		t.Run(d.Name(), func(t *testing.T) {
			if !IsSQLite(d) {
				t.Errorf("%s should use the SQLite dialect", d.Name())
			}
			got, err := d.CreateMigrationSQL(nil, ops)
			testutil.Must(t, err)
			testutil.AssertSQL(t, got, want)
			if _, ok := d.(ForeignKeyGuard); !ok {
				t.Errorf("%s should guard foreign keys like SQLite", d.Name())
			}
		})
	}
	if IsSQLite(Postgres()) {
		t.Error("pg is not SQLite")
	}
}

func TestNames(t *testing.T) {
	got := strings.Join(Names(), ",")
	if got != "libsql,mysql,pg,sqlite,turso" {
		t.Errorf("Names() = %s", got)
	}
}

// -----------------------------------------------------------------------------
// Quoting
// -----------------------------------------------------------------------------

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		name   string
		sqlite string
		pg     string
		mysql  string
	}{
		{"users", "users", "users", "users"},
		{"order", `"order"`, `"order"`, "`order`"},
		{"User", `"User"`, `"User"`, "`User`"},
		{"userId", "userId", `"userId"`, "userId"},
		{"has space", `"has space"`, `"has space"`, "`has space`"},
		{`we"ird`, `"we""ird"`, `"we""ird"`, "`we\"ird`"},
		{"back`tick", "\"back`tick\"", "\"back`tick\"", "`back``tick`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := func(d Dialect, want string) {
				t.Helper()
				if got := d.QuoteIdent(tt.name); got != want {
					t.Errorf("%s QuoteIdent(%q) = %s, want %s", d.Name(), tt.name, got, want)
				}
			}
			check(SQLite(), tt.sqlite)
			check(Postgres(), tt.pg)
			check(MySQL(), tt.mysql)
		})
	}
}

func TestNeedsQuote(t *testing.T) {
	if NeedsQuote("title") {
		t.Error("plain identifiers need no quoting")
	}
	for _, name := range []string{"select", "KEY", "desc", "1abc", "a-b"} {
		if !NeedsQuote(name) {
			t.Errorf("NeedsQuote(%q) = false", name)
		}
	}
}

func TestReservedColumnQuotedEverywhere(t *testing.T) {
	tbl := ast.NewTable("t", testutil.PK("id"), testutil.Col("order", sqlval.Int))
	for _, d := range allDialects() {
		t.Run(d.Name(), func(t *testing.T) {
			q := d.QuoteIdent("order")

			ddl, err := d.CreateMigrationSQL(nil, []ast.Operation{&ast.AddTable{Def: tbl}})
			testutil.Must(t, err)
			typ := nativeType(t, d, sqlval.Int)
			testutil.AssertSQLContains(t, ddl, q+" "+typ+" NOT NULL")

			upsert := d.UpsertSQL("t", []string{"id", "order"}, "id")
			testutil.AssertSQLContains(t, upsert, "("+d.QuoteIdent("id")+", "+q+")")
		})
	}
}

// nativeType returns the native name of a plain column of type ty.
func nativeType(t *testing.T, d Dialect, ty sqlval.SqlType) string {
	t.Helper()
	col := testutil.Col("x", ty)
	native, err := d.ColumnType(&col)
	return testutil.MustValue(t, native, err)
}

// -----------------------------------------------------------------------------
// Migrations (shared behavior)
// -----------------------------------------------------------------------------

func TestCreateMigrationSQLEmpty(t *testing.T) {
	for _, d := range allDialects() {
		got, err := d.CreateMigrationSQL(testutil.BlogSchema(), nil)
		testutil.Must(t, err)
		if got != "" {
			t.Errorf("%s: empty ops rendered %q", d.Name(), got)
		}
	}
}

func TestCreateMigrationSQLDoesNotMutateCurrent(t *testing.T) {
	for _, d := range allDialects() {
		current := testutil.BlogSchema()
		ops := []ast.Operation{
			&ast.RemoveColumn{TableName: "users", Name: "email"},
			&ast.RemoveTable{Name: "posts"},
		}
		_, err := d.CreateMigrationSQL(current, ops)
		testutil.Must(t, err)

		if current.Table("posts") == nil || current.Table("users").Column("email") == nil {
			t.Errorf("%s: CreateMigrationSQL modified its input snapshot", d.Name())
		}
	}
}

func TestNotNullColumnWithoutDefault(t *testing.T) {
	op := &ast.AddColumn{TableName: "users", Column: testutil.Col("age", sqlval.Int)}
	for _, d := range allDialects() {
		t.Run(d.Name(), func(t *testing.T) {
			_, err := d.CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{op})
			testutil.AssertError(t, err, alerr.ErrMigration)
			testutil.AssertErrorContains(t, err, "age")
		})
	}
}

func TestNotNullColumnFilled(t *testing.T) {
	fill := sqlval.NewText("")
	op := &ast.AddColumn{TableName: "users", Column: testutil.Col("nick", sqlval.Text), Fill: &fill}
	for _, d := range allDialects() {
		t.Run(d.Name(), func(t *testing.T) {
			got, err := d.CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{op})
			testutil.Must(t, err)
			testutil.AssertSQLContains(t, got, "''")
			testutil.AssertSQLNotContains(t, got, "DEFAULT")
		})
	}
}

func TestNotNullColumnWithDefault(t *testing.T) {
	op := &ast.AddColumn{TableName: "users", Column: testutil.DefaultCol("age", sqlval.Int, sqlval.NewInt(18))}
	for _, d := range allDialects() {
		got, err := d.CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{op})
		testutil.Must(t, err)
		testutil.AssertSQLContains(t, got, "DEFAULT 18")
	}
}

func TestInvalidOperationRejected(t *testing.T) {
	bad := &ast.AddTable{Def: ast.NewTable("t", testutil.Col("x", sqlval.Int))}
	for _, d := range allDialects() {
		_, err := d.CreateMigrationSQL(nil, []ast.Operation{bad})
		testutil.AssertError(t, err, alerr.ErrSchemaInvalid)
	}
}

func TestUnresolvedColumnType(t *testing.T) {
	col := ast.NewColumn("owner", ast.Deferred(ast.PKKey("users")))
	tbl := ast.NewTable("t", testutil.PK("id"), col)
	for _, d := range allDialects() {
		_, err := d.CreateMigrationSQL(nil, []ast.Operation{&ast.AddTable{Def: tbl}})
		testutil.AssertError(t, err, alerr.ErrCannotResolveType)
	}
}

func TestNamedTypeRenderedVerbatim(t *testing.T) {
	col := ast.NewColumn("amount", ast.Known(ast.Named("NUMERIC(12,2)")))
	tbl := ast.NewTable("t", testutil.PK("id"), col)
	for _, d := range allDialects() {
		got, err := d.CreateMigrationSQL(nil, []ast.Operation{&ast.AddTable{Def: tbl}})
		testutil.Must(t, err)
		testutil.AssertSQLContains(t, got, "amount NUMERIC(12,2) NOT NULL")
	}
}

func TestScriptTerminators(t *testing.T) {
	got, err := SQLite().CreateMigrationSQL(nil, []ast.Operation{
		&ast.AddTable{Def: testutil.UsersTable()},
	})
	testutil.Must(t, err)
	if !strings.HasSuffix(got, ");\n") {
		t.Errorf("script should end with \";\\n\": %q", got)
	}
	if n := len(testutil.Statements(got)); n != 1 {
		t.Errorf("expected 1 statement, got %d", n)
	}
}

// -----------------------------------------------------------------------------
// LimitOffset
// -----------------------------------------------------------------------------

func TestLimitOffset(t *testing.T) {
	tests := []struct {
		limit, offset int
		sqlite        string
		pg            string
		mysql         string
	}{
		{-1, -1, "", "", ""},
		{10, -1, " LIMIT 10", " LIMIT 10", " LIMIT 10"},
		{10, 5, " LIMIT 10 OFFSET 5", " LIMIT 10 OFFSET 5", " LIMIT 10 OFFSET 5"},
		{-1, 5, " LIMIT -1 OFFSET 5", " OFFSET 5", " LIMIT 18446744073709551615 OFFSET 5"},
	}
	for _, tt := range tests {
		if got := SQLite().LimitOffset(tt.limit, tt.offset); got != tt.sqlite {
			t.Errorf("sqlite LimitOffset(%d, %d) = %q", tt.limit, tt.offset, got)
		}
		if got := Postgres().LimitOffset(tt.limit, tt.offset); got != tt.pg {
			t.Errorf("pg LimitOffset(%d, %d) = %q", tt.limit, tt.offset, got)
		}
		if got := MySQL().LimitOffset(tt.limit, tt.offset); got != tt.mysql {
			t.Errorf("mysql LimitOffset(%d, %d) = %q", tt.limit, tt.offset, got)
		}
	}
}

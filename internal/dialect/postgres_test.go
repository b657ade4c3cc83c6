package dialect

import (
	"strings"
	"testing"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/internal/testutil"
)

func TestPostgresTypeMappings(t *testing.T) {
	tests := []struct {
		ty   sqlval.SqlType
		want string
	}{
		{sqlval.Bool, "BOOLEAN"},
		{sqlval.Int, "INTEGER"},
		{sqlval.BigInt, "BIGINT"},
		{sqlval.Real, "DOUBLE PRECISION"},
		{sqlval.Text, "TEXT"},
		{sqlval.Blob, "BYTEA"},
		{sqlval.Timestamp, "TIMESTAMP"},
		{sqlval.Json, "JSONB"},
	}
	for _, tt := range tests {
		if got := nativeType(t, Postgres(), tt.ty); got != tt.want {
			t.Errorf("ColumnType(%s) = %q, want %q", tt.ty, got, tt.want)
		}
	}
}

func TestPostgresSerial(t *testing.T) {
	d := Postgres()

	id := testutil.PK("id")
	bigTy, bigErr := d.ColumnType(&id)
	if got := testutil.MustValue(t, bigTy, bigErr); got != "BIGSERIAL" {
		t.Errorf("auto bigint = %q, want BIGSERIAL", got)
	}
	id.SqlType = ast.KnownType(sqlval.Int)
	intTy, intErr := d.ColumnType(&id)
	if got := testutil.MustValue(t, intTy, intErr); got != "SERIAL" {
		t.Errorf("auto int = %q, want SERIAL", got)
	}
	id.SqlType = ast.KnownType(sqlval.Text)
	_, err := d.ColumnType(&id)
	testutil.AssertError(t, err, alerr.ErrInvalidAuto)
}

func TestPostgresLiterals(t *testing.T) {
	d := Postgres()
	tests := []struct {
		v    sqlval.SqlVal
		want string
	}{
		{sqlval.NewBool(true), "TRUE"},
		{sqlval.NewText("it's"), "'it''s'"},
		{sqlval.NewBlob([]byte{0xca, 0xfe}), `'\xcafe'::bytea`},
		{sqlval.NewReal(1.5), "1.5"},
	}
	for _, tt := range tests {
		lit, litErr := d.Literal(tt.v)
		if got := testutil.MustValue(t, lit, litErr); got != tt.want {
			t.Errorf("Literal(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestPostgresPlaceholder(t *testing.T) {
	if got := Postgres().Placeholder(3); got != "$3" {
		t.Errorf("Placeholder(3) = %q", got)
	}
}

func TestPostgresForeignKeysLast(t *testing.T) {
	// posts is created first, so its reference must wait for users.
	got, err := Postgres().CreateMigrationSQL(nil, []ast.Operation{
		&ast.AddTable{Def: testutil.PostsTable()},
		&ast.AddTable{Def: testutil.UsersTable()},
	})
	testutil.Must(t, err)

	stmts := testutil.Statements(got)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d:\n%s", len(stmts), got)
	}
	testutil.AssertSQL(t, stmts[0], `CREATE TABLE posts (
  id BIGSERIAL NOT NULL PRIMARY KEY,
  author BIGINT NOT NULL,
  title TEXT NOT NULL,
  published BOOLEAN NOT NULL DEFAULT FALSE
)`)
	testutil.AssertSQLContains(t, stmts[1], "CREATE TABLE users (")
	testutil.AssertSQL(t, stmts[2],
		"ALTER TABLE posts ADD CONSTRAINT posts_author_fkey FOREIGN KEY (author) REFERENCES users (id)")
}

func TestPostgresRemoveTableDropsForeignKeysFirst(t *testing.T) {
	got, err := Postgres().CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{
		&ast.RemoveTable{Name: "posts"},
		&ast.RemoveTable{Name: "users"},
	})
	testutil.Must(t, err)

	stmts := testutil.Statements(got)
	want := []string{
		"ALTER TABLE posts DROP CONSTRAINT IF EXISTS posts_author_fkey",
		"DROP TABLE posts",
		"DROP TABLE users",
	}
	if strings.Join(stmts, "\n") != strings.Join(want, "\n") {
		t.Errorf("got:\n%s", got)
	}
}

func TestPostgresRemoveColumn(t *testing.T) {
	got, err := Postgres().CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{
		&ast.RemoveColumn{TableName: "users", Name: "email"},
	})
	testutil.Must(t, err)
	testutil.AssertSQL(t, got, "ALTER TABLE users DROP COLUMN email;")
}

func TestPostgresAlterInPlace(t *testing.T) {
	old := *testutil.PostsTable().Column("title")
	next := old.Clone()
	next.SqlType = ast.KnownType(sqlval.Json)
	next.Nullable = true
	def := sqlval.NewText("{}")
	next.Default = &def

	got, err := Postgres().CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{
		&ast.ChangeColumn{TableName: "posts", Old: old, New: next},
	})
	testutil.Must(t, err)

	stmts := testutil.Statements(got)
	want := []string{
		"ALTER TABLE posts ALTER COLUMN title TYPE JSONB USING title::JSONB",
		"ALTER TABLE posts ALTER COLUMN title DROP NOT NULL",
		"ALTER TABLE posts ALTER COLUMN title SET DEFAULT '{}'",
	}
	if strings.Join(stmts, "\n") != strings.Join(want, "\n") {
		t.Errorf("got:\n%s", got)
	}
}

func TestPostgresChangeReference(t *testing.T) {
	old := *testutil.PostsTable().Column("author")
	next := old.Clone()
	next.Reference = nil

	got, err := Postgres().CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{
		&ast.ChangeColumn{TableName: "posts", Old: old, New: next},
	})
	testutil.Must(t, err)
	testutil.AssertSQL(t, got, "ALTER TABLE posts DROP CONSTRAINT IF EXISTS posts_author_fkey;")
}

func TestPostgresUniqueChangeInPlace(t *testing.T) {
	old := *testutil.UsersTable().Column("name")
	next := old.Clone()
	next.Unique = true

	got, err := Postgres().CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{
		&ast.ChangeColumn{TableName: "users", Old: old, New: next},
	})
	testutil.Must(t, err)
	testutil.AssertSQL(t, got, "ALTER TABLE users ADD CONSTRAINT users_name_key UNIQUE (name);")

	// email is declared unique, so its inline constraint carries the same name.
	email := *testutil.UsersTable().Column("email")
	loose := email.Clone()
	loose.Unique = false
	got, err = Postgres().CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{
		&ast.ChangeColumn{TableName: "users", Old: email, New: loose},
	})
	testutil.Must(t, err)
	testutil.AssertSQL(t, got, "ALTER TABLE users DROP CONSTRAINT IF EXISTS users_email_key;")
}

func TestPostgresKeyChangeRebuilds(t *testing.T) {
	old := *testutil.UsersTable().Column("id")
	next := old.Clone()
	next.Auto = false

	got, err := Postgres().CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{
		&ast.ChangeColumn{TableName: "users", Old: old, New: next},
	})
	testutil.Must(t, err)

	stmts := testutil.Statements(got)
	if len(stmts) != 6 {
		t.Fatalf("expected 6 statements, got %d:\n%s", len(stmts), got)
	}
	// posts references users, so its key is dropped before users is.
	testutil.AssertSQL(t, stmts[0], "ALTER TABLE posts DROP CONSTRAINT IF EXISTS posts_author_fkey")
	testutil.AssertSQLContains(t, stmts[1], "CREATE TABLE users__lode_tmp (")
	testutil.AssertSQLContains(t, stmts[1], "id BIGINT NOT NULL PRIMARY KEY")
	testutil.AssertSQL(t, stmts[2], "INSERT INTO users__lode_tmp SELECT id, name, email FROM users")
	testutil.AssertSQL(t, stmts[3], "DROP TABLE users")
	testutil.AssertSQL(t, stmts[4], "ALTER TABLE users__lode_tmp RENAME TO users")
	testutil.AssertSQL(t, stmts[5],
		"ALTER TABLE posts ADD CONSTRAINT posts_author_fkey FOREIGN KEY (author) REFERENCES users (id)")
}

func TestPostgresRebuildResetsSerialOfMixedCaseColumn(t *testing.T) {
	id := testutil.PK("itemId")
	id.Auto = false
	tbl := ast.NewTable("Item", id, testutil.Col("name", sqlval.Text))
	next := id.Clone()
	next.Auto = true

	got, err := Postgres().CreateMigrationSQL(testutil.Schema(tbl), []ast.Operation{
		&ast.ChangeColumn{TableName: "Item", Old: id, New: next},
	})
	testutil.Must(t, err)
	testutil.AssertSQLContains(t, got, `"itemId" BIGSERIAL NOT NULL PRIMARY KEY`)
	testutil.AssertSQLContains(t, got,
		`SELECT setval(pg_get_serial_sequence('"Item"', 'itemId'), COALESCE((SELECT MAX("itemId") FROM "Item"), 0) + 1, false)`)
}

func TestPostgresFilledColumn(t *testing.T) {
	fill := sqlval.NewBool(false)
	got, err := Postgres().CreateMigrationSQL(testutil.BlogSchema(), []ast.Operation{
		&ast.AddColumn{TableName: "users", Column: testutil.Col("active", sqlval.Bool), Fill: &fill},
	})
	testutil.Must(t, err)

	stmts := testutil.Statements(got)
	want := []string{
		"ALTER TABLE users ADD COLUMN active BOOLEAN",
		"UPDATE users SET active = FALSE",
		"ALTER TABLE users ALTER COLUMN active SET NOT NULL",
	}
	if strings.Join(stmts, "\n") != strings.Join(want, "\n") {
		t.Errorf("got:\n%s", got)
	}
}

func TestPostgresUpsert(t *testing.T) {
	testutil.AssertSQL(t, Postgres().UpsertSQL("users", []string{"id", "name", "email"}, "id"),
		"INSERT INTO users (id, name, email) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email")
}

func TestPostgresInsertReturning(t *testing.T) {
	got, returning := Postgres().InsertReturningPKSQL("users", []string{"name"}, "id")
	if !returning {
		t.Error("pg supports RETURNING")
	}
	testutil.AssertSQL(t, got, "INSERT INTO users (name) VALUES ($1) RETURNING id")
}

func TestPostgresHasTableSQL(t *testing.T) {
	testutil.AssertSQLContains(t, Postgres().HasTableSQL(), "table_name = $1")
}

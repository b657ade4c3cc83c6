package sqlgen

import (
	"testing"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// -----------------------------------------------------------------------------
// QuoteIdent Tests
// -----------------------------------------------------------------------------

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		ident   string
		want    string
	}{
		{"plain", "pg", "users", "users"},
		{"reserved", "pg", "order", `"order"`},
		{"qualified", "sqlite", "users.id", "users.id"},
		{"qualified reserved", "sqlite", "order.user", `"order"."user"`},
		{"mysql qualified", "mysql", "tags.key", "tags.`key`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QuoteIdent(dialect.MustGet(tt.backend), tt.ident)
			if got != tt.want {
				t.Errorf("QuoteIdent(%q) = %s, want %s", tt.ident, got, tt.want)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		backend string
		n       int
		want    string
	}{
		{"pg", 3, "$1, $2, $3"},
		{"sqlite", 2, "?, ?"},
		{"mysql", 0, ""},
	}
	for _, tt := range tests {
		if got := Placeholders(dialect.MustGet(tt.backend), tt.n); got != tt.want {
			t.Errorf("%s Placeholders(%d) = %q, want %q", tt.backend, tt.n, got, tt.want)
		}
	}
}

func TestColumns(t *testing.T) {
	got := Columns(dialect.Postgres(), "id", "order", "name")
	if got != `id, "order", name` {
		t.Errorf("Columns() = %s", got)
	}
}

// -----------------------------------------------------------------------------
// Builder Tests
// -----------------------------------------------------------------------------

func TestBuilderNumbersArgs(t *testing.T) {
	b := New(dialect.Postgres())
	b.Raw("SELECT ").Idents("id", "name").Raw(" FROM ").Ident("users").
		Raw(" WHERE ").Ident("id").Raw(" > ").Arg(sqlval.NewBigInt(10)).
		Raw(" AND ").Ident("name").Raw(" IN ").OpenParen().
		Args(sqlval.NewText("a"), sqlval.NewText("b")).CloseParen()

	st := b.Build()
	want := "SELECT id, name FROM users WHERE id > $1 AND name IN ($2, $3)"
	if st.SQL != want {
		t.Errorf("SQL = %s\nwant  %s", st.SQL, want)
	}
	if len(st.Args) != 3 || b.NumArgs() != 3 {
		t.Fatalf("expected 3 args, got %d", len(st.Args))
	}
	args := st.DriverArgs()
	if args[0] != int64(10) || args[2] != "b" {
		t.Errorf("DriverArgs() = %v", args)
	}
}

func TestBuilderReset(t *testing.T) {
	b := New(dialect.SQLite())
	b.Raw("x = ").Arg(sqlval.NewInt(1))
	b.Reset()
	if b.String() != "" || b.NumArgs() != 0 {
		t.Error("Reset() should clear SQL and args")
	}
}

func TestStatementBind(t *testing.T) {
	b := New(dialect.Postgres())
	b.Raw("a = ").Arg(sqlval.NewInt(1)).Raw(" AND b = ").Slot().Raw(" AND c = ").Slot()
	st := b.Build()

	if st.SQL != "a = $1 AND b = $2 AND c = $3" {
		t.Errorf("SQL = %s", st.SQL)
	}

	args, err := st.Bind(sqlval.NewText("x"), sqlval.NewText("y"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if args[0] != int64(1) || args[1] != "x" || args[2] != "y" {
		t.Errorf("Bind() = %v", args)
	}

	_, err = st.Bind(sqlval.NewText("x"))
	if alerr.GetErrorCode(err) != alerr.ErrBounds {
		t.Errorf("expected bounds error, got %v", err)
	}
}

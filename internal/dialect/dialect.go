// Package dialect provides backend-specific SQL generation.
// Each dialect maps abstract column types to native ones, quotes identifiers,
// renders schema operations as migration scripts and shapes the few DML
// statements whose syntax differs between backends.
package dialect

import (
	"sort"
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Dialect defines the interface for backend-specific SQL generation.
// Implementations exist for SQLite, PostgreSQL and MySQL; libSQL and Turso
// use the SQLite one under their own names.
type Dialect interface {
	// Name returns the canonical backend name (sqlite, pg, mysql, libsql, turso).
	Name() string

	// -------------------------------------------------------------------------
	// Identifiers and literals
	// -------------------------------------------------------------------------

	// QuoteIdent quotes name when it is a reserved word or not a plain identifier.
	// SQLite/PostgreSQL: "name", MySQL: `name`
	QuoteIdent(name string) string

	// Placeholder returns the parameter placeholder for the given index (1-based).
	// PostgreSQL: $1, $2, ...   SQLite/MySQL: ?
	Placeholder(index int) string

	// Literal renders a value as a SQL literal for DEFAULT clauses.
	Literal(v sqlval.SqlVal) (string, error)

	// ColumnType returns the native type of a resolved column.
	ColumnType(col *ast.Column) (string, error)

	// -------------------------------------------------------------------------
	// Migrations
	// -------------------------------------------------------------------------

	// CreateMigrationSQL renders ops against the snapshot current. Each
	// operation sees the effects of the ones before it; current is not modified.
	CreateMigrationSQL(current *ast.ADB, ops []ast.Operation) (string, error)

	// HasTableSQL returns a query with one placeholder that yields a row when
	// the named table exists.
	HasTableSQL() string

	// -------------------------------------------------------------------------
	// DML
	// -------------------------------------------------------------------------

	// UpsertSQL inserts a row or replaces every non-key column on pk conflict.
	UpsertSQL(table string, cols []string, pk string) string

	// InsertReturningPKSQL inserts a row. When returning is true the statement
	// yields the new primary key; otherwise the driver's last insert id is used.
	InsertReturningPKSQL(table string, cols []string, pk string) (sql string, returning bool)

	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool

	// LimitOffset renders the LIMIT/OFFSET tail of a SELECT. Negative values are unset.
	LimitOffset(limit, offset int) string
}

// ForeignKeyGuard is implemented by backends whose table rebuilds must run
// with foreign key enforcement off. The runner executes DisableForeignKeysSQL
// on the migrating connection before the transaction, runs ForeignKeyCheckSQL
// inside it (any returned row fails the migration), and re-enables afterwards.
type ForeignKeyGuard interface {
	DisableForeignKeysSQL() string
	EnableForeignKeysSQL() string
	ForeignKeyCheckSQL() string
}

var registry = map[string]Dialect{
	"sqlite": SQLite(),
	"pg":     Postgres(),
	"mysql":  MySQL(),
	"libsql": LibSQL(),
	"turso":  Turso(),
}

var aliases = map[string]string{
	"sqlite3":    "sqlite",
	"postgres":   "pg",
	"postgresql": "pg",
	"mariadb":    "mysql",
}

// Get returns the dialect registered under name (or one of its aliases).
func Get(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	if d, ok := registry[key]; ok {
		return d, nil
	}
	return nil, alerr.UnknownBackend(name, Names()...)
}

// MustGet is Get for names known at compile time.
func MustGet(name string) Dialect {
	d, err := Get(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Names returns the canonical backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Canonical maps an alias to its canonical backend name.
func Canonical(name string) (string, error) {
	d, err := Get(name)
	if err != nil {
		return "", err
	}
	return d.Name(), nil
}

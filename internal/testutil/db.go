package testutil

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// SetupSQLite opens a fresh file-backed SQLite database under t.TempDir with
// foreign keys enforced. The connection is closed when the test completes.
func SetupSQLite(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lode.db")
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("failed to ping sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SQLiteDSN returns a modernc sqlite DSN for path with foreign keys on.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// ExecSQL executes every statement of script or fails the test.
func ExecSQL(t *testing.T, db *sql.DB, script string, args ...any) {
	t.Helper()

	if _, err := db.Exec(script, args...); err != nil {
		t.Fatalf("failed to execute SQL: %v\nSQL: %s", err, script)
	}
}

// AssertTableExists checks sqlite_master for table.
func AssertTableExists(t *testing.T, db *sql.DB, table string) {
	t.Helper()

	if !sqliteHasTable(t, db, table) {
		t.Errorf("expected table %q to exist, but it does not", table)
	}
}

// AssertTableNotExists is the negation of AssertTableExists.
func AssertTableNotExists(t *testing.T, db *sql.DB, table string) {
	t.Helper()

	if sqliteHasTable(t, db, table) {
		t.Errorf("expected table %q to not exist, but it does", table)
	}
}

func sqliteHasTable(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()

	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		t.Fatalf("failed to look up table %q: %v", table, err)
	}
	return n > 0
}

// SQLiteColumns returns the column names of table in declaration order.
func SQLiteColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		t.Fatalf("failed to read columns of %q: %v", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan column name: %v", err)
		}
		cols = append(cols, name)
	}
	return cols
}

// AssertRowCount checks the number of rows in table.
func AssertRowCount(t *testing.T, db *sql.DB, table string, expected int) {
	t.Helper()

	var n int
	q := `SELECT COUNT(*) FROM "` + strings.ReplaceAll(table, `"`, `""`) + `"`
	if err := db.QueryRow(q).Scan(&n); err != nil {
		t.Fatalf("failed to count rows in %q: %v", table, err)
	}
	if n != expected {
		t.Errorf("table %q has %d rows, want %d", table, n, expected)
	}
}

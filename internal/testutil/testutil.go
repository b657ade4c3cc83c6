// Package testutil provides test helpers for Lodestone.
// It includes SQL and error assertions, schema fixtures and golden file testing.
package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// updateGolden rewrites golden files instead of comparing against them.
var updateGolden = flag.Bool("update-golden", false, "update golden files")

var whitespace = regexp.MustCompile(`\s+`)

// -----------------------------------------------------------------------------
// SQL Assertions
// -----------------------------------------------------------------------------

// NormalizeSQL collapses whitespace runs into single spaces and removes the
// space after "(" and before ")". Case is kept: quoted identifiers are case
// sensitive.
func NormalizeSQL(sql string) string {
	sql = whitespace.ReplaceAllString(strings.TrimSpace(sql), " ")
	sql = strings.ReplaceAll(sql, "( ", "(")
	return strings.ReplaceAll(sql, " )", ")")
}

// AssertSQL compares two SQL strings after normalizing them.
func AssertSQL(t *testing.T, got, want string) {
	t.Helper()

	if g, w := NormalizeSQL(got), NormalizeSQL(want); g != w {
		t.Errorf("SQL mismatch:\ngot:  %s\nwant: %s\n\noriginal got:\n%s", g, w, got)
	}
}

// AssertSQLContains checks that sql contains substr once both are normalized.
func AssertSQLContains(t *testing.T, sql, substr string) {
	t.Helper()

	if !strings.Contains(NormalizeSQL(sql), NormalizeSQL(substr)) {
		t.Errorf("SQL does not contain expected substring:\nsql:    %s\nsubstr: %s",
			NormalizeSQL(sql), NormalizeSQL(substr))
	}
}

// AssertSQLNotContains is the negation of AssertSQLContains.
func AssertSQLNotContains(t *testing.T, sql, substr string) {
	t.Helper()

	if strings.Contains(NormalizeSQL(sql), NormalizeSQL(substr)) {
		t.Errorf("SQL unexpectedly contains %q:\n%s", substr, sql)
	}
}

// Statements splits a migration script on its ";\n" terminators.
func Statements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Error Assertions
// -----------------------------------------------------------------------------

// AssertError checks that err carries the expected error code.
func AssertError(t *testing.T, err error, code alerr.Code) {
	t.Helper()

	if err == nil {
		t.Errorf("expected error with code %s, got nil", code)
		return
	}
	if got := alerr.GetErrorCode(err); got != code {
		t.Errorf("expected error code %s, got %s\nerror: %v", code, got, err)
	}
}

// AssertNoError fails the test when err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
}

// AssertErrorContains checks that the error message contains substr.
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()

	if err == nil {
		t.Errorf("expected error containing %q, got nil", substr)
		return
	}
	if !strings.Contains(err.Error(), substr) {
		t.Errorf("error message does not contain %q\ngot: %v", substr, err)
	}
}

// -----------------------------------------------------------------------------
// Golden Files
// -----------------------------------------------------------------------------

// Golden compares got against testdata/<name>.golden, or rewrites the file
// when the test runs with -update-golden.
func Golden(t *testing.T, name string, got string) {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	path := filepath.Join(wd, "testdata", name+".golden")

	if *updateGolden {
		WriteFile(t, path, got)
		return
	}

	want, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read golden file %s: %v\nrun with -update-golden to create it\n\ngot:\n%s", path, err, got)
	}
	if got != string(want) {
		t.Errorf("golden file mismatch: %s\n\ngot:\n%s\n\nwant:\n%s", path, got, string(want))
	}
}

// -----------------------------------------------------------------------------
// Test Helpers
// -----------------------------------------------------------------------------

// WriteFile writes content to path, creating parent directories as needed.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create parent directories: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

// SkipIfShort skips database-backed tests in -short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
}

// Must fails the test immediately when err is not nil.
func Must(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// MustValue is Must for calls that also return a value.
func MustValue[T any](t *testing.T, value T, err error) T {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return value
}

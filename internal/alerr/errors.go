// Package alerr defines the coded errors returned throughout lodestone. Codes
// are stable, so callers and the CLI can branch on them.
package alerr

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Code is an error code of the form E<category><number>, e.g. "E3001".
type Code string

// Error codes, grouped by the layer that raises them.
const (
	// Schema (E1xxx)
	ErrSchemaInvalid       Code = "E1001" // Table or column breaks a schema invariant
	ErrSchemaNotFound      Code = "E1002" // Referenced table does not exist
	ErrSchemaDuplicate     Code = "E1003" // Table or column declared twice
	ErrCannotResolveType   Code = "E1004" // Deferred type is unresolved or cyclic
	ErrInvalidAuto         Code = "E1005" // Auto-increment on a non-integer column
	ErrNoCustomDefault     Code = "E1006" // No literal form for a custom type value
	ErrInvalidIdentifier   Code = "E1007" // Identifier cannot be used as a table/column name
	ErrInvalidDeclaration  Code = "E1008" // Model declaration file is malformed
	ErrUnsupportedSQLType  Code = "E1009" // SQL type not supported by a backend

	// Migrations (E3xxx)
	ErrMigration         Code = "E3001" // Operation inexpressible or chain inconsistent
	ErrMigrationNotFound Code = "E3002" // Named migration does not exist
	ErrMigrationConflict Code = "E3003" // Migration name already used
	ErrMigrationChecksum Code = "E3004" // Snapshot fingerprint does not match
	ErrNoChanges         Code = "E3005" // Draft is identical to the chain tip
	ErrMigrationStore    Code = "E3006" // Reading or writing the migration store failed

	// Database (E4xxx)
	ErrSQLExecution        Code = "E4001" // SQL statement failed to execute
	ErrSQLConnection       Code = "E4002" // Database connection failed
	ErrSQLTransaction      Code = "E4003" // Transaction operation failed
	ErrNoSuchObject        Code = "E4004" // Point lookup found no matching row
	ErrBounds              Code = "E4005" // Row shape does not match the requested columns
	ErrCannotConvertSqlVal Code = "E4006" // Value cannot be converted to the requested type
	ErrPoisonedConnection  Code = "E4007" // Connection left invalid by a failed bridged operation

	// Backends (E6xxx)
	ErrUnknownBackend Code = "E6003" // No dialect registered, or no SQL recorded, for a backend

	// Internal (E9xxx)
	ErrInternal Code = "E9001" // Internal error
)

// Error carries a code, a message, key/value context for display and an
// optional cause. Two Errors match under errors.Is when their codes are equal.
type Error struct {
	code    Code
	message string
	context map[string]any
	cause   error
}

func build(code Code, msg string, cause error) *Error {
	return &Error{code: code, message: msg, context: map[string]any{}, cause: cause}
}

// New returns an Error with code and msg.
func New(code Code, msg string) *Error {
	return build(code, msg, nil)
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap returns an Error with code and msg caused by err. A nil err gives
// the same result as New.
func Wrap(code Code, err error, msg string) *Error {
	return build(code, msg, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(code Code, err error, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), err)
}

// Error renders "[code] message" followed by one indented line per context
// key, in key order, and the cause.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.code, e.message)
	for _, k := range slices.Sorted(maps.Keys(e.context)) {
		fmt.Fprintf(&b, "\n  %s: %v", k, e.context[k])
	}
	if e.cause != nil {
		fmt.Fprintf(&b, "\n  cause: %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error target with the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	return errors.As(target, &other) && other.code == e.code
}

func (e *Error) GetCode() Code { return e.code }
func (e *Error) GetMessage() string { return e.message }
func (e *Error) GetContext() map[string]any { return e.context }
func (e *Error) GetCause() error { return e.cause }

// With sets a context value and returns e for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.context == nil {
		e.context = map[string]any{}
	}
	e.context[key] = value
	return e
}

func (e *Error) WithTable(name string) *Error { return e.With("table", name) }
func (e *Error) WithColumn(name string) *Error { return e.With("column", name) }
func (e *Error) WithSQL(sql string) *Error { return e.With("sql", sql) }
func (e *Error) WithBackend(name string) *Error { return e.With("backend", name) }
func (e *Error) WithMigration(name string) *Error { return e.With("migration", name) }

// WithHelp appends a suggestion shown as "help: ..." by the CLI.
func (e *Error) WithHelp(help string) *Error {
	return e.With("helps", append(e.Helps(), help))
}

// Helps returns the suggestions added with WithHelp.
func (e *Error) Helps() []string {
	helps, _ := e.context["helps"].([]string)
	return helps
}

// GetErrorCode returns the code of the first *Error in err's chain, or "".
func GetErrorCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return GetErrorCode(err) == code
}

// HasCode reports whether err carries any code.
func HasCode(err error) bool {
	return GetErrorCode(err) != ""
}

// WrapSQL creates an ErrSQLExecution error carrying the failed statement.
// Driver errors are wrapped as-is so callers can still inspect them with errors.As.
func WrapSQL(err error, op, sql string) *Error {
	e := Wrap(ErrSQLExecution, err, "failed to "+op)
	if sql != "" {
		e.WithSQL(sql)
	}
	return e
}

// -----------------------------------------------------------------------------
// Taxonomy constructors
// -----------------------------------------------------------------------------

// UnknownBackend reports that no dialect or no recorded SQL exists for name.
// known lists the available backends and feeds the "did you mean" hint.
func UnknownBackend(name string, known ...string) *Error {
	e := Newf(ErrUnknownBackend, "unknown backend %q", name).WithBackend(name)
	if hint := SuggestSimilar(name, known); hint != "" {
		e.WithHelp(hint)
	}
	return e
}

// Migration reports an operation that cannot be expressed or a broken chain.
func Migration(format string, args ...any) *Error {
	return Newf(ErrMigration, format, args...)
}

// CannotResolveType reports a deferred type key that never resolved.
func CannotResolveType(key string) *Error {
	return Newf(ErrCannotResolveType, "cannot resolve type %s", key).With("key", key)
}

// NoSuchObject reports a point lookup that matched no row.
func NoSuchObject(table string) *Error {
	return New(ErrNoSuchObject, "no such object").WithTable(table)
}

// Bounds reports a row whose shape does not match the requested columns.
func Bounds(want, got int) *Error {
	return Newf(ErrBounds, "row has %d values, expected %d", got, want)
}

// CannotConvert reports a value that cannot be read as the requested type.
func CannotConvert(want string, got any) *Error {
	return Newf(ErrCannotConvertSqlVal, "cannot convert %T to %s", got, want)
}

// PoisonedConnection reports use of a connection left invalid by an earlier failure.
func PoisonedConnection(cause error) *Error {
	return Wrap(ErrPoisonedConnection, cause, "connection is poisoned by an earlier failed operation")
}

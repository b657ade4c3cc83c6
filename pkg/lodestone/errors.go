package lodestone

import (
	"github.com/hlop3z/lodestone/internal/alerr"
)

// Sentinel errors. Errors returned by the Client match them with errors.Is
// when they carry the same code.
var (
	// ErrNotConnected is returned by database operations of an offline client.
	ErrNotConnected = alerr.New(alerr.ErrSQLConnection, "lodestone: client is offline")

	// ErrNoChanges is returned when the models match the latest migration.
	ErrNoChanges = alerr.New(alerr.ErrNoChanges, "lodestone: no changes")

	// ErrMigration is returned for an inconsistent chain or an operation a
	// backend cannot express.
	ErrMigration = alerr.New(alerr.ErrMigration, "lodestone: migration error")

	// ErrMigrationNotFound is returned for an unknown migration name.
	ErrMigrationNotFound = alerr.New(alerr.ErrMigrationNotFound, "lodestone: migration not found")

	// ErrChecksum is returned when stored migrations were edited.
	ErrChecksum = alerr.New(alerr.ErrMigrationChecksum, "lodestone: migration checksum mismatch")

	// ErrUnknownBackend is returned for a backend without a dialect or
	// without rendered SQL.
	ErrUnknownBackend = alerr.New(alerr.ErrUnknownBackend, "lodestone: unknown backend")

	// ErrSQL is returned when a statement fails on the database.
	ErrSQL = alerr.New(alerr.ErrSQLExecution, "lodestone: sql execution failed")
)

// Code returns the error code carried by err, such as "E3001", or "".
func Code(err error) string {
	return string(alerr.GetErrorCode(err))
}

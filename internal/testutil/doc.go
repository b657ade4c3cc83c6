// Package testutil provides test helpers for Lodestone.
//
// This package includes:
//   - SQL assertions that compare statements modulo whitespace
//   - Error assertions that check alerr codes
//   - Schema fixtures (users/posts) shared by the differ, dialect and migration tests
//   - SQLite setup backed by modernc.org/sqlite
//   - PostgreSQL and MariaDB containers for integration tests
//
// # Build Tags
//
// Container-backed tests are behind the integration tag and need Docker:
//
//	go test ./... -tags=integration
//
// # Golden Files
//
// Golden files live in testdata/. Update them with:
//
//	go test ./... -update-golden
//
// # Example Usage
//
//	func TestApply(t *testing.T) {
//	    db := testutil.SetupSQLite(t)
//	    testutil.ExecSQL(t, db, script)
//	    testutil.AssertTableExists(t, db, "users")
//	}
package testutil

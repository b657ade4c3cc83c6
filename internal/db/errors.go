package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// PostgreSQL SQLSTATE codes (class 23, integrity constraint violation).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451
	mysqlForeignKeyChild  = 1452
	mysqlBadNull          = 1048
)

// wrapDriver wraps a driver error as ErrSQLExecution, keeping the cause and
// copying the driver's own code into the error context.
func wrapDriver(err error, op, sqlText string) *alerr.Error {
	e := alerr.WrapSQL(err, op, sqlText)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		e.With("sqlstate", pgErr.Code)
		if pgErr.TableName != "" {
			e.WithTable(pgErr.TableName)
		}
		if pgErr.ColumnName != "" {
			e.WithColumn(pgErr.ColumnName)
		}
		return e
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		e.With("errno", myErr.Number)
		if myErr.SQLState != [5]byte{} {
			e.With("sqlstate", string(myErr.SQLState[:]))
		}
	}
	return e
}

// IsConstraintViolation reports whether err came from a unique, foreign key
// or NOT NULL constraint. SQLite errors are matched by message since the
// driver exposes only an extended result code.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation, pgNotNullViolation:
			return true
		}
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlForeignKeyParent, mysqlForeignKeyChild, mysqlBadNull:
			return true
		}
		return false
	}
	return containsAny(err.Error(), "UNIQUE constraint failed", "FOREIGN KEY constraint failed", "NOT NULL constraint failed")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

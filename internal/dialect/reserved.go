package dialect

import (
	"regexp"
	"strings"
)

// plainIdent matches identifiers that never need quoting unless reserved.
var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedWords is the shared keyword list. It is the union of the words
// reserved by SQLite, PostgreSQL and MySQL plus the SQL standard, so that a
// name quoted for one backend is quoted for all of them.
var reservedWords = toSet(strings.Fields(`
ABORT ACTION ADD AFTER ALL ALTER ALWAYS ANALYZE AND ANY ARRAY AS ASC ASENSITIVE
ASYMMETRIC AT ATTACH AUTHORIZATION AUTOINCREMENT AUTO_INCREMENT BEFORE BEGIN
BETWEEN BIGINT BINARY BLOB BOTH BY CALL CASCADE CASCADED CASE CAST CHANGE CHAR
CHARACTER CHECK COLLATE COLLATION COLUMN COMMIT CONDITION CONFLICT CONSTRAINT
CONTINUE CONVERT CREATE CROSS CUBE CURRENT CURRENT_DATE CURRENT_ROLE
CURRENT_SCHEMA CURRENT_TIME CURRENT_TIMESTAMP CURRENT_USER CURSOR DATABASE
DATABASES DEALLOCATE DEC DECIMAL DECLARE DEFAULT DEFERRABLE DEFERRED DELETE
DESC DESCRIBE DETACH DISTINCT DISTINCTROW DIV DO DOUBLE DROP EACH ELSE ELSEIF
END ENCLOSED ESCAPE ESCAPED EXCEPT EXCLUDE EXCLUSIVE EXISTS EXIT EXPLAIN FAIL
FALSE FETCH FILTER FIRST FLOAT FOLLOWING FOR FORCE FOREIGN FREEZE FROM FULL
FULLTEXT FUNCTION GENERATED GLOB GRANT GROUP GROUPS GROUPING HAVING IF IGNORE
ILIKE IMMEDIATE IN INDEX INDEXED INITIALLY INNER INOUT INSERT INSTEAD INT
INTEGER INTERSECT INTERVAL INTO IS ISNULL ITERATE JOIN KEY KEYS KILL LAST
LATERAL LEADING LEAVE LEFT LIKE LIMIT LINES LOAD LOCALTIME LOCALTIMESTAMP LOCK
LONG LOOP MATCH MATERIALIZED MERGE MINUS MOD MODIFIES NATURAL NO NOT NOTHING
NOTNULL NULL NULLS NUMERIC OF OFFSET ON ONLY OPTIMIZE OPTION OR ORDER OTHERS
OUT OUTER OVER OVERLAPS PARTITION PLACING PLAN PRAGMA PRECEDING PRECISION
PRIMARY PROCEDURE PURGE QUERY RAISE RANGE READ READS REAL RECURSIVE REFERENCES
REGEXP REINDEX RELEASE RENAME REPEAT REPLACE REQUIRE RESTRICT RETURN RETURNING
REVOKE RIGHT RLIKE ROLLBACK ROW ROWS SAVEPOINT SCHEMA SCHEMAS SELECT SENSITIVE
SEPARATOR SESSION_USER SET SHOW SIMILAR SMALLINT SOME SPATIAL SQL STARTING
STRAIGHT_JOIN SYMMETRIC SYSTEM_USER TABLE TABLESAMPLE TEMP TEMPORARY TERMINATED
THEN TIES TIME TIMESTAMP TO TRAILING TRANSACTION TRIGGER TRUE UNBOUNDED UNDO
UNION UNIQUE UNKNOWN UNLOCK UNSIGNED UPDATE USAGE USE USER USING VACUUM VALUES
VARCHAR VARIADIC VARYING VERBOSE VIEW VIRTUAL WHEN WHERE WHILE WINDOW WITH
WITHOUT WRITE XOR ZEROFILL
`))

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsReserved reports whether word is a keyword on any supported backend.
func IsReserved(word string) bool {
	_, ok := reservedWords[strings.ToUpper(word)]
	return ok
}

// NeedsQuote reports whether name must be quoted to be used as an identifier.
func NeedsQuote(name string) bool {
	return !plainIdent.MatchString(name) || IsReserved(name)
}

// quoteWith wraps name in q when needed, doubling any embedded q.
func quoteWith(name string, q string) string {
	if !NeedsQuote(name) {
		return name
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

package testutil

import (
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// -----------------------------------------------------------------------------
// Schema fixtures
// -----------------------------------------------------------------------------

// PK returns an auto-increment bigint primary key column.
func PK(name string) ast.Column {
	return ast.Column{Name: name, SqlType: ast.KnownType(sqlval.BigInt), PK: true, Auto: true}
}

// Col returns a NOT NULL column of type ty.
func Col(name string, ty sqlval.SqlType) ast.Column {
	return ast.NewColumn(name, ast.KnownType(ty))
}

// NullCol returns a nullable column of type ty.
func NullCol(name string, ty sqlval.SqlType) ast.Column {
	c := Col(name, ty)
	c.Nullable = true
	return c
}

// DefaultCol returns a NOT NULL column whose default is v.
func DefaultCol(name string, ty sqlval.SqlType, v sqlval.SqlVal) ast.Column {
	c := Col(name, ty)
	c.Default = &v
	return c
}

// RefCol returns a NOT NULL bigint column referencing table.id.
func RefCol(name, table string) ast.Column {
	c := Col(name, sqlval.BigInt)
	c.Reference = &ast.ForeignKey{Table: table, Column: "id"}
	return c
}

// Schema builds a resolved snapshot from tables.
func Schema(tables ...*ast.Table) *ast.ADB {
	db := ast.NewADB()
	for _, t := range tables {
		db.ReplaceTable(t)
	}
	return db
}

// UsersTable is users(id pk auto, name text, email text unique nullable).
func UsersTable() *ast.Table {
	email := NullCol("email", sqlval.Text)
	email.Unique = true
	return ast.NewTable("users", PK("id"), Col("name", sqlval.Text), email)
}

// PostsTable is posts(id pk auto, author -> users.id, title text, published bool default false).
func PostsTable() *ast.Table {
	return ast.NewTable("posts",
		PK("id"),
		RefCol("author", "users"),
		Col("title", sqlval.Text),
		DefaultCol("published", sqlval.Bool, sqlval.NewBool(false)),
	)
}

// BlogSchema is the users/posts snapshot most tests start from.
func BlogSchema() *ast.ADB {
	return Schema(UsersTable(), PostsTable())
}

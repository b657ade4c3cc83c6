package db

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/engine"
	"github.com/hlop3z/lodestone/internal/query"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/internal/testutil"
)

func openSQLite(t *testing.T) *Conn {
	t.Helper()
	c, err := Open(context.Background(), ConnectionSpec{
		Backend: "sqlite",
		Conn:    filepath.Join(t.TempDir(), "lode.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// migrateTo brings c from an empty schema to target.
func migrateTo(t *testing.T, c *Conn, target *ast.ADB) {
	t.Helper()
	script, err := c.Dialect().CreateMigrationSQL(ast.NewADB(), engine.Diff(ast.NewADB(), target))
	require.NoError(t, err)
	require.NoError(t, c.SchemaTx(context.Background(), func(tx *Tx) error {
		return tx.Execute(context.Background(), script)
	}))
}

func TestInsertReturningPKIncreases(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)

	target := testutil.Schema(ast.NewTable("T", testutil.PK("id"), testutil.Col("name", sqlval.Text)))
	ops := engine.Diff(ast.NewADB(), target)
	require.Len(t, ops, 1)
	require.IsType(t, &ast.AddTable{}, ops[0])

	script, err := c.Dialect().CreateMigrationSQL(ast.NewADB(), ops)
	require.NoError(t, err)
	assert.Contains(t, script, "PRIMARY KEY")
	require.NoError(t, c.Execute(ctx, script))

	first, err := c.InsertReturningPK(ctx, "T", "id", sqlval.BigInt, []string{"name"}, []sqlval.SqlVal{sqlval.NewText("a")})
	require.NoError(t, err)
	second, err := c.InsertReturningPK(ctx, "T", "id", sqlval.BigInt, []string{"name"}, []sqlval.SqlVal{sqlval.NewText("b")})
	require.NoError(t, err)

	a, _ := first.Int64()
	b, _ := second.Int64()
	assert.Greater(t, b, a)
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)
	migrateTo(t, c, testutil.BlogSchema())

	ok, err := c.HasTable(ctx, "users")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.HasTable(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ada, err := c.InsertReturningPK(ctx, "users", "id", sqlval.BigInt,
		[]string{"name", "email"}, []sqlval.SqlVal{sqlval.NewText("ada"), sqlval.Null})
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, "posts",
		[]string{"author", "title"}, []sqlval.SqlVal{ada, sqlval.NewText("first")}))
	require.NoError(t, c.Insert(ctx, "posts",
		[]string{"author", "title", "published"}, []sqlval.SqlVal{ada, sqlval.NewText("second"), sqlval.NewBool(true)}))

	fields := []query.Field{{Name: "id", Type: sqlval.BigInt}, {Name: "title", Type: sqlval.Text}, {Name: "published", Type: sqlval.Bool}}
	rows, err := query.From("posts", fields...).
		Filter(query.Eq("published", query.Lit(false))).
		Load(ctx, c)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sqlval.NewText("first"), rows[0][1])
	assert.Equal(t, sqlval.NewBool(false), rows[0][2])

	require.NoError(t, c.Update(ctx, "posts", "id", rows[0][0],
		[]string{"title"}, []sqlval.SqlVal{sqlval.NewText("renamed")}))
	row, err := query.From("posts", fields...).Filter(query.Eq("id", query.Val(rows[0][0]))).LoadFirst(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, sqlval.NewText("renamed"), row[1])

	nulls, err := query.From("users").Filter(query.Eq("email", query.Val(sqlval.Null))).Count(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nulls)

	n, err := query.From("posts").Filter(query.Like("title", query.Lit("%e%"))).Delete(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, c.Delete(ctx, "users", "id", ada))
	total, err := query.From("users").Count(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestReservedWordPrimaryKey(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)

	order := ast.Column{Name: "order", SqlType: ast.KnownType(sqlval.Text), PK: true}
	migrateTo(t, c, testutil.Schema(ast.NewTable("item", order, testutil.Col("qty", sqlval.Int))))

	cols := []string{"order", "qty"}
	require.NoError(t, c.InsertOrReplace(ctx, "item", "order", cols, []sqlval.SqlVal{sqlval.NewText("a1"), sqlval.NewInt(1)}))
	require.NoError(t, c.InsertOrReplace(ctx, "item", "order", cols, []sqlval.SqlVal{sqlval.NewText("a1"), sqlval.NewInt(5)}))

	rows, err := query.From("item", query.Field{Name: "order", Type: sqlval.Text}, query.Field{Name: "qty", Type: sqlval.Int}).
		Filter(query.Eq("order", query.Lit("a1"))).
		OrderAsc("order").
		Load(ctx, c)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sqlval.NewInt(5), rows[0][1])
}

func TestInsertShapeMismatch(t *testing.T) {
	c := openSQLite(t)
	err := c.Insert(context.Background(), "t", []string{"a", "b"}, []sqlval.SqlVal{sqlval.NewInt(1)})
	testutil.AssertError(t, err, alerr.ErrBounds)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)
	migrateTo(t, c, testutil.Schema(testutil.UsersTable()))

	boom := errors.New("boom")
	err := c.InTx(ctx, func(tx *Tx) error {
		if err := tx.Insert(ctx, "users", []string{"name"}, []sqlval.SqlVal{sqlval.NewText("x")}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := query.From("users").Count(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTxFinishesOnce(t *testing.T) {
	c := openSQLite(t)
	tx, err := c.Transaction(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	testutil.AssertError(t, tx.Commit(), alerr.ErrSQLTransaction)
	assert.NoError(t, tx.Rollback())
}

func TestClosedConn(t *testing.T) {
	c := openSQLite(t)
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	assert.NoError(t, c.Close())

	_, err := c.Transaction(context.Background())
	testutil.AssertError(t, err, alerr.ErrSQLConnection)
}

// -----------------------------------------------------------------------------
// Schema transactions
// -----------------------------------------------------------------------------

func TestSchemaTxRebuildsReferencedTable(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)
	migrateTo(t, c, testutil.BlogSchema())

	ada, err := c.InsertReturningPK(ctx, "users", "id", sqlval.BigInt, []string{"name"}, []sqlval.SqlVal{sqlval.NewText("ada")})
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, "posts", []string{"author", "title"}, []sqlval.SqlVal{ada, sqlval.NewText("p")}))

	// Making email non-unique rebuilds users while posts references it.
	next := testutil.BlogSchema()
	email := next.Table("users").Column("email")
	email.Unique = false
	script, err := c.Dialect().CreateMigrationSQL(testutil.BlogSchema(), engine.Diff(testutil.BlogSchema(), next))
	require.NoError(t, err)
	require.Contains(t, script, "__lode_tmp")

	require.NoError(t, c.SchemaTx(ctx, func(tx *Tx) error { return tx.Execute(ctx, script) }))

	n, err := query.From("posts").Count(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Enforcement is back on for the pooled session.
	err = c.Insert(ctx, "posts", []string{"author", "title"}, []sqlval.SqlVal{sqlval.NewBigInt(99), sqlval.NewText("orphan")})
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))
}

func TestSchemaTxRejectsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)
	migrateTo(t, c, testutil.BlogSchema())

	err := c.SchemaTx(ctx, func(tx *Tx) error {
		return tx.Insert(ctx, "posts", []string{"author", "title"}, []sqlval.SqlVal{sqlval.NewBigInt(7), sqlval.NewText("x")})
	})
	testutil.AssertError(t, err, alerr.ErrSQLExecution)
	assert.True(t, strings.Contains(err.Error(), "foreign key"))

	n, err := query.From("posts").Count(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, n)
}

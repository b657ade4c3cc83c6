package migrate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/internal/testutil"
)

func newMem(t *testing.T) *Migrations {
	t.Helper()
	ms, err := New(NewMemStore())
	require.NoError(t, err)
	return ms
}

// commitBlog commits users, then posts, and returns both migrations.
func commitBlog(t *testing.T, ms *Migrations, backends ...string) (*Migration, *Migration) {
	t.Helper()
	ctx := context.Background()
	ms.Draft().AddModifiedTable(testutil.UsersTable())
	first, err := ms.Commit(ctx, "0001_users", backends...)
	require.NoError(t, err)

	ms.Draft().AddModifiedTable(testutil.UsersTable())
	ms.Draft().AddModifiedTable(testutil.PostsTable())
	second, err := ms.Commit(ctx, "0002_posts", backends...)
	require.NoError(t, err)
	return first, second
}

func TestDefaultName(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 4, 123_456_789, time.UTC)
	assert.Equal(t, "20240309_070504123", DefaultName(at, ""))
	assert.Equal(t, "20240309_070504123_add_tags", DefaultName(at, "add_tags"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("20240101_000000000_init"))
	for _, bad := range []string{"", "current", "../x", "a/b", ".hidden"} {
		testutil.AssertError(t, ValidateName(bad), alerr.ErrMigration)
	}
}

func TestDraftIsIdempotentAndOrderIndependent(t *testing.T) {
	a := NewDraft()
	a.AddModifiedTable(testutil.UsersTable())
	a.AddModifiedTable(testutil.PostsTable())
	a.AddModifiedTable(testutil.UsersTable())

	b := NewDraft()
	b.AddModifiedTable(testutil.PostsTable())
	b.AddModifiedTable(testutil.UsersTable())

	da, err := a.DB()
	require.NoError(t, err)
	db, err := b.DB()
	require.NoError(t, err)
	assert.Equal(t, da.TableNames(), db.TableNames())

	b.DeleteTable("posts")
	b.DeleteTable("posts")
	assert.Equal(t, []string{"users"}, b.Raw().TableNames())

	b.Reset()
	assert.True(t, b.IsEmpty())
}

func TestDraftResolvesDeferredTypes(t *testing.T) {
	d := NewDraft()
	tags := ast.NewTable("tag", ast.Column{Name: "tag", SqlType: ast.KnownType(sqlval.Text), PK: true})
	post := ast.NewTable("post", testutil.PK("id"),
		ast.Column{Name: "tag", SqlType: ast.Deferred(ast.PKKey("tag")), Reference: &ast.ForeignKey{Table: "tag", Column: "tag"}})
	d.AddModifiedTable(post)
	d.AddModifiedTable(tags)

	snapshot, err := d.DB()
	require.NoError(t, err)
	id, err := snapshot.Table("post").Column("tag").TypeID()
	require.NoError(t, err)
	assert.Equal(t, ast.Ty(sqlval.Text), id)

	// The draft itself keeps the unresolved declaration.
	assert.False(t, d.Raw().Table("post").Column("tag").SqlType.IsKnown())
}

func TestCommitBuildsChain(t *testing.T) {
	ms := newMem(t)
	first, second := commitBlog(t, ms, "sqlite", "postgres")

	assert.Empty(t, first.From)
	assert.Equal(t, first.Name, second.From)
	assert.Equal(t, []string{"pg", "sqlite"}, second.Backends())
	assert.NotEmpty(t, second.Fingerprint)
	assert.True(t, ms.Draft().IsEmpty())

	// Only the first migration bootstraps the bookkeeping table.
	testutil.AssertSQLContains(t, first.Up["sqlite"], "CREATE TABLE IF NOT EXISTS lode_migrations")
	testutil.AssertSQLNotContains(t, second.Up["sqlite"], "lode_migrations")
	testutil.AssertSQLContains(t, second.Down["pg"], "DROP TABLE posts")

	all, err := ms.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.Name, all[0].Name)
	assert.Equal(t, second.Name, all[1].Name)

	since, err := ms.Since(first.Name)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, second.Name, since[0].Name)

	_, err = ms.Since("nope")
	testutil.AssertError(t, err, alerr.ErrMigration)

	latest, err := ms.Latest()
	require.NoError(t, err)
	assert.Equal(t, second.Name, latest.Name)
}

func TestCommitWithoutChanges(t *testing.T) {
	ctx := context.Background()
	ms := newMem(t)

	_, err := ms.Commit(ctx, "empty", "sqlite")
	testutil.AssertError(t, err, alerr.ErrNoChanges)
	assert.Contains(t, err.Error(), "no changes")

	first, _ := commitBlog(t, ms, "sqlite")
	_ = first
	ms.Draft().AddModifiedTable(testutil.UsersTable())
	ms.Draft().AddModifiedTable(testutil.PostsTable())
	_, err = ms.Commit(ctx, "0003_same", "sqlite")
	testutil.AssertError(t, err, alerr.ErrNoChanges)

	// State is untouched: tip, store and draft.
	latest, err := ms.Latest()
	require.NoError(t, err)
	assert.Equal(t, "0002_posts", latest.Name)
	_, err = ms.Get("0003_same")
	testutil.AssertError(t, err, alerr.ErrMigrationNotFound)
	assert.False(t, ms.Draft().IsEmpty())
}

func TestCommitRejectsReusedName(t *testing.T) {
	ms := newMem(t)
	commitBlog(t, ms, "sqlite")
	ms.Draft().AddModifiedTable(ast.NewTable("extra", testutil.PK("id")))
	_, err := ms.Commit(context.Background(), "0001_users", "sqlite")
	testutil.AssertError(t, err, alerr.ErrMigrationConflict)
}

func TestCommitUnknownBackend(t *testing.T) {
	ms := newMem(t)
	ms.Draft().AddModifiedTable(testutil.UsersTable())
	_, err := ms.Commit(context.Background(), "0001", "oracle")
	testutil.AssertError(t, err, alerr.ErrUnknownBackend)

	latest, err := ms.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestCommitSurfacesRenderErrors(t *testing.T) {
	ctx := context.Background()
	ms := newMem(t)
	ms.Draft().AddModifiedTable(testutil.UsersTable())
	_, err := ms.Commit(ctx, "0001", "sqlite")
	require.NoError(t, err)

	users := testutil.UsersTable()
	users.AddColumn(testutil.Col("age", sqlval.Int))
	ms.Draft().AddModifiedTable(users)
	_, err = ms.Commit(ctx, "0002", "sqlite")
	testutil.AssertError(t, err, alerr.ErrMigration)
	assert.Equal(t, "0002", err.(*alerr.Error).GetContext()["migration"])
}

// commitDroppedName commits item(id, name), then item(id).
func commitDroppedName(t *testing.T, ms *Migrations, backends ...string) (*Migration, *Migration) {
	t.Helper()
	ctx := context.Background()
	ms.Draft().AddModifiedTable(ast.NewTable("item", testutil.PK("id"), testutil.Col("name", sqlval.Text)))
	first, err := ms.Commit(ctx, "0001_item", backends...)
	require.NoError(t, err)

	ms.Draft().AddModifiedTable(ast.NewTable("item", testutil.PK("id")))
	second, err := ms.Commit(ctx, "0002_drop_name", backends...)
	require.NoError(t, err)
	return first, second
}

func TestCommitRemovedNotNullColumn(t *testing.T) {
	ms := newMem(t)
	_, second := commitDroppedName(t, ms, "sqlite", "pg", "mysql")

	for _, backend := range []string{"sqlite", "pg", "mysql"} {
		down, err := second.DownSQL(backend)
		require.NoError(t, err)
		assert.Contains(t, down, "''", backend)
		assert.NotContains(t, down, "DEFAULT", backend)
	}
}

func TestCommitRemovedCustomColumn(t *testing.T) {
	ctx := context.Background()
	ms := newMem(t)
	email := ast.NewColumn("email", ast.Known(ast.Named("citext")))
	ms.Draft().AddModifiedTable(ast.NewTable("item", testutil.PK("id"), email))
	_, err := ms.Commit(ctx, "0001_item", "pg")
	require.NoError(t, err)

	ms.Draft().AddModifiedTable(ast.NewTable("item", testutil.PK("id")))
	_, err = ms.Commit(ctx, "0002_drop_email", "pg")
	testutil.AssertError(t, err, alerr.ErrNoCustomDefault)
}

func TestDowngradeRestoresRemovedNotNullColumn(t *testing.T) {
	ctx := context.Background()
	ms := newMem(t)
	first, second := commitDroppedName(t, ms, "sqlite")
	c := openSQLite(t)

	require.NoError(t, ms.Apply(ctx, first, c))
	testutil.ExecSQL(t, c.DB(), "INSERT INTO item (name) VALUES ('kept')")
	require.NoError(t, ms.Apply(ctx, second, c))
	assert.Equal(t, []string{"id"}, testutil.SQLiteColumns(t, c.DB(), "item"))
	testutil.ExecSQL(t, c.DB(), "INSERT INTO item DEFAULT VALUES")

	require.NoError(t, ms.Downgrade(ctx, second, c))
	assert.Equal(t, []string{"id", "name"}, testutil.SQLiteColumns(t, c.DB(), "item"))
	testutil.AssertRowCount(t, c.DB(), "item", 2)

	var blank int
	require.NoError(t, c.DB().QueryRow("SELECT COUNT(*) FROM item WHERE name = ''").Scan(&blank))
	assert.Equal(t, 2, blank)

	// The restored column is NOT NULL again and has no default.
	_, err := c.DB().Exec("INSERT INTO item (id) VALUES (10)")
	assert.Error(t, err)
}

func TestAllReportsMissingPredecessor(t *testing.T) {
	store := NewMemStore()
	m := newMigration("0002")
	m.From = "0001"
	require.NoError(t, store.Put(m))
	require.NoError(t, store.SetLatest("0002"))

	ms, err := New(store)
	require.NoError(t, err)
	_, err = ms.All()
	testutil.AssertError(t, err, alerr.ErrMigration)
}

func TestDetachLatest(t *testing.T) {
	ms := newMem(t)
	first, second := commitBlog(t, ms, "sqlite")

	detached, err := ms.DetachLatest()
	require.NoError(t, err)
	assert.Equal(t, second.Name, detached.Name)

	latest, err := ms.Latest()
	require.NoError(t, err)
	assert.Equal(t, first.Name, latest.Name)

	names, err := ms.Detached()
	require.NoError(t, err)
	assert.Equal(t, []string{second.Name}, names)

	_, err = ms.DetachLatest()
	testutil.AssertError(t, err, alerr.ErrMigration)
}

func TestBackends(t *testing.T) {
	ctx := context.Background()
	ms := newMem(t)
	commitBlog(t, ms, "sqlite")

	require.NoError(t, ms.AddBackend(ctx, "postgresql"))
	testutil.AssertError(t, ms.AddBackend(ctx, "pg"), alerr.ErrMigration)

	all, err := ms.All()
	require.NoError(t, err)
	for _, m := range all {
		assert.Equal(t, []string{"pg", "sqlite"}, m.Backends())
	}
	testutil.AssertSQLContains(t, all[0].Up["pg"], "lode_migrations")

	require.NoError(t, ms.RemoveBackend("sqlite"))
	testutil.AssertError(t, ms.RemoveBackend("sqlite"), alerr.ErrUnknownBackend)
	testutil.AssertError(t, ms.RemoveBackend("pg"), alerr.ErrMigration)

	backends, err := ms.Backends()
	require.NoError(t, err)
	assert.Equal(t, []string{"pg"}, backends)
}

func TestRegenerateKeepsScripts(t *testing.T) {
	ms := newMem(t)
	_, second := commitBlog(t, ms, "sqlite", "mysql")

	require.NoError(t, ms.Regenerate(context.Background()))
	again, err := ms.Get(second.Name)
	require.NoError(t, err)
	assert.Equal(t, second.Up, again.Up)
	assert.Equal(t, second.Down, again.Down)
	assert.Equal(t, second.Fingerprint, again.Fingerprint)
}

func TestVerifyFingerprints(t *testing.T) {
	store := NewMemStore()
	ms, err := New(store)
	require.NoError(t, err)
	_, second := commitBlog(t, ms, "sqlite")
	require.NoError(t, ms.Verify())

	tampered := second.Clone()
	tampered.DB.RemoveTable("posts")
	require.NoError(t, store.Put(tampered))
	testutil.AssertError(t, ms.Verify(), alerr.ErrMigrationChecksum)
}

func TestPendingDescribesDraft(t *testing.T) {
	ms := newMem(t)
	commitBlog(t, ms, "sqlite")
	users := testutil.UsersTable()
	users.AddColumn(testutil.NullCol("bio", sqlval.Text))
	ms.Draft().AddModifiedTable(users)
	ms.Draft().AddModifiedTable(testutil.PostsTable())

	ops, err := ms.Pending()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, ast.OpAddColumn, ops[0].Type())
}

// -----------------------------------------------------------------------------
// MemStore document
// -----------------------------------------------------------------------------

func TestMemStoreDocument(t *testing.T) {
	store := NewMemStore()
	ms, err := New(store)
	require.NoError(t, err)
	first, second := commitBlog(t, ms, "sqlite")
	ms.Draft().AddModifiedTable(ast.NewTable("draft_only", testutil.PK("id")))
	require.NoError(t, ms.SaveDraft())

	data, err := json.Marshal(store)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "migrations")
	assert.Contains(t, doc, "current")
	assert.JSONEq(t, `"0002_posts"`, string(doc["latest"]))

	var m1 map[string]json.RawMessage
	var migrations map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["migrations"], &migrations))
	require.NoError(t, json.Unmarshal(migrations[first.Name], &m1))
	assert.JSONEq(t, `null`, string(m1["from"]))
	for _, key := range []string{"name", "db", "up", "down"} {
		assert.Contains(t, m1, key)
	}

	loaded, err := MemStoreFromJSON(data)
	require.NoError(t, err)
	again, err := New(loaded)
	require.NoError(t, err)
	all, err := again.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.Up, all[1].Up)
	assert.Equal(t, second.DB.TableNames(), all[1].DB.TableNames())
	assert.Equal(t, []string{"draft_only"}, again.Draft().Raw().TableNames())

	_, err = MemStoreFromJSON([]byte("{"))
	testutil.AssertError(t, err, alerr.ErrMigrationStore)
}

package migrate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/engine"
	"github.com/hlop3z/lodestone/internal/lockfile"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/internal/testutil"
)

func newFiles(t *testing.T) (*Migrations, *FileStore) {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "migrations"))
	ms, err := New(store)
	require.NoError(t, err)
	return ms, store
}

func TestFileStoreLayout(t *testing.T) {
	ms, store := newFiles(t)
	first, second := commitBlog(t, ms, "sqlite", "pg")

	root := store.Root()
	for _, f := range []string{
		"state.json",
		lockfile.Name,
		"0001_users/info.json",
		"0001_users/users.table",
		"0001_users/sqlite_up.sql",
		"0001_users/sqlite_down.sql",
		"0001_users/pg_up.sql",
		"0002_posts/posts.table",
		"0002_posts/pg_down.sql",
	} {
		assert.FileExists(t, filepath.Join(root, filepath.FromSlash(f)))
	}
	// users did not change in the second migration; it is not written again.
	assert.NoFileExists(t, filepath.Join(root, "0002_posts", "users.table"))

	var info migrationInfo
	require.NoError(t, readJSON(filepath.Join(root, "0002_posts", infoFile), &info))
	require.NotNil(t, info.From)
	assert.Equal(t, first.Name, *info.From)
	assert.Equal(t, map[string]string{"users": first.Name}, info.TableBases)
	assert.Equal(t, []string{"pg", "sqlite"}, info.Backends)
	assert.Equal(t, second.Fingerprint, info.Fingerprint)

	var state storeState
	require.NoError(t, readJSON(filepath.Join(root, stateFile), &state))
	require.NotNil(t, state.Latest)
	assert.Equal(t, second.Name, *state.Latest)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ms, store := newFiles(t)
	_, second := commitBlog(t, ms, "sqlite")

	// A third migration reuses users through two hops.
	posts := testutil.PostsTable()
	posts.AddColumn(testutil.NullCol("body", sqlval.Text))
	ms.Draft().AddModifiedTable(testutil.UsersTable())
	ms.Draft().AddModifiedTable(posts)
	third, err := ms.Commit(context.Background(), "0003_body", "sqlite")
	require.NoError(t, err)

	var info migrationInfo
	require.NoError(t, readJSON(filepath.Join(store.Root(), "0003_body", infoFile), &info))
	assert.Equal(t, map[string]string{"users": "0001_users"}, info.TableBases)

	reopened, err := New(NewFileStore(store.Root()))
	require.NoError(t, err)
	got, err := reopened.Get(third.Name)
	require.NoError(t, err)
	assert.Equal(t, second.Name, got.From)
	assert.Empty(t, engine.Diff(third.DB, got.DB))
	assert.Equal(t, third.Up, got.Up)
	assert.Equal(t, third.Down, got.Down)

	fp, err := engine.ComputeFingerprint(got.DB)
	require.NoError(t, err)
	assert.Equal(t, third.Fingerprint, fp.Root)
	require.NoError(t, reopened.Verify())

	_, err = reopened.Get("missing")
	testutil.AssertError(t, err, alerr.ErrMigrationNotFound)
}

func TestFileStoreTypes(t *testing.T) {
	ms, store := newFiles(t)
	ms.Draft().AddType(ast.CustomKey("money"), ast.KnownType(sqlval.BigInt))
	ms.Draft().AddModifiedTable(ast.NewTable("account", testutil.PK("id"),
		ast.Column{Name: "balance", SqlType: ast.Deferred(ast.CustomKey("money"))}))
	m, err := ms.Commit(context.Background(), "0001", "sqlite")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(store.Root(), "0001", typesFile))

	got, err := store.Get(m.Name)
	require.NoError(t, err)
	ty, ok := got.DB.Type(ast.CustomKey("money"))
	require.True(t, ok)
	assert.True(t, ty.Equal(ast.KnownType(sqlval.BigInt)))
}

func TestFileStoreDraft(t *testing.T) {
	ms, store := newFiles(t)
	ms.Draft().AddModifiedTable(testutil.UsersTable())
	require.NoError(t, ms.SaveDraft())
	assert.FileExists(t, filepath.Join(store.Root(), CurrentName, "users.table"))

	reopened, err := New(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, reopened.Draft().Raw().TableNames())

	require.NoError(t, reopened.ClearDraft())
	assert.NoDirExists(t, filepath.Join(store.Root(), CurrentName))
	assert.True(t, reopened.Draft().IsEmpty())

	// The draft directory is never listed as a migration.
	names, err := store.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFileStoreDetectsEditedScript(t *testing.T) {
	ms, store := newFiles(t)
	first, _ := commitBlog(t, ms, "sqlite")
	require.NoError(t, ms.Verify())

	path := filepath.Join(store.Root(), first.Name, "sqlite_up.sql")
	require.NoError(t, os.WriteFile(path, []byte("DROP TABLE users;\n"), 0o644))
	testutil.AssertError(t, ms.Verify(), alerr.ErrMigrationChecksum)

	require.NoError(t, store.Relock())
	require.NoError(t, ms.Verify())
}

func TestFileStoreDeleteAll(t *testing.T) {
	ms, store := newFiles(t)
	commitBlog(t, ms, "sqlite")
	ms.Draft().AddModifiedTable(testutil.UsersTable())
	require.NoError(t, ms.SaveDraft())

	require.NoError(t, ms.DeleteAll())
	names, err := store.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
	latest, err := ms.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.DirExists(t, filepath.Join(store.Root(), CurrentName))
}

func TestFileStoreRejectsBadState(t *testing.T) {
	_, store := newFiles(t)
	require.NoError(t, os.MkdirAll(store.Root(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), stateFile), []byte("{"), 0o644))
	_, err := store.Latest()
	testutil.AssertError(t, err, alerr.ErrMigrationStore)

	var syntax *json.SyntaxError
	assert.ErrorAs(t, err, &syntax)
}

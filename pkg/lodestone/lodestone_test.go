package lodestone_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlop3z/lodestone/internal/db"
	"github.com/hlop3z/lodestone/internal/query"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/internal/testutil"
	"github.com/hlop3z/lodestone/pkg/lodestone"
)

const models = `
models:
  - name: users
    fields:
      - {name: id, type: bigint, auto: true}
      - {name: name, type: text}
  - name: posts
    fields:
      - {name: id, type: bigint, auto: true}
      - {name: author, ref: users}
      - {name: title, type: text}
      - {name: tags, many: tags}
  - name: tags
    fields:
      - {name: tag, type: text, pk: true}
`

type project struct {
	migrations string
	models     string
	database   string
}

func newProject(t *testing.T) project {
	t.Helper()
	dir := t.TempDir()
	p := project{
		migrations: filepath.Join(dir, "lode_migrations"),
		models:     filepath.Join(dir, "models"),
		database:   filepath.Join(dir, "app.db"),
	}
	testutil.WriteFile(t, filepath.Join(p.models, "blog.yaml"), models)
	return p
}

func (p project) client(t *testing.T, opts ...lodestone.Option) *lodestone.Client {
	t.Helper()
	opts = append([]lodestone.Option{
		lodestone.WithConnection("sqlite", p.database),
		lodestone.WithMigrationsDir(p.migrations),
		lodestone.WithModelsDir(p.models),
	}, opts...)
	c, err := lodestone.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientWorkflow(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	reg := prometheus.NewRegistry()
	c := p.client(t, lodestone.WithMetrics(reg))
	assert.Equal(t, "sqlite", c.Backend())

	m, err := c.MakeMigration(ctx, "0001_blog")
	require.NoError(t, err)
	assert.Equal(t, []string{"sqlite"}, m.Backends())

	_, err = c.MakeMigration(ctx, "0002")
	assert.True(t, errors.Is(err, lodestone.ErrNoChanges))

	pending, err := c.Unapplied(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	applied, err := c.Migrate(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 1)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st, 1)
	assert.True(t, st[0].Applied)

	ex, err := c.Executor()
	require.NoError(t, err)
	conn := ex.(*db.Conn)
	ada, err := conn.InsertReturningPK(ctx, "users", "id", sqlval.BigInt, []string{"name"}, []sqlval.SqlVal{sqlval.NewText("ada")})
	require.NoError(t, err)
	require.NoError(t, conn.Insert(ctx, "posts", []string{"author", "title"}, []sqlval.SqlVal{ada, sqlval.NewText("notes")}))

	rows, err := c.Load(ctx, query.From("posts", query.Field{Name: "title", Type: sqlval.Text}).
		Filter(query.Subfilter("author", "users", "id", query.Eq("name", query.Lit("ada")))))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sqlval.NewText("notes"), rows[0][0])

	n, err := promtest.GatherAndCount(reg, "lode_migrations_applied_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cleared, err := c.ClearData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "posts_tags_Many", "tags", "users"}, cleared)

	undone, err := c.Rollback(ctx, "")
	require.NoError(t, err)
	assert.Len(t, undone, 1)
}

func TestClientUsesSavedConnection(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.MkdirAll(p.migrations, 0o755))
	require.NoError(t, db.ConnectionSpec{Backend: "sqlite", Conn: p.database}.Save(p.migrations))

	c, err := lodestone.New(lodestone.WithMigrationsDir(p.migrations))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "sqlite", c.Backend())
}

func TestClientWithoutSpec(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := lodestone.New(lodestone.WithMigrationsDir(t.TempDir()), lodestone.WithMetrics(reg))
	require.Error(t, err)
	assert.Equal(t, "E4002", lodestone.Code(err))

	// A failed New leaves nothing registered behind.
	c, err := lodestone.New(lodestone.WithOffline(), lodestone.WithMetrics(reg))
	require.NoError(t, err)
	c.Close()
}

func TestOfflineClient(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	c := p.client(t, lodestone.WithOffline(), lodestone.WithBackends("pg", "mysql"))
	assert.Empty(t, c.Backend())

	m, err := c.MakeMigration(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"mysql", "pg"}, m.Backends())
	assert.Contains(t, m.Name, "_auto")

	_, err = c.Migrate(ctx)
	assert.True(t, errors.Is(err, lodestone.ErrNotConnected))
	_, err = c.Executor()
	assert.True(t, errors.Is(err, lodestone.ErrNotConnected))
}

func TestEmbeddedMigrations(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	offline := p.client(t, lodestone.WithOffline())
	_, err := offline.MakeMigration(ctx, "0001_blog")
	require.NoError(t, err)

	store := offline.Migrations().Store()
	m, err := store.Get("0001_blog")
	require.NoError(t, err)
	doc := []byte(`{"migrations": {"0001_blog": ` + mustJSON(t, m) + `}, "current": null, "latest": "0001_blog"}`)

	ms, err := lodestone.MigrationsFromJSON(doc)
	require.NoError(t, err)
	c := p.client(t, lodestone.WithMigrations(ms))
	applied, err := c.Migrate(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)

	_, err = lodestone.MigrationsFromJSON([]byte("{"))
	require.Error(t, err)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

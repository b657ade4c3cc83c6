//go:build integration

package lodestone_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlop3z/lodestone/internal/db"
	"github.com/hlop3z/lodestone/internal/query"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/internal/testutil"
	"github.com/hlop3z/lodestone/pkg/lodestone"
)

const serverModels = `
models:
  - name: users
    fields:
      - {name: id, type: bigint, auto: true}
      - {name: email, type: text, unique: true}
  - name: posts
    fields:
      - {name: id, type: bigint, auto: true}
      - {name: author, ref: users}
      - {name: title, type: text}
      - {name: score, type: real, default: 0.5}
`

const serverModelsV2 = `
models:
  - name: users
    fields:
      - {name: id, type: bigint, auto: true}
      - {name: email, type: text}
      - {name: nickname, type: text, nullable: true}
  - name: posts
    fields:
      - {name: id, type: bigint, auto: true}
      - {name: author, ref: users}
      - {name: title, type: text}
`

func TestServerBackends(t *testing.T) {
	backends := map[string]func(*testing.T) string{
		"pg":    testutil.StartPostgres,
		"mysql": testutil.StartMariaDB,
	}
	for backend, start := range backends {
		t.Run(backend, func(t *testing.T) {
			conn := start(t)
			dir := t.TempDir()
			models := filepath.Join(dir, "models", "blog.yaml")
			testutil.WriteFile(t, models, serverModels)

			c, err := lodestone.New(
				lodestone.WithConnection(backend, conn),
				lodestone.WithMigrationsDir(filepath.Join(dir, "lode_migrations")),
				lodestone.WithModelsDir(filepath.Dir(models)),
			)
			require.NoError(t, err)
			defer c.Close()
			assert.Equal(t, backend, c.Backend())
			ctx := context.Background()

			_, err = c.MakeMigration(ctx, "0001_blog")
			require.NoError(t, err)
			applied, err := c.Migrate(ctx)
			require.NoError(t, err)
			require.Len(t, applied, 1)

			ex, err := c.Executor()
			require.NoError(t, err)
			dbc := ex.(*db.Conn)
			ada, err := dbc.InsertReturningPK(ctx, "users", "id", sqlval.BigInt,
				[]string{"email"}, []sqlval.SqlVal{sqlval.NewText("ada@example.com")})
			require.NoError(t, err)
			require.NoError(t, dbc.Insert(ctx, "posts", []string{"author", "title"},
				[]sqlval.SqlVal{ada, sqlval.NewText("engines")}))

			q := query.From("posts",
				query.Field{Name: "title", Type: sqlval.Text},
				query.Field{Name: "score", Type: sqlval.Real},
			).Filter(query.Subfilter("author", "users", "id", query.Eq("email", query.Lit("ada@example.com"))))
			rows, err := c.Load(ctx, q)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, sqlval.NewText("engines"), rows[0][0])
			assert.Equal(t, sqlval.NewReal(0.5), rows[0][1])

			// Dropping a unique constraint and a default, and adding a
			// nullable column, keeps the data.
			testutil.WriteFile(t, models, serverModelsV2)
			_, err = c.MakeMigration(ctx, "0002_relax")
			require.NoError(t, err)
			_, err = c.Migrate(ctx)
			require.NoError(t, err)
			rows, err = c.Load(ctx, query.From("users", query.Field{Name: "nickname", Type: sqlval.Text}))
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.True(t, rows[0][0].IsNull())

			undone, err := c.Rollback(ctx, "0001_blog")
			require.NoError(t, err)
			require.Len(t, undone, 1)
			ok, err := dbc.HasTable(ctx, "posts")
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = c.Rollback(ctx, "")
			require.NoError(t, err)
			ok, err = dbc.HasTable(ctx, "users")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

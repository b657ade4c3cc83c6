package migrate

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/engine"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Rendered holds the scripts of one migration, keyed by backend.
type Rendered struct {
	Up   map[string]string
	Down map[string]string
}

// Render produces the up script (from -> to) and down script (to -> from)
// for every backend. With bootstrap set, the up script also creates the
// bookkeeping table. Backends render concurrently; the first failure
// cancels the rest.
func Render(ctx context.Context, from, to *ast.ADB, bootstrap bool, backends []string) (*Rendered, error) {
	if from == nil {
		from = ast.NewADB()
	}
	if len(backends) == 0 {
		return nil, alerr.New(alerr.ErrUnknownBackend, "no backends to render").
			WithHelp("pass at least one backend, e.g. sqlite")
	}
	dialects := make([]dialect.Dialect, len(backends))
	for i, name := range backends {
		d, err := dialect.Get(name)
		if err != nil {
			return nil, err
		}
		dialects[i] = d
	}

	upOps := engine.Diff(from, to)
	if bootstrap {
		upOps = append(upOps, &ast.AddTableIfNotExists{Def: BookkeepingTable()})
	}
	downOps := engine.Diff(to, from)
	if err := fillRestoredColumns(downOps); err != nil {
		return nil, err
	}

	ups := make([]string, len(dialects))
	downs := make([]string, len(dialects))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range dialects {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			up, err := d.CreateMigrationSQL(from, upOps)
			if err != nil {
				return withBackend(err, d.Name())
			}
			down, err := d.CreateMigrationSQL(to, downOps)
			if err != nil {
				return withBackend(err, d.Name())
			}
			ups[i], downs[i] = up, down
			slog.Debug("rendered migration SQL", "backend", d.Name(), "up_ops", len(upOps), "down_ops", len(downOps))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Rendered{Up: make(map[string]string, len(dialects)), Down: make(map[string]string, len(dialects))}
	for i, d := range dialects {
		out.Up[d.Name()] = ups[i]
		out.Down[d.Name()] = downs[i]
	}
	return out, nil
}

// fillRestoredColumns gives every NOT NULL column without a default that the
// down script adds back the zero value of its type, since the rows it had
// are gone. Up scripts get no such fill and reject the column instead.
func fillRestoredColumns(ops []ast.Operation) error {
	for _, op := range ops {
		add, ok := op.(*ast.AddColumn)
		if !ok {
			continue
		}
		col := &add.Column
		if col.Nullable || col.Default != nil || col.Auto {
			continue
		}
		id, err := col.TypeID()
		if err != nil {
			return err
		}
		zero, ok := sqlval.Zero(id.Ty)
		if id.IsNamed() || !ok {
			return alerr.Newf(alerr.ErrNoCustomDefault, "column %q of custom type %s has no zero value to restore rows with", col.Name, id).
				WithTable(add.TableName).WithColumn(col.Name).
				WithHelp("give the column a default or make it nullable")
		}
		add.Fill = &zero
	}
	return nil
}

func withBackend(err error, backend string) error {
	if ae, ok := err.(*alerr.Error); ok {
		return ae.WithBackend(backend)
	}
	return alerr.Wrap(alerr.ErrMigration, err, "failed to render migration").WithBackend(backend)
}

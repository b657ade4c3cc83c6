package migrate

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/db"
	"github.com/hlop3z/lodestone/internal/metrics"
	"github.com/hlop3z/lodestone/internal/query"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Conn is the connection a migration runs against. *db.Conn satisfies it.
type Conn interface {
	query.Executor
	Backend() string
	HasTable(ctx context.Context, table string) (bool, error)
	// SchemaTx runs fn in a transaction suitable for schema changes.
	SchemaTx(ctx context.Context, fn func(tx *db.Tx) error) error
}

var _ Conn = (*db.Conn)(nil)

// -----------------------------------------------------------------------------
// Single migrations
// -----------------------------------------------------------------------------

// Apply runs the up script of m for the connection's backend and records m
// as applied, all in one transaction. Any failure rolls everything back.
func (ms *Migrations) Apply(ctx context.Context, m *Migration, conn Conn) error {
	return ms.run(ctx, m, conn, metrics.Up)
}

// Downgrade runs the down script of m and removes its bookkeeping row, all in
// one transaction.
func (ms *Migrations) Downgrade(ctx context.Context, m *Migration, conn Conn) error {
	return ms.run(ctx, m, conn, metrics.Down)
}

func (ms *Migrations) run(ctx context.Context, m *Migration, conn Conn, direction string) error {
	backend := conn.Backend()
	script, err := m.UpSQL(backend)
	if direction == metrics.Down {
		script, err = m.DownSQL(backend)
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if direction == metrics.Up {
		slog.Info("applying migration", "migration", m.Name, "backend", backend)
	} else {
		slog.Info("rolling back migration", "migration", m.Name, "backend", backend)
	}

	// A script that has started runs to completion or rolls back; it is not
	// abandoned halfway because the caller stopped waiting.
	runCtx := context.WithoutCancel(ctx)
	start := time.Now()
	err = conn.SchemaTx(runCtx, func(tx *db.Tx) error {
		if err := tx.Execute(runCtx, script); err != nil {
			return err
		}
		if direction == metrics.Up {
			return tx.Insert(runCtx, TableName, []string{nameColumn}, []sqlval.SqlVal{sqlval.NewText(m.Name)})
		}
		_, err := tx.DeleteWhere(runCtx, TableName, query.Eq(nameColumn, query.Lit(m.Name)))
		return err
	})
	if err != nil {
		ms.metrics.MigrationFailed(backend, direction)
		if ae, ok := err.(*alerr.Error); ok {
			return ae.WithMigration(m.Name).With("direction", direction)
		}
		return alerr.Wrap(alerr.ErrMigration, err, "migration failed").WithMigration(m.Name).With("direction", direction)
	}
	elapsed := time.Since(start)
	ms.metrics.MigrationDone(backend, direction, elapsed)
	slog.Debug("migration finished", "migration", m.Name, "direction", direction, "elapsed", elapsed)
	return nil
}

// -----------------------------------------------------------------------------
// Chain state against a database
// -----------------------------------------------------------------------------

// Recorded returns the names in the bookkeeping table. A missing table means
// nothing has been applied.
func Recorded(ctx context.Context, conn Conn) (map[string]bool, error) {
	ok, err := conn.HasTable(ctx, TableName)
	if err != nil || !ok {
		return map[string]bool{}, err
	}
	rows, err := query.From(TableName, query.Field{Name: nameColumn, Type: sqlval.Text}).Load(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(rows))
	for _, row := range rows {
		name, err := row[0].Text()
		if err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, nil
}

// Unapplied returns the chain migrations missing from the bookkeeping table,
// oldest first.
func (ms *Migrations) Unapplied(ctx context.Context, conn Conn) ([]*Migration, error) {
	applied, err := Recorded(ctx, conn)
	if err != nil {
		return nil, err
	}
	all, err := ms.All()
	if err != nil {
		return nil, err
	}
	var out []*Migration
	for _, m := range all {
		if !applied[m.Name] {
			out = append(out, m)
		}
	}
	return out, nil
}

// LastApplied walks back from the tip to the first recorded migration. It
// returns nil when nothing has been applied.
func (ms *Migrations) LastApplied(ctx context.Context, conn Conn) (*Migration, error) {
	applied, err := Recorded(ctx, conn)
	if err != nil {
		return nil, err
	}
	all, err := ms.All()
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if applied[all[i].Name] {
			return all[i], nil
		}
	}
	return nil, nil
}

// Status pairs a chain migration with whether it is applied.
type Status struct {
	Migration *Migration
	Applied   bool
}

// Status reports every chain migration, oldest first.
func (ms *Migrations) Status(ctx context.Context, conn Conn) ([]Status, error) {
	applied, err := Recorded(ctx, conn)
	if err != nil {
		return nil, err
	}
	all, err := ms.All()
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(all))
	for i, m := range all {
		out[i] = Status{Migration: m, Applied: applied[m.Name]}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Moving the database along the chain
// -----------------------------------------------------------------------------

// Migrate applies every unapplied migration in order and returns them.
func (ms *Migrations) Migrate(ctx context.Context, conn Conn) ([]*Migration, error) {
	return ms.MigrateTo(ctx, conn, "")
}

// MigrateTo applies unapplied migrations in order, stopping after target.
// An empty target applies everything.
func (ms *Migrations) MigrateTo(ctx context.Context, conn Conn, target string) ([]*Migration, error) {
	pending, err := ms.Unapplied(ctx, conn)
	if err != nil {
		return nil, err
	}
	if target != "" && !slices.ContainsFunc(pending, func(m *Migration) bool { return m.Name == target }) {
		return nil, alerr.Newf(alerr.ErrMigrationNotFound, "%s is not an unapplied migration", target).WithMigration(target)
	}
	var done []*Migration
	for _, m := range pending {
		if err := ms.Apply(ctx, m, conn); err != nil {
			return done, err
		}
		done = append(done, m)
		if m.Name == target {
			break
		}
	}
	return done, nil
}

// Rollback downgrades applied migrations newest first until target is the
// last applied one. An empty target rolls back only the last applied
// migration. It returns the migrations rolled back.
func (ms *Migrations) Rollback(ctx context.Context, conn Conn, target string) ([]*Migration, error) {
	applied, err := Recorded(ctx, conn)
	if err != nil {
		return nil, err
	}
	all, err := ms.All()
	if err != nil {
		return nil, err
	}

	stop := -1
	if target != "" {
		stop = slices.IndexFunc(all, func(m *Migration) bool { return m.Name == target })
		if stop < 0 {
			return nil, alerr.Newf(alerr.ErrMigrationNotFound, "no migration named %q in the chain", target).WithMigration(target)
		}
	}

	var undo []*Migration
	for i := len(all) - 1; i > stop; i-- {
		if applied[all[i].Name] {
			undo = append(undo, all[i])
			if target == "" {
				break
			}
		}
	}
	if len(undo) == 0 {
		if target == "" {
			return nil, alerr.New(alerr.ErrMigration, "no migrations applied")
		}
		return nil, alerr.Newf(alerr.ErrMigration, "%s is already the latest applied migration", target).
			WithMigration(target)
	}

	var done []*Migration
	for _, m := range undo {
		if err := ms.Downgrade(ctx, m, conn); err != nil {
			return done, err
		}
		done = append(done, m)
	}
	return done, nil
}

// Unmigrate downgrades every applied migration, newest first.
func (ms *Migrations) Unmigrate(ctx context.Context, conn Conn) ([]*Migration, error) {
	applied, err := Recorded(ctx, conn)
	if err != nil {
		return nil, err
	}
	all, err := ms.All()
	if err != nil {
		return nil, err
	}
	var done []*Migration
	for i := len(all) - 1; i >= 0; i-- {
		if !applied[all[i].Name] {
			continue
		}
		if err := ms.Downgrade(ctx, all[i], conn); err != nil {
			return done, err
		}
		done = append(done, all[i])
	}
	return done, nil
}

// Clear deletes every migration from the store and every bookkeeping row
// from the database. The schema and other data are left alone.
func (ms *Migrations) Clear(ctx context.Context, conn Conn) error {
	if err := ms.DeleteAll(); err != nil {
		return err
	}
	ok, err := conn.HasTable(ctx, TableName)
	if err != nil || !ok {
		return err
	}
	_, err = conn.DeleteWhere(ctx, TableName, query.True{})
	return err
}

// Collapse replaces the whole chain with one migration named name that
// builds the applied schema from nothing, and records it as applied. Every
// migration must already be applied. Without backends, those of the tip are
// rendered.
func (ms *Migrations) Collapse(ctx context.Context, conn Conn, name string, backends ...string) (*Migration, error) {
	all, err := ms.All()
	if err != nil {
		return nil, err
	}
	switch len(all) {
	case 0:
		return nil, alerr.New(alerr.ErrMigration, "there are no migrations to collapse")
	case 1:
		return nil, alerr.New(alerr.ErrMigration, "cannot collapse a single migration").WithMigration(all[0].Name)
	}
	pending, err := ms.Unapplied(ctx, conn)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return nil, alerr.Newf(alerr.ErrMigration, "%d migrations are not applied", len(pending)).
			WithMigration(pending[0].Name).
			WithHelp("run 'lode migrate' before collapsing")
	}
	tip := all[len(all)-1]
	if len(backends) == 0 {
		backends = tip.Backends()
	}
	if _, err := ms.store.Get(name); err == nil && !slices.ContainsFunc(all, func(m *Migration) bool { return m.Name == name }) {
		return nil, alerr.Newf(alerr.ErrMigrationConflict, "migration %s already exists", name).WithMigration(name)
	}

	m, err := ms.build(ctx, name, nil, tip.DB, backends)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	err = conn.SchemaTx(runCtx, func(tx *db.Tx) error {
		if _, err := tx.DeleteWhere(runCtx, TableName, query.True{}); err != nil {
			return err
		}
		return tx.Insert(runCtx, TableName, []string{nameColumn}, []sqlval.SqlVal{sqlval.NewText(m.Name)})
	})
	if err != nil {
		return nil, err
	}

	if err := ms.DeleteAll(); err != nil {
		return nil, err
	}
	if err := ms.store.Put(m); err != nil {
		return nil, err
	}
	if err := ms.store.SetLatest(m.Name); err != nil {
		return nil, err
	}
	slog.Info("collapsed migrations", "migration", m.Name, "replaced", len(all))
	return m, nil
}

// ClearData deletes every row from the tables of the last applied snapshot,
// referencing tables first. The bookkeeping table is kept.
func (ms *Migrations) ClearData(ctx context.Context, conn Conn) ([]string, error) {
	last, err := ms.LastApplied(ctx, conn)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, alerr.New(alerr.ErrMigration, "no migrations have been applied, so no data is recognized")
	}
	order := deleteOrder(last.DB)
	err = conn.SchemaTx(ctx, func(tx *db.Tx) error {
		for _, table := range order {
			slog.Info("deleting data", "table", table)
			if _, err := tx.DeleteWhere(ctx, table, query.True{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// deleteOrder sorts tables so that every table comes before the tables it
// references. Tables caught in a reference cycle are appended by name.
func deleteOrder(snapshot *ast.ADB) []string {
	refs := map[string]map[string]bool{}
	referencedBy := map[string]int{}
	for _, t := range snapshot.Tables() {
		refs[t.Name] = map[string]bool{}
		for _, c := range t.Columns {
			if c.Reference != nil && c.Reference.Table != t.Name && snapshot.Table(c.Reference.Table) != nil {
				refs[t.Name][c.Reference.Table] = true
			}
		}
	}
	for _, targets := range refs {
		for target := range targets {
			referencedBy[target]++
		}
	}

	var queue, out []string
	for _, name := range snapshot.TableNames() {
		if referencedBy[name] == 0 {
			queue = append(queue, name)
		}
	}
	done := map[string]bool{}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		out = append(out, name)
		done[name] = true
		var next []string
		for target := range refs[name] {
			referencedBy[target]--
			if referencedBy[target] == 0 {
				next = append(next, target)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}
	for _, name := range snapshot.TableNames() {
		if !done[name] {
			out = append(out, name)
		}
	}
	return out
}

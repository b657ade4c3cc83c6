package migrate

import (
	"context"
	"log/slog"
	"slices"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/engine"
	"github.com/hlop3z/lodestone/internal/metrics"
)

// Migrations is the migration chain held by a Store together with the
// draft that the next Commit turns into a migration.
type Migrations struct {
	store   Store
	draft   *Draft
	metrics *metrics.Metrics
}

// Option configures Migrations.
type Option func(*Migrations)

// WithMetrics records apply and rollback activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ms *Migrations) { ms.metrics = m }
}

// New loads the draft persisted in store.
func New(store Store, opts ...Option) (*Migrations, error) {
	raw, err := store.LoadDraft()
	if err != nil {
		return nil, err
	}
	ms := &Migrations{store: store, draft: draftFrom(raw)}
	for _, opt := range opts {
		opt(ms)
	}
	return ms, nil
}

// Store returns the underlying store.
func (ms *Migrations) Store() Store { return ms.store }

// Draft returns the draft the next Commit will snapshot.
func (ms *Migrations) Draft() *Draft { return ms.draft }

// SetDraft replaces the draft.
func (ms *Migrations) SetDraft(d *Draft) { ms.draft = d }

// SaveDraft persists the draft.
func (ms *Migrations) SaveDraft() error {
	return ms.store.SaveDraft(ms.draft.Raw())
}

// ClearDraft empties the draft and removes it from the store.
func (ms *Migrations) ClearDraft() error {
	ms.draft.Reset()
	return ms.store.ClearDraft()
}

// Get returns the named migration.
func (ms *Migrations) Get(name string) (*Migration, error) {
	return ms.store.Get(name)
}

// Latest returns the tip of the chain, or nil when there are no migrations.
func (ms *Migrations) Latest() (*Migration, error) {
	name, err := ms.store.Latest()
	if err != nil || name == "" {
		return nil, err
	}
	return ms.store.Get(name)
}

// predecessor loads m.From, reporting a broken chain as ErrMigration.
func (ms *Migrations) predecessor(m *Migration) (*Migration, error) {
	if m.From == "" {
		return nil, nil
	}
	prev, err := ms.store.Get(m.From)
	if alerr.Is(err, alerr.ErrMigrationNotFound) {
		return nil, alerr.Migration("migration %s follows %s, which does not exist", m.Name, m.From).
			WithMigration(m.Name)
	}
	return prev, err
}

// All returns the chain from the earliest migration to the tip.
func (ms *Migrations) All() ([]*Migration, error) {
	var chain []*Migration
	seen := map[string]bool{}
	m, err := ms.Latest()
	for m != nil && err == nil {
		if seen[m.Name] {
			return nil, alerr.Migration("migration chain loops at %s", m.Name).WithMigration(m.Name)
		}
		seen[m.Name] = true
		chain = append(chain, m)
		m, err = ms.predecessor(m)
	}
	if err != nil {
		return nil, err
	}
	slices.Reverse(chain)
	return chain, nil
}

// Since returns the migrations after the named one, oldest first.
func (ms *Migrations) Since(name string) ([]*Migration, error) {
	all, err := ms.All()
	if err != nil {
		return nil, err
	}
	for i, m := range all {
		if m.Name == name {
			return all[i+1:], nil
		}
	}
	return nil, alerr.Migration("migration %s is not in the chain", name).WithMigration(name)
}

// Detached lists stored migrations that are not part of the chain.
func (ms *Migrations) Detached() ([]string, error) {
	all, err := ms.All()
	if err != nil {
		return nil, err
	}
	names, err := ms.store.Names()
	if err != nil {
		return nil, err
	}
	inChain := map[string]bool{}
	for _, m := range all {
		inChain[m.Name] = true
	}
	var out []string
	for _, name := range names {
		if !inChain[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Building the chain
// -----------------------------------------------------------------------------

// tipDB returns the snapshot of the chain tip, or an empty one.
func (ms *Migrations) tipDB() (*Migration, *ast.ADB, error) {
	tip, err := ms.Latest()
	if err != nil {
		return nil, nil, err
	}
	if tip == nil {
		return nil, ast.NewADB(), nil
	}
	return tip, tip.DB, nil
}

// Pending describes what Commit would record: the operations from the chain
// tip to the draft.
func (ms *Migrations) Pending() ([]ast.Operation, error) {
	to, err := ms.draft.DB()
	if err != nil {
		return nil, err
	}
	_, from, err := ms.tipDB()
	if err != nil {
		return nil, err
	}
	return engine.Diff(from, to), nil
}

// Commit snapshots the draft as a new migration named name on top of the
// chain tip, rendering SQL for every backend. When the draft matches the
// tip it returns ErrNoChanges and leaves everything untouched.
func (ms *Migrations) Commit(ctx context.Context, name string, backends ...string) (*Migration, error) {
	to, err := ms.draft.DB()
	if err != nil {
		return nil, err
	}
	tip, _, err := ms.tipDB()
	if err != nil {
		return nil, err
	}
	m, err := ms.commitTo(ctx, name, tip, to, backends)
	if err != nil {
		return nil, err
	}
	ms.draft.Reset()
	if err := ms.store.ClearDraft(); err != nil {
		return nil, err
	}
	return m, nil
}

// commitTo records a migration from -> to and advances the tip.
func (ms *Migrations) commitTo(ctx context.Context, name string, from *Migration, to *ast.ADB, backends []string) (*Migration, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := ms.store.Get(name); err == nil {
		return nil, alerr.Newf(alerr.ErrMigrationConflict, "migration %s already exists", name).
			WithMigration(name).
			WithHelp("choose another name")
	} else if !alerr.Is(err, alerr.ErrMigrationNotFound) {
		return nil, err
	}

	fromDB := ast.NewADB()
	if from != nil {
		fromDB = from.DB
	}
	if !engine.HasChanges(engine.Diff(fromDB, to)) {
		return nil, alerr.New(alerr.ErrNoChanges, "no changes").WithMigration(name)
	}

	m, err := ms.build(ctx, name, from, to, backends)
	if err != nil {
		return nil, err
	}
	if err := ms.store.Put(m); err != nil {
		return nil, err
	}
	if err := ms.store.SetLatest(m.Name); err != nil {
		return nil, err
	}
	slog.Info("created migration", "migration", m.Name, "from", m.From, "backends", m.Backends())
	return m, nil
}

// build renders a migration without storing it.
func (ms *Migrations) build(ctx context.Context, name string, from *Migration, to *ast.ADB, backends []string) (*Migration, error) {
	canonical, err := canonicalBackends(backends)
	if err != nil {
		return nil, err
	}
	fromDB := ast.NewADB()
	m := newMigration(name)
	if from != nil {
		fromDB = from.DB
		m.From = from.Name
	}
	r, err := Render(ctx, fromDB, to, from == nil, canonical)
	if err != nil {
		if ae, ok := err.(*alerr.Error); ok {
			return nil, ae.WithMigration(name)
		}
		return nil, err
	}
	fp, err := engine.ComputeFingerprint(to)
	if err != nil {
		return nil, err
	}
	m.DB = to.Clone()
	m.Up, m.Down = r.Up, r.Down
	m.Fingerprint = fp.Root
	return m, nil
}

func canonicalBackends(backends []string) ([]string, error) {
	var out []string
	for _, b := range backends {
		name, err := dialect.Canonical(b)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// DetachLatest moves the tip back to its predecessor, leaving the detached
// migration in the store. The first migration cannot be detached.
func (ms *Migrations) DetachLatest() (*Migration, error) {
	tip, err := ms.Latest()
	if err != nil {
		return nil, err
	}
	if tip == nil {
		return nil, alerr.New(alerr.ErrMigration, "there are no migrations")
	}
	if tip.From == "" {
		return nil, alerr.New(alerr.ErrMigration, "cannot detach the initial migration").WithMigration(tip.Name)
	}
	if err := ms.store.SetLatest(tip.From); err != nil {
		return nil, err
	}
	slog.Info("detached migration", "migration", tip.Name, "tip", tip.From)
	return tip, nil
}

// DeleteAll removes every stored migration and resets the tip. The database
// is not touched.
func (ms *Migrations) DeleteAll() error {
	names, err := ms.store.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ms.store.Delete(name); err != nil {
			return err
		}
	}
	return ms.store.SetLatest("")
}

// -----------------------------------------------------------------------------
// Backends
// -----------------------------------------------------------------------------

// Backends returns the backends rendered in the tip migration.
func (ms *Migrations) Backends() ([]string, error) {
	tip, err := ms.Latest()
	if err != nil || tip == nil {
		return nil, err
	}
	return tip.Backends(), nil
}

// AddBackend renders SQL for backend into every migration of the chain.
func (ms *Migrations) AddBackend(ctx context.Context, backend string) error {
	name, err := dialect.Canonical(backend)
	if err != nil {
		return err
	}
	existing, err := ms.Backends()
	if err != nil {
		return err
	}
	if slices.Contains(existing, name) {
		return alerr.Newf(alerr.ErrMigration, "backend %s is already present in the migrations", name).WithBackend(name)
	}
	all, err := ms.All()
	if err != nil {
		return err
	}
	from := ast.NewADB()
	for i, m := range all {
		r, err := Render(ctx, from, m.DB, i == 0, []string{name})
		if err != nil {
			return err
		}
		m.SetSQL(name, r.Up[name], r.Down[name])
		if err := ms.store.Put(m); err != nil {
			return err
		}
		slog.Info("updated migration", "migration", m.Name, "backend", name)
		from = m.DB
	}
	return nil
}

// RemoveBackend drops the SQL for backend from every migration. The last
// backend cannot be removed.
func (ms *Migrations) RemoveBackend(backend string) error {
	name, err := dialect.Canonical(backend)
	if err != nil {
		return err
	}
	existing, err := ms.Backends()
	if err != nil {
		return err
	}
	if !slices.Contains(existing, name) {
		return alerr.Newf(alerr.ErrUnknownBackend, "backend %s is not present in the migrations", name).WithBackend(name)
	}
	if len(existing) == 1 {
		return alerr.New(alerr.ErrMigration, "cannot remove the last backend").WithBackend(name)
	}
	all, err := ms.All()
	if err != nil {
		return err
	}
	for _, m := range all {
		m.RemoveSQL(name)
		if err := ms.store.Put(m); err != nil {
			return err
		}
		slog.Info("updated migration", "migration", m.Name, "removed_backend", name)
	}
	return nil
}

// Regenerate re-renders every migration of the chain from its snapshot with
// the backends of the tip.
func (ms *Migrations) Regenerate(ctx context.Context) error {
	backends, err := ms.Backends()
	if err != nil {
		return err
	}
	all, err := ms.All()
	if err != nil {
		return err
	}
	var prev *Migration
	for _, m := range all {
		next, err := ms.build(ctx, m.Name, prev, m.DB, backends)
		if err != nil {
			return err
		}
		if err := ms.store.Put(next); err != nil {
			return err
		}
		slog.Info("regenerated migration", "migration", m.Name)
		prev = next
	}
	return nil
}

// Verify checks that every migration snapshot still matches the fingerprint
// recorded when it was committed, and that the store's own integrity record
// (if it keeps one) matches the committed scripts.
func (ms *Migrations) Verify() error {
	all, err := ms.All()
	if err != nil {
		return err
	}
	for _, m := range all {
		if m.Fingerprint == "" {
			continue
		}
		fp, err := engine.ComputeFingerprint(m.DB)
		if err != nil {
			return err
		}
		if fp.Root != m.Fingerprint {
			return alerr.Newf(alerr.ErrMigrationChecksum, "snapshot of %s does not match its fingerprint", m.Name).
				WithMigration(m.Name).
				With("expected", m.Fingerprint).
				With("actual", fp.Root)
		}
	}
	if v, ok := ms.store.(interface{ Verify() error }); ok {
		return v.Verify()
	}
	return nil
}

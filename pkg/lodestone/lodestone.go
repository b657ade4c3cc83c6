// Package lodestone is the public API of the lodestone migration engine:
// models declared in YAML files are committed as migrations carrying SQL for
// every backend, applied to and rolled back from a database, and queried
// through a small expression builder.
package lodestone

import (
	"context"
	"log/slog"
	"time"

	"github.com/hlop3z/lodestone/internal/db"
	"github.com/hlop3z/lodestone/internal/metrics"
	"github.com/hlop3z/lodestone/internal/migrate"
	"github.com/hlop3z/lodestone/internal/model"
	"github.com/hlop3z/lodestone/internal/query"
)

type (
	// Migrations is a chain of committed migrations plus the draft.
	Migrations = migrate.Migrations
	// Migration is one committed migration.
	Migration = migrate.Migration
	// Status pairs a migration with whether it is applied.
	Status = migrate.Status
	// Query builds a SELECT over one table.
	Query = query.Query
	// Row is one result row, in field order.
	Row = query.Row
)

// MigrationsFromJSON loads a migrations document, as embedded by 'lode
// embed'.
func MigrationsFromJSON(data []byte) (*Migrations, error) {
	store, err := migrate.MemStoreFromJSON(data)
	if err != nil {
		return nil, err
	}
	return migrate.New(store)
}

// Client is the main entry point. Create it with New and Close it when done.
//
// Example:
//
//	client, err := lodestone.New(
//	    lodestone.WithConnection("pg", "postgres://localhost/app"),
//	    lodestone.WithMigrationsDir("./lode_migrations"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if _, err := client.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
type Client struct {
	config  *Config
	conn    *db.Conn
	ms      *migrate.Migrations
	metrics *metrics.Metrics
}

// New creates a Client. Without WithConnection the connection spec saved in
// the migrations directory is used.
func New(opts ...Option) (*Client, error) {
	cfg := &Config{
		MigrationsDir: "./lode_migrations",
		ModelsDir:     "./models",
		Timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m, err := metrics.New(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*Client, error) {
		m.Unregister(cfg.Registerer)
		return nil, err
	}

	ms := cfg.migrations
	if ms == nil {
		ms, err = migrate.New(migrate.NewFileStore(cfg.MigrationsDir), migrate.WithMetrics(m))
		if err != nil {
			return fail(err)
		}
	}
	c := &Client{config: cfg, ms: ms, metrics: m}
	if cfg.Offline {
		return c, nil
	}

	spec := db.ConnectionSpec{Backend: cfg.Backend, Conn: cfg.Connection}
	if spec.Backend == "" {
		spec, err = db.LoadSpec(cfg.MigrationsDir)
		if err != nil {
			return fail(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	c.conn, err = db.Open(ctx, spec, db.WithOpenMetrics(m), db.WithPingMaxElapsed(cfg.Timeout))
	if err != nil {
		return fail(err)
	}
	return c, nil
}

// Close closes the database connection and unregisters the collectors.
func (c *Client) Close() error {
	c.metrics.Unregister(c.config.Registerer)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return *c.config
}

// Migrations returns the migration chain the client works on.
func (c *Client) Migrations() *Migrations {
	return c.ms
}

// Backend returns the connected backend, or "" when offline.
func (c *Client) Backend() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.Backend()
}

// Executor runs compiled queries on the client's connection.
func (c *Client) Executor() (query.Executor, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) connected() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return nil
}

// -----------------------------------------------------------------------------
// Migrations
// -----------------------------------------------------------------------------

// MakeMigration loads the model declarations into the draft and commits it
// as migration name. An empty name gets a timestamped default.
func (c *Client) MakeMigration(ctx context.Context, name string) (*Migration, error) {
	reg, err := model.Load(c.config.ModelsDir)
	if err != nil {
		return nil, err
	}
	if err := reg.Apply(c.ms.Draft()); err != nil {
		return nil, err
	}
	if name == "" {
		name = migrate.DefaultName(time.Now(), "auto")
	}
	return c.Commit(ctx, name)
}

// Commit commits the draft as it stands as migration name, rendering SQL
// for the configured backends.
func (c *Client) Commit(ctx context.Context, name string) (*Migration, error) {
	backends, err := c.backends()
	if err != nil {
		return nil, err
	}
	return c.ms.Commit(ctx, name, backends...)
}

func (c *Client) backends() ([]string, error) {
	if len(c.config.Backends) > 0 {
		return c.config.Backends, nil
	}
	existing, err := c.ms.Backends()
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	if c.conn != nil {
		return []string{c.conn.Backend()}, nil
	}
	if c.config.Backend != "" {
		return []string{c.config.Backend}, nil
	}
	if spec, err := db.LoadSpec(c.config.MigrationsDir); err == nil {
		return []string{spec.Backend}, nil
	}
	return []string{"sqlite"}, nil
}

// Migrate applies every unapplied migration.
func (c *Client) Migrate(ctx context.Context) ([]*Migration, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	applied, err := c.ms.Migrate(ctx, c.conn)
	if len(applied) > 0 {
		slog.Info("migrated", "applied", len(applied), "backend", c.conn.Backend())
	}
	return applied, err
}

// MigrateTo applies unapplied migrations up to and including target.
func (c *Client) MigrateTo(ctx context.Context, target string) ([]*Migration, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return c.ms.MigrateTo(ctx, c.conn, target)
}

// LastApplied returns the newest applied chain migration, or nil.
func (c *Client) LastApplied(ctx context.Context) (*Migration, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return c.ms.LastApplied(ctx, c.conn)
}

// Rollback rolls back to target, or one migration when target is empty.
func (c *Client) Rollback(ctx context.Context, target string) ([]*Migration, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return c.ms.Rollback(ctx, c.conn, target)
}

// Unapplied lists the chain migrations the database has not recorded.
func (c *Client) Unapplied(ctx context.Context) ([]*Migration, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return c.ms.Unapplied(ctx, c.conn)
}

// Status reports every chain migration and whether it is applied.
func (c *Client) Status(ctx context.Context) ([]Status, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return c.ms.Status(ctx, c.conn)
}

// Collapse squashes the applied chain into one migration named name.
func (c *Client) Collapse(ctx context.Context, name string) (*Migration, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return c.ms.Collapse(ctx, c.conn, name)
}

// ClearData deletes every row of the migrated tables.
func (c *Client) ClearData(ctx context.Context) ([]string, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return c.ms.ClearData(ctx, c.conn)
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// Load runs q and returns its rows.
func (c *Client) Load(ctx context.Context, q *Query) ([]Row, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	return q.Load(ctx, c.conn)
}

package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/metrics"
)

// -----------------------------------------------------------------------------
// Conn
// -----------------------------------------------------------------------------

// Conn is an open database plus the dialect its statements are rendered in.
// It is safe for concurrent use. Schema transactions are serialized per Conn.
type Conn struct {
	executor
	db     *sql.DB
	id     string
	closed atomic.Bool

	// schemaMu allows at most one open schema transaction.
	schemaMu sync.Mutex
}

// NewConn wraps an already opened *sql.DB.
func NewConn(sqlDB *sql.DB, d dialect.Dialect) *Conn {
	c := &Conn{db: sqlDB, id: uuid.NewString()}
	c.executor = executor{eq: sqlDB, d: d}
	return c
}

// WithMetrics makes c count compiled statements on m.
func (c *Conn) WithMetrics(m *metrics.Metrics) *Conn {
	c.metrics = m
	return c
}

// DB returns the underlying *sql.DB.
func (c *Conn) DB() *sql.DB { return c.db }

// ID identifies the connection in logs.
func (c *Conn) ID() string { return c.id }

// Close closes the database. Later calls are no-ops.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	slog.Debug("closing connection", "backend", c.Backend(), "conn", c.id)
	return c.db.Close()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool { return c.closed.Load() }

// Transaction begins a transaction. Only connections open transactions;
// a Tx cannot nest another.
func (c *Conn) Transaction(ctx context.Context) (*Tx, error) {
	if c.IsClosed() {
		return nil, alerr.New(alerr.ErrSQLConnection, "connection is closed").WithBackend(c.Backend())
	}
	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrSQLTransaction, err, "failed to begin transaction").WithBackend(c.Backend())
	}
	return newTx(sqlTx, c.d, c.metrics), nil
}

// InTx runs fn in a transaction, committing when it returns nil and rolling
// back otherwise.
func (c *Conn) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := c.Transaction(ctx)
	if err != nil {
		return err
	}
	return runTx(tx, fn)
}

func runTx(tx *Tx, fn func(tx *Tx) error) error {
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				slog.Warn("rollback failed", "backend", tx.Backend(), "error", err)
			}
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// SchemaTx runs fn in a transaction reserved for schema changes. Only one
// schema transaction per Conn is open at a time. On backends implementing
// dialect.ForeignKeyGuard, foreign key enforcement is switched off on the
// dedicated session around the transaction and the constraints are checked
// before commit. MySQL commits every DDL statement implicitly, so there a
// failed schema change is not undone; only its DML is rolled back.
func (c *Conn) SchemaTx(ctx context.Context, fn func(tx *Tx) error) error {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()

	if c.IsClosed() {
		return alerr.New(alerr.ErrSQLConnection, "connection is closed").WithBackend(c.Backend())
	}
	guard, ok := c.d.(dialect.ForeignKeyGuard)
	if !ok {
		return c.InTx(ctx, fn)
	}

	session, err := c.db.Conn(ctx)
	if err != nil {
		return alerr.Wrap(alerr.ErrSQLConnection, err, "failed to reserve a session").WithBackend(c.Backend())
	}
	defer session.Close()

	if _, err := session.ExecContext(ctx, guard.DisableForeignKeysSQL()); err != nil {
		return wrapDriver(err, "disable foreign keys", guard.DisableForeignKeysSQL())
	}
	defer func() {
		// The session goes back to the pool; it must not keep enforcement off.
		if _, err := session.ExecContext(context.WithoutCancel(ctx), guard.EnableForeignKeysSQL()); err != nil {
			slog.Warn("failed to re-enable foreign keys", "backend", c.Backend(), "error", err)
			_ = session.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	sqlTx, err := session.BeginTx(ctx, nil)
	if err != nil {
		return alerr.Wrap(alerr.ErrSQLTransaction, err, "failed to begin transaction").WithBackend(c.Backend())
	}
	tx := newTx(sqlTx, c.d, c.metrics)
	return runTx(tx, func(tx *Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.checkForeignKeys(ctx, guard)
	})
}

// -----------------------------------------------------------------------------
// Tx
// -----------------------------------------------------------------------------

// Tx is an open transaction. It satisfies Methods; commit or roll it back
// exactly once.
type Tx struct {
	executor
	tx   *sql.Tx
	done bool
}

func newTx(sqlTx *sql.Tx, d dialect.Dialect, m *metrics.Metrics) *Tx {
	t := &Tx{tx: sqlTx}
	t.executor = executor{eq: sqlTx, d: d, metrics: m}
	return t
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return alerr.New(alerr.ErrSQLTransaction, "transaction already finished")
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return alerr.Wrap(alerr.ErrSQLTransaction, err, "failed to commit transaction").WithBackend(t.Backend())
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished one is a no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return alerr.Wrap(alerr.ErrSQLTransaction, err, "failed to roll back transaction").WithBackend(t.Backend())
	}
	return nil
}

// checkForeignKeys fails when the guard's check query returns any row.
func (t *Tx) checkForeignKeys(ctx context.Context, guard dialect.ForeignKeyGuard) error {
	q := guard.ForeignKeyCheckSQL()
	rows, err := t.tx.QueryContext(ctx, q)
	if err != nil {
		return wrapDriver(err, "check foreign keys", q)
	}
	defer rows.Close()
	if rows.Next() {
		return alerr.New(alerr.ErrSQLExecution, "foreign key violation after schema change").
			WithSQL(q).WithBackend(t.Backend())
	}
	if err := rows.Err(); err != nil {
		return alerr.WrapSQL(err, "check foreign keys", q)
	}
	return nil
}

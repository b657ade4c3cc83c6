package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/metrics"
)

// SpecFile is the file name a ConnectionSpec is saved under in a directory.
const SpecFile = "connection.json"

// -----------------------------------------------------------------------------
// ConnectionSpec
// -----------------------------------------------------------------------------

// ConnectionSpec names a backend and its backend-specific connection string.
type ConnectionSpec struct {
	Backend string `json:"backend_name"`
	Conn    string `json:"conn_str"`
}

// specPath resolves a directory to the spec file inside it.
func specPath(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, SpecFile)
	}
	return path
}

// Save writes the spec as indented JSON to path, or to path/connection.json
// when path is a directory.
func (s ConnectionSpec) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return alerr.Wrap(alerr.ErrInternal, err, "failed to encode connection spec")
	}
	if err := os.WriteFile(specPath(path), data, 0o600); err != nil {
		return alerr.Wrap(alerr.ErrSQLConnection, err, "failed to save connection spec").With("path", path)
	}
	return nil
}

// LoadSpec reads a spec saved by Save.
func LoadSpec(path string) (ConnectionSpec, error) {
	var s ConnectionSpec
	data, err := os.ReadFile(specPath(path))
	if err != nil {
		return s, alerr.Wrap(alerr.ErrSQLConnection, err, "failed to read connection spec").
			With("path", path).
			WithHelp("run 'lode init <backend> <connection>' first")
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, alerr.Wrap(alerr.ErrSQLConnection, err, "invalid connection spec").With("path", path)
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// Open
// -----------------------------------------------------------------------------

// Options tune Open.
type Options struct {
	// PingAttempts bounds the connection retries; zero means 5.
	PingAttempts uint64
	// PingMaxElapsed bounds the total retry time; zero means 30s.
	PingMaxElapsed time.Duration
	Metrics        *metrics.Metrics
}

// Option configures Open.
type Option func(*Options)

// WithPingAttempts sets the number of ping retries.
func WithPingAttempts(n uint64) Option {
	return func(o *Options) { o.PingAttempts = n }
}

// WithPingMaxElapsed caps the time spent retrying the first ping.
func WithPingMaxElapsed(d time.Duration) Option {
	return func(o *Options) { o.PingMaxElapsed = d }
}

// WithOpenMetrics attaches collectors to the opened connection.
func WithOpenMetrics(m *metrics.Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// driverName maps canonical backend names to database/sql driver names.
var driverName = map[string]string{
	"sqlite": "sqlite",
	"pg":     "pgx",
	"mysql":  "mysql",
	"libsql": "libsql",
	"turso":  "libsql",
}

// Open connects to the database described by spec, retrying the initial
// ping with exponential backoff.
func Open(ctx context.Context, spec ConnectionSpec, opts ...Option) (*Conn, error) {
	o := Options{PingAttempts: 5, PingMaxElapsed: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	d, err := dialect.Get(spec.Backend)
	if err != nil {
		return nil, err
	}
	dsn, err := NormalizeDSN(d.Name(), spec.Conn)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driverName[d.Name()], dsn)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrSQLConnection, err, "failed to open database").WithBackend(d.Name())
	}
	if dialect.IsSQLite(d) && strings.HasPrefix(dsn, "file:") {
		// One writer at a time; also keeps ":memory:" a single database.
		sqlDB.SetMaxOpenConns(1)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = o.PingMaxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, o.PingAttempts), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := sqlDB.PingContext(ctx); err != nil {
			slog.Debug("ping failed", "backend", d.Name(), "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		sqlDB.Close()
		return nil, alerr.Wrap(alerr.ErrSQLConnection, err, "failed to connect").
			WithBackend(d.Name()).
			With("attempts", attempt)
	}

	c := NewConn(sqlDB, d).WithMetrics(o.Metrics)
	slog.Debug("connected", "backend", d.Name(), "conn", c.ID())
	return c, nil
}

// NormalizeDSN adjusts a user connection string for the driver:
//   - sqlite: a bare path becomes a file: URI with foreign keys enforced
//     and a busy timeout on every pooled session.
//   - libsql, turso: remote URLs (libsql://, http(s)://, ws(s)://) are passed
//     through; anything else is a local file, treated as for sqlite. The
//     libsql driver hands file: URLs to the sqlite driver.
//   - mysql: parseTime and multiStatements are forced on.
//   - pg: passed through.
func NormalizeDSN(backend, conn string) (string, error) {
	switch backend {
	case "sqlite":
		return sqliteDSN(conn), nil
	case "libsql", "turso":
		if isRemoteLibSQL(conn) {
			return conn, nil
		}
		return sqliteDSN(conn), nil
	case "mysql":
		cfg, err := mysql.ParseDSN(conn)
		if err != nil {
			return "", alerr.Wrap(alerr.ErrSQLConnection, err, "invalid mysql connection string").WithBackend(backend)
		}
		cfg.ParseTime = true
		cfg.MultiStatements = true
		return cfg.FormatDSN(), nil
	}
	return conn, nil
}

func isRemoteLibSQL(conn string) bool {
	for _, scheme := range []string{"libsql://", "http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(conn, scheme) {
			return true
		}
	}
	return false
}

func sqliteDSN(conn string) string {
	if conn == ":memory:" {
		conn = "file::memory:"
	} else if !strings.HasPrefix(conn, "file:") {
		conn = "file:" + conn
	}
	sep := "?"
	if strings.Contains(conn, "?") {
		sep = "&"
	}
	if !strings.Contains(conn, "foreign_keys") {
		conn += sep + "_pragma=foreign_keys(1)"
		sep = "&"
	}
	if !strings.Contains(conn, "busy_timeout") {
		conn += sep + "_pragma=busy_timeout(5000)"
	}
	return conn
}

package db

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/query"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// -----------------------------------------------------------------------------
// Bridge - one shared worker for blocking callers
// -----------------------------------------------------------------------------

// Bridge runs context-based operations on a single worker goroutine for
// callers that want a blocking API. The worker starts with the first Acquire
// and stops when the last Handle is released.
type Bridge struct {
	mu     sync.Mutex
	refs   int
	jobs   chan job
	done   chan struct{}
	worker string
}

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// workerKey marks contexts handed to jobs running on a bridge worker.
type workerKey struct{}

// DefaultBridge is shared by every SyncConn created without an explicit bridge.
var DefaultBridge = &Bridge{}

// Handle is one reference to a running Bridge.
type Handle struct {
	b    *Bridge
	once sync.Once
}

// Acquire returns a handle, starting the worker if none is running.
func (b *Bridge) Acquire() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs++
	if b.refs == 1 {
		b.jobs = make(chan job)
		b.done = make(chan struct{})
		b.worker = uuid.NewString()
		go b.loop(b.jobs, b.done)
		slog.Debug("bridge worker started", "worker", b.worker)
	}
	return &Handle{b: b}
}

// Running reports whether the worker goroutine is alive.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs > 0
}

// Release drops the reference. The last release stops the worker once its
// current job finishes. Releasing twice is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() {
		b := h.b
		b.mu.Lock()
		b.refs--
		if b.refs > 0 {
			b.mu.Unlock()
			return
		}
		jobs, done, worker := b.jobs, b.done, b.worker
		b.jobs, b.done = nil, nil
		b.mu.Unlock()

		close(jobs)
		<-done
		slog.Debug("bridge worker stopped", "worker", worker)
	})
}

func (b *Bridge) loop(jobs <-chan job, done chan<- struct{}) {
	defer close(done)
	for j := range jobs {
		j.result <- runJob(context.WithValue(j.ctx, workerKey{}, b), j.fn)
	}
}

// runJob turns a panic into an error so the worker survives it.
func runJob(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn(ctx)
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string { return fmt.Sprintf("panic in database operation: %v", p.value) }

// abandonedError is reported when the caller stopped waiting for a job.
type abandonedError struct{ cause error }

func (a *abandonedError) Error() string { return "operation abandoned: " + a.cause.Error() }
func (a *abandonedError) Unwrap() error { return a.cause }

// Run executes fn on the worker and waits for it. When ctx already belongs to
// a job on this worker, fn runs inline instead of deadlocking on the queue.
// If ctx ends first, Run returns an abandoned error while fn keeps running.
func (h *Handle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	b := h.b
	if owner, _ := ctx.Value(workerKey{}).(*Bridge); owner == b {
		return runJob(ctx, fn)
	}

	b.mu.Lock()
	jobs := b.jobs
	b.mu.Unlock()
	if jobs == nil {
		return alerr.New(alerr.ErrInternal, "bridge handle used after release")
	}

	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case jobs <- j:
	case <-ctx.Done():
		return &abandonedError{cause: ctx.Err()}
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return &abandonedError{cause: ctx.Err()}
	}
}

// -----------------------------------------------------------------------------
// SyncConn - blocking facade over Conn
// -----------------------------------------------------------------------------

// SyncConn is a blocking view of a Conn. Every call runs on the shared bridge
// worker and waits for it; calls made from inside a worker job (with the job's
// context) run inline. A call that panics or is abandoned, because its context
// ended or it outlived Timeout, poisons the SyncConn. Every later call then
// fails with ErrPoisonedConnection.
type SyncConn struct {
	conn *Conn
	h    *Handle
	// Timeout bounds each call; zero waits forever.
	Timeout time.Duration

	mu     sync.Mutex
	poison error
}

// NewSyncConn wraps c, acquiring a handle on b (DefaultBridge when nil).
func NewSyncConn(c *Conn, b *Bridge) *SyncConn {
	if b == nil {
		b = DefaultBridge
	}
	return &SyncConn{conn: c, h: b.Acquire()}
}

// Conn returns the wrapped connection.
func (s *SyncConn) Conn() *Conn { return s.conn }

// Poisoned returns the failure that poisoned s, or nil.
func (s *SyncConn) Poisoned() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poison
}

// Close releases the bridge handle and closes the connection.
func (s *SyncConn) Close() error {
	s.h.Release()
	return s.conn.Close()
}

func (s *SyncConn) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Poisoned(); err != nil {
		return alerr.PoisonedConnection(err)
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	err := s.h.Run(ctx, fn)
	switch err.(type) {
	case *panicError, *abandonedError:
		s.mu.Lock()
		if s.poison == nil {
			s.poison = err
		}
		s.mu.Unlock()
		slog.Warn("connection poisoned", "backend", s.conn.Backend(), "conn", s.conn.ID(), "error", err)
		return alerr.PoisonedConnection(err)
	}
	return err
}

func (s *SyncConn) Backend() string { return s.conn.Backend() }

func (s *SyncConn) Execute(ctx context.Context, script string) error {
	return s.do(ctx, func(ctx context.Context) error { return s.target(ctx).Execute(ctx, script) })
}

func (s *SyncConn) Query(ctx context.Context, sel query.Select) ([]query.Row, error) {
	var rows []query.Row
	err := s.do(ctx, func(ctx context.Context) (err error) {
		rows, err = s.target(ctx).Query(ctx, sel)
		return err
	})
	if err != nil {
		// An abandoned job may still write the result.
		return nil, err
	}
	return rows, nil
}

func (s *SyncConn) Count(ctx context.Context, table string, where query.BoolExpr) (int64, error) {
	var n int64
	err := s.do(ctx, func(ctx context.Context) (err error) {
		n, err = s.target(ctx).Count(ctx, table, where)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SyncConn) Insert(ctx context.Context, table string, cols []string, vals []sqlval.SqlVal) error {
	return s.do(ctx, func(ctx context.Context) error { return s.target(ctx).Insert(ctx, table, cols, vals) })
}

func (s *SyncConn) InsertReturningPK(ctx context.Context, table, pkcol string, pkType sqlval.SqlType, cols []string, vals []sqlval.SqlVal) (sqlval.SqlVal, error) {
	pk := sqlval.Null
	err := s.do(ctx, func(ctx context.Context) (err error) {
		pk, err = s.target(ctx).InsertReturningPK(ctx, table, pkcol, pkType, cols, vals)
		return err
	})
	if err != nil {
		return sqlval.Null, err
	}
	return pk, nil
}

func (s *SyncConn) InsertOrReplace(ctx context.Context, table, pkcol string, cols []string, vals []sqlval.SqlVal) error {
	return s.do(ctx, func(ctx context.Context) error { return s.target(ctx).InsertOrReplace(ctx, table, pkcol, cols, vals) })
}

func (s *SyncConn) Update(ctx context.Context, table, pkcol string, pk sqlval.SqlVal, cols []string, vals []sqlval.SqlVal) error {
	return s.do(ctx, func(ctx context.Context) error { return s.target(ctx).Update(ctx, table, pkcol, pk, cols, vals) })
}

func (s *SyncConn) Delete(ctx context.Context, table, pkcol string, pk sqlval.SqlVal) error {
	return s.do(ctx, func(ctx context.Context) error { return s.target(ctx).Delete(ctx, table, pkcol, pk) })
}

func (s *SyncConn) DeleteWhere(ctx context.Context, table string, where query.BoolExpr) (int64, error) {
	var n int64
	err := s.do(ctx, func(ctx context.Context) (err error) {
		n, err = s.target(ctx).DeleteWhere(ctx, table, where)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SyncConn) HasTable(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := s.do(ctx, func(ctx context.Context) (err error) {
		ok, err = s.target(ctx).HasTable(ctx, table)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// txKey marks the context of an InTx job with the transaction it runs in.
type txKey struct{ s *SyncConn }

// target is the transaction InTx opened on ctx, or the connection.
func (s *SyncConn) target(ctx context.Context) Methods {
	if tx, ok := ctx.Value(txKey{s}).(*Tx); ok {
		return tx
	}
	return s.conn
}

// InTx runs fn in a transaction on the worker. SyncConn calls made with the
// context fn receives run inline, inside the transaction.
func (s *SyncConn) InTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.conn.InTx(ctx, func(tx *Tx) error {
			return fn(context.WithValue(ctx, txKey{s}, tx), tx)
		})
	})
}

// Run executes an arbitrary operation on the worker with the same poisoning
// rules as the other calls. fn gets the connection even inside InTx; use the
// transaction there.
func (s *SyncConn) Run(ctx context.Context, fn func(ctx context.Context, c *Conn) error) error {
	return s.do(ctx, func(ctx context.Context) error { return fn(ctx, s.conn) })
}

var _ Methods = (*SyncConn)(nil)

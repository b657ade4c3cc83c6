package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/query"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/internal/testutil"
)

func TestBridgeLifecycle(t *testing.T) {
	b := &Bridge{}
	assert.False(t, b.Running())

	h1 := b.Acquire()
	h2 := b.Acquire()
	assert.True(t, b.Running())

	h1.Release()
	h1.Release()
	assert.True(t, b.Running())

	require.NoError(t, h2.Run(context.Background(), func(context.Context) error { return nil }))
	h2.Release()
	assert.False(t, b.Running())

	err := h2.Run(context.Background(), func(context.Context) error { return nil })
	testutil.AssertError(t, err, alerr.ErrInternal)

	// A fresh Acquire restarts the worker.
	h3 := b.Acquire()
	defer h3.Release()
	assert.NoError(t, h3.Run(context.Background(), func(context.Context) error { return nil }))
}

func TestBridgeRunsNestedCallsInline(t *testing.T) {
	b := &Bridge{}
	h := b.Acquire()
	defer h.Release()

	done := make(chan error, 1)
	go func() {
		done <- h.Run(context.Background(), func(ctx context.Context) error {
			return h.Run(ctx, func(ctx context.Context) error {
				return h.Run(ctx, func(context.Context) error { return nil })
			})
		})
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("nested bridge call deadlocked")
	}
}

func TestBridgeSerializesJobs(t *testing.T) {
	b := &Bridge{}
	h := b.Acquire()
	defer h.Release()

	var mu sync.Mutex
	running, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Run(context.Background(), func(context.Context) error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}

// -----------------------------------------------------------------------------
// SyncConn
// -----------------------------------------------------------------------------

func TestSyncConnRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSyncConn(openSQLite(t), &Bridge{})
	defer s.Close()

	require.NoError(t, s.Execute(ctx, "CREATE TABLE n (id INTEGER PRIMARY KEY AUTOINCREMENT, v TEXT NOT NULL)"))
	pk, err := s.InsertReturningPK(ctx, "n", "id", sqlval.BigInt, []string{"v"}, []sqlval.SqlVal{sqlval.NewText("x")})
	require.NoError(t, err)
	assert.Equal(t, sqlval.NewBigInt(1), pk)

	err = s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.Insert(ctx, "n", []string{"v"}, []sqlval.SqlVal{sqlval.NewText("y")}); err != nil {
			return err
		}
		// Re-entering the facade from inside the job runs inline.
		return s.Run(ctx, func(ctx context.Context, _ *Conn) error {
			return tx.Insert(ctx, "n", []string{"v"}, []sqlval.SqlVal{sqlval.NewText("z")})
		})
	})
	require.NoError(t, err)

	n, err := s.Count(ctx, "n", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rows, err := query.From("n", query.Field{Name: "v", Type: sqlval.Text}).OrderDesc("id").Load(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, sqlval.NewText("z"), rows[0][0])
}

// TestSyncConnCallsInsideInTxUseTransaction opens SQLite with one pooled
// connection, so a nested call reaching for the pool would block forever.
func TestSyncConnCallsInsideInTxUseTransaction(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := NewSyncConn(openSQLite(t), &Bridge{})
	defer s.Close()
	require.NoError(t, s.Execute(ctx, "CREATE TABLE n (id INTEGER PRIMARY KEY AUTOINCREMENT, v TEXT NOT NULL)"))

	boom := errors.New("undo")
	err := s.InTx(ctx, func(ctx context.Context, _ *Tx) error {
		if err := s.Insert(ctx, "n", []string{"v"}, []sqlval.SqlVal{sqlval.NewText("a")}); err != nil {
			return err
		}
		n, err := s.Count(ctx, "n", nil)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), n)
		ok, err := s.HasTable(ctx, "n")
		if err != nil {
			return err
		}
		assert.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, s.Poisoned())

	// The nested insert was part of the rolled back transaction.
	n, err := s.Count(ctx, "n", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSyncConnPoisonedByPanic(t *testing.T) {
	ctx := context.Background()
	s := NewSyncConn(openSQLite(t), &Bridge{})
	defer s.Close()

	err := s.Run(ctx, func(context.Context, *Conn) error { panic("boom") })
	testutil.AssertError(t, err, alerr.ErrPoisonedConnection)
	assert.Error(t, s.Poisoned())

	_, err = s.HasTable(ctx, "x")
	testutil.AssertError(t, err, alerr.ErrPoisonedConnection)
}

func TestSyncConnPoisonedByTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewSyncConn(openSQLite(t), &Bridge{})
	s.Timeout = 20 * time.Millisecond
	release := make(chan struct{})
	defer func() {
		close(release)
		s.Close()
	}()

	err := s.Run(ctx, func(context.Context, *Conn) error {
		<-release
		return nil
	})
	testutil.AssertError(t, err, alerr.ErrPoisonedConnection)

	err = s.Execute(ctx, "SELECT 1")
	testutil.AssertError(t, err, alerr.ErrPoisonedConnection)
}

func TestSyncConnsShareDefaultWorker(t *testing.T) {
	a := NewSyncConn(openSQLite(t), nil)
	b := NewSyncConn(openSQLite(t), nil)
	assert.True(t, DefaultBridge.Running())
	require.NoError(t, a.Close())
	assert.True(t, DefaultBridge.Running())
	require.NoError(t, b.Close())
	assert.False(t, DefaultBridge.Running())
}

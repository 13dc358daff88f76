// Package storetest provides a pgx.Tx double for service tests that run against
// in-memory repositories. Repositories register commit and rollback hooks on
// the Tx to emulate row locks and undo staged writes.
package storetest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Tx struct {
	mu         sync.Mutex
	closed     bool
	committed  bool
	onCommit   []func()
	onRollback []func()
	onEnd      []func()
}

// OnRollback registers an undo step; undo steps run in reverse order.
func (t *Tx) OnRollback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRollback = append(t.onRollback, fn)
}

func (t *Tx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, fn)
}

// OnEnd runs after commit or rollback, e.g. to release an emulated row lock.
func (t *Tx) OnEnd(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnd = append(t.onEnd, fn)
}

func (t *Tx) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

func (t *Tx) Commit(context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.closed, t.committed = true, true
	commit, end := t.onCommit, t.onEnd
	t.mu.Unlock()

	for _, fn := range commit {
		fn()
	}
	for _, fn := range end {
		fn()
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.closed = true
	undo, end := t.onRollback, t.onEnd
	t.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	for _, fn := range end {
		fn()
	}
	return nil
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *Tx) Conn() *pgx.Conn { return nil }

// Beginner hands out a fresh Tx per Begin call.
type Beginner struct {
	mu    sync.Mutex
	Err   error
	begun int
}

func (b *Beginner) Begin(context.Context) (pgx.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	b.begun++
	return &Tx{}, nil
}

func (b *Beginner) Begun() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begun
}

// RowLocks emulates SELECT ... FOR UPDATE: Lock blocks until the holder's
// transaction ends. Re-locking a key already held by the same tx is a no-op.
type RowLocks[K comparable] struct {
	mu     sync.Mutex
	locks  map[K]*sync.Mutex
	owners map[K]pgx.Tx
}

func (r *RowLocks[K]) Lock(tx pgx.Tx, key K) {
	r.mu.Lock()
	if r.locks == nil {
		r.locks = make(map[K]*sync.Mutex)
		r.owners = make(map[K]pgx.Tx)
	}
	if owner, held := r.owners[key]; held && owner == tx {
		r.mu.Unlock()
		return
	}
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	r.mu.Unlock()

	t, ok := tx.(*Tx)
	if !ok {
		return
	}
	m.Lock()
	r.mu.Lock()
	r.owners[key] = tx
	r.mu.Unlock()
	t.OnEnd(func() {
		r.mu.Lock()
		delete(r.owners, key)
		r.mu.Unlock()
		m.Unlock()
	})
}

// Undo registers fn to run if tx rolls back. It is a no-op for other pgx.Tx types.
func Undo(tx pgx.Tx, fn func()) {
	if t, ok := tx.(*Tx); ok {
		t.OnRollback(fn)
	}
}

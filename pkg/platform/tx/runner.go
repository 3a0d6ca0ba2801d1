package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Runner provides the transactional boundary for multi-store mutations.
// Implementations may wrap a database transaction or, in-memory, a coarse
// lock with snapshot rollback.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner opens a database transaction, stores it in context so every store
// joins it through its execer, and commits or rolls back around fn.
type SQLRunner struct {
	DB *sql.DB
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	dbtx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(WithTx(ctx, dbtx)); err != nil {
		if rbErr := dbtx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Snapshotter is implemented by memory stores so MemoryRunner can roll their
// state back when fn fails.
type Snapshotter interface {
	Snapshot() any
	Restore(any)
}

// MemoryRunner serializes transactions behind one mutex and restores every
// participating store on failure, giving the memory stores the same
// all-or-nothing behavior the SQL runner gets from the database.
type MemoryRunner struct {
	mu     sync.Mutex
	stores []Snapshotter
}

func NewMemoryRunner(stores ...Snapshotter) *MemoryRunner {
	return &MemoryRunner{stores: stores}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make([]any, len(r.stores))
	for i, s := range r.stores {
		snaps[i] = s.Snapshot()
	}

	if err := fn(ctx); err != nil {
		for i, s := range r.stores {
			s.Restore(snaps[i])
		}
		return err
	}
	return nil
}

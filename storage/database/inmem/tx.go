package inmemdb

import (
	"context"

	"github.com/trezcool/atelier/core"
)

type txKey struct{}

var _ core.Transactor = (*DB)(nil) // interface compliance check

func (db *DB) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*DB)
	return owner == db
}

// RunInTx serializes the units of work and restores the tables if fn fails.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.inTx(ctx) {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	saved := db.tables.snapshot()
	db.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, db)); err != nil {
		db.mu.Lock()
		db.tables = saved
		db.mu.Unlock()
		return err
	}
	return nil
}

// lockTx keeps writes outside of a unit of work from interleaving with one.
// Usage: defer db.lockTx(ctx)()
func (db *DB) lockTx(ctx context.Context) func() {
	if db.inTx(ctx) {
		return func() {}
	}
	db.txMu.Lock()
	return db.txMu.Unlock
}

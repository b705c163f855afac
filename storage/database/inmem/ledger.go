package inmemdb

import (
	"context"

	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/user"
)

type ledgerRepository struct {
	db *DB
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *DB) ledger.Repository {
	return &ledgerRepository{db: db}
}

func balanceOf(usr *user.User) ledger.Balance {
	return ledger.Balance{UserID: usr.ID, Credits: usr.Credits, ReservedCredits: usr.ReservedCredits}
}

func (repo *ledgerRepository) GetBalance(_ context.Context, userID string) (ledger.Balance, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	usr, ok := repo.db.users[userID]
	if !ok {
		return ledger.Balance{}, user.ErrNotFound
	}
	return balanceOf(usr), nil
}

func (repo *ledgerRepository) ApplyChange(ctx context.Context, change ledger.Change) (ledger.Balance, error) {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	usr, ok := repo.db.users[change.UserID]
	if !ok {
		return ledger.Balance{}, user.ErrNotFound
	}
	credits := usr.Credits.Add(change.CreditsDelta)
	reserved := usr.ReservedCredits.Add(change.ReservedDelta)
	if credits.IsNegative() || reserved.IsNegative() {
		return ledger.Balance{}, ledger.ErrInsufficientFunds
	}

	usr.Credits = credits
	usr.ReservedCredits = reserved
	return balanceOf(usr), nil
}

func (repo *ledgerRepository) AddEntry(ctx context.Context, entry ledger.Entry) error {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.entries = append(repo.db.entries, entry)
	return nil
}

func (repo *ledgerRepository) QueryEntries(_ context.Context, userID string, limit int) ([]ledger.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := make([]ledger.Entry, 0)
	// newest first
	for i := len(repo.db.entries) - 1; i >= 0 && len(entries) < limit; i-- {
		if e := repo.db.entries[i]; e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

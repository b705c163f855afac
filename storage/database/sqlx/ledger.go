package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/user"
)

type ledgerRepository struct {
	db *sqlx.DB
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *sqlx.DB) ledger.Repository {
	return &ledgerRepository{db: db}
}

func (repo *ledgerRepository) GetBalance(ctx context.Context, userID string) (ledger.Balance, error) {
	ex, inTx := executor(ctx, repo.db)
	q := "SELECT id, credits, reserved_credits FROM users WHERE id = $1"
	if inTx {
		// hold the row until the unit of work ends
		q += " FOR UPDATE"
	}

	var bal ledger.Balance
	if err := sqlx.GetContext(ctx, ex, &bal, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Balance{}, user.ErrNotFound
		}
		return ledger.Balance{}, errors.Wrap(err, "getting balance")
	}
	return bal, nil
}

func (repo *ledgerRepository) ApplyChange(ctx context.Context, change ledger.Change) (ledger.Balance, error) {
	ex, _ := executor(ctx, repo.db)

	var bal ledger.Balance
	err := sqlx.GetContext(ctx, ex, &bal,
		`UPDATE users
		SET credits = credits + $2, reserved_credits = reserved_credits + $3, updated_at = NOW()
		WHERE id = $1 AND credits + $2 >= 0 AND reserved_credits + $3 >= 0
		RETURNING id, credits, reserved_credits`,
		change.UserID, change.CreditsDelta, change.ReservedDelta)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, errors.Wrap(err, "applying balance change")
	}

	// no row updated: unknown user or not enough funds
	var found bool
	if err = sqlx.GetContext(ctx, ex, &found, "SELECT true FROM users WHERE id = $1", change.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Balance{}, user.ErrNotFound
		}
		return ledger.Balance{}, errors.Wrap(err, "checking user")
	}
	return ledger.Balance{}, ledger.ErrInsufficientFunds
}

func (repo *ledgerRepository) AddEntry(ctx context.Context, entry ledger.Entry) error {
	ex, _ := executor(ctx, repo.db)
	_, err := sqlx.NamedExecContext(ctx, ex,
		`INSERT INTO ledger_entries (id, user_id, kind, amount, credits_after, reserved_after, reference, created_at)
		VALUES (:id, :user_id, :kind, :amount, :credits_after, :reserved_after, :reference, :created_at)`,
		entry)
	return errors.Wrap(err, "inserting ledger entry")
}

func (repo *ledgerRepository) QueryEntries(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	ex, _ := executor(ctx, repo.db)
	entries := make([]ledger.Entry, 0)
	err := sqlx.SelectContext(ctx, ex, &entries,
		`SELECT id, user_id, kind, amount, credits_after, reserved_after, reference, created_at
		FROM ledger_entries WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying ledger entries")
	}
	return entries, nil
}

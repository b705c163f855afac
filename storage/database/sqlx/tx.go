package sqlxrepos

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core"
)

type txKey struct{}

// Transactor runs units of work in database transactions.
type Transactor struct {
	db *sqlx.DB
}

var _ core.Transactor = (*Transactor)(nil) // interface compliance check

func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

func (t *Transactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Wrapf(err, "rolling back: %v", rerr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// executor returns the transaction carried by ctx, or db.
func executor(ctx context.Context, db *sqlx.DB) (sqlx.ExtContext, bool) {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx, true
	}
	return db, false
}

// orderBy renders the orderings whose field is a known column.
func orderBy(ordering []core.DBOrdering, columns map[string]string, def string) string {
	parts := make([]string, 0, len(ordering))
	for _, ord := range core.AllowedOrderings(ordering, keys(columns)...) {
		ord.Field = columns[ord.Field]
		parts = append(parts, ord.String())
	}
	if len(parts) == 0 {
		return " ORDER BY " + def
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

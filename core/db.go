package core

import (
	"context"
	"database/sql"
)

type (
	DBExecutor interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	DB interface {
		DBExecutor

		Begin() (*sql.Tx, error)
		BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
	}

	// Transactor runs fn in a single unit of work.
	// Repositories called with the ctx passed to fn join that unit of work.
	// A nested RunInTx joins the enclosing one.
	Transactor interface {
		RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// AllowedOrderings drops the orderings whose field is not in allowed.
func AllowedOrderings(ords []DBOrdering, allowed ...string) []DBOrdering {
	out := make([]DBOrdering, 0, len(ords))
	for _, ord := range ords {
		for _, f := range allowed {
			if ord.Field == f {
				out = append(out, ord)
				break
			}
		}
	}
	return out
}

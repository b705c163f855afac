package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
)

const defaultHistoryLimit = 50

var (
	// ErrInsufficientFunds is returned by Repository.ApplyChange when a field would go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	errNegativeAmount  = core.NewServiceError("amount must not be negative")
	errInvalidUserID   = core.NewServiceError("invalid user id")
	errNotEnoughCredit = core.NewValidationError(errors.New("not enough credits"))
	errNotEnoughEscrow = core.NewValidationError(errors.New("not enough reserved credits"))
)

type (
	Repository interface {
		// GetBalance fails with user.ErrNotFound if the user does not exist.
		GetBalance(ctx context.Context, userID string) (Balance, error)
		// ApplyChange moves the balance in a single conditional update.
		// It fails with ErrInsufficientFunds, leaving the balance untouched, if a field would go negative.
		ApplyChange(ctx context.Context, change Change) (Balance, error)
		AddEntry(ctx context.Context, entry Entry) error
		QueryEntries(ctx context.Context, userID string, limit int) ([]Entry, error)
	}

	Service struct {
		repo Repository
		tx   core.Transactor
	}
)

func NewService(repo Repository, tx core.Transactor) *Service {
	return &Service{repo: repo, tx: tx}
}

func checkArgs(userID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errNegativeAmount
	}
	if !core.IsValidID(userID) {
		return errInvalidUserID
	}
	return nil
}

// Balance returns the current wallet state of the user.
func (svc *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	if !core.IsValidID(userID) {
		return Balance{}, errInvalidUserID
	}
	return svc.repo.GetBalance(ctx, userID)
}

// ReserveCredits moves amount from the available credits to the escrow.
func (svc *Service) ReserveCredits(ctx context.Context, userID string, amount decimal.Decimal, reference string) (Balance, error) {
	if err := checkArgs(userID, amount); err != nil {
		return Balance{}, err
	}
	return svc.move(ctx, userID, KindReserve, amount, amount.Neg(), amount, reference, func(b Balance) error {
		if b.Credits.LessThan(amount) {
			return errNotEnoughCredit
		}
		return nil
	})
}

// WithdrawalReservedCredits takes amount out of the escrow: the funds leave the wallet.
func (svc *Service) WithdrawalReservedCredits(ctx context.Context, userID string, amount decimal.Decimal, reference string) (Balance, error) {
	if err := checkArgs(userID, amount); err != nil {
		return Balance{}, err
	}
	return svc.move(ctx, userID, KindWithdrawReserve, amount, decimal.Zero, amount.Neg(), reference, func(b Balance) error {
		if b.ReservedCredits.LessThan(amount) {
			return errNotEnoughEscrow
		}
		return nil
	})
}

// ReleaseReservedCredits gives amount back from the escrow to the available credits.
func (svc *Service) ReleaseReservedCredits(ctx context.Context, userID string, amount decimal.Decimal, reference string) (Balance, error) {
	if err := checkArgs(userID, amount); err != nil {
		return Balance{}, err
	}
	return svc.move(ctx, userID, KindReleaseReserve, amount, amount, amount.Neg(), reference, func(b Balance) error {
		if b.ReservedCredits.LessThan(amount) {
			return errNotEnoughEscrow
		}
		return nil
	})
}

// EditUserBalance adds or subtracts amount to the available credits.
// It joins the unit of work carried by ctx, if any.
func (svc *Service) EditUserBalance(ctx context.Context, userID string, amount decimal.Decimal, op Operation, reference string) (Balance, error) {
	if err := checkArgs(userID, amount); err != nil {
		return Balance{}, err
	}
	switch op {
	case OpAdd:
		return svc.move(ctx, userID, KindAdd, amount, amount, decimal.Zero, reference, nil)
	case OpSub:
		return svc.move(ctx, userID, KindSub, amount, amount.Neg(), decimal.Zero, reference, func(b Balance) error {
			if b.Credits.LessThan(amount) {
				return errNotEnoughCredit
			}
			return nil
		})
	default:
		return Balance{}, core.NewServiceError("unknown balance operation " + string(op))
	}
}

// Refund credits back amount previously taken from the user.
func (svc *Service) Refund(ctx context.Context, userID string, amount decimal.Decimal, reference string) (Balance, error) {
	if err := checkArgs(userID, amount); err != nil {
		return Balance{}, err
	}
	return svc.move(ctx, userID, KindRefund, amount, amount, decimal.Zero, reference, nil)
}

// History returns the latest ledger entries of the user, newest first.
func (svc *Service) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if !core.IsValidID(userID) {
		return nil, errInvalidUserID
	}
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}
	return svc.repo.QueryEntries(ctx, userID, limit)
}

// move checks the balance, applies the change and records it, all in one unit of work.
// check runs against the balance read in the unit of work; the conditional update still guards concurrent writers.
func (svc *Service) move(
	ctx context.Context,
	userID string,
	kind Kind,
	amount, creditsDelta, reservedDelta decimal.Decimal,
	reference string,
	check func(Balance) error,
) (Balance, error) {
	var after Balance
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		before, err := svc.repo.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		if check != nil {
			if err = check(before); err != nil {
				return err
			}
		}

		after, err = svc.repo.ApplyChange(ctx, Change{
			UserID:        userID,
			CreditsDelta:  creditsDelta,
			ReservedDelta: reservedDelta,
		})
		if err != nil {
			if err == ErrInsufficientFunds {
				if creditsDelta.IsNegative() {
					return errNotEnoughCredit
				}
				return errNotEnoughEscrow
			}
			return err
		}

		return svc.repo.AddEntry(ctx, Entry{
			ID:            core.NewID(),
			UserID:        userID,
			Kind:          kind,
			Amount:        amount,
			CreditsAfter:  after.Credits,
			ReservedAfter: after.ReservedCredits,
			Reference:     reference,
			CreatedAt:     time.Now().UTC(),
		})
	})
	if err != nil {
		return Balance{}, err
	}
	return after, nil
}

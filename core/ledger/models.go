package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operation tells EditUserBalance which way to move the credits.
type Operation string

const (
	OpAdd Operation = "ADD"
	OpSub Operation = "SUB"
)

// Kind of a ledger entry.
type Kind string

const (
	KindReserve         Kind = "reserve"
	KindWithdrawReserve Kind = "withdraw_reserved"
	KindReleaseReserve  Kind = "release_reserved"
	KindAdd             Kind = "add"
	KindSub             Kind = "sub"
	KindRefund          Kind = "refund"
)

// Balance is the wallet state of a user.
type Balance struct {
	UserID          string          `json:"user_id" db:"id"`
	Credits         decimal.Decimal `json:"credits" db:"credits"`
	ReservedCredits decimal.Decimal `json:"reserved_credits" db:"reserved_credits"`
}

// Change is an atomic move applied on a Balance; a delta can be negative.
type Change struct {
	UserID        string
	CreditsDelta  decimal.Decimal
	ReservedDelta decimal.Decimal
}

// Entry is an append-only record of a balance movement.
type Entry struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Kind          Kind            `json:"kind" db:"kind"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	CreditsAfter  decimal.Decimal `json:"credits_after" db:"credits_after"`
	ReservedAfter decimal.Decimal `json:"reserved_after" db:"reserved_after"`
	Reference     string          `json:"reference" db:"reference"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// AmountRequest is the payload of the credits endpoints.
type AmountRequest struct {
	UserID    string          `json:"user_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"gte=0"`
	Reference string          `json:"reference" validate:"max=255"`
}

package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core/course"
)

type PaymentType string

const (
	PaymentBalance PaymentType = "balance"
	PaymentCard    PaymentType = "card"
	PaymentMixed   PaymentType = "mixed"
)

// FullDiscount makes a course free: nothing is charged.
const FullDiscount = 100

// EventCourseSubscribed is published once a purchase is settled.
const EventCourseSubscribed = "course.subscribed"

// PaymentResult is the outcome of a successful payment.
type PaymentResult struct {
	Type        PaymentType     `json:"type"`
	Currency    string          `json:"currency"`
	Total       decimal.Decimal `json:"total"`
	FromBalance decimal.Decimal `json:"from_balance"`
	FromCard    decimal.Decimal `json:"from_card"`
	ChargeID    string          `json:"charge_id,omitempty"`
}

// CardPayment describes a card charge.
type CardPayment struct {
	Amount         decimal.Decimal
	Currency       string
	Token          string
	Description    string
	Metadata       map[string]string
	Discount       int
	IdempotencyKey string
}

// MixedPayment splits Price between the card (AmountFromCard) and the balance (the rest).
type MixedPayment struct {
	Price          decimal.Decimal
	AmountFromCard decimal.Decimal
	Currency       string
	Token          string
	Description    string
	Metadata       map[string]string
	Discount       int
	IdempotencyKey string
	Reference      string
}

// ChargeRequest is sent to the card processor; Amount is in the currency minor unit.
type ChargeRequest struct {
	Amount         int64
	Currency       string
	Source         string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type Charge struct {
	ID       string
	Amount   int64
	Currency string
}

// Charger charges cards.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
	// Refund gives the whole charge back to the card.
	Refund(ctx context.Context, chargeID string) error
}

// IdempotencyRecord is what is kept about a request identified by an idempotency key.
type IdempotencyRecord struct {
	RequestHash string `json:"request_hash"`
	Completed   bool   `json:"completed"`
	Response    []byte `json:"response,omitempty"`
}

// IdempotencyStore remembers the outcome of the requests carrying an idempotency key.
type IdempotencyStore interface {
	// Reserve claims key for a request. If key is already claimed, it returns the existing record and false.
	Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (IdempotencyRecord, bool, error)
	// Complete stores the response of the request that claimed key.
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release forgets key so that the request can be retried.
	Release(ctx context.Context, key string) error
}

// PurchaseRequest is the payload of the purchase endpoint.
type PurchaseRequest struct {
	PaymentType    PaymentType     `json:"payment_type" validate:"required,oneof=balance card mixed"`
	Token          string          `json:"token" validate:"required_unless=PaymentType balance"`
	AmountFromCard decimal.Decimal `json:"amount_from_card" validate:"gte=0"`
	IdempotencyKey string          `json:"-"`
}

// Subscription is the outcome of SubscribeCourse.
type Subscription struct {
	Course   course.Course   `json:"course"`
	BuyerID  string          `json:"buyer_id"`
	Earnings decimal.Decimal `json:"earnings"`
}

// Receipt is returned to the buyer once a purchase is settled.
type Receipt struct {
	CourseID     string        `json:"course_id"`
	CourseTitle  string        `json:"course_title"`
	Discount     int           `json:"discount"`
	Payment      PaymentResult `json:"payment"`
	SubscribedAt time.Time     `json:"subscribed_at"`
}

// SubscribedEvent is published on EventCourseSubscribed.
type SubscribedEvent struct {
	CourseID    string          `json:"course_id"`
	UserID      string          `json:"user_id"`
	CreatorID   string          `json:"creator_id"`
	PaymentType PaymentType     `json:"payment_type"`
	Total       decimal.Decimal `json:"total"`
	Earnings    decimal.Decimal `json:"earnings"`
	Currency    string          `json:"currency"`
	At          time.Time       `json:"at"`
}

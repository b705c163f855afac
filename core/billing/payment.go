package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/user"
)

var (
	errMissingToken  = core.NewValidationError(errors.New("a card token is required"), core.FieldError{Field: "token", Error: "required"})
	errCardAmount    = core.NewValidationError(errors.New("the card amount must be between 0 and the price"), core.FieldError{Field: "amount_from_card", Error: "out of range"})
	errNegativePrice = core.NewServiceError("price must not be negative")
)

func isFree(discount int) bool {
	return discount >= FullDiscount
}

// PayFromBalance debits amount from the available credits of usr.
// It fails with a PayFromBalanceError carrying the current credits when they do not cover amount.
func (svc *Service) PayFromBalance(ctx context.Context, usr *user.User, amount decimal.Decimal, reference string) (PaymentResult, error) {
	if usr == nil {
		return PaymentResult{}, user.ErrNotFound
	}
	if amount.IsNegative() {
		return PaymentResult{}, errNegativePrice
	}

	result := PaymentResult{
		Type:        PaymentBalance,
		Currency:    usr.Currency,
		Total:       amount,
		FromBalance: amount,
	}
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		bal, err := svc.ledger.Balance(ctx, usr.ID)
		if err != nil {
			if core.ErrorCode(err) == core.CodeServiceError {
				return user.ErrNotFound
			}
			return err
		}
		if bal.Credits.LessThan(amount) {
			return core.NewPayFromBalanceError(bal.Credits, amount)
		}
		if amount.IsZero() {
			return nil
		}

		if _, err = svc.ledger.EditUserBalance(ctx, usr.ID, amount, ledger.OpSub, reference); err != nil {
			// lost a race against a concurrent debit
			if core.ErrorCode(err) == core.CodeValidation {
				if bal, berr := svc.ledger.Balance(ctx, usr.ID); berr == nil {
					return core.NewPayFromBalanceError(bal.Credits, amount)
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

// PayFromCard charges the card of usr. Nothing is charged when the discount makes the course free.
func (svc *Service) PayFromCard(ctx context.Context, usr *user.User, p CardPayment) (PaymentResult, error) {
	if usr == nil {
		return PaymentResult{}, user.ErrNotFound
	}
	result := PaymentResult{Type: PaymentCard, Currency: p.Currency, Total: decimal.Zero, FromCard: decimal.Zero}
	if isFree(p.Discount) {
		return result, nil
	}
	if p.Amount.IsNegative() {
		return PaymentResult{}, errNegativePrice
	}

	result.Total = p.Amount
	result.FromCard = p.Amount
	if p.Amount.IsZero() {
		return result, nil
	}
	if p.Token == "" {
		return PaymentResult{}, errMissingToken
	}

	metadata := map[string]string{"user_id": usr.ID}
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	ch, err := svc.charger.Charge(ctx, ChargeRequest{
		Amount:         core.ToMinorUnits(p.Amount, p.Currency),
		Currency:       p.Currency,
		Source:         p.Token,
		Description:    p.Description,
		Metadata:       metadata,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("card charge failed: %v", err), err, *usr)
		return PaymentResult{}, core.NewStripePaymentError(err)
	}
	result.ChargeID = ch.ID
	return result, nil
}

// PayFromMixed takes the card amount from the card and the rest of the price from the balance.
// The balance is debited first; it is refunded if the card charge then fails.
func (svc *Service) PayFromMixed(ctx context.Context, usr *user.User, p MixedPayment) (PaymentResult, error) {
	if usr == nil {
		return PaymentResult{}, user.ErrNotFound
	}
	result := PaymentResult{Type: PaymentMixed, Currency: p.Currency, Total: decimal.Zero, FromBalance: decimal.Zero, FromCard: decimal.Zero}
	if isFree(p.Discount) {
		return result, nil
	}
	if p.Price.IsNegative() {
		return PaymentResult{}, errNegativePrice
	}
	if p.AmountFromCard.IsNegative() || p.AmountFromCard.GreaterThan(p.Price) {
		return PaymentResult{}, errCardAmount
	}

	fromBalance := p.Price.Sub(p.AmountFromCard)
	if _, err := svc.PayFromBalance(ctx, usr, fromBalance, p.Reference); err != nil {
		return PaymentResult{}, err
	}

	card, err := svc.PayFromCard(ctx, usr, CardPayment{
		Amount:         p.AmountFromCard,
		Currency:       p.Currency,
		Token:          p.Token,
		Description:    p.Description,
		Metadata:       p.Metadata,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		svc.refund(ctx, usr, fromBalance, p.Reference)
		return PaymentResult{}, err
	}

	result.Total = p.Price
	result.FromBalance = fromBalance
	result.FromCard = card.FromCard
	result.ChargeID = card.ChargeID
	return result, nil
}

// refund gives back the balance part of a failed mixed payment.
func (svc *Service) refund(ctx context.Context, usr *user.User, amount decimal.Decimal, reference string) {
	if amount.IsZero() {
		return
	}
	if _, err := svc.ledger.Refund(ctx, usr.ID, amount, "refund:"+reference); err != nil {
		svc.logger.Error(fmt.Sprintf("refunding %s to user %s: %v", amount, usr.ID, err), err, *usr)
	}
}

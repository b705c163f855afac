package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/user"
)

var (
	errKeyReused     = core.NewValidationError(errors.New("this idempotency key was used for a different request"))
	errKeyInProgress = core.NewValidationError(errors.New("a request with this idempotency key is in progress"))
	errCardPrecision = core.NewValidationError(
		errors.New("the card amount has more decimals than the currency allows"),
		core.FieldError{Field: "amount_from_card", Error: "too many decimals"},
	)
)

// checkWalletCurrency fails when the credits of the wallet are not in the course currency.
func checkWalletCurrency(walletCurrency, courseCurrency, whose string) error {
	if strings.EqualFold(walletCurrency, courseCurrency) {
		return nil
	}
	return core.NewValidationError(fmt.Errorf(
		"%s wallet is in %s but the course is sold in %s",
		whose, strings.ToUpper(walletCurrency), strings.ToUpper(courseCurrency),
	))
}

// checkCurrencies makes sure that no credits move across currencies:
// the buyer wallet pays the balance part and the creator wallet receives the earnings.
func checkCurrencies(c course.Course, buyer user.User, paymentType PaymentType) error {
	if isFree(c.Discount) {
		return nil
	}
	if paymentType == PaymentBalance || paymentType == PaymentMixed {
		if err := checkWalletCurrency(buyer.Currency, c.Currency, "your"); err != nil {
			return err
		}
	}
	if c.Creator != nil {
		return checkWalletCurrency(c.Creator.Currency, c.Currency, "the creator")
	}
	return nil
}

func (req PurchaseRequest) hash(buyerID, courseID string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		buyerID,
		courseID,
		string(req.PaymentType),
		req.Token,
		req.AmountFromCard.String(),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// PurchaseCourse pays for the course with the payment type of req and subscribes buyer to it.
// A request carrying an idempotency key is only processed once: replays get the first receipt back.
func (svc *Service) PurchaseCourse(ctx context.Context, buyer user.User, courseID string, req PurchaseRequest) (Receipt, error) {
	if err := buyer.CanPurchase(); err != nil {
		return Receipt{}, err
	}
	if !core.IsValidID(courseID) {
		return Receipt{}, errInvalidCourseID
	}

	if req.IdempotencyKey == "" || svc.idem == nil {
		return svc.purchase(ctx, buyer, courseID, req)
	}

	key := "purchase:" + buyer.ID + ":" + req.IdempotencyKey
	reqHash := req.hash(buyer.ID, courseID)
	rec, claimed, err := svc.idem.Reserve(ctx, key, reqHash, svc.idemTTL)
	if err != nil {
		return Receipt{}, err
	}
	if !claimed {
		switch {
		case rec.RequestHash != reqHash:
			return Receipt{}, errKeyReused
		case !rec.Completed:
			return Receipt{}, errKeyInProgress
		}
		var receipt Receipt
		if err = json.Unmarshal(rec.Response, &receipt); err != nil {
			return Receipt{}, err
		}
		return receipt, nil
	}

	receipt, err := svc.purchase(ctx, buyer, courseID, req)
	if err != nil {
		if rerr := svc.idem.Release(ctx, key); rerr != nil {
			svc.logger.Error(fmt.Sprintf("releasing idempotency key %s: %v", key, rerr), rerr, buyer)
		}
		return Receipt{}, err
	}

	resp, err := json.Marshal(receipt)
	if err == nil {
		err = svc.idem.Complete(ctx, key, resp, svc.idemTTL)
	}
	if err != nil {
		svc.logger.Error(fmt.Sprintf("completing idempotency key %s: %v", key, err), err, buyer)
	}
	return receipt, nil
}

func (svc *Service) purchase(ctx context.Context, buyer user.User, courseID string, req PurchaseRequest) (Receipt, error) {
	c, err := svc.courses.GetCourseWithCreator(ctx, courseID)
	if err != nil {
		return Receipt{}, err
	}
	if err = checkSubscribable(c, buyer); err != nil {
		return Receipt{}, err
	}
	if err = checkCurrencies(c, buyer, req.PaymentType); err != nil {
		return Receipt{}, err
	}

	var (
		payment PaymentResult
		sub     Subscription
	)
	err = svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		if payment, err = svc.pay(ctx, &buyer, c, req); err != nil {
			return err
		}
		sub, err = svc.SubscribeCourse(ctx, buyer, c.ID, &payment, c.Discount)
		return err
	})
	if err != nil {
		// the card was charged but the purchase was rolled back
		if payment.ChargeID != "" {
			if rerr := svc.charger.Refund(ctx, payment.ChargeID); rerr != nil {
				svc.logger.Error(fmt.Sprintf("refunding charge %s: %v", payment.ChargeID, rerr), rerr, buyer)
			}
		}
		return Receipt{}, err
	}

	now := svc.now().UTC()
	svc.publish(ctx, SubscribedEvent{
		CourseID:    c.ID,
		UserID:      buyer.ID,
		CreatorID:   c.CreatorID,
		PaymentType: payment.Type,
		Total:       payment.Total,
		Earnings:    sub.Earnings,
		Currency:    c.Currency,
		At:          now,
	})
	svc.sendPurchaseEmails(buyer, c, payment, sub.Earnings, now)

	return Receipt{
		CourseID:     c.ID,
		CourseTitle:  c.Title,
		Discount:     c.Discount,
		Payment:      payment,
		SubscribedAt: now,
	}, nil
}

func (svc *Service) pay(ctx context.Context, buyer *user.User, c course.Course, req PurchaseRequest) (PaymentResult, error) {
	price := c.FinalPrice()
	reference := "course:" + c.ID
	desc := "Course: " + c.Title
	meta := map[string]string{"course_id": c.ID}
	// a fresh key per attempt: a retry after a refunded charge must charge again
	chargeKey := "purchase:" + core.NewID()

	var (
		p   PaymentResult
		err error
	)
	switch req.PaymentType {
	case PaymentBalance:
		if isFree(c.Discount) {
			p = PaymentResult{Type: PaymentBalance}
			break
		}
		p, err = svc.PayFromBalance(ctx, buyer, price, reference)
	case PaymentCard:
		p, err = svc.PayFromCard(ctx, buyer, CardPayment{
			Amount:         price,
			Currency:       c.Currency,
			Token:          req.Token,
			Description:    desc,
			Metadata:       meta,
			Discount:       c.Discount,
			IdempotencyKey: chargeKey,
		})
	case PaymentMixed:
		if !req.AmountFromCard.Equal(core.RoundAmount(req.AmountFromCard, c.Currency)) {
			return PaymentResult{}, errCardPrecision
		}
		p, err = svc.PayFromMixed(ctx, buyer, MixedPayment{
			Price:          price,
			AmountFromCard: req.AmountFromCard,
			Currency:       c.Currency,
			Token:          req.Token,
			Description:    desc,
			Metadata:       meta,
			Discount:       c.Discount,
			IdempotencyKey: chargeKey,
			Reference:      reference,
		})
	default:
		err = core.NewValidationError(
			fmt.Errorf("unknown payment type %q", req.PaymentType),
			core.FieldError{Field: "payment_type", Error: "must be one of balance card mixed"},
		)
	}
	if err != nil {
		return PaymentResult{}, err
	}
	p.Currency = c.Currency
	return p, nil
}

package billing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/user"
)

var (
	errPaymentFailed   = core.NewValidationError(errors.New("payment failed"))
	errInvalidCourseID = core.NewServiceError("invalid course id")
	errCreatorDisabled = core.NewValidationError(errors.New("the creator of this course is disabled"))
	errOwnCourse       = core.NewValidationError(errors.New("cannot subscribe to your own course"))
)

// SubscribeCourse settles a paid purchase: the creator is credited with the earnings
// and buyer is added to the subscribers, in a single unit of work.
// payment may only be nil when the discount makes the course free.
func (svc *Service) SubscribeCourse(ctx context.Context, buyer user.User, courseID string, payment *PaymentResult, discount int) (Subscription, error) {
	if payment == nil && !isFree(discount) {
		return Subscription{}, errPaymentFailed
	}
	if !core.IsValidID(courseID) {
		return Subscription{}, errInvalidCourseID
	}

	var sub Subscription
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := svc.courses.GetCourseWithCreator(ctx, courseID)
		if err != nil {
			return err
		}
		if err = checkSubscribable(c, buyer); err != nil {
			return err
		}

		earnings := decimal.Zero
		if payment != nil {
			paid := *payment
			paid.Currency = c.Currency
			earnings = svc.Earnings(paid)
		}
		if earnings.IsPositive() {
			if err = checkWalletCurrency(c.Creator.Currency, c.Currency, "the creator"); err != nil {
				return err
			}
			if _, err = svc.ledger.EditUserBalance(ctx, c.CreatorID, earnings, ledger.OpAdd, "course:"+c.ID); err != nil {
				return err
			}
		}
		if err = svc.courses.AddSubscriber(ctx, c.ID, buyer.ID, earnings); err != nil {
			return err
		}

		c.Subscribers = append(c.Subscribers, buyer.ID)
		c.Earnings = c.Earnings.Add(earnings)
		sub = Subscription{Course: c, BuyerID: buyer.ID, Earnings: earnings}
		return nil
	})
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

func checkSubscribable(c course.Course, buyer user.User) error {
	switch {
	case c.Creator == nil || c.Creator.IsDisabled:
		return errCreatorDisabled
	case c.CreatorID == buyer.ID:
		return errOwnCourse
	case c.IsSubscribed(buyer.ID):
		return course.ErrAlreadySubscribed
	default:
		return nil
	}
}

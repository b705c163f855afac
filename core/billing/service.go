package billing

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/user"
)

type (
	// Ledger moves the credits of the users.
	Ledger interface {
		Balance(ctx context.Context, userID string) (ledger.Balance, error)
		EditUserBalance(ctx context.Context, userID string, amount decimal.Decimal, op ledger.Operation, reference string) (ledger.Balance, error)
		Refund(ctx context.Context, userID string, amount decimal.Decimal, reference string) (ledger.Balance, error)
	}

	Service struct {
		ledger     Ledger
		courses    course.Repository
		charger    Charger
		tx         core.Transactor
		idem       IdempotencyStore
		events     core.EventPublisher
		mailSvc    core.EmailService
		logger     core.Logger
		stripeTax  decimal.Decimal
		serviceTax decimal.Decimal
		idemTTL    time.Duration
		now        func() time.Time // mockable
	}
)

func NewService(
	conf *core.Config,
	ldg Ledger,
	courses course.Repository,
	charger Charger,
	tx core.Transactor,
	idem IdempotencyStore,
	events core.EventPublisher,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		ledger:     ldg,
		courses:    courses,
		charger:    charger,
		tx:         tx,
		idem:       idem,
		events:     events,
		mailSvc:    mailSvc,
		logger:     logger,
		stripeTax:  conf.Billing.StripeTax,
		serviceTax: conf.Billing.ServiceTax,
		idemTTL:    conf.Redis.IdempotencyTTL,
		now:        time.Now,
	}
}

// Earnings is what the creator receives for a payment once the taxes are taken:
// the processor tax on the card part and the service tax on the balance part.
// The result is rounded to the precision of the payment currency.
func (svc *Service) Earnings(p PaymentResult) decimal.Decimal {
	one := decimal.NewFromInt(1)
	fromCard := p.FromCard.Mul(one.Sub(svc.stripeTax))
	fromBalance := p.FromBalance.Mul(one.Sub(svc.serviceTax))
	return core.RoundAmount(fromCard.Add(fromBalance), p.Currency)
}

func (svc *Service) publish(ctx context.Context, evt SubscribedEvent) {
	if svc.events == nil {
		return
	}
	if err := svc.events.Publish(ctx, EventCourseSubscribed, evt, evt.CourseID); err != nil {
		svc.logger.Error(fmt.Sprintf("publishing %s: %v", EventCourseSubscribed, err), err)
	}
}

// receiptText is the plain text receipt attached to the buyer email.
func receiptText(buyer user.User, c course.Course, p PaymentResult, at time.Time) string {
	exp := core.CurrencyExponent(p.Currency)
	cur := strings.ToUpper(p.Currency)

	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "Receipt\n\n")
	_, _ = fmt.Fprintf(&b, "Date: %s\n", at.UTC().Format(time.RFC1123))
	_, _ = fmt.Fprintf(&b, "Buyer: %s <%s>\n", buyer.Name, buyer.Email)
	_, _ = fmt.Fprintf(&b, "Course: %s (%s)\n", c.Title, c.ID)
	if c.Discount > 0 {
		_, _ = fmt.Fprintf(&b, "Discount: %d%%\n", c.Discount)
	}
	_, _ = fmt.Fprintf(&b, "Payment: %s\n", p.Type)
	if p.FromBalance.IsPositive() {
		_, _ = fmt.Fprintf(&b, "From credits: %s %s\n", p.FromBalance.StringFixed(exp), cur)
	}
	if p.FromCard.IsPositive() {
		_, _ = fmt.Fprintf(&b, "From card: %s %s\n", p.FromCard.StringFixed(exp), cur)
	}
	if p.ChargeID != "" {
		_, _ = fmt.Fprintf(&b, "Charge: %s\n", p.ChargeID)
	}
	_, _ = fmt.Fprintf(&b, "Total: %s %s\n", p.Total.StringFixed(exp), cur)
	return b.String()
}

func (svc *Service) sendPurchaseEmails(buyer user.User, c course.Course, p PaymentResult, earnings decimal.Decimal, at time.Time) {
	if svc.mailSvc == nil {
		return
	}

	var msgs []*core.EmailMessage
	if buyer.Email != "" {
		receipt := &core.EmailMessage{
			To:           []mail.Address{{Name: buyer.Name, Address: buyer.Email}},
			Subject:      "Your purchase of " + c.Title,
			TemplateName: "purchase_receipt",
			TemplateData: map[string]interface{}{
				"BuyerName":   buyer.Name,
				"CourseTitle": c.Title,
				"CourseID":    c.ID,
				"Total":       p.Total.StringFixed(core.CurrencyExponent(p.Currency)),
				"Currency":    p.Currency,
				"PaymentType": string(p.Type),
			},
		}
		filename := "receipt-" + c.ID + ".txt"
		if err := receipt.Attach(strings.NewReader(receiptText(buyer, c, p, at)), filename, "text/plain"); err != nil {
			svc.logger.Error(fmt.Sprintf("attaching %s: %v", filename, err), err, buyer)
		}
		msgs = append(msgs, receipt)
	}
	if c.Creator != nil && c.Creator.Email != "" {
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: c.Creator.Name, Address: c.Creator.Email}},
			Subject:      c.Title + " has a new subscriber",
			TemplateName: "course_sold",
			TemplateData: map[string]interface{}{
				"CreatorName": c.Creator.Name,
				"BuyerName":   buyer.Name,
				"CourseTitle": c.Title,
				"Earnings":    earnings.StringFixed(core.CurrencyExponent(c.Currency)),
				"Currency":    c.Currency,
			},
		})
	}
	if len(msgs) > 0 {
		svc.mailSvc.SendMessages(msgs...)
	}
}

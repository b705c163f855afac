package billing_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/billing"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/user"
	inmemcache "github.com/trezcool/atelier/storage/cache/inmem"
	inmemdb "github.com/trezcool/atelier/storage/database/inmem"
	"github.com/trezcool/atelier/testutil"
)

// fakeCharger replays the first response of an idempotency key, like the card processor does.
type fakeCharger struct {
	mu      sync.Mutex
	err     error
	charges []billing.ChargeRequest
	refunds []string
	byKey   map[string]billing.Charge
}

func (c *fakeCharger) Charge(_ context.Context, req billing.ChargeRequest) (billing.Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return billing.Charge{}, c.err
	}
	if ch, ok := c.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return ch, nil
	}
	c.charges = append(c.charges, req)
	ch := billing.Charge{ID: fmt.Sprintf("ch_%d", len(c.charges)), Amount: req.Amount, Currency: req.Currency}
	if c.byKey == nil {
		c.byKey = make(map[string]billing.Charge)
	}
	c.byKey[req.IdempotencyKey] = ch
	return ch, nil
}

func (c *fakeCharger) Refund(_ context.Context, chargeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunds = append(c.refunds, chargeID)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(_ context.Context, eventType string, _ interface{}, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *fakeMailer) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

// flakyCourses fails the next failures calls to AddSubscriber.
type flakyCourses struct {
	course.Repository
	failures int
}

func (r *flakyCourses) AddSubscriber(ctx context.Context, courseID, userID string, earnings decimal.Decimal) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	return r.Repository.AddSubscriber(ctx, courseID, userID, earnings)
}

type env struct {
	db      *inmemdb.DB
	svc     *billing.Service
	ledger  *ledger.Service
	users   user.Repository
	courses course.Repository
	charger *fakeCharger
	events  *fakePublisher
	mailer  *fakeMailer
}

func setup(t *testing.T) *env {
	t.Helper()
	db := inmemdb.Open()
	e := &env{
		db:      db,
		ledger:  ledger.NewService(inmemdb.NewLedgerRepository(db), db),
		users:   inmemdb.NewUserRepository(db),
		courses: inmemdb.NewCourseRepository(db),
		charger: &fakeCharger{},
		events:  &fakePublisher{},
		mailer:  &fakeMailer{},
	}
	e.svc = e.newService(t, e.courses)
	return e
}

func (e *env) newService(t *testing.T, courses course.Repository) *billing.Service {
	t.Helper()
	return billing.NewService(
		testutil.Config(t),
		e.ledger,
		courses,
		e.charger,
		e.db,
		inmemcache.NewIdempotencyStore(),
		e.events,
		e.mailer,
		testutil.NopLogger{},
	)
}

// withCurrency moves the wallet of usr to currency.
func (e *env) withCurrency(t *testing.T, usr user.User, currency string) user.User {
	t.Helper()
	usr.Currency = currency
	usr, err := e.users.UpdateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr
}

func (e *env) newCourse(t *testing.T, creator user.User, price string, discount int, currency string) course.Course {
	t.Helper()
	c := testutil.CreateCourse(t, e.courses, creator, "Go", dec(price), discount)
	c.Currency = currency
	c, err := e.courses.UpdateCourse(context.Background(), c)
	require.NoError(t, err)
	return c
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *env) newUser(t *testing.T, uname string, credits string, roles ...string) user.User {
	t.Helper()
	if roles == nil {
		roles = []string{user.RoleStudent}
	}
	usr := testutil.CreateUser(t, e.users, uname, uname, uname+"@example.com", "", roles, true)
	if c := dec(credits); c.IsPositive() {
		_, err := e.ledger.EditUserBalance(context.Background(), usr.ID, c, ledger.OpAdd, "seed")
		require.NoError(t, err)
	}
	return usr
}

func (e *env) credits(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	bal, err := e.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return bal.Credits
}

func TestService_PayFromBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		e := setup(t)
		_, err := e.svc.PayFromBalance(ctx, nil, dec("10"), "test")
		assert.Equal(t, core.CodeNotFound, core.ErrorCode(err))
	})

	t.Run("not enough credits", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "poor", "50")

		_, err := e.svc.PayFromBalance(ctx, &usr, dec("100"), "test")
		var appErr *core.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, core.CodeValidation, appErr.Code)
		assert.True(t, appErr.Payload["credits"].(decimal.Decimal).Equal(dec("50")))
		assert.True(t, appErr.Payload["amount"].(decimal.Decimal).Equal(dec("100")))
		assert.True(t, e.credits(t, usr.ID).Equal(dec("50")))
	})

	t.Run("debits the balance", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "rich", "150")

		res, err := e.svc.PayFromBalance(ctx, &usr, dec("100"), "test")
		require.NoError(t, err)
		assert.Equal(t, billing.PaymentBalance, res.Type)
		assert.True(t, res.FromBalance.Equal(dec("100")))
		assert.True(t, e.credits(t, usr.ID).Equal(dec("50")))
	})
}

func TestService_PayFromCard(t *testing.T) {
	ctx := context.Background()

	t.Run("free course is never charged", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "buyer", "0")
		res, err := e.svc.PayFromCard(ctx, &usr, billing.CardPayment{Amount: dec("30"), Currency: "usd", Discount: 100})
		require.NoError(t, err)
		assert.True(t, res.Total.IsZero())
		assert.Empty(t, e.charger.charges)
	})

	t.Run("charges the minor units", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "buyer", "0")
		res, err := e.svc.PayFromCard(ctx, &usr, billing.CardPayment{Amount: dec("19.99"), Currency: "usd", Token: "tok_visa"})
		require.NoError(t, err)
		require.Len(t, e.charger.charges, 1)
		assert.Equal(t, int64(1999), e.charger.charges[0].Amount)
		assert.Equal(t, usr.ID, e.charger.charges[0].Metadata["user_id"])
		assert.Equal(t, "ch_1", res.ChargeID)
	})

	t.Run("missing token", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "buyer", "0")
		_, err := e.svc.PayFromCard(ctx, &usr, billing.CardPayment{Amount: dec("5"), Currency: "usd"})
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err))
	})

	t.Run("declined card", func(t *testing.T) {
		e := setup(t)
		e.charger.err = errors.New("your card was declined")
		usr := e.newUser(t, "buyer", "0")
		_, err := e.svc.PayFromCard(ctx, &usr, billing.CardPayment{Amount: dec("5"), Currency: "usd", Token: "tok_declined"})
		assert.Equal(t, core.CodeStripePayment, core.ErrorCode(err))
		assert.EqualError(t, err, "your card was declined")
	})
}

func TestService_PayFromMixed(t *testing.T) {
	ctx := context.Background()

	t.Run("free course touches nothing", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "buyer", "20")
		_, err := e.svc.PayFromMixed(ctx, &usr, billing.MixedPayment{
			Price: dec("50"), AmountFromCard: dec("30"), Currency: "usd", Token: "tok_visa", Discount: 100,
		})
		require.NoError(t, err)
		assert.Empty(t, e.charger.charges)
		assert.True(t, e.credits(t, usr.ID).Equal(dec("20")))
	})

	t.Run("splits the price", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "buyer", "25")
		res, err := e.svc.PayFromMixed(ctx, &usr, billing.MixedPayment{
			Price: dec("50"), AmountFromCard: dec("30"), Currency: "usd", Token: "tok_visa", Reference: "test",
		})
		require.NoError(t, err)
		assert.True(t, res.FromBalance.Equal(dec("20")))
		assert.True(t, res.FromCard.Equal(dec("30")))
		assert.True(t, res.Total.Equal(dec("50")))
		require.Len(t, e.charger.charges, 1)
		assert.Equal(t, int64(3000), e.charger.charges[0].Amount)
		assert.True(t, e.credits(t, usr.ID).Equal(dec("5")))
	})

	t.Run("card amount over the price", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "buyer", "25")
		_, err := e.svc.PayFromMixed(ctx, &usr, billing.MixedPayment{
			Price: dec("50"), AmountFromCard: dec("51"), Currency: "usd", Token: "tok_visa",
		})
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err))
	})

	t.Run("balance does not cover its part", func(t *testing.T) {
		e := setup(t)
		usr := e.newUser(t, "buyer", "10")
		_, err := e.svc.PayFromMixed(ctx, &usr, billing.MixedPayment{
			Price: dec("50"), AmountFromCard: dec("30"), Currency: "usd", Token: "tok_visa",
		})
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err))
		assert.Empty(t, e.charger.charges)
	})

	t.Run("declined card refunds the balance", func(t *testing.T) {
		e := setup(t)
		e.charger.err = errors.New("declined")
		usr := e.newUser(t, "buyer", "25")
		_, err := e.svc.PayFromMixed(ctx, &usr, billing.MixedPayment{
			Price: dec("50"), AmountFromCard: dec("30"), Currency: "usd", Token: "tok_visa", Reference: "test",
		})
		assert.Equal(t, core.CodeStripePayment, core.ErrorCode(err))
		assert.True(t, e.credits(t, usr.ID).Equal(dec("25")))

		entries, err := e.ledger.History(ctx, usr.ID, 0)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.Equal(t, ledger.KindRefund, entries[0].Kind)
	})
}

func TestService_SubscribeCourse(t *testing.T) {
	ctx := context.Background()

	cardPayment := &billing.PaymentResult{Type: billing.PaymentCard, Total: dec("100"), FromCard: dec("100")}

	t.Run("missing payment", func(t *testing.T) {
		e := setup(t)
		buyer := e.newUser(t, "buyer", "0")
		_, err := e.svc.SubscribeCourse(ctx, buyer, core.NewID(), nil, 0)
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err))
	})

	t.Run("malformed course id", func(t *testing.T) {
		e := setup(t)
		buyer := e.newUser(t, "buyer", "0")
		_, err := e.svc.SubscribeCourse(ctx, buyer, "not-a-uuid", cardPayment, 0)
		assert.Equal(t, core.CodeServiceError, core.ErrorCode(err))
	})

	t.Run("unknown course", func(t *testing.T) {
		e := setup(t)
		buyer := e.newUser(t, "buyer", "0")
		_, err := e.svc.SubscribeCourse(ctx, buyer, core.NewID(), cardPayment, 0)
		assert.Equal(t, core.CodeNotFound, core.ErrorCode(err))
	})

	t.Run("disabled creator", func(t *testing.T) {
		e := setup(t)
		creator := e.newUser(t, "creator", "0", user.RoleCreator)
		creator.IsDisabled = true
		_, err := e.users.UpdateUser(ctx, creator)
		require.NoError(t, err)
		c := testutil.CreateCourse(t, e.courses, creator, "Go", dec("100"), 0)
		buyer := e.newUser(t, "buyer", "0")

		_, err = e.svc.SubscribeCourse(ctx, buyer, c.ID, cardPayment, 0)
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err))
	})

	t.Run("taxes are taken from the earnings", func(t *testing.T) {
		tests := []struct {
			name    string
			payment *billing.PaymentResult
			want    string
		}{
			{name: "card", payment: cardPayment, want: "90"},
			{name: "balance", payment: &billing.PaymentResult{Type: billing.PaymentBalance, Total: dec("100"), FromBalance: dec("100")}, want: "80"},
			{name: "mixed", payment: &billing.PaymentResult{Type: billing.PaymentMixed, Total: dec("100"), FromCard: dec("40"), FromBalance: dec("60")}, want: "84"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				e := setup(t)
				creator := e.newUser(t, "creator", "0", user.RoleCreator)
				c := testutil.CreateCourse(t, e.courses, creator, "Go", dec("100"), 0)
				buyer := e.newUser(t, "buyer", "0")

				sub, err := e.svc.SubscribeCourse(ctx, buyer, c.ID, tt.payment, 0)
				require.NoError(t, err)
				assert.True(t, sub.Earnings.Equal(dec(tt.want)), "got %s", sub.Earnings)
				assert.True(t, e.credits(t, creator.ID).Equal(dec(tt.want)))

				got, err := e.courses.GetCourseByID(ctx, c.ID)
				require.NoError(t, err)
				assert.True(t, got.IsSubscribed(buyer.ID))
				assert.True(t, got.Earnings.Equal(dec(tt.want)))

				_, err = e.svc.SubscribeCourse(ctx, buyer, c.ID, tt.payment, 0)
				assert.Equal(t, core.CodeValidation, core.ErrorCode(err), "already subscribed")
				assert.True(t, e.credits(t, creator.ID).Equal(dec(tt.want)))
			})
		}
	})

	t.Run("free course without payment", func(t *testing.T) {
		e := setup(t)
		creator := e.newUser(t, "creator", "0", user.RoleCreator)
		c := testutil.CreateCourse(t, e.courses, creator, "Go", dec("100"), 100)
		buyer := e.newUser(t, "buyer", "0")

		sub, err := e.svc.SubscribeCourse(ctx, buyer, c.ID, nil, 100)
		require.NoError(t, err)
		assert.True(t, sub.Earnings.IsZero())
		assert.True(t, e.credits(t, creator.ID).IsZero())
	})
}

func TestService_PurchaseCourse(t *testing.T) {
	ctx := context.Background()

	t.Run("buyer checks", func(t *testing.T) {
		e := setup(t)
		creator := e.newUser(t, "creator", "0", user.RoleCreator)
		c := testutil.CreateCourse(t, e.courses, creator, "Go", dec("10"), 0)
		req := billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: "tok_visa"}

		unverified := e.newUser(t, "unverified", "0")
		unverified.IsVerified = false
		_, err := e.svc.PurchaseCourse(ctx, unverified, c.ID, req)
		assert.Equal(t, core.CodeAccountNotVerified, core.ErrorCode(err))

		disabled := e.newUser(t, "disabled", "0")
		disabled.IsDisabled = true
		_, err = e.svc.PurchaseCourse(ctx, disabled, c.ID, req)
		assert.Equal(t, core.CodeUserDisabled, core.ErrorCode(err))

		_, err = e.svc.PurchaseCourse(ctx, creator, c.ID, req)
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err), "own course")
		assert.Empty(t, e.charger.charges)
	})

	t.Run("balance purchase with discount", func(t *testing.T) {
		e := setup(t)
		creator := e.newUser(t, "creator", "0", user.RoleCreator)
		c := testutil.CreateCourse(t, e.courses, creator, "Go", dec("80"), 25)
		buyer := e.newUser(t, "buyer", "100")

		receipt, err := e.svc.PurchaseCourse(ctx, buyer, c.ID, billing.PurchaseRequest{PaymentType: billing.PaymentBalance})
		require.NoError(t, err)
		assert.True(t, receipt.Payment.Total.Equal(dec("60")))
		assert.Equal(t, "usd", receipt.Payment.Currency)
		assert.True(t, e.credits(t, buyer.ID).Equal(dec("40")))
		assert.True(t, e.credits(t, creator.ID).Equal(dec("48")))
		assert.Equal(t, []string{billing.EventCourseSubscribed}, e.events.events)
		require.Len(t, e.mailer.sent, 2)

		receiptMail := e.mailer.sent[0]
		assert.Equal(t, "purchase_receipt", receiptMail.TemplateName)
		require.True(t, receiptMail.HasAttachments())
		at := receiptMail.Attachments[0]
		assert.Equal(t, "receipt-"+c.ID+".txt", at.Filename)
		assert.Equal(t, "text/plain", at.ContentType)
		text, err := base64.StdEncoding.DecodeString(at.Content.String())
		require.NoError(t, err)
		assert.Contains(t, string(text), "Discount: 25%")
		assert.Contains(t, string(text), "From credits: 60.00 USD")
		assert.Contains(t, string(text), "Total: 60.00 USD")

		assert.Equal(t, "course_sold", e.mailer.sent[1].TemplateName)
		assert.False(t, e.mailer.sent[1].HasAttachments())
	})

	t.Run("failed payment leaves nothing behind", func(t *testing.T) {
		e := setup(t)
		e.charger.err = errors.New("declined")
		creator := e.newUser(t, "creator", "0", user.RoleCreator)
		c := testutil.CreateCourse(t, e.courses, creator, "Go", dec("50"), 0)
		buyer := e.newUser(t, "buyer", "40")

		_, err := e.svc.PurchaseCourse(ctx, buyer, c.ID, billing.PurchaseRequest{
			PaymentType: billing.PaymentMixed, Token: "tok_visa", AmountFromCard: dec("20"),
		})
		assert.Equal(t, core.CodeStripePayment, core.ErrorCode(err))
		assert.True(t, e.credits(t, buyer.ID).Equal(dec("40")))
		assert.True(t, e.credits(t, creator.ID).IsZero())

		got, err := e.courses.GetCourseByID(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, got.IsSubscribed(buyer.ID))
		assert.Empty(t, e.events.events)
	})

	t.Run("replayed request is charged once", func(t *testing.T) {
		e := setup(t)
		creator := e.newUser(t, "creator", "0", user.RoleCreator)
		c := testutil.CreateCourse(t, e.courses, creator, "Go", dec("100"), 0)
		buyer := e.newUser(t, "buyer", "0")
		req := billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: "tok_visa", IdempotencyKey: "key-1"}

		first, err := e.svc.PurchaseCourse(ctx, buyer, c.ID, req)
		require.NoError(t, err)
		second, err := e.svc.PurchaseCourse(ctx, buyer, c.ID, req)
		require.NoError(t, err)

		assert.Len(t, e.charger.charges, 1)
		assert.Equal(t, first.Payment.ChargeID, second.Payment.ChargeID)
		assert.True(t, first.SubscribedAt.Equal(second.SubscribedAt))
		assert.True(t, e.credits(t, creator.ID).Equal(dec("90")))

		req.Token = "tok_other"
		_, err = e.svc.PurchaseCourse(ctx, buyer, c.ID, req)
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err), "key reused for another request")
	})

	t.Run("retry after a failed settlement charges again", func(t *testing.T) {
		e := setup(t)
		creator := e.newUser(t, "creator", "0", user.RoleCreator)
		c := testutil.CreateCourse(t, e.courses, creator, "Go", dec("100"), 0)
		buyer := e.newUser(t, "buyer", "0")
		svc := e.newService(t, &flakyCourses{Repository: e.courses, failures: 1})
		req := billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: "tok_visa"}

		_, err := svc.PurchaseCourse(ctx, buyer, c.ID, req)
		require.Error(t, err)
		assert.Equal(t, []string{"ch_1"}, e.charger.refunds)

		receipt, err := svc.PurchaseCourse(ctx, buyer, c.ID, req)
		require.NoError(t, err)
		assert.Equal(t, "ch_2", receipt.Payment.ChargeID)
		require.Len(t, e.charger.charges, 2)
		assert.NotEqual(t, e.charger.charges[0].IdempotencyKey, e.charger.charges[1].IdempotencyKey)
		assert.True(t, e.credits(t, creator.ID).Equal(dec("90")))
	})

	t.Run("credits never cross currencies", func(t *testing.T) {
		tests := []struct {
			name            string
			buyerCurrency   string
			creatorCurrency string
			req             billing.PurchaseRequest
			wantCode        int
		}{
			{name: "balance from another currency", buyerCurrency: "jpy", creatorCurrency: "usd", req: billing.PurchaseRequest{PaymentType: billing.PaymentBalance}, wantCode: core.CodeValidation},
			{name: "mixed from another currency", buyerCurrency: "jpy", creatorCurrency: "usd", req: billing.PurchaseRequest{PaymentType: billing.PaymentMixed, Token: "tok_visa", AmountFromCard: dec("50")}, wantCode: core.CodeValidation},
			{name: "creator wallet in another currency", buyerCurrency: "usd", creatorCurrency: "jpy", req: billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: "tok_visa"}, wantCode: core.CodeValidation},
			{name: "card from any wallet", buyerCurrency: "jpy", creatorCurrency: "usd", req: billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: "tok_visa"}, wantCode: core.CodeOK},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				e := setup(t)
				creator := e.withCurrency(t, e.newUser(t, "creator", "0", user.RoleCreator), tt.creatorCurrency)
				buyer := e.withCurrency(t, e.newUser(t, "buyer", "100"), tt.buyerCurrency)
				c := e.newCourse(t, creator, "100", 0, "usd")

				_, err := e.svc.PurchaseCourse(ctx, buyer, c.ID, tt.req)
				assert.Equal(t, tt.wantCode, core.ErrorCode(err))
				if tt.wantCode != core.CodeOK {
					assert.True(t, e.credits(t, buyer.ID).Equal(dec("100")))
					assert.True(t, e.credits(t, creator.ID).IsZero())
					assert.Empty(t, e.charger.charges)
				}
			})
		}
	})

	t.Run("amounts follow the currency precision", func(t *testing.T) {
		tests := []struct {
			currency     string
			price        string
			wantTotal    string
			wantMinor    int64
			wantEarnings string
		}{
			{currency: "jpy", price: "105", wantTotal: "95", wantMinor: 95, wantEarnings: "86"},
			{currency: "kwd", price: "12.345", wantTotal: "11.111", wantMinor: 11111, wantEarnings: "10"},
			{currency: "usd", price: "10.99", wantTotal: "9.89", wantMinor: 989, wantEarnings: "8.9"},
		}
		for _, tt := range tests {
			t.Run(tt.currency, func(t *testing.T) {
				e := setup(t)
				creator := e.withCurrency(t, e.newUser(t, "creator", "0", user.RoleCreator), tt.currency)
				buyer := e.newUser(t, "buyer", "0")
				c := e.newCourse(t, creator, tt.price, 10, tt.currency)

				receipt, err := e.svc.PurchaseCourse(ctx, buyer, c.ID, billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: "tok_visa"})
				require.NoError(t, err)
				assert.True(t, receipt.Payment.Total.Equal(dec(tt.wantTotal)), "total %s", receipt.Payment.Total)
				require.Len(t, e.charger.charges, 1)
				assert.Equal(t, tt.wantMinor, e.charger.charges[0].Amount)
				assert.True(t, e.credits(t, creator.ID).Equal(dec(tt.wantEarnings)), "earnings %s", e.credits(t, creator.ID))
			})
		}
	})

	t.Run("card part finer than the currency", func(t *testing.T) {
		e := setup(t)
		creator := e.withCurrency(t, e.newUser(t, "creator", "0", user.RoleCreator), "jpy")
		buyer := e.withCurrency(t, e.newUser(t, "buyer", "500"), "jpy")
		c := e.newCourse(t, creator, "1000", 0, "jpy")

		_, err := e.svc.PurchaseCourse(ctx, buyer, c.ID, billing.PurchaseRequest{
			PaymentType: billing.PaymentMixed, Token: "tok_visa", AmountFromCard: dec("600.5"),
		})
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err))
		assert.Empty(t, e.charger.charges)
		assert.True(t, e.credits(t, buyer.ID).Equal(dec("500")))
	})
}

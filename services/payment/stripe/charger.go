// Package stripesvc charges cards through the Stripe API.
package stripesvc

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/billing"
)

var errNotConfigured = errors.New("card payments are not configured")

type Charger struct {
	api *client.API
}

var _ billing.Charger = (*Charger)(nil)

// NewCharger returns a Charger using the secret key of conf.
// backends is only set by tests, to point the client to a fake API.
func NewCharger(conf *core.Config, backends *stripe.Backends) *Charger {
	if backends == nil {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
			}),
		}
	}
	return &Charger{api: client.New(conf.Stripe.SecretKey, backends)}
}

func (c *Charger) Charge(ctx context.Context, req billing.ChargeRequest) (billing.Charge, error) {
	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	if err := params.SetSource(req.Source); err != nil {
		return billing.Charge{}, errors.Wrap(err, "setting charge source")
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	ch, err := c.api.Charges.New(params)
	if err != nil {
		return billing.Charge{}, cardError(err)
	}
	return billing.Charge{ID: ch.ID, Amount: ch.Amount, Currency: string(ch.Currency)}, nil
}

func (c *Charger) Refund(ctx context.Context, chargeID string) error {
	params := &stripe.RefundParams{Charge: stripe.String(chargeID)}
	params.Context = ctx
	params.SetIdempotencyKey("refund:" + chargeID)
	if _, err := c.api.Refunds.New(params); err != nil {
		return errors.Wrapf(cardError(err), "refunding charge %s", chargeID)
	}
	return nil
}

// cardError keeps the human readable message of the Stripe errors.
func cardError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Msg != "" {
		return errors.New(serr.Msg)
	}
	return err
}

// Disabled fails every charge; it stands in for the Stripe client when no secret key is set.
type Disabled struct{}

func (Disabled) Charge(context.Context, billing.ChargeRequest) (billing.Charge, error) {
	return billing.Charge{}, errNotConfigured
}

func (Disabled) Refund(context.Context, string) error {
	return errNotConfigured
}

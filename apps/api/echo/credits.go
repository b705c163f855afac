package echoapi

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core/ledger"
)

type creditsApi struct {
	svc      *ledger.Service
	validate *validator.Validate
}

type creditsOp func(ctx context.Context, userID string, amount decimal.Decimal, reference string) (ledger.Balance, error)

func registerCreditsAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc *ledger.Service, validate *validator.Validate) {
	api := creditsApi{svc: svc, validate: validate}

	cg := g.Group("/credits", append(authed, adminMiddleware())...)
	cg.POST("/reserve", api.handle(svc.ReserveCredits, "reserving credits"))
	cg.POST("/withdraw", api.handle(svc.WithdrawalReservedCredits, "withdrawing reserved credits"))
	cg.POST("/release", api.handle(svc.ReleaseReservedCredits, "releasing reserved credits"))
}

// handle binds a ledger.AmountRequest and applies op. Negative amounts reach op, which rejects them.
func (api *creditsApi) handle(op creditsOp, action string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var data ledger.AmountRequest
		if err := bind(ctx, &data); err != nil {
			return err
		}
		if err := api.validate.StructExcept(data, "Amount"); err != nil {
			return err
		}

		bal, err := op(ctx.Request().Context(), data.UserID, data.Amount, data.Reference)
		if err != nil {
			return errors.Wrap(err, action)
		}
		return ok(ctx, bal)
	}
}

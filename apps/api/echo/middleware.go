package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/user"
)

// activeUserMiddleware loads the user of the token and rejects disabled accounts.
func activeUserMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if usr.IsDisabled {
				return core.NewUserDisabled()
			}
			return next(ctx)
		}
	}
}

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, ok := ctx.Get(contextUserKey).(user.User)
			if !ok {
				return errUnauthorized
			}
			if usr.IsAdmin() && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errForbidden
		}
	}
}

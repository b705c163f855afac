package echoapi

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core/session"
	"github.com/trezcool/atelier/core/user"
)

type sessionApi struct {
	svc      *session.Service
	users    user.ServiceInterface
	validate *validator.Validate
}

type sessionOp func(ctx context.Context, actor user.User, id string) (session.LiveSession, error)

func registerSessionAPI(g *echo.Group, authed []echo.MiddlewareFunc, users user.ServiceInterface, svc *session.Service, validate *validator.Validate) {
	api := sessionApi{svc: svc, users: users, validate: validate}

	sg := g.Group("/sessions", authed...)
	sg.GET("/:id", api.retrieve)
	sg.POST("/:id/start", api.handle(svc.Start, "starting session"))
	sg.POST("/:id/finish", api.finish)
	sg.POST("/:id/join", api.handle(svc.Join, "joining session"))
	sg.POST("/:id/leave", api.handle(svc.Leave, "leaving session"))
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	s, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ok(ctx, s)
}

func (api *sessionApi) handle(op sessionOp, action string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := getContextUser(ctx, api.users)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		s, err := op(ctx.Request().Context(), usr, ctx.Param("id"))
		if err != nil {
			return errors.Wrap(err, action)
		}
		return ok(ctx, s)
	}
}

func (api *sessionApi) finish(ctx echo.Context) error {
	var data session.FinishRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	s, err := api.svc.Finish(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "finishing session")
	}
	return ok(ctx, s)
}

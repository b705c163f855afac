package echoapi

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/billing"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/session"
	"github.com/trezcool/atelier/core/user"
)

const (
	fileField         = "file"
	idempotencyHeader = "Idempotency-Key"
)

var errMissingFile = core.NewValidationError(nil, core.FieldError{Field: fileField, Error: "this field is required"})

type courseApi struct {
	users    user.ServiceInterface
	svc      *course.Service
	billing  *billing.Service
	sessions *session.Service
	validate *validator.Validate
}

func registerCourseAPI(
	g *echo.Group,
	authed []echo.MiddlewareFunc,
	users user.ServiceInterface,
	svc *course.Service,
	billingSvc *billing.Service,
	sessionSvc *session.Service,
	validate *validator.Validate,
) {
	api := courseApi{
		users:    users,
		svc:      svc,
		billing:  billingSvc,
		sessions: sessionSvc,
		validate: validate,
	}

	cg := g.Group("/courses", authed...)
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update)
	cg.DELETE("/:id", api.destroy)
	cg.POST("/:id/intro", api.setIntro)
	cg.POST("/:id/attachments", api.addAttachment)
	cg.POST("/:id/purchase", api.purchase)
	cg.POST("/:id/share", api.share)
	cg.POST("/:id/sessions", api.createSession)
	cg.GET("/:id/sessions", api.listSessions)
}

func (api *courseApi) query(ctx echo.Context) error {
	filter := new(course.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ok(ctx, []course.Course{})
	}
	filter.Clean()

	var err error
	if filter.MinPrice, err = decimalParam(ctx, "min_price"); err != nil {
		return err
	}
	if filter.MaxPrice, err = decimalParam(ctx, "max_price"); err != nil {
		return err
	}
	if subscribed, _ := strconv.ParseBool(ctx.QueryParam("subscribed")); subscribed {
		usr, err := getContextUser(ctx, api.users)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		filter.SubscriberID = usr.ID
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ok(ctx, courses)
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	c, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ok(ctx, c)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return ok(ctx, c)
}

func (api *courseApi) update(ctx echo.Context) error {
	var data course.UpdateCourse
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	c, err := api.svc.Update(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ok(ctx, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.Delete(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ok(ctx, nil)
}

func (api *courseApi) setIntro(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	fh, err := ctx.FormFile(fileField)
	if err != nil {
		return errMissingFile
	}

	c, err := api.svc.SetIntro(ctx.Request().Context(), usr, ctx.Param("id"), fh)
	if err != nil {
		return errors.Wrap(err, "setting course intro")
	}
	return ok(ctx, c)
}

func (api *courseApi) addAttachment(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	fh, err := ctx.FormFile(fileField)
	if err != nil {
		return errMissingFile
	}

	c, err := api.svc.AddAttachment(ctx.Request().Context(), usr, ctx.Param("id"), fh)
	if err != nil {
		return errors.Wrap(err, "adding course attachment")
	}
	return ok(ctx, c)
}

func (api *courseApi) purchase(ctx echo.Context) error {
	var data billing.PurchaseRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	data.IdempotencyKey = core.CleanString(ctx.Request().Header.Get(idempotencyHeader))

	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	receipt, err := api.billing.PurchaseCourse(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "purchasing course")
	}
	return ok(ctx, receipt)
}

func (api *courseApi) share(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.Share(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "sharing course")
	}
	return ok(ctx, ShareResponse{URL: c.ShareURL})
}

func (api *courseApi) createSession(ctx echo.Context) error {
	var data session.NewSession
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	s, err := api.sessions.Create(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ok(ctx, s)
}

func (api *courseApi) listSessions(ctx echo.Context) error {
	sessions, err := api.sessions.ListByCourse(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}
	if sessions == nil {
		sessions = []session.LiveSession{}
	}
	return ok(ctx, sessions)
}

type ShareResponse struct {
	URL string `json:"url"`
}

package echoapi

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/user"
)

const historyLimit = 20

var (
	errUsrNotFoundInCtx  = errors.New("user object not found in echo.Context")
	errNoPermsToSetRoles = "not enough rights to set these roles"
)

type userApi struct {
	auth     *Auth
	svc      user.ServiceInterface
	ledger   *ledger.Service
	validate *validator.Validate
}

func registerUserAPI(
	g *echo.Group,
	authed []echo.MiddlewareFunc,
	auth *Auth,
	svc user.ServiceInterface,
	ldg *ledger.Service,
	validate *validator.Validate,
) {
	api := userApi{
		auth:     auth,
		svc:      svc,
		ledger:   ldg,
		validate: validate,
	}

	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/login", api.login)
	ug.POST("/password-reset", api.resetPassword)
	ug.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	ag := ug.Group("", authed...)
	ag.POST("/token-refresh", api.refreshToken)
	ag.GET("/me", api.me)
	ag.GET("/me/balance", api.myBalance)
	ag.POST("", api.create, adminMiddleware())
	ag.GET("", api.query, adminMiddleware())
	ag.GET("/roles", api.queryRoles, adminMiddleware())
	ag.POST("/:id/disable", api.disable, adminMiddleware())
	ag.POST("/:id/enable", api.enable, adminMiddleware())
	ag.POST("/:id/credits", api.addCredits, adminMiddleware())

	// detail endpoints
	dg := ag.Group("/:id", ctxUserOrAdminMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
}

// Handlers

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := api.auth.authenticate(ctx.Request().Context(), data.Username, data.Password, api.svc)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := api.auth.GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ok(ctx, LoginResponse{Token: token})
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ok(ctx, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *userApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ok(ctx, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := api.auth.refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ok(ctx, LoginResponse{Token: token})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ok(ctx, usr)
}

func (api *userApi) myBalance(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rctx := ctx.Request().Context()
	bal, err := api.ledger.Balance(rctx, usr.ID)
	if err != nil {
		return errors.Wrap(err, "getting balance")
	}
	limit := limitParam(ctx)
	if limit == 0 {
		limit = historyLimit
	}
	history, err := api.ledger.History(rctx, usr.ID, limit)
	if err != nil {
		return errors.Wrap(err, "getting ledger history")
	}
	if history == nil {
		history = []ledger.Entry{}
	}
	return ok(ctx, BalanceResponse{Balance: bal, Currency: usr.Currency, History: history})
}

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := bind(ctx, &data); err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errNoPermsToSetRoles})
	}

	usr, err := api.svc.Create(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ok(ctx, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ok(ctx, []user.User{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ok(ctx, users)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ok(ctx, user.Roles)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, isUsr := ctx.Get("object").(user.User)
	if !isUsr {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	return ok(ctx, usr)
}

func (api *userApi) update(ctx echo.Context) error {
	usr, isUsr := ctx.Get("object").(user.User)
	if !isUsr {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := bind(ctx, &data); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		// `IsVerified` and `Roles` can only be changed by admin
		// `Username` and `Email` can only be changed by admin for now
		if data.IsVerified != nil || data.Roles != nil || data.Username != "" || data.Email != "" {
			return errForbidden
		}
	}

	rctx := ctx.Request().Context()
	if err = data.Validate(rctx, usr, api.validate, api.svc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errNoPermsToSetRoles})
	}

	usr, err = api.svc.Update(rctx, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ok(ctx, usr)
}

func (api *userApi) setDisabled(ctx echo.Context, disabled bool) error {
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// admins cannot lock themselves out
	if ctx.Param("id") == ctxUsr.ID {
		return errForbidden
	}
	if !core.IsValidID(ctx.Param("id")) {
		return user.ErrNotFound
	}

	usr, err := api.svc.SetDisabled(ctx.Request().Context(), ctx.Param("id"), disabled)
	if err != nil {
		return errors.Wrap(err, "setting user disabled")
	}
	return ok(ctx, usr)
}

func (api *userApi) disable(ctx echo.Context) error {
	return api.setDisabled(ctx, true)
}

func (api *userApi) enable(ctx echo.Context) error {
	return api.setDisabled(ctx, false)
}

func (api *userApi) addCredits(ctx echo.Context) error {
	var data CreditsRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	if !core.IsValidID(ctx.Param("id")) {
		return user.ErrNotFound
	}

	reference := data.Reference
	if reference == "" {
		reference = "top-up"
	}
	bal, err := api.ledger.EditUserBalance(ctx.Request().Context(), ctx.Param("id"), data.Amount, ledger.OpAdd, reference)
	if err != nil {
		return errors.Wrap(err, "adding credits")
	}
	return ok(ctx, bal)
}

func ctxUserOrAdminMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}

			if ctx.Param("id") == ctxUsr.ID || ctxUsr.IsAdmin() {
				if usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id")); err == nil {
					ctx.Set("object", usr)
					return next(ctx)
				} else if errors.Cause(err) != user.ErrNotFound {
					return errors.Wrap(err, "finding user by ID")
				}
			}
			return user.ErrNotFound
		}
	}
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	BalanceResponse struct {
		Balance  ledger.Balance `json:"balance"`
		Currency string         `json:"currency"`
		History  []ledger.Entry `json:"history"`
	}

	CreditsRequest struct {
		Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
		Reference string          `json:"reference" validate:"max=255"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}

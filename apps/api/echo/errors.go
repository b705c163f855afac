package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/user"
)

var (
	errUnauthorized       = &core.AppError{Code: http.StatusUnauthorized, Message: "user not authenticated"}
	errInvalidCredentials = core.NewValidationError(errors.New("invalid credentials"))
	errRefreshExpired     = core.NewAccessDenied("refresh has expired")
	errForbidden          = core.NewAccessDenied("permission denied")
)

// Envelope wraps every API response. The HTTP status is always 200: Code carries the outcome.
type Envelope struct {
	Code   int         `json:"code"`
	Result interface{} `json:"result,omitempty"`
	Error  interface{} `json:"error,omitempty"`
}

func ok(ctx echo.Context, result interface{}) error {
	return ctx.JSON(http.StatusOK, Envelope{Code: core.CodeOK, Result: result})
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			switch {
			case origErr == middleware.ErrJWTMissing:
				code = http.StatusUnauthorized
			case origErr.Code == http.StatusUnauthorized:
				// invalid or expired jwt
				code = http.StatusUnauthorized
			default:
				code = origErr.Code
			}
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = core.CodeValidation
			message = fldErrs
		case *core.ValidationError:
			if len(origErr.Fields) > 0 {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = core.CodeValidation
		case *core.AppError:
			code = origErr.Code
			if len(origErr.Payload) > 0 {
				payload := make(map[string]interface{}, len(origErr.Payload)+1)
				for k, v := range origErr.Payload {
					payload[k] = v
				}
				payload["message"] = origErr.Message
				message = payload
			} else {
				message = origErr.Message
			}
		default: // any other error is a server error
			code = core.CodeServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Username = claims.Username
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			if ctx.Echo().Debug {
				message = err.Error()
			}

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(http.StatusOK)
			} else {
				err = ctx.JSON(http.StatusOK, Envelope{Code: code, Error: message})
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

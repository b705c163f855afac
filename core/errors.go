package core

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Semantic codes carried in the response envelope.
const (
	CodeOK                 = http.StatusOK
	CodeValidation         = http.StatusBadRequest
	CodeAccountNotVerified = http.StatusUnauthorized
	CodeStripePayment      = http.StatusPaymentRequired
	CodeAccessDenied       = http.StatusForbidden
	CodeNotFound           = http.StatusNotFound
	CodeUserDisabled       = http.StatusMethodNotAllowed
	CodeServerError        = http.StatusInternalServerError
	CodeServiceError       = http.StatusBadGateway
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// AppError is a domain failure with a semantic code and an optional payload for the client.
type AppError struct {
	Code    int
	Message string
	Payload map[string]interface{}
}

func (err AppError) Error() string {
	return err.Message
}

func NewAccessDenied(msg ...string) error {
	return &AppError{Code: CodeAccessDenied, Message: firstOr(msg, "access denied")}
}

func NewUserDisabled() error {
	return &AppError{Code: CodeUserDisabled, Message: "user is disabled"}
}

func NewAccountNotVerified() error {
	return &AppError{Code: CodeAccountNotVerified, Message: "account is not verified"}
}

func NewNotFound(what string) error {
	return &AppError{Code: CodeNotFound, Message: what + " not found"}
}

func NewServiceError(msg string) error {
	return &AppError{Code: CodeServiceError, Message: msg}
}

func NewPayFromBalanceError(credits, amount decimal.Decimal) error {
	return &AppError{
		Code:    CodeValidation,
		Message: "not enough credits",
		Payload: map[string]interface{}{"credits": credits, "amount": amount},
	}
}

func NewStripePaymentError(cause error) error {
	msg := "card payment failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &AppError{Code: CodeStripePayment, Message: msg}
}

// ErrorCode returns the semantic code of err; unknown errors are server errors.
func ErrorCode(err error) int {
	switch e := errors.Cause(err).(type) {
	case nil:
		return CodeOK
	case *AppError:
		return e.Code
	case *ValidationError, validator.ValidationErrors:
		return CodeValidation
	default:
		return CodeServerError
	}
}

func IsNotFound(err error) bool {
	return ErrorCode(err) == CodeNotFound
}

func firstOr(vals []string, def string) string {
	if len(vals) > 0 && vals[0] != "" {
		return vals[0]
	}
	return def
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

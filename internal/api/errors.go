package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/types"
)

type ApiError struct {
	StatusCode int                `json:"status_code"`
	Message    string             `json:"message"`
	Errors     []types.FieldError `json:"errors,omitempty"`
	Err        error              `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

// NewValidationError reports which fields of a request were rejected.
func NewValidationError(msg string, fields []types.FieldError) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
		Errors:     fields,
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewMethodNotAllowedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    lower(http.StatusText(http.StatusMethodNotAllowed)),
	}
}

func NewRequestTooLargeError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusRequestEntityTooLarge,
		Message:    lower(http.StatusText(http.StatusRequestEntityTooLarge)),
	}
}

// fromServiceError translates a service error into its HTTP form.
func fromServiceError(err error) *ApiError {
	var (
		verr     *service.ValidationError
		conflict *service.ConflictError
	)

	switch {
	case errors.As(err, &verr):
		return NewValidationError(verr.Message, verr.Fields)
	case errors.As(err, &conflict):
		return &ApiError{StatusCode: http.StatusBadRequest, Message: conflict.Message}
	case errors.Is(err, service.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, service.ErrForbidden):
		return NewForbiddenError()
	case errors.Is(err, service.ErrRegistrationDisabled):
		return &ApiError{StatusCode: http.StatusForbidden, Message: service.ErrRegistrationDisabled.Error()}
	case errors.Is(err, service.ErrInvalidCredentials):
		return &ApiError{StatusCode: http.StatusUnauthorized, Message: service.ErrInvalidCredentials.Error()}
	default:
		return NewInternalServerError(err)
	}
}

package service

import (
	"errors"
	"strings"

	"github.com/npezzotti/securechat/internal/types"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrRegistrationDisabled = errors.New("registration is disabled")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	// ErrDuplicateMessage marks a realtime send dropped by the recent
	// duplicate check.
	ErrDuplicateMessage = errors.New("duplicate message")
)

// ValidationError reports malformed input before any mutation happens.
type ValidationError struct {
	Message string
	Fields  []types.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}

	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, types.FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func newValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

// ConflictError reports a request that clashes with existing state.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

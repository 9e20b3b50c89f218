// Package errors provides coded application errors shared by the repository,
// service and handler layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeInternal     Code = "INTERNAL"
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeConflict     Code = "CONFLICT"
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	ErrCodeForbidden    Code = "FORBIDDEN"
	ErrCodeUnavailable  Code = "UNAVAILABLE"
)

// Error is a coded error with an optional offending field and cause.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error code to an HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

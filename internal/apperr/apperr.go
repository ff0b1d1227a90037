package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, machine-readable category of an application error.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindUnauthorized    Kind = "unauthorized"
	KindConflict        Kind = "conflict"
	KindUpstream        Kind = "upstream_error"
	KindInternal        Kind = "internal_error"
)

// Error carries a Kind and a human readable detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that keeps err in the chain.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

func InvalidInput(format string, args ...any) *Error { return New(KindInvalidInput, format, args...) }

func Internal(format string, args ...any) *Error { return New(KindInternal, format, args...) }

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// DetailOf returns the human readable detail of err.
func DetailOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Detail
	}
	return "Internal server error"
}

// HTTPStatus maps err to the status code a handler should respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

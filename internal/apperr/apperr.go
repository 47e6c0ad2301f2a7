// Package apperr defines the typed errors shared by the service, repository
// and API layers.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindUnavailable  Kind = "unavailable"
	KindExternal     Kind = "external"
	KindInternal     Kind = "internal"
)

// Error is an application error carrying its kind, HTTP status and whether a
// caller may retry the same request.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newf(kind Kind, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// Validation creates a validation error
func Validation(format string, args ...any) *Error {
	return newf(KindValidation, false, format, args...)
}

// NotFound creates a not found error for the named resource
func NotFound(resource string) *Error {
	return newf(KindNotFound, false, "%s not found", resource)
}

// Conflict creates a conflict error
func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, false, format, args...)
}

// Unauthorized creates an unauthorized error
func Unauthorized(format string, args ...any) *Error {
	return newf(KindUnauthorized, false, format, args...)
}

// Forbidden creates a forbidden error
func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, false, format, args...)
}

// Unavailable creates a retryable unavailable error
func Unavailable(cause error, format string, args ...any) *Error {
	e := newf(KindUnavailable, true, format, args...)
	e.Cause = cause
	return e
}

// External wraps a failure of a third-party provider.
func External(cause error, retryable bool, format string, args ...any) *Error {
	e := newf(KindExternal, retryable, format, args...)
	e.Cause = cause
	return e
}

// Internal wraps an unexpected failure.
func Internal(cause error, format string, args ...any) *Error {
	e := newf(KindInternal, false, format, args...)
	e.Cause = cause
	return e
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return IsKind(err, KindConflict) }

// IsRetryable reports whether the operation that produced err may succeed
// when repeated. Deadline expiry counts as retryable, cancellation does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

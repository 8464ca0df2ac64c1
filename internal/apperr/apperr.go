package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes a failure of the job lifecycle.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindClient       Kind = "client"
	KindStorage      Kind = "storage"
	KindPersistence  Kind = "persistence"
	KindConfig       Kind = "config"
	KindDispatch     Kind = "dispatch"
	KindTimeout      Kind = "timeout"
	KindWorker       Kind = "worker"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
)

// Error is a categorized error. Message is safe to show to users; Cause
// carries internal detail for logs only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Public returns the user-facing message without internal cause detail.
func (e *Error) Public() string {
	return e.Message
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Unauthorized reports a missing or invalid caller identity.
func Unauthorized(msg string) *Error { return newErr(KindUnauthorized, msg, nil) }

// Client reports bad or missing input.
func Client(msg string) *Error { return newErr(KindClient, msg, nil) }

// Clientf reports bad or missing input with a formatted message.
func Clientf(format string, args ...any) *Error {
	return newErr(KindClient, fmt.Sprintf(format, args...), nil)
}

// Storage reports a binary upload failure.
func Storage(msg string, cause error) *Error { return newErr(KindStorage, msg, cause) }

// Persistence reports a failed insert or update.
func Persistence(msg string, cause error) *Error { return newErr(KindPersistence, msg, cause) }

// Config reports missing or invalid configuration.
func Config(msg string) *Error { return newErr(KindConfig, msg, nil) }

// Dispatch reports a failed webhook call.
func Dispatch(msg string, cause error) *Error { return newErr(KindDispatch, msg, cause) }

// Timeout reports that no conclusive signal arrived within the watch bound.
func Timeout(msg string) *Error { return newErr(KindTimeout, msg, nil) }

// Worker reports a failure written back by the external worker.
func Worker(msg string) *Error { return newErr(KindWorker, msg, nil) }

// NotFound reports a missing row.
func NotFound(msg string) *Error { return newErr(KindNotFound, msg, nil) }

// Internal reports an unexpected failure.
func Internal(msg string, cause error) *Error { return newErr(KindInternal, msg, cause) }

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// PublicMessage returns the user-safe text for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Public()
	}
	return "An unexpected error occurred"
}

// HTTPStatus maps a kind onto a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindClient:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConfig:
		return http.StatusServiceUnavailable
	case KindDispatch, KindStorage:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

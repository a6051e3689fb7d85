// Package errs defines the error kinds carried across service layers and
// their mapping to HTTP statuses. Handlers classify failures with Kind and
// render a uniform JSON envelope; inner layers wrap causes with %w so the
// original error chain stays inspectable.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure that callers can act on.
type Kind int

const (
	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = iota
	// KindNotFound marks a missing entity or one not owned by the caller.
	KindNotFound
	// KindUnauthenticated marks a missing or invalid bearer token.
	KindUnauthenticated
	// KindUnauthorized marks an authenticated caller lacking access.
	KindUnauthorized
	// KindBadRequest marks a payload violating a stated constraint.
	KindBadRequest
	// KindConflict marks a uniqueness or state precondition failure.
	KindConflict
	// KindProviderUnconfigured marks a missing credential for a required capability.
	KindProviderUnconfigured
	// KindProviderTransient marks a remote 5xx or timeout, retriable at the
	// caller's discretion.
	KindProviderTransient
	// KindProviderFatal marks a remote 4xx other than 401/403.
	KindProviderFatal
	// KindResourceExhausted marks queue or pool saturation and rate limits.
	KindResourceExhausted
)

// String returns the wire name of the kind, used in the JSON error envelope.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindUnauthorized:
		return "Unauthorized"
	case KindBadRequest:
		return "BadRequest"
	case KindConflict:
		return "Conflict"
	case KindProviderUnconfigured:
		return "ProviderUnconfigured"
	case KindProviderTransient:
		return "ProviderTransient"
	case KindProviderFatal:
		return "ProviderFatal"
	case KindResourceExhausted:
		return "ResourceExhausted"
	default:
		return "Internal"
	}
}

// HTTPStatus maps the kind to the response status served to clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindProviderUnconfigured:
		return http.StatusUnprocessableEntity
	case KindProviderTransient:
		return http.StatusServiceUnavailable
	case KindProviderFatal:
		return http.StatusInternalServerError
	case KindResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind plus a user-safe detail message. The wrapped cause is
// for logs only and is never rendered to clients.
type Error struct {
	kind   Kind
	detail string
	cause  error
}

// New builds an Error with the given kind and user-safe detail.
func New(kind Kind, detail string) *Error {
	return &Error{kind: kind, detail: detail}
}

// Newf builds an Error with a formatted user-safe detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and user-safe detail to an underlying cause.
func Wrap(err error, kind Kind, detail string) *Error {
	return &Error{kind: kind, detail: detail, cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.detail)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Detail returns the user-safe message.
func (e *Error) Detail() string { return e.detail }

// KindOf returns the kind of err, walking the wrap chain. Unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// DetailOf returns the user-safe detail of err, or a generic message for
// unclassified errors so internals never leak to clients.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.detail
	}
	return "internal error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// NotFound is shorthand for the most common kind.
func NotFound(what string) *Error {
	return Newf(KindNotFound, "%s not found", what)
}

// Package apperr defines the error taxonomy shared by services and handlers.
// Services return these close to the point of failure; handlers translate
// them into HTTP responses immediately, without retries.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so handlers can map it to a status code.
type Kind int

const (
	// KindUnknown covers anything not classified; mapped to 500.
	KindUnknown Kind = iota
	// KindValidation is malformed or invalid input (400).
	KindValidation
	// KindUnauthenticated is a missing, invalid or expired token (401).
	KindUnauthenticated
	// KindForbidden is a role mismatch (403).
	KindForbidden
	// KindNotFound is no matching entity within the caller's scope (404).
	KindNotFound
	// KindConflict is a unique-constraint violation (409).
	KindConflict
	// KindDependency is a mail/storage/cache transport failure (500).
	KindDependency
)

// Error carries a kind, a caller-safe message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the caller-safe message for err. Unclassified errors get
// a generic message so internal detail never leaks into responses.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus maps err to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDependency:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

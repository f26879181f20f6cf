// Package apierr provides the typed error kinds used across Capsule
// Memory's engines and HTTP surface, mirroring the teacher's
// store.ErrNotFound pattern of typed errors checked with errors.As.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the stable error categories the HTTP surface maps to
// status codes.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	InvalidState    Kind = "invalid_state"
	Unauthorized    Kind = "unauthorized"
	NotProvisioned  Kind = "not_provisioned"
	Upstream        Kind = "upstream"
	Conflict        Kind = "conflict"
)

// Error is a typed, HTTP-mappable application error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, preserving the cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// HTTPStatus maps an error kind to the HTTP status code the request
// surface should respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusUnprocessableEntity
	case Unauthorized:
		return http.StatusUnauthorized
	case NotProvisioned:
		return http.StatusServiceUnavailable
	case Upstream:
		return http.StatusBadGateway
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

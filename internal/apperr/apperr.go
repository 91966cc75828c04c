// Package apperr defines the error kinds the API reports to clients.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error by how it is reported.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindNotFound
)

// Client-facing error codes.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeConflict           = "CONFLICT"
	CodeNoToken            = "NO_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL"
)

// Error is an error with a client-safe message. Err holds the underlying
// cause, which is logged but never returned to the client.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Validation reports malformed or missing input.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: msg}
}

// Conflict reports a duplicate unique field.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: msg}
}

// NoToken reports a request without a bearer token.
func NoToken() *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeNoToken, Message: "not authorized, no token provided"}
}

// InvalidToken reports a token that failed verification. The cause is kept
// for logs only.
func InvalidToken(cause error) *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeInvalidToken, Message: "not authorized, invalid token", Err: cause}
}

// InvalidCredentials reports a failed login without saying which check failed.
func InvalidCredentials() *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeInvalidCredentials, Message: "invalid credentials"}
}

// NotFound reports a missing resource.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: cause}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given client code.
func Is(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

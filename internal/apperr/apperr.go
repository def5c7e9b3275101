// Package apperr defines the error taxonomy shared by the auth core and the
// HTTP layer. Handlers coerce any error into an *Error with From and write it
// through the uniform response envelope; everything the client sees is the
// Code/Message pair, never the wrapped cause.
package apperr

import (
	"fmt"
	"net/http"
)

// CredentialMismatch is the one user-visible message for every credential
// rejection: wrong password, wrong API key, reused or forged refresh token,
// unknown account. Returning the same string for all of them prevents account
// enumeration; the specific reason is logged server-side only.
const CredentialMismatch = "invalid credentials"

// Taxonomy codes. These are wire-visible and stable; dashboards and client
// error handling key off them.
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeNotFound        = "NOT_FOUND"
	CodeBadRequest      = "BAD_REQUEST"
	CodeValidation      = "VALIDATION_ERROR"
	CodeInternal        = "INTERNAL"
)

// Error carries a taxonomy code, a client-safe message, the HTTP status it
// maps to, and the wrapped cause for logs. The JSON tags shape the `error`
// object inside the response envelope; HTTPStatus and Err never serialize.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two taxonomy errors by code, so errors.Is(err, apperr.Internal(nil))
// style checks work without comparing messages or causes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy carrying err as the wrapped cause. Copy semantics
// keep the package-level constructors safe to share.
func (e *Error) WithCause(err error) *Error {
	out := *e
	out.Err = err
	return &out
}

// Unauthorized maps to 401. Use CredentialMismatch as the message for every
// credential-verification failure.
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// Forbidden maps to 403: valid credential, insufficient privilege or scope,
// or a suspended account.
func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

// TooManyRequests maps to 429, returned on rate limiter denial.
func TooManyRequests(message string) *Error {
	return &Error{Code: CodeTooManyRequests, Message: message, HTTPStatus: http.StatusTooManyRequests}
}

// NotFound maps to 404 for absent accounts or records referenced by id.
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// BadRequest maps to 400 for malformed input (unparseable JSON, missing body).
func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Validation maps to 400 for well-formed input that fails a policy check
// (weak password, malformed email, unknown scope).
func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Internal maps to 500. The cause is for logs; the client always sees the
// same generic message.
func Internal(err error) *Error {
	return &Error{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// From coerces an arbitrary error into a taxonomy error. Errors from layers
// that did not classify themselves become Internal, preserving the cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*Error); ok {
		return appErr
	}
	return Internal(err)
}

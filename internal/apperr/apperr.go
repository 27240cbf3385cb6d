// Package apperr carries a small, code-based error taxonomy shared by every
// marketplace module. Handlers translate codes to HTTP statuses in httpx.
package apperr

import (
	"database/sql"
	"errors"
	"fmt"
)

// Code identifies an error condition. Codes are strings so they serialize
// naturally into API responses.
type Code string

const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeExpired      Code = "EXPIRED"
	CodeUpstream     Code = "UPSTREAM_ERROR"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

func NotFound(what string) *Error { return New(CodeNotFound, what+" not found") }

func Invalid(msg string) *Error { return New(CodeInvalidInput, msg) }

func Conflict(msg string) *Error { return New(CodeConflict, msg) }

func Forbidden(msg string) *Error { return New(CodeForbidden, msg) }

func Unauthorized(msg string) *Error { return New(CodeUnauthorized, msg) }

func Upstream(msg string, cause error) *Error { return Wrap(CodeUpstream, msg, cause) }

// CodeOf reports the code carried by err. sql.ErrNoRows counts as NOT_FOUND;
// anything unrecognised is INTERNAL_ERROR.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, sql.ErrNoRows) {
		return CodeNotFound
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

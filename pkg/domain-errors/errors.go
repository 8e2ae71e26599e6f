// Package domainerrors defines the error vocabulary shared by services and
// transports. Services attach a Code to every error they return; transports
// translate codes to HTTP statuses without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping and branching in callers.
type Code string

const (
	CodeInternal           Code = "internal_error"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeTooManyRequests    Code = "too_many_requests"
	CodeInvariantViolation Code = "invariant_violation"
)

// Error carries a code, a safe-to-log message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/As chains.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability:
// dErrors.Is(err, dErrors.CodeNotFound).
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// GetCode extracts the code from err, defaulting to CodeInternal for plain errors.
func GetCode(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status transports should write.
// Invariant violations surface as 500: they indicate a broken internal
// assumption, not a caller mistake.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents an API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(errorType ErrorType, code int, message string) *Error {
	return &Error{Type: errorType, Code: code, Message: message}
}

// Wrap creates a typed error around an underlying cause
func Wrap(errorType ErrorType, code int, message string, err error) *Error {
	return &Error{Type: errorType, Code: code, Message: message, Err: err}
}

// RateLimited is returned when the upstream throttles the session.
func RateLimited(message string) *Error {
	return New(ErrorTypeRateLimit, http.StatusTooManyRequests, message)
}

// AuthExpired is returned when the upstream rejects the session cookies.
func AuthExpired(message string) *Error {
	return New(ErrorTypeAuth, http.StatusUnauthorized, message)
}

// NotFound is an outcome, not a failure: the upstream has no such resource.
func NotFound(message string) *Error {
	return New(ErrorTypeNotFound, http.StatusNotFound, message)
}

// Validation marks malformed client input (empty or oversized batches, missing fields).
func Validation(message string) *Error {
	return New(ErrorTypeValidation, http.StatusBadRequest, message)
}

// TypeOf returns the ErrorType carried by err, ErrorTypeUnknown for untyped
// errors and the empty string for nil.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// IsRateLimit reports whether err is an upstream throttling error
func IsRateLimit(err error) bool {
	return TypeOf(err) == ErrorTypeRateLimit
}

// IsAuth reports whether err means the session is no longer valid
func IsAuth(err error) bool {
	return TypeOf(err) == ErrorTypeAuth
}

// IsNotFound reports whether err is a not-found outcome
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsValidation reports whether err is a client input error
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsAbort reports whether err must stop a whole batch rather than a single item.
func IsAbort(err error) bool {
	t := TypeOf(err)
	return t == ErrorTypeRateLimit || t == ErrorTypeAuth
}

// IsRetryable checks if an error type should be retried.
// Rate limits are not retried: they abort the batch instead.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the status code returned to API clients.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeNetwork, ErrorTypeServerError, ErrorTypeParsing:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

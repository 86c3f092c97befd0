package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a gateway error.
type ErrorType string

const (
	// ErrorTypeNotFound indicates an unknown action id or missing record.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeConflict indicates a transition attempted from the wrong state.
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeForbidden indicates an operation blocked by policy,
	// e.g. execute before approval.
	ErrorTypeForbidden ErrorType = "forbidden"

	// ErrorTypeValidation indicates a malformed request payload.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeUpstream indicates the risk scorer or execution backend was
	// unreachable. Recovered internally; callers should rarely see it.
	ErrorTypeUpstream ErrorType = "upstream_unavailable"

	// ErrorTypePersistence indicates a store write failed. Fatal for the
	// triggering operation; no partial state is committed.
	ErrorTypePersistence ErrorType = "persistence"

	// ErrorTypeMissingDependency indicates a history entry was requested
	// before its risk assessment or execution result existed.
	ErrorTypeMissingDependency ErrorType = "missing_dependency"
)

// Error is the canonical gateway error carried across component
// boundaries and translated to an HTTP response by the API layer.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// HTTPStatusCode returns the status code the API layer should respond with.
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrNotFound creates a not-found error.
func ErrNotFound(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeNotFound, Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a wrong-state transition error.
func ErrConflict(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeConflict, Message: fmt.Sprintf(format, args...)}
}

// ErrForbidden creates a policy-blocked error.
func ErrForbidden(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeForbidden, Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a malformed-request error.
func ErrValidation(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

// ErrUpstream wraps an upstream transport failure.
func ErrUpstream(message string, err error) *Error {
	return &Error{Type: ErrorTypeUpstream, Message: message, err: err}
}

// ErrPersistence wraps a failed store write.
func ErrPersistence(message string, err error) *Error {
	return &Error{Type: ErrorTypePersistence, Message: message, err: err}
}

// ErrMissingDependency creates an error for a history append attempted
// before its prerequisite records exist.
func ErrMissingDependency(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeMissingDependency, Message: fmt.Sprintf(format, args...)}
}

// IsType reports whether err is a gateway Error of the given type.
func IsType(err error, t ErrorType) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Type == t
	}
	return false
}

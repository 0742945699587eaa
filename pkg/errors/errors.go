package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// Scan protocol outcomes. These are deterministic business results, not
	// transient faults, and are never retried by the protocol layer.
	ErrNotFoundOrForbidden = New("NOT_FOUND_OR_FORBIDDEN", http.StatusNotFound, "session not found or not owned by caller")
	ErrInvalidToken        = New("INVALID_TOKEN", http.StatusNotFound, "no active session matches this token")
	ErrTokenExpired        = New("TOKEN_EXPIRED", http.StatusGone, "attendance token has expired")
	ErrDuplicateAttendance = New("DUPLICATE_ATTENDANCE", http.StatusBadRequest, "attendance already marked for this session")
	ErrGeofenceViolation   = New("GEOFENCE_VIOLATION", http.StatusBadRequest, "scan location outside the allowed radius")
	ErrSessionClosed       = New("SESSION_CLOSED", http.StatusConflict, "session is closed")

	// ErrStoreUnavailable signals an infrastructure failure talking to the
	// backing store. Callers may retry with backoff at their discretion.
	ErrStoreUnavailable = New("STORE_UNAVAILABLE", http.StatusServiceUnavailable, "attendance store unavailable")

	// ErrCacheMiss is a sentinel for cache lookups, never surfaced to clients.
	ErrCacheMiss = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Package errors provides unified error handling for the multiplayer server.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique, stable error code delivered to clients.
type ErrorCode string

const (
	// Input errors (4xx, caller can fix the request)
	ErrCodeBadRequest       ErrorCode = "E_BAD_REQUEST"
	ErrCodeInvalidSelection ErrorCode = "E_INVALID_SELECTION"
	ErrCodeWrongTurn        ErrorCode = "E_WRONG_TURN"
	ErrCodeWrongPhase       ErrorCode = "E_WRONG_PHASE"

	// Auth errors
	ErrCodeUnauthenticated ErrorCode = "E_UNAUTHENTICATED"
	ErrCodeForbidden       ErrorCode = "E_FORBIDDEN"

	// Lookup errors
	ErrCodeNotFound ErrorCode = "E_NOT_FOUND"

	// Conflict errors
	ErrCodeRoomFull   ErrorCode = "E_ROOM_FULL"
	ErrCodeRoomClosed ErrorCode = "E_ROOM_CLOSED"
	ErrCodeRoomBanned ErrorCode = "E_ROOM_BANNED"
	ErrCodeMuted      ErrorCode = "E_MUTED"
	ErrCodeBlocked    ErrorCode = "E_BLOCKED"

	// Transient errors (caller may retry with backoff)
	ErrCodeTransient ErrorCode = "E_TRANSIENT"

	// Permanent/internal errors
	ErrCodeInternal ErrorCode = "E_INTERNAL"

	// Stream errors
	ErrCodeBackpressure ErrorCode = "E_BACKPRESSURE"

	// Transport errors
	ErrCodeRateLimitExceeded ErrorCode = "E_RATE_LIMIT_EXCEEDED"
)

// ServiceError is a structured error with a stable code, an HTTP mapping, and
// optional caller-facing details. Internal causes stay in Err and are never
// serialized to clients.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	RetryAfter int                    `json:"retryAfterSeconds,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a caller-facing detail field.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with no underlying cause.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap attaches a ServiceError code/message to an underlying cause.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Input errors ----------------------------------------------------------------

func BadRequest(message string) *ServiceError {
	return New(ErrCodeBadRequest, message, http.StatusBadRequest)
}

func InvalidSelection(reason string) *ServiceError {
	return New(ErrCodeInvalidSelection, "invalid dice selection", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func WrongTurn(activePlayerID string) *ServiceError {
	return New(ErrCodeWrongTurn, "it is not your turn", http.StatusBadRequest).
		WithDetails("activePlayerId", activePlayerID)
}

func WrongPhase(expected, actual string) *ServiceError {
	return New(ErrCodeWrongPhase, "turn is not in the required phase", http.StatusBadRequest).
		WithDetails("expected", expected).
		WithDetails("actual", actual)
}

// Auth errors -------------------------------------------------------------------

func Unauthenticated(message string) *ServiceError {
	return New(ErrCodeUnauthenticated, message, http.StatusUnauthorized)
}

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// Lookup errors -------------------------------------------------------------------

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Conflict errors -------------------------------------------------------------------

func RoomFull(roomID string) *ServiceError {
	return New(ErrCodeRoomFull, "room is full", http.StatusConflict).WithDetails("roomId", roomID)
}

func RoomClosed(roomID string) *ServiceError {
	return New(ErrCodeRoomClosed, "room is closed", http.StatusConflict).WithDetails("roomId", roomID)
}

func RoomBanned(roomID string) *ServiceError {
	return New(ErrCodeRoomBanned, "you are banned from this room", http.StatusConflict).WithDetails("roomId", roomID)
}

func Muted(until string) *ServiceError {
	return New(ErrCodeMuted, "you are muted", http.StatusConflict).WithDetails("muteUntil", until)
}

func Blocked() *ServiceError {
	return New(ErrCodeBlocked, "recipient has blocked you", http.StatusConflict)
}

// Transient/permanent errors --------------------------------------------------------

func Transient(operation string, retryAfterSeconds int, err error) *ServiceError {
	se := Wrap(ErrCodeTransient, "operation temporarily unavailable", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
	se.RetryAfter = retryAfterSeconds
	return se
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func Backpressure() *ServiceError {
	return New(ErrCodeBackpressure, "subscriber buffer overflowed", http.StatusServiceUnavailable)
}

// Transport errors --------------------------------------------------------------

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Helper functions ------------------------------------------------------------------

// IsServiceError reports whether err carries a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code mapped to err.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is reports whether err is a ServiceError carrying the given code.
func Is(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

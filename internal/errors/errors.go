package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents a studyfocus error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"   // 400
	ErrUnknownRequest  ErrorCode = "UNKNOWN_REQUEST"   // 400
	ErrFileNotFound    ErrorCode = "FILE_NOT_FOUND"    // 404
	ErrNoActiveSession ErrorCode = "NO_ACTIVE_SESSION" // 409
	ErrCancelled       ErrorCode = "CANCELLED"         // 499
	ErrInternal        ErrorCode = "INTERNAL"          // 500
	ErrUnavailable     ErrorCode = "UNAVAILABLE"       // 503
	ErrTimeout         ErrorCode = "TIMEOUT"           // 504
)

// FocusError represents a structured error with code, status, and details.
type FocusError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *FocusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *FocusError {
	return &FocusError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnknownRequest creates a 400 error for a request type the handler does not recognize.
func NewUnknownRequest(requestType string) *FocusError {
	return &FocusError{
		Code:    ErrUnknownRequest,
		Status:  400,
		Message: fmt.Sprintf("unknown request: %s", requestType),
		Details: map[string]any{"type": requestType},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *FocusError {
	return &FocusError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewNoActiveSession creates a 409 error for session operations while idle.
func NewNoActiveSession() *FocusError {
	return &FocusError{
		Code:    ErrNoActiveSession,
		Status:  409,
		Message: "no active session",
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by its context.
func NewCancelled(op string) *FocusError {
	return &FocusError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewUnavailable creates a 503 error when the handler side cannot be reached.
func NewUnavailable(msg string) *FocusError {
	return &FocusError{
		Code:    ErrUnavailable,
		Status:  503,
		Message: msg,
	}
}

// NewTimeout creates a 504 error when a bridge request receives no correlated response.
func NewTimeout(requestID string, after time.Duration) *FocusError {
	return &FocusError{
		Code:    ErrTimeout,
		Status:  504,
		Message: fmt.Sprintf("request timeout after %s", after),
		Details: map[string]any{"request_id": requestID, "timeout_ms": after.Milliseconds()},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *FocusError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &FocusError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// FromCode rebuilds a FocusError from a code and message received over the wire.
// Unrecognized codes map to INTERNAL.
func FromCode(code, msg string) *FocusError {
	status, ok := statusByCode[ErrorCode(code)]
	if !ok {
		return &FocusError{Code: ErrInternal, Status: 500, Message: msg}
	}
	return &FocusError{Code: ErrorCode(code), Status: status, Message: msg}
}

var statusByCode = map[ErrorCode]int{
	ErrInvalidRequest:  400,
	ErrUnknownRequest:  400,
	ErrFileNotFound:    404,
	ErrNoActiveSession: 409,
	ErrCancelled:       499,
	ErrInternal:        500,
	ErrUnavailable:     503,
	ErrTimeout:         504,
}

// Is checks if an error (or anything it wraps) is a FocusError with the given code.
func Is(err error, code ErrorCode) bool {
	var fErr *FocusError
	if stderrors.As(err, &fErr) {
		return fErr.Code == code
	}
	return false
}

// As extracts the FocusError from err, wrapping anything else as INTERNAL.
func As(err error) *FocusError {
	var fErr *FocusError
	if stderrors.As(err, &fErr) {
		return fErr
	}
	return NewInternal(err)
}

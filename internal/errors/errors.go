package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a Gather error code.
type ErrorCode string

const (
	ErrRemoteUnavailable  ErrorCode = "REMOTE_UNAVAILABLE"  // transport failure, retryable
	ErrRemoteError        ErrorCode = "REMOTE_ERROR"        // non-success status or res_code, retryable
	ErrMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"  // schema violation, not retried
	ErrInvalidAdvance     ErrorCode = "INVALID_ADVANCE"     // watermark would regress
	ErrPersistenceFailure ErrorCode = "PERSISTENCE_FAILURE" // file or state write failed
	ErrCancelled          ErrorCode = "CANCELLED"
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrInternal           ErrorCode = "INTERNAL"
)

// GatherError represents a structured error with code, message and details.
type GatherError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *GatherError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *GatherError) Unwrap() error {
	return e.Err
}

// NewRemoteUnavailable creates an error for connection-level failures talking to the source.
func NewRemoteUnavailable(err error) *GatherError {
	msg := "remote source unavailable"
	if err != nil {
		msg = fmt.Sprintf("remote source unavailable: %v", err)
	}
	return &GatherError{
		Code:    ErrRemoteUnavailable,
		Message: msg,
		Err:     err,
	}
}

// NewRemoteError creates an error for a non-success HTTP status or res_code.
func NewRemoteError(status int, resCode, resMsg string) *GatherError {
	msg := fmt.Sprintf("remote returned status %d", status)
	if resCode != "" {
		msg = fmt.Sprintf("remote returned res_code %s: %s", resCode, resMsg)
	}
	return &GatherError{
		Code:    ErrRemoteError,
		Message: msg,
		Details: map[string]any{"http_status": status, "res_code": resCode},
	}
}

// NewMalformedResponse creates an error for a response that violates the envelope or record schema.
func NewMalformedResponse(msg string) *GatherError {
	return &GatherError{
		Code:    ErrMalformedResponse,
		Message: msg,
	}
}

// NewInvalidAdvance creates an error when the watermark would move backwards.
func NewInvalidAdvance(current, to time.Time) *GatherError {
	return &GatherError{
		Code:    ErrInvalidAdvance,
		Message: fmt.Sprintf("cannot advance watermark from %s to %s", current.Format(time.RFC3339), to.Format(time.RFC3339)),
		Details: map[string]any{"current": current.Unix(), "to": to.Unix()},
	}
}

// NewPersistenceFailure creates an error for failed durable writes.
func NewPersistenceFailure(err error) *GatherError {
	msg := "persistence failure"
	if err != nil {
		msg = err.Error()
	}
	return &GatherError{
		Code:    ErrPersistenceFailure,
		Message: msg,
		Err:     err,
	}
}

// NewCancelled creates an error for operations stopped by shutdown.
func NewCancelled(operation string) *GatherError {
	return &GatherError{
		Code:    ErrCancelled,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewInvalidRequest creates an error for invalid parameters.
func NewInvalidRequest(msg string) *GatherError {
	return &GatherError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewNotFound creates an error for a missing cycle or file.
func NewNotFound(identifier string) *GatherError {
	return &GatherError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *GatherError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &GatherError{
		Code:    ErrInternal,
		Message: msg,
		Err:     err,
	}
}

// As extracts the GatherError from err's chain.
func As(err error) (*GatherError, bool) {
	var gErr *GatherError
	if stderrors.As(err, &gErr) {
		return gErr, true
	}
	return nil, false
}

// Is checks if err carries a GatherError with the given code.
func Is(err error, code ErrorCode) bool {
	if gErr, ok := As(err); ok {
		return gErr.Code == code
	}
	return false
}

// CodeOf returns the error code for logging. Untyped errors report INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if gErr, ok := As(err); ok {
		return gErr.Code
	}
	return ErrInternal
}

// Retryable reports whether err is a transient remote failure worth retrying within a cycle.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrRemoteUnavailable, ErrRemoteError:
		return true
	}
	return false
}

// StatusOf maps err to an HTTP status for the status surfaces.
func StatusOf(err error) int {
	switch CodeOf(err) {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRemoteUnavailable, ErrRemoteError:
		return http.StatusBadGateway
	case ErrCancelled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestGatherError_Error(t *testing.T) {
	err := &GatherError{
		Code:    ErrNotFound,
		Message: "cycle not found",
	}

	expected := "NOT_FOUND: cycle not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewRemoteUnavailable(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewRemoteUnavailable(cause)

	if err.Code != ErrRemoteUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, ErrRemoteUnavailable)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
}

func TestNewRemoteError(t *testing.T) {
	err := NewRemoteError(200, "500", "server error")

	if err.Code != ErrRemoteError {
		t.Errorf("Code = %q, want %q", err.Code, ErrRemoteError)
	}
	if err.Details["res_code"] != "500" {
		t.Errorf("Details[res_code] = %v, want %q", err.Details["res_code"], "500")
	}

	httpErr := NewRemoteError(503, "", "")
	if httpErr.Message != "remote returned status 503" {
		t.Errorf("Message = %q", httpErr.Message)
	}
}

func TestNewInvalidAdvance(t *testing.T) {
	current := time.Date(2025, 2, 27, 15, 0, 0, 0, time.UTC)
	to := current.Add(-time.Minute)
	err := NewInvalidAdvance(current, to)

	if err.Code != ErrInvalidAdvance {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidAdvance)
	}
	if err.Details["current"] != current.Unix() {
		t.Errorf("Details[current] = %v, want %d", err.Details["current"], current.Unix())
	}
}

func TestNewPersistenceFailure(t *testing.T) {
	cause := stderrors.New("no space left on device")
	err := NewPersistenceFailure(cause)

	if err.Code != ErrPersistenceFailure {
		t.Errorf("Code = %q, want %q", err.Code, ErrPersistenceFailure)
	}
	if err.Message != "no space left on device" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewInternal_NilCause(t *testing.T) {
	err := NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("page 2: %w", NewMalformedResponse("dataCnt mismatch"))

	if !Is(wrapped, ErrMalformedResponse) {
		t.Error("Is() should match through fmt.Errorf wrapping")
	}
	if Is(wrapped, ErrRemoteError) {
		t.Error("Is() matched the wrong code")
	}
	if Is(stderrors.New("plain"), ErrInternal) {
		t.Error("Is() should not match untyped errors")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"typed", NewCancelled("fetch"), ErrCancelled},
		{"untyped", stderrors.New("boom"), ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewRemoteUnavailable(nil), true},
		{NewRemoteError(502, "", ""), true},
		{NewMalformedResponse("bad"), false},
		{NewPersistenceFailure(nil), false},
		{stderrors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewInvalidRequest("bad limit"), 400},
		{NewNotFound("01J"), 404},
		{NewRemoteError(500, "", ""), 502},
		{NewCancelled("fetch"), 503},
		{stderrors.New("plain"), 500},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

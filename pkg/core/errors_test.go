package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Code:    CodeValidationInvalidField,
		Message: "text must not be empty",
	}

	expected := "VALIDATION_INVALID_FIELD: text must not be empty"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithComponentAndCause(t *testing.T) {
	err := NewTransientError(CodeTranscriptionFailed, "transcription", "stream open failed", errors.New("dial tcp: refused"))

	expected := "TRANSCRIPTION_FAILED: transcription: stream open failed: dial tcp: refused"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !err.IsRetryable() {
		t.Errorf("IsRetryable() = false, want true")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("end session: %w", ErrSessionAlreadyEnded.With("session %s already ended", "s1"))

	if !errors.Is(wrapped, ErrSessionAlreadyEnded) {
		t.Fatalf("errors.Is should match sentinel through wrapping")
	}
	if errors.Is(wrapped, ErrSessionNotFound) {
		t.Fatalf("errors.Is should not match a different code")
	}
}

func TestError_IsRetryableByClass(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{NewTransientError(CodeRateLimited, "tts", "slow down", nil), true},
		{NewPermanentError(CodeServiceUnavailable, "tts", "breaker open", nil), false},
		{NewDegradedError(CodeLowConfidence, "transcription", "low confidence"), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := tt.err.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestAsError_WrapsUnknown(t *testing.T) {
	ce := AsError(errors.New("boom"))
	if ce.Code != CodeInternal {
		t.Fatalf("Code=%q, want %q", ce.Code, CodeInternal)
	}
	if CodeOf(fmt.Errorf("x: %w", ErrTaskNotFound)) != CodeTaskNotFound {
		t.Fatalf("CodeOf did not unwrap")
	}
	if AsError(nil) != nil {
		t.Fatalf("AsError(nil) should be nil")
	}
}

func TestWith_DoesNotMutateSentinel(t *testing.T) {
	_ = ErrTaskNotFound.With("task %s not found", "t1")
	if ErrTaskNotFound.Message != "task not found" {
		t.Fatalf("sentinel mutated: %q", ErrTaskNotFound.Message)
	}
}

package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vango-go/vai-voice/pkg/core"
)

func TestFromError_ContextCanceled_Is408(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != http.StatusRequestTimeout {
		t.Fatalf("status=%d", status)
	}
	if ce.Code != core.CodeTimeout {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_Deadline_Is504(t *testing.T) {
	_, status := FromError(fmt.Errorf("wait: %w", context.DeadlineExceeded), "req_test")
	if status != http.StatusGatewayTimeout {
		t.Fatalf("status=%d", status)
	}
}

func TestFromError_CoreCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrSessionNotFound, http.StatusNotFound},
		{core.ErrTaskNotFound, http.StatusNotFound},
		{core.ErrSessionAlreadyEnded, http.StatusConflict},
		{core.ErrTaskNotCancellable, http.StatusConflict},
		{core.ErrSessionLimitExceeded, http.StatusTooManyRequests},
		{core.ErrSessionDraining, 529},
		{core.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{core.NewValidationError(core.CodeValidationOutOfRange, "confidence out of range", "confidence"), http.StatusBadRequest},
		{fmt.Errorf("ending: %w", core.ErrSessionAlreadyEnded), http.StatusConflict},
	}
	for _, tc := range tests {
		ce, status := FromError(tc.err, "req_1")
		if status != tc.want {
			t.Fatalf("%v: status=%d, want %d", tc.err, status, tc.want)
		}
		if ce.RequestID != "req_1" {
			t.Fatalf("%v: request_id=%q", tc.err, ce.RequestID)
		}
	}
}

func TestFromError_DoesNotMutateSentinel(t *testing.T) {
	ce, _ := FromError(core.ErrSessionNotFound, "req_x")
	if ce == core.ErrSessionNotFound {
		t.Fatalf("sentinel returned by pointer")
	}
	if core.ErrSessionNotFound.RequestID != "" {
		t.Fatalf("sentinel mutated: %q", core.ErrSessionNotFound.RequestID)
	}
}

func TestFromError_UnknownIsInternal(t *testing.T) {
	ce, status := FromError(errors.New("db password=hunter2 leaked"), "req_test")
	if status != http.StatusInternalServerError {
		t.Fatalf("status=%d", status)
	}
	if ce.Code != core.CodeInternal || ce.Message != "internal error" {
		t.Fatalf("ce=%+v", ce)
	}

	ce, _ = FromError(core.NewPermanentError(core.CodeInternal, "session", "allocating id", errors.New("entropy")), "req_test")
	if ce.Message != "internal error" {
		t.Fatalf("message=%q", ce.Message)
	}
}

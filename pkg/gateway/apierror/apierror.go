package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-voice/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError converts err into the wire error and its HTTP status.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Code:      core.CodeTimeout,
			Class:     core.ClassTransient,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Code:      core.CodeTimeout,
			Class:     core.ClassTransient,
			Message:   "request cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		if out.Code == core.CodeInternal {
			// Do not leak wrapped internals.
			out.Message = "internal error"
		}
		return &out, StatusFromCode(coreErr.Code)
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &core.Error{
		Code:      core.CodeInternal,
		Class:     core.ClassPermanent,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromCode(c core.Code) int {
	switch c {
	case core.CodeValidationMalformed,
		core.CodeValidationUnknownType,
		core.CodeValidationInvalidID,
		core.CodeValidationInvalidField,
		core.CodeValidationOutOfRange:
		return http.StatusBadRequest
	case core.CodeUnauthorized:
		return http.StatusUnauthorized
	case core.CodeForbidden, core.CodeToolNotAllowed:
		return http.StatusForbidden
	case core.CodeNotFound, core.CodeSessionNotFound, core.CodeTaskNotFound:
		return http.StatusNotFound
	case core.CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case core.CodeSessionAlreadyEnded, core.CodeTaskNotCancellable, core.CodeInvalidTransition:
		return http.StatusConflict
	case core.CodeLowConfidence:
		return http.StatusUnprocessableEntity
	case core.CodeSessionLimitExceeded, core.CodeRateLimited:
		return http.StatusTooManyRequests
	case core.CodeSessionDraining:
		return 529
	case core.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case core.CodeTranscriptionFailed, core.CodeSynthesisFailed, core.CodeAgentFailed,
		core.CodeTaskFailed, core.CodeToolFailed:
		return http.StatusBadGateway
	case core.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

package events

import (
	"errors"
	"log/slog"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/redact"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
)

// Severity grades an ErrorEvent.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// LevelCritical sits above slog.LevelError.
const LevelCritical = slog.LevelError + 4

// Level maps a severity to a log level.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityLow:
		return slog.LevelInfo
	case SeverityMedium:
		return slog.LevelWarn
	case SeverityHigh:
		return slog.LevelError
	case SeverityCritical:
		return LevelCritical
	default:
		return slog.LevelError
	}
}

// ErrorContext names where an error happened.
type ErrorContext struct {
	Component  string         `json:"component"`
	Operation  string         `json:"operation,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ErrorEvent is the structured error record. It is logged and sent to the
// client; it is not retained beyond the emitter's in-memory log ring.
type ErrorEvent struct {
	ErrorCode     core.Code    `json:"error_code"`
	Message       string       `json:"message"`
	Severity      Severity     `json:"severity"`
	RetryPossible bool         `json:"retry_possible"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	Context       ErrorContext `json:"context"`
	Timestamp     time.Time    `json:"timestamp"`
}

// DefaultSeverity returns the severity used for a code when the caller does
// not choose one.
func DefaultSeverity(code core.Code) Severity {
	switch code {
	case core.CodeValidationMalformed, core.CodeValidationUnknownType, core.CodeValidationInvalidID,
		core.CodeValidationInvalidField, core.CodeValidationOutOfRange, core.CodeLowConfidence,
		core.CodeSessionLimitExceeded, core.CodeTaskNotCancellable, core.CodeTaskNotFound,
		core.CodeSessionAlreadyEnded, core.CodeSessionNotFound:
		return SeverityLow
	case core.CodeRateLimited, core.CodeTranscriptionFailed, core.CodeSynthesisFailed,
		core.CodeTaskFailed, core.CodeToolFailed, core.CodeToolNotAllowed, core.CodeTimeout,
		core.CodeSessionDraining:
		return SeverityMedium
	case core.CodeAgentFailed, core.CodeServiceUnavailable, core.CodeInvalidTransition:
		return SeverityHigh
	case core.CodeInternal:
		return SeverityCritical
	default:
		return SeverityHigh
	}
}

// FromError builds an ErrorEvent from err. fallback is used when err does
// not carry its own code. retry_possible is false once the resilience layer
// exhausted retries or the breaker refused the call.
func FromError(err error, fallback core.Code, component, operation string) ErrorEvent {
	ev := ErrorEvent{
		ErrorCode: fallback,
		Context:   ErrorContext{Component: component, Operation: operation},
	}
	if err == nil {
		ev.Severity = DefaultSeverity(ev.ErrorCode)
		return ev
	}
	ev.Message = redact.ForLog(err.Error(), 0)

	var callErr *resilience.CallError
	isCallErr := errors.As(err, &callErr)

	var ce *core.Error
	if errors.As(err, &ce) && ce != nil && ce.Code != core.CodeInternal {
		ev.ErrorCode = ce.Code
		if ce.Component != "" && component == "" {
			ev.Context.Component = ce.Component
		}
		ev.RetryPossible = ce.IsRetryable()
		if ce.Param != "" {
			ev.Context.Parameters = map[string]any{"param": ce.Param}
		}
	}
	if isCallErr {
		if callErr.BreakerOpen {
			ev.ErrorCode = core.CodeServiceUnavailable
		}
		ev.RetryPossible = callErr.RetryPossible()
	}
	if ev.ErrorCode == "" {
		ev.ErrorCode = core.CodeInternal
	}
	ev.Severity = DefaultSeverity(ev.ErrorCode)
	return ev
}

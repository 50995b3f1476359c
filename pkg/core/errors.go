package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error shape shared by the voice core and the gateway.
type Error struct {
	Code      Code   `json:"code"`
	Class     Class  `json:"class"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Param     string `json:"param,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Component != "" {
		msg = e.Component + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Class groups codes by how callers should react to them.
type Class string

const (
	// ClassTransient errors are retried by the resilience layer.
	ClassTransient Class = "transient"
	// ClassPermanent errors are surfaced immediately and never retried.
	ClassPermanent Class = "permanent"
	// ClassDegraded errors trigger a fallback path instead of a hard failure.
	ClassDegraded Class = "degraded"
)

// Code is a stable, client-visible error code.
type Code string

const (
	CodeValidationMalformed    Code = "VALIDATION_MALFORMED"
	CodeValidationUnknownType  Code = "VALIDATION_UNKNOWN_TYPE"
	CodeValidationInvalidID    Code = "VALIDATION_INVALID_ID"
	CodeValidationInvalidField Code = "VALIDATION_INVALID_FIELD"
	CodeValidationOutOfRange   Code = "VALIDATION_OUT_OF_RANGE"

	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionAlreadyEnded  Code = "SESSION_ALREADY_ENDED"
	CodeSessionLimitExceeded Code = "SESSION_LIMIT_EXCEEDED"
	CodeSessionDraining      Code = "SESSION_DRAINING"

	CodeTaskNotFound       Code = "TASK_NOT_FOUND"
	CodeTaskNotCancellable Code = "TASK_NOT_CANCELLABLE"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeTaskFailed         Code = "TASK_FAILED"
	CodeToolFailed         Code = "TOOL_FAILED"
	CodeToolNotAllowed     Code = "TOOL_NOT_ALLOWED"

	CodeTranscriptionFailed Code = "TRANSCRIPTION_FAILED"
	CodeSynthesisFailed     Code = "SYNTHESIS_FAILED"
	CodeAgentFailed         Code = "AGENT_FAILED"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeLowConfidence       Code = "LOW_CONFIDENCE"
	CodeTimeout             Code = "TIMEOUT"
	CodeInternal            Code = "INTERNAL"

	// HTTP surface only.
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"
)

// Sentinels for errors.Is. Matching is by code, so a wrapped *Error carrying a
// richer message still matches.
var (
	ErrSessionNotFound      = &Error{Code: CodeSessionNotFound, Class: ClassPermanent, Message: "session not found"}
	ErrSessionAlreadyEnded  = &Error{Code: CodeSessionAlreadyEnded, Class: ClassPermanent, Message: "session already ended"}
	ErrSessionLimitExceeded = &Error{Code: CodeSessionLimitExceeded, Class: ClassPermanent, Message: "session task queue is full"}
	ErrSessionDraining      = &Error{Code: CodeSessionDraining, Class: ClassTransient, Message: "server is draining"}
	ErrTaskNotFound         = &Error{Code: CodeTaskNotFound, Class: ClassPermanent, Message: "task not found"}
	ErrTaskNotCancellable   = &Error{Code: CodeTaskNotCancellable, Class: ClassPermanent, Message: "task is not cancellable"}
	ErrInvalidTransition    = &Error{Code: CodeInvalidTransition, Class: ClassPermanent, Message: "invalid task status transition"}
	ErrServiceUnavailable   = &Error{Code: CodeServiceUnavailable, Class: ClassPermanent, Message: "service unavailable"}
)

// Is matches on Code so sentinels work through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRetryable reports whether the resilience layer may retry the error.
func (e *Error) IsRetryable() bool {
	return e != nil && e.Class == ClassTransient
}

// NewTransientError creates a retryable error.
func NewTransientError(code Code, component, message string, cause error) *Error {
	return &Error{Code: code, Class: ClassTransient, Component: component, Message: message, Err: cause}
}

// NewPermanentError creates an error that must not be retried.
func NewPermanentError(code Code, component, message string, cause error) *Error {
	return &Error{Code: code, Class: ClassPermanent, Component: component, Message: message, Err: cause}
}

// NewDegradedError creates an error that callers answer with a fallback path.
func NewDegradedError(code Code, component, message string) *Error {
	return &Error{Code: code, Class: ClassDegraded, Component: component, Message: message}
}

// NewValidationError creates a VALIDATION_* error naming the offending field.
func NewValidationError(code Code, message, param string) *Error {
	return &Error{Code: code, Class: ClassPermanent, Message: message, Param: param}
}

// With returns a copy of a sentinel with a more specific message.
func (e *Error) With(format string, args ...any) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.Message = fmt.Sprintf(format, args...)
	return &out
}

// AsError returns err as *Error, wrapping unknown errors as INTERNAL.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		return ce
	}
	return &Error{Code: CodeInternal, Class: ClassPermanent, Message: err.Error(), Err: err}
}

// CodeOf returns the code carried by err. Errors without one report
// INTERNAL; nil reports the empty code.
func CodeOf(err error) Code {
	if ce := AsError(err); ce != nil {
		return ce.Code
	}
	return ""
}

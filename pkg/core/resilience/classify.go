// Package resilience wraps calls to external speech, agent and tool services
// with retry-with-backoff and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/vango-go/vai-voice/pkg/core"
)

// StatusError carries an HTTP-like status code from an upstream service.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.Status)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// transientIndicators are matched against lower-cased error text when the
// error carries no structured classification.
var transientIndicators = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"connection aborted",
	"temporarily unavailable",
	"service unavailable",
	"rate limit",
	"throttl",
	"too many requests",
	"broken pipe",
}

var permanentIndicators = []string{
	"unauthorized",
	"forbidden",
	"invalid api key",
	"authentication",
	"malformed",
	"unsupported",
}

// IsTransient reports whether err is worth retrying. extra adds
// service-specific text indicators.
func IsTransient(err error, extra ...string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ce *core.Error
	if errors.As(err, &ce) && ce != nil {
		return ce.Class == core.ClassTransient
	}

	var se *StatusError
	if errors.As(err, &se) && se != nil {
		return se.Status == 408 || se.Status == 429 || se.Status >= 500
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, ind := range permanentIndicators {
		if strings.Contains(msg, ind) {
			return false
		}
	}
	for _, ind := range transientIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	for _, ind := range extra {
		if ind != "" && strings.Contains(msg, strings.ToLower(ind)) {
			return true
		}
	}
	return false
}

// Extra transient indicators for individual services.
var (
	TranscriptionIndicators = []string{"model temporarily unavailable", "audio too short"}
	SynthesisIndicators     = []string{"voice not available", "synthesis queue full", "model loading"}
)

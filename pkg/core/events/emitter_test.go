package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
)

func TestEmit_FillsCorrelationAndLogs(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	var seen []ErrorEvent
	unsubscribe := e.Subscribe(ObserverFunc(func(ctx context.Context, ev ErrorEvent) {
		seen = append(seen, ev)
	}))

	ctx := WithCorrelationID(context.Background(), "01HZZZ")
	ev := e.Emit(ctx, ErrorEvent{
		ErrorCode: core.CodeTranscriptionFailed,
		Message:   "stream closed",
		SessionID: "s1",
		Context:   ErrorContext{Component: "transcription", Operation: "open_stream"},
	})

	assert.Equal(t, "01HZZZ", ev.CorrelationID)
	assert.Equal(t, SeverityMedium, ev.Severity)
	assert.Equal(t, fixed, ev.Timestamp)
	require.Len(t, seen, 1)
	assert.Contains(t, buf.String(), "error_code=TRANSCRIPTION_FAILED")
	assert.Contains(t, buf.String(), "level=WARN")

	unsubscribe()
	e.Emit(ctx, ErrorEvent{ErrorCode: core.CodeInternal})
	assert.Len(t, seen, 1, "unsubscribed observer must not be called")
}

func TestEmitter_StatsAndRecent(t *testing.T) {
	e := NewEmitter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	for i := 0; i < 3; i++ {
		e.Emit(context.Background(), ErrorEvent{ErrorCode: core.CodeValidationMalformed, Message: "m"})
	}
	e.Emit(context.Background(), ErrorEvent{ErrorCode: core.CodeToolFailed, Message: "last"})

	stats := e.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.ByCode["VALIDATION_MALFORMED"])
	require.NotNil(t, stats.Last)
	assert.Equal(t, "last", stats.Last.Message)

	recent := e.Recent(2, "")
	require.Len(t, recent, 2)
	assert.Equal(t, core.CodeToolFailed, recent[0].ErrorCode)

	filtered := e.Recent(10, core.CodeValidationMalformed)
	assert.Len(t, filtered, 3)
}

func TestEmitter_RingWraps(t *testing.T) {
	e := NewEmitter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	for i := 0; i < defaultRingSize+5; i++ {
		e.Emit(context.Background(), ErrorEvent{ErrorCode: core.CodeTimeout})
	}
	assert.Len(t, e.Recent(0, ""), defaultRingSize)
	assert.Equal(t, defaultRingSize+5, e.Stats().Total)
}

func TestFromError(t *testing.T) {
	t.Run("core error keeps code and retryability", func(t *testing.T) {
		ev := FromError(core.NewTransientError(core.CodeRateLimited, "tts", "slow down", nil), core.CodeSynthesisFailed, "synthesis", "synthesize")
		assert.Equal(t, core.CodeRateLimited, ev.ErrorCode)
		assert.True(t, ev.RetryPossible)
		assert.Equal(t, "synthesis", ev.Context.Component)
	})

	t.Run("exhausted retries are not retry-possible", func(t *testing.T) {
		err := &resilience.CallError{Guard: "stt", Attempts: 3, Exhausted: true, Err: errors.New("timeout")}
		ev := FromError(err, core.CodeTranscriptionFailed, "transcription", "open_stream")
		assert.Equal(t, core.CodeTranscriptionFailed, ev.ErrorCode)
		assert.False(t, ev.RetryPossible)
	})

	t.Run("breaker open maps to service unavailable", func(t *testing.T) {
		err := &resilience.CallError{Guard: "stt", BreakerOpen: true, Err: errors.New("circuit breaker open")}
		ev := FromError(err, core.CodeTranscriptionFailed, "transcription", "open_stream")
		assert.Equal(t, core.CodeServiceUnavailable, ev.ErrorCode)
		assert.Equal(t, SeverityHigh, ev.Severity)
	})

	t.Run("messages are redacted", func(t *testing.T) {
		ev := FromError(errors.New("bad account 123456789012"), core.CodeToolFailed, "tools", "invoke")
		assert.False(t, strings.Contains(ev.Message, "123456789012"))
	})
}

func TestNewCorrelationID_Unique(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 26)
	assert.Equal(t, "", CorrelationID(context.Background()))
}

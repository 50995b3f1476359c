// Package sse streams a session's outbound events to an HTTP client as
// server-sent events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/live/protocol"
)

// ErrBackpressure is returned by Deliver when the client is not keeping up.
var ErrBackpressure = session.ErrBackpressure

// Writer is a session sink. Deliver queues without blocking the session;
// Run writes the queue to the response. A full queue ends the stream: what
// was queued is written, then a RATE_LIMITED error, and the client can
// catch up through the session snapshot.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	queue   chan events.Outbound

	mu        sync.Mutex
	closed    bool
	overflow  chan struct{}
	sessionID string
}

func New(w http.ResponseWriter, queueSize int) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Writer{w: w, flusher: f, queue: make(chan events.Outbound, queueSize), overflow: make(chan struct{})}, nil
}

// Deliver implements session.Sink. Audio chunks are skipped; SSE clients
// get text and state only.
func (sw *Writer) Deliver(ev events.Outbound) error {
	if ev.Type == events.TypeAudioResponse {
		return nil
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrBackpressure
	}
	select {
	case sw.queue <- ev:
		return nil
	default:
		sw.closed = true
		sw.sessionID = ev.SessionID
		close(sw.overflow)
		return ErrBackpressure
	}
}

// Start writes the stream headers.
func (sw *Writer) Start() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	sw.flusher.Flush()
}

// Run writes queued events until done is closed or a write fails. Once ended
// is closed the queue is drained and Run returns, so session_ended reaches the
// client.
func (sw *Writer) Run(done, ended <-chan struct{}) error {
	defer sw.close()
	for {
		select {
		case <-done:
			return nil
		case ev := <-sw.queue:
			if err := sw.send(ev); err != nil {
				return err
			}
		case <-ended:
			return sw.drain()
		case <-sw.overflow:
			if err := sw.drain(); err != nil {
				return err
			}
			return sw.send(events.Outbound{
				Type:      events.TypeError,
				SessionID: sw.sessionID,
				Timestamp: time.Now(),
				Data: events.ErrorEvent{
					ErrorCode:     core.CodeRateLimited,
					Message:       "client is not reading fast enough; stream closed",
					RetryPossible: true,
					SessionID:     sw.sessionID,
					Context:       events.ErrorContext{Component: "gateway", Operation: "write"},
				},
			})
		}
	}
}

func (sw *Writer) drain() error {
	for {
		select {
		case ev := <-sw.queue:
			if err := sw.send(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (sw *Writer) close() {
	sw.mu.Lock()
	sw.closed = true
	sw.mu.Unlock()
}

func (sw *Writer) send(ev events.Outbound) error {
	b, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

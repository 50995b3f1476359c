package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/live/protocol"
)

// ErrBackpressure is returned by Deliver when an event could not be queued.
var ErrBackpressure = session.ErrBackpressure

// ErrWriterClosed is returned by Deliver after Close.
var ErrWriterClosed = errors.New("stream: writer closed")

const maxCanceledPlaybacks = 64

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type frame struct {
	payload    []byte
	playbackID string
	priority   bool
}

func (f frame) audio() bool { return f.playbackID != "" }

type canceledState struct {
	set   map[string]struct{}
	order []string
}

// Writer serializes a session's outbound events onto one connection. It
// implements session.Sink and Deliver never blocks.
//
// Events are written in the order delivered, except that priority events
// overtake queued audio. Audio is the only thing ever shed: a full queue
// evicts queued playbacks to make room for other events, and an audio chunk
// that does not fit cancels its playback. If a non-audio event still does
// not fit, the writer stops intake, writes what it has plus a RATE_LIMITED
// error and closes; Overflowed reports it.
type Writer struct {
	ws     wsWriter
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	queue    []frame
	final    []byte
	wake     chan struct{}
	overflow chan struct{}

	canceled atomic.Value // canceledState
	dropped  atomic.Int64
}

func NewWriter(ws wsWriter, cfg Config, logger *slog.Logger) *Writer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		overflow: make(chan struct{}),
	}
}

// Deliver encodes ev and queues it.
func (w *Writer) Deliver(ev events.Outbound) error {
	if ev.Type == events.TypeBargeIn {
		if d, ok := ev.Data.(events.BargeInData); ok {
			w.cancelPlayback(d.PlaybackID)
		}
	}
	if ev.Type == events.TypeAudioResponse && w.isCanceled(ev.PlaybackID) {
		w.dropped.Add(1)
		return nil
	}

	payload, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	f := frame{payload: payload, priority: ev.Priority}
	if ev.Type == events.TypeAudioResponse {
		f.playbackID = ev.PlaybackID
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	defer w.signal()

	switch ev.Type {
	case events.TypeBargeIn:
		if d, ok := ev.Data.(events.BargeInData); ok {
			w.purgeLocked(func(q frame) bool { return q.playbackID == d.PlaybackID })
		}
	case events.TypeSessionEnded:
		// Nothing plays after the session is over.
		w.purgeLocked(frame.audio)
	}

	if f.audio() {
		if len(w.queue) >= w.cfg.QueueSize {
			w.cancelPlayback(f.playbackID)
			w.purgeLocked(func(q frame) bool { return q.playbackID == f.playbackID })
			w.dropped.Add(1)
			w.logger.Debug("live audio shed", "playback_id", f.playbackID)
			return ErrBackpressure
		}
		w.queue = append(w.queue, f)
		return nil
	}

	for len(w.queue) >= w.cfg.QueueSize {
		if !w.evictPlaybackLocked() {
			w.overflowLocked(ev)
			return ErrBackpressure
		}
	}
	if f.priority {
		w.insertBeforeAudioLocked(f)
		return nil
	}
	w.queue = append(w.queue, f)
	return nil
}

// insertBeforeAudioLocked places f after the last queued non-audio frame.
func (w *Writer) insertBeforeAudioLocked(f frame) {
	i := len(w.queue)
	for i > 0 && w.queue[i-1].audio() {
		i--
	}
	w.queue = append(w.queue, frame{})
	copy(w.queue[i+1:], w.queue[i:])
	w.queue[i] = f
}

// evictPlaybackLocked cancels the oldest playback with queued audio.
func (w *Writer) evictPlaybackLocked() bool {
	for _, q := range w.queue {
		if q.audio() {
			id := q.playbackID
			w.cancelPlayback(id)
			w.purgeLocked(func(q frame) bool { return q.playbackID == id })
			w.logger.Debug("live audio evicted", "playback_id", id)
			return true
		}
	}
	return false
}

// purgeLocked removes queued audio frames matching drop.
func (w *Writer) purgeLocked(drop func(frame) bool) {
	kept := w.queue[:0]
	for _, q := range w.queue {
		if q.audio() && drop(q) {
			w.dropped.Add(1)
			continue
		}
		kept = append(kept, q)
	}
	for i := len(kept); i < len(w.queue); i++ {
		w.queue[i] = frame{}
	}
	w.queue = kept
}

func (w *Writer) overflowLocked(ev events.Outbound) {
	w.logger.Warn("live outbound queue overflow; closing stream", "type", string(ev.Type), "queued", len(w.queue))
	payload, err := protocol.Encode(events.Outbound{
		Type:      events.TypeError,
		SessionID: ev.SessionID,
		Timestamp: time.Now(),
		Priority:  true,
		Data: events.ErrorEvent{
			ErrorCode:     core.CodeRateLimited,
			Message:       "client is not reading fast enough; stream closed",
			RetryPossible: true,
			SessionID:     ev.SessionID,
			Context:       events.ErrorContext{Component: "gateway", Operation: "write"},
		},
	})
	if err == nil {
		w.final = payload
	}
	w.closed = true
	close(w.overflow)
}

// Overflowed is closed once a non-audio event could not be queued.
func (w *Writer) Overflowed() <-chan struct{} { return w.overflow }

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Close stops intake. Run writes what is queued, then a close frame.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.signal()
}

// Dropped counts audio frames discarded after a barge-in, an eviction or a
// session end.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// next pops the head frame. done reports a closed writer with nothing left.
func (w *Writer) next() (f frame, ok, done bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) > 0 {
		f = w.queue[0]
		w.queue[0] = frame{}
		w.queue = w.queue[1:]
		return f, true, false
	}
	if w.final != nil {
		f = frame{payload: w.final, priority: true}
		w.final = nil
		return f, true, false
	}
	return frame{}, false, w.closed
}

// Run writes queued frames until the writer is closed and drained or ctx
// is done. On ctx cancellation it flushes a few priority frames first.
func (w *Writer) Run(ctx context.Context) error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingTicker := time.NewTicker(w.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flushPriorityOnShutdown()
			w.closeConn()
			return nil
		default:
		}

		f, ok, done := w.next()
		if ok {
			if err := w.writeFrame(f); err != nil {
				return err
			}
			continue
		}
		if done {
			w.closeConn()
			return nil
		}

		select {
		case <-ctx.Done():
		case <-w.wake:
		case <-pingTicker.C:
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) closeConn() {
	deadline := time.Now().Add(w.cfg.WriteTimeout)
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = w.ws.Close()
}

func (w *Writer) flushPriorityOnShutdown() {
	flushTimeout := 100 * time.Millisecond
	if w.cfg.WriteTimeout < flushTimeout {
		flushTimeout = w.cfg.WriteTimeout
	}
	deadline := time.Now().Add(flushTimeout)

	for i := 0; i < 8 && time.Now().Before(deadline); {
		f, ok, _ := w.next()
		if !ok {
			return
		}
		if !f.priority {
			continue
		}
		_ = w.writeFrame(f)
		i++
	}
}

func (w *Writer) writeFrame(f frame) error {
	if f.audio() && w.isCanceled(f.playbackID) {
		w.dropped.Add(1)
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, f.payload)
}

func (w *Writer) cancelPlayback(id string) {
	if id == "" {
		return
	}
	state, _ := w.canceled.Load().(canceledState)
	if _, exists := state.set[id]; exists {
		return
	}

	next := canceledState{set: make(map[string]struct{}, len(state.set)+1)}
	for k := range state.set {
		next.set[k] = struct{}{}
	}
	next.order = append(append(next.order, state.order...), id)
	next.set[id] = struct{}{}
	for len(next.order) > maxCanceledPlaybacks {
		delete(next.set, next.order[0])
		next.order = next.order[1:]
	}
	w.canceled.Store(next)
}

func (w *Writer) isCanceled(id string) bool {
	if id == "" {
		return false
	}
	state, ok := w.canceled.Load().(canceledState)
	if !ok {
		return false
	}
	_, exists := state.set[id]
	return exists
}

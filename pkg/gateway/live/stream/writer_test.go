package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core/events"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
	closed bool
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeWSWriter) texts() []string {
	var out []string
	for _, w := range f.snapshot() {
		if w.messageType == websocket.TextMessage {
			out = append(out, w.data)
		}
	}
	return out
}

func audio(playbackID string, seq int) events.Outbound {
	return events.Outbound{
		Type:       events.TypeAudioResponse,
		PlaybackID: playbackID,
		Data:       events.AudioResponseData{PlaybackID: playbackID, Sequence: seq, Format: "pcm_s16le"},
	}
}

func runWriter(t *testing.T, w *Writer) {
	t.Helper()
	w.Close()
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func assertTypes(t *testing.T, texts []string, want ...string) {
	t.Helper()
	if len(texts) != len(want) {
		t.Fatalf("writes=%d, want %d: %v", len(texts), len(want), texts)
	}
	for i, typ := range want {
		if !strings.Contains(texts[i], `"type":"`+typ+`"`) {
			t.Fatalf("write %d=%q, want type %s", i, texts[i], typ)
		}
	}
}

func TestWriter_SessionEndedKeepsOrderAndStopsAudio(t *testing.T) {
	ws := &fakeWSWriter{}
	w := NewWriter(ws, Config{PingInterval: time.Hour, WriteTimeout: time.Second}, nil)

	deliver := []events.Outbound{
		{Type: events.TypeTaskCompleted, Data: events.TaskData{TaskID: "t1", Status: "canceled"}},
		audio("p1", 0),
		audio("p1", 1),
		{Type: events.TypeSessionEnded, Data: events.SessionEndedData{Reason: "client_stop"}},
	}
	for _, ev := range deliver {
		if err := w.Deliver(ev); err != nil {
			t.Fatalf("Deliver(%s) error: %v", ev.Type, err)
		}
	}
	runWriter(t, w)

	assertTypes(t, ws.texts(), "task_completed", "session_ended")
	if got := w.Dropped(); got != 2 {
		t.Fatalf("dropped=%d, want 2", got)
	}
	writes := ws.snapshot()
	if writes[len(writes)-1].messageType != websocket.CloseMessage {
		t.Fatalf("last write type=%d, want close frame", writes[len(writes)-1].messageType)
	}
}

func TestWriter_PriorityOvertakesAudioOnly(t *testing.T) {
	ws := &fakeWSWriter{}
	w := NewWriter(ws, Config{PingInterval: time.Hour, WriteTimeout: time.Second}, nil)

	_ = w.Deliver(events.Outbound{Type: events.TypeAgentMessage, Data: events.AgentMessageData{Text: "hi"}})
	_ = w.Deliver(audio("p1", 0))
	_ = w.Deliver(events.Outbound{Type: events.TypeError, Priority: true, Data: events.ErrorEvent{ErrorCode: "SESSION_DRAINING"}})
	runWriter(t, w)

	assertTypes(t, ws.texts(), "agent_message", "error", "audio_response")
}

func TestWriter_BargeInDropsQueuedAudio(t *testing.T) {
	ws := &fakeWSWriter{}
	w := NewWriter(ws, Config{PingInterval: time.Hour, WriteTimeout: time.Second}, nil)

	_ = w.Deliver(audio("p1", 0))
	_ = w.Deliver(audio("p1", 1))
	_ = w.Deliver(events.Outbound{
		Type:     events.TypeBargeIn,
		Priority: true,
		Data:     events.BargeInData{Reason: "user_speech", PlaybackID: "p1"},
	})
	_ = w.Deliver(audio("p1", 2))
	_ = w.Deliver(audio("p2", 0))
	w.Close()

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	texts := ws.texts()
	if len(texts) != 2 {
		t.Fatalf("writes=%d, want barge_in + one p2 chunk: %v", len(texts), texts)
	}
	if !strings.Contains(texts[0], `"type":"barge_in"`) {
		t.Fatalf("first write=%q", texts[0])
	}
	if !strings.Contains(texts[1], `"playback_id":"p2"`) {
		t.Fatalf("second write=%q", texts[1])
	}
	if got := w.Dropped(); got != 3 {
		t.Fatalf("dropped=%d, want 3", got)
	}
}

func TestWriter_TaskEventEvictsQueuedAudio(t *testing.T) {
	ws := &fakeWSWriter{}
	w := NewWriter(ws, Config{PingInterval: time.Hour, WriteTimeout: time.Second, QueueSize: 2}, nil)

	_ = w.Deliver(audio("p1", 0))
	_ = w.Deliver(audio("p1", 1))
	if err := w.Deliver(events.Outbound{Type: events.TypeTaskCompleted, Data: events.TaskData{TaskID: "t1", Status: "succeeded"}}); err != nil {
		t.Fatalf("Deliver(task_completed) error: %v", err)
	}
	// The evicted playback stays canceled.
	if err := w.Deliver(audio("p1", 2)); err != nil {
		t.Fatalf("Deliver(audio) error: %v", err)
	}
	runWriter(t, w)

	assertTypes(t, ws.texts(), "task_completed")
	if got := w.Dropped(); got != 3 {
		t.Fatalf("dropped=%d, want 3", got)
	}
	select {
	case <-w.Overflowed():
		t.Fatalf("writer overflowed")
	default:
	}
}

func TestWriter_AudioOverflowCancelsPlayback(t *testing.T) {
	ws := &fakeWSWriter{}
	w := NewWriter(ws, Config{PingInterval: time.Hour, WriteTimeout: time.Second, QueueSize: 2}, nil)

	_ = w.Deliver(events.Outbound{Type: events.TypeAgentMessage, Data: events.AgentMessageData{Text: "hi"}})
	_ = w.Deliver(audio("p1", 0))
	if err := w.Deliver(audio("p1", 1)); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("Deliver(audio) err=%v, want ErrBackpressure", err)
	}
	if err := w.Deliver(audio("p1", 2)); err != nil {
		t.Fatalf("Deliver(audio) after shed err=%v", err)
	}
	if err := w.Deliver(audio("p2", 0)); err != nil {
		t.Fatalf("Deliver(p2) err=%v", err)
	}
	runWriter(t, w)

	texts := ws.texts()
	assertTypes(t, texts, "agent_message", "audio_response")
	if !strings.Contains(texts[1], `"playback_id":"p2"`) {
		t.Fatalf("second write=%q", texts[1])
	}
}

func TestWriter_OverflowWritesErrorAndCloses(t *testing.T) {
	ws := &fakeWSWriter{}
	w := NewWriter(ws, Config{PingInterval: time.Hour, WriteTimeout: time.Second, QueueSize: 1}, nil)
	ev := events.Outbound{Type: events.TypeTranscriptPartial, SessionID: "s1", Data: events.TranscriptData{Text: "a"}}
	if err := w.Deliver(ev); err != nil {
		t.Fatalf("first Deliver() error: %v", err)
	}
	if err := w.Deliver(ev); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("second Deliver() err=%v, want ErrBackpressure", err)
	}
	select {
	case <-w.Overflowed():
	default:
		t.Fatalf("Overflowed() not closed")
	}
	if err := w.Deliver(ev); err != ErrWriterClosed {
		t.Fatalf("Deliver() after overflow err=%v, want ErrWriterClosed", err)
	}
	w.Close()
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	texts := ws.texts()
	assertTypes(t, texts, "transcript_partial", "error")
	if !strings.Contains(texts[1], "RATE_LIMITED") {
		t.Fatalf("error frame=%q", texts[1])
	}
	if !ws.closed {
		t.Fatalf("connection not closed")
	}
}

func TestWriter_ContextCancelFlushesPriority(t *testing.T) {
	ws := &fakeWSWriter{}
	w := NewWriter(ws, Config{PingInterval: time.Hour, WriteTimeout: time.Second}, nil)
	_ = w.Deliver(events.Outbound{Type: events.TypeError, Priority: true, Data: events.ErrorEvent{ErrorCode: "SESSION_DRAINING"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	texts := ws.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "SESSION_DRAINING") {
		t.Fatalf("texts=%v", texts)
	}
	if !ws.closed {
		t.Fatalf("connection not closed")
	}
}

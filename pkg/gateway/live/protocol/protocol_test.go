package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/session"
)

const sid = "0190a0e4-3b1c-7d2e-8f00-0123456789ab"

func TestDecode_Audio(t *testing.T) {
	raw := []byte(`{
		"type":"audio",
		"session_id":"` + sid + `",
		"correlation_id":"c-1",
		"data":{"payload":"aGVsbG8=","format":"text","sequence":3,"final":true}
	}`)

	msg, err := Decode(raw, sid)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	a, ok := msg.Input.(session.Audio)
	if !ok {
		t.Fatalf("decoded input = %T, want session.Audio", msg.Input)
	}
	if string(a.Payload) != "hello" || a.Format != "text" || a.Sequence != 3 || !a.Final {
		t.Fatalf("audio=%+v", a)
	}
	if msg.CorrelationID != "c-1" {
		t.Fatalf("correlation_id=%q", msg.CorrelationID)
	}
}

func TestDecode_TextMessageConfidence(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"text_message","data":{"text":"hi","confidence":0.4}}`), sid)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	tm := msg.Input.(session.TextMessage)
	if tm.Confidence == nil || *tm.Confidence != 0.4 {
		t.Fatalf("confidence=%v", tm.Confidence)
	}

	msg, err = Decode([]byte(`{"type":"text_message","data":{"text":"hi"}}`), sid)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Input.(session.TextMessage).Confidence != nil {
		t.Fatalf("confidence should be unset")
	}
}

func TestDecode_ControlAndBargeIn(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"session_control","data":{"action":"pause"}}`), "")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if c := msg.Input.(session.Control); c.Action != session.ActionPause {
		t.Fatalf("action=%q", c.Action)
	}

	msg, err = Decode([]byte(`{"type":"barge_in"}`), "")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, ok := msg.Input.(session.BargeIn); !ok {
		t.Fatalf("decoded input = %T", msg.Input)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		code  core.Code
		param string
	}{
		{"malformed json", `{"type":`, core.CodeValidationMalformed, ""},
		{"not an object", `[1,2]`, core.CodeValidationMalformed, ""},
		{"unknown type", `{"type":"hello"}`, core.CodeValidationUnknownType, "type"},
		{"missing type", `{"data":{}}`, core.CodeValidationUnknownType, "type"},
		{"bad session id", `{"type":"barge_in","session_id":"abc"}`, core.CodeValidationInvalidID, "session_id"},
		{"other session", `{"type":"barge_in","session_id":"0190a0e4-3b1c-7d2e-8f00-000000000000"}`, core.CodeValidationInvalidID, "session_id"},
		{"confidence too high", `{"type":"text_message","data":{"text":"hi","confidence":1.5}}`, core.CodeValidationOutOfRange, "data.confidence"},
		{"negative sequence", `{"type":"audio","data":{"payload":"","format":"text","sequence":-1}}`, core.CodeValidationOutOfRange, "data.sequence"},
		{"bad action", `{"type":"session_control","data":{"action":"rewind"}}`, core.CodeValidationInvalidField, "data.action"},
		{"bad format", `{"type":"audio","data":{"payload":"","format":"mp3"}}`, core.CodeValidationInvalidField, "data.format"},
		{"missing data", `{"type":"text_message"}`, core.CodeValidationInvalidField, ""},
		{"empty text", `{"type":"text_message","data":{"text":""}}`, core.CodeValidationInvalidField, "data.text"},
		{"bad base64", `{"type":"audio","data":{"payload":"%%%","format":"text"}}`, core.CodeValidationInvalidField, "data.payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw), sid)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err=%v, want *DecodeError", err)
			}
			if de.Code != tt.code {
				t.Fatalf("code=%q, want %q (%s)", de.Code, tt.code, de.Message)
			}
			if tt.param != "" && de.Param != tt.param {
				t.Fatalf("param=%q, want %q", de.Param, tt.param)
			}
		})
	}
}

func TestDecodeError_Event(t *testing.T) {
	de := &DecodeError{Code: core.CodeValidationOutOfRange, Message: "too big", Param: "data.confidence"}
	ev := de.Event()
	if ev.ErrorCode != core.CodeValidationOutOfRange {
		t.Fatalf("code=%q", ev.ErrorCode)
	}
	if ev.RetryPossible {
		t.Fatalf("validation errors are not retryable")
	}
	if ev.Context.Parameters["param"] != "data.confidence" {
		t.Fatalf("parameters=%v", ev.Context.Parameters)
	}
}

func TestEncode(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := Encode(events.Outbound{
		Type:          events.TypeTranscriptFinal,
		SessionID:     sid,
		CorrelationID: "c-9",
		Timestamp:     ts,
		Data:          events.TranscriptData{Text: "hello", Confidence: 0.9, Final: true},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "transcript_final" || got["session_id"] != sid || got["correlation_id"] != "c-9" {
		t.Fatalf("envelope=%v", got)
	}
	if got["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("timestamp=%v", got["timestamp"])
	}
	data := got["data"].(map[string]any)
	if data["text"] != "hello" || data["final"] != true {
		t.Fatalf("data=%v", data)
	}
}

func TestEncode_AudioPayloadIsBase64(t *testing.T) {
	raw, err := Encode(events.Outbound{
		Type: events.TypeAudioResponse,
		Data: events.AudioResponseData{PlaybackID: "p", Payload: []byte("hello"), Format: "pcm_s16le"},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(raw), `"payload":"aGVsbG8="`) {
		t.Fatalf("frame=%s", raw)
	}
}

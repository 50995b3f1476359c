// Package protocol is the wire codec of the live voice stream: JSON envelopes
// in both directions, inbound validation against an embedded JSON Schema, and
// decoding of inbound data into session inputs.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/session"
)

// Inbound event types.
const (
	TypeAudio          = "audio"
	TypeSessionControl = "session_control"
	TypeBargeIn        = "barge_in"
	TypeTextMessage    = "text_message"
)

type DecodeError struct {
	Code    core.Code
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

// Event is the error event reported to the client for e.
func (e *DecodeError) Event() events.ErrorEvent {
	return events.FromError(core.NewValidationError(e.Code, e.Message, e.Param), e.Code, "gateway", "decode")
}

func malformed(message string) *DecodeError {
	return &DecodeError{Code: core.CodeValidationMalformed, Message: message}
}

func invalidField(message, param string) *DecodeError {
	return &DecodeError{Code: core.CodeValidationInvalidField, Message: message, Param: param}
}

// Envelope is the outer shape of every event in both directions.
type Envelope struct {
	Type          string    `json:"type"`
	Data          any       `json:"data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"session_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type AudioData struct {
	Payload  string `json:"payload"`
	Format   string `json:"format"`
	Sequence int    `json:"sequence"`
	Final    bool   `json:"final"`
}

type SessionControlData struct {
	Action string `json:"action"`
}

type BargeInData struct {
	Reason string `json:"reason"`
}

type TextMessageData struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// Message is a decoded inbound event.
type Message struct {
	Type          string
	SessionID     string
	CorrelationID string
	Input         session.Input
}

// Decode parses and validates one inbound frame. sessionID is the id bound
// to the connection; a frame naming another session is rejected. Errors are
// always *DecodeError.
func Decode(raw []byte, sessionID string) (Message, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Message{}, malformed("invalid json frame")
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return Message{}, malformed("frame must be a json object")
	}

	typ, _ := obj["type"].(string)
	switch typ {
	case TypeAudio, TypeSessionControl, TypeBargeIn, TypeTextMessage:
	default:
		if typ == "" {
			typ = "unknown"
		}
		return Message{}, &DecodeError{
			Code:    core.CodeValidationUnknownType,
			Message: printer.Sprintf("unknown event type %q", typ),
			Param:   "type",
		}
	}

	if err := validate(doc); err != nil {
		return Message{}, err
	}

	msg := Message{Type: typ}
	msg.SessionID, _ = obj["session_id"].(string)
	msg.CorrelationID, _ = obj["correlation_id"].(string)
	if msg.SessionID != "" && sessionID != "" && !strings.EqualFold(msg.SessionID, sessionID) {
		return Message{}, &DecodeError{
			Code:    core.CodeValidationInvalidID,
			Message: "session_id does not match this connection",
			Param:   "session_id",
		}
	}

	data, _ := obj["data"].(map[string]any)
	in, err := decodeInput(typ, data)
	if err != nil {
		return Message{}, err
	}
	msg.Input = in
	return msg, nil
}

func decodeInput(typ string, data map[string]any) (session.Input, error) {
	switch typ {
	case TypeAudio:
		var d AudioData
		if err := decodeData(data, &d); err != nil {
			return nil, err
		}
		payload, err := base64.StdEncoding.DecodeString(d.Payload)
		if err != nil {
			return nil, invalidField("payload must be base64", "data.payload")
		}
		return session.Audio{Payload: payload, Format: d.Format, Sequence: d.Sequence, Final: d.Final}, nil
	case TypeSessionControl:
		var d SessionControlData
		if err := decodeData(data, &d); err != nil {
			return nil, err
		}
		return session.Control{Action: d.Action}, nil
	case TypeBargeIn:
		var d BargeInData
		if err := decodeData(data, &d); err != nil {
			return nil, err
		}
		return session.BargeIn{Reason: d.Reason}, nil
	case TypeTextMessage:
		var d TextMessageData
		if err := decodeData(data, &d); err != nil {
			return nil, err
		}
		return session.TextMessage{Text: d.Text, Confidence: d.Confidence}, nil
	}
	return nil, &DecodeError{Code: core.CodeValidationUnknownType, Message: printer.Sprintf("unknown event type %q", typ), Param: "type"}
}

func decodeData(data map[string]any, out any) error {
	if data == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return invalidField(err.Error(), "data")
	}
	if err := dec.Decode(data); err != nil {
		return invalidField(printer.Sprintf("invalid data: %v", err), "data")
	}
	return nil
}

// Encode renders an outbound event as a JSON text frame.
func Encode(ev events.Outbound) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:          string(ev.Type),
		Data:          ev.Data,
		Timestamp:     ev.Timestamp.UTC(),
		SessionID:     ev.SessionID,
		CorrelationID: ev.CorrelationID,
	})
}

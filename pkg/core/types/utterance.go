// Package types holds the value types shared across the voice core.
package types

import "time"

// Utterance is one recognized span of user speech (or a typed fallback).
// It is created once from a final transcription result and never modified.
type Utterance struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`       // redacted
	Confidence  float64   `json:"confidence"` // 0..1
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Interrupted bool      `json:"interrupted"`
}

// Duration is the span between the first audio and the final result.
func (u Utterance) Duration() time.Duration {
	return u.EndTime.Sub(u.StartTime)
}

// Session statuses.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Session end reasons.
const (
	EndClientStop       = "client_stop"
	EndConnectionClosed = "connection_closed"
	EndTimeout          = "timeout"
	EndMaxDuration      = "max_duration_exceeded"
	EndAPIRequest       = "api_request"
	EndServerShutdown   = "server_shutdown"
)

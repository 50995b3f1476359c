package session

import (
	"errors"

	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Utterance is one recognized span of user speech.
type Utterance = types.Utterance

// Input is an inbound event for a session loop. Inputs are processed one at
// a time in the order they were sent.
type Input interface {
	isInput()
}

// Audio is one inbound audio frame. Final marks the end of an utterance.
type Audio struct {
	Payload  []byte
	Format   string
	Sequence int
	Final    bool
}

// Session control actions.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionPause  = "pause"
	ActionResume = "resume"
)

type Control struct {
	Action string
}

// BargeIn is an explicit request to cut the current playback.
type BargeIn struct {
	Reason string
}

// TextMessage is a typed utterance. A nil Confidence counts as 1.
type TextMessage struct {
	Text       string
	Confidence *float64
}

// Rejected carries a validation failure detected at the protocol boundary,
// so the resulting error is written in arrival order.
type Rejected struct {
	Event events.ErrorEvent
}

func (Audio) isInput()       {}
func (Control) isInput()     {}
func (BargeIn) isInput()     {}
func (TextMessage) isInput() {}
func (Rejected) isInput()    {}

// Requests made through the Manager.
type (
	endInput struct {
		reason string
	}
	recordInput struct {
		text        string
		confidence  float64
		interrupted bool
		// route sends the utterance through the agent pipeline.
		route bool
	}
	warnInput struct {
		event events.ErrorEvent
	}
	attachInput struct {
		sink Sink
	}
)

func (endInput) isInput()    {}
func (recordInput) isInput() {}
func (warnInput) isInput()   {}
func (attachInput) isInput() {}

type envelope struct {
	correlationID string
	input         Input
	reply         chan result
}

type result struct {
	utterance Utterance
	summary   Summary
	err       error
}

// ErrBackpressure is returned by a Sink that cannot keep up. For an
// audio_response it means the rest of that playback will not reach the
// client.
var ErrBackpressure = errors.New("session: sink queue full")

// Sink receives a session's outbound events in order. Deliver is called
// from the session loop and must not block. Implementations must be
// comparable (usually a pointer) so Detach can match them.
type Sink interface {
	Deliver(ev events.Outbound) error
}

// Package stt provides speech-to-text providers and the per-session
// transcription adapter that drives them.
package stt

import (
	"context"
	"errors"
)

// Provider opens streaming recognition sessions.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens one recognition stream. A stream covers a single
	// utterance: partial hypotheses, then one final hypothesis after Finalize.
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// StreamOptions configures a recognition stream.
type StreamOptions struct {
	Model      string // Provider-specific model
	Language   string // ISO language code (default: "en")
	Format     string // Audio encoding: pcm_s16le, wav, mulaw, text
	SampleRate int    // Audio sample rate in Hz
}

// Hypothesis is one recognition result.
type Hypothesis struct {
	Text       string
	Confidence float64 // 0..1
	Final      bool
}

// Stream is an open recognition stream.
type Stream interface {
	SendAudio(data []byte) error
	// Finalize signals end of input; the provider must then deliver a final
	// hypothesis and close Hypotheses.
	Finalize() error
	Hypotheses() <-chan Hypothesis
	// Err reports why Hypotheses closed early, if it did.
	Err() error
	Close() error
}

// ErrStreamClosed is returned when writing to a closed stream.
var ErrStreamClosed = errors.New("stt: stream closed")

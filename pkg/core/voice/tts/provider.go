// Package tts provides text-to-speech providers and the playback adapter
// used by voice sessions.
package tts

import (
	"context"
	"errors"
	"sync"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize starts streaming audio for text. The returned stream's
	// Chunks channel is closed when synthesis ends or the stream is closed.
	Synthesize(ctx context.Context, text string, opts Options) (*Stream, error)
}

// Options configures synthesis.
type Options struct {
	Voice      string  // Voice identifier
	Speed      float64 // Speed multiplier (0.6-1.5, default 1.0)
	Language   string  // Language code
	Format     string  // Output encoding: "pcm_s16le" (default) or "mulaw"
	SampleRate int     // Sample rate in Hz
}

func (o Options) format() string {
	if o.Format == "" {
		return "pcm_s16le"
	}
	return o.Format
}

func (o Options) sampleRate() int {
	if o.SampleRate <= 0 {
		return 16000
	}
	return o.SampleRate
}

// Stream carries audio chunks from a provider to its consumer.
type Stream struct {
	chunks chan []byte
	done   chan struct{}
	once   sync.Once

	errMu sync.Mutex
	err   error
}

// NewStream creates a stream for provider implementations.
func NewStream() *Stream {
	return &Stream{
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks.
func (s *Stream) Chunks() <-chan []byte { return s.chunks }

// Done is closed once the consumer closed the stream.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the stream, if any. It is only meaningful
// after Chunks has been closed.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops the stream; producers observe Done and stop sending.
func (s *Stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Send delivers a chunk. Returns false once the stream is closed.
func (s *Stream) Send(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// Finish ends the chunk sequence, recording err if non-nil. Producers call
// it exactly once.
func (s *Stream) Finish(err error) {
	if err != nil {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
	}
	close(s.chunks)
}

// ErrEmptyText is returned when there is nothing to synthesize.
var ErrEmptyText = errors.New("tts: empty text")

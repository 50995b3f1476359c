package stt

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// DefaultLoopbackConfidence is reported when the text carries no hint.
const DefaultLoopbackConfidence = 0.92

// Loopback is a local provider for development and tests. It accepts audio
// frames in the "text" format, treats their bytes as UTF-8 transcript
// fragments, and reports a partial hypothesis per frame. A leading
// "[conf=0.60]" hint sets the confidence of the utterance.
type Loopback struct{}

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	if opts.Format != "" && opts.Format != "text" {
		return nil, fmt.Errorf("loopback stt: unsupported format %q", opts.Format)
	}
	return &loopbackStream{
		out:        make(chan Hypothesis, 64),
		confidence: DefaultLoopbackConfidence,
	}, nil
}

var confHint = regexp.MustCompile(`^\s*\[conf=([0-9.]+)\]\s*`)

type loopbackStream struct {
	mu         sync.Mutex
	out        chan Hypothesis
	words      []string
	confidence float64
	closed     bool
}

func (s *loopbackStream) SendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	text := string(data)
	if m := confHint.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 1 {
			s.confidence = v
		}
		text = text[len(m[0]):]
	}
	s.words = append(s.words, strings.Fields(text)...)
	if len(s.words) == 0 {
		return nil
	}
	// One slot stays free for the final hypothesis. Partials are advisory;
	// a slow reader only misses intermediate ones.
	if len(s.out) < cap(s.out)-1 {
		s.out <- Hypothesis{Text: strings.Join(s.words, " "), Confidence: s.confidence}
	}
	return nil
}

func (s *loopbackStream) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.closed = true
	s.out <- Hypothesis{Text: strings.Join(s.words, " "), Confidence: s.confidence, Final: true}
	close(s.out)
	return nil
}

func (s *loopbackStream) Hypotheses() <-chan Hypothesis { return s.out }

func (s *loopbackStream) Err() error { return nil }

func (s *loopbackStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

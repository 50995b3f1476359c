package stt

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
)

// Component names transcription in error events.
const Component = "transcription"

// Result is one item produced by a Capture: a hypothesis, or a terminal error.
type Result struct {
	Hypothesis
	Err error
}

// Transcriber opens one recognition stream per utterance through the
// resilience layer.
type Transcriber struct {
	provider Provider
	guard    *resilience.Guard
	opts     StreamOptions
	logger   *slog.Logger
}

// NewTranscriber wraps provider. guard may be nil, in which case stream
// opening is attempted once.
func NewTranscriber(provider Provider, guard *resilience.Guard, opts StreamOptions, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{provider: provider, guard: guard, opts: opts, logger: logger}
}

func (t *Transcriber) Provider() string { return t.provider.Name() }

// Format is the audio format the provider expects.
func (t *Transcriber) Format() string { return t.opts.Format }

// Start begins capturing an utterance. It returns immediately; the stream is
// opened in the background and audio fed before that is buffered.
func (t *Transcriber) Start(ctx context.Context) *Capture {
	ctx, cancel := context.WithCancel(ctx)
	c := &Capture{
		results: make(chan Result, 64),
		wake:    make(chan struct{}, 1),
		cancel:  cancel,
	}
	go c.run(ctx, t)
	return c
}

func (t *Transcriber) open(ctx context.Context) (Stream, error) {
	op := func(ctx context.Context) (Stream, error) {
		return t.provider.NewStream(ctx, t.opts)
	}
	if t.guard == nil {
		return op(ctx)
	}
	return resilience.Call(ctx, t.guard, op)
}

// Capture is one in-progress utterance. Results yields zero or more partial
// hypotheses followed by exactly one final hypothesis, or a single error,
// and is then closed.
type Capture struct {
	results chan Result
	wake    chan struct{}
	cancel  context.CancelFunc

	mu       sync.Mutex
	pending  [][]byte
	finished bool
}

// Feed queues an audio chunk. It never blocks.
func (c *Capture) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.mu.Lock()
	if !c.finished {
		c.pending = append(c.pending, buf)
	}
	c.mu.Unlock()
	c.signal()
}

// Finish marks the end of the utterance's audio.
func (c *Capture) Finish() {
	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
	c.signal()
}

// Cancel abandons the capture. Results is closed without a final hypothesis.
func (c *Capture) Cancel() { c.cancel() }

func (c *Capture) Results() <-chan Result { return c.results }

func (c *Capture) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Capture) take() ([][]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunks := c.pending
	c.pending = nil
	return chunks, c.finished
}

func (c *Capture) send(ctx context.Context, r Result) bool {
	select {
	case c.results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Capture) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	var ce *core.Error
	var callErr *resilience.CallError
	if !errors.As(err, &ce) && !errors.As(err, &callErr) {
		err = core.NewTransientError(core.CodeTranscriptionFailed, Component, "transcription stream failed", err)
	}
	c.send(ctx, Result{Err: err})
}

func (c *Capture) run(ctx context.Context, t *Transcriber) {
	defer close(c.results)
	defer c.cancel()

	stream, err := t.open(ctx)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	defer stream.Close()

	var (
		last       Hypothesis
		have       bool
		finalizing bool
	)
	hyps := stream.Hypotheses()
	c.signal()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.wake:
			chunks, finished := c.take()
			for _, chunk := range chunks {
				if err := stream.SendAudio(chunk); err != nil {
					c.fail(ctx, err)
					return
				}
			}
			if finished && !finalizing {
				finalizing = true
				if err := stream.Finalize(); err != nil {
					c.fail(ctx, err)
					return
				}
			}

		case h, ok := <-hyps:
			if !ok {
				if err := stream.Err(); err != nil {
					c.fail(ctx, err)
					return
				}
				if !finalizing {
					c.fail(ctx, errors.New("stream closed before end of audio"))
					return
				}
				// The provider ended without a final; promote the last partial.
				if have {
					t.logger.Debug("promoting last partial to final", "provider", t.provider.Name())
				}
				last.Final = true
				c.send(ctx, Result{Hypothesis: last})
				return
			}
			if h.Final {
				if !finalizing {
					// Segment-final before end of audio is still a partial
					// for the utterance.
					h.Final = false
				} else {
					c.send(ctx, Result{Hypothesis: h})
					return
				}
			}
			last, have = h, true
			if !c.send(ctx, Result{Hypothesis: h}) {
				return
			}
		}
	}
}

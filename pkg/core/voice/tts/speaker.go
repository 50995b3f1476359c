package tts

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
)

// Component names synthesis in error events.
const Component = "synthesis"

// Chunk is one numbered piece of a playback.
type Chunk struct {
	PlaybackID string
	Sequence   int
	Data       []byte
	Format     string
	SampleRate int
	// Final marks the last chunk of a playback that ran to completion.
	Final bool
}

// Speaker renders assistant replies through a provider guarded by the
// resilience layer.
type Speaker struct {
	provider Provider
	guard    *resilience.Guard
	opts     Options
	logger   *slog.Logger
}

// NewSpeaker wraps provider. guard may be nil.
func NewSpeaker(provider Provider, guard *resilience.Guard, opts Options, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{provider: provider, guard: guard, opts: opts, logger: logger}
}

func (s *Speaker) Provider() string { return s.provider.Name() }

// Speak starts a playback of text identified by playbackID.
func (s *Speaker) Speak(ctx context.Context, playbackID, text string) *Playback {
	ctx, cancel := context.WithCancel(ctx)
	p := &Playback{
		ID:     playbackID,
		chunks: make(chan Chunk, 8),
		stop:   make(chan struct{}),
		cancel: cancel,
	}
	go p.run(ctx, s, text)
	return p
}

func (s *Speaker) open(ctx context.Context, text string) (*Stream, error) {
	op := func(ctx context.Context) (*Stream, error) {
		return s.provider.Synthesize(ctx, text, s.opts)
	}
	if s.guard == nil {
		return op(ctx)
	}
	return resilience.Call(ctx, s.guard, op)
}

// Playback is one in-flight synthesized reply.
type Playback struct {
	ID string

	chunks chan Chunk
	stop   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	errMu sync.Mutex
	err   error
}

// Chunks yields audio in order and is closed when the playback completes,
// fails or is stopped.
func (p *Playback) Chunks() <-chan Chunk { return p.chunks }

// Stop truncates the playback. The producer stops at once; a reader that
// may already hold buffered chunks checks Stopped before using them.
func (p *Playback) Stop() {
	p.once.Do(func() {
		close(p.stop)
		p.cancel()
	})
}

// Stopped reports whether Stop was called.
func (p *Playback) Stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Err reports why synthesis failed. Valid once Chunks is closed.
func (p *Playback) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Playback) setErr(err error) {
	var ce *core.Error
	var callErr *resilience.CallError
	if !errors.As(err, &ce) && !errors.As(err, &callErr) {
		err = core.NewTransientError(core.CodeSynthesisFailed, Component, "speech synthesis failed", err)
	}
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()
}

func (p *Playback) emit(c Chunk) bool {
	if p.Stopped() {
		return false
	}
	select {
	case p.chunks <- c:
		return true
	case <-p.stop:
		return false
	}
}

// run synthesizes text one sentence at a time into a single chunk sequence.
func (p *Playback) run(ctx context.Context, s *Speaker, text string) {
	defer close(p.chunks)
	defer p.cancel()

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		p.setErr(ErrEmptyText)
		return
	}
	seq := &sequencer{p: p, base: Chunk{PlaybackID: p.ID, Format: s.opts.format(), SampleRate: s.opts.sampleRate()}}
	for _, sentence := range sentences {
		if p.Stopped() {
			return
		}
		stream, err := s.open(ctx, sentence)
		if err != nil {
			if !p.Stopped() {
				p.setErr(err)
			}
			return
		}
		ok := p.forward(stream, seq)
		stream.Close()
		if !ok {
			if err := stream.Err(); err != nil && !p.Stopped() {
				p.setErr(err)
				s.logger.Warn("synthesis stream failed", "playback_id", p.ID, "error", err)
			}
			return
		}
	}
	seq.finish()
}

// forward copies one provider stream into the playback. It returns false
// when the playback was stopped or the stream failed.
func (p *Playback) forward(stream *Stream, seq *sequencer) bool {
	for {
		select {
		case <-p.stop:
			return false
		case data, ok := <-stream.Chunks():
			if !ok {
				return stream.Err() == nil
			}
			if !seq.push(data) {
				return false
			}
		}
	}
}

// sequencer numbers chunks across sentences. It holds one chunk back so the
// last chunk of the reply can be flagged Final.
type sequencer struct {
	p    *Playback
	base Chunk
	n    int
	held []byte
	have bool
}

func (q *sequencer) push(data []byte) bool {
	if q.have {
		c := q.base
		c.Sequence = q.n
		c.Data = q.held
		if !q.p.emit(c) {
			return false
		}
		q.n++
	}
	q.held, q.have = data, true
	return true
}

func (q *sequencer) finish() {
	c := q.base
	c.Sequence = q.n
	c.Data = q.held
	c.Final = true
	q.p.emit(c)
}

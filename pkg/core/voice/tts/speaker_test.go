package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(t *testing.T, p *Playback) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-p.Chunks():
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("playback did not finish")
		}
	}
}

func TestTone_Deterministic(t *testing.T) {
	tone := NewTone()
	a := tone.Render(10, 16000)
	b := tone.Render(10, 16000)
	assert.Equal(t, a, b)
	assert.Len(t, a, 10*60*16000/1000*2)
}

func TestSpeaker_SequencesChunksAndFlagsFinal(t *testing.T) {
	s := NewSpeaker(NewTone(), nil, Options{}, quietLogger())
	p := s.Speak(context.Background(), "pb-1", "hello world")

	chunks := drain(t, p)
	require.NoError(t, p.Err())
	require.NotEmpty(t, chunks)

	// 11 chars * 60ms = 660ms in 100ms chunks.
	assert.Len(t, chunks, 7)
	for i, c := range chunks {
		assert.Equal(t, "pb-1", c.PlaybackID)
		assert.Equal(t, i, c.Sequence)
		assert.Equal(t, i == len(chunks)-1, c.Final)
		assert.Equal(t, "pcm_s16le", c.Format)
		assert.Equal(t, 16000, c.SampleRate)
	}
}

func TestSpeaker_StopTruncates(t *testing.T) {
	tone := NewTone()
	tone.Pace = 20 * time.Millisecond
	s := NewSpeaker(tone, nil, Options{}, quietLogger())
	p := s.Speak(context.Background(), "pb-2", "a fairly long sentence that takes a while to say")

	first := <-p.Chunks()
	assert.Equal(t, 0, first.Sequence)
	p.Stop()
	assert.True(t, p.Stopped())

	rest := drain(t, p)
	// The text renders 29 chunks; only what was already buffered may follow.
	assert.Less(t, len(rest), 5)
	for _, c := range rest {
		assert.False(t, c.Final)
	}
	assert.NoError(t, p.Err())
}

type failingProvider struct{ calls int }

func (f *failingProvider) Name() string { return "failing" }
func (f *failingProvider) Synthesize(ctx context.Context, text string, opts Options) (*Stream, error) {
	f.calls++
	return nil, errors.New("synthesis queue full")
}

func TestSpeaker_RetriesSynthesisIndicators(t *testing.T) {
	f := &failingProvider{}
	guard := resilience.NewGuard("tts", resilience.RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Indicators: resilience.SynthesisIndicators,
	}, resilience.DefaultBreakerConfig(), quietLogger())

	p := NewSpeaker(f, guard, Options{}, quietLogger()).Speak(context.Background(), "pb-3", "hi")
	assert.Empty(t, drain(t, p))
	assert.Equal(t, 3, f.calls)

	var callErr *resilience.CallError
	require.ErrorAs(t, p.Err(), &callErr)
	assert.True(t, callErr.Exhausted)
}

func TestSpeaker_MidStreamFailureIsSynthesisFailed(t *testing.T) {
	p := NewSpeaker(midStreamFailure{}, nil, Options{}, quietLogger()).Speak(context.Background(), "pb-4", "hi")
	drain(t, p)
	assert.Equal(t, core.CodeSynthesisFailed, core.CodeOf(p.Err()))
}

type midStreamFailure struct{}

func (midStreamFailure) Name() string { return "mid" }
func (midStreamFailure) Synthesize(ctx context.Context, text string, opts Options) (*Stream, error) {
	s := NewStream()
	go func() {
		s.Send([]byte{1, 2})
		s.Finish(errors.New("socket closed"))
	}()
	return s, nil
}

type recordingProvider struct {
	*Tone
	texts []string
}

func (r *recordingProvider) Synthesize(ctx context.Context, text string, opts Options) (*Stream, error) {
	r.texts = append(r.texts, text)
	return r.Tone.Synthesize(ctx, text, opts)
}

func TestSpeaker_SynthesizesPerSentence(t *testing.T) {
	rec := &recordingProvider{Tone: NewTone()}
	p := NewSpeaker(rec, nil, Options{}, quietLogger()).Speak(context.Background(), "pb-5", "Hi. Dr. Smith is in!")

	chunks := drain(t, p)
	require.NoError(t, p.Err())
	assert.Equal(t, []string{"Hi.", "Dr. Smith is in!"}, rec.texts)
	for i, c := range chunks {
		assert.Equal(t, i, c.Sequence)
		assert.Equal(t, i == len(chunks)-1, c.Final)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"hello world", []string{"hello world"}},
		{"One. Two? Three!", []string{"One.", "Two?", "Three!"}},
		{"Meet J. Doe at 3 p.m. today.", []string{"Meet J. Doe at 3 p.m. today."}},
		{"Version 1.5 is out. Done", []string{"Version 1.5 is out.", "Done"}},
		{"   ", nil},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, splitSentences(tc.in), tc.in)
	}
}

func TestSpeaker_EmptyTextFails(t *testing.T) {
	p := NewSpeaker(NewTone(), nil, Options{}, quietLogger()).Speak(context.Background(), "pb-6", "  ")
	assert.Empty(t, drain(t, p))
	assert.Equal(t, core.CodeSynthesisFailed, core.CodeOf(p.Err()))
}

package tts

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// Tone is a local provider that renders a fixed-pitch tone whose length
// follows the text. Output is deterministic, which makes it useful for
// development and tests.
type Tone struct {
	// MsPerChar is the audio duration rendered per input character.
	MsPerChar int
	// ChunkMs is the duration carried by each chunk.
	ChunkMs int
	// Pace, when set, waits this long between chunks to mimic real-time
	// delivery.
	Pace time.Duration
	// Frequency of the tone in Hz.
	Frequency float64
}

func NewTone() *Tone {
	return &Tone{MsPerChar: 60, ChunkMs: 100, Frequency: 440}
}

func (t *Tone) Name() string { return "tone" }

func (t *Tone) Synthesize(ctx context.Context, text string, opts Options) (*Stream, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	pcm := t.Render(len([]rune(text)), opts.sampleRate())
	chunkBytes := max(t.ChunkMs, 10) * opts.sampleRate() / 1000 * 2

	stream := NewStream()
	go func() {
		var err error
		defer func() { stream.Finish(err) }()
		for off := 0; off < len(pcm); off += chunkBytes {
			if off > 0 && t.Pace > 0 {
				timer := time.NewTimer(t.Pace)
				select {
				case <-ctx.Done():
					timer.Stop()
					err = ctx.Err()
					return
				case <-stream.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			end := min(off+chunkBytes, len(pcm))
			if !stream.Send(pcm[off:end]) {
				return
			}
		}
	}()
	return stream, nil
}

// Render returns little-endian 16-bit PCM for n characters of text.
func (t *Tone) Render(n, sampleRate int) []byte {
	msPerChar := t.MsPerChar
	if msPerChar <= 0 {
		msPerChar = 60
	}
	freq := t.Frequency
	if freq <= 0 {
		freq = 440
	}
	samples := n * msPerChar * sampleRate / 1000
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(0.2 * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

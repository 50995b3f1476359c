package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core/resilience"
)

const (
	cartesiaSTTURL  = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"
)

// Cartesia streams audio to Cartesia's speech-to-text WebSocket API.
type Cartesia struct {
	apiKey string
	url    string
	dialer *websocket.Dialer

	// DefaultConfidence is reported on hypotheses; the API does not return
	// a confidence score.
	DefaultConfidence float64
}

// NewCartesia creates a provider for the public API endpoint.
func NewCartesia(apiKey string) *Cartesia {
	return NewCartesiaWithURL(apiKey, cartesiaSTTURL)
}

// NewCartesiaWithURL points the provider at a different endpoint.
func NewCartesiaWithURL(apiKey, endpoint string) *Cartesia {
	return &Cartesia{
		apiKey:            apiKey,
		url:               endpoint,
		dialer:            &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		DefaultConfidence: 1.0,
	}
}

func (c *Cartesia) Name() string { return "cartesia" }

func (c *Cartesia) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	encoding := opts.Format
	if encoding == "" || encoding == "wav" {
		encoding = "pcm_s16le"
	}
	if encoding == "mulaw" {
		encoding = "pcm_mulaw"
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("min_volume", "0.01")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &resilience.StatusError{Status: resp.StatusCode, Message: string(body)}
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	s := &cartesiaStream{
		conn:       conn,
		out:        make(chan Hypothesis, 64),
		done:       make(chan struct{}),
		confidence: c.DefaultConfidence,
	}
	go s.readLoop()
	return s, nil
}

type cartesiaSTTMessage struct {
	Type    string `json:"type"` // transcript, flush_done, done, error
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

type cartesiaStream struct {
	conn       *websocket.Conn
	out        chan Hypothesis
	done       chan struct{}
	confidence float64

	writeMu   sync.Mutex
	closed    atomic.Bool
	finalized atomic.Bool

	errMu sync.Mutex
	err   error
}

func (s *cartesiaStream) readLoop() {
	defer close(s.out)

	var text string
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(err)
			}
			return
		}

		var msg cartesiaSTTMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			// Cartesia finalizes segments; the utterance text accumulates them.
			hyp := Hypothesis{Text: joinSegment(text, msg.Text), Confidence: s.confidence}
			if msg.IsFinal {
				text = hyp.Text
			}
			if !s.emit(hyp) {
				return
			}
		case "flush_done", "done":
			if s.finalized.Load() {
				s.emit(Hypothesis{Text: text, Confidence: s.confidence, Final: true})
				return
			}
		case "error":
			s.setErr(fmt.Errorf("cartesia stt: %s", msg.Error))
			return
		}
	}
}

func joinSegment(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	if seg == "" {
		return prefix
	}
	return prefix + " " + seg
}

func (s *cartesiaStream) emit(h Hypothesis) bool {
	select {
	case s.out <- h:
		return true
	case <-s.done:
		return false
	}
}

func (s *cartesiaStream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *cartesiaStream) Finalize() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.finalized.Store(true)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

func (s *cartesiaStream) Hypotheses() <-chan Hypothesis { return s.out }

func (s *cartesiaStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *cartesiaStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *cartesiaStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}

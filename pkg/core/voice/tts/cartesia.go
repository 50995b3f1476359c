package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core/resilience"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"
)

// Default voice ID - deployments should configure their own.
const defaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

// Cartesia synthesizes speech over Cartesia's WebSocket API.
type Cartesia struct {
	apiKey string
	url    string
	dialer *websocket.Dialer
}

// NewCartesia creates a provider for the public API endpoint.
func NewCartesia(apiKey string) *Cartesia {
	return NewCartesiaWithURL(apiKey, cartesiaWSURL)
}

// NewCartesiaWithURL points the provider at a different endpoint.
func NewCartesiaWithURL(apiKey, endpoint string) *Cartesia {
	return &Cartesia{
		apiKey: apiKey,
		url:    endpoint,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *Cartesia) Name() string { return "cartesia" }

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaGenerationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

type cartesiaRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	Language         string                    `json:"language,omitempty"`
	ContextID        string                    `json:"context_id"`
	Continue         bool                      `json:"continue"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type cartesiaResponse struct {
	Type       string `json:"type"` // chunk, done, flush_done, error
	Data       string `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

var contextCounter atomic.Uint64

func nextContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}

// Synthesize opens a WebSocket, sends one complete transcript and streams
// the audio chunks back.
func (c *Cartesia) Synthesize(ctx context.Context, text string, opts Options) (*Stream, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("cartesia_version", cartesiaVersion)
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

	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	req := cartesiaRequest{
		ModelID:    "sonic-3",
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: voiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   cartesiaEncoding(opts.format()),
			SampleRate: opts.sampleRate(),
		},
		Language:  opts.Language,
		ContextID: nextContextID(),
	}
	if opts.Speed != 0 {
		req.GenerationConfig = &cartesiaGenerationConfig{Speed: opts.Speed}
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}

	stream := NewStream()
	finished := make(chan struct{})
	go func() {
		// Unblocks ReadJSON when the consumer stops early.
		select {
		case <-stream.Done():
			conn.Close()
		case <-finished:
		}
	}()
	go func() {
		defer close(finished)
		defer conn.Close()
		stream.Finish(c.read(conn, stream))
	}()
	return stream, nil
}

func (c *Cartesia) read(conn *websocket.Conn, stream *Stream) error {
	for {
		var msg cartesiaResponse
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-stream.Done():
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		switch msg.Type {
		case "chunk":
			audio, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}
			if !stream.Send(audio) {
				return nil
			}
		case "done":
			return nil
		case "error":
			if msg.StatusCode != 0 {
				return &resilience.StatusError{Status: msg.StatusCode, Message: msg.Error}
			}
			return fmt.Errorf("cartesia error: %s", msg.Error)
		}
	}
}

func cartesiaEncoding(format string) string {
	if format == "mulaw" {
		return "pcm_mulaw"
	}
	return "pcm_s16le"
}

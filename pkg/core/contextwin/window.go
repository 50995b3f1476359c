// Package contextwin keeps a bounded, redacted rolling buffer of
// conversation turns per session.
package contextwin

import (
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/redact"
)

// DefaultMaxTurns is the default window size.
const DefaultMaxTurns = 50

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the window. Text is redacted before storage.
type Turn struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Speaker     string    `json:"speaker,omitempty"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence,omitempty"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Tools       []string  `json:"tools,omitempty"`
	At          time.Time `json:"at"`
}

// Buffer is a FIFO window for a single session. It is not safe for
// concurrent use; Manager serializes access.
type Buffer struct {
	maxTurns  int
	maxTokens int
	turns     []Turn
	evicted   int
}

// NewBuffer creates a buffer holding at most maxTurns turns. maxTokens, when
// positive, also evicts oldest turns while the estimate exceeds it, always
// keeping the newest turn.
func NewBuffer(maxTurns, maxTokens int) *Buffer {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Buffer{
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
		turns:     make([]Turn, 0, min(maxTurns, 16)),
	}
}

// Append redacts and stores t, evicting the oldest turns on overflow.
func (b *Buffer) Append(t Turn) {
	t.Text = redact.Redact(t.Text)
	if t.At.IsZero() {
		t.At = time.Now()
	}
	b.turns = append(b.turns, t)
	if over := len(b.turns) - b.maxTurns; over > 0 {
		b.evict(over)
	}
	if b.maxTokens > 0 {
		for len(b.turns) > 1 && estimateTokens(b.turns) > b.maxTokens {
			b.evict(1)
		}
	}
}

func (b *Buffer) evict(n int) {
	b.turns = append(b.turns[:0], b.turns[n:]...)
	b.evicted += n
}

// MarkLastInterrupted flags the newest turn of role as interrupted.
func (b *Buffer) MarkLastInterrupted(role Role) bool {
	for i := len(b.turns) - 1; i >= 0; i-- {
		if b.turns[i].Role == role {
			b.turns[i].Interrupted = true
			return true
		}
	}
	return false
}

// Window returns a copy of the turns, oldest first.
func (b *Buffer) Window() []Turn {
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

func (b *Buffer) Len() int { return len(b.turns) }

// Summary describes the current window.
type Summary struct {
	TotalTurns      int      `json:"total_turns"`
	UserTurns       int      `json:"user_turns"`
	AssistantTurns  int      `json:"assistant_turns"`
	Interruptions   int      `json:"interruptions"`
	Evicted         int      `json:"evicted"`
	Truncated       bool     `json:"truncated"`
	EstimatedTokens int      `json:"estimated_tokens"`
	AvgConfidence   *float64 `json:"avg_confidence,omitempty"`
	SpanSeconds     float64  `json:"span_seconds"`
}

func (b *Buffer) Summary() Summary {
	s := Summary{
		TotalTurns:      len(b.turns),
		Evicted:         b.evicted,
		Truncated:       b.evicted > 0,
		EstimatedTokens: estimateTokens(b.turns),
	}
	var confSum float64
	var confN int
	for _, t := range b.turns {
		switch t.Role {
		case RoleUser:
			s.UserTurns++
			confSum += t.Confidence
			confN++
		case RoleAssistant:
			s.AssistantTurns++
		}
		if t.Interrupted {
			s.Interruptions++
		}
	}
	if confN > 0 {
		avg := confSum / float64(confN)
		s.AvgConfidence = &avg
	}
	if len(b.turns) > 1 {
		s.SpanSeconds = b.turns[len(b.turns)-1].At.Sub(b.turns[0].At).Seconds()
	}
	return s
}

// ~1.3 tokens per whitespace-separated word.
func estimateTokens(turns []Turn) int {
	words := 0
	for _, t := range turns {
		words += len(strings.Fields(t.Text))
	}
	return words * 13 / 10
}

// Manager holds one Buffer per session. Each buffer is only ever appended to
// by its session's loop; the mutex guards the map and snapshot reads.
type Manager struct {
	maxTurns  int
	maxTokens int

	mu      sync.Mutex
	buffers map[string]*Buffer
}

func NewManager(maxTurns, maxTokens int) *Manager {
	return &Manager{
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
		buffers:   make(map[string]*Buffer),
	}
}

// AppendTurn adds a turn to sessionID's window, creating it on first use.
func (m *Manager) AppendTurn(sessionID string, t Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[sessionID]
	if !ok {
		b = NewBuffer(m.maxTurns, m.maxTokens)
		m.buffers[sessionID] = b
	}
	b.Append(t)
}

// Window returns sessionID's recent turns, oldest first.
func (m *Manager) Window(sessionID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buffers[sessionID]; ok {
		return b.Window()
	}
	return nil
}

// MarkLastInterrupted flags the newest turn of role in sessionID's window.
func (m *Manager) MarkLastInterrupted(sessionID string, role Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buffers[sessionID]; ok {
		return b.MarkLastInterrupted(role)
	}
	return false
}

func (m *Manager) Summary(sessionID string) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buffers[sessionID]; ok {
		return b.Summary()
	}
	return Summary{}
}

// Drop releases sessionID's buffer.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	delete(m.buffers, sessionID)
	m.mu.Unlock()
}

package session

import (
	"log/slog"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/agent"
	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
	"github.com/vango-go/vai-voice/pkg/core/tasks"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

// Version is reported on every session.
const Version = "1.0.0"

const (
	DefaultConfidenceThreshold = 0.75
	DefaultInactivityPrompt    = 60 * time.Second
	DefaultInactivityTimeout   = 2 * time.Minute
	DefaultMaxDuration         = 30 * time.Minute
	DefaultRetention           = 5 * time.Minute
	DefaultInboundQueue        = 64
	DefaultRecentEvents        = 50
	DefaultCloseTimeout        = 5 * time.Second
)

// Prompts spoken by the session itself rather than by an agent.
const (
	PromptInactivity    = "Are you still there? I'm here whenever you're ready."
	PromptClarification = "Sorry, I didn't quite catch that. Could you say it again?"
	PromptAgentFailure  = "Sorry, I ran into a problem with that request. Please try again."
	PromptTaskFailure   = "Sorry, I couldn't complete that request."
)

type Config struct {
	// ConfidenceThreshold rejects final transcripts scoring below it. nil
	// means DefaultConfidenceThreshold; 0 accepts every transcript.
	ConfidenceThreshold *float64
	// InactivityPrompt is the silence after which a soft prompt is sent.
	InactivityPrompt time.Duration
	// InactivityTimeout, measured from the last inbound event, ends the
	// session with reason timeout.
	InactivityTimeout time.Duration
	MaxDuration       time.Duration
	// Retention keeps ended sessions readable before Reap removes them.
	Retention    time.Duration
	InboundQueue int
	RecentEvents int
	// CloseTimeout bounds how long ending a session waits for its tasks.
	CloseTimeout time.Duration
	// ContextWindow is reported to clients; the window itself is sized by
	// the contextwin.Manager.
	ContextWindow int
	Tasks         tasks.Config
}

// Threshold returns a ConfidenceThreshold value.
func Threshold(v float64) *float64 { return &v }

func (c Config) threshold() float64 { return *c.ConfidenceThreshold }

func (c Config) withDefaults() Config {
	switch {
	case c.ConfidenceThreshold == nil:
		c.ConfidenceThreshold = Threshold(DefaultConfidenceThreshold)
	case *c.ConfidenceThreshold < 0:
		c.ConfidenceThreshold = Threshold(0)
	}
	if c.InactivityPrompt <= 0 {
		c.InactivityPrompt = DefaultInactivityPrompt
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.InactivityTimeout < c.InactivityPrompt {
		c.InactivityTimeout = c.InactivityPrompt
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = DefaultInboundQueue
	}
	if c.RecentEvents <= 0 {
		c.RecentEvents = DefaultRecentEvents
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.Tasks.QueueDepth <= 0 {
		c.Tasks.QueueDepth = tasks.DefaultQueueDepth
	}
	if c.Tasks.MaxConcurrent <= 0 {
		c.Tasks.MaxConcurrent = tasks.DefaultMaxConcurrent
	}
	return c
}

// Dependencies are shared by every session of a Manager.
type Dependencies struct {
	Logger  *slog.Logger
	Emitter *events.Emitter
	Context *contextwin.Manager
	Agents  *agent.Registry
	Toolbox *tasks.Toolbox
	// Guards supplies the "agent" and "tools" guards. May be nil.
	Guards      *resilience.Set
	Transcriber *stt.Transcriber
	// Speaker may be nil, in which case replies are text-only.
	Speaker *tts.Speaker
	Now     func() time.Time
}

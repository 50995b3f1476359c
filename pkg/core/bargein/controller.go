// Package bargein tracks synthesized playback for a session and decides
// when incoming user audio must cut it over.
package bargein

import (
	"sync"
	"time"
)

// Reasons reported on barge_in events.
const (
	ReasonUserSpeech    = "user_speech"
	ReasonClientRequest = "client_request"
)

// canceledCap bounds how many canceled playback ids are remembered.
const canceledCap = 64

// Decision describes one barge-in.
type Decision struct {
	Reason      string
	PlaybackID  string
	UtteranceID string // utterance the interrupted playback answered
	At          time.Time
}

// Controller is owned by one session loop. Canceled may be called from
// other goroutines (the outbound writer).
type Controller struct {
	now func() time.Time

	mu          sync.Mutex
	active      bool
	playbackID  string
	utteranceID string
	pending     bool
	canceled    map[string]struct{}
	order       []string
	count       int
}

func New() *Controller {
	return &Controller{now: time.Now, canceled: make(map[string]struct{})}
}

// Start marks playbackID as the active playback answering utteranceID.
func (c *Controller) Start(playbackID, utteranceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.playbackID = playbackID
	c.utteranceID = utteranceID
}

// Finish clears the active playback if it is playbackID.
func (c *Controller) Finish(playbackID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && c.playbackID == playbackID {
		c.active = false
		c.playbackID = ""
		c.utteranceID = ""
	}
}

// Active reports whether synthesized audio is playing.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// PlaybackID returns the active playback, or "".
func (c *Controller) PlaybackID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playbackID
}

// OnAudio is called for every inbound audio frame. It returns a decision
// when the frame interrupts an active playback.
func (c *Controller) OnAudio() (Decision, bool) {
	return c.Interrupt(ReasonUserSpeech)
}

// Interrupt cuts the active playback over. It returns false when nothing
// is playing.
func (c *Controller) Interrupt(reason string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return Decision{}, false
	}
	d := Decision{
		Reason:      reason,
		PlaybackID:  c.playbackID,
		UtteranceID: c.utteranceID,
		At:          c.now(),
	}
	c.cancelLocked(c.playbackID)
	c.active = false
	c.playbackID = ""
	c.utteranceID = ""
	c.pending = true
	c.count++
	return d, true
}

func (c *Controller) cancelLocked(id string) {
	if id == "" {
		return
	}
	if _, ok := c.canceled[id]; ok {
		return
	}
	c.canceled[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > canceledCap {
		delete(c.canceled, c.order[0])
		c.order = c.order[1:]
	}
}

// Canceled reports whether chunks of playbackID must be dropped.
func (c *Controller) Canceled(playbackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.canceled[playbackID]
	return ok
}

// TakeInterruption reports whether a barge-in happened since the last call.
// The utterance captured from the interrupting audio is the one flagged.
func (c *Controller) TakeInterruption() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = false
	return p
}

// Count returns how many barge-ins occurred.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

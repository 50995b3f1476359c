// Package events defines the outbound event taxonomy of a voice session and
// the structured error emitter shared by every component.
package events

import "time"

// Type is an outbound event kind.
type Type string

const (
	TypeSessionStarted      Type = "session_started"
	TypeSessionEnded        Type = "session_ended"
	TypeTranscriptPartial   Type = "transcript_partial"
	TypeTranscriptFinal     Type = "transcript_final"
	TypeAgentMessage        Type = "agent_message"
	TypeAudioResponse       Type = "audio_response"
	TypeTaskStarted         Type = "task_started"
	TypeTaskProgress        Type = "task_progress"
	TypeTaskCompleted       Type = "task_completed"
	TypeAgentPlan           Type = "agent_plan"
	TypeClarificationNeeded Type = "clarification_needed"
	TypeBargeIn             Type = "barge_in"
	TypeError               Type = "error"
)

// Outbound is one event produced by a session loop, before wire encoding.
type Outbound struct {
	Type          Type
	SessionID     string
	CorrelationID string
	Timestamp     time.Time
	Data          any

	// PlaybackID is set on audio_response events so a transport can drop
	// chunks that belong to an interrupted playback.
	PlaybackID string
	// Priority events may overtake queued audio on the wire, never other
	// events.
	Priority bool
}

type SessionStartedData struct {
	SessionID           string    `json:"session_id"`
	StartTime           time.Time `json:"start_time"`
	Version             string    `json:"version"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	ContextWindow       int       `json:"context_window"`
	TaskQueueDepth      int       `json:"task_queue_depth"`
}

type SessionEndedData struct {
	SessionID      string    `json:"session_id"`
	Reason         string    `json:"reason"`
	EndTime        time.Time `json:"end_time"`
	DurationMs     int64     `json:"duration_ms"`
	UtteranceCount int       `json:"utterance_count"`
	TaskCount      int       `json:"task_count"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksFailed    int       `json:"tasks_failed"`
	TasksCanceled  int       `json:"tasks_canceled"`
}

type TranscriptData struct {
	UtteranceID string  `json:"utterance_id,omitempty"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Final       bool    `json:"final"`
	Interrupted bool    `json:"interrupted,omitempty"`
}

// Agent message kinds.
const (
	MessageResponse         = "response"
	MessageInactivityPrompt = "inactivity_prompt"
	MessageInterruption     = "interruption"
	MessageFallback         = "fallback"
)

type AgentMessageData struct {
	Agent       string   `json:"agent"`
	Kind        string   `json:"kind"`
	Text        string   `json:"text"`
	UtteranceID string   `json:"utterance_id,omitempty"`
	TaskIDs     []string `json:"task_ids,omitempty"`
}

type AudioResponseData struct {
	PlaybackID string `json:"playback_id"`
	Sequence   int    `json:"sequence"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Payload    []byte `json:"payload,omitempty"`
	Final      bool   `json:"final"`
}

type TaskData struct {
	TaskID        string `json:"task_id"`
	Agent         string `json:"agent,omitempty"`
	Description   string `json:"description,omitempty"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	Message       string `json:"message,omitempty"`
	ResultSummary string `json:"result_summary,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
}

type PlanStep struct {
	Tool string `json:"tool"`
}

type AgentPlanData struct {
	Agent       string     `json:"agent"`
	Intent      string     `json:"intent"`
	Summary     string     `json:"summary,omitempty"`
	UtteranceID string     `json:"utterance_id,omitempty"`
	Steps       []PlanStep `json:"steps,omitempty"`
}

type ClarificationData struct {
	UtteranceID string  `json:"utterance_id,omitempty"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Threshold   float64 `json:"threshold"`
	Prompt      string  `json:"prompt"`
}

type BargeInData struct {
	Reason      string `json:"reason"`
	PlaybackID  string `json:"playback_id,omitempty"`
	UtteranceID string `json:"utterance_id,omitempty"`
}

// Package tasks runs background work derived from agent plans. Each session
// owns one Executor; tasks reference their session by id only.
package tasks

import (
	"fmt"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// CanTransition reports whether s → to is a legal move:
// queued → running → {succeeded, failed, canceled}.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed || to == StatusCanceled
	default:
		return false
	}
}

const (
	maxResultSummary = 2048
	maxErrorCode     = 128
)

// Task is a unit of background work. Values returned by the Executor are
// snapshots.
type Task struct {
	ID               string           `json:"id"`
	SessionID        string           `json:"session_id"`
	OriginatingAgent string           `json:"originating_agent"`
	Description      string           `json:"description"`
	Status           Status           `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Progress         int              `json:"progress"`
	ResultSummary    string           `json:"result_summary,omitempty"`
	ErrorCode        string           `json:"error_code,omitempty"`
	Invocations      []ToolInvocation `json:"invocations,omitempty"`
}

func (t *Task) transition(to Status, now time.Time) error {
	if !t.Status.CanTransition(to) {
		return core.ErrInvalidTransition.With("task %s: %s -> %s", t.ID, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// finish moves a running task to a terminal state.
func (t *Task) finish(to Status, summary string, code core.Code, now time.Time) error {
	if err := t.transition(to, now); err != nil {
		return err
	}
	t.ResultSummary = truncate(summary, maxResultSummary)
	t.ErrorCode = truncate(string(code), maxErrorCode)
	if to == StatusSucceeded {
		t.Progress = 100
	}
	return nil
}

func (t Task) clone() Task {
	if t.Invocations != nil {
		t.Invocations = append([]ToolInvocation(nil), t.Invocations...)
	}
	return t
}

func (t Task) String() string {
	return fmt.Sprintf("task %s (%s, %d%%)", t.ID, t.Status, t.Progress)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Outcome of a tool invocation.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// ToolInvocation records one tool call. Parameters are sanitized before
// they are stored.
type ToolInvocation struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	ToolName      string         `json:"tool_name"`
	Parameters    map[string]any `json:"parameters"`
	OutcomeStatus string         `json:"outcome_status"`
	Duration      time.Duration  `json:"duration"`
	Timestamp     time.Time      `json:"timestamp"`
	Error         string         `json:"error,omitempty"`
}

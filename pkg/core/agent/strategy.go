// Package agent turns recognized utterances into plans: a spoken reply and,
// for task-worthy intents, a list of tool steps executed in the background.
package agent

import (
	"context"
	"errors"
	"slices"

	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Profile describes an agent and the tools it may call.
type Profile struct {
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	Purpose      string   `json:"purpose" yaml:"purpose"`
	AllowedTools []string `json:"allowed_tools" yaml:"allowed_tools"`
}

// CanUseTool reports whether the agent is allowed to call tool.
func (p Profile) CanUseTool(tool string) bool {
	return slices.Contains(p.AllowedTools, tool)
}

// ToolStep is one tool call in a plan.
type ToolStep struct {
	Tool   string         `json:"tool" yaml:"tool"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Plan is a strategy's answer to an utterance.
type Plan struct {
	Agent   string     `json:"agent"`
	Intent  string     `json:"intent"`
	Summary string     `json:"summary,omitempty"`
	Reply   string     `json:"reply,omitempty"`
	Steps   []ToolStep `json:"steps,omitempty"`
}

// TaskWorthy reports whether the plan needs a background task.
func (p Plan) TaskWorthy() bool { return len(p.Steps) > 0 }

// Tools lists the tool names in step order.
func (p Plan) Tools() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Tool
	}
	return out
}

// Strategy is one way of answering utterances.
type Strategy interface {
	Name() string
	Profile() Profile
	// CanHandle reports whether the strategy wants u. Registry selection
	// asks strategies in registration order.
	CanHandle(u types.Utterance) bool
	// Process builds a plan from u and the session's recent turns.
	Process(ctx context.Context, u types.Utterance, window []contextwin.Turn) (Plan, error)
	// HandleInterruption returns the reply spoken after a barge-in, or "".
	HandleInterruption(ctx context.Context) string
}

var (
	ErrStrategyNotFound = errors.New("agent strategy not found")
	ErrStrategyExists   = errors.New("agent strategy already registered")
	ErrEmptyName        = errors.New("agent strategy name is empty")
)

package agent

import (
	"context"

	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Echo repeats the utterance back. It never plans tasks.
type Echo struct {
	profile Profile
}

func NewEcho() *Echo {
	return &Echo{profile: Profile{
		Name:         "echo",
		Version:      "1.0.0",
		Purpose:      "Echo agent for testing and fallback",
		AllowedTools: []string{"echo"},
	}}
}

func (e *Echo) Name() string     { return e.profile.Name }
func (e *Echo) Profile() Profile { return e.profile }

// CanHandle is false: echo only answers as the registry default.
func (e *Echo) CanHandle(u types.Utterance) bool { return false }

func (e *Echo) Process(ctx context.Context, u types.Utterance, window []contextwin.Turn) (Plan, error) {
	return Plan{
		Agent:  e.profile.Name,
		Intent: "echo",
		Reply:  "I heard you say: " + u.Text,
	}, nil
}

func (e *Echo) HandleInterruption(ctx context.Context) string {
	return "I understand you want to say something else."
}

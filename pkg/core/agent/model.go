package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/redact"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Generator produces a JSON plan from a prompt and the conversation so far.
type Generator interface {
	Generate(ctx context.Context, system string, window []contextwin.Turn, text string) (string, error)
}

// Model asks a language model for a plan. The model must answer with a JSON
// object {intent, summary, reply, steps:[{tool, params}]}; steps naming tools
// outside the profile are dropped.
type Model struct {
	profile   Profile
	generator Generator
}

func NewModel(profile Profile, generator Generator) *Model {
	if profile.Name == "" {
		profile.Name = "model"
	}
	return &Model{profile: profile, generator: generator}
}

func (m *Model) Name() string     { return m.profile.Name }
func (m *Model) Profile() Profile { return m.profile }

// CanHandle accepts everything; register the model strategy last or make it
// the default.
func (m *Model) CanHandle(u types.Utterance) bool { return strings.TrimSpace(u.Text) != "" }

func (m *Model) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a voice assistant. ")
	if m.profile.Purpose != "" {
		b.WriteString(m.profile.Purpose)
		b.WriteString(". ")
	}
	b.WriteString("Reply with a single JSON object with fields intent (string), summary (string), ")
	b.WriteString("reply (a short spoken sentence) and steps (array of {tool, params}). ")
	b.WriteString("Only plan steps when background work is needed. Available tools: ")
	b.WriteString(strings.Join(m.profile.AllowedTools, ", "))
	b.WriteString(".")
	return b.String()
}

type modelPlan struct {
	Intent  string     `json:"intent"`
	Summary string     `json:"summary"`
	Reply   string     `json:"reply"`
	Steps   []ToolStep `json:"steps"`
}

func (m *Model) Process(ctx context.Context, u types.Utterance, window []contextwin.Turn) (Plan, error) {
	// The session records the utterance before planning.
	if n := len(window); n > 0 && window[n-1].Role == contextwin.RoleUser && window[n-1].ID == u.ID {
		window = window[:n-1]
	}
	raw, err := m.generator.Generate(ctx, m.systemPrompt(), window, u.Text)
	if err != nil {
		return Plan{}, err
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var mp modelPlan
	if err := json.Unmarshal([]byte(raw), &mp); err != nil {
		return Plan{}, fmt.Errorf("decode model plan: %w (response: %s)", err, redact.ForLog(raw, 0))
	}
	plan := Plan{
		Agent:   m.profile.Name,
		Intent:  mp.Intent,
		Summary: mp.Summary,
		Reply:   mp.Reply,
	}
	if plan.Intent == "" {
		plan.Intent = "respond"
	}
	for _, step := range mp.Steps {
		if m.profile.CanUseTool(step.Tool) {
			plan.Steps = append(plan.Steps, step)
		}
	}
	return plan, nil
}

func (m *Model) HandleInterruption(ctx context.Context) string {
	return "Sorry, go ahead."
}

// Gemini generates plans with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed generator.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Generate(ctx context.Context, system string, window []contextwin.Turn, text string) (string, error) {
	contents := make([]*genai.Content, 0, len(window)+1)
	for _, t := range window {
		role := genai.Role(genai.RoleUser)
		if t.Role == contextwin.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

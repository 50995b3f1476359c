package agent

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Rule maps keywords to a plan.
type Rule struct {
	Name     string     `yaml:"name"`
	Keywords []string   `yaml:"keywords"`
	Intent   string     `yaml:"intent"`
	Summary  string     `yaml:"summary"`
	Reply    string     `yaml:"reply"`
	Steps    []ToolStep `yaml:"steps"`
}

// Script is the on-disk form of a scripted agent.
type Script struct {
	Agent Profile `yaml:"agent"`
	Rules []Rule  `yaml:"rules"`
}

// Validate checks that every rule can match and only plans allowed tools.
func (s *Script) Validate() error {
	if s.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}
	for i, r := range s.Rules {
		if len(r.Keywords) == 0 {
			return fmt.Errorf("rules[%d] (%s): keywords must not be empty", i, r.Name)
		}
		if r.Intent == "" {
			return fmt.Errorf("rules[%d] (%s): intent is required", i, r.Name)
		}
		for _, step := range r.Steps {
			if !s.Agent.CanUseTool(step.Tool) {
				return fmt.Errorf("rules[%d] (%s): tool %q is not in allowed_tools", i, r.Name, step.Tool)
			}
		}
	}
	return nil
}

// ParseScript decodes and validates a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse agent script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent script: %w", err)
	}
	return &s, nil
}

// LoadScript reads a script from path, or the built-in rules when path is
// empty.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return ParseScript(defaultRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent script: %w", err)
	}
	return ParseScript(data)
}

// Scripted answers utterances by keyword rules. Rules are tried in order;
// the first one with a keyword contained in the utterance wins.
type Scripted struct {
	script *Script
}

func NewScripted(script *Script) *Scripted {
	return &Scripted{script: script}
}

func (s *Scripted) Name() string     { return s.script.Agent.Name }
func (s *Scripted) Profile() Profile { return s.script.Agent }

func (s *Scripted) match(text string) *Rule {
	text = strings.ToLower(text)
	for i := range s.script.Rules {
		for _, kw := range s.script.Rules[i].Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return &s.script.Rules[i]
			}
		}
	}
	return nil
}

func (s *Scripted) CanHandle(u types.Utterance) bool {
	return s.match(u.Text) != nil
}

func (s *Scripted) Process(ctx context.Context, u types.Utterance, window []contextwin.Turn) (Plan, error) {
	r := s.match(u.Text)
	if r == nil {
		return Plan{}, fmt.Errorf("scripted agent %q: no rule matches", s.Name())
	}
	plan := Plan{
		Agent:   s.Name(),
		Intent:  r.Intent,
		Summary: r.Summary,
		Reply:   r.Reply,
		Steps:   make([]ToolStep, len(r.Steps)),
	}
	for i, step := range r.Steps {
		plan.Steps[i] = ToolStep{Tool: step.Tool, Params: expandParams(step.Params, u.Text)}
	}
	return plan, nil
}

func (s *Scripted) HandleInterruption(ctx context.Context) string {
	return "Okay, go ahead."
}

// "{{text}}" in a string parameter becomes the utterance text.
func expandParams(params map[string]any, text string) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if str, ok := v.(string); ok {
			v = strings.ReplaceAll(str, "{{text}}", text)
		}
		out[k] = v
	}
	return out
}

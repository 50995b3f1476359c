package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/vango-go/vai-voice/pkg/core"
)

// Progress lets a tool report partial completion of its own work (0-100).
type Progress func(percent int, message string)

// Tool is one callable capability.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, params map[string]any, report Progress) (string, error)
}

// Toolbox is the set of tools tasks may call.
type Toolbox struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolbox() *Toolbox {
	return &Toolbox{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (b *Toolbox) Register(t Tool) {
	b.mu.Lock()
	b.tools[t.Name()] = t
	b.mu.Unlock()
}

func (b *Toolbox) Get(name string) (Tool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (b *Toolbox) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.tools))
	for name := range b.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DecodeParams decodes a plan step's parameters into a typed struct using
// its `json` tags. Unknown keys are rejected.
func DecodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return core.NewPermanentError(core.CodeToolFailed, "tools", "invalid tool parameters", err)
	}
	return nil
}

// simulated is the shared shape of the built-in tools: decode parameters,
// wait out a simulated backend call while reporting progress, then answer.
type simulated[P any] struct {
	name        string
	description string
	delay       time.Duration
	answer      func(P) (string, error)
}

func (s *simulated[P]) Name() string        { return s.name }
func (s *simulated[P]) Description() string { return s.description }

func (s *simulated[P]) Run(ctx context.Context, params map[string]any, report Progress) (string, error) {
	var p P
	if err := DecodeParams(params, &p); err != nil {
		return "", err
	}
	if s.delay > 0 {
		half := s.delay / 2
		if err := sleep(ctx, half); err != nil {
			return "", err
		}
		if report != nil {
			report(50, s.name+" in progress")
		}
		if err := sleep(ctx, s.delay-half); err != nil {
			return "", err
		}
	}
	return s.answer(p)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type echoParams struct {
	Message string `json:"message"`
	Text    string `json:"text"`
}

type statusParams struct {
	Subject string `json:"subject"`
}

type lookupParams struct {
	Query string `json:"query"`
}

type actionParams struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
}

type balanceParams struct {
	Account string `json:"account"`
}

// Simulated account balances, in cents.
var balances = map[string]int64{
	"primary": 123456,
	"savings": 987600,
}

// RegisterBuiltins adds the built-in tools. delay is the simulated backend
// latency of each call.
func RegisterBuiltins(b *Toolbox, delay time.Duration) {
	b.Register(&simulated[echoParams]{
		name:        "echo",
		description: "Repeat a message back",
		delay:       delay,
		answer: func(p echoParams) (string, error) {
			msg := p.Message
			if msg == "" {
				msg = p.Text
			}
			if msg == "" {
				msg = "No message"
			}
			return "Echo: " + msg, nil
		},
	})
	b.Register(&simulated[statusParams]{
		name:        "status_check",
		description: "Check the status of an order or request",
		delay:       delay,
		answer: func(p statusParams) (string, error) {
			if p.Subject == "" {
				return "All systems operational", nil
			}
			return fmt.Sprintf("Status for %q: in progress, no issues reported", p.Subject), nil
		},
	})
	b.Register(&simulated[lookupParams]{
		name:        "information_lookup",
		description: "Look up information for a query",
		delay:       delay,
		answer: func(p lookupParams) (string, error) {
			if strings.TrimSpace(p.Query) == "" {
				return "", core.NewPermanentError(core.CodeToolFailed, "tools", "query is required", nil)
			}
			return fmt.Sprintf("Information lookup for %q: no matching records", p.Query), nil
		},
	})
	b.Register(&simulated[actionParams]{
		name:        "placeholder_action",
		description: "Perform a generic action",
		delay:       delay,
		answer: func(p actionParams) (string, error) {
			if p.Action == "" {
				p.Action = "requested action"
			}
			return fmt.Sprintf("Action %q executed", p.Action), nil
		},
	})
	b.Register(&simulated[balanceParams]{
		name:        "account_balance",
		description: "Read the balance of a caller's account",
		delay:       delay,
		answer: func(p balanceParams) (string, error) {
			account := p.Account
			if account == "" {
				account = "primary"
			}
			cents, ok := balances[account]
			if !ok {
				return "", core.NewPermanentError(core.CodeToolFailed, "tools", fmt.Sprintf("unknown account %q", account), nil)
			}
			return fmt.Sprintf("Your %s account balance is $%d.%02d", account, cents/100, cents%100), nil
		},
	})
}

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/vango-go/vai-voice/pkg/core"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// BreakerConfig controls when a breaker trips and how long it stays open.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker after this many failures in a row.
	ConsecutiveFailures int
	// FailureRate opens the breaker when the failure ratio inside Window
	// exceeds it, once at least MinRequests outcomes were observed.
	FailureRate float64
	Window      time.Duration
	MinRequests int
	// Cooldown is how long the breaker stays open before allowing a trial call.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns 5 consecutive failures or >50% over 60s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		FailureRate:         0.5,
		Window:              60 * time.Second,
		MinRequests:         10,
		Cooldown:            30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if c.FailureRate <= 0 || c.FailureRate > 1 {
		c.FailureRate = def.FailureRate
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.MinRequests <= 0 {
		c.MinRequests = def.MinRequests
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	return c
}

// windowBuckets splits the rolling window.
const windowBuckets = 10

// Breaker is a closed/open/half-open circuit breaker over one dependency.
// Outcomes of calls admitted before a state change are ignored, and errors
// the caller caused do not count against the dependency.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[struct{}]

	mu       sync.Mutex
	onChange func(name string, from, to State)
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{name: name}

	bucket := cfg.Window / windowBuckets
	if bucket <= 0 {
		bucket = cfg.Window
	}
	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:         name,
		MaxRequests:  1,
		Interval:     bucket * windowBuckets,
		BucketPeriod: bucket,
		Timeout:      cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if int(c.ConsecutiveFailures) >= cfg.ConsecutiveFailures {
				return true
			}
			if int(c.Requests) < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) > cfg.FailureRate
		},
		IsSuccessful: func(err error) bool { return !countsAgainst(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.mu.Lock()
			hook := b.onChange
			b.mu.Unlock()
			if hook != nil {
				hook(name, stateOf(from), stateOf(to))
			}
		},
	})
	return b
}

// countsAgainst reports whether err says the dependency is unhealthy.
// Cancellation and caller mistakes (permanent core errors, 4xx statuses
// other than 408 and 429) do not.
func countsAgainst(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ce *core.Error
	if errors.As(err, &ce) && ce != nil {
		return ce.Class != core.ClassPermanent
	}
	var se *StatusError
	if errors.As(err, &se) && se != nil && se.Status >= 400 && se.Status < 500 {
		return se.Status == 408 || se.Status == 429
	}
	return true
}

// OnStateChange registers a hook called on every transition. The hook must
// not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Name returns the dependency name the breaker protects.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State { return stateOf(b.cb.State()) }

// Execute runs op if the breaker admits it and records the outcome. While
// the breaker is open, or a half-open trial call is in flight, op is not run and
// the error is SERVICE_UNAVAILABLE.
func (b *Breaker) Execute(op func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return b.openErr(err)
	}
	return err
}

// Snapshot is a point-in-time view used by readiness reporting.
type Snapshot struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	WindowCalls         int    `json:"window_calls"`
	WindowFailures      int    `json:"window_failures"`
}

func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	c := b.cb.Counts()
	return Snapshot{
		Name:                b.name,
		State:               state.String(),
		ConsecutiveFailures: int(c.ConsecutiveFailures),
		WindowCalls:         int(c.Requests),
		WindowFailures:      int(c.TotalFailures),
	}
}

func (b *Breaker) openErr(cause error) error {
	return &core.Error{
		Code:      core.CodeServiceUnavailable,
		Class:     core.ClassPermanent,
		Component: b.name,
		Message:   "circuit breaker open",
		Err:       cause,
	}
}

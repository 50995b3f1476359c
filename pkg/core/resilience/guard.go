package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-voice/pkg/core"
)

// RetryPolicy controls retries of transient failures.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Indicators are extra lower-case substrings that mark an error transient.
	Indicators []string
}

// DefaultRetryPolicy is two retries, 1s base delay doubling, 60s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return retry.WithMaxRetries(uint64(maxRetries), b)
}

// CallError is returned by Guard.Do when the guarded call did not succeed.
type CallError struct {
	Guard    string
	Attempts int
	// Exhausted is set when the last error was transient but the retry
	// budget ran out.
	Exhausted bool
	// BreakerOpen is set when the breaker refused an attempt.
	BreakerOpen bool
	Err         error
}

func (e *CallError) Error() string {
	switch {
	case e.BreakerOpen:
		return fmt.Sprintf("%s: circuit open after %d attempt(s): %v", e.Guard, e.Attempts, e.Err)
	case e.Exhausted:
		return fmt.Sprintf("%s: retries exhausted after %d attempt(s): %v", e.Guard, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Guard, e.Err)
	}
}

func (e *CallError) Unwrap() error { return e.Err }

// RetryPossible reports whether retrying later could help: the error was
// transient and neither the retry budget nor the breaker stopped it.
func (e *CallError) RetryPossible() bool {
	return !e.Exhausted && !e.BreakerOpen && IsTransient(e.Err)
}

// Guard protects one external dependency. The breaker is consulted before
// every attempt, and retries happen inside the breaker's budget: once the
// breaker opens, no further attempts are made.
type Guard struct {
	name    string
	breaker *Breaker
	policy  RetryPolicy
	logger  *slog.Logger
}

// NewGuard creates a guard with its own breaker.
func NewGuard(name string, policy RetryPolicy, breaker BreakerConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		name:    name,
		breaker: NewBreaker(name, breaker),
		policy:  policy,
		logger:  logger,
	}
	g.breaker.OnStateChange(func(name string, from, to State) {
		g.logger.Warn("circuit breaker state change", "dependency", name, "from", from.String(), "to", to.String())
	})
	return g
}

func (g *Guard) Name() string      { return g.name }
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Do runs op under the breaker and retry policy.
func (g *Guard) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := 0
	breakerOpen := false
	var lastTransient bool

	err := retry.Do(ctx, g.policy.backoff(), func(ctx context.Context) error {
		ran := false
		err := g.breaker.Execute(func() error {
			ran = true
			attempts++
			return op(ctx)
		})
		if err == nil {
			return nil
		}
		if !ran {
			breakerOpen = true
			return err
		}
		lastTransient = IsTransient(err, g.policy.Indicators...)
		if lastTransient {
			if attempts <= g.policy.MaxRetries {
				g.logger.Debug("retrying transient failure", "dependency", g.name, "attempt", attempts, "error", err)
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	return &CallError{
		Guard:       g.name,
		Attempts:    attempts,
		Exhausted:   !breakerOpen && lastTransient && attempts > g.policy.MaxRetries,
		BreakerOpen: breakerOpen,
		Err:         err,
	}
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, g *Guard, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsBreakerOpen reports whether err came from an open breaker.
func IsBreakerOpen(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) && ce.BreakerOpen {
		return true
	}
	return core.CodeOf(err) == core.CodeServiceUnavailable
}

// Set holds one Guard per named dependency.
type Set struct {
	mu       sync.Mutex
	guards   map[string]*Guard
	policies map[string]RetryPolicy
	policy   RetryPolicy
	breaker  BreakerConfig
	logger   *slog.Logger
}

// NewSet creates guards lazily with the given defaults. overrides replaces
// the retry policy for specific dependency names.
func NewSet(policy RetryPolicy, breaker BreakerConfig, overrides map[string]RetryPolicy, logger *slog.Logger) *Set {
	return &Set{
		guards:   make(map[string]*Guard),
		policies: overrides,
		policy:   policy,
		breaker:  breaker,
		logger:   logger,
	}
}

// Get returns the guard for name, creating it on first use.
func (s *Set) Get(name string) *Guard {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guards[name]; ok {
		return g
	}
	policy := s.policy
	if p, ok := s.policies[name]; ok {
		policy = p
	}
	g := NewGuard(name, policy, s.breaker, s.logger)
	s.guards[name] = g
	return g
}

// Snapshots returns breaker snapshots sorted by name.
func (s *Set) Snapshots() []Snapshot {
	s.mu.Lock()
	guards := make([]*Guard, 0, len(s.guards))
	for _, g := range s.guards {
		guards = append(guards, g)
	}
	s.mu.Unlock()

	out := make([]Snapshot, 0, len(guards))
	for _, g := range guards {
		out = append(out, g.breaker.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

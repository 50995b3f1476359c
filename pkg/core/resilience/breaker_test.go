package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
)

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func run(t *testing.T, b *Breaker, outcomes ...error) {
	t.Helper()
	for i, out := range outcomes {
		out := out
		ran := false
		err := b.Execute(func() error { ran = true; return out })
		if !ran {
			t.Fatalf("call %d rejected: %v", i, err)
		}
	}
}

func repeat(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

func TestBreaker_OpensAfterFiveConsecutiveFailures(t *testing.T) {
	b := NewBreaker("stt", BreakerConfig{Cooldown: time.Hour})

	for i := 0; i < 5; i++ {
		run(t, b, errBoom)
		if i < 4 && b.State() != StateClosed {
			t.Fatalf("state after %d failures=%v, want closed", i+1, b.State())
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state=%v, want open", b.State())
	}
	ran := false
	err := b.Execute(func() error { ran = true; return nil })
	if ran {
		t.Fatalf("6th call reached the dependency")
	}
	if core.CodeOf(err) != core.CodeServiceUnavailable {
		t.Fatalf("err=%v, want SERVICE_UNAVAILABLE", err)
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := NewBreaker("stt", BreakerConfig{MinRequests: 100})

	run(t, b, repeat(errBoom, 4)...)
	run(t, b, nil)
	run(t, b, repeat(errBoom, 4)...)
	if b.State() != StateClosed {
		t.Fatalf("state=%v, want closed", b.State())
	}
}

func TestBreaker_CallerErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("tools", BreakerConfig{Cooldown: time.Hour})

	notAllowed := core.NewPermanentError(core.CodeToolNotAllowed, "tools", "agent may not use tool", nil)
	run(t, b, repeat(notAllowed, 5)...)
	run(t, b, repeat(error(&StatusError{Status: 400}), 5)...)
	if b.State() != StateClosed {
		t.Fatalf("state=%v, want closed after caller errors", b.State())
	}
	if snap := b.Snapshot(); snap.WindowFailures != 0 {
		t.Fatalf("window failures=%d, want 0", snap.WindowFailures)
	}

	// Throttling is the dependency's signal and does count.
	run(t, b, repeat(error(&StatusError{Status: 429}), 5)...)
	if b.State() != StateOpen {
		t.Fatalf("state=%v, want open after 429s", b.State())
	}
}

func tripped(t *testing.T, cooldown time.Duration) *Breaker {
	t.Helper()
	b := NewBreaker("stt", BreakerConfig{ConsecutiveFailures: 1, Cooldown: cooldown})
	run(t, b, errBoom)
	if b.State() != StateOpen {
		t.Fatalf("state=%v, want open", b.State())
	}
	return b
}

func waitHalfOpen(t *testing.T, b *Breaker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.State() != StateHalfOpen {
		if time.Now().After(deadline) {
			t.Fatalf("breaker never went half-open, state=%v", b.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBreaker_HalfOpenAllowsOneTrialCall(t *testing.T) {
	b := tripped(t, 20*time.Millisecond)
	if err := b.Execute(succeed); err == nil {
		t.Fatalf("expected rejection during cooldown")
	}
	waitHalfOpen(t, b)

	started, release := make(chan struct{}), make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ran := false
	if err := b.Execute(func() error { ran = true; return nil }); err == nil || ran {
		t.Fatalf("second concurrent trial call admitted: err=%v ran=%v", err, ran)
	}

	close(release)
	if err := <-trialDone; err != nil {
		t.Fatalf("trial call error: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state=%v, want closed after successful trial call", b.State())
	}
}

func TestBreaker_FailedTrialCallReopens(t *testing.T) {
	b := tripped(t, 20*time.Millisecond)
	waitHalfOpen(t, b)

	run(t, b, errBoom)
	if b.State() != StateOpen {
		t.Fatalf("state=%v, want open", b.State())
	}
	if err := b.Execute(succeed); err == nil {
		t.Fatalf("expected rejection right after failed trial call")
	}
}

// A slow call admitted while closed must not decide the half-open trial.
func TestBreaker_IgnoresOutcomesFromBeforeTheTrip(t *testing.T) {
	for _, late := range []error{errBoom, nil} {
		b := NewBreaker("stt", BreakerConfig{ConsecutiveFailures: 1, Cooldown: 20 * time.Millisecond})

		started, release := make(chan struct{}), make(chan struct{})
		slowDone := make(chan struct{})
		go func() {
			defer close(slowDone)
			_ = b.Execute(func() error {
				close(started)
				<-release
				return late
			})
		}()
		<-started

		run(t, b, errBoom)
		waitHalfOpen(t, b)

		close(release)
		<-slowDone
		if b.State() != StateHalfOpen {
			t.Fatalf("late outcome %v moved the breaker to %v", late, b.State())
		}

		run(t, b, nil)
		if b.State() != StateClosed {
			t.Fatalf("state=%v, want closed after the real trial call", b.State())
		}
	}
}

func TestBreaker_OpensOnFailureRateInWindow(t *testing.T) {
	b := NewBreaker("stt", BreakerConfig{MinRequests: 10, Window: time.Minute, Cooldown: time.Hour})

	// Alternate so consecutive failures never reach 5; 6/10 failed > 50%.
	run(t, b, nil, errBoom, errBoom, nil, errBoom, errBoom, nil, errBoom, nil, errBoom)
	if b.State() != StateOpen {
		t.Fatalf("state=%v, want open", b.State())
	}
}

func TestBreaker_WindowForgetsOldOutcomes(t *testing.T) {
	b := NewBreaker("stt", BreakerConfig{MinRequests: 4, Window: 100 * time.Millisecond, Cooldown: time.Hour})

	run(t, b, errBoom, errBoom, errBoom, nil)
	time.Sleep(150 * time.Millisecond)

	// 2/4 is not above the rate; with the old outcomes it would be 5/8.
	run(t, b, nil, errBoom, nil, errBoom)
	if b.State() != StateClosed {
		t.Fatalf("state=%v, want closed", b.State())
	}
}

func TestBreaker_StateChangeHook(t *testing.T) {
	b := NewBreaker("stt", BreakerConfig{ConsecutiveFailures: 1, Cooldown: time.Hour})
	var got []State
	b.OnStateChange(func(name string, from, to State) {
		if name != "stt" {
			t.Errorf("name=%q, want stt", name)
		}
		got = append(got, to)
	})
	_ = b.Execute(fail)
	if len(got) != 1 || got[0] != StateOpen {
		t.Fatalf("transitions=%v, want [open]", got)
	}
}

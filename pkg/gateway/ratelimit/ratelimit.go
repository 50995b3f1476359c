package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	// MaxConcurrentStreams caps open /v1/live connections per principal.
	MaxConcurrentStreams int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

// Limiter applies per-principal request rate and concurrency caps.
type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*principalLimiter
}

type principalLimiter struct {
	rate *rate.Limiter

	reqSem    chan struct{}
	streamSem chan struct{}

	lastSeen time.Time // guarded by Limiter.mu
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*principalLimiter),
	}
}

type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

type Decision struct {
	Allowed bool
	// RetryAfter is in whole seconds, at least 1 when denied.
	RetryAfter int
	Permit     *Permit
}

func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	pl := l.getOrCreate(principal, now)

	if pl.rate != nil {
		r := pl.rate.ReserveN(now, 1)
		if !r.OK() {
			return Decision{RetryAfter: 1}
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return Decision{RetryAfter: retryAfter(delay)}
		}
	}
	return acquire(pl.reqSem)
}

func (l *Limiter) AcquireStream(principal string, now time.Time) Decision {
	return acquire(l.getOrCreate(principal, now).streamSem)
}

func acquire(sem chan struct{}) Decision {
	if sem == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	select {
	case sem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-sem }}}
	default:
		return Decision{RetryAfter: 1}
	}
}

func retryAfter(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func (l *Limiter) getOrCreate(principal string, now time.Time) *principalLimiter {
	if principal == "" {
		principal = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if pl, ok := l.m[principal]; ok {
		pl.lastSeen = now
		return pl
	}

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	pl := &principalLimiter{lastSeen: now}
	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		pl.rate = rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)
	}
	if l.cfg.MaxConcurrentRequests > 0 {
		pl.reqSem = make(chan struct{}, l.cfg.MaxConcurrentRequests)
	}
	if l.cfg.MaxConcurrentStreams > 0 {
		pl.streamSem = make(chan struct{}, l.cfg.MaxConcurrentStreams)
	}
	l.m[principal] = pl
	return pl
}

func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		// Entries holding permits stay so their semaphores keep counting.
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL && len(v.reqSem) == 0 && len(v.streamSem) == 0 {
			delete(l.m, k)
		}
	}
}

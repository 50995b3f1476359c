package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vango-go/vai-voice/pkg/core"
)

type ctxKeyCorrelationID struct{}

// NewCorrelationID returns a fresh, time-sortable correlation id.
func NewCorrelationID() string {
	return ulid.Make().String()
}

// WithCorrelationID attaches id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID{}, id)
}

// CorrelationID returns the id carried by ctx, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKeyCorrelationID{}).(string)
	return id
}

// Observer receives every emitted ErrorEvent.
type Observer interface {
	OnError(ctx context.Context, ev ErrorEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev ErrorEvent)

func (f ObserverFunc) OnError(ctx context.Context, ev ErrorEvent) { f(ctx, ev) }

const defaultRingSize = 1000

// Emitter stamps, logs and fans out ErrorEvents. It keeps the last events in
// a bounded ring as its in-memory log sink.
type Emitter struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	observers map[int]Observer
	nextObs   int
	ring      []ErrorEvent
	ringNext  int
	ringFull  bool
	counts    map[core.Code]int
	total     int
}

// NewEmitter creates an emitter that logs to logger.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		logger:    logger,
		now:       time.Now,
		observers: make(map[int]Observer),
		ring:      make([]ErrorEvent, defaultRingSize),
		counts:    make(map[core.Code]int),
	}
}

// Subscribe registers o and returns a func that removes it.
func (e *Emitter) Subscribe(o Observer) (unsubscribe func()) {
	if e == nil || o == nil {
		return func() {}
	}
	e.mu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = o
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// Emit fills in the timestamp, correlation id and severity, logs the event
// and hands it to observers. The completed event is returned so callers can
// forward it to a client.
func (e *Emitter) Emit(ctx context.Context, ev ErrorEvent) ErrorEvent {
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.ErrorCode == "" {
		ev.ErrorCode = core.CodeInternal
	}
	if ev.Severity == "" {
		ev.Severity = DefaultSeverity(ev.ErrorCode)
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = CorrelationID(ctx)
	}
	if e == nil {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		return ev
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}

	attrs := []slog.Attr{
		slog.String("error_code", string(ev.ErrorCode)),
		slog.String("severity", string(ev.Severity)),
		slog.Bool("retry_possible", ev.RetryPossible),
		slog.String("component", ev.Context.Component),
	}
	if ev.Context.Operation != "" {
		attrs = append(attrs, slog.String("operation", ev.Context.Operation))
	}
	if ev.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", ev.SessionID))
	}
	if ev.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", ev.CorrelationID))
	}
	if ev.Message != "" {
		attrs = append(attrs, slog.String("message", ev.Message))
	}
	e.logger.LogAttrs(ctx, ev.Severity.Level(), "error event", attrs...)

	e.mu.Lock()
	e.ring[e.ringNext] = ev
	e.ringNext = (e.ringNext + 1) % len(e.ring)
	if e.ringNext == 0 {
		e.ringFull = true
	}
	e.counts[ev.ErrorCode]++
	e.total++
	observers := make([]Observer, 0, len(e.observers))
	for _, o := range e.observers {
		observers = append(observers, o)
	}
	e.mu.Unlock()

	for _, o := range observers {
		o.OnError(ctx, ev)
	}
	return ev
}

// Stats summarizes emitted events.
type Stats struct {
	Total  int            `json:"total_errors"`
	ByCode map[string]int `json:"error_codes"`
	Last   *ErrorEvent    `json:"last_error,omitempty"`
}

func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := Stats{Total: e.total, ByCode: make(map[string]int, len(e.counts))}
	for code, n := range e.counts {
		out.ByCode[string(code)] = n
	}
	if e.total > 0 {
		last := e.ring[(e.ringNext-1+len(e.ring))%len(e.ring)]
		out.Last = &last
	}
	return out
}

// Recent returns up to limit events, most recent first. A non-empty code
// filters by error code.
func (e *Emitter) Recent(limit int, code core.Code) []ErrorEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.ringNext
	if e.ringFull {
		n = len(e.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ErrorEvent, 0, limit)
	for i := 0; i < n && len(out) < limit; i++ {
		ev := e.ring[(e.ringNext-1-i+2*len(e.ring))%len(e.ring)]
		if code != "" && ev.ErrorCode != code {
			continue
		}
		out = append(out, ev)
	}
	return out
}

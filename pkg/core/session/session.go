// Package session runs voice sessions: one loop goroutine per session owns
// its state, consumes inbound events in arrival order and turns transcripts,
// agent plans, task updates and synthesized audio into ordered outbound
// events.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/bargein"
	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
	"github.com/vango-go/vai-voice/pkg/core/tasks"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

// Session is one conversation. All mutable conversation state belongs to
// its loop; the exported methods talk to the loop or read snapshots.
type Session struct {
	id     string
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time

	exec       *tasks.Executor
	barge      *bargein.Controller
	agentGuard *resilience.Guard

	ctx    context.Context
	cancel context.CancelFunc
	in     chan envelope
	done   chan struct{}
	wg     sync.WaitGroup

	// Loop-owned.
	captures   map[string]*capture
	current    *capture
	sttCh      chan captureResult
	agentQueue []pendingUtterance
	agentBusy  bool
	agentCh    chan agentResult
	replies    map[string]pendingReply
	speech     []speech
	playback   *tts.Playback
	playing    speech
	audioCh    chan playbackEvent
	inactivity *time.Timer
	prompted   bool
	ending     bool

	mu         sync.Mutex
	status     string
	startTime  time.Time
	endTime    time.Time
	endReason  string
	utterances int
	paused     bool
	sink       Sink
	recent     []events.Outbound
	summary    Summary
}

func newSession(id string, cfg Config, deps Dependencies, toolsGuard, agentGuard *resilience.Guard, sink Sink) *Session {
	logger := deps.Logger.With("session_id", id)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		now:        deps.Now,
		exec:       tasks.NewExecutor(id, cfg.Tasks, deps.Toolbox, toolsGuard, logger),
		barge:      bargein.New(),
		agentGuard: agentGuard,
		ctx:        ctx,
		cancel:     cancel,
		in:         make(chan envelope, cfg.InboundQueue),
		done:       make(chan struct{}),
		captures:   make(map[string]*capture),
		sttCh:      make(chan captureResult, 16),
		agentCh:    make(chan agentResult, 1),
		replies:    make(map[string]pendingReply),
		audioCh:    make(chan playbackEvent, 16),
		status:     types.SessionActive,
		startTime:  deps.Now(),
		sink:       sink,
	}
}

func (s *Session) ID() string { return s.id }

// Done is closed once the session has ended and its loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send queues an inbound event. It blocks while the inbound queue is full.
func (s *Session) Send(ctx context.Context, correlationID string, in Input) error {
	if correlationID == "" {
		correlationID = events.NewCorrelationID()
	}
	return s.enqueue(ctx, envelope{correlationID: correlationID, input: in})
}

// Attach routes outbound events to sink and replays session_started to it.
func (s *Session) Attach(ctx context.Context, sink Sink) error {
	return s.enqueue(ctx, envelope{correlationID: events.NewCorrelationID(), input: attachInput{sink: sink}})
}

// Detach stops delivery to sink if it is still the attached one.
func (s *Session) Detach(sink Sink) {
	s.mu.Lock()
	if s.sink == sink {
		s.sink = nil
	}
	s.mu.Unlock()
}

// End ends the session. A second call reports SESSION_ALREADY_ENDED.
func (s *Session) End(ctx context.Context, reason string) (Summary, error) {
	if reason == "" {
		reason = types.EndAPIRequest
	}
	r, err := s.call(ctx, endInput{reason: reason})
	return r.summary, err
}

// Tasks lists the session's tasks in creation order.
func (s *Session) Tasks() []tasks.Task { return s.exec.List() }

// CancelTask requests cancellation of one task.
func (s *Session) CancelTask(taskID string) error { return s.exec.Cancel(taskID) }

// Recent returns the latest outbound events, oldest first. Audio chunks are
// not retained.
func (s *Session) Recent() []events.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Outbound, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *Session) warn(code core.Code, message string) bool {
	env := envelope{
		correlationID: events.NewCorrelationID(),
		input: warnInput{event: events.ErrorEvent{
			ErrorCode:     code,
			Message:       message,
			RetryPossible: true,
			Context:       events.ErrorContext{Component: "session", Operation: "drain"},
		}},
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.in <- env:
		return true
	default:
		return false
	}
}

func (s *Session) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-s.done:
		return core.ErrSessionAlreadyEnded
	default:
	}
	select {
	case s.in <- env:
		return nil
	case <-s.done:
		return core.ErrSessionAlreadyEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) call(ctx context.Context, in Input) (result, error) {
	reply := make(chan result, 1)
	correlationID := events.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = events.NewCorrelationID()
	}
	if err := s.enqueue(ctx, envelope{correlationID: correlationID, input: in, reply: reply}); err != nil {
		return result{}, err
	}
	select {
	case r := <-reply:
		return r, r.err
	case <-s.done:
		select {
		case r := <-reply:
			return r, r.err
		default:
		}
		return result{}, core.ErrSessionAlreadyEnded
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == types.SessionActive
}

func (s *Session) endedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime, s.status == types.SessionEnded
}

// publish stamps ev and hands it to the attached sink. The error is the
// sink's; it is already logged.
func (s *Session) publish(ev events.Outbound) error {
	ev.SessionID = s.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	s.mu.Lock()
	sink := s.sink
	if ev.Type != events.TypeAudioResponse {
		s.recent = append(s.recent, ev)
		if n := len(s.recent) - s.cfg.RecentEvents; n > 0 {
			s.recent = append(s.recent[:0], s.recent[n:]...)
		}
	}
	s.mu.Unlock()

	if sink == nil {
		return nil
	}
	err := sink.Deliver(ev)
	if err != nil {
		s.logger.Warn("outbound event dropped", "type", string(ev.Type), "error", err)
	}
	return err
}

// emitError logs ev through the emitter and forwards it to the client.
func (s *Session) emitError(correlationID string, ev events.ErrorEvent, priority bool) {
	ev.SessionID = s.id
	ctx := events.WithCorrelationID(context.Background(), correlationID)
	ev = s.deps.Emitter.Emit(ctx, ev)
	s.publish(events.Outbound{
		Type:          events.TypeError,
		CorrelationID: ev.CorrelationID,
		Timestamp:     ev.Timestamp,
		Data:          ev,
		Priority:      priority,
	})
}

func (s *Session) startedData() events.SessionStartedData {
	return events.SessionStartedData{
		SessionID:           s.id,
		StartTime:           s.startTime,
		Version:             Version,
		ConfidenceThreshold: s.cfg.threshold(),
		ContextWindow:       s.contextWindow(),
		TaskQueueDepth:      s.cfg.Tasks.QueueDepth,
	}
}

func (s *Session) contextWindow() int {
	if s.cfg.ContextWindow > 0 {
		return s.cfg.ContextWindow
	}
	return contextwin.DefaultMaxTurns
}

// Summary describes an ended session.
type Summary struct {
	SessionID      string        `json:"session_id"`
	Reason         string        `json:"reason"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"-"`
	UtteranceCount int           `json:"utterance_count"`
	Tasks          tasks.Counts  `json:"tasks"`
}

// EventData is the session_ended payload.
func (s Summary) EventData() events.SessionEndedData {
	return events.SessionEndedData{
		SessionID:      s.SessionID,
		Reason:         s.Reason,
		EndTime:        s.EndTime,
		DurationMs:     s.Duration.Milliseconds(),
		UtteranceCount: s.UtteranceCount,
		TaskCount:      s.Tasks.Total,
		TasksCompleted: s.Tasks.Succeeded,
		TasksFailed:    s.Tasks.Failed,
		TasksCanceled:  s.Tasks.Canceled,
	}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID             string             `json:"id"`
	Status         string             `json:"status"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        *time.Time         `json:"end_time"`
	Version        string             `json:"version"`
	EndReason      string             `json:"end_reason,omitempty"`
	Paused         bool               `json:"paused"`
	UtteranceCount int                `json:"utterance_count"`
	TaskIDs        []string           `json:"task_ids"`
	BargeIns       int                `json:"barge_in_count"`
	Context        contextwin.Summary `json:"context"`
}

func (s *Session) Snapshot() Snapshot {
	list := s.exec.List()
	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}

	s.mu.Lock()
	snap := Snapshot{
		ID:             s.id,
		Status:         s.status,
		StartTime:      s.startTime,
		Version:        Version,
		EndReason:      s.endReason,
		Paused:         s.paused,
		UtteranceCount: s.utterances,
		TaskIDs:        ids,
	}
	if s.status == types.SessionEnded {
		end := s.endTime
		snap.EndTime = &end
	}
	s.mu.Unlock()

	snap.BargeIns = s.barge.Count()
	snap.Context = s.deps.Context.Summary(s.id)
	return snap
}

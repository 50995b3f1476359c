package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/agent"
	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
	"github.com/vango-go/vai-voice/pkg/core/tasks"
)

// Manager is the process-wide session registry. Its mutex covers insert,
// lookup and removal only; it is never held while talking to a session.
type Manager struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
	wg       sync.WaitGroup
}

// NewManager fills in missing dependencies with in-memory defaults: a
// default context window, the echo-only agent registry and the built-in
// tools.
func NewManager(cfg Config, deps Dependencies) *Manager {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NewEmitter(deps.Logger)
	}
	if deps.Context == nil {
		deps.Context = contextwin.NewManager(cfg.ContextWindow, 0)
	}
	if deps.Agents == nil {
		deps.Agents = agent.NewRegistry()
	}
	if deps.Toolbox == nil {
		deps.Toolbox = tasks.NewToolbox()
		tasks.RegisterBuiltins(deps.Toolbox, 0)
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[string]*Session),
	}
}

// CreateOptions configure a new session.
type CreateOptions struct {
	// Sink receives outbound events from the first one (session_started).
	Sink Sink
}

// Create starts a session and its loop.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, core.NewPermanentError(core.CodeInternal, "session", "allocating session id", err)
	}
	s := newSession(id.String(), m.cfg, m.deps, m.guard("tools"), m.guard("agent"), opts.Sink)

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, core.ErrSessionDraining
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		s.run()
	}()
	return s, nil
}

func (m *Manager) guard(name string) *resilience.Guard {
	if m.deps.Guards == nil {
		return nil
	}
	return m.deps.Guards.Get(name)
}

// ValidID reports whether id is a well-formed session id.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Get looks a session up, including ended sessions not yet reaped.
func (m *Manager) Get(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, core.NewValidationError(core.CodeValidationInvalidID, "malformed session id", "session_id")
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, core.ErrSessionNotFound.With("session %s not found", id)
	}
	return s, nil
}

// End ends a session. Ending an ended session reports
// SESSION_ALREADY_ENDED and publishes nothing.
func (m *Manager) End(ctx context.Context, id, reason string) (Summary, error) {
	s, err := m.Get(id)
	if err != nil {
		return Summary{}, err
	}
	return s.End(ctx, reason)
}

// RecordUtterance stores an utterance in the session's context window
// without routing it to an agent.
func (m *Manager) RecordUtterance(ctx context.Context, id, text string, confidence float64, interrupted bool) (Utterance, error) {
	s, err := m.Get(id)
	if err != nil {
		return Utterance{}, err
	}
	r, err := s.call(ctx, recordInput{text: text, confidence: confidence, interrupted: interrupted})
	return r.utterance, err
}

// SubmitUtterance runs a typed utterance through the full pipeline and
// returns it once recorded; planning and tasks continue asynchronously.
func (m *Manager) SubmitUtterance(ctx context.Context, id, text string, confidence float64) (Utterance, error) {
	s, err := m.Get(id)
	if err != nil {
		return Utterance{}, err
	}
	r, err := s.call(ctx, recordInput{text: text, confidence: confidence, route: true})
	return r.utterance, err
}

func (m *Manager) Snapshot(id string) (Snapshot, error) {
	s, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

func (m *Manager) ListTasks(id string) ([]tasks.Task, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Tasks(), nil
}

func (m *Manager) CancelTask(id, taskID string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.CancelTask(taskID)
}

func (m *Manager) list() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	n := 0
	for _, s := range m.list() {
		if s.active() {
			n++
		}
	}
	return n
}

// Drain stops the manager from accepting new sessions.
func (m *Manager) Drain() {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()
}

func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// WarnAll sends a priority error event to every active session and returns
// how many accepted it.
func (m *Manager) WarnAll(code core.Code, message string) (sent int) {
	for _, s := range m.list() {
		if s.active() && s.warn(code, message) {
			sent++
		}
	}
	return sent
}

// CancelAll ends every active session with reason server_shutdown without
// waiting for them.
func (m *Manager) CancelAll() (canceled int) {
	for _, s := range m.list() {
		if s.active() {
			s.cancel()
			canceled++
		}
	}
	return canceled
}

// Wait blocks until every session loop has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reap removes sessions that ended more than the retention grace before now
// and releases their context windows.
func (m *Manager) Reap(now time.Time) (removed int) {
	var expired []string
	for _, s := range m.list() {
		if end, ended := s.endedAt(); ended && now.Sub(end) >= m.cfg.Retention {
			expired = append(expired, s.id)
		}
	}
	if len(expired) == 0 {
		return 0
	}
	m.mu.Lock()
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, id := range expired {
		m.deps.Context.Drop(id)
	}
	m.logger.Debug("reaped ended sessions", "count", len(expired))
	return len(expired)
}

// ReapEvery runs Reap on interval until ctx is done.
func (m *Manager) ReapEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			m.Reap(now)
		}
	}
}

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/agent"
	"github.com/vango-go/vai-voice/pkg/core/redact"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
)

const (
	DefaultQueueDepth    = 5
	DefaultMaxConcurrent = 2
)

// Config bounds a session's task intake.
type Config struct {
	// QueueDepth caps non-terminal (queued + running) tasks.
	QueueDepth int
	// MaxConcurrent caps running tasks; the rest wait in FIFO order.
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}

// UpdateKind names what changed in an Update.
type UpdateKind string

const (
	UpdateStarted   UpdateKind = "started"
	UpdateProgress  UpdateKind = "progress"
	UpdateCompleted UpdateKind = "completed"
)

// Update is a task event delivered to the owning session.
type Update struct {
	Kind    UpdateKind
	Task    Task
	Message string
	// CorrelationID is inherited from the event that created the task.
	CorrelationID string
}

// Counts summarizes an executor's tasks.
type Counts struct {
	Total     int `json:"task_count"`
	Succeeded int `json:"tasks_completed"`
	Failed    int `json:"tasks_failed"`
	Canceled  int `json:"tasks_canceled"`
	Active    int `json:"tasks_active"`
}

type entry struct {
	task            Task
	plan            agent.Plan
	profile         agent.Profile
	correlationID   string
	cancelRequested bool
	cancel          context.CancelFunc
}

// Executor runs one session's tasks. Enqueue never blocks; task events are
// delivered in order on Updates.
type Executor struct {
	sessionID string
	cfg       Config
	toolbox   *Toolbox
	guard     *resilience.Guard
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	box    *mailbox

	mu      sync.Mutex
	tasks   map[string]*entry
	order   []string
	queue   []string
	running int
	closed  bool
}

// NewExecutor creates an executor for sessionID. guard may be nil.
func NewExecutor(sessionID string, cfg Config, toolbox *Toolbox, guard *resilience.Guard, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		toolbox:   toolbox,
		guard:     guard,
		logger:    logger.With("session_id", sessionID),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		box:       newMailbox(),
		tasks:     make(map[string]*entry),
	}
}

// Updates delivers task events. It is closed by Close after the last event.
func (e *Executor) Updates() <-chan Update { return e.box.out }

// Enqueue creates a queued task for plan, rejecting it with
// SESSION_LIMIT_EXCEEDED when the session already has QueueDepth
// non-terminal tasks.
func (e *Executor) Enqueue(ctx context.Context, description string, profile agent.Profile, plan agent.Plan, correlationID string) (Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Task{}, core.ErrSessionAlreadyEnded
	}
	if active := e.activeLocked(); active >= e.cfg.QueueDepth {
		return Task{}, core.ErrSessionLimitExceeded.With("task queue depth %d reached", e.cfg.QueueDepth)
	}

	now := e.now()
	en := &entry{
		task: Task{
			ID:               uuid.NewString(),
			SessionID:        e.sessionID,
			OriginatingAgent: plan.Agent,
			Description:      redact.Redact(description),
			Status:           StatusQueued,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		plan:          plan,
		profile:       profile,
		correlationID: correlationID,
	}
	e.tasks[en.task.ID] = en
	e.order = append(e.order, en.task.ID)
	e.queue = append(e.queue, en.task.ID)
	e.logger.Debug("task queued", "task_id", en.task.ID, "agent", plan.Agent, "tools", plan.Tools())

	e.dispatchLocked()
	return en.task.clone(), nil
}

func (e *Executor) activeLocked() int {
	n := 0
	for _, en := range e.tasks {
		if !en.task.Status.Terminal() {
			n++
		}
	}
	return n
}

func (e *Executor) dispatchLocked() {
	for e.running < e.cfg.MaxConcurrent && len(e.queue) > 0 {
		id := e.queue[0]
		e.queue = e.queue[1:]
		en := e.tasks[id]
		if en.task.Status != StatusQueued {
			continue
		}
		_ = en.task.transition(StatusRunning, e.now())
		e.publishLocked(UpdateStarted, en, "")

		ctx, cancel := context.WithCancel(e.ctx)
		en.cancel = cancel
		e.running++
		e.wg.Add(1)
		go e.run(ctx, en)
	}
}

func (e *Executor) publishLocked(kind UpdateKind, en *entry, msg string) {
	e.box.put(Update{Kind: kind, Task: en.task.clone(), Message: msg, CorrelationID: en.correlationID})
}

// Cancel requests cancellation of a task. A queued task is moved through
// running to canceled without executing any tool; a running task stops at
// its next safe point.
func (e *Executor) Cancel(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.tasks[taskID]
	if !ok {
		return core.ErrTaskNotFound.With("task %s not found", taskID)
	}
	if en.task.Status.Terminal() {
		return core.ErrTaskNotCancellable.With("task %s is %s", taskID, en.task.Status)
	}
	e.cancelLocked(en)
	return nil
}

func (e *Executor) cancelLocked(en *entry) {
	en.cancelRequested = true
	switch en.task.Status {
	case StatusQueued:
		now := e.now()
		_ = en.task.transition(StatusRunning, now)
		e.publishLocked(UpdateStarted, en, "")
		_ = en.task.finish(StatusCanceled, "canceled before start", "", now)
		e.publishLocked(UpdateCompleted, en, "")
	case StatusRunning:
		if en.cancel != nil {
			en.cancel()
		}
	}
}

// CancelAll cancels every non-terminal task.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.order {
		if en := e.tasks[id]; !en.task.Status.Terminal() {
			e.cancelLocked(en)
		}
	}
}

// ProgressUpdate records progress for a running task. Progress never moves
// backwards.
func (e *Executor) ProgressUpdate(taskID string, percent int, message string) error {
	if percent < 0 || percent > 100 {
		return core.NewValidationError(core.CodeValidationOutOfRange, "progress must be within [0, 100]", "percent")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.tasks[taskID]
	if !ok {
		return core.ErrTaskNotFound.With("task %s not found", taskID)
	}
	if en.task.Status != StatusRunning {
		return core.ErrInvalidTransition.With("task %s is %s", taskID, en.task.Status)
	}
	if percent > en.task.Progress {
		en.task.Progress = percent
	}
	en.task.UpdatedAt = e.now()
	e.publishLocked(UpdateProgress, en, redact.Redact(message))
	return nil
}

// Get returns a snapshot of a task.
func (e *Executor) Get(taskID string) (Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.tasks[taskID]
	if !ok {
		return Task{}, core.ErrTaskNotFound.With("task %s not found", taskID)
	}
	return en.task.clone(), nil
}

// List returns snapshots of all tasks in creation order.
func (e *Executor) List() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Task, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.tasks[id].task.clone())
	}
	return out
}

func (e *Executor) Counts() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := Counts{Total: len(e.tasks)}
	for _, en := range e.tasks {
		switch en.task.Status {
		case StatusSucceeded:
			c.Succeeded++
		case StatusFailed:
			c.Failed++
		case StatusCanceled:
			c.Canceled++
		default:
			c.Active++
		}
	}
	return c
}

// Close cancels outstanding work, waits for running tasks to stop and closes
// Updates once every pending event was delivered or ctx is done.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.CancelAll()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
	e.box.close()
	return err
}

func (e *Executor) run(ctx context.Context, en *entry) {
	defer e.wg.Done()

	summaries := make([]string, 0, len(en.plan.Steps))
	status, code := StatusSucceeded, core.Code("")
	for i, step := range en.plan.Steps {
		// Cooperative cancellation point.
		if ctx.Err() != nil || e.cancelRequested(en) {
			status = StatusCanceled
			break
		}
		summary, err := e.invoke(ctx, en, i, step)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				status = StatusCanceled
			} else {
				status, code = StatusFailed, failureCode(err)
				summaries = append(summaries, redact.ForLog(err.Error(), 0))
			}
			break
		}
		summaries = append(summaries, summary)
		if i < len(en.plan.Steps)-1 {
			_ = e.ProgressUpdate(en.task.ID, (i+1)*100/len(en.plan.Steps), step.Tool+" done")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if status == StatusSucceeded && en.cancelRequested {
		status = StatusCanceled
	}
	summary := strings.Join(summaries, "; ")
	if status == StatusCanceled {
		summary = "canceled"
	}
	if err := en.task.finish(status, redact.Redact(summary), code, e.now()); err != nil {
		e.logger.Error("task finish", "task_id", en.task.ID, "error", err)
	}
	en.cancel()
	e.running--
	e.logger.Info("task finished", "task_id", en.task.ID, "status", string(status), "error_code", string(code))
	e.publishLocked(UpdateCompleted, en, "")
	if !e.closed {
		e.dispatchLocked()
	}
}

func (e *Executor) cancelRequested(en *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return en.cancelRequested
}

func failureCode(err error) core.Code {
	if resilience.IsBreakerOpen(err) {
		return core.CodeServiceUnavailable
	}
	if c := core.CodeOf(err); c != core.CodeInternal {
		return c
	}
	return core.CodeToolFailed
}

func (e *Executor) invoke(ctx context.Context, en *entry, idx int, step agent.ToolStep) (string, error) {
	inv := ToolInvocation{
		ID:         uuid.NewString(),
		TaskID:     en.task.ID,
		ToolName:   step.Tool,
		Parameters: redact.Params(step.Params),
		Timestamp:  e.now(),
	}

	result, err := e.call(ctx, en, idx, step)

	inv.Duration = e.now().Sub(inv.Timestamp)
	inv.OutcomeStatus = OutcomeSuccess
	if err != nil {
		inv.OutcomeStatus = OutcomeError
		inv.Error = redact.ForLog(err.Error(), 0)
	}
	e.mu.Lock()
	en.task.Invocations = append(en.task.Invocations, inv)
	e.mu.Unlock()

	e.logger.Debug("tool invocation", "task_id", en.task.ID, "tool", step.Tool,
		"outcome", inv.OutcomeStatus, "duration_ms", inv.Duration.Milliseconds(), "params", inv.Parameters)
	return result, err
}

func (e *Executor) call(ctx context.Context, en *entry, idx int, step agent.ToolStep) (string, error) {
	if !en.profile.CanUseTool(step.Tool) {
		return "", core.NewPermanentError(core.CodeToolNotAllowed, "tools",
			fmt.Sprintf("agent %q may not use tool %q", en.profile.Name, step.Tool), nil)
	}
	tool, ok := e.toolbox.Get(step.Tool)
	if !ok {
		return "", core.NewPermanentError(core.CodeToolFailed, "tools", fmt.Sprintf("unknown tool %q", step.Tool), nil)
	}

	report := func(percent int, message string) {
		// Tool-local progress is scaled into the task's current step.
		_ = e.ProgressUpdate(en.task.ID, (idx*100+percent)/len(en.plan.Steps), message)
	}
	op := func(ctx context.Context) (string, error) {
		return tool.Run(ctx, step.Params, report)
	}
	if e.guard == nil {
		return op(ctx)
	}
	return resilience.Call(ctx, e.guard, op)
}

package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/agent"
	"github.com/vango-go/vai-voice/pkg/core/bargein"
	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/redact"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
	"github.com/vango-go/vai-voice/pkg/core/tasks"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

type capture struct {
	id            string
	correlationID string
	start         time.Time
	stream        *stt.Capture
	// nextSeq is the frame sequence expected next; -1 before the first frame.
	nextSeq int
}

type captureResult struct {
	id string
	stt.Result
	closed bool
}

type pendingUtterance struct {
	utterance     Utterance
	correlationID string
}

type agentResult struct {
	pendingUtterance
	strategy agent.Strategy
	plan     agent.Plan
	err      error
}

// pendingReply is the answer owed to an utterance once its task finishes.
type pendingReply struct {
	agent         string
	utteranceID   string
	reply         string
	correlationID string
}

type speech struct {
	playbackID    string
	text          string
	agent         string
	utteranceID   string
	correlationID string
}

type playbackEvent struct {
	playbackID string
	chunk      tts.Chunk
	done       bool
	err        error
}

func (s *Session) run() {
	defer close(s.done)
	defer s.wg.Wait()

	s.publish(events.Outbound{Type: events.TypeSessionStarted, Data: s.startedData()})
	s.logger.Info("session started")

	s.inactivity = time.NewTimer(s.cfg.InactivityPrompt)
	defer s.inactivity.Stop()
	maxTimer := time.NewTimer(s.cfg.MaxDuration)
	defer maxTimer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.finish(types.EndServerShutdown, nil)
			return
		case env := <-s.in:
			if s.handle(env) {
				return
			}
		case r := <-s.sttCh:
			s.onTranscript(r)
		case r := <-s.agentCh:
			s.onPlan(r)
		case u := <-s.exec.Updates():
			s.onTaskUpdate(u)
		case pe := <-s.audioCh:
			s.onPlayback(pe)
		case <-s.inactivityC():
			if s.onInactivity() {
				return
			}
		case <-maxTimer.C:
			s.finish(types.EndMaxDuration, nil)
			return
		}
	}
}

// handle processes one inbound event. It reports whether the session ended.
func (s *Session) handle(env envelope) bool {
	corr := env.correlationID
	switch in := env.input.(type) {
	case Audio:
		s.touch()
		s.onAudio(corr, in)
	case Control:
		s.touch()
		switch in.Action {
		case ActionStop:
			s.finish(types.EndClientStop, env.reply)
			return true
		case ActionPause:
			s.setPaused(true)
		case ActionResume:
			s.setPaused(false)
		case ActionStart:
		default:
			s.emitError(corr, validation(core.CodeValidationInvalidField, "unknown session_control action", "action"), false)
		}
	case BargeIn:
		s.touch()
		reason := in.Reason
		if reason == "" {
			reason = bargein.ReasonClientRequest
		}
		if d, ok := s.barge.Interrupt(reason); ok {
			s.onBargeIn(corr, d)
		}
	case TextMessage:
		s.touch()
		confidence := 1.0
		if in.Confidence != nil {
			confidence = *in.Confidence
		}
		if _, err := s.submitText(corr, in.Text, confidence); err != nil {
			s.emitError(corr, events.FromError(err, core.CodeValidationInvalidField, "session", "text_message"), false)
		}
	case Rejected:
		s.touch()
		s.emitError(corr, in.Event, false)
	case recordInput:
		s.touch()
		var (
			u   Utterance
			err error
		)
		if in.route {
			u, err = s.submitText(corr, in.text, in.confidence)
		} else if err = checkUtterance(in.text, in.confidence); err == nil {
			u = s.record(uuid.NewString(), in.text, in.confidence, s.now(), in.interrupted)
		}
		s.reply(env, result{utterance: u, err: err})
	case warnInput:
		s.emitError(corr, in.event, true)
	case attachInput:
		s.mu.Lock()
		s.sink = in.sink
		s.mu.Unlock()
		s.publish(events.Outbound{Type: events.TypeSessionStarted, CorrelationID: corr, Data: s.startedData()})
	case endInput:
		s.finish(in.reason, env.reply)
		return true
	}
	return false
}

func (s *Session) reply(env envelope, r result) {
	if env.reply != nil {
		env.reply <- r
	}
}

func validation(code core.Code, message, param string) events.ErrorEvent {
	return events.FromError(core.NewValidationError(code, message, param), code, "gateway", "validate")
}

func checkUtterance(text string, confidence float64) error {
	if strings.TrimSpace(text) == "" {
		return core.NewValidationError(core.CodeValidationInvalidField, "utterance text is required", "text")
	}
	if confidence < 0 || confidence > 1 {
		return core.NewValidationError(core.CodeValidationOutOfRange, "confidence must be within [0, 1]", "confidence")
	}
	return nil
}

// submitText runs a typed utterance through the same path as a final
// transcript. Typed input during playback interrupts it like speech does.
func (s *Session) submitText(corr, text string, confidence float64) (Utterance, error) {
	if err := checkUtterance(text, confidence); err != nil {
		return Utterance{}, err
	}
	if d, ok := s.barge.OnAudio(); ok {
		s.onBargeIn(corr, d)
	}
	now := s.now()
	u := s.record(uuid.NewString(), text, confidence, now, s.barge.TakeInterruption())
	s.publishFinal(corr, u)
	s.route(corr, u)
	return u, nil
}

func (s *Session) touch() {
	if s.paused {
		return
	}
	s.prompted = false
	s.inactivity.Reset(s.cfg.InactivityPrompt)
}

func (s *Session) inactivityC() <-chan time.Time {
	if s.paused {
		return nil
	}
	return s.inactivity.C
}

func (s *Session) setPaused(paused bool) {
	if s.paused == paused {
		return
	}
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	if paused {
		s.inactivity.Stop()
		// Whatever was captured so far still produces a transcript.
		if s.current != nil {
			s.current.stream.Finish()
			s.current = nil
		}
		s.logger.Debug("session paused")
		return
	}
	s.touch()
	s.logger.Debug("session resumed")
}

// onInactivity reports whether the session ended.
func (s *Session) onInactivity() bool {
	if !s.prompted {
		s.prompted = true
		s.respond(events.NewCorrelationID(), "", "", events.MessageInactivityPrompt, PromptInactivity, nil)
		s.inactivity.Reset(s.cfg.InactivityTimeout - s.cfg.InactivityPrompt)
		return false
	}
	s.finish(types.EndTimeout, nil)
	return true
}

func (s *Session) onAudio(corr string, a Audio) {
	if s.paused {
		return
	}
	if s.deps.Transcriber == nil {
		s.emitError(corr, validation(core.CodeValidationInvalidField, "audio input is not available; send text_message", "format"), false)
		return
	}
	payload, err := acceptAudio(s.deps.Transcriber.Format(), a)
	if err != nil {
		s.emitError(corr, events.FromError(err, core.CodeValidationInvalidField, "gateway", "validate"), false)
		return
	}
	if len(payload) > 0 {
		if d, ok := s.barge.OnAudio(); ok {
			s.onBargeIn(corr, d)
		}
	}

	c := s.current
	if c == nil {
		if len(payload) == 0 {
			return
		}
		c = s.startCapture(corr)
	}
	if c.nextSeq >= 0 && a.Sequence != c.nextSeq {
		// Frames are fed in arrival order either way.
		s.logger.Debug("audio sequence gap", "capture_id", c.id, "expected", c.nextSeq, "got", a.Sequence)
	}
	c.nextSeq = a.Sequence + 1
	c.stream.Feed(payload)
	if a.Final {
		c.stream.Finish()
		s.current = nil
	}
}

// acceptAudio checks a frame's format against what the transcriber expects.
// WAV frames are accepted for PCM and have their header removed.
func acceptAudio(want string, a Audio) ([]byte, error) {
	if want == "" || a.Format == want {
		return a.Payload, nil
	}
	if a.Format == "wav" && want == "pcm_s16le" {
		return stripWAVHeader(a.Payload), nil
	}
	return nil, core.NewValidationError(core.CodeValidationInvalidField,
		fmt.Sprintf("audio format %q is not supported, expected %q", a.Format, want), "format")
}

func stripWAVHeader(b []byte) []byte {
	if len(b) < 12 || !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return b
	}
	off := 12
	for off+8 <= len(b) {
		id := b[off : off+4]
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if bytes.Equal(id, []byte("data")) {
			return b[off:]
		}
		off += size + size%2
	}
	return nil
}

func (s *Session) startCapture(corr string) *capture {
	c := &capture{
		id:            uuid.NewString(),
		correlationID: corr,
		start:         s.now(),
		stream:        s.deps.Transcriber.Start(s.ctx),
		nextSeq:       -1,
	}
	s.captures[c.id] = c
	s.current = c

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for r := range c.stream.Results() {
			select {
			case s.sttCh <- captureResult{id: c.id, Result: r}:
			case <-s.ctx.Done():
				c.stream.Cancel()
				return
			}
		}
		select {
		case s.sttCh <- captureResult{id: c.id, closed: true}:
		case <-s.ctx.Done():
		}
	}()
	return c
}

func (s *Session) dropCapture(c *capture) {
	delete(s.captures, c.id)
	if s.current == c {
		s.current = nil
	}
}

func (s *Session) onTranscript(r captureResult) {
	c, ok := s.captures[r.id]
	if !ok {
		return
	}
	if r.closed {
		s.dropCapture(c)
		return
	}
	if r.Err != nil {
		s.dropCapture(c)
		c.stream.Cancel()
		s.emitError(c.correlationID, events.FromError(r.Err, core.CodeTranscriptionFailed, stt.Component, "transcribe"), false)
		return
	}

	text := strings.TrimSpace(r.Text)
	if !r.Final {
		if text == "" {
			return
		}
		s.publish(events.Outbound{
			Type:          events.TypeTranscriptPartial,
			CorrelationID: c.correlationID,
			Data: events.TranscriptData{
				UtteranceID: c.id,
				Text:        redact.Redact(text),
				Confidence:  clamp01(r.Confidence),
			},
		})
		return
	}

	s.dropCapture(c)
	if text == "" {
		return
	}
	u := s.record(c.id, text, r.Confidence, c.start, s.barge.TakeInterruption())
	s.publishFinal(c.correlationID, u)
	s.route(c.correlationID, u)
}

// record stores an utterance in the context window.
func (s *Session) record(id, text string, confidence float64, start time.Time, interrupted bool) Utterance {
	u := Utterance{
		ID:          id,
		SessionID:   s.id,
		Text:        redact.Redact(strings.TrimSpace(text)),
		Confidence:  clamp01(confidence),
		StartTime:   start,
		EndTime:     s.now(),
		Interrupted: interrupted,
	}
	if u.EndTime.Before(u.StartTime) {
		u.EndTime = u.StartTime
	}
	s.deps.Context.AppendTurn(s.id, contextwin.Turn{
		ID:          u.ID,
		Role:        contextwin.RoleUser,
		Text:        u.Text,
		Confidence:  u.Confidence,
		Interrupted: u.Interrupted,
		At:          u.EndTime,
	})
	s.mu.Lock()
	s.utterances++
	s.mu.Unlock()
	return u
}

func (s *Session) publishFinal(corr string, u Utterance) {
	s.publish(events.Outbound{
		Type:          events.TypeTranscriptFinal,
		CorrelationID: corr,
		Data: events.TranscriptData{
			UtteranceID: u.ID,
			Text:        u.Text,
			Confidence:  u.Confidence,
			Final:       true,
			Interrupted: u.Interrupted,
		},
	})
}

// route hands a recorded utterance to the agents, or asks the user to repeat
// when recognition was not confident enough.
func (s *Session) route(corr string, u Utterance) {
	if u.Confidence < s.cfg.threshold() {
		s.deps.Emitter.Emit(events.WithCorrelationID(context.Background(), corr), events.ErrorEvent{
			ErrorCode:     core.CodeLowConfidence,
			Message:       fmt.Sprintf("confidence %.2f below threshold %.2f", u.Confidence, s.cfg.threshold()),
			RetryPossible: true,
			SessionID:     s.id,
			Context:       events.ErrorContext{Component: "session", Operation: "route_utterance"},
		})
		s.publish(events.Outbound{
			Type:          events.TypeClarificationNeeded,
			CorrelationID: corr,
			Data: events.ClarificationData{
				UtteranceID: u.ID,
				Text:        u.Text,
				Confidence:  u.Confidence,
				Threshold:   s.cfg.threshold(),
				Prompt:      PromptClarification,
			},
		})
		return
	}
	s.agentQueue = append(s.agentQueue, pendingUtterance{utterance: u, correlationID: corr})
	s.pumpAgent()
}

// pumpAgent runs the next queued utterance through its strategy. One
// utterance is planned at a time so plans keep utterance order.
func (s *Session) pumpAgent() {
	if s.agentBusy || s.ending || len(s.agentQueue) == 0 {
		return
	}
	p := s.agentQueue[0]
	s.agentQueue = s.agentQueue[1:]
	strategy := s.deps.Agents.Select(p.utterance)
	window := s.deps.Context.Window(s.id)
	s.agentBusy = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := events.WithCorrelationID(s.ctx, p.correlationID)
		op := func(ctx context.Context) (agent.Plan, error) {
			return strategy.Process(ctx, p.utterance, window)
		}
		var (
			plan agent.Plan
			err  error
		)
		if s.agentGuard != nil {
			plan, err = resilience.Call(ctx, s.agentGuard, op)
		} else {
			plan, err = op(ctx)
		}
		select {
		case s.agentCh <- agentResult{pendingUtterance: p, strategy: strategy, plan: plan, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) onPlan(r agentResult) {
	s.agentBusy = false
	defer s.pumpAgent()

	corr := r.correlationID
	u := r.utterance
	if r.err != nil {
		s.emitError(corr, events.FromError(r.err, core.CodeAgentFailed, "agent", "process"), false)
		s.respond(corr, r.strategy.Name(), u.ID, events.MessageFallback, PromptAgentFailure, nil)
		return
	}

	plan := r.plan
	if plan.Agent == "" {
		plan.Agent = r.strategy.Name()
	}
	if !plan.TaskWorthy() {
		s.respond(corr, plan.Agent, u.ID, events.MessageResponse, plan.Reply, nil)
		return
	}

	steps := make([]events.PlanStep, 0, len(plan.Steps))
	for _, st := range plan.Steps {
		steps = append(steps, events.PlanStep{Tool: st.Tool})
	}
	s.publish(events.Outbound{
		Type:          events.TypeAgentPlan,
		CorrelationID: corr,
		Data: events.AgentPlanData{
			Agent:       plan.Agent,
			Intent:      plan.Intent,
			Summary:     plan.Summary,
			UtteranceID: u.ID,
			Steps:       steps,
		},
	})

	description := plan.Summary
	if description == "" {
		description = u.Text
	}
	task, err := s.exec.Enqueue(events.WithCorrelationID(s.ctx, corr), description, r.strategy.Profile(), plan, corr)
	if err != nil {
		s.emitError(corr, events.FromError(err, core.CodeTaskFailed, "tasks", "enqueue"), false)
		return
	}
	s.replies[task.ID] = pendingReply{
		agent:         plan.Agent,
		utteranceID:   u.ID,
		reply:         plan.Reply,
		correlationID: corr,
	}
}

func (s *Session) onTaskUpdate(u tasks.Update) {
	t := u.Task
	data := events.TaskData{
		TaskID:      t.ID,
		Agent:       t.OriginatingAgent,
		Description: t.Description,
		Status:      string(t.Status),
		Progress:    t.Progress,
		Message:     u.Message,
	}
	switch u.Kind {
	case tasks.UpdateStarted:
		s.publish(events.Outbound{Type: events.TypeTaskStarted, CorrelationID: u.CorrelationID, Data: data})
	case tasks.UpdateProgress:
		s.publish(events.Outbound{Type: events.TypeTaskProgress, CorrelationID: u.CorrelationID, Data: data})
	case tasks.UpdateCompleted:
		data.ResultSummary = t.ResultSummary
		data.ErrorCode = string(t.ErrorCode)
		s.publish(events.Outbound{Type: events.TypeTaskCompleted, CorrelationID: u.CorrelationID, Data: data})
		s.afterTask(t)
	}
}

// afterTask delivers the reply owed to the utterance that created t.
func (s *Session) afterTask(t tasks.Task) {
	pr, ok := s.replies[t.ID]
	if !ok {
		return
	}
	delete(s.replies, t.ID)
	if s.ending {
		return
	}
	switch t.Status {
	case tasks.StatusSucceeded:
		text := t.ResultSummary
		if text == "" {
			text = pr.reply
		}
		s.respond(pr.correlationID, pr.agent, pr.utteranceID, events.MessageResponse, text, []string{t.ID})
	case tasks.StatusFailed:
		s.emitError(pr.correlationID, events.ErrorEvent{
			ErrorCode: core.Code(t.ErrorCode),
			Message:   fmt.Sprintf("task %s failed", t.ID),
			Context: events.ErrorContext{
				Component:  "tasks",
				Operation:  "run",
				Parameters: map[string]any{"task_id": t.ID},
			},
		}, false)
		s.respond(pr.correlationID, pr.agent, pr.utteranceID, events.MessageFallback, PromptTaskFailure, []string{t.ID})
	}
}

// respond sends an agent message and queues it for synthesis.
func (s *Session) respond(corr, agentName, utteranceID, kind, text string, taskIDs []string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.publish(events.Outbound{
		Type:          events.TypeAgentMessage,
		CorrelationID: corr,
		Data: events.AgentMessageData{
			Agent:       agentName,
			Kind:        kind,
			Text:        text,
			UtteranceID: utteranceID,
			TaskIDs:     taskIDs,
		},
	})

	playbackID := uuid.NewString()
	s.deps.Context.AppendTurn(s.id, contextwin.Turn{
		ID:      playbackID,
		Role:    contextwin.RoleAssistant,
		Speaker: agentName,
		Text:    text,
		At:      s.now(),
	})
	if s.deps.Speaker == nil {
		return
	}
	s.speech = append(s.speech, speech{
		playbackID:    playbackID,
		text:          text,
		agent:         agentName,
		utteranceID:   utteranceID,
		correlationID: corr,
	})
	s.nextSpeech()
}

// nextSpeech starts the next queued reply once nothing is playing.
func (s *Session) nextSpeech() {
	if s.playback != nil || s.ending || len(s.speech) == 0 {
		return
	}
	sp := s.speech[0]
	s.speech = s.speech[1:]

	pb := s.deps.Speaker.Speak(s.ctx, sp.playbackID, sp.text)
	s.playback = pb
	s.playing = sp
	s.barge.Start(sp.playbackID, sp.utteranceID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for c := range pb.Chunks() {
			select {
			case s.audioCh <- playbackEvent{playbackID: pb.ID, chunk: c}:
			case <-s.ctx.Done():
				pb.Stop()
				return
			}
		}
		select {
		case s.audioCh <- playbackEvent{playbackID: pb.ID, done: true, err: pb.Err()}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) onPlayback(pe playbackEvent) {
	pb := s.playback
	if pe.done {
		if pb == nil || pb.ID != pe.playbackID {
			return
		}
		s.barge.Finish(pe.playbackID)
		s.playback = nil
		if pe.err != nil && !pb.Stopped() {
			// The agent_message already went out; the reply degrades to text.
			s.emitError(s.playing.correlationID, events.FromError(pe.err, core.CodeSynthesisFailed, tts.Component, "synthesize"), false)
		}
		s.nextSpeech()
		return
	}
	if pb == nil || pb.ID != pe.playbackID || pb.Stopped() || s.barge.Canceled(pe.playbackID) {
		return
	}
	c := pe.chunk
	err := s.publish(events.Outbound{
		Type:          events.TypeAudioResponse,
		CorrelationID: s.playing.correlationID,
		PlaybackID:    c.PlaybackID,
		Data: events.AudioResponseData{
			PlaybackID: c.PlaybackID,
			Sequence:   c.Sequence,
			Format:     c.Format,
			SampleRate: c.SampleRate,
			Payload:    c.Data,
			Final:      c.Final,
		},
	})
	if errors.Is(err, ErrBackpressure) {
		s.shedPlayback(pb)
	}
}

// shedPlayback stops a playback the client could not keep up with. The
// sink has already discarded its queued audio; the reply stays text only.
func (s *Session) shedPlayback(pb *tts.Playback) {
	pb.Stop()
	s.emitError(s.playing.correlationID, events.ErrorEvent{
		ErrorCode:     core.CodeRateLimited,
		Message:       "audio dropped: client is not reading fast enough",
		RetryPossible: true,
		Context: events.ErrorContext{
			Component:  "gateway",
			Operation:  "write",
			Parameters: map[string]any{"playback_id": pb.ID},
		},
	}, false)
}

// onBargeIn stops the interrupted playback and any replies queued behind it.
func (s *Session) onBargeIn(corr string, d bargein.Decision) {
	if s.playback != nil && s.playback.ID == d.PlaybackID {
		s.playback.Stop()
	}
	s.speech = nil
	s.deps.Context.MarkLastInterrupted(s.id, contextwin.RoleAssistant)

	s.publish(events.Outbound{
		Type:          events.TypeBargeIn,
		CorrelationID: corr,
		Priority:      true,
		Data: events.BargeInData{
			Reason:      d.Reason,
			PlaybackID:  d.PlaybackID,
			UtteranceID: d.UtteranceID,
		},
	})
	s.logger.Debug("barge-in", "reason", d.Reason, "playback_id", d.PlaybackID)

	if s.playing.agent == "" {
		return
	}
	strategy, err := s.deps.Agents.Get(s.playing.agent)
	if err != nil {
		return
	}
	// The user is talking, so the acknowledgement is text-only.
	if text := strategy.HandleInterruption(s.ctx); text != "" {
		s.publish(events.Outbound{
			Type:          events.TypeAgentMessage,
			CorrelationID: corr,
			Data: events.AgentMessageData{
				Agent:       strategy.Name(),
				Kind:        events.MessageInterruption,
				Text:        text,
				UtteranceID: d.UtteranceID,
			},
		})
	}
}

// finish ends the session: capture and playback stop, tasks are canceled and
// their final events flushed, then session_ended is published.
func (s *Session) finish(reason string, reply chan result) {
	s.ending = true
	for _, c := range s.captures {
		c.stream.Cancel()
	}
	if s.playback != nil {
		s.playback.Stop()
	}
	s.speech = nil
	s.agentQueue = nil

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	if err := s.exec.Close(ctx); err != nil {
		s.logger.Warn("tasks did not stop in time", "error", err)
	}
	cancel()
	for u := range s.exec.Updates() {
		s.onTaskUpdate(u)
	}

	now := s.now()
	counts := s.exec.Counts()
	s.mu.Lock()
	s.status = types.SessionEnded
	s.endTime = now
	if s.endTime.Before(s.startTime) {
		s.endTime = s.startTime
	}
	s.endReason = reason
	s.summary = Summary{
		SessionID:      s.id,
		Reason:         reason,
		StartTime:      s.startTime,
		EndTime:        s.endTime,
		Duration:       s.endTime.Sub(s.startTime),
		UtteranceCount: s.utterances,
		Tasks:          counts,
	}
	summary := s.summary
	s.mu.Unlock()

	// Last in order: sinks drop audio still queued behind it.
	s.publish(events.Outbound{
		Type: events.TypeSessionEnded,
		Data: summary.EventData(),
	})
	s.logger.Info("session ended",
		"reason", reason,
		"duration_ms", summary.Duration.Milliseconds(),
		"utterance_count", summary.UtteranceCount,
		"task_count", counts.Total,
	)

	s.cancel()
	if reply != nil {
		reply <- result{summary: summary}
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

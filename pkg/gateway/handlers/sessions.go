package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/tasks"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/sse"
)

// SessionsHandler exposes the session operations over REST. Sessions
// created here have no live connection; their events are kept in the
// session's recent-event buffer and returned by Get.
type SessionsHandler struct {
	Config   config.Config
	Sessions *session.Manager
	Logger   *slog.Logger
}

// Register mounts the session routes on mux.
func (h SessionsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.create)
	mux.HandleFunc("GET /v1/sessions/{id}", h.get)
	mux.HandleFunc("GET /v1/sessions/{id}/events", h.events)
	mux.HandleFunc("POST /v1/sessions/{id}/end", h.end)
	mux.HandleFunc("POST /v1/sessions/{id}/utterances", h.submitUtterance)
	mux.HandleFunc("GET /v1/sessions/{id}/tasks", h.listTasks)
	mux.HandleFunc("POST /v1/sessions/{id}/tasks/{task_id}/cancel", h.cancelTask)

	mux.Handle("/v1/sessions", MethodNotAllowed(http.MethodPost))
	mux.Handle("/v1/sessions/{id}", MethodNotAllowed(http.MethodGet))
	mux.Handle("/v1/sessions/{id}/events", MethodNotAllowed(http.MethodGet))
	mux.Handle("/v1/sessions/{id}/end", MethodNotAllowed(http.MethodPost))
	mux.Handle("/v1/sessions/{id}/utterances", MethodNotAllowed(http.MethodPost))
	mux.Handle("/v1/sessions/{id}/tasks", MethodNotAllowed(http.MethodGet))
	mux.Handle("/v1/sessions/{id}/tasks/{task_id}/cancel", MethodNotAllowed(http.MethodPost))
}

type sessionResp struct {
	Session      session.Snapshot  `json:"session"`
	RecentEvents []json.RawMessage `json:"recent_events,omitempty"`
}

type utteranceReq struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	// RecordOnly stores the utterance in the context window without
	// routing it to an agent.
	RecordOnly  bool `json:"record_only,omitempty"`
	Interrupted bool `json:"interrupted,omitempty"`
}

type tasksResp struct {
	SessionID string       `json:"session_id"`
	Tasks     []tasks.Task `json:"tasks"`
}

func (h SessionsHandler) create(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Create(r.Context(), session.CreateOptions{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logger(r).Info("session created", "session_id", s.ID(), "via", "api")
	writeJSON(w, http.StatusCreated, sessionResp{Session: s.Snapshot()})
}

func (h SessionsHandler) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := sessionResp{Session: s.Snapshot()}
	for _, ev := range s.Recent() {
		raw, err := protocol.Encode(ev)
		if err != nil {
			h.logger(r).Warn("encoding recent event failed", "session_id", s.ID(), "type", ev.Type, "error", err)
			continue
		}
		resp.RecentEvents = append(resp.RecentEvents, raw)
	}
	writeJSON(w, http.StatusOK, resp)
}

// events streams the session's outbound events as SSE, taking over from any
// attached live connection. The stream ends with session_ended.
func (h SessionsHandler) events(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	sw, err := sse.New(w, h.Config.LiveQueueSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Attach(r.Context(), sw); err != nil {
		writeError(w, r, err)
		return
	}
	defer s.Detach(sw)

	sw.Start()
	if err := sw.Run(r.Context().Done(), s.Done()); err != nil {
		h.logger(r).Debug("event stream closed", "session_id", s.ID(), "error", err)
	}
}

func (h SessionsHandler) end(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Sessions.End(r.Context(), r.PathValue("id"), types.EndAPIRequest)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary.EventData())
}

func (h SessionsHandler) submitUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceReq
	if err := decodeBody(r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	ctx := r.Context()
	if reqID, ok := mw.RequestIDFrom(ctx); ok {
		ctx = events.WithCorrelationID(ctx, reqID)
	}

	id := r.PathValue("id")
	var (
		u   types.Utterance
		err error
	)
	if req.RecordOnly {
		u, err = h.Sessions.RecordUtterance(ctx, id, req.Text, confidence, req.Interrupted)
	} else {
		u, err = h.Sessions.SubmitUtterance(ctx, id, req.Text, confidence)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h SessionsHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	list, err := h.Sessions.ListTasks(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []tasks.Task{}
	}
	writeJSON(w, http.StatusOK, tasksResp{SessionID: id, Tasks: list})
}

func (h SessionsHandler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id, taskID := r.PathValue("id"), r.PathValue("task_id")
	if err := h.Sessions.CancelTask(id, taskID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h SessionsHandler) logger(r *http.Request) *slog.Logger {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	if reqID, ok := mw.RequestIDFrom(r.Context()); ok {
		l = l.With("request_id", reqID)
	}
	return l
}

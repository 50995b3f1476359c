package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/live/stream"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
)

// LiveHandler upgrades GET /v1/live to a WebSocket and runs a voice
// session on it. ?session_id= attaches to a session created over REST.
type LiveHandler struct {
	Config   config.Config
	Sessions *session.Manager
	Logger   *slog.Logger
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		writeError(w, r, core.ErrServiceUnavailable)
		return
	}
	if h.Sessions.Draining() {
		writeError(w, r, &core.Error{
			Code:    core.CodeSessionDraining,
			Class:   core.ClassTransient,
			Message: "server is draining; retry against another instance",
		})
		return
	}
	if !h.originAllowed(r) {
		writeError(w, r, &core.Error{
			Code:    core.CodeForbidden,
			Class:   core.ClassPermanent,
			Message: "origin not allowed",
			Param:   "Origin",
		})
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID != "" && !session.ValidID(sessionID) {
		writeError(w, r, core.NewValidationError(core.CodeValidationInvalidID, "session_id is not a valid session id", "session_id"))
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Origin is checked above against the CORS allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if reqID, ok := mw.RequestIDFrom(r.Context()); ok {
		logger = logger.With("request_id", reqID)
	}

	err = stream.Serve(r.Context(), conn, h.Sessions, stream.Options{
		Config:    h.streamConfig(),
		Logger:    logger,
		SessionID: sessionID,
	})
	if err != nil {
		logger.Debug("live connection closed", "error", err)
	}
}

// originAllowed admits non-browser clients (no Origin header) and origins on
// the CORS allowlist.
func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) streamConfig() stream.Config {
	c := h.Config
	return stream.Config{
		PingInterval:          c.LiveWSPingInterval,
		WriteTimeout:          c.LiveWSWriteTimeout,
		ReadTimeout:           c.LiveWSReadTimeout,
		MaxMessageBytes:       c.LiveMaxMessageBytes,
		InboundFPS:            c.LiveMaxInboundFPS,
		InboundBytesPerSecond: c.LiveMaxInboundBytesPerSecond,
		InboundBurstSeconds:   c.LiveInboundBurstSeconds,
		QueueSize:             c.LiveQueueSize,
	}
}

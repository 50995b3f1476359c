package handlers

import (
	"fmt"
	"net/http"

	"github.com/vango-go/vai-voice/pkg/core/resilience"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the process should receive new sessions.
// It turns unready while draining or when a dependency breaker is open.
type ReadyHandler struct {
	Config   config.Config
	Sessions *session.Manager
	Guards   *resilience.Set
}

type readyResp struct {
	OK             bool                  `json:"ok"`
	Draining       bool                  `json:"draining"`
	ActiveSessions int                   `json:"active_sessions"`
	AuthMode       string                `json:"auth_mode"`
	LimitsEnabled  bool                  `json:"limits_enabled"`
	STTProvider    string                `json:"stt_provider"`
	TTSProvider    string                `json:"tts_provider"`
	Breakers       []resilience.Snapshot `json:"breakers"`
	Issues         []string              `json:"issues,omitempty"`
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := readyResp{
		AuthMode:    string(h.Config.AuthMode),
		STTProvider: h.Config.STTProvider,
		TTSProvider: h.Config.TTSProvider,
		Breakers:    []resilience.Snapshot{},
		LimitsEnabled: (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
			h.Config.LimitMaxConcurrentRequests > 0 ||
			h.Config.LimitMaxConcurrentStreams > 0,
	}

	if err := h.Config.Validate(); err != nil {
		resp.Issues = append(resp.Issues, err.Error())
	}
	if h.Sessions == nil {
		resp.Issues = append(resp.Issues, "session manager not configured")
	} else {
		resp.Draining = h.Sessions.Draining()
		resp.ActiveSessions = h.Sessions.Count()
		if resp.Draining {
			resp.Issues = append(resp.Issues, "draining")
		}
	}
	if h.Guards != nil {
		resp.Breakers = h.Guards.Snapshots()
		for _, b := range resp.Breakers {
			if b.State == resilience.StateOpen.String() {
				resp.Issues = append(resp.Issues, fmt.Sprintf("%s breaker is open", b.Name))
			}
		}
	}

	resp.OK = len(resp.Issues) == 0
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

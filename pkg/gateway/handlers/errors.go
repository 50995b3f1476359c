package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/events"
)

const maxRecentErrors = 100

// ErrorStatsHandler serves GET /v1/errors/stats: counts by code plus the
// most recent error events (?recent=N, optionally filtered by ?code=).
type ErrorStatsHandler struct {
	Emitter *events.Emitter
}

type errorStatsResp struct {
	events.Stats
	Recent []events.ErrorEvent `json:"recent"`
}

func (h ErrorStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Emitter == nil {
		writeJSON(w, http.StatusOK, errorStatsResp{Stats: events.Stats{ByCode: map[string]int{}}, Recent: []events.ErrorEvent{}})
		return
	}

	limit := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("recent")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxRecentErrors {
			writeError(w, r, core.NewValidationError(core.CodeValidationOutOfRange, "recent must be an integer in [0, 100]", "recent"))
			return
		}
		limit = n
	}
	code := core.Code(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code"))))

	recent := []events.ErrorEvent{}
	if limit > 0 {
		recent = h.Emitter.Recent(limit, code)
	}
	writeJSON(w, http.StatusOK, errorStatsResp{Stats: h.Emitter.Stats(), Recent: recent})
}

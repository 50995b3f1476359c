package mw

import (
	"net/http"
	"strings"
)

func isHealthPath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

func isWebSocketUpgrade(r *http.Request) bool {
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

// isStream reports requests that stay open for a session's lifetime: live
// WebSocket upgrades and SSE event streams.
func isStream(r *http.Request) bool {
	if isWebSocketUpgrade(r) {
		return true
	}
	return r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/sessions/") && strings.HasSuffix(r.URL.Path, "/events")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

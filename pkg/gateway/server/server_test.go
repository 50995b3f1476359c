package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.AuthMode = config.AuthModeDisabled
	cfg.LimitRPS, cfg.LimitBurst = 0, 0
	cfg.LimitMaxConcurrentRequests, cfg.LimitMaxConcurrentStreams = 0, 0
	if mutate != nil {
		mutate(&cfg)
	}

	m := session.NewManager(session.Config{}, session.Dependencies{Logger: logger})
	t.Cleanup(func() {
		m.CancelAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Wait(ctx)
	})
	return New(cfg, logger, Deps{Sessions: m, Emitter: events.NewEmitter(logger)}).Handler()
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	h := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"code":"NOT_FOUND"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID on error responses")
	}
}

func TestServer_WrongMethod_ReturnsJSON405(t *testing.T) {
	h := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Allow"); got != http.MethodPost {
		t.Fatalf("Allow=%q", got)
	}
	if !strings.Contains(rr.Body.String(), `"code":"METHOD_NOT_ALLOWED"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_RoutesReachable(t *testing.T) {
	h := newTestServer(t, nil)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodPost, "/v1/sessions", http.StatusCreated},
		{http.MethodGet, "/v1/errors/stats", http.StatusOK},
		// Plain GET without the upgrade handshake.
		{http.MethodGet, "/v1/live", http.StatusBadRequest},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != tc.want {
			t.Fatalf("%s %s status=%d want %d body=%q", tc.method, tc.path, rr.Code, tc.want, rr.Body.String())
		}
	}
}

func TestServer_RequiredAuth(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.AuthMode = config.AuthModeRequired
		c.APIKeys = map[string]struct{}{"vk_test": {}}
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer vk_test")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	// Probes stay open.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
}

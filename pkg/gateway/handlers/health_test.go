package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-voice/pkg/core/resilience"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
)

func readyConfig() config.Config {
	cfg := config.Defaults()
	cfg.AuthMode = config.AuthModeDisabled
	return cfg
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestReadyz(t *testing.T) {
	m := newManager(t)
	guards := resilience.NewSet(resilience.DefaultRetryPolicy(), resilience.BreakerConfig{
		ConsecutiveFailures: 1,
		Cooldown:            time.Hour,
	}, nil, discardLogger())
	guards.Get("stt")
	h := ReadyHandler{Config: readyConfig(), Sessions: m, Guards: guards}

	get := func() (int, readyResp) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var resp readyResp
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return rr.Code, resp
	}

	status, resp := get()
	require.Equal(t, http.StatusOK, status, resp.Issues)
	assert.True(t, resp.OK)
	assert.Equal(t, "loopback", resp.STTProvider)
	require.Len(t, resp.Breakers, 1)
	assert.Equal(t, "closed", resp.Breakers[0].State)

	_ = guards.Get("stt").Breaker().Execute(func() error { return errors.New("upstream down") })
	status, resp = get()
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, resp.Issues, "stt breaker is open")

	h.Guards = nil
	m.Drain()
	status, resp = get()
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.True(t, resp.Draining)
	assert.Contains(t, resp.Issues, "draining")
}

func TestReadyz_InvalidConfig(t *testing.T) {
	cfg := config.Defaults() // required auth with no keys
	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg, Sessions: newManager(t)}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/agent"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/tasks"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	reg := agent.NewRegistry()
	script, err := agent.LoadScript("")
	require.NoError(t, err)
	require.NoError(t, reg.Register(agent.NewScripted(script)))

	m := session.NewManager(session.Config{}, session.Dependencies{
		Logger: discardLogger(),
		Agents: reg,
	})
	t.Cleanup(func() {
		m.CancelAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Wait(ctx)
	})
	return m
}

func sessionsMux(m *session.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	SessionsHandler{Config: config.Defaults(), Sessions: m, Logger: discardLogger()}.Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, rd))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) core.Code {
	t.Helper()
	var env apierror.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	require.NotNil(t, env.Error)
	return env.Error.Code
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp struct {
		Session session.Snapshot `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, types.SessionActive, resp.Session.Status)
	return resp.Session.ID
}

func TestSessions_CreateGetEnd(t *testing.T) {
	m := newManager(t)
	h := sessionsMux(m)
	id := createSession(t, h)

	var got struct {
		Session      session.Snapshot `json:"session"`
		RecentEvents []struct {
			Type string `json:"type"`
		} `json:"recent_events"`
	}
	require.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
		if rr.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(rr.Body.Bytes(), &got) == nil && len(got.RecentEvents) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, id, got.Session.ID)
	assert.Equal(t, "session_started", got.RecentEvents[0].Type)

	rr := do(t, h, http.MethodPost, "/v1/sessions/"+id+"/end", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var ended map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ended))
	assert.Equal(t, types.EndAPIRequest, ended["reason"])
	assert.Contains(t, ended, "duration_ms")

	rr = do(t, h, http.MethodPost, "/v1/sessions/"+id+"/end", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, core.CodeSessionAlreadyEnded, errorCode(t, rr))

	// Ended sessions stay readable until reaped.
	rr = do(t, h, http.MethodGet, "/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, types.SessionEnded, got.Session.Status)
}

func TestSessions_LookupErrors(t *testing.T) {
	h := sessionsMux(newManager(t))

	rr := do(t, h, http.MethodGet, "/v1/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, core.CodeValidationInvalidID, errorCode(t, rr))

	rr = do(t, h, http.MethodGet, "/v1/sessions/0192f2a4-8c1e-7a3b-9c4d-5e6f7a8b9c0d", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, core.CodeSessionNotFound, errorCode(t, rr))
}

func TestSessions_SubmitUtterance(t *testing.T) {
	h := sessionsMux(newManager(t))
	id := createSession(t, h)
	path := "/v1/sessions/" + id + "/utterances"

	rr := do(t, h, http.MethodPost, path, `{"text":"hello there"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var u types.Utterance
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &u))
	assert.Equal(t, "hello there", u.Text)
	assert.Equal(t, 1.0, u.Confidence)
	assert.Equal(t, id, u.SessionID)

	tests := []struct {
		name   string
		body   string
		status int
		code   core.Code
	}{
		{"empty text", `{"text":"   "}`, http.StatusBadRequest, core.CodeValidationInvalidField},
		{"confidence out of range", `{"text":"hi","confidence":1.5}`, http.StatusBadRequest, core.CodeValidationOutOfRange},
		{"unknown field", `{"text":"hi","speaker":"x"}`, http.StatusBadRequest, core.CodeValidationInvalidField},
		{"wrong type", `{"text":42}`, http.StatusBadRequest, core.CodeValidationInvalidField},
		{"malformed", `{"text":`, http.StatusBadRequest, core.CodeValidationMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, path, tc.body)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.code, errorCode(t, rr))
		})
	}
}

func TestSessions_RecordOnlySkipsAgents(t *testing.T) {
	m := newManager(t)
	h := sessionsMux(m)
	id := createSession(t, h)

	rr := do(t, h, http.MethodPost, "/v1/sessions/"+id+"/utterances",
		`{"text":"check my balance","confidence":0.9,"record_only":true,"interrupted":true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var u types.Utterance
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &u))
	assert.True(t, u.Interrupted)

	list, err := m.ListTasks(id)
	require.NoError(t, err)
	assert.Empty(t, list)

	snap, err := m.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.UtteranceCount)
}

func TestSessions_TasksListAndCancel(t *testing.T) {
	h := sessionsMux(newManager(t))
	id := createSession(t, h)

	rr := do(t, h, http.MethodGet, "/v1/sessions/"+id+"/tasks", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"session_id":"`+id+`","tasks":[]}`, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/v1/sessions/"+id+"/utterances", `{"text":"check my balance"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var list struct {
		Tasks []tasks.Task `json:"tasks"`
	}
	require.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/tasks", nil))
		if json.Unmarshal(rr.Body.Bytes(), &list) != nil {
			return false
		}
		return len(list.Tasks) == 1 && list.Tasks[0].Status.Terminal()
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, tasks.StatusSucceeded, list.Tasks[0].Status)

	rr = do(t, h, http.MethodPost, "/v1/sessions/"+id+"/tasks/"+list.Tasks[0].ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, core.CodeTaskNotCancellable, errorCode(t, rr))

	rr = do(t, h, http.MethodPost, "/v1/sessions/"+id+"/tasks/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, core.CodeTaskNotFound, errorCode(t, rr))
}

func TestSessions_CreateWhileDraining(t *testing.T) {
	m := newManager(t)
	m.Drain()
	rr := do(t, sessionsMux(m), http.MethodPost, "/v1/sessions", "")
	assert.Equal(t, 529, rr.Code)
	assert.Equal(t, core.CodeSessionDraining, errorCode(t, rr))
}

func TestSessions_EventStream(t *testing.T) {
	m := newManager(t)
	h := sessionsMux(m)
	id := createSession(t, h)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/sessions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	_, err = m.End(context.Background(), id, types.EndAPIRequest)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: session_started\n")
	assert.Contains(t, string(body), "event: session_ended\n")

	rr := do(t, h, http.MethodGet, "/v1/sessions/"+id+"/events", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

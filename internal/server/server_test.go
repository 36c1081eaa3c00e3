package server

import (
	"bytes"
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

	"github.com/alanyoungcy/wagerbot/internal/arbiter"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/oracle"
	"github.com/alanyoungcy/wagerbot/internal/server/handler"
	"github.com/alanyoungcy/wagerbot/internal/server/middleware"
	"github.com/alanyoungcy/wagerbot/internal/service"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
)

const (
	alice = "0xaaaa000000000000000000000000000000000001"
	bob   = "0xbbbb000000000000000000000000000000000002"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	t       *testing.T
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewRepository()

	fixed, err := oracle.NewFixed(domain.OutcomeYes, nil)
	require.NoError(t, err)
	agg := arbiter.NewAggregator(arbiter.NewClassifier(fixed, logger),
		arbiter.Config{EvaluationTimeout: time.Second, Concurrency: 16}, nil, logger)

	wagers := service.NewWagerService(service.Capabilities{
		Repo:    repo,
		Locks:   memory.NewLockManager(),
		Arbiter: agg,
		Clock:   service.ContextClock{Fallback: func() time.Time { return t0 }},
	}, service.DefaultPolicy(), logger)
	queries := service.NewQueryService(repo, repo)

	srv := NewServer(Config{TrustTimeHeader: true}, Handlers{
		Health:  handler.NewHealthHandler("server", nil, logger),
		Wagers:  handler.NewWagerHandler(wagers, queries, logger),
		Players: handler.NewPlayerHandler(queries, wagers, logger),
	}, nil, nil, logger)
	return &testAPI{t: t, handler: srv.httpServer.Handler}
}

type call struct {
	method, path string
	caller       string
	value        string
	at           time.Time
	body         string
}

func (a *testAPI) do(c call) (int, map[string]any) {
	a.t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.caller != "" {
		req.Header.Set(middleware.HeaderAddress, c.caller)
	}
	if c.value != "" {
		req.Header.Set(middleware.HeaderValue, c.value)
	}
	if !c.at.IsZero() {
		req.Header.Set(middleware.HeaderTime, c.at.Format(time.RFC3339))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out), rec.Body.String())
	}
	return rec.Code, out
}

func createBody(deadline time.Time) string {
	b, _ := json.Marshal(map[string]any{
		"prediction":   "Lisbon gets rain on March 2nd",
		"stake_amount": 10,
		"deadline":     deadline,
		"category":     "weather",
		"criteria":     "Rain recorded at Lisbon airport",
	})
	return string(b)
}

func TestWagerLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	deadline := t0.Add(time.Hour)

	status, body := api.do(call{method: http.MethodPost, path: "/api/wagers", body: createBody(deadline)})
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", body["code"])

	status, body = api.do(call{method: http.MethodPost, path: "/api/wagers", caller: alice, value: "10", body: createBody(deadline)})
	require.Equal(t, http.StatusCreated, status, body)
	id := body["id"].(string)
	assert.Equal(t, "waiting", body["status"])

	status, body = api.do(call{method: http.MethodGet, path: "/api/wagers/last"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])

	status, body = api.do(call{method: http.MethodPost, path: "/api/wagers/" + id + "/accept", caller: bob, value: "10", body: `{"stance":"disagree"}`})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "active", body["status"])

	status, body = api.do(call{method: http.MethodPost, path: "/api/wagers/" + id + "/verify", caller: bob, at: t0.Add(time.Minute)})
	require.Equal(t, http.StatusTooEarly, status)
	assert.Equal(t, "too_early", body["code"])

	after := deadline.Add(time.Minute)
	status, body = api.do(call{method: http.MethodPost, path: "/api/wagers/" + id + "/verify", caller: bob, at: after})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "YES", body["outcome"])
	assert.Equal(t, false, body["is_final"])

	status, body = api.do(call{method: http.MethodPost, path: "/api/wagers/" + id + "/resolve", caller: alice, at: after})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_final", body["code"])

	status, body = api.do(call{method: http.MethodPost, path: "/api/wagers/" + id + "/appeal", caller: bob, at: after, body: `{"reason":"source was stale"}`})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["is_final"])
	assert.EqualValues(t, 50, body["validators_used"])

	status, body = api.do(call{method: http.MethodPost, path: "/api/wagers/" + id + "/resolve", caller: alice, at: after})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "resolved", body["wager"].(map[string]any)["status"])
	payouts := body["payouts"].([]any)
	require.Len(t, payouts, 1)
	assert.Equal(t, alice, payouts[0].(map[string]any)["address"])
	assert.EqualValues(t, 20, payouts[0].(map[string]any)["amount"])

	status, body = api.do(call{method: http.MethodGet, path: "/api/wagers/" + id + "/status"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resolved", body["status"])

	status, body = api.do(call{method: http.MethodGet, path: "/api/leaderboard?limit=10"})
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, alice, items[0].(map[string]any)["address"])
	assert.EqualValues(t, 1, items[0].(map[string]any)["rank"])

	status, body = api.do(call{method: http.MethodGet, path: "/api/stats"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total_resolved"])
	assert.EqualValues(t, 20, body["total_volume"])

	status, body = api.do(call{method: http.MethodGet, path: "/api/wagers/" + id + "/payouts"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["payouts"], 1)
}

func TestRequestErrors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		call   call
		status int
		code   string
	}{
		{"unknown wager", call{method: http.MethodGet, path: "/api/wagers/wager_missing"}, http.StatusNotFound, "not_found"},
		{"bad limit", call{method: http.MethodGet, path: "/api/wagers?limit=abc"}, http.StatusBadRequest, "validation_failed"},
		{"unknown field", call{method: http.MethodPost, path: "/api/wagers", caller: alice, body: `{"bogus":1}`}, http.StatusBadRequest, "validation_failed"},
		{"missing criteria", call{method: http.MethodPost, path: "/api/wagers", caller: alice, body: `{"prediction":"p","deadline":"2026-04-01T00:00:00Z"}`}, http.StatusBadRequest, "validation_failed"},
		{"bad evidence url", call{method: http.MethodPost, path: "/api/wagers/x/verify", caller: alice, body: `{"evidence_url":"not a url"}`}, http.StatusBadRequest, "validation_failed"},
		{"malformed caller", call{method: http.MethodGet, path: "/api/stats", caller: "alice"}, http.StatusBadRequest, "validation_failed"},
		{"unknown player", call{method: http.MethodGet, path: "/api/players/" + bob}, http.StatusNotFound, "not_found"},
		{"empty username", call{method: http.MethodPut, path: "/api/players/me/username", caller: alice, body: `{"username":""}`}, http.StatusBadRequest, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(tt.call)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestSetUsernameAndHealth(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(call{method: http.MethodPut, path: "/api/players/me/username", caller: alice, body: `{"username":"  alice  "}`})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "alice", body["username"])

	status, body = api.do(call{method: http.MethodGet, path: "/api/players/0x" + strings.ToUpper(alice[2:])})
	require.Equal(t, http.StatusOK, status, "addresses are case-insensitive")
	assert.Equal(t, alice, body["address"])

	status, body = api.do(call{method: http.MethodGet, path: "/api/players?limit=5"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 1)

	status, body = api.do(call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/outreach-orchestrator/internal/browser"
)

type stubSidecar struct {
	resp *browser.HealthResponse
	err  error
}

func (s stubSidecar) Health(ctx context.Context) (*browser.HealthResponse, error) {
	return s.resp, s.err
}

func checkHealth(t *testing.T, h *HealthHandler) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthReportsChannelState(t *testing.T) {
	body := checkHealth(t, NewHealthHandler(stubSidecar{resp: &browser.HealthResponse{BrowserReady: true, LoggedIn: false}}))
	assert.Equal(t, "ok", body["status"])
	channel := body["channel"].(map[string]any)
	assert.Equal(t, true, channel["reachable"])
	assert.Equal(t, false, channel["logged_in"])
}

func TestHealthStaysUpWhenSidecarIsDown(t *testing.T) {
	body := checkHealth(t, NewHealthHandler(stubSidecar{err: errors.New("connection refused")}))
	assert.Equal(t, "ok", body["status"])
	channel := body["channel"].(map[string]any)
	assert.Equal(t, false, channel["reachable"])
	assert.Equal(t, "connection refused", channel["error"])
}

func TestHealthWithoutSidecar(t *testing.T) {
	body := checkHealth(t, NewHealthHandler(nil))
	assert.NotContains(t, body, "channel")
}

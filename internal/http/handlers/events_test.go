package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

func readSSEData(t *testing.T, reader *bufio.Reader) eventbus.Event {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			var ev eventbus.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			return ev
		}
	}
}

func TestEventsStreamSendsHistoryThenLive(t *testing.T) {
	bus := eventbus.New(10)
	bus.Info("before connect", nil)
	h := NewEventsHandler(bus, logging.Discard())

	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, "before connect", readSSEData(t, reader).Message)

	bus.Warn("live event", map[string]any{"lead_id": "l1"})
	live := readSSEData(t, reader)
	assert.Equal(t, "live event", live.Message)
	assert.Equal(t, eventbus.LevelWarning, live.Level)

	cancel()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventsWebSocket(t *testing.T) {
	bus := eventbus.New(10)
	bus.Success("history", nil)
	h := NewEventsHandler(bus, logging.Discard())

	srv := httptest.NewServer(http.HandlerFunc(h.WebSocket))
	defer srv.Close()

	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", srv.URL)
	require.NoError(t, err)

	var ev eventbus.Event
	require.NoError(t, websocket.JSON.Receive(conn, &ev))
	assert.Equal(t, "history", ev.Message)

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	bus.Error("live", nil)
	require.NoError(t, websocket.JSON.Receive(conn, &ev))
	assert.Equal(t, "live", ev.Message)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventsHistory(t *testing.T) {
	bus := eventbus.New(10)
	bus.Info("one", nil)
	bus.Info("two", nil)

	rec := httptest.NewRecorder()
	NewEventsHandler(bus, nil).History(rec, httptest.NewRequest(http.MethodGet, "/events/history", nil))

	var body struct {
		Events []eventbus.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, "one", body.Events[0].Message)
}

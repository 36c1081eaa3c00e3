package ws

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

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/store/memory"
)

func event(topic, wagerID string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event": topic,
		"wager": map[string]string{"id": wagerID},
	})
	return b
}

func startHub(t *testing.T, bus *memory.SignalBus, cfg Config) (*httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(bus, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubReplaysRecentEvents(t *testing.T) {
	bus := memory.NewSignalBus()
	ctx := context.Background()
	require.NoError(t, bus.StreamAppend(ctx, "events", event("wager.created", "w1")))
	require.NoError(t, bus.StreamAppend(ctx, "events", event("wager.created", "w2")))
	require.NoError(t, bus.StreamAppend(ctx, "events", event("wager.accepted", "w1")))

	srv, cancel := startHub(t, bus, Config{ReplayStream: "events", ReplayCount: 10})
	defer cancel()

	conn := dial(t, srv, "?wager=w1")
	assert.Equal(t, "wager.created", readEvent(t, conn)["event"])
	assert.Equal(t, "wager.accepted", readEvent(t, conn)["event"])
}

func TestHubForwardsLiveEvents(t *testing.T) {
	bus := memory.NewSignalBus()
	srv, cancel := startHub(t, bus, Config{})
	defer cancel()

	conn := dial(t, srv, "")

	// Registration completes after the handshake, so publish until the
	// client sees the event.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = bus.Publish(context.Background(), "payout.delivered", event("payout.delivered", "w9"))
			}
		}
	}()

	assert.Equal(t, "payout.delivered", readEvent(t, conn)["event"])
}

func TestClientFilter(t *testing.T) {
	c := &client{topics: map[string]bool{"wager.*": true}, wagers: map[string]bool{}}
	assert.True(t, c.wants("wager.resolved", "w1"))
	assert.False(t, c.wants("payout.failed", "w1"))

	c.apply(subscribeMsg{Action: "subscribe", Topics: []string{"payout.failed"}, Wagers: []string{"w2"}})
	assert.True(t, c.wants("payout.failed", "w2"))
	assert.False(t, c.wants("payout.failed", "w1"))

	c.apply(subscribeMsg{Action: "unsubscribe", Wagers: []string{"w2"}})
	assert.True(t, c.wants("wager.created", "w1"))
}

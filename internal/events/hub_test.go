package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfy-cockpit/backend/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func startHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(logging.NewLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Serve(conn)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub, url := startHubServer(t)
	a := dial(t, url)
	b := dial(t, url)
	waitForClients(t, hub, 2)

	hub.Publish(TopicJobs, "job_created", map[string]string{"id": "j1"})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, TopicJobs, ev.Topic)
		assert.Equal(t, "job_created", ev.Type)
		data := ev.Data.(map[string]interface{})
		assert.Equal(t, "j1", data["id"])
	}
}

func TestHubTopicFiltering(t *testing.T) {
	hub, url := startHubServer(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(subscribeMessage{
		Action: "subscribe",
		Topics: []string{string(TopicAssets)},
	}))

	// give the read loop a moment to apply the filter
	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.topics != nil {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	hub.Publish(TopicJobProgress, "progress", map[string]float64{"value": 3})
	hub.Publish(TopicAssets, "asset_created", map[string]string{"id": "a1"})

	ev := readEvent(t, conn)
	assert.Equal(t, TopicAssets, ev.Topic, "filtered-out topic must not arrive first")
	assert.Equal(t, "asset_created", ev.Type)
}

func TestHubDisconnectCleanup(t *testing.T) {
	hub, url := startHubServer(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// publishing with no clients is a no-op, not a panic
	hub.Publish(TopicSystem, "status", nil)
}

package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nextconvert/assembler/internal/modules/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub([]string{"*"}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = data
	}
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, Payload: raw}))
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// subscribe waits for the pong so the subscription is in place before
// anything is broadcast.
func subscribe(t *testing.T, conn *websocket.Conn, runID string) {
	t.Helper()
	send(t, conn, "subscribe", map[string]string{"runId": runID})
	send(t, conn, "ping", nil)
	require.Equal(t, "pong", read(t, conn).Type)
}

func TestHubRoutesEventsToSubscribers(t *testing.T) {
	hub, url := startHub(t)
	watcher := dial(t, url)
	other := dial(t, url)
	subscribe(t, watcher, "run-1")
	subscribe(t, other, "run-2")

	hub.BroadcastProgress("run-1", "segmenting", 42.5, "Rendering scene 2 of 3")
	hub.BroadcastCompleted("run-1", "output/run-1.mp4", 15)

	msg := read(t, watcher)
	assert.Equal(t, jobs.EventProgress, msg.Type)
	var progress ProgressPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &progress))
	assert.Equal(t, "run-1", progress.RunID)
	assert.Equal(t, 42.5, progress.Percent)

	msg = read(t, watcher)
	assert.Equal(t, jobs.EventCompleted, msg.Type)

	hub.BroadcastFailed("run-2", "boom")
	msg = read(t, other)
	assert.Equal(t, jobs.EventFailed, msg.Type)
	var failed FailedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &failed))
	assert.Equal(t, "boom", failed.Error)
}

func TestHubUnsubscribe(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, "run-1")

	send(t, conn, "unsubscribe", map[string]string{"runId": "run-1"})
	send(t, conn, "ping", nil)
	require.Equal(t, "pong", read(t, conn).Type)

	hub.BroadcastFailed("run-1", "boom")
	send(t, conn, "ping", nil)
	assert.Equal(t, "pong", read(t, conn).Type)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}

func TestHubRefusesClientsAfterShutdown(t *testing.T) {
	hub := NewHub(nil, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	before := &Client{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]bool{}}
	require.True(t, hub.add(before))

	cancel()
	<-stopped

	_, open := <-before.send
	assert.False(t, open)

	after := &Client{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]bool{}}
	assert.False(t, hub.add(after))

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.clients)
}

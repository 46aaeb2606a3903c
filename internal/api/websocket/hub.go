package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nextconvert/assembler/internal/modules/jobs"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProgressPayload is an assembly:progress message body
type ProgressPayload struct {
	RunID   string  `json:"runId"`
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// CompletedPayload is an assembly:completed message body
type CompletedPayload struct {
	RunID     string  `json:"runId"`
	OutputKey string  `json:"outputKey"`
	Duration  float64 `json:"durationSeconds"`
}

// FailedPayload is an assembly:failed message body
type FailedPayload struct {
	RunID string `json:"runId"`
	Error string `json:"error"`
}

// Recorder receives connection metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordWebSocketConnection(connected bool)
	RecordWebSocketMessage(messageType string)
}

// Client represents a WebSocket client
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections and routes run events to the clients
// subscribed to each run.
type Hub struct {
	clients    map[*Client]bool
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	metrics    Recorder
	logger     *zap.Logger
	mu         sync.RWMutex
	closed     bool // guarded by mu; set once Run starts shutting down
}

// NewHub creates a new WebSocket hub. allowedOrigins may contain "*".
func NewHub(allowedOrigins []string, metrics Recorder, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", zap.Int("total_clients", total))
		}
	}
}

// add registers a client before its pumps start, so a subscribe it sends
// is never seen ahead of its registration.
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnection(true)
	}
	h.logger.Debug("Client connected", zap.Int("total_clients", total))
	return true
}

// drop removes a client; h.mu must be held.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnection(false)
	}
}

// HandleConnection handles a new WebSocket connection
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}

	if !h.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// SendToRun sends a message to all clients subscribed to a run
func (h *Hub) SendToRun(runID string, msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msgBytes, err := json.Marshal(Message{Type: msgType, Payload: data})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.mu.RLock()
		subscribed := client.subscriptions[runID]
		client.mu.RUnlock()

		if subscribed {
			select {
			case client.send <- msgBytes:
				if h.metrics != nil {
					h.metrics.RecordWebSocketMessage(msgType)
				}
			default:
				// Client buffer full, skip
			}
		}
	}

	return nil
}

// BroadcastProgress sends a progress update
func (h *Hub) BroadcastProgress(runID, stage string, percent float64, message string) {
	h.SendToRun(runID, jobs.EventProgress, ProgressPayload{
		RunID:   runID,
		Stage:   stage,
		Percent: percent,
		Message: message,
	})
}

// BroadcastCompleted sends a completion notification
func (h *Hub) BroadcastCompleted(runID, outputKey string, duration float64) {
	h.SendToRun(runID, jobs.EventCompleted, CompletedPayload{
		RunID:     runID,
		OutputKey: outputKey,
		Duration:  duration,
	})
}

// BroadcastFailed sends a failure notification
func (h *Hub) BroadcastFailed(runID, errorMsg string) {
	h.SendToRun(runID, jobs.EventFailed, FailedPayload{
		RunID: runID,
		Error: errorMsg,
	})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("WebSocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type runRef struct {
	RunID string `json:"runId"`
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "subscribe":
		var payload runRef
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.RunID != "" {
			c.mu.Lock()
			c.subscriptions[payload.RunID] = true
			c.mu.Unlock()
			c.hub.logger.Debug("Client subscribed to run", zap.String("run_id", payload.RunID))
		}

	case "unsubscribe":
		var payload runRef
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			c.mu.Lock()
			delete(c.subscriptions, payload.RunID)
			c.mu.Unlock()
			c.hub.logger.Debug("Client unsubscribed from run", zap.String("run_id", payload.RunID))
		}

	case "ping":
		response, _ := json.Marshal(Message{Type: "pong"})
		c.hub.mu.RLock()
		if c.hub.clients[c] {
			select {
			case c.send <- response:
			default:
			}
		}
		c.hub.mu.RUnlock()
	}
}

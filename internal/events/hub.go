// Package events fans job, asset, and system notifications out to connected
// frontend websockets.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"comfy-cockpit/backend/internal/logging"
)

// Topic groups events so a client can subscribe to a subset.
type Topic string

const (
	TopicJobs        Topic = "jobs"
	TopicJobProgress Topic = "job_progress"
	TopicAssets      Topic = "assets"
	TopicSystem      Topic = "system"
)

// Event is the wire envelope pushed to clients.
type Event struct {
	Topic Topic       `json:"topic"`
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 64
)

// Hub tracks connected clients and broadcasts events to them. A slow client
// gets disconnected rather than backpressuring the rest.
type Hub struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[Topic]bool // nil means all topics
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Serve takes ownership of an upgraded websocket connection and blocks until
// the peer disconnects. The read loop only processes subscription updates;
// this is a push channel, not an RPC surface.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("event client connected (%d active)", count)

	go h.writeLoop(c)
	h.readLoop(c)

	h.drop(c)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	c.once.Do(func() { close(c.send) })
	c.conn.Close()
	if ok {
		h.log.Debug("event client disconnected (%d active)", count)
	}
}

// subscribeMessage is the only inbound message shape clients may send.
// An empty topic list resets the client to all topics.
type subscribeMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

func (h *Hub) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Action != "subscribe" {
			continue
		}

		var topics map[Topic]bool
		if len(msg.Topics) > 0 {
			topics = make(map[Topic]bool, len(msg.Topics))
			for _, t := range msg.Topics {
				topics[Topic(t)] = true
			}
		}
		h.mu.Lock()
		c.topics = topics
		h.mu.Unlock()
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// Publish broadcasts one event to every client subscribed to its topic.
func (h *Hub) Publish(topic Topic, eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Topic: topic, Type: eventType, Data: data})
	if err != nil {
		h.log.Error("failed to encode event %s/%s: %v", topic, eventType, err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if c.topics != nil && !c.topics[topic] {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow event client")
		h.drop(c)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

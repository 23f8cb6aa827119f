// Package realtime fans job notifications out to the websocket connections
// subscribed to a topic.
package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultBuffer = 32

// Message is the frame written to clients.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Client is one subscriber. Frames are queued on a bounded buffer; when it is
// full new frames for that client are dropped.
type Client struct {
	id     string
	topics []string
	send   chan []byte
	once   sync.Once
}

// Send returns the frames queued for this client. It is closed when the
// client is unregistered.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Hub routes published events to clients by topic.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]struct{}
	buffer  int
	logger  zerolog.Logger
	dropped atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Register subscribes a new client to topics.
func (h *Hub) Register(id string, topics ...string) *Client {
	c := &Client{id: id, topics: topics, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		set, ok := h.topics[topic]
		if !ok {
			set = make(map[*Client]struct{})
			h.topics[topic] = set
		}
		set[c] = struct{}{}
	}
	return c
}

// Unregister removes c from every topic and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	for _, topic := range c.topics {
		if set, ok := h.topics[topic]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	h.mu.Unlock()
	c.once.Do(func() { close(c.send) })
}

// Publish delivers event to every client subscribed to topic without
// blocking. Topics without subscribers are a no-op.
func (h *Hub) Publish(topic, event string, payload any) {
	frame, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		h.logger.Warn().Err(err).Str("event", event).Msg("realtime: encode frame failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[topic] {
		select {
		case c.send <- frame:
		default:
			h.dropped.Add(1)
			h.logger.Warn().Str("client_id", c.id).Str("topic", topic).Str("event", event).Msg("realtime: client buffer full, dropping frame")
		}
	}
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the number of clients on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

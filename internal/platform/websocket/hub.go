// Package websocket pushes flow events to waiting-room displays, tracking
// pages and staff screens. Clients subscribe to topics (the whole floor, one
// department or one patient token) and receive every event published there.
package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is a notification sent to subscribed clients.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	PatientID string          `json:"patient_id,omitempty"`
	Token     string          `json:"token,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher publishes events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// DefaultRetention is how long the last event of a patient topic is kept for
// tracking pages that connect late.
const DefaultRetention = 12 * time.Hour

const sendBuffer = 64

// Client is one connected display. Its subscriptions are owned by the hub.
type Client struct {
	ID   string
	Send chan []byte

	conn   Conn
	topics map[string]struct{}
}

// NewClient creates an unattached client with a buffered Send channel.
func NewClient(id string) *Client {
	if id == "" {
		id = uuid.New().String()
	}
	return &Client{ID: id, Send: make(chan []byte, sendBuffer), topics: make(map[string]struct{})}
}

type retainedEvent struct {
	data []byte
	at   time.Time
}

// Hub routes published events to the clients subscribed to their topic.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[*Client]struct{}
	clients   map[*Client]struct{}
	last      map[string]retainedEvent
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithRetention changes how long patient-topic events are retained. Zero
// disables retention.
func WithRetention(d time.Duration) HubOption {
	return func(h *Hub) { h.retention = d }
}

// WithHubClock overrides the hub's time source.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		subs:      make(map[string]map[*Client]struct{}),
		clients:   make(map[*Client]struct{}),
		last:      make(map[string]retainedEvent),
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "websocket").Logger(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register attaches a client and subscribes it to topics. Unknown topic
// names are ignored.
func (h *Hub) Register(c *Client, topics ...string) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.Subscribe(c, topics)
}

// Unregister detaches a client and closes its Send channel. Calling it twice
// is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.detach(c, topic)
	}
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) detach(c *Client, topic string) {
	delete(c.topics, topic)
	if set, ok := h.subs[topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// Subscribe adds topics to a registered client and returns the canonical
// names that were accepted. A retained event on a newly subscribed topic is
// delivered immediately.
func (h *Hub) Subscribe(c *Client, topics []string) []string {
	valid, rejected := parseTopics(topics)
	if len(rejected) > 0 {
		h.logger.Debug().Str("client", c.ID).Strs("topics", rejected).Msg("ignoring unknown topics")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return nil
	}
	for _, topic := range valid {
		if _, dup := c.topics[topic]; dup {
			continue
		}
		c.topics[topic] = struct{}{}
		if h.subs[topic] == nil {
			h.subs[topic] = make(map[*Client]struct{})
		}
		h.subs[topic][c] = struct{}{}

		if ev, ok := h.last[topic]; ok && h.fresh(ev) {
			h.deliver(c, topic, ev.data)
		}
	}
	return valid
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(c *Client, topics []string) {
	valid, _ := parseTopics(topics)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range valid {
		h.detach(c, topic)
	}
}

// Topics lists a client's subscriptions in sorted order.
func (h *Hub) Topics(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Handle dispatches a client request.
func (h *Hub) Handle(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	default:
		h.logger.Debug().Str("client", c.ID).Str("action", msg.Action).Msg("unknown client action")
	}
}

// Broadcast sends an event to every client subscribed to topic. Clients
// whose buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.retention > 0 && retained(topic) {
		h.last[topic] = retainedEvent{data: data, at: h.now()}
		h.pruneRetained()
	}
	for c := range h.subs[topic] {
		h.deliver(c, topic, data)
	}
}

func (h *Hub) deliver(c *Client, topic string, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.logger.Warn().Str("client", c.ID).Str("topic", topic).Msg("client buffer full, event dropped")
	}
}

func (h *Hub) fresh(ev retainedEvent) bool {
	return h.retention > 0 && h.now().Sub(ev.at) < h.retention
}

func (h *Hub) pruneRetained() {
	for topic, ev := range h.last {
		if !h.fresh(ev) {
			delete(h.last, topic)
		}
	}
}

// Publish broadcasts the event to its topic, filling in id and timestamp
// when unset.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}
	h.Broadcast(event.Topic, event)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// RetainedCount returns the number of topics holding a retained event.
func (h *Hub) RetainedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.last)
}

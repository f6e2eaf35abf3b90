package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is the frame delivered to subscribers of Topic.
type Event struct {
	Topic string          `json:"topic"`
	Name  string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewEvent(topic, name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Topic: topic, Name: name, Data: data}, nil
}

// Client is one live connection. Send is closed by the hub when the client
// is dropped; the write pump exits when it drains.
type Client struct {
	ID     string
	UserID uuid.UUID
	Admin  bool
	Conn   *websocket.Conn
	Send   chan []byte

	closed bool
}

func NewClient(userID uuid.UUID, admin bool, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Admin:  admin,
		Send:   make(chan []byte, buffer),
	}
}

// Hub tracks topic membership for live connections and fans events out to
// them. Delivery is best-effort and at-most-once: nothing is queued for
// clients that are not subscribed at publish time.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]struct{}
	members map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		topics:  make(map[string]map[*Client]struct{}),
		members: make(map[*Client]map[string]struct{}),
	}
}

// Join subscribes c to topics. Topics are created on first join; joining a
// topic twice is a no-op. Joins on a dropped client are ignored.
func (h *Hub) Join(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	set := h.members[c]
	if set == nil {
		set = make(map[string]struct{})
		h.members[c] = set
	}
	for _, t := range topics {
		if h.topics[t] == nil {
			h.topics[t] = make(map[*Client]struct{})
		}
		h.topics[t][c] = struct{}{}
		set[t] = struct{}{}
	}
}

func (h *Hub) Leave(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range topics {
		h.unsubscribe(c, t)
	}
}

// Drop removes every membership of c and closes its send channel. Safe to
// call more than once.
func (h *Hub) Drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

func (h *Hub) Publish(topic, name string, payload any) {
	ev, err := NewEvent(topic, name, payload)
	if err != nil {
		log.Printf("publish dropped topic=%s event=%s err=%v", topic, name, err)
		return
	}
	h.Deliver(ev)
}

// Deliver writes ev to every current subscriber of ev.Topic and returns the
// number of clients that accepted it. A client whose buffer is full is
// considered lagging and is dropped.
func (h *Hub) Deliver(ev Event) int {
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Printf("encode event failed topic=%s event=%s err=%v", ev.Topic, ev.Name, err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.topics[ev.Topic] {
		select {
		case c.Send <- frame:
			delivered++
		default:
			log.Printf("dropping lagging client id=%s user=%s", c.ID, c.UserID)
			h.drop(c)
		}
	}
	return delivered
}

// Topics returns the current memberships of c.
func (h *Hub) Topics(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.members[c]))
	for t := range h.members[c] {
		out = append(out, t)
	}
	return out
}

// Register tracks c as a live connection with no memberships yet.
func (h *Hub) Register(c *Client) {
	h.Join(c)
}

// Connections returns the number of live registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) unsubscribe(c *Client, topic string) {
	if subs := h.topics[topic]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if set := h.members[c]; set != nil {
		delete(set, topic)
	}
}

func (h *Hub) drop(c *Client) {
	if c.closed {
		return
	}
	for t := range h.members[c] {
		h.unsubscribe(c, t)
	}
	delete(h.members, c)
	c.closed = true
	close(c.Send)
}

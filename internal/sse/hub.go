package sse

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// TopicLibrary carries library snapshots.
const TopicLibrary = "library"

// Event represents a server-sent event.
type Event struct {
	ID   string
	Type string // e.g. "snapshot", "download"
	Data string // JSON payload
}

// Hub is an in-memory pub/sub hub for SSE events.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[chan Event]struct{}
	// last holds the most recent event per topic, replayed to new subscribers.
	last map[string]Event
}

// New creates a new SSE Hub.
func New() *Hub {
	return &Hub{
		clients: make(map[string]map[chan Event]struct{}),
		last:    make(map[string]Event),
	}
}

// Subscribe registers a listener on the given topic. The latest event on
// the topic, if any, is delivered first. The returned function
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[chan Event]struct{})
	}
	h.clients[topic][ch] = struct{}{}
	if evt, ok := h.last[topic]; ok {
		ch <- evt
	}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients[topic], ch)
			if len(h.clients[topic]) == 0 {
				delete(h.clients, topic)
			}
			close(ch)
			h.mu.Unlock()
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers on the given topic.
// Non-blocking: slow clients are skipped.
func (h *Hub) Publish(topic string, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[topic] = event
	for ch := range h.clients[topic] {
		select {
		case ch <- event:
		default:
			// skip slow client
		}
	}
}

// PublishJSON marshals v as the event payload.
func (h *Hub) PublishJSON(topic, typ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(topic, Event{Type: typ, Data: string(data)})
	return nil
}

// Subscribers reports how many listeners topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[topic])
}

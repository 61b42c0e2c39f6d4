package session

import (
	"sync"

	"github.com/google/uuid"
)

const (
	defaultHistorySize   = 1000
	defaultSubscriberCap = 100
)

// Hub distributes session events to subscribers. Slow consumers lose
// events rather than stalling the engine: a wedged websocket must never
// back-pressure the poll loop.
type Hub struct {
	ring *RingBuffer

	mu     sync.RWMutex
	subs   map[string]chan Event
	closed bool
}

// NewHub creates a hub retaining the given number of events for
// late-subscriber catch-up. Zero selects the default.
func NewHub(history int) *Hub {
	if history <= 0 {
		history = defaultHistorySize
	}
	return &Hub{
		ring: NewRingBuffer(history),
		subs: make(map[string]chan Event),
	}
}

// Publish records the event and fans it out.
func (h *Hub) Publish(ev Event) {
	h.ring.Write(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber full, drop.
		}
	}
}

// Subscribe attaches a consumer and returns its id, its event channel,
// and the retained history from before it attached.
func (h *Hub) Subscribe() (string, <-chan Event, []Event) {
	id := uuid.New().String()
	ch := make(chan Event, defaultSubscriberCap)

	// History is captured before the subscription goes live: an event
	// published inside that window is not delivered. Replaying after
	// registration would hand the consumer duplicates instead.
	history := h.ring.ReadAll()

	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subs[id] = ch
	}
	h.mu.Unlock()

	return id, ch, history
}

// Unsubscribe detaches a consumer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// History returns the retained events.
func (h *Hub) History() []Event {
	return h.ring.ReadAll()
}

// Close detaches every consumer. Subsequent subscriptions receive a
// closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

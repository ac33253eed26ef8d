// Package stream fans structured change events out to live subscribers,
// per project. Delivery is best-effort: the broadcaster never blocks on a
// subscriber, and a subscriber that cannot keep up is dropped.
package stream

import (
	"log"
	"sync"
)

// Buffered events a subscriber may fall behind before being dropped.
const subscriberBuffer = 16

// Event types pushed to subscribers.
const (
	EventInit            = "init"
	EventFileUpdated     = "file_updated"
	EventPendingUpdate   = "pending_update"
	EventPendingResolved = "pending_resolved"
	EventHeartbeat       = "heartbeat"
)

// Event is a structured payload; the "type" key is always present.
type Event map[string]any

// NewEvent builds an event of the given type.
func NewEvent(eventType string) Event {
	return Event{"type": eventType}
}

// Hub holds the per-project subscriber lists.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan Event)}
}

// Subscribe registers a new subscriber channel for a project and returns it
// with its cancel func. Cancel is idempotent and closes the channel.
func (h *Hub) Subscribe(slug string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[slug] = append(h.subs[slug], ch)
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.remove(slug, ch)
		})
	}
	return ch, cancel
}

// Broadcast pushes an event to every subscriber of a project. A subscriber
// whose buffer is full is removed and closed rather than blocking delivery
// to the rest.
func (h *Hub) Broadcast(slug string, event Event) {
	h.mu.Lock()
	subs := h.subs[slug]
	var stale []chan Event
	kept := subs[:0]
	for _, ch := range subs {
		select {
		case ch <- event:
			kept = append(kept, ch)
		default:
			stale = append(stale, ch)
		}
	}
	if len(stale) > 0 {
		h.subs[slug] = kept
	}
	h.mu.Unlock()

	for _, ch := range stale {
		close(ch)
	}
	if len(stale) > 0 {
		log.Printf("stream: dropped %d stalled subscriber(s) for %s", len(stale), slug)
	}
}

// SubscriberCount reports the current number of subscribers for a project.
func (h *Hub) SubscriberCount(slug string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[slug])
}

func (h *Hub) remove(slug string, ch chan Event) {
	h.mu.Lock()
	for i, sub := range h.subs[slug] {
		if sub == ch {
			h.subs[slug] = append(h.subs[slug][:i], h.subs[slug][i+1:]...)
			close(ch)
			break
		}
	}
	h.mu.Unlock()
}

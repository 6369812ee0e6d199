// Package events fans clone lifecycle and progress events out to API and
// TUI subscribers.
package events

import (
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one published change. Identity is the clone it concerns, empty
// for process-wide events.
type Event struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	Identity string          `json:"identity,omitempty"`
	At       time.Time       `json:"at"`
	Data     json.RawMessage `json:"data"`
}

// Filter selects events. The zero Filter matches everything.
type Filter struct {
	Identity string
	Types    []string
}

func (f Filter) Match(ev Event) bool {
	if f.Identity != "" && ev.Identity != f.Identity {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, ev.Type)
}

const subscriberBuffer = 128

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub is an in-memory pub/sub. The newest events are kept in a ring so a
// reconnecting client can replay what it missed.
type Hub struct {
	dropped atomic.Int64

	mu     sync.Mutex
	nextID int64
	ring   []Event
	head   int // index of the oldest event
	filled int

	subs   map[int]subscriber
	nextSb int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish stamps data as the next event. A payload carrying an "identity"
// key tags the event with that clone.
func (h *Hub) Publish(eventType string, data any) {
	ev := Event{
		Type:     eventType,
		Identity: identityOf(data),
		At:       time.Now().UTC(),
		Data:     json.RawMessage("{}"),
	}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			ev.Data = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Numbered under mu so ring and subscriber order match ID order.
	h.nextID++
	ev.ID = h.nextID
	h.record(ev)
	for _, sub := range h.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

func identityOf(data any) string {
	switch v := data.(type) {
	case map[string]any:
		s, _ := v["identity"].(string)
		return s
	case interface{ EventIdentity() string }:
		return v.EventIdentity()
	}
	return ""
}

// Subscribe delivers future events matching f. The returned func ends the
// subscription and closes the channel; calling it again is a no-op. A
// subscriber that falls behind misses events rather than stalling Publish.
func (h *Hub) Subscribe(f Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSb
	h.nextSb++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = subscriber{ch: ch, filter: f}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts deliveries skipped because a subscriber's buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Since returns the buffered events after lastID that match f, oldest first.
func (h *Hub) Since(lastID int64, f Filter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Event
	for i := range h.filled {
		ev := h.ring[(h.head+i)%len(h.ring)]
		if ev.ID > lastID && f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) record(ev Event) {
	n := len(h.ring)
	if h.filled < n {
		h.ring[(h.head+h.filled)%n] = ev
		h.filled++
		return
	}
	h.ring[h.head] = ev
	h.head = (h.head + 1) % n
}

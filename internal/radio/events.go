package radio

import (
	"slices"
	"sync"
	"time"
)

// EventType identifies a radio notification.
type EventType string

const (
	// EventConnected is emitted once per new association.
	EventConnected EventType = "radio.connected"

	// EventDisconnected is emitted once per loss of association.
	EventDisconnected EventType = "radio.disconnected"
)

// Event is a radio notification. SSID is set for EventConnected and holds
// the network that was left for EventDisconnected.
type Event struct {
	Type      EventType `json:"type"`
	SSID      string    `json:"ssid,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives radio events. Implementations must not block; the
// controller delivers events synchronously from its own goroutine.
type Listener interface {
	OnRadioEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

// OnRadioEvent implements Listener.
func (f ListenerFunc) OnRadioEvent(event Event) { f(event) }

// hub fans events out to every subscribed listener.
type hub struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener
}

func newHub() *hub {
	return &hub{listeners: make(map[uint64]Listener)}
}

func (h *hub) subscribe(l Listener) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// publish delivers in subscription order.
func (h *hub) publish(event Event) {
	h.mu.RLock()
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		h.mu.RLock()
		l, ok := h.listeners[id]
		h.mu.RUnlock()
		if ok {
			l.OnRadioEvent(event)
		}
	}
}

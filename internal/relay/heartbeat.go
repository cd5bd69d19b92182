package relay

import (
	"sync"
	"time"
)

// Heartbeat is a single cancelable timer. Arming it replaces any pending
// fire; a fire that races with Cancel or a later Arm is dropped.
type Heartbeat struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Arm schedules fn to run after d, replacing any pending fire.
func (h *Heartbeat) Arm(d time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	gen := h.gen
	h.timer = time.AfterFunc(d, func() {
		h.mu.Lock()
		current := h.gen == gen && h.timer != nil
		if current {
			h.timer = nil
		}
		h.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Cancel drops the pending fire, if any, and reports whether there was one.
func (h *Heartbeat) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.timer == nil {
		return false
	}
	h.timer.Stop()
	h.timer = nil
	h.gen++
	return true
}

// Pending reports whether a fire is scheduled.
func (h *Heartbeat) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timer != nil
}

package alert

import (
	"context"
	"sync"
)

// History keeps the most recent alerts in memory.
type History struct {
	mu    sync.RWMutex
	buf   []Alert
	next  int
	count int
}

func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{buf: make([]Alert, size)}
}

func (h *History) Name() string { return "history" }

func (h *History) Deliver(_ context.Context, a Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = a
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
	return nil
}

// List returns up to limit alerts, newest first. limit <= 0 returns all.
func (h *History) List(limit int) []Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Alert, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

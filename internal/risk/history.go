package risk

import (
	"sync"
	"time"
)

const (
	DefaultHistoryDepth     = 256
	DefaultHistoryRetention = 24 * time.Hour
)

type ring struct {
	mu    sync.Mutex
	items []Attempt
	next  int
	full  bool
}

func (r *ring) push(a Attempt) {
	if !r.full && len(r.items) < cap(r.items) {
		r.items = append(r.items, a)
		if len(r.items) == cap(r.items) {
			r.full = true
		}
		return
	}
	r.items[r.next] = a
	r.next = (r.next + 1) % len(r.items)
}

// ordered returns entries after cutoff, oldest first.
func (r *ring) ordered(cutoff time.Time) []Attempt {
	out := make([]Attempt, 0, len(r.items))
	start := 0
	if r.full {
		start = r.next
	}
	for i := 0; i < len(r.items); i++ {
		a := r.items[(start+i)%len(r.items)]
		if a.At.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func (r *ring) newest() time.Time {
	if len(r.items) == 0 {
		return time.Time{}
	}
	i := len(r.items) - 1
	if r.full {
		i = (r.next - 1 + len(r.items)) % len(r.items)
	}
	return r.items[i].At
}

// History keeps a bounded, time-limited log of attempts per key. Keys are
// opaque; callers usually keep one namespace for identifiers and one for
// addresses.
type History struct {
	mu        sync.RWMutex
	rings     map[string]*ring
	depth     int
	retention time.Duration
}

// NewHistory returns an empty history. Non-positive arguments use defaults.
func NewHistory(depth int, retention time.Duration) *History {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	return &History{rings: make(map[string]*ring), depth: depth, retention: retention}
}

// Record appends a to the log of key.
func (h *History) Record(key string, a Attempt) {
	h.mu.RLock()
	r := h.rings[key]
	h.mu.RUnlock()
	if r == nil {
		h.mu.Lock()
		if r = h.rings[key]; r == nil {
			r = &ring{items: make([]Attempt, 0, h.depth)}
			h.rings[key] = r
		}
		h.mu.Unlock()
	}
	r.mu.Lock()
	r.push(a)
	r.mu.Unlock()
}

// Recent returns attempts of key newer than now minus retention, oldest first.
func (h *History) Recent(key string, now time.Time) []Attempt {
	h.mu.RLock()
	r := h.rings[key]
	h.mu.RUnlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ordered(now.Add(-h.retention))
}

// Forget drops the log of key.
func (h *History) Forget(key string) {
	h.mu.Lock()
	delete(h.rings, key)
	h.mu.Unlock()
}

// Sweep drops logs whose newest entry is past retention.
func (h *History) Sweep(now time.Time) int {
	cutoff := now.Add(-h.retention)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for k, r := range h.rings {
		r.mu.Lock()
		idle := !r.newest().After(cutoff)
		r.mu.Unlock()
		if idle {
			delete(h.rings, k)
			n++
		}
	}
	return n
}

// Len reports tracked keys.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rings)
}

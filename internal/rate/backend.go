package rate

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Backend stores attempt logs and violation blocks.
type Backend interface {
	// Hit returns the active block, if any, without recording. Otherwise it
	// evicts entries older than the largest window, counts the log inside
	// each window, then records now.
	Hit(ctx context.Context, key string, now time.Time, windows []time.Duration) (counts []int, blockedUntil time.Time, err error)
	Block(ctx context.Context, key string, now, until time.Time) error
	// Peek returns logged attempts newer than now-horizon and the block.
	Peek(ctx context.Context, key string, now time.Time, horizon time.Duration) (hits []time.Time, blockedUntil time.Time, err error)
	// Reset removes the log and block for key, or for every key starting
	// with it when prefix is set, and returns how many logs were dropped.
	Reset(ctx context.Context, key string, prefix bool) (int, error)
	// Sweep drops logs idle for longer than horizon and expired blocks.
	Sweep(ctx context.Context, now time.Time, horizon time.Duration) (int, error)
}

type memLog struct {
	mu           sync.Mutex
	hits         []time.Time
	blockedUntil time.Time
	// dead is set under mu when the log leaves the map.
	dead bool
}

func (l *memLog) evict(cutoff time.Time) {
	i := sort.Search(len(l.hits), func(i int) bool { return l.hits[i].After(cutoff) })
	if i > 0 {
		l.hits = append(l.hits[:0], l.hits[i:]...)
	}
}

// countSince reports entries strictly after cutoff. hits is sorted.
func countSince(hits []time.Time, cutoff time.Time) int {
	i := sort.Search(len(hits), func(i int) bool { return hits[i].After(cutoff) })
	return len(hits) - i
}

// Memory is the in-process backend. Each log carries its own mutex, the map
// lock is held only to find or create a log.
type Memory struct {
	mu   sync.RWMutex
	logs map[string]*memLog
}

func NewMemory() *Memory {
	return &Memory{logs: make(map[string]*memLog)}
}

func (m *Memory) log(key string, create bool) *memLog {
	m.mu.RLock()
	l := m.logs[key]
	m.mu.RUnlock()
	if l != nil || !create {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l = m.logs[key]; l == nil {
		l = &memLog{}
		m.logs[key] = l
	}
	return l
}

// acquire returns the live log for key with its mutex held. A log removed
// between lookup and locking is looked up again.
func (m *Memory) acquire(key string) *memLog {
	for {
		l := m.log(key, true)
		l.mu.Lock()
		if !l.dead {
			return l
		}
		l.mu.Unlock()
	}
}

// remove drops key from the map. Callers hold m.mu.
func (m *Memory) remove(key string, l *memLog) {
	l.mu.Lock()
	l.dead = true
	l.mu.Unlock()
	delete(m.logs, key)
}

func (m *Memory) Hit(_ context.Context, key string, now time.Time, windows []time.Duration) ([]int, time.Time, error) {
	l := m.acquire(key)
	defer l.mu.Unlock()

	if now.Before(l.blockedUntil) {
		return nil, l.blockedUntil, nil
	}
	l.evict(now.Add(-windows[len(windows)-1]))

	counts := make([]int, len(windows))
	for i, w := range windows {
		counts[i] = countSince(l.hits, now.Add(-w))
	}
	// Keep the log sorted even if the clock stepped backwards.
	if n := len(l.hits); n > 0 && now.Before(l.hits[n-1]) {
		now = l.hits[n-1]
	}
	l.hits = append(l.hits, now)
	return counts, time.Time{}, nil
}

func (m *Memory) Block(_ context.Context, key string, _, until time.Time) error {
	l := m.acquire(key)
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
	l.mu.Unlock()
	return nil
}

func (m *Memory) Peek(_ context.Context, key string, now time.Time, horizon time.Duration) ([]time.Time, time.Time, error) {
	l := m.log(key, false)
	if l == nil {
		return nil, time.Time{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-horizon)
	i := sort.Search(len(l.hits), func(i int) bool { return l.hits[i].After(cutoff) })
	hits := append([]time.Time(nil), l.hits[i:]...)
	return hits, l.blockedUntil, nil
}

func (m *Memory) Reset(_ context.Context, key string, prefix bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !prefix {
		l, ok := m.logs[key]
		if !ok {
			return 0, nil
		}
		m.remove(key, l)
		return 1, nil
	}
	n := 0
	for k, l := range m.logs {
		if strings.HasPrefix(k, key) {
			m.remove(k, l)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Sweep(_ context.Context, now time.Time, horizon time.Duration) (int, error) {
	cutoff := now.Add(-horizon)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, l := range m.logs {
		l.mu.Lock()
		idle := (len(l.hits) == 0 || !l.hits[len(l.hits)-1].After(cutoff)) && !now.Before(l.blockedUntil)
		if idle {
			l.dead = true
		}
		l.mu.Unlock()
		if idle {
			delete(m.logs, k)
			n++
		}
	}
	return n, nil
}

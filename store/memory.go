package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/clock"
)

type memRecord struct {
	data      []byte
	expiresAt time.Time
}

func (r *memRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

// Memory is an in-process [Store]. Expiry is evaluated lazily against the
// injected clock and expired keys are pruned on access or by [Memory.Prune].
type Memory struct {
	mu    sync.RWMutex
	data  map[string]*memRecord
	clock clock.Clock
}

// NewMemory creates an empty in-process store. A nil clock uses wall time.
func NewMemory(c clock.Clock) *Memory {
	return &Memory{
		data:  make(map[string]*memRecord),
		clock: clock.OrSystem(c),
	}
}

func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	rec := &memRecord{data: cloneBytes(value)}
	if ttl > 0 {
		rec.expiresAt = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	now := m.clock.Now()

	m.mu.RLock()
	rec, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if rec.expired(now) {
		m.mu.Lock()
		if cur, ok := m.data[key]; ok && cur == rec {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return cloneBytes(rec.data), nil
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[key]
	if !ok {
		return false, nil
	}
	delete(m.data, key)
	return !rec.expired(now), nil
}

// ScanPrefix returns live entries whose key starts with prefix, ordered by key.
func (m *Memory) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	now := m.clock.Now()

	m.mu.RLock()
	out := make([]Entry, 0)
	for k, rec := range m.data {
		if !strings.HasPrefix(k, prefix) || rec.expired(now) {
			continue
		}
		out = append(out, Entry{Key: k, Value: cloneBytes(rec.data), ExpiresAt: rec.expiresAt})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[key]
	if !ok || rec.expired(now) {
		return false, nil
	}
	if !bytes.Equal(rec.data, old) {
		return false, nil
	}

	next := &memRecord{data: cloneBytes(new), expiresAt: rec.expiresAt}
	if ttl > 0 {
		next.expiresAt = now.Add(ttl)
	}
	m.data[key] = next
	return true, nil
}

// Prune removes expired keys and returns how many were dropped.
func (m *Memory) Prune() int {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, rec := range m.data {
		if rec.expired(now) {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored keys, including expired ones not yet pruned.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package store

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count     int64
	timestamp time.Time
	stamped   bool
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation.
// It is safe for concurrent use. State is lost on process restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := NewOptions(opts...)
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     o.Now,
	}
}

// Increment atomically adds by to the counter for key and refreshes its timestamp.
func (m *MemoryStore) Increment(_ context.Context, key string, by int64) (int64, error) {
	if by <= 0 {
		by = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}

	e.count += by
	e.timestamp = m.now()
	e.stamped = true
	return e.count, nil
}

// GetRemaining returns the quota left for key in its current window.
func (m *MemoryStore) GetRemaining(_ context.Context, key string, limit int64, interval time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return limit, nil
	}
	if e.stamped && Expired(e.timestamp, m.now(), interval) {
		return limit, nil
	}
	return Remaining(limit, e.count), nil
}

// Reset removes all state for the given key.
func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// GetTimestamp returns the last activity time recorded for key.
func (m *MemoryStore) GetTimestamp(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.stamped {
		return time.Time{}, false, nil
	}
	return e.timestamp, true, nil
}

// SetTimestamp records the current time for key, creating an empty entry if needed.
func (m *MemoryStore) SetTimestamp(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.timestamp = m.now()
	e.stamped = true
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// load returns a copy of the state for key; used by TieredStore.
func (m *MemoryStore) load(key string) (entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	return *e, true
}

// store replaces the state for key; used by TieredStore.
func (m *MemoryStore) store(key string, e entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &e
}

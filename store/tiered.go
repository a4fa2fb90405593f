package store

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*TieredStore)(nil)

// TieredStore wraps an in-memory store (fast path) with a persistent backend
// (durable path). Writes go to the persistent store first and are mirrored
// into memory. Reads are answered from memory only while the key was synced
// with the persistent store within the cache TTL; after that the key is
// reloaded, so changes made through the persistent store by another process,
// such as a reset, become visible within one TTL.
type TieredStore struct {
	memory     *MemoryStore
	persistent Store
	ttl        time.Duration
	now        func() time.Time

	mu     sync.Mutex
	synced map[string]time.Time
}

// NewTieredStore creates a TieredStore backed by the given persistent store.
// An internal MemoryStore is created automatically with the given options.
func NewTieredStore(persistent Store, opts ...Option) *TieredStore {
	o := NewOptions(opts...)
	return &TieredStore{
		memory:     NewMemoryStore(opts...),
		persistent: persistent,
		ttl:        o.CacheTTL,
		now:        o.Now,
		synced:     make(map[string]time.Time),
	}
}

// Increment writes through to the persistent backend, which is the source of
// truth for the returned count, and mirrors the result into memory.
func (t *TieredStore) Increment(ctx context.Context, key string, by int64) (int64, error) {
	count, err := t.persistent.Increment(ctx, key, by)
	if err != nil {
		t.forget(key)
		return 0, err
	}

	t.memory.store(key, entry{count: count, timestamp: t.now(), stamped: true})
	t.markSynced(key)
	return count, nil
}

// GetRemaining answers from memory while the key is fresh. Otherwise it
// reloads the key from the persistent store first.
func (t *TieredStore) GetRemaining(ctx context.Context, key string, limit int64, interval time.Duration) (int64, error) {
	if !t.fresh(key) {
		if err := t.reload(ctx, key, limit, interval); err != nil {
			return 0, err
		}
	}
	return t.memory.GetRemaining(ctx, key, limit, interval)
}

// Reset removes the key from both stores.
func (t *TieredStore) Reset(ctx context.Context, key string) error {
	t.forget(key)
	return t.persistent.Reset(ctx, key)
}

// GetTimestamp reads from memory while the key is fresh, and from the
// persistent store otherwise.
func (t *TieredStore) GetTimestamp(ctx context.Context, key string) (time.Time, bool, error) {
	if t.fresh(key) {
		e, ok := t.memory.load(key)
		if !ok || !e.stamped {
			return time.Time{}, false, nil
		}
		return e.timestamp, true, nil
	}
	return t.persistent.GetTimestamp(ctx, key)
}

// SetTimestamp writes through to the persistent store. A fresh memory entry
// is updated in place; a stale one is left for the next read to reload.
func (t *TieredStore) SetTimestamp(ctx context.Context, key string) error {
	fresh := t.fresh(key)
	if err := t.persistent.SetTimestamp(ctx, key); err != nil {
		t.forget(key)
		return err
	}
	if fresh {
		return t.memory.SetTimestamp(ctx, key)
	}
	return nil
}

// Close closes the persistent backend. The in-memory store needs no cleanup.
func (t *TieredStore) Close() error {
	return t.persistent.Close()
}

func (t *TieredStore) fresh(key string) bool {
	if t.ttl <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.synced[key]
	return ok && t.now().Sub(at) < t.ttl
}

func (t *TieredStore) markSynced(key string) {
	if t.ttl <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.synced[key] = t.now()
}

func (t *TieredStore) forget(key string) {
	t.mu.Lock()
	delete(t.synced, key)
	t.mu.Unlock()
	t.memory.Reset(context.Background(), key)
}

// reload rebuilds the memory entry for key from the persistent store. Only
// the contract's read operations are available, so the count is derived from
// the remaining quota of a live window.
func (t *TieredStore) reload(ctx context.Context, key string, limit int64, interval time.Duration) error {
	t.forget(key)

	ts, ok, err := t.persistent.GetTimestamp(ctx, key)
	if err != nil {
		return err
	}
	remaining, err := t.persistent.GetRemaining(ctx, key, limit, interval)
	if err != nil {
		return err
	}
	if ok || remaining != limit {
		t.memory.store(key, entry{
			count:     limit - remaining,
			timestamp: ts,
			stamped:   ok,
		})
	}
	t.markSynced(key)
	return nil
}

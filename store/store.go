package store

import (
	"context"
	"time"
)

// Store defines the interface for rate limit state backends.
//
// A key's state is a request counter plus the time of its last recorded
// activity. An absent key has a count of zero and no timestamp.
// Implementations must be safe for concurrent use across keys.
type Store interface {
	// Increment atomically adds by to the counter for key, creating it at by
	// when absent, and returns the new total. A non-positive by counts as 1.
	Increment(ctx context.Context, key string, by int64) (int64, error)

	// GetRemaining returns max(limit-count, 0) for a live window. A window whose
	// last activity is older than interval is reported as fully available
	// (limit); GetRemaining never mutates state.
	GetRemaining(ctx context.Context, key string, limit int64, interval time.Duration) (int64, error)

	// Reset deletes all state for key. Resetting an absent key is a no-op.
	Reset(ctx context.Context, key string) error

	// GetTimestamp returns the last recorded activity time. ok is false when
	// no timestamp has been set.
	GetTimestamp(ctx context.Context, key string) (ts time.Time, ok bool, err error)

	// SetTimestamp records the current time as the key's last activity.
	SetTimestamp(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Options holds settings shared by the bundled backends.
type Options struct {
	Now    func() time.Time
	Prefix string

	// CacheTTL bounds how long TieredStore answers reads from memory before
	// consulting the persistent store again.
	CacheTTL time.Duration
}

// Option configures a backend.
type Option func(*Options)

// WithClock sets the time source used when recording and comparing timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// WithPrefix sets the namespace prefix for backends that share a keyspace.
func WithPrefix(prefix string) Option {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithCacheTTL sets how long TieredStore trusts its memory tier. Zero or
// negative disables the cache, so every read goes to the persistent store.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.CacheTTL = ttl
	}
}

// DefaultPrefix namespaces keys in shared backends.
const DefaultPrefix = "rtl"

// DefaultCacheTTL is the TieredStore memory freshness bound.
const DefaultCacheTTL = time.Second

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{Now: time.Now, Prefix: DefaultPrefix, CacheTTL: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Expired reports whether a window last active at ts has run past interval at now.
func Expired(ts, now time.Time, interval time.Duration) bool {
	return now.Sub(ts) > interval
}

// Remaining clamps limit-count at zero.
func Remaining(limit, count int64) int64 {
	return max(limit-count, 0)
}

// EpochSeconds converts t into the float epoch form persisted by the backends.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromEpochSeconds is the inverse of EpochSeconds.
func FromEpochSeconds(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

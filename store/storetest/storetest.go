// Package storetest provides a conformance suite for store.Store backends.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryhazerus/fastlimit/store"
)

// FakeClock is a manually advanced time source.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock fixed at 2024-01-15 14:30 UTC.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewStoreFunc builds a fresh, empty store whose timestamps come from now.
// It should register cleanup with t.
type NewStoreFunc func(t *testing.T, now func() time.Time) store.Store

// Run exercises the behaviour every store.Store backend must share.
func Run(t *testing.T, newStore NewStoreFunc) {
	t.Helper()
	ctx := context.Background()

	t.Run("IncrementFromEmpty", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		got, err := s.Increment(ctx, "k", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)

		got, err = s.Increment(ctx, "k", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(6), got)
	})

	t.Run("NonPositiveIncrementCountsAsOne", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		got, err := s.Increment(ctx, "k", 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("RemainingOnAbsentKey", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		got, err := s.GetRemaining(ctx, "missing", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got)
	})

	t.Run("RemainingTracksCount", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		_, err := s.Increment(ctx, "k", 1)
		require.NoError(t, err)
		got, err := s.GetRemaining(ctx, "k", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(9), got)

		_, err = s.Increment(ctx, "k", 5)
		require.NoError(t, err)
		got, err = s.GetRemaining(ctx, "k", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(4), got)
	})

	t.Run("RemainingClampsAtZero", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		_, err := s.Increment(ctx, "k", 15)
		require.NoError(t, err)
		got, err := s.GetRemaining(ctx, "k", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got)
	})

	t.Run("RemainingOnExpiredWindowIsPureRead", func(t *testing.T) {
		clock := NewFakeClock()
		s := newStore(t, clock.Now)

		_, err := s.Increment(ctx, "k", 5)
		require.NoError(t, err)
		require.NoError(t, s.SetTimestamp(ctx, "k"))

		clock.Advance(2 * time.Minute)

		got, err := s.GetRemaining(ctx, "k", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got)

		// The stale state is still there for the engine to reset explicitly.
		_, ok, err := s.GetTimestamp(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ResetClearsState", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		_, err := s.Increment(ctx, "k", 5)
		require.NoError(t, err)
		require.NoError(t, s.SetTimestamp(ctx, "k"))

		got, err := s.GetRemaining(ctx, "k", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got)

		require.NoError(t, s.Reset(ctx, "k"))

		got, err = s.GetRemaining(ctx, "k", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got)

		_, ok, err := s.GetTimestamp(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ResetIsIdempotent", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		require.NoError(t, s.Reset(ctx, "never-seen"))

		_, err := s.Increment(ctx, "k", 3)
		require.NoError(t, err)
		require.NoError(t, s.Reset(ctx, "k"))
		require.NoError(t, s.Reset(ctx, "k"))

		got, err := s.GetRemaining(ctx, "k", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got)
	})

	t.Run("TimestampRoundTrip", func(t *testing.T) {
		clock := NewFakeClock()
		s := newStore(t, clock.Now)

		_, ok, err := s.GetTimestamp(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetTimestamp(ctx, "k"))

		ts, ok, err := s.GetTimestamp(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.WithinDuration(t, clock.Now(), ts, time.Millisecond)
	})

	t.Run("SetTimestampOnAbsentKeyLeavesFullQuota", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		require.NoError(t, s.SetTimestamp(ctx, "k"))

		got, err := s.GetRemaining(ctx, "k", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got)
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		s := newStore(t, NewFakeClock().Now)

		_, err := s.Increment(ctx, "a", 4)
		require.NoError(t, err)

		got, err := s.GetRemaining(ctx, "b", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got)
	})
}

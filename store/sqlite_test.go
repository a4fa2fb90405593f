package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreIncrementRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLiteStore(t, WithClock(clock.Now))
	ctx := context.Background()

	_, err := s.Increment(ctx, "k", 1)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, err = s.Increment(ctx, "k", 1)
	require.NoError(t, err)

	ts, ok, err := s.GetTimestamp(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, clock.Now(), ts, time.Millisecond)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtl.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s1.Increment(ctx, "k", 3)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetRemaining(ctx, "k", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestSQLiteStoreConcurrentIncrement(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "k", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Increment(ctx, "k", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(51), got)
}

func TestSQLiteStoreSharedFileConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtl.db")
	ctx := context.Background()

	var stores []*SQLiteStore
	for i := 0; i < 2; i++ {
		s, err := NewSQLiteStore(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		stores = append(stores, s)
	}

	var wg sync.WaitGroup
	for _, s := range stores {
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					_, err := s.Increment(ctx, "k", 1)
					assert.NoError(t, err)
				}
			}()
		}
	}
	wg.Wait()

	got, err := stores[0].GetRemaining(ctx, "k", 1000, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(800), got)
}

func TestWithConnParams(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{":memory:", ":memory:?_pragma=busy_timeout(5000)&_txlock=immediate"},
		{"rtl.db", "rtl.db?_pragma=busy_timeout(5000)&_txlock=immediate"},
		{"file:rtl.db?mode=rwc", "file:rtl.db?mode=rwc&_pragma=busy_timeout(5000)&_txlock=immediate"},
		{"rtl.db?_txlock=exclusive", "rtl.db?_txlock=exclusive&_pragma=busy_timeout(5000)"},
		{"rtl.db?_pragma=busy_timeout(100)&_txlock=deferred", "rtl.db?_pragma=busy_timeout(100)&_txlock=deferred"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, withConnParams(tt.dsn))
		})
	}
}

func TestSQLiteStoreErrorsAfterClose(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	ctx := context.Background()

	tests := []struct {
		name string
		op   Op
		want string
		call func() error
	}{
		{"Increment", OpIncrement, "incrementing counter in sqlite", func() error {
			_, err := s.Increment(ctx, "k", 1)
			return err
		}},
		{"GetRemaining", OpGetRemaining, "retrieving counter from sqlite", func() error {
			_, err := s.GetRemaining(ctx, "k", 10, time.Minute)
			return err
		}},
		{"Reset", OpReset, "resetting counter in sqlite", func() error {
			return s.Reset(ctx, "k")
		}},
		{"GetTimestamp", OpGetTimestamp, "retrieving timestamp from sqlite", func() error {
			_, _, err := s.GetTimestamp(ctx, "k")
			return err
		}},
		{"SetTimestamp", OpSetTimestamp, "setting timestamp in sqlite", func() error {
			return s.SetTimestamp(ctx, "k")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)

			var storageErr *StorageError
			require.True(t, errors.As(err, &storageErr))
			assert.Equal(t, tt.op, storageErr.Op)
			assert.Equal(t, "sqlite", storageErr.Backend)
			assert.NotNil(t, errors.Unwrap(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewSQLiteStoreBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "rtl.db")

	_, err := NewSQLiteStore(path)
	require.Error(t, err)

	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, OpOpen, storageErr.Op)
}

func TestSQLiteStoreCancelledContext(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Increment(ctx, "k", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := s.GetRemaining(context.Background(), "k", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
}

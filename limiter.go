package fastlimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryhazerus/fastlimit/store"
)

// ErrLimitExceeded is returned when a request is denied due to rate limiting.
var ErrLimitExceeded = errors.New("fastlimit: rate limit exceeded")

// LimitExceededError provides details about a denied key and supports waiting
// for its window to reset.
type LimitExceededError struct {
	Key            string
	Limit          int64
	TimeUntilReset time.Duration
	resetAt        time.Time
	now            func() time.Time
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("fastlimit: rate limit exceeded for %s (limit %d, resets in %.2fs)",
		e.Key, e.Limit, e.TimeUntilReset.Seconds())
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// Wait blocks until the window resets or the context is cancelled. The delay
// is measured on the limiter's clock, so a clock set with WithClock decides
// how long Wait sleeps.
func (e *LimitExceededError) Wait(ctx context.Context) error {
	now := e.now
	if now == nil {
		now = time.Now
	}
	delay := e.resetAt.Sub(now())
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Key     string
	Allowed bool
	Limit   int64

	// Remaining is the quota observed before this request was counted.
	Remaining int64

	// TimeUntilReset is set on denial: how long until the key's window expires.
	TimeUntilReset time.Duration

	resetAt time.Time
	now     func() time.Time
}

// Err returns a *LimitExceededError for a denied decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitExceededError{
		Key:            d.Key,
		Limit:          d.Limit,
		TimeUntilReset: d.TimeUntilReset,
		resetAt:        d.resetAt,
		now:            d.now,
	}
}

// Wait blocks until a denied decision's window resets or ctx is done.
// It returns immediately for an admitted decision.
func (d Decision) Wait(ctx context.Context) error {
	if d.Allowed {
		return nil
	}
	return (&LimitExceededError{resetAt: d.resetAt, now: d.now}).Wait(ctx)
}

// ResetAt returns when a denied decision's window expires.
func (d Decision) ResetAt() time.Time {
	return d.resetAt
}

// Limiter is a fixed-window admission controller. It holds no per-key state:
// every check reads and writes the window through its store, so one Limiter is
// safe to share across goroutines and many Limiters may share one store.
//
// The read-then-increment sequence is not atomic. Concurrent checks for the
// same key may all observe remaining quota and all be admitted, so a window
// can overshoot its limit by the number of racing callers minus one.
type Limiter struct {
	store    store.Store
	limit    int64
	interval time.Duration

	now      func() time.Time
	logger   *zap.Logger
	metrics  *MetricsCollector
	onDenied func(Decision)
}

// New creates a Limiter that admits up to limit requests per key in each
// interval, tracking state in st.
func New(st store.Store, limit int64, interval time.Duration, opts ...Option) (*Limiter, error) {
	if st == nil {
		return nil, &ConfigurationError{Reason: "store is required"}
	}
	if limit <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("limit must be positive, got %d", limit)}
	}
	if interval <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("interval must be positive, got %s", interval)}
	}

	l := &Limiter{
		store:    st,
		limit:    limit,
		interval: interval,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Limit returns the number of requests admitted per window.
func (l *Limiter) Limit() int64 { return l.limit }

// Interval returns the window length.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Check decides whether one more request for key is admitted. An admitted
// request is counted before Check returns. Storage failures are returned
// wrapped; errors.As finds the underlying *store.StorageError.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, &ConfigurationError{Reason: "rate limit key is empty"}
	}

	start := l.now()
	d, err := l.check(ctx, key)
	if l.metrics != nil {
		l.metrics.observe(d, err, l.now().Sub(start))
	}
	if err != nil {
		l.logger.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
		return Decision{}, err
	}

	if !d.Allowed {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("limit", l.limit),
			zap.Duration("time_until_reset", d.TimeUntilReset))
		if l.onDenied != nil {
			l.onDenied(d)
		}
	}
	return d, nil
}

func (l *Limiter) check(ctx context.Context, key string) (Decision, error) {
	ts, stamped, err := l.store.GetTimestamp(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("fastlimit: check %s: %w", key, err)
	}

	now := l.now()
	if stamped && store.Expired(ts, now, l.interval) {
		if err := l.store.Reset(ctx, key); err != nil {
			return Decision{}, fmt.Errorf("fastlimit: check %s: %w", key, err)
		}
		l.logger.Debug("rate limit window expired", zap.String("key", key), zap.Time("last_activity", ts))
	}

	remaining, err := l.store.GetRemaining(ctx, key, l.limit, l.interval)
	if err != nil {
		return Decision{}, fmt.Errorf("fastlimit: check %s: %w", key, err)
	}

	d := Decision{Key: key, Limit: l.limit, Remaining: remaining, now: l.now}

	if remaining <= 0 {
		if !stamped {
			// A counter without a timestamp would never expire, so start its window now.
			if err := l.store.SetTimestamp(ctx, key); err != nil {
				return Decision{}, fmt.Errorf("fastlimit: check %s: %w", key, err)
			}
			ts = now
		}
		d.resetAt = ts.Add(l.interval)
		d.TimeUntilReset = max(0, d.resetAt.Sub(now))
		return d, nil
	}

	if _, err := l.store.Increment(ctx, key, 1); err != nil {
		return Decision{}, fmt.Errorf("fastlimit: check %s: %w", key, err)
	}
	if err := l.store.SetTimestamp(ctx, key); err != nil {
		return Decision{}, fmt.Errorf("fastlimit: check %s: %w", key, err)
	}

	d.Allowed = true
	return d, nil
}

// Remaining returns the quota left for key without counting a request.
func (l *Limiter) Remaining(ctx context.Context, key string) (int64, error) {
	remaining, err := l.store.GetRemaining(ctx, key, l.limit, l.interval)
	if err != nil {
		return 0, fmt.Errorf("fastlimit: remaining %s: %w", key, err)
	}
	return remaining, nil
}

// Reset clears all state for key, starting it on a fresh window.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("fastlimit: reset %s: %w", key, err)
	}
	return nil
}

// Close releases resources held by the limiter's store.
func (l *Limiter) Close() error {
	return l.store.Close()
}

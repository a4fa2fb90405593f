package fastlimit

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Limiter.
type Option func(*Limiter)

// WithClock sets the time source used to evaluate window expiry and to time
// Decision.Wait. It should match the clock of the store.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger for window resets, denials, and storage failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records every check in the given collector.
func WithMetrics(m *MetricsCollector) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithOnDenied sets a callback that fires whenever a check is denied.
func WithOnDenied(fn func(Decision)) Option {
	return func(l *Limiter) {
		l.onDenied = fn
	}
}

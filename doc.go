// Package fastlimit provides per-key fixed-window rate limiting with pluggable
// state backends.
//
// # Key Concepts
//
//   - A key identifies one caller and resource pair, e.g. "203.0.113.7:/items".
//     The limiter treats it as opaque.
//   - [Limiter] admits up to a fixed number of requests per key in each
//     interval. A window starts with the first admitted request and expires once
//     the key has been idle for longer than the interval.
//   - [store.Store] holds the per-key counter and last-activity timestamp.
//     Memory, SQLite, tiered, and Redis backends are provided.
//   - [Strategy] controls how adapters react to a denial: block, wait for the
//     window to reset, or log only.
//
// # Quick Start
//
//	st, err := store.NewSQLiteStore("rtl.db")
//	if err != nil {
//		return err
//	}
//	limiter, err := fastlimit.New(st, 100, time.Minute)
//	if err != nil {
//		return err
//	}
//	defer limiter.Close()
//
//	d, err := limiter.Check(ctx, "203.0.113.7:/items")
//	if err != nil {
//		// Storage failure: the caller decides whether to fail open or closed.
//	}
//	if !d.Allowed {
//		// Reject; d.TimeUntilReset says when to come back.
//	}
//
// The httplimit subpackage wraps a Limiter as net/http middleware, and
// [Limiter.Transport] guards outgoing requests.
package fastlimit

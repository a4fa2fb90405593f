// Package store defines the [Store] interface for rate limit state backends
// and provides three implementations:
//
//   - [MemoryStore]: in-process state that is lost on restart.
//   - [SQLiteStore]: persistent state in a local SQLite table.
//   - [TieredStore]: a memory cache in front of any persistent Store.
//
// A Redis-backed store lives in the store/redis subpackage. Custom backends can
// be created by implementing the [Store] interface; failures should be reported
// as [*StorageError] so callers can tell them apart from rate limit outcomes.
package store

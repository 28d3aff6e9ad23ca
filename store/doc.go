// Package store defines the [Store] interface for global rate limit state
// backends and provides three implementations:
//
//   - [MemoryStore]: in-process reset timestamps, private to one process.
//   - [SQLiteStore]: reset timestamps in a SQLite database, shared by every
//     process on the host that opens the same file.
//   - [TieredStore]: a MemoryStore fast path in front of any shared backend.
//
// A Redis-backed store for sharing state between hosts lives in the
// store/redis subpackage. Custom backends can be created by implementing the
// [Store] interface.
package store

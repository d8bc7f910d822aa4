// Package store provides the persistence collaborators the gate reads from.
//
// # Architecture
//
// The gate depends on two narrow interfaces:
//
//   - AccountStore: fetch an account by ID (the source of truth for tier and
//     subscription), plus an upsert used by tooling and tests
//   - UsageStore: read and increment per-period usage counters
//
// Stores that can re-establish a connection also implement Pinger; the identity
// resolver calls it before its single retry.
//
// # Implementations
//
//   - SQLiteStore: accounts and usage counters in SQLite, via modernc.org/sqlite
//     ("sqlite", pure Go) or github.com/mattn/go-sqlite3 ("sqlite3", cgo)
//   - RedisUsageStore: usage counters only, one INCR key per billing period
//   - MockStore: in-memory, with failure injection for tests
//
// # Not-found semantics
//
// GetAccount returns ErrNotFound for deleted or unknown accounts. Every other
// error is an infrastructure failure and must not be reported to users as an
// authentication problem.
package store

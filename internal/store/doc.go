// Package store provides persistence for relay identities.
//
// The relay deliberately does not persist conversation history: session
// event logs live in bounded in-memory replay buffers (see internal/session)
// and are discarded when a session is evicted. What does need to survive
// restarts is the set of principals allowed to present bearer tokens, and
// that is what this package stores.
//
// # Principals
//
// A Principal is an identity with a lifecycle status:
//
//   - approved: may authenticate
//   - pending: created but awaiting approval, rejected at the auth boundary
//   - revoked: permanently rejected
//
// # SQLite
//
// SQLiteStore is the only implementation, built on modernc.org/sqlite (pure
// Go, no CGO). WAL mode is enabled for concurrent reads and the schema is
// created on open. Pass ":memory:" for an ephemeral store in tests.
package store

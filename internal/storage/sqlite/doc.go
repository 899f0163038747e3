// Package sqlite is the durable storage backend. One database file holds
// any number of collections.
//
// Live documents and tombstones live in separate tables with identical
// columns; accepted updates move a row between them when its deleted
// flag flips. Attachment payloads are stored out of line, keyed by
// (collection, document, attachment).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Change feeds read both tables ordered by (lwt, id COLLATE BINARY), so
// pagination is deterministic across runs.
package sqlite

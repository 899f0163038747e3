// Package doc defines the document envelope shared by every storage
// backend and by replication: identity, revision tokens, last-write-time
// ordering and the canonical serialization revisions are computed over.
//
// doc imports nothing internal. Every other internal package builds on it.
//
// Key constraints:
//   - Revisions are "<height>-<hash>"; height grows by exactly one per write
//   - Canonical JSON (RFC 8785) is the only encoding used for digests
//   - LWT values from Now are strictly increasing within a process
package doc

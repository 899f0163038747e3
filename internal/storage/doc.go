// Package storage defines the contract every storage backend satisfies
// and the pieces backends share: checkpoints, the change stream hub and
// single-document write helpers.
//
// Backends live in subpackages (memory, sqlite, sharded). Each one runs
// bulk writes through bulkwrite.Categorize inside its own critical
// section, then publishes the resulting event bulk tagged with a
// checkpoint of its own shape.
//
// # Checkpoints
//
// A checkpoint is an opaque JSON object. Single-table backends use
// DefaultCheckpoint ({"id": ..., "lwt": ...}); the sharded backend keys one
// DefaultCheckpoint per shard and its change events carry only the shard
// that changed. StackCheckpoints merges a partial checkpoint onto a full
// one without losing the other shards' progress.
package storage

// Package bulkwrite decides what a batch of document writes does to a
// storage instance: which rows insert, update or delete, which rows
// conflict with the stored revision, and which change events result.
//
// Categorize is pure. Storage backends call it inside their write
// transaction with the current state of the touched keys and then apply
// the returned plan; the replication protocol only ever sees its effects
// through the storage contract.
package bulkwrite

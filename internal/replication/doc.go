// Package replication keeps a fork storage instance and a master storage
// instance convergent.
//
// Two loops run per replication. The pull loop (direction "down") copies
// master changes into the fork; the push loop (direction "up") sends fork
// changes to the master. Each loop reads the source's change feed from its
// last checkpoint, applies the batch to the destination, and then
// persists the new checkpoint in a metadata instance. Both loops share
// one State handle holding the cancellation signal and the checkpoint
// cache.
//
// # Conflicts
//
// Every destination write declares the revision it expects to replace.
// When the destination disagrees, a ConflictHandler picks the winning
// state (MasterWins by default). The metadata instance also records, per
// document, the last master state the fork is known to agree with
// ("assumed master state"); the pull loop uses it to leave unpushed fork
// edits alone and the push loop uses it as the expected master revision.
//
// # Checkpoints
//
// Checkpoint writes go through the same optimistic revision check as any
// other document write and retry on conflict until they succeed or the
// replication is canceled. A canceled replication never writes a
// checkpoint, so progress is never recorded for data that was not
// applied.
package replication

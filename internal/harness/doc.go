// Package harness runs replication scenarios described in YAML and checks
// their outcome.
//
// # Scenario Format
//
//	name: concurrent_edit
//	description: "Both sides edit one document between syncs"
//	schema: ../schemas/human.cue
//	collection: human
//	conflict_strategy: master-wins
//	batch_size: 2
//	steps:
//	  - op: put
//	    store: fork
//	    doc: { passportId: alice, firstName: Alice, age: 31 }
//	  - op: remove
//	    store: master
//	    id: bob
//	  - op: sync
//	assertions:
//	  - type: converged
//	  - type: document
//	    store: master
//	    id: alice
//	    expect: { firstName: Alice }
//	  - type: count
//	    store: fork
//	    count: 1
//
// Documents are written in the flat form (primary key next to the data
// fields). A sync step replicates until both sides are in sync and then
// stops; checkpoints persist between sync steps, so later syncs only move
// what changed.
//
// # Assertion Types
//
//   - converged: fork and master hold the same documents in the same states
//   - document: the document exists in store and its fields match expect
//     (subset match; "_deleted" checks the tombstone flag)
//   - count: store holds exactly count live documents
//
// # Deterministic Testing
//
// Every run uses fresh in-memory stores with fixed instance tokens and a
// testutil.DeterministicClock. Golden snapshots record document states
// only; revisions and write times depend on how the two replication loops
// interleave and are left out.
package harness

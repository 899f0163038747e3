package replication

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/storage"
)

// Metadata document fields.
const (
	fieldItemID         = "itemId"
	fieldIsCheckpoint   = "isCheckpoint"
	fieldCheckpointData = "checkpointData"
	fieldDocData        = "docData"

	flagCheckpoint   = "1"
	flagAssumedState = "0"

	checkpointKeyPrefix = "rx_storage_replication_"
)

// HashFunction digests the checkpoint key input.
type HashFunction func(data []byte) string

// Blake3Hash is the default HashFunction: hex-encoded BLAKE3-256.
func Blake3Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MetaSchema is the schema of the metadata instance. Ids are composed as
// "<itemId>|<isCheckpoint>": "<direction>|1" for checkpoints and
// "<document id>|0" for assumed master states.
func MetaSchema() doc.Schema {
	return doc.Schema{
		Name:       "replication_meta",
		PrimaryKey: "id",
		CompositeKey: &doc.CompositeKey{
			Fields:    []string{fieldItemID, fieldIsCheckpoint},
			Separator: "|",
		},
	}
}

// GetCheckpointKey derives the metadata namespace of a replication from
// its identifier and the master's database and collection names.
func GetCheckpointKey(input Input) string {
	hash := input.HashFunction
	if hash == nil {
		hash = Blake3Hash
	}
	parts := []string{input.Identifier, input.Master.DatabaseName(), input.Master.CollectionName()}
	return checkpointKeyPrefix + hash([]byte(strings.Join(parts, "||")))
}

func metaID(itemID, flag string) string {
	id, err := MetaSchema().ComposeID(map[string]any{fieldItemID: itemID, fieldIsCheckpoint: flag})
	if err != nil {
		// Both fields are always present.
		panic(err)
	}
	return id
}

func checkpointDocID(direction Direction) string {
	return metaID(string(direction), flagCheckpoint)
}

func checkpointData(d *doc.Document) storage.Checkpoint {
	if d == nil {
		return nil
	}
	if m, ok := d.Data[fieldCheckpointData].(map[string]any); ok {
		return storage.Checkpoint(m)
	}
	return nil
}

// GetLastCheckpointDoc reads the stored checkpoint of direction and
// caches its document on the state. It returns nil when no checkpoint was
// written yet.
func GetLastCheckpointDoc(ctx context.Context, s *State, direction Direction) (storage.Checkpoint, error) {
	found, err := storage.GetSingle(ctx, s.input.Meta, checkpointDocID(direction), false)
	if err != nil {
		return nil, newError(ErrCodeCheckpoint, direction, "read checkpoint", err)
	}

	s.mu.Lock()
	s.lastCheckpointDoc[direction] = found
	s.checkpointLoaded[direction] = true
	s.mu.Unlock()

	return checkpointData(found), nil
}

// currentCheckpoint returns the cached checkpoint, reading it on first use.
func (s *State) currentCheckpoint(ctx context.Context, direction Direction) (storage.Checkpoint, error) {
	s.mu.Lock()
	loaded, cached := s.checkpointLoaded[direction], s.lastCheckpointDoc[direction]
	s.mu.Unlock()
	if loaded {
		return checkpointData(cached), nil
	}
	return GetLastCheckpointDoc(ctx, s, direction)
}

type writeOutcome int

const (
	writeSucceeded writeOutcome = iota
	writeConflicted
	writeFailed
)

// writeResult is the outcome of one single-document write attempt.
type writeResult struct {
	outcome      writeOutcome
	written      doc.Document
	documentInDB *doc.Document
	err          error
}

func writeOne(ctx context.Context, inst storage.Instance, row bulkwrite.Row, writeContext string) writeResult {
	written, err := storage.WriteSingle(ctx, inst, row, writeContext)
	if err == nil {
		return writeResult{outcome: writeSucceeded, written: written}
	}
	if bulkwrite.IsConflict(err) {
		var werr *bulkwrite.WriteError
		if errors.As(err, &werr) && werr.DocumentInDB != nil {
			return writeResult{outcome: writeConflicted, documentInDB: werr.DocumentInDB}
		}
	}
	return writeResult{outcome: writeFailed, err: err}
}

// SetCheckpoint persists cp as the progress of direction. It does nothing
// when the replication is canceled, when cp is nil, or when cp equals the
// cached checkpoint. cp is stacked onto the previous checkpoint so that
// partial checkpoints never lose progress; on a revision conflict the
// stored document is taken as the new previous and the write is retried
// until it succeeds or the replication is canceled.
func SetCheckpoint(ctx context.Context, s *State, direction Direction, cp storage.Checkpoint) error {
	if cp == nil || s.isCanceled() {
		return nil
	}

	s.mu.Lock()
	previous := s.lastCheckpointDoc[direction]
	s.mu.Unlock()
	if previous != nil && checkpointData(previous).Equal(cp) {
		return nil
	}

	plain, err := plainCheckpoint(cp)
	if err != nil {
		return newError(ErrCodeCheckpoint, direction, "encode checkpoint", err)
	}

	for !s.isCanceled() {
		next := plain
		if previous != nil {
			next = storage.StackCheckpoints(checkpointData(previous), plain)
		}
		d := doc.Document{
			ID: checkpointDocID(direction),
			Data: map[string]any{
				fieldItemID:         string(direction),
				fieldIsCheckpoint:   flagCheckpoint,
				fieldCheckpointData: map[string]any(next),
			},
		}
		d.Meta.LWT = s.input.Clock.Now()
		if d.Rev, err = doc.CreateRevision(s.checkpointKey, d, previous); err != nil {
			return newError(ErrCodeCheckpoint, direction, "create checkpoint revision", err)
		}

		res := writeOne(ctx, s.input.Meta, bulkwrite.Row{Document: d, Previous: previous}, "replication-set-checkpoint")
		switch res.outcome {
		case writeSucceeded:
			s.checkpointWritten(direction, res.written)
			return nil
		case writeConflicted:
			s.log.Debug("checkpoint conflict, retrying", "direction", direction, "rev", res.documentInDB.Rev)
			previous = res.documentInDB
		default:
			return newError(ErrCodeCheckpoint, direction, "write checkpoint", res.err)
		}
	}
	return nil
}

func (s *State) checkpointWritten(direction Direction, written doc.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheckpointDoc[direction] = &written
	s.checkpointLoaded[direction] = true
	s.input.Metrics.CheckpointWrites.WithLabelValues(string(direction)).Inc()

	first := s.firstCheckpoint[direction]
	select {
	case <-first:
	default:
		close(first)
	}
}

// plainCheckpoint converts cp to plain JSON values so that it can be
// stored in a document and compared canonically.
func plainCheckpoint(cp storage.Checkpoint) (storage.Checkpoint, error) {
	raw, err := storage.MarshalCheckpoint(cp)
	if err != nil {
		return nil, err
	}
	out, err := storage.UnmarshalCheckpoint(raw)
	if err != nil {
		return nil, fmt.Errorf("checkpoint round trip: %w", err)
	}
	return out, nil
}

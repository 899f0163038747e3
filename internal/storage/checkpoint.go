package storage

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/roach88/docsync/internal/doc"
)

// Checkpoint is an opaque progress token. Only the backend that produced
// it interprets its fields.
type Checkpoint map[string]any

// DefaultCheckpoint is the checkpoint of single-table backends: the
// (lwt, id) of the last document seen.
type DefaultCheckpoint struct {
	ID  string `json:"id"`
	LWT int64  `json:"lwt"`
}

// Checkpoint renders the opaque form.
func (c DefaultCheckpoint) Checkpoint() Checkpoint {
	return Checkpoint{"id": c.ID, "lwt": c.LWT}
}

// CheckpointOf returns the checkpoint positioned at d.
func CheckpointOf(d doc.Document) DefaultCheckpoint {
	return DefaultCheckpoint{ID: d.ID, LWT: d.Meta.LWT}
}

// After reports whether d sorts strictly after the checkpoint in
// (lwt, id) order.
func (c DefaultCheckpoint) After(d doc.Document) bool {
	if d.Meta.LWT != c.LWT {
		return d.Meta.LWT > c.LWT
	}
	return d.ID > c.ID
}

// ParseDefaultCheckpoint reads a DefaultCheckpoint from its opaque form.
// A nil checkpoint parses as the zero checkpoint (start of the feed).
// Numbers may arrive as any Go numeric type after a JSON round trip.
func ParseDefaultCheckpoint(cp Checkpoint) (DefaultCheckpoint, error) {
	if cp == nil {
		return DefaultCheckpoint{}, nil
	}
	var out DefaultCheckpoint
	if raw, ok := cp["id"]; ok && raw != nil {
		id, ok := raw.(string)
		if !ok {
			return DefaultCheckpoint{}, fmt.Errorf("checkpoint id: want string, got %T", raw)
		}
		out.ID = id
	}
	if raw, ok := cp["lwt"]; ok && raw != nil {
		f, ok := doc.ToFloat(raw)
		if !ok {
			return DefaultCheckpoint{}, fmt.Errorf("checkpoint lwt: want number, got %T", raw)
		}
		out.LWT = int64(f)
	}
	return out, nil
}

// StackCheckpoints merges checkpoints left to right: keys of later
// checkpoints override earlier ones, keys they lack are kept. Merging is
// associative, and commutative for checkpoints with disjoint keys, such as
// the partial checkpoints of independent shards.
func StackCheckpoints(cps ...Checkpoint) Checkpoint {
	var out Checkpoint
	for _, cp := range cps {
		if cp == nil {
			continue
		}
		if out == nil {
			out = make(Checkpoint, len(cp))
		}
		maps.Copy(out, cp)
	}
	return out
}

// Clone returns a deep copy.
func (c Checkpoint) Clone() Checkpoint {
	if c == nil {
		return nil
	}
	return Checkpoint(doc.CloneMap(c))
}

// Equal compares checkpoints by canonical JSON.
func (c Checkpoint) Equal(other Checkpoint) bool {
	return doc.CanonicalEqual(map[string]any(c), map[string]any(other))
}

// MarshalCheckpoint encodes a checkpoint for storage columns and flags.
func MarshalCheckpoint(c Checkpoint) ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]any(c))
}

// UnmarshalCheckpoint decodes a checkpoint written by MarshalCheckpoint.
func UnmarshalCheckpoint(raw []byte) (Checkpoint, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	return Checkpoint(m), nil
}

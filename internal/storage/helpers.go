package storage

import (
	"context"
	"fmt"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/queryplan"
)

// WriteSingle writes one row and returns the stored document. A rejected
// row comes back as its *bulkwrite.WriteError.
func WriteSingle(ctx context.Context, inst Instance, row bulkwrite.Row, writeContext string) (doc.Document, error) {
	resp, err := inst.BulkWrite(ctx, []bulkwrite.Row{row}, writeContext)
	if err != nil {
		return doc.Document{}, err
	}
	if len(resp.Errors) > 0 {
		return doc.Document{}, resp.Errors[0]
	}
	if len(resp.Success) == 0 {
		return doc.Document{}, fmt.Errorf("write %q: no result", row.Document.ID)
	}
	return resp.Success[0], nil
}

// GetSingle returns the document with id, or nil when it does not exist.
// Tombstones are returned only with withDeleted.
func GetSingle(ctx context.Context, inst Instance, id string, withDeleted bool) (*doc.Document, error) {
	docs, err := inst.FindDocumentsByID(ctx, []string{id}, withDeleted)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.ID == id {
			found := d
			return &found, nil
		}
	}
	return nil, nil
}

// Upsert writes d as the next revision of whatever is stored under d.ID,
// tombstone included. The revision and write time are computed here; any
// values on d are ignored.
func Upsert(ctx context.Context, inst Instance, clock doc.Clock, d doc.Document, writeContext string) (doc.Document, error) {
	previous, err := GetSingle(ctx, inst, d.ID, true)
	if err != nil {
		return doc.Document{}, err
	}
	next := d.Clone()
	next.Meta.LWT = clock.Now()
	next.Rev, err = doc.CreateRevision(inst.Token(), next, previous)
	if err != nil {
		return doc.Document{}, err
	}
	return WriteSingle(ctx, inst, bulkwrite.Row{Document: next, Previous: previous}, writeContext)
}

// Remove tombstones the document with id. Removing a missing or already
// deleted document is a no-op that returns (nil, nil).
func Remove(ctx context.Context, inst Instance, clock doc.Clock, id, writeContext string) (*doc.Document, error) {
	previous, err := GetSingle(ctx, inst, id, false)
	if err != nil || previous == nil {
		return nil, err
	}
	next := previous.Clone()
	next.Deleted = true
	next.Meta.LWT = clock.Now()
	next.Rev, err = doc.CreateRevision(inst.Token(), next, previous)
	if err != nil {
		return nil, err
	}
	written, err := WriteSingle(ctx, inst, bulkwrite.Row{Document: next, Previous: previous}, writeContext)
	if err != nil {
		return nil, err
	}
	return &written, nil
}

// PrepareQuery validates and plans q against the instance's schema.
func PrepareQuery(inst Instance, q queryplan.Query) (queryplan.PreparedQuery, error) {
	return queryplan.Prepare(inst.Schema(), q)
}

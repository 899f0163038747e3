package storage

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/queryplan"
)

var (
	// ErrClosed is returned by every operation on a closed instance.
	ErrClosed = errors.New("storage instance is closed")

	// ErrNotFound is returned when a requested attachment does not exist.
	ErrNotFound = errors.New("not found")
)

// Instance is one collection in one storage backend.
type Instance interface {
	DatabaseName() string
	CollectionName() string
	Schema() doc.Schema

	// Token seeds first revisions of documents written through this instance.
	Token() string

	// BulkWrite applies rows atomically per the bulkwrite contract.
	// Conflicts are reported in the response; a returned error means the
	// write did not happen (malformed rows, closed instance, I/O failure).
	BulkWrite(ctx context.Context, rows []bulkwrite.Row, writeContext string) (*BulkWriteResponse, error)

	// FindDocumentsByID returns the stored documents among ids, in no
	// particular order. Tombstones are included only with withDeleted.
	FindDocumentsByID(ctx context.Context, ids []string, withDeleted bool) ([]doc.Document, error)

	Query(ctx context.Context, q queryplan.PreparedQuery) (*QueryResult, error)
	Count(ctx context.Context, q queryplan.PreparedQuery) (*CountResult, error)

	// GetChangedDocumentsSince returns up to limit documents (tombstones
	// included) ordered by (lwt, id) strictly after cp. A nil cp starts
	// from the beginning; limit <= 0 means no limit.
	GetChangedDocumentsSince(ctx context.Context, limit int, cp Checkpoint) (*ChangedDocuments, error)

	// ChangeStream subscribes to event bulks of subsequent writes.
	ChangeStream() *Subscription

	GetAttachmentData(ctx context.Context, documentID, attachmentID, digest string) (string, error)

	// Cleanup purges tombstones older than minimumDeletedTime. It reports
	// whether everything eligible was purged.
	Cleanup(ctx context.Context, minimumDeletedTime time.Duration) (bool, error)

	Close() error
}

// Params identifies and configures a new instance.
type Params struct {
	DatabaseName   string
	CollectionName string
	Schema         doc.Schema

	// Token defaults to a fresh UUIDv7.
	Token string

	// Clock is used by Cleanup; defaults to doc.SystemClock.
	Clock doc.Clock
}

// WithDefaults fills unset optional fields.
func (p Params) WithDefaults() Params {
	if p.Token == "" {
		p.Token = doc.UUIDv7Generator{}.Generate()
	}
	if p.Clock == nil {
		p.Clock = doc.SystemClock{}
	}
	if p.CollectionName == "" {
		p.CollectionName = p.Schema.Name
	}
	return p
}

// Validate checks that the instance can be created.
func (p Params) Validate() error {
	if p.DatabaseName == "" {
		return errors.New("storage: database name is required")
	}
	return p.Schema.Validate()
}

// BulkWriteResponse reports the outcome of BulkWrite.
type BulkWriteResponse struct {
	Success []doc.Document          `json:"success"`
	Errors  []*bulkwrite.WriteError `json:"errors"`
}

// QueryResult holds matching documents in query order.
type QueryResult struct {
	Documents []doc.Document `json:"documents"`
}

// CountMode tells how a count was computed.
type CountMode string

const (
	// CountFast means the index range alone answered the count.
	CountFast CountMode = "fast"
	// CountSlow means every candidate was matched against the selector.
	CountSlow CountMode = "slow"
)

// CountResult is the result of Count.
type CountResult struct {
	Count int       `json:"count"`
	Mode  CountMode `json:"mode"`
}

// ChangedDocuments is a page of the change feed.
type ChangedDocuments struct {
	Documents  []doc.Document `json:"documents"`
	Checkpoint Checkpoint     `json:"checkpoint"`
}

// ResponseFromOutput converts a categorizer output into a write response.
func ResponseFromOutput(out *bulkwrite.Output) *BulkWriteResponse {
	return &BulkWriteResponse{
		Success: out.Success(),
		Errors:  out.Errors,
	}
}

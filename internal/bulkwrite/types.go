package bulkwrite

import "github.com/roach88/docsync/internal/doc"

// Row is one proposed write: the new document state plus the writer's
// belief about the current stored state. A nil Previous means the writer
// believes the key does not exist yet.
type Row struct {
	Document doc.Document  `json:"document"`
	Previous *doc.Document `json:"previous,omitempty"`
}

// UpdateKind classifies an accepted update by tombstone transition.
// Backends that keep tombstones in a separate table move rows only on
// UpdateNewlyDeleted and UpdateRevived.
type UpdateKind int

const (
	UpdateLive UpdateKind = iota + 1
	UpdateNewlyDeleted
	UpdateStillDeleted
	UpdateRevived
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateLive:
		return "live"
	case UpdateNewlyDeleted:
		return "newly-deleted"
	case UpdateStillDeleted:
		return "still-deleted"
	case UpdateRevived:
		return "revived"
	default:
		return "unknown"
	}
}

// UpdateKind reports the tombstone transition from Previous to Document.
// A row without Previous is classified as if the previous state was live.
func (r Row) UpdateKind() UpdateKind {
	wasDeleted := r.Previous != nil && r.Previous.Deleted
	switch {
	case r.Document.Deleted && wasDeleted:
		return UpdateStillDeleted
	case r.Document.Deleted:
		return UpdateNewlyDeleted
	case wasDeleted:
		return UpdateRevived
	default:
		return UpdateLive
	}
}

// Operation is the kind of change an event describes.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ChangeEvent describes one accepted row.
type ChangeEvent struct {
	// EventID is deterministic: the same bulk replayed yields the same IDs.
	EventID              string        `json:"event_id"`
	DocumentID           string        `json:"document_id"`
	Operation            Operation     `json:"operation"`
	DocumentData         doc.Document  `json:"document_data"`
	PreviousDocumentData *doc.Document `json:"previous_document_data,omitempty"`
}

// EventBulk groups the events of one bulk write. Checkpoint is filled in by
// the storage backend once the writes are durable, because only the
// backend knows its checkpoint shape.
type EventBulk struct {
	ID         string         `json:"id"`
	Context    string         `json:"context"`
	Events     []ChangeEvent  `json:"events"`
	Checkpoint map[string]any `json:"checkpoint,omitempty"`
}

// Accepted is a row that passed its precondition. Document is the state
// to store: inline attachment data has been stripped from it.
type Accepted struct {
	Index    int           `json:"index"`
	Document doc.Document  `json:"document"`
	Previous *doc.Document `json:"previous,omitempty"`
	Kind     UpdateKind    `json:"kind,omitempty"`
}

// AttachmentOp is an attachment blob the backend has to add, replace or drop.
type AttachmentOp struct {
	DocumentID   string `json:"document_id"`
	AttachmentID string `json:"attachment_id"`
	Digest       string `json:"digest"`
	Data         string `json:"data,omitempty"`
}

// Output is the categorized plan for one bulk write. It is produced fresh
// per call and owned by the caller.
type Output struct {
	BulkInsertDocs []Accepted    `json:"bulk_insert_docs"`
	BulkUpdateDocs []Accepted    `json:"bulk_update_docs"`
	Errors         []*WriteError `json:"errors"`

	// AlreadyApplied holds stored documents identical to their write row.
	// They count as successful writes but produce no event.
	AlreadyApplied []doc.Document `json:"already_applied,omitempty"`

	EventBulk EventBulk `json:"event_bulk"`

	// NewestRow is the accepted row with the highest (lwt, id), or nil
	// when nothing was accepted.
	NewestRow *Accepted `json:"newest_row,omitempty"`

	AttachmentsAdd    []AttachmentOp `json:"attachments_add,omitempty"`
	AttachmentsUpdate []AttachmentOp `json:"attachments_update,omitempty"`
	AttachmentsRemove []AttachmentOp `json:"attachments_remove,omitempty"`
}

// Success lists the documents a bulk write reports as written: accepted
// rows in row order followed by idempotent resends.
func (o *Output) Success() []doc.Document {
	accepted := make([]Accepted, 0, len(o.BulkInsertDocs)+len(o.BulkUpdateDocs))
	accepted = append(accepted, o.BulkInsertDocs...)
	accepted = append(accepted, o.BulkUpdateDocs...)
	sortByIndex(accepted)

	out := make([]doc.Document, 0, len(accepted)+len(o.AlreadyApplied))
	for _, a := range accepted {
		out = append(out, a.Document)
	}
	return append(out, o.AlreadyApplied...)
}

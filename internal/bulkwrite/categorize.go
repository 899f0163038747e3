package bulkwrite

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/docsync/internal/doc"
)

// Categorize decides the effect of rows against docsInDB, the current
// stored state of every key the rows touch (tombstones included, absent
// keys omitted).
//
// Each row's precondition is checked against docsInDB as given, never
// against an earlier row of the same batch: when two rows share a key,
// both are validated against the real stored state and the backend
// applies accepted rows in order, so the later one persists.
//
// Rules per row:
//   - stored state identical to the written document: already applied
//   - no stored state: insert (a tombstone placeholder in Previous is
//     accepted and ignored)
//   - stored state present, Previous missing or on another revision:
//     409 WriteError carrying the stored document
//   - otherwise: update, classified by UpdateKind
//
// The returned error is non-nil only for malformed rows (ErrInvalidWriteRow).
func Categorize(docsInDB map[string]doc.Document, rows []Row, writeContext string) (*Output, error) {
	for i, row := range rows {
		if err := validateRow(i, row); err != nil {
			return nil, err
		}
	}

	bulkID, err := EventBulkID(writeContext, rows)
	if err != nil {
		return nil, err
	}

	out := &Output{
		BulkInsertDocs: []Accepted{},
		BulkUpdateDocs: []Accepted{},
		Errors:         []*WriteError{},
		EventBulk: EventBulk{
			ID:      bulkID,
			Context: writeContext,
			Events:  []ChangeEvent{},
		},
	}

	for i, row := range rows {
		id := row.Document.ID
		stored, exists := docsInDB[id]

		switch {
		case exists && doc.Equal(stored, row.Document.StripAttachmentData()):
			out.AlreadyApplied = append(out.AlreadyApplied, stored.Clone())

		case !exists:
			acc := Accepted{Index: i, Document: row.Document.StripAttachmentData()}
			out.BulkInsertDocs = append(out.BulkInsertDocs, acc)
			op := OpInsert
			if row.Document.Deleted {
				op = OpDelete
			}
			out.EventBulk.Events = append(out.EventBulk.Events, newEvent(bulkID, acc, op, nil))
			out.AttachmentsAdd = append(out.AttachmentsAdd, addedAttachments(row.Document)...)
			out.trackNewest(acc)

		case row.Previous == nil || row.Previous.Rev != stored.Rev:
			inDB := stored.Clone()
			out.Errors = append(out.Errors, &WriteError{
				Status:       StatusConflict,
				DocumentID:   id,
				WriteRow:     row,
				DocumentInDB: &inDB,
			})

		default:
			// Classify against the stored state; Previous matched it by revision.
			effective := Row{Document: row.Document, Previous: &stored}
			kind := effective.UpdateKind()
			prev := stored.Clone()
			acc := Accepted{Index: i, Document: row.Document.StripAttachmentData(), Previous: &prev, Kind: kind}
			out.BulkUpdateDocs = append(out.BulkUpdateDocs, acc)
			out.EventBulk.Events = append(out.EventBulk.Events, newEvent(bulkID, acc, operationFor(kind), &prev))
			out.diffAttachments(stored, row.Document)
			out.trackNewest(acc)
		}
	}

	return out, nil
}

func validateRow(i int, row Row) error {
	d := row.Document
	if d.ID == "" {
		return invalidRow(i, d.ID, "document has no primary key")
	}
	if d.Rev == "" {
		return invalidRow(i, d.ID, "document has no _rev")
	}
	rev, err := doc.ParseRevision(d.Rev)
	if err != nil {
		return invalidRow(i, d.ID, err.Error())
	}
	if row.Previous != nil {
		if row.Previous.ID != d.ID {
			return invalidRow(i, d.ID, fmt.Sprintf("previous belongs to %q", row.Previous.ID))
		}
		if row.Previous.Rev == "" {
			return invalidRow(i, d.ID, "previous has no _rev")
		}
		prev, err := doc.ParseRevision(row.Previous.Rev)
		if err != nil {
			return invalidRow(i, d.ID, "previous: "+err.Error())
		}
		if rev.Height != prev.Height+1 {
			return invalidRow(i, d.ID, fmt.Sprintf("revision height %d does not follow previous height %d", rev.Height, prev.Height))
		}
	}
	for attID, a := range d.Attachments {
		if a.Data != "" && a.Digest == "" {
			return invalidRow(i, d.ID, fmt.Sprintf("attachment %q has data but no digest", attID))
		}
	}
	return nil
}

func operationFor(kind UpdateKind) Operation {
	switch kind {
	case UpdateNewlyDeleted, UpdateStillDeleted:
		return OpDelete
	case UpdateRevived:
		return OpInsert
	default:
		return OpUpdate
	}
}

func newEvent(bulkID string, acc Accepted, op Operation, previous *doc.Document) ChangeEvent {
	return ChangeEvent{
		EventID:              EventKey(bulkID, acc.Index, acc.Document.ID, acc.Document.Meta.LWT),
		DocumentID:           acc.Document.ID,
		Operation:            op,
		DocumentData:         acc.Document,
		PreviousDocumentData: previous,
	}
}

// EventKey is the idempotency key of one change event.
// Format: "<bulkID>|<rowIndex>|<documentID>|<lwt>".
func EventKey(bulkID string, rowIndex int, documentID string, lwt int64) string {
	return bulkID + "|" + strconv.Itoa(rowIndex) + "|" + documentID + "|" + strconv.FormatInt(lwt, 10)
}

// bulkIDLen is the number of hex characters kept from the bulk digest.
const bulkIDLen = 24

// EventBulkID derives the bulk identifier from the write context and the
// (id, rev) of every row, so a resent bulk keeps its event keys.
func EventBulkID(writeContext string, rows []Row) (string, error) {
	pairs := make([]any, len(rows))
	for i, r := range rows {
		pairs[i] = []any{r.Document.ID, r.Document.Rev}
	}
	canonical, err := doc.MarshalCanonical(map[string]any{
		"context": writeContext,
		"rows":    pairs,
	})
	if err != nil {
		return "", fmt.Errorf("event bulk id: %w", err)
	}
	return doc.HashWithDomain(doc.DomainEventBulk, canonical)[:bulkIDLen], nil
}

func (o *Output) trackNewest(acc Accepted) {
	if o.NewestRow == nil || newer(acc.Document, o.NewestRow.Document) {
		a := acc
		o.NewestRow = &a
	}
}

func newer(a, b doc.Document) bool {
	if a.Meta.LWT != b.Meta.LWT {
		return a.Meta.LWT > b.Meta.LWT
	}
	return a.ID > b.ID
}

func sortByIndex(accepted []Accepted) {
	slices.SortStableFunc(accepted, func(a, b Accepted) int {
		return a.Index - b.Index
	})
}

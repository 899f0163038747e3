package replication

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
)

// assumedState is the master state the fork last agreed with for one
// document, together with the metadata document that stores it.
type assumedState struct {
	meta   doc.Document
	master doc.Document
}

func assumedStateID(docID string) string {
	return metaID(docID, flagAssumedState)
}

// encodeDocument renders d as plain JSON values for a metadata payload.
func encodeDocument(d doc.Document) (map[string]any, error) {
	raw, err := json.Marshal(d.StripAttachmentData())
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeDocument(v any) (doc.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return doc.Document{}, err
	}
	var d doc.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return doc.Document{}, err
	}
	return d, nil
}

// assumedMasterStates loads the assumed master states of ids. Documents
// the fork never agreed on are absent from the result.
func (s *State) assumedMasterStates(ctx context.Context, ids []string) (map[string]assumedState, error) {
	metaIDs := make([]string, len(ids))
	for i, id := range ids {
		metaIDs[i] = assumedStateID(id)
	}
	metas, err := s.input.Meta.FindDocumentsByID(ctx, metaIDs, false)
	if err != nil {
		return nil, fmt.Errorf("read assumed master states: %w", err)
	}

	out := make(map[string]assumedState, len(metas))
	for _, m := range metas {
		master, err := decodeDocument(m.Data[fieldDocData])
		if err != nil {
			return nil, fmt.Errorf("decode assumed master state %q: %w", m.ID, err)
		}
		out[master.ID] = assumedState{meta: m, master: master}
	}
	return out, nil
}

// setAssumedMasterStates records masters as the states the fork agrees
// with. known holds the states read before the batch; entries already
// equal to the new master state are not rewritten. Conflicts with a
// concurrent writer are retried against the stored metadata document.
func (s *State) setAssumedMasterStates(ctx context.Context, known map[string]assumedState, masters []doc.Document) error {
	previous := make(map[string]*doc.Document, len(masters))
	var pending []doc.Document
	for _, m := range masters {
		if a, ok := known[m.ID]; ok {
			if doc.Equal(a.master, m) {
				continue
			}
			meta := a.meta
			previous[m.ID] = &meta
		}
		pending = append(pending, m)
	}

	for len(pending) > 0 && !s.isCanceled() {
		rows := make([]bulkwrite.Row, 0, len(pending))
		byMetaID := make(map[string]doc.Document, len(pending))
		for _, m := range pending {
			payload, err := encodeDocument(m)
			if err != nil {
				return fmt.Errorf("encode assumed master state %q: %w", m.ID, err)
			}
			d := doc.Document{
				ID: assumedStateID(m.ID),
				Data: map[string]any{
					fieldItemID:       m.ID,
					fieldIsCheckpoint: flagAssumedState,
					fieldDocData:      payload,
				},
			}
			d.Meta.LWT = s.input.Clock.Now()
			prev := previous[m.ID]
			if d.Rev, err = doc.CreateRevision(s.checkpointKey, d, prev); err != nil {
				return err
			}
			rows = append(rows, bulkwrite.Row{Document: d, Previous: prev})
			byMetaID[d.ID] = m
		}

		resp, err := s.input.Meta.BulkWrite(ctx, rows, "replication-write-meta")
		if err != nil {
			return fmt.Errorf("write assumed master states: %w", err)
		}

		pending = pending[:0]
		for _, werr := range resp.Errors {
			if werr.Status != bulkwrite.StatusConflict || werr.DocumentInDB == nil {
				return fmt.Errorf("write assumed master state: %w", werr)
			}
			m := byMetaID[werr.DocumentID]
			previous[m.ID] = werr.DocumentInDB
			pending = append(pending, m)
		}
	}
	return nil
}

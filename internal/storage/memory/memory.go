// Package memory is an in-process storage backend. Documents live in a map
// guarded by one lock; reads clone, so callers never share state with the
// store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/queryplan"
	"github.com/roach88/docsync/internal/storage"
)

// Instance is an in-memory storage.Instance.
type Instance struct {
	params storage.Params
	hub    *storage.Hub

	mu          sync.RWMutex
	docs        map[string]doc.Document
	attachments map[attachmentKey]string
	closed      bool
}

type attachmentKey struct {
	docID, attachmentID string
}

var _ storage.Instance = (*Instance)(nil)

// New creates an empty instance.
func New(params storage.Params) (*Instance, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Instance{
		params:      params.WithDefaults(),
		hub:         storage.NewHub(),
		docs:        make(map[string]doc.Document),
		attachments: make(map[attachmentKey]string),
	}, nil
}

func (m *Instance) DatabaseName() string   { return m.params.DatabaseName }
func (m *Instance) CollectionName() string { return m.params.CollectionName }
func (m *Instance) Schema() doc.Schema     { return m.params.Schema }
func (m *Instance) Token() string          { return m.params.Token }

// BulkWrite implements storage.Instance.
func (m *Instance) BulkWrite(ctx context.Context, rows []bulkwrite.Row, writeContext string) (*storage.BulkWriteResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, storage.ErrClosed
	}

	inDB := make(map[string]doc.Document, len(rows))
	for _, r := range rows {
		if d, ok := m.docs[r.Document.ID]; ok {
			inDB[d.ID] = d
		}
	}

	out, err := bulkwrite.Categorize(inDB, rows, writeContext)
	if err != nil {
		return nil, err
	}

	accepted := slices.Concat(out.BulkInsertDocs, out.BulkUpdateDocs)
	slices.SortFunc(accepted, func(a, b bulkwrite.Accepted) int { return a.Index - b.Index })
	for _, a := range accepted {
		m.docs[a.Document.ID] = a.Document.Clone()
	}
	for _, op := range out.AttachmentsRemove {
		delete(m.attachments, attachmentKey{op.DocumentID, op.AttachmentID})
	}
	for _, op := range slices.Concat(out.AttachmentsAdd, out.AttachmentsUpdate) {
		m.attachments[attachmentKey{op.DocumentID, op.AttachmentID}] = op.Data
	}

	if out.NewestRow != nil {
		out.EventBulk.Checkpoint = storage.CheckpointOf(out.NewestRow.Document).Checkpoint()
		m.hub.Publish(out.EventBulk)
	}
	return storage.ResponseFromOutput(out), nil
}

// FindDocumentsByID implements storage.Instance.
func (m *Instance) FindDocumentsByID(ctx context.Context, ids []string, withDeleted bool) ([]doc.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, storage.ErrClosed
	}
	out := make([]doc.Document, 0, len(ids))
	for _, id := range ids {
		d, ok := m.docs[id]
		if !ok || (d.Deleted && !withDeleted) {
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

// Query implements storage.Instance.
func (m *Instance) Query(ctx context.Context, pq queryplan.PreparedQuery) (*storage.QueryResult, error) {
	all, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return &storage.QueryResult{Documents: queryplan.Execute(m.params.Schema, pq, all)}, nil
}

// Count implements storage.Instance. Skip and limit are ignored.
func (m *Instance) Count(ctx context.Context, pq queryplan.PreparedQuery) (*storage.CountResult, error) {
	all, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	pq.Query.Skip, pq.Query.Limit = 0, 0
	mode := storage.CountSlow
	if pq.Plan.SelectorSatisfiedByIndex {
		mode = storage.CountFast
	}
	return &storage.CountResult{Count: len(queryplan.Execute(m.params.Schema, pq, all)), Mode: mode}, nil
}

// GetChangedDocumentsSince implements storage.Instance.
func (m *Instance) GetChangedDocumentsSince(ctx context.Context, limit int, cp storage.Checkpoint) (*storage.ChangedDocuments, error) {
	since, err := storage.ParseDefaultCheckpoint(cp)
	if err != nil {
		return nil, err
	}
	all, err := m.snapshot()
	if err != nil {
		return nil, err
	}

	changed := make([]doc.Document, 0)
	for _, d := range all {
		if since.After(d) {
			changed = append(changed, d)
		}
	}
	SortByLastWriteTime(changed)
	if limit > 0 && len(changed) > limit {
		changed = changed[:limit]
	}

	next := since
	if len(changed) > 0 {
		next = storage.CheckpointOf(changed[len(changed)-1])
	}
	return &storage.ChangedDocuments{Documents: changed, Checkpoint: next.Checkpoint()}, nil
}

// ChangeStream implements storage.Instance.
func (m *Instance) ChangeStream() *storage.Subscription {
	return m.hub.Subscribe()
}

// GetAttachmentData implements storage.Instance.
func (m *Instance) GetAttachmentData(ctx context.Context, documentID, attachmentID, digest string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", storage.ErrClosed
	}
	d, ok := m.docs[documentID]
	if !ok {
		return "", fmt.Errorf("attachment %s/%s: %w", documentID, attachmentID, storage.ErrNotFound)
	}
	meta, ok := d.Attachments[attachmentID]
	if !ok || (digest != "" && meta.Digest != digest) {
		return "", fmt.Errorf("attachment %s/%s: %w", documentID, attachmentID, storage.ErrNotFound)
	}
	data, ok := m.attachments[attachmentKey{documentID, attachmentID}]
	if !ok {
		return "", fmt.Errorf("attachment %s/%s data: %w", documentID, attachmentID, storage.ErrNotFound)
	}
	return data, nil
}

// Cleanup implements storage.Instance.
func (m *Instance) Cleanup(ctx context.Context, minimumDeletedTime time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, storage.ErrClosed
	}
	cutoff := m.params.Clock.Now() - minimumDeletedTime.Milliseconds()
	for id, d := range m.docs {
		if d.Deleted && d.Meta.LWT < cutoff {
			delete(m.docs, id)
			for attID := range d.Attachments {
				delete(m.attachments, attachmentKey{id, attID})
			}
		}
	}
	return true, nil
}

// Close implements storage.Instance. Closing twice returns ErrClosed.
func (m *Instance) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storage.ErrClosed
	}
	m.closed = true
	m.hub.Close()
	return nil
}

func (m *Instance) snapshot() ([]doc.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, storage.ErrClosed
	}
	out := make([]doc.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.Clone())
	}
	return out, nil
}

// SortByLastWriteTime orders documents by (lwt, id) ascending.
func SortByLastWriteTime(docs []doc.Document) {
	slices.SortFunc(docs, func(a, b doc.Document) int {
		switch {
		case a.Meta.LWT < b.Meta.LWT:
			return -1
		case a.Meta.LWT > b.Meta.LWT:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/queryplan"
	"github.com/roach88/docsync/internal/storage"
)

const (
	tableDocuments  = "documents"
	tableTombstones = "tombstones"
)

// maxIDsPerQuery keeps IN (...) lists well below SQLite's variable limit.
const maxIDsPerQuery = 500

// Instance is one collection inside a DB.
//
// Thread-safety: writes are serialized by an instance mutex that is held
// through commit and publish, so change events arrive in commit order.
type Instance struct {
	db       *DB
	params   storage.Params
	compiler *queryplan.SQLCompiler
	hub      *storage.Hub

	writeMu sync.Mutex
	closeMu sync.RWMutex
	closed  bool
}

var _ storage.Instance = (*Instance)(nil)

func newInstance(db *DB, params storage.Params) *Instance {
	return &Instance{
		db:       db,
		params:   params,
		compiler: queryplan.NewSQLCompiler(params.Schema),
		hub:      storage.NewHub(),
	}
}

func (s *Instance) DatabaseName() string   { return s.params.DatabaseName }
func (s *Instance) CollectionName() string { return s.params.CollectionName }
func (s *Instance) Schema() doc.Schema     { return s.params.Schema }
func (s *Instance) Token() string          { return s.params.Token }

func (s *Instance) checkOpen() error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// BulkWrite implements storage.Instance. The whole batch commits in one
// transaction; the event bulk is published after commit.
func (s *Instance) BulkWrite(ctx context.Context, rows []bulkwrite.Row, writeContext string) (*storage.BulkWriteResponse, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("bulk write: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Document.ID)
	}
	stored, err := s.findByID(ctx, tx, ids, true)
	if err != nil {
		return nil, fmt.Errorf("bulk write: %w", err)
	}
	inDB := make(map[string]doc.Document, len(stored))
	for _, d := range stored {
		inDB[d.ID] = d
	}

	out, err := bulkwrite.Categorize(inDB, rows, writeContext)
	if err != nil {
		return nil, err
	}

	if err := s.apply(ctx, tx, out); err != nil {
		return nil, fmt.Errorf("bulk write: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("bulk write: commit: %w", err)
	}

	if out.NewestRow != nil {
		out.EventBulk.Checkpoint = storage.CheckpointOf(out.NewestRow.Document).Checkpoint()
		s.hub.Publish(out.EventBulk)
	}
	return storage.ResponseFromOutput(out), nil
}

func (s *Instance) apply(ctx context.Context, tx *sql.Tx, out *bulkwrite.Output) error {
	accepted := slices.Concat(out.BulkInsertDocs, out.BulkUpdateDocs)
	slices.SortFunc(accepted, func(a, b bulkwrite.Accepted) int { return a.Index - b.Index })

	for _, a := range accepted {
		// Kind is classified against the pre-batch state, so a later row
		// for the same key may still sit in the other table.
		target, other := tableDocuments, tableTombstones
		if a.Document.Deleted {
			target, other = tableTombstones, tableDocuments
		}
		if err := s.deleteRow(ctx, tx, other, a.Document.ID); err != nil {
			return err
		}
		if err := s.upsertRow(ctx, tx, target, a.Document); err != nil {
			return err
		}
	}

	for _, op := range out.AttachmentsRemove {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM attachments
			WHERE collection = ? AND doc_id = ? AND attachment_id = ?
		`, s.params.CollectionName, op.DocumentID, op.AttachmentID); err != nil {
			return fmt.Errorf("remove attachment %s/%s: %w", op.DocumentID, op.AttachmentID, err)
		}
	}
	for _, op := range slices.Concat(out.AttachmentsAdd, out.AttachmentsUpdate) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (collection, doc_id, attachment_id, digest, data)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(collection, doc_id, attachment_id)
			DO UPDATE SET digest = excluded.digest, data = excluded.data
		`, s.params.CollectionName, op.DocumentID, op.AttachmentID, op.Digest, op.Data); err != nil {
			return fmt.Errorf("write attachment %s/%s: %w", op.DocumentID, op.AttachmentID, err)
		}
	}
	return nil
}

func (s *Instance) upsertRow(ctx context.Context, tx *sql.Tx, table string, d doc.Document) error {
	data, err := marshalData(d.Data)
	if err != nil {
		return err
	}
	atts, err := marshalAttachments(d.Attachments)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+table+` (collection, id, rev, lwt, data, attachments)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			rev = excluded.rev,
			lwt = excluded.lwt,
			data = excluded.data,
			attachments = excluded.attachments
	`, s.params.CollectionName, d.ID, d.Rev, d.Meta.LWT, data, atts)
	if err != nil {
		return fmt.Errorf("write %s %q: %w", table, d.ID, err)
	}
	return nil
}

func (s *Instance) deleteRow(ctx context.Context, tx *sql.Tx, table, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE collection = ? AND id = ?`,
		s.params.CollectionName, id)
	if err != nil {
		return fmt.Errorf("delete %s %q: %w", table, id, err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// FindDocumentsByID implements storage.Instance.
func (s *Instance) FindDocumentsByID(ctx context.Context, ids []string, withDeleted bool) ([]doc.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	found, err := s.findByID(ctx, s.db.db, ids, withDeleted)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]doc.Document, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}
	out := make([]doc.Document, 0, len(found))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *Instance) findByID(ctx context.Context, q querier, ids []string, withDeleted bool) ([]doc.Document, error) {
	tables := []string{tableDocuments}
	if withDeleted {
		tables = append(tables, tableTombstones)
	}

	var out []doc.Document
	for chunk := range slices.Chunk(ids, maxIDsPerQuery) {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		for _, table := range tables {
			args := make([]any, 0, len(chunk)+1)
			args = append(args, s.params.CollectionName)
			for _, id := range chunk {
				args = append(args, id)
			}
			docs, err := s.queryDocs(ctx, q,
				selectFrom(table)+` WHERE collection = ? AND id IN (`+placeholders+`)`, args...)
			if err != nil {
				return nil, err
			}
			out = append(out, docs...)
		}
	}
	return out, nil
}

func (s *Instance) queryDocs(ctx context.Context, q querier, query string, args ...any) ([]doc.Document, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []doc.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// candidates returns the rows inside the plan's pushed-down range. The
// result is a superset of the query's matches.
func (s *Instance) candidates(ctx context.Context, pq queryplan.PreparedQuery) ([]doc.Document, error) {
	where, params := s.compiler.CompileRange(pq.Plan)

	tables := []string{tableDocuments}
	if _, ok := pq.Query.Selector[doc.FieldDeleted]; ok {
		tables = append(tables, tableTombstones)
	}

	var out []doc.Document
	for _, table := range tables {
		args := append([]any{s.params.CollectionName}, params...)
		docs, err := s.queryDocs(ctx, s.db.db,
			selectFrom(table)+` WHERE collection = ? AND `+where+` ORDER BY `+s.compiler.OrderBy(), args...)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

// Query implements storage.Instance.
func (s *Instance) Query(ctx context.Context, pq queryplan.PreparedQuery) (*storage.QueryResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	docs, err := s.candidates(ctx, pq)
	if err != nil {
		return nil, err
	}
	return &storage.QueryResult{Documents: queryplan.Execute(s.params.Schema, pq, docs)}, nil
}

// Count implements storage.Instance. Skip and limit are ignored.
func (s *Instance) Count(ctx context.Context, pq queryplan.PreparedQuery) (*storage.CountResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	docs, err := s.candidates(ctx, pq)
	if err != nil {
		return nil, err
	}
	pq.Query.Skip, pq.Query.Limit = 0, 0
	mode := storage.CountSlow
	if pq.Plan.SelectorSatisfiedByIndex {
		mode = storage.CountFast
	}
	return &storage.CountResult{Count: len(queryplan.Execute(s.params.Schema, pq, docs)), Mode: mode}, nil
}

// GetChangedDocumentsSince implements storage.Instance. Both tables are
// read in (lwt, id) order.
func (s *Instance) GetChangedDocumentsSince(ctx context.Context, limit int, cp storage.Checkpoint) (*storage.ChangedDocuments, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	since, err := storage.ParseDefaultCheckpoint(cp)
	if err != nil {
		return nil, err
	}

	const after = ` WHERE collection = ? AND (lwt > ? OR (lwt = ? AND id > ? COLLATE BINARY))`
	query := selectFrom(tableDocuments) + after +
		` UNION ALL ` + selectFrom(tableTombstones) + after +
		` ORDER BY lwt ASC, id COLLATE BINARY ASC`
	args := []any{
		s.params.CollectionName, since.LWT, since.LWT, since.ID,
		s.params.CollectionName, since.LWT, since.LWT, since.ID,
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	docs, err := s.queryDocs(ctx, s.db.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("changed documents: %w", err)
	}

	next := since
	if len(docs) > 0 {
		next = storage.CheckpointOf(docs[len(docs)-1])
	}
	return &storage.ChangedDocuments{Documents: docs, Checkpoint: next.Checkpoint()}, nil
}

// ChangeStream implements storage.Instance.
func (s *Instance) ChangeStream() *storage.Subscription {
	return s.hub.Subscribe()
}

// GetAttachmentData implements storage.Instance.
func (s *Instance) GetAttachmentData(ctx context.Context, documentID, attachmentID, digest string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var storedDigest, data string
	err := s.db.db.QueryRowContext(ctx, `
		SELECT digest, data FROM attachments
		WHERE collection = ? AND doc_id = ? AND attachment_id = ?
	`, s.params.CollectionName, documentID, attachmentID).Scan(&storedDigest, &data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && digest != "" && storedDigest != digest) {
		return "", fmt.Errorf("attachment %s/%s: %w", documentID, attachmentID, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("attachment %s/%s: %w", documentID, attachmentID, err)
	}
	return data, nil
}

// Cleanup implements storage.Instance. Tombstones older than
// minimumDeletedTime are purged together with their attachments.
func (s *Instance) Cleanup(ctx context.Context, minimumDeletedTime time.Duration) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cutoff := s.params.Clock.Now() - minimumDeletedTime.Milliseconds()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("cleanup: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM attachments
		WHERE collection = ? AND doc_id IN (
			SELECT id FROM tombstones WHERE collection = ? AND lwt < ?
		)
	`, s.params.CollectionName, s.params.CollectionName, cutoff); err != nil {
		return false, fmt.Errorf("cleanup attachments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tombstones WHERE collection = ? AND lwt < ?
	`, s.params.CollectionName, cutoff); err != nil {
		return false, fmt.Errorf("cleanup tombstones: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("cleanup: commit: %w", err)
	}
	return true, nil
}

// Close implements storage.Instance. The database stays open for other
// collections; closing twice returns ErrClosed.
func (s *Instance) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.closed = true
	s.hub.Close()
	s.db.release(s.params.CollectionName)
	return nil
}

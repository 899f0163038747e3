// Package sharded spreads one collection over several storage instances.
// Documents are routed by a BLAKE3 digest of their primary key, so a
// document always lives on the same shard.
//
// The collection checkpoint is an object keyed by shard number whose
// values are the shards' own checkpoints. Change events carry partial
// checkpoints naming only the shards a bulk touched; StackCheckpoints
// folds them into the full checkpoint.
package sharded

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/queryplan"
	"github.com/roach88/docsync/internal/storage"
)

// Instance is a storage.Instance over a fixed set of shards. It owns the
// shards: closing it closes them.
type Instance struct {
	params storage.Params
	shards []storage.Instance
	subs   []*storage.Subscription
	hub    *storage.Hub

	// writeMu keeps shard events in write order on the merged stream.
	writeMu sync.Mutex
	closed  bool
}

var _ storage.Instance = (*Instance)(nil)

// New combines shards into one instance. Every shard must serve the
// schema in params.
func New(params storage.Params, shards ...storage.Instance) (*Instance, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, errors.New("sharded: at least one shard is required")
	}
	params = params.WithDefaults()
	for i, s := range shards {
		if s.Schema().PrimaryKey != params.Schema.PrimaryKey {
			return nil, fmt.Errorf("sharded: shard %d has primary key %q, want %q",
				i, s.Schema().PrimaryKey, params.Schema.PrimaryKey)
		}
	}

	inst := &Instance{params: params, shards: shards, hub: storage.NewHub()}
	for _, s := range shards {
		inst.subs = append(inst.subs, s.ChangeStream())
	}
	return inst, nil
}

// ShardFor returns the shard index that owns id among n shards.
func ShardFor(id string, n int) int {
	sum := blake3.Sum256([]byte(id))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))
}

// ShardKey is the checkpoint key of shard i.
func ShardKey(i int) string { return strconv.Itoa(i) }

func (s *Instance) DatabaseName() string   { return s.params.DatabaseName }
func (s *Instance) CollectionName() string { return s.params.CollectionName }
func (s *Instance) Schema() doc.Schema     { return s.params.Schema }
func (s *Instance) Token() string          { return s.params.Token }

// Shards returns the number of shards.
func (s *Instance) Shards() int { return len(s.shards) }

func (s *Instance) route(id string) int { return ShardFor(id, len(s.shards)) }

// BulkWrite implements storage.Instance. Rows are split by shard and
// written shard by shard; each shard commits independently. The response
// lists successes and errors in input order.
func (s *Instance) BulkWrite(ctx context.Context, rows []bulkwrite.Row, writeContext string) (*storage.BulkWriteResponse, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	byShard := make(map[int][]int)
	for i, r := range rows {
		n := s.route(r.Document.ID)
		byShard[n] = append(byShard[n], i)
	}

	type result struct {
		index int
		doc   *doc.Document
		err   *bulkwrite.WriteError
	}
	results := make([]result, 0, len(rows))

	for _, n := range sortedKeys(byShard) {
		indexes := byShard[n]
		part := make([]bulkwrite.Row, len(indexes))
		for j, i := range indexes {
			part[j] = rows[i]
		}
		resp, err := s.shards[n].BulkWrite(ctx, part, writeContext)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", n, err)
		}
		// A batch may carry several rows for one id; identical rows are
		// consumed in input order.
		pos := make(map[rowKey][]int, len(indexes))
		for _, i := range indexes {
			k := keyOf(rows[i].Document)
			pos[k] = append(pos[k], i)
		}
		take := func(k rowKey) int {
			queue := pos[k]
			if len(queue) == 0 {
				return len(rows)
			}
			pos[k] = queue[1:]
			return queue[0]
		}
		for _, d := range resp.Success {
			results = append(results, result{index: take(keyOf(d)), doc: d.Ptr()})
		}
		for _, werr := range resp.Errors {
			results = append(results, result{index: take(keyOf(werr.WriteRow.Document)), err: werr})
		}
		s.forward(n)
	}

	slices.SortFunc(results, func(a, b result) int { return a.index - b.index })
	out := &storage.BulkWriteResponse{Success: []doc.Document{}, Errors: []*bulkwrite.WriteError{}}
	for _, r := range results {
		if r.err != nil {
			out.Errors = append(out.Errors, r.err)
		} else {
			out.Success = append(out.Success, *r.doc)
		}
	}
	return out, nil
}

// forward republishes the pending events of shard n with the shard's
// checkpoint wrapped under its key.
func (s *Instance) forward(n int) {
	for _, bulk := range s.subs[n].Drain() {
		bulk.Checkpoint = storage.Checkpoint{ShardKey(n): map[string]any(bulk.Checkpoint)}
		s.hub.Publish(bulk)
	}
}

// rowKey identifies a written row within one batch.
type rowKey struct{ id, rev string }

func keyOf(d doc.Document) rowKey { return rowKey{id: d.ID, rev: d.Rev} }

func sortedKeys(m map[int][]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// FindDocumentsByID implements storage.Instance.
func (s *Instance) FindDocumentsByID(ctx context.Context, ids []string, withDeleted bool) ([]doc.Document, error) {
	byShard := make(map[int][]string)
	for _, id := range ids {
		n := s.route(id)
		byShard[n] = append(byShard[n], id)
	}
	found := make(map[string]doc.Document, len(ids))
	for n, part := range byShard {
		docs, err := s.shards[n].FindDocumentsByID(ctx, part, withDeleted)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", n, err)
		}
		for _, d := range docs {
			found[d.ID] = d
		}
	}
	out := make([]doc.Document, 0, len(found))
	for _, id := range ids {
		if d, ok := found[id]; ok {
			out = append(out, d)
			delete(found, id)
		}
	}
	return out, nil
}

// Query implements storage.Instance. Each shard answers the query
// without skip, limited to skip+limit rows; the merged result is sorted
// and paged here.
func (s *Instance) Query(ctx context.Context, pq queryplan.PreparedQuery) (*storage.QueryResult, error) {
	perShard := pq
	perShard.Query.Skip = 0
	if pq.Query.Limit > 0 {
		perShard.Query.Limit = pq.Query.Skip + pq.Query.Limit
	}

	var merged []doc.Document
	for n, shard := range s.shards {
		res, err := shard.Query(ctx, perShard)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", n, err)
		}
		merged = append(merged, res.Documents...)
	}
	queryplan.SortDocuments(s.params.Schema, pq.Query.Sort, merged)
	return &storage.QueryResult{Documents: queryplan.Page(merged, pq.Query.Skip, pq.Query.Limit)}, nil
}

// Count implements storage.Instance. The mode is fast only when every
// shard counted fast.
func (s *Instance) Count(ctx context.Context, pq queryplan.PreparedQuery) (*storage.CountResult, error) {
	out := &storage.CountResult{Mode: storage.CountFast}
	for n, shard := range s.shards {
		res, err := shard.Count(ctx, pq)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", n, err)
		}
		out.Count += res.Count
		if res.Mode != storage.CountFast {
			out.Mode = storage.CountSlow
		}
	}
	return out, nil
}

// GetChangedDocumentsSince implements storage.Instance. Every shard is
// read from its own position; the pages are merged in (lwt, id) order
// and only the shards that contributed documents advance.
func (s *Instance) GetChangedDocumentsSince(ctx context.Context, limit int, cp storage.Checkpoint) (*storage.ChangedDocuments, error) {
	type sourced struct {
		doc   doc.Document
		shard int
	}

	positions := make([]storage.Checkpoint, len(s.shards))
	var merged []sourced
	for n, shard := range s.shards {
		pos, err := shardCheckpoint(cp, n)
		if err != nil {
			return nil, err
		}
		positions[n] = pos
		page, err := shard.GetChangedDocumentsSince(ctx, limit, pos)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", n, err)
		}
		for _, d := range page.Documents {
			merged = append(merged, sourced{doc: d, shard: n})
		}
	}

	slices.SortFunc(merged, func(a, b sourced) int {
		switch {
		case a.doc.Meta.LWT != b.doc.Meta.LWT:
			if a.doc.Meta.LWT < b.doc.Meta.LWT {
				return -1
			}
			return 1
		case a.doc.ID < b.doc.ID:
			return -1
		case a.doc.ID > b.doc.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}

	docs := make([]doc.Document, len(merged))
	next := storage.Checkpoint{}
	for n, pos := range positions {
		if pos != nil {
			next[ShardKey(n)] = map[string]any(pos)
		}
	}
	for i, m := range merged {
		docs[i] = m.doc
		next[ShardKey(m.shard)] = map[string]any(storage.CheckpointOf(m.doc).Checkpoint())
	}
	return &storage.ChangedDocuments{Documents: docs, Checkpoint: next}, nil
}

// shardCheckpoint extracts shard n's position from the collection
// checkpoint. A missing entry means the start of that shard's feed.
func shardCheckpoint(cp storage.Checkpoint, n int) (storage.Checkpoint, error) {
	raw, ok := cp[ShardKey(n)]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case storage.Checkpoint:
		return v, nil
	case map[string]any:
		return storage.Checkpoint(v), nil
	default:
		return nil, fmt.Errorf("checkpoint shard %d: want object, got %T", n, raw)
	}
}

// ChangeStream implements storage.Instance. Events carry partial
// checkpoints naming one shard each.
func (s *Instance) ChangeStream() *storage.Subscription {
	return s.hub.Subscribe()
}

// GetAttachmentData implements storage.Instance.
func (s *Instance) GetAttachmentData(ctx context.Context, documentID, attachmentID, digest string) (string, error) {
	return s.shards[s.route(documentID)].GetAttachmentData(ctx, documentID, attachmentID, digest)
}

// Cleanup implements storage.Instance. It reports done only when every
// shard finished.
func (s *Instance) Cleanup(ctx context.Context, minimumDeletedTime time.Duration) (bool, error) {
	done := true
	for n, shard := range s.shards {
		ok, err := shard.Cleanup(ctx, minimumDeletedTime)
		if err != nil {
			return false, fmt.Errorf("shard %d: %w", n, err)
		}
		done = done && ok
	}
	return done, nil
}

// Close implements storage.Instance and closes every shard.
func (s *Instance) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.closed = true
	s.hub.Close()

	var errs []error
	for n, shard := range s.shards {
		s.subs[n].Close()
		if err := shard.Close(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

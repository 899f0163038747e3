package replication

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/storage"
	"github.com/roach88/docsync/internal/storage/memory"
	"github.com/roach88/docsync/internal/testutil"
)

// pair is a fork, master and metadata instance sharing one clock.
type pair struct {
	fork, master, meta storage.Instance
	clock              *testutil.DeterministicClock
}

func newPair(t *testing.T) *pair {
	t.Helper()
	clock := testutil.NewDeterministicClock(1000)
	open := func(db string, schema doc.Schema) storage.Instance {
		inst, err := memory.New(storage.Params{DatabaseName: db, Schema: schema, Clock: clock})
		require.NoError(t, err)
		t.Cleanup(func() { _ = inst.Close() })
		return inst
	}
	return &pair{
		fork:   open("fork", testutil.HumanSchema()),
		master: open("master", testutil.HumanSchema()),
		meta:   open("fork", MetaSchema()),
		clock:  clock,
	}
}

func (p *pair) input() Input {
	return Input{
		Identifier:   "test",
		Fork:         p.fork,
		Master:       p.master,
		Meta:         p.meta,
		Clock:        p.clock,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      NewMetrics(prometheus.NewRegistry()),
		RetryTime:    10 * time.Millisecond,
		MaxRetryTime: 50 * time.Millisecond,
	}
}

func (p *pair) put(t *testing.T, inst storage.Instance, d doc.Document) doc.Document {
	t.Helper()
	written, err := storage.Upsert(context.Background(), inst, p.clock, d, "test")
	require.NoError(t, err)
	return written
}

func (p *pair) remove(t *testing.T, inst storage.Instance, id string) {
	t.Helper()
	removed, err := storage.Remove(context.Background(), inst, p.clock, id, "test")
	require.NoError(t, err)
	require.NotNil(t, removed)
}

func startReplication(t *testing.T, in Input) *State {
	t.Helper()
	s, err := Replicate(context.Background(), in)
	require.NoError(t, err)
	t.Cleanup(s.Cancel)
	return s
}

func awaitInSync(t *testing.T, s *State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitInSync(ctx))
}

func allDocs(t *testing.T, inst storage.Instance) map[string]doc.Document {
	t.Helper()
	page, err := inst.GetChangedDocumentsSince(context.Background(), 0, nil)
	require.NoError(t, err)
	out := make(map[string]doc.Document, len(page.Documents))
	for _, d := range page.Documents {
		out[d.ID] = d
	}
	return out
}

// assertConverged checks that fork and master hold the same documents in
// the same states.
func assertConverged(t *testing.T, p *pair) {
	t.Helper()
	forkDocs, masterDocs := allDocs(t, p.fork), allDocs(t, p.master)
	require.Len(t, forkDocs, len(masterDocs))
	for id, m := range masterDocs {
		f, ok := forkDocs[id]
		if assert.True(t, ok, "fork is missing %s", id) {
			assert.True(t, doc.EqualState(f, m), "document %s differs:\nfork   %+v\nmaster %+v", id, f, m)
		}
	}
}

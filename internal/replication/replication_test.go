package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/storage"
	"github.com/roach88/docsync/internal/storage/memory"
	"github.com/roach88/docsync/internal/storage/sharded"
	"github.com/roach88/docsync/internal/storage/sqlite"
	"github.com/roach88/docsync/internal/testutil"
)

type mockConflictHandler struct {
	mock.Mock
}

func (m *mockConflictHandler) Resolve(ctx context.Context, in ConflictInput) (doc.Document, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(doc.Document), args.Error(1)
}

func TestReplicationConvergesBothWays(t *testing.T) {
	p := newPair(t)
	p.put(t, p.fork, testutil.Human("alice", "Alice", "Kim", 31))
	p.put(t, p.master, testutil.Human("bob", "Bob", "Lee", 42))

	s := startReplication(t, p.input())
	awaitInSync(t, s)
	assertConverged(t, p)
	assert.Len(t, allDocs(t, p.master), 2)

	select {
	case <-s.FirstCheckpoint(DirectionPull):
	default:
		t.Fatal("pull checkpoint not written")
	}
	select {
	case <-s.FirstCheckpoint(DirectionPush):
	default:
		t.Fatal("push checkpoint not written")
	}

	// Live changes on both sides while the loops run.
	alice := testutil.Human("alice", "Alice", "Kim", 32)
	p.put(t, p.fork, alice)
	p.remove(t, p.master, "bob")
	p.put(t, p.master, testutil.Human("carol", "Carol", "Ng", 27))

	awaitInSync(t, s)
	assertConverged(t, p)

	forkDocs := allDocs(t, p.fork)
	assert.True(t, forkDocs["bob"].Deleted)
	assert.Equal(t, 32.0, allDocs(t, p.master)["alice"].Data["age"])
	assert.Equal(t, "Carol", forkDocs["carol"].Data["firstName"])
}

func TestReplicationPagesThroughSmallBatches(t *testing.T) {
	p := newPair(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		p.put(t, p.master, testutil.Human(id, "M", id, 20))
	}
	for _, id := range []string{"v", "w", "x"} {
		p.put(t, p.fork, testutil.Human(id, "F", id, 30))
	}

	in := p.input()
	in.PullBatchSize = 2
	in.PushBatchSize = 2
	s := startReplication(t, in)
	awaitInSync(t, s)

	assertConverged(t, p)
	assert.Len(t, allDocs(t, p.fork), 8)
	assert.Equal(t, 5.0, promtest.ToFloat64(in.Metrics.Documents.WithLabelValues("down")))
}

func TestReplicationCopiesAttachments(t *testing.T) {
	ctx := context.Background()
	p := newPair(t)

	photo := testutil.Human("alice", "Alice", "Kim", 31)
	photo.Attachments = map[string]doc.Attachment{
		"avatar.png": bulkwrite.NewAttachment("image/png", []byte("not really a png")),
	}
	written := p.put(t, p.fork, photo)

	s := startReplication(t, p.input())
	awaitInSync(t, s)
	assertConverged(t, p)

	att := written.Attachments["avatar.png"]
	data, err := p.master.GetAttachmentData(ctx, "alice", "avatar.png", att.Digest)
	require.NoError(t, err)
	assert.Equal(t, photo.Attachments["avatar.png"].Data, data)
}

// diverge replicates one document to both sides, stops, then changes it
// on both sides so that the next replication meets a conflict.
func diverge(t *testing.T, p *pair) {
	t.Helper()
	p.put(t, p.fork, testutil.Human("alice", "Alice", "Kim", 31))
	s := startReplication(t, p.input())
	awaitInSync(t, s)
	s.Cancel()

	p.put(t, p.fork, testutil.Human("alice", "Alice", "Fork", 31))
	p.put(t, p.master, testutil.Human("alice", "Alice", "Master", 31))
}

func TestReplicationConflictMasterWins(t *testing.T) {
	p := newPair(t)
	diverge(t, p)

	in := p.input()
	s := startReplication(t, in)
	awaitInSync(t, s)

	assertConverged(t, p)
	assert.Equal(t, "Master", allDocs(t, p.fork)["alice"].Data["lastName"])
	assert.GreaterOrEqual(t, promtest.ToFloat64(in.Metrics.Conflicts.WithLabelValues("up")), 1.0)
}

func TestReplicationConflictForkWins(t *testing.T) {
	p := newPair(t)
	diverge(t, p)

	in := p.input()
	in.ConflictHandler = ForkWins
	s := startReplication(t, in)
	awaitInSync(t, s)

	assertConverged(t, p)
	assert.Equal(t, "Fork", allDocs(t, p.master)["alice"].Data["lastName"])
}

func TestReplicationConflictHandlerInput(t *testing.T) {
	p := newPair(t)
	diverge(t, p)

	handler := new(mockConflictHandler)
	handler.On("Resolve", mock.Anything, mock.MatchedBy(func(in ConflictInput) bool {
		return in.NewDocumentState.Data["lastName"] == "Fork" &&
			in.RealMasterState.Data["lastName"] == "Master" &&
			in.AssumedMasterState != nil &&
			in.AssumedMasterState.Data["lastName"] == "Kim"
	})).Return(testutil.Human("alice", "Alice", "Merged", 31), nil).Once()

	in := p.input()
	in.ConflictHandler = handler
	s := startReplication(t, in)
	awaitInSync(t, s)

	handler.AssertExpectations(t)
	assertConverged(t, p)
	assert.Equal(t, "Merged", allDocs(t, p.master)["alice"].Data["lastName"])
}

func TestReplicationConflictHandlerError(t *testing.T) {
	p := newPair(t)
	diverge(t, p)

	handler := new(mockConflictHandler)
	handler.On("Resolve", mock.Anything, mock.Anything).Return(doc.Document{}, errors.New("no merge"))

	in := p.input()
	in.ConflictHandler = handler
	s := startReplication(t, in)

	select {
	case err := <-s.Errors():
		assert.Equal(t, ErrCodeConflictHandler, CodeOf(err))
		assert.ErrorContains(t, err, "no merge")
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestReplicationResumesFromCheckpoint(t *testing.T) {
	p := newPair(t)
	p.put(t, p.master, testutil.Human("a", "A", "A", 1))

	in := p.input()
	s := startReplication(t, in)
	awaitInSync(t, s)
	s.Cancel()

	p.put(t, p.master, testutil.Human("b", "B", "B", 2))

	next := p.input()
	s2 := startReplication(t, next)
	awaitInSync(t, s2)

	assertConverged(t, p)
	// Only the new document is pulled again.
	assert.Equal(t, 1.0, promtest.ToFloat64(next.Metrics.Documents.WithLabelValues("down")))
}

func TestCancel(t *testing.T) {
	p := newPair(t)
	s := startReplication(t, p.input())
	awaitInSync(t, s)

	s.Cancel()
	s.Cancel()

	select {
	case <-s.Canceled():
	default:
		t.Fatal("canceled channel open")
	}
	assert.Equal(t, PhaseCanceled, s.Phase(DirectionPull))
	assert.Equal(t, PhaseCanceled, s.Phase(DirectionPush))

	_, open := <-s.Errors()
	assert.False(t, open)
	assert.ErrorIs(t, s.AwaitInSync(context.Background()), ErrCanceled)

	// Writes after cancel are not replicated.
	p.put(t, p.fork, testutil.Human("late", "L", "L", 1))
	time.Sleep(20 * time.Millisecond)
	assert.NotContains(t, allDocs(t, p.master), "late")
}

func TestCancelFromContext(t *testing.T) {
	p := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := Replicate(ctx, p.input())
	require.NoError(t, err)

	cancel()
	select {
	case <-s.Canceled():
	case <-time.After(5 * time.Second):
		t.Fatal("replication not canceled")
	}
}

func TestReplicationStopsOnClosedStorage(t *testing.T) {
	p := newPair(t)
	require.NoError(t, p.master.Close())

	s := startReplication(t, p.input())
	select {
	case err := <-s.Errors():
		assert.ErrorIs(t, err, storage.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestReplicationSQLiteForkShardedMaster(t *testing.T) {
	clock := testutil.NewDeterministicClock(1000)
	db, err := sqlite.Open(t.TempDir() + "/fork.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fork, err := db.Collection(storage.Params{DatabaseName: "fork", Schema: testutil.HumanSchema(), Clock: clock})
	require.NoError(t, err)
	meta, err := db.Collection(storage.Params{DatabaseName: "fork", Schema: MetaSchema(), Clock: clock})
	require.NoError(t, err)

	var shards []storage.Instance
	for range 3 {
		shard, err := memory.New(storage.Params{DatabaseName: "master", Schema: testutil.HumanSchema(), Clock: clock})
		require.NoError(t, err)
		shards = append(shards, shard)
	}
	master, err := sharded.New(storage.Params{DatabaseName: "master", Schema: testutil.HumanSchema(), Clock: clock}, shards...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = master.Close() })

	p := &pair{fork: fork, master: master, meta: meta, clock: clock}
	for _, id := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		p.put(t, p.master, testutil.Human(id, "M", id, 40))
	}
	p.put(t, p.fork, testutil.Human("f1", "F", "f1", 20))

	in := p.input()
	in.PullBatchSize = 2
	s := startReplication(t, in)
	awaitInSync(t, s)
	assertConverged(t, p)
	assert.Len(t, allDocs(t, p.fork), 7)

	p.remove(t, p.fork, "h3")
	awaitInSync(t, s)
	assertConverged(t, p)
	assert.True(t, allDocs(t, p.master)["h3"].Deleted)
}

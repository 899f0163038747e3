package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/docsync/internal/config"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/replication"
	"github.com/roach88/docsync/internal/schema"
	"github.com/roach88/docsync/internal/storage"
	"github.com/roach88/docsync/internal/storage/memory"
	"github.com/roach88/docsync/internal/testutil"
)

// Fixed instance tokens, so that first revisions are reproducible.
const (
	forkToken   = "harness-fork"
	masterToken = "harness-master"
)

// syncTimeout bounds one sync step.
const syncTimeout = 10 * time.Second

// Harness holds the stores of one scenario run.
type Harness struct {
	schema   doc.Schema
	fork     storage.Instance
	master   storage.Instance
	meta     storage.Instance
	clock    *testutil.DeterministicClock
	logger   *slog.Logger
	scenario *Scenario
}

// Run executes a scenario against fresh in-memory stores and evaluates its
// assertions. The returned error reports a scenario that could not be
// executed; failed assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	schemas, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	collection, err := schema.Find(schemas, scenario.Collection)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		schema:   collection,
		clock:    testutil.NewDeterministicClock(1000),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		scenario: scenario,
	}
	open := func(db, token string, s doc.Schema) (storage.Instance, error) {
		return memory.New(storage.Params{DatabaseName: db, Schema: s, Token: token, Clock: h.clock})
	}
	if h.fork, err = open("fork", forkToken, collection); err != nil {
		return nil, err
	}
	defer h.fork.Close()
	if h.master, err = open("master", masterToken, collection); err != nil {
		return nil, err
	}
	defer h.master.Close()
	if h.meta, err = open("fork", forkToken, replication.MetaSchema()); err != nil {
		return nil, err
	}
	defer h.meta.Close()

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	if result.Fork, err = h.snapshot(ctx, h.fork); err != nil {
		return nil, err
	}
	if result.Master, err = h.snapshot(ctx, h.master); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	switch step.Op {
	case OpPut:
		d, err := h.parseDocument(step.Doc)
		if err != nil {
			return err
		}
		_, err = storage.Upsert(ctx, h.store(step.Store), h.clock, d, "harness")
		return err
	case OpRemove:
		removed, err := storage.Remove(ctx, h.store(step.Store), h.clock, step.ID, "harness")
		if err != nil {
			return err
		}
		if removed == nil {
			return fmt.Errorf("document %q not found in %s", step.ID, step.Store)
		}
		return nil
	case OpSync:
		if err := h.sync(ctx); err != nil {
			return err
		}
		result.Syncs++
		return nil
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// sync replicates until fork and master are in sync, then cancels.
func (h *Harness) sync(ctx context.Context) error {
	handler := replication.MasterWins
	if h.scenario.ConflictStrategy == config.ForkWins {
		handler = replication.ForkWins
	}

	state, err := replication.Replicate(ctx, replication.Input{
		Identifier:      "harness",
		Fork:            h.fork,
		Master:          h.master,
		Meta:            h.meta,
		PullBatchSize:   h.scenario.BatchSize,
		PushBatchSize:   h.scenario.BatchSize,
		ConflictHandler: handler,
		Clock:           h.clock,
		Logger:          h.logger,
		Metrics:         replication.NewMetrics(prometheus.NewRegistry()),
		RetryTime:       10 * time.Millisecond,
		MaxRetryTime:    100 * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer state.Cancel()

	waitCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	if err := state.AwaitInSync(waitCtx); err != nil {
		return fmt.Errorf("await in sync: %w", err)
	}
	return nil
}

func (h *Harness) store(name string) storage.Instance {
	if name == StoreMaster {
		return h.master
	}
	return h.fork
}

// parseDocument converts a flat YAML document into a Document. Values go
// through JSON first so numbers take the same form as in stored documents.
func (h *Harness) parseDocument(flat map[string]any) (doc.Document, error) {
	raw, err := json.Marshal(flat)
	if err != nil {
		return doc.Document{}, fmt.Errorf("encode document: %w", err)
	}
	m, err := doc.UnmarshalData(raw)
	if err != nil {
		return doc.Document{}, err
	}
	return h.schema.FromMap(m)
}

func (h *Harness) snapshot(ctx context.Context, inst storage.Instance) ([]DocState, error) {
	page, err := inst.GetChangedDocumentsSince(ctx, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", inst.DatabaseName(), err)
	}
	states := make([]DocState, len(page.Documents))
	for i, d := range page.Documents {
		states[i] = stateOf(d)
	}
	sortStates(states)
	return states, nil
}

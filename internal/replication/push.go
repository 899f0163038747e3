package replication

import (
	"context"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
)

// push runs one push iteration: fork changes since the push checkpoint
// are written to the master, then the checkpoint advances. It reports
// whether the batch was full.
func (s *State) push(ctx context.Context) (bool, error) {
	const direction = DirectionPush
	log := s.log.With("direction", direction)

	s.setPhase(direction, PhaseFetching)
	cp, err := s.currentCheckpoint(ctx, direction)
	if err != nil {
		return false, err
	}
	changes, err := s.input.Fork.GetChangedDocumentsSince(ctx, s.input.PushBatchSize, cp)
	if err != nil {
		return false, newError(ErrCodeFetch, direction, "read fork changes", err)
	}
	if len(changes.Documents) == 0 || s.isCanceled() {
		return false, nil
	}
	log.Debug("read fork changes", "count", len(changes.Documents))

	s.setPhase(direction, PhaseApplying)
	if err := s.applyToMaster(ctx, changes.Documents); err != nil {
		return false, err
	}

	if s.isCanceled() {
		return false, nil
	}
	s.setPhase(direction, PhaseCheckpointing)
	if err := SetCheckpoint(ctx, s, direction, changes.Checkpoint); err != nil {
		return false, err
	}
	return len(changes.Documents) >= s.input.PushBatchSize, nil
}

// applyToMaster writes fork states to the master, expecting the assumed
// master state as the master's current revision. Documents whose state
// already equals the assumed master state came from the master and are
// skipped.
func (s *State) applyToMaster(ctx context.Context, forkDocs []doc.Document) error {
	const direction = DirectionPush
	log := s.log.With("direction", direction)

	assumed, err := s.assumedMasterStates(ctx, documentIDs(forkDocs))
	if err != nil {
		return newError(ErrCodeFetch, direction, "read assumed master states", err)
	}

	var (
		rows    []bulkwrite.Row
		pending = make(map[string]doc.Document)
		settled []doc.Document
	)
	for _, f := range forkDocs {
		var previous *doc.Document
		if a, ok := assumed[f.ID]; ok {
			if doc.EqualState(f, a.master) {
				continue
			}
			previous = a.master.Ptr()
		}
		next, err := s.nextRevision(ctx, s.input.Master, s.input.Fork, f, previous)
		if err != nil {
			return newError(ErrCodeWrite, direction, "prepare master write", err)
		}
		rows = append(rows, bulkwrite.Row{Document: next, Previous: previous})
		pending[f.ID] = f
	}
	if len(rows) == 0 {
		return nil
	}

	resp, err := s.input.Master.BulkWrite(ctx, rows, "replication-push")
	if err != nil {
		return newError(ErrCodeWrite, direction, "write master", err)
	}
	settled = append(settled, resp.Success...)
	s.input.Metrics.Documents.WithLabelValues(string(direction)).Add(float64(len(resp.Success)))

	for _, werr := range resp.Errors {
		if !bulkwrite.IsConflict(werr) || werr.DocumentInDB == nil {
			return newError(ErrCodeWrite, direction, "write master", werr)
		}
		master := *werr.DocumentInDB
		settled = append(settled, master)

		f := pending[werr.DocumentID]
		if doc.EqualState(f, master) {
			continue
		}
		var assumedMaster *doc.Document
		if a, ok := assumed[f.ID]; ok {
			assumedMaster = a.master.Ptr()
		}
		if err := s.resolveMasterConflict(ctx, f, master, assumedMaster); err != nil {
			return err
		}
		log.Debug("resolved master conflict", "id", f.ID)
	}

	if err := s.setAssumedMasterStates(ctx, assumed, settled); err != nil {
		return newError(ErrCodeWrite, direction, "record assumed master states", err)
	}
	return nil
}

// resolveMasterConflict asks the conflict handler for the winning state
// and writes it to the fork as a new revision. When the winner differs
// from the master, that fork write is a fresh change the next push
// iteration sends with the real master state as its precondition. A fork
// that moved on in the meantime is left alone; its newer change is
// pushed instead.
func (s *State) resolveMasterConflict(ctx context.Context, fork, master doc.Document, assumedMaster *doc.Document) error {
	const direction = DirectionPush

	s.input.Metrics.Conflicts.WithLabelValues(string(direction)).Inc()
	resolved, err := s.input.ConflictHandler.Resolve(ctx, ConflictInput{
		NewDocumentState:   fork,
		RealMasterState:    master,
		AssumedMasterState: assumedMaster,
	})
	if err != nil {
		return newError(ErrCodeConflictHandler, direction, "resolve "+fork.ID, err)
	}
	resolved.ID = fork.ID

	source := s.input.Master
	if !doc.EqualState(resolved, master) {
		source = s.input.Fork
	}
	next, err := s.nextRevision(ctx, s.input.Fork, source, resolved, &fork)
	if err != nil {
		return newError(ErrCodeWrite, direction, "prepare conflict resolution", err)
	}
	res := writeOne(ctx, s.input.Fork, bulkwrite.Row{Document: next, Previous: &fork}, "replication-push-conflict")
	switch res.outcome {
	case writeSucceeded, writeConflicted:
		return nil
	default:
		return newError(ErrCodeWrite, direction, "write conflict resolution", res.err)
	}
}

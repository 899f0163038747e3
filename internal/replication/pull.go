package replication

import (
	"context"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
)

// pull runs one pull iteration: master changes since the pull checkpoint
// are written into the fork, then the checkpoint advances. It reports
// whether the batch was full, meaning more changes may be waiting.
func (s *State) pull(ctx context.Context) (bool, error) {
	const direction = DirectionPull
	log := s.log.With("direction", direction)

	s.setPhase(direction, PhaseFetching)
	cp, err := s.currentCheckpoint(ctx, direction)
	if err != nil {
		return false, err
	}
	changes, err := s.input.Master.GetChangedDocumentsSince(ctx, s.input.PullBatchSize, cp)
	if err != nil {
		return false, newError(ErrCodeFetch, direction, "read master changes", err)
	}
	if len(changes.Documents) == 0 || s.isCanceled() {
		return false, nil
	}
	log.Debug("pulled master changes", "count", len(changes.Documents))

	s.setPhase(direction, PhaseApplying)
	if err := s.applyToFork(ctx, changes.Documents); err != nil {
		return false, err
	}

	if s.isCanceled() {
		return false, nil
	}
	s.setPhase(direction, PhaseCheckpointing)
	if err := SetCheckpoint(ctx, s, direction, changes.Checkpoint); err != nil {
		return false, err
	}
	return len(changes.Documents) >= s.input.PullBatchSize, nil
}

// applyToFork writes master states into the fork. Documents the fork
// changed since it last agreed with the master are skipped; the push
// loop resolves them.
func (s *State) applyToFork(ctx context.Context, masters []doc.Document) error {
	const direction = DirectionPull
	log := s.log.With("direction", direction)
	ids := documentIDs(masters)

	forkDocs, err := s.input.Fork.FindDocumentsByID(ctx, ids, true)
	if err != nil {
		return newError(ErrCodeFetch, direction, "read fork documents", err)
	}
	forkByID := byID(forkDocs)
	assumed, err := s.assumedMasterStates(ctx, ids)
	if err != nil {
		return newError(ErrCodeFetch, direction, "read assumed master states", err)
	}

	var (
		rows    []bulkwrite.Row
		pending = make(map[string]doc.Document)
		settled []doc.Document
	)
	for _, m := range masters {
		f, hasFork := forkByID[m.ID]
		a, hasAssumed := assumed[m.ID]

		if hasFork && doc.EqualState(f, m) {
			settled = append(settled, m)
			continue
		}
		if hasFork && (!hasAssumed || !doc.EqualState(f, a.master)) {
			log.Debug("skipping document with unpushed fork changes", "id", m.ID)
			continue
		}

		var previous *doc.Document
		if hasFork {
			previous = f.Ptr()
		}
		next, err := s.nextRevision(ctx, s.input.Fork, s.input.Master, m, previous)
		if err != nil {
			return newError(ErrCodeWrite, direction, "prepare fork write", err)
		}
		rows = append(rows, bulkwrite.Row{Document: next, Previous: previous})
		pending[m.ID] = m
	}

	if len(rows) > 0 {
		resp, err := s.input.Fork.BulkWrite(ctx, rows, "replication-pull")
		if err != nil {
			return newError(ErrCodeWrite, direction, "write fork", err)
		}
		for _, d := range resp.Success {
			settled = append(settled, pending[d.ID])
		}
		s.input.Metrics.Documents.WithLabelValues(string(direction)).Add(float64(len(resp.Success)))

		for _, werr := range resp.Errors {
			if !bulkwrite.IsConflict(werr) || werr.DocumentInDB == nil {
				return newError(ErrCodeWrite, direction, "write fork", werr)
			}
			m := pending[werr.DocumentID]
			var assumedMaster *doc.Document
			if a, ok := assumed[m.ID]; ok {
				assumedMaster = a.master.Ptr()
			}
			if err := s.resolveForkConflict(ctx, *werr.DocumentInDB, m, assumedMaster); err != nil {
				return err
			}
			settled = append(settled, m)
		}
	}

	if err := s.setAssumedMasterStates(ctx, assumed, settled); err != nil {
		return newError(ErrCodeWrite, direction, "record assumed master states", err)
	}
	return nil
}

// resolveForkConflict settles a pull write the fork rejected because it
// changed concurrently. The conflict handler picks the state and it is
// written on top of the fork's current document, retrying while the fork
// keeps moving.
func (s *State) resolveForkConflict(ctx context.Context, current, master doc.Document, assumedMaster *doc.Document) error {
	const direction = DirectionPull

	for !s.isCanceled() {
		if doc.EqualState(current, master) {
			return nil
		}
		s.input.Metrics.Conflicts.WithLabelValues(string(direction)).Inc()
		resolved, err := s.input.ConflictHandler.Resolve(ctx, ConflictInput{
			NewDocumentState:   current,
			RealMasterState:    master,
			AssumedMasterState: assumedMaster,
		})
		if err != nil {
			return newError(ErrCodeConflictHandler, direction, "resolve "+master.ID, err)
		}
		resolved.ID = master.ID

		next, err := s.nextRevision(ctx, s.input.Fork, s.input.Master, resolved, &current)
		if err != nil {
			return newError(ErrCodeWrite, direction, "prepare conflict resolution", err)
		}
		res := writeOne(ctx, s.input.Fork, bulkwrite.Row{Document: next, Previous: &current}, "replication-pull-conflict")
		switch res.outcome {
		case writeSucceeded:
			s.input.Metrics.Documents.WithLabelValues(string(direction)).Inc()
			return nil
		case writeConflicted:
			current = *res.documentInDB
		default:
			return newError(ErrCodeWrite, direction, "write conflict resolution", res.err)
		}
	}
	return nil
}

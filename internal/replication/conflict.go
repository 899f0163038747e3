package replication

import (
	"context"

	"github.com/roach88/docsync/internal/doc"
)

// ConflictInput describes a document both sides changed.
type ConflictInput struct {
	// NewDocumentState is the fork's state.
	NewDocumentState doc.Document
	// RealMasterState is the master's current state.
	RealMasterState doc.Document
	// AssumedMasterState is the master state the fork last agreed with,
	// or nil when the fork never saw this document on the master.
	AssumedMasterState *doc.Document
}

// ConflictHandler picks the state both sides converge on. Only the
// returned document's state (data, _deleted, _attachments) is used; the
// replication derives revisions and write times itself.
type ConflictHandler interface {
	Resolve(ctx context.Context, in ConflictInput) (doc.Document, error)
}

// ConflictHandlerFunc adapts a function to ConflictHandler.
type ConflictHandlerFunc func(ctx context.Context, in ConflictInput) (doc.Document, error)

// Resolve implements ConflictHandler.
func (f ConflictHandlerFunc) Resolve(ctx context.Context, in ConflictInput) (doc.Document, error) {
	return f(ctx, in)
}

// MasterWins resolves every conflict to the master's state.
var MasterWins ConflictHandler = ConflictHandlerFunc(func(_ context.Context, in ConflictInput) (doc.Document, error) {
	return in.RealMasterState, nil
})

// ForkWins resolves every conflict to the fork's state.
var ForkWins ConflictHandler = ConflictHandlerFunc(func(_ context.Context, in ConflictInput) (doc.Document, error) {
	return in.NewDocumentState, nil
})

package harness

import (
	"slices"
	"strings"

	"github.com/roach88/docsync/internal/doc"
)

// DocState is the replicated state of one document.
type DocState struct {
	ID      string         `json:"id"`
	Deleted bool           `json:"deleted"`
	Data    map[string]any `json:"data"`
}

func stateOf(d doc.Document) DocState {
	data := d.Data
	if data == nil {
		data = map[string]any{}
	}
	return DocState{ID: d.ID, Deleted: d.Deleted, Data: data}
}

func (s DocState) canonicalMap() map[string]any {
	return map[string]any{
		"id":      s.ID,
		"deleted": s.Deleted,
		"data":    s.Data,
	}
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Fork and Master are the final states, ordered by id.
	Fork   []DocState `json:"fork"`
	Master []DocState `json:"master"`

	// Syncs counts completed sync steps.
	Syncs int `json:"syncs"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		Fork:   []DocState{},
		Master: []DocState{},
	}
}

// AddError records a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Store returns the final state of the named store.
func (r *Result) Store(name string) []DocState {
	if name == StoreMaster {
		return r.Master
	}
	return r.Fork
}

func sortStates(states []DocState) {
	slices.SortFunc(states, func(a, b DocState) int { return strings.Compare(a.ID, b.ID) })
}

package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func humanScenario(name string, steps []Step, assertions []Assertion) *Scenario {
	return &Scenario{
		Name:        name,
		Description: name,
		Schema:      filepath.Join("testdata", "schemas", "human.cue"),
		Collection:  "human",
		Steps:       steps,
		Assertions:  assertions,
	}
}

func putStep(store, id, first string, age int) Step {
	return Step{Op: OpPut, Store: store, Doc: map[string]any{
		"passportId": id,
		"firstName":  first,
		"lastName":   "Test",
		"age":        age,
	}}
}

func TestRunWithoutSyncKeepsSidesApart(t *testing.T) {
	result, err := Run(humanScenario("apart",
		[]Step{putStep(StoreFork, "a", "A", 1)},
		[]Assertion{
			{Type: AssertCount, Store: StoreFork, Count: 1},
			{Type: AssertCount, Store: StoreMaster, Count: 0},
		},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Zero(t, result.Syncs)
	assert.Empty(t, result.Master)
}

func TestRunReportsFailedAssertions(t *testing.T) {
	result, err := Run(humanScenario("failing",
		[]Step{putStep(StoreFork, "a", "A", 1)},
		[]Assertion{
			{Type: AssertConverged},
			{Type: AssertDocument, Store: StoreFork, ID: "a", Expect: map[string]any{"firstName": "B"}},
			{Type: AssertDocument, Store: StoreMaster, ID: "a", Expect: map[string]any{"firstName": "A"}},
		},
	))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "converged")
	assert.Contains(t, result.Errors[1], "a.firstName = B")
	assert.Contains(t, result.Errors[2], "missing")
}

func TestRunSyncs(t *testing.T) {
	result, err := Run(humanScenario("sync",
		[]Step{
			putStep(StoreFork, "a", "A", 1),
			putStep(StoreMaster, "b", "B", 2),
			{Op: OpSync},
			putStep(StoreMaster, "b", "B2", 3),
			{Op: OpSync},
		},
		[]Assertion{
			{Type: AssertConverged},
			{Type: AssertDocument, Store: StoreFork, ID: "b", Expect: map[string]any{"firstName": "B2", "age": 3, "_deleted": false}},
		},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, 2, result.Syncs)
	require.Len(t, result.Fork, 2)
	assert.Equal(t, "a", result.Fork[0].ID)
}

func TestRunErrors(t *testing.T) {
	s := humanScenario("missing", []Step{{Op: OpRemove, Store: StoreFork, ID: "ghost"}}, []Assertion{{Type: AssertConverged}})
	_, err := Run(s)
	assert.ErrorContains(t, err, `document "ghost" not found`)

	s = humanScenario("collection", []Step{{Op: OpSync}}, []Assertion{{Type: AssertConverged}})
	s.Collection = "cats"
	_, err = Run(s)
	assert.ErrorContains(t, err, "unknown collection")

	s = humanScenario("no pk", []Step{{Op: OpPut, Store: StoreFork, Doc: map[string]any{"age": 1}}}, []Assertion{{Type: AssertConverged}})
	_, err = Run(s)
	assert.ErrorContains(t, err, "missing primary key")
}

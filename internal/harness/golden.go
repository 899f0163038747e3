package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/docsync/internal/doc"
)

// Snapshot is the golden record of a scenario: the final state of both
// stores, ordered by id.
type Snapshot struct {
	ScenarioName string     `json:"scenario"`
	Fork         []DocState `json:"fork"`
	Master       []DocState `json:"master"`
}

// toCanonicalMap converts a Snapshot for canonical JSON serialization,
// which only handles plain JSON values.
func (s *Snapshot) toCanonicalMap() map[string]any {
	list := func(states []DocState) []any {
		out := make([]any, len(states))
		for i, st := range states {
			out[i] = st.canonicalMap()
		}
		return out
	}
	return map[string]any{
		"scenario": s.ScenarioName,
		"fork":     list(s.Fork),
		"master":   list(s.Master),
	}
}

// RunWithGolden executes a scenario, fails t on any failed assertion, and
// compares the final states against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := SnapshotJSON(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// SnapshotJSON renders the golden record of a result as canonical JSON.
func SnapshotJSON(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Fork:         result.Fork,
		Master:       result.Master,
	}
	return doc.MarshalCanonical(snapshot.toCanonicalMap())
}

package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/two_way_sync.yaml")
	require.NoError(t, err)

	assert.Equal(t, "two_way_sync", s.Name)
	assert.Equal(t, filepath.Join("testdata", "schemas", "human.cue"), s.Schema)
	require.Len(t, s.Steps, 6)
	assert.Equal(t, OpPut, s.Steps[0].Op)
	assert.Equal(t, "alice", s.Steps[0].Doc["passportId"])
	assert.Equal(t, OpRemove, s.Steps[3].Op)
	assert.Equal(t, "bob", s.Steps[3].ID)
	assert.Len(t, s.Assertions, 4)
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: x
description: d
schema: s.cue
collection: human
steps: [{op: sync}]
assertion: [{type: converged}]
`)
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestLoadScenarioValidation(t *testing.T) {
	base := "name: x\ndescription: d\nschema: s.cue\ncollection: human\n"
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no steps", "assertions: [{type: converged}]\n", "steps list is required"},
		{"no assertions", "steps: [{op: sync}]\n", "assertions list is required"},
		{"unknown op", "steps: [{op: upsert}]\nassertions: [{type: converged}]\n", `unknown op "upsert"`},
		{"put without doc", "steps: [{op: put, store: fork}]\nassertions: [{type: converged}]\n", "doc is required"},
		{"bad store", "steps: [{op: remove, store: both, id: a}]\nassertions: [{type: converged}]\n", "store must be"},
		{"document without expect", "steps: [{op: sync}]\nassertions: [{type: document, store: fork, id: a}]\n", "expect is required"},
		{"unknown assertion", "steps: [{op: sync}]\nassertions: [{type: trace_order}]\n", "unknown assertion type"},
		{"strategy", "conflict_strategy: coin-flip\nsteps: [{op: sync}]\nassertions: [{type: converged}]\n", "conflict_strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, base+tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := LoadScenario(writeScenario(t, "description: d\n"))
	assert.ErrorContains(t, err, "name is required")
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

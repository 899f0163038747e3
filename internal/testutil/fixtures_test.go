package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/doc"
)

func TestHumanSchemaIsValid(t *testing.T) {
	require.NoError(t, HumanSchema().Validate())
}

func TestRevise_ChainsHeights(t *testing.T) {
	clock := NewDeterministicClock(100)
	first := Revise(t, "tok", clock, Human("alice", "Alice", "Kim", 30), nil)
	assert.Equal(t, 1, doc.Height(first.Rev))
	assert.Equal(t, int64(101), first.Meta.LWT)

	changed := first.Clone()
	changed.Data["age"] = float64(31)
	second := Revise(t, "tok", clock, changed, &first)
	assert.Equal(t, 2, doc.Height(second.Rev))
	assert.Equal(t, int64(102), second.Meta.LWT)
}

package queryplan

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/doc"
)

func people() []doc.Document {
	rows := []struct {
		id   string
		name string
		age  float64
	}{
		{"p1", "alice", 30},
		{"p2", "bob", 25},
		{"p3", "carol", 41},
		{"p4", "dave", 30},
		{"p5", "erin", 19},
	}
	out := make([]doc.Document, 0, len(rows))
	for i, r := range rows {
		out = append(out, doc.Document{
			ID:   r.id,
			Rev:  "1-x",
			Meta: doc.Meta{LWT: int64(i + 1)},
			Data: map[string]any{"name": r.name, "age": r.age},
		})
	}
	return out
}

func ids(docs []doc.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestPlanInRange(t *testing.T) {
	p := Plan{
		StartKeys:      []any{20, IndexMax},
		EndKeys:        []any{30, IndexMax},
		InclusiveStart: false,
		InclusiveEnd:   true,
	}
	assert.False(t, p.InRange([]any{20.0, "zzz"}))
	assert.True(t, p.InRange([]any{21.0, "a"}))
	assert.True(t, p.InRange([]any{30.0, nil}))
	assert.False(t, p.InRange([]any{31.0, "a"}))

	all := Plan{StartKeys: []any{IndexMin}, EndKeys: []any{IndexMax}, InclusiveStart: true, InclusiveEnd: true}
	for _, v := range []any{nil, false, -1e9, "", "\U0010FFFF", map[string]any{}} {
		assert.True(t, all.InRange([]any{v}), fmt.Sprint(v))
	}
}

func TestExecute(t *testing.T) {
	schema := humanSchema([]string{"age"})

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all by primary key", Query{}, []string{"p1", "p2", "p3", "p4", "p5"}},
		{"equality via index", Query{Selector: Selector{"age": {OpEq: 30}}}, []string{"p1", "p4"}},
		{"range sorted", Query{Selector: Selector{"age": {OpGte: 25}}, Sort: []SortField{{Field: "age"}}}, []string{"p2", "p1", "p4", "p3"}},
		{"desc sort", Query{Sort: []SortField{{Field: "age", Direction: Desc}}}, []string{"p3", "p1", "p4", "p2", "p5"}},
		{"unindexed filter", Query{Selector: Selector{"name": {OpIn: []any{"bob", "erin"}}}}, []string{"p2", "p5"}},
		{"skip and limit", Query{Skip: 1, Limit: 2}, []string{"p2", "p3"}},
		{"skip past end", Query{Skip: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pq, err := Prepare(schema, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(Execute(schema, pq, people())))
		})
	}
}

func TestExecuteExcludesTombstones(t *testing.T) {
	schema := humanSchema()
	docs := people()
	docs[0].Deleted = true

	pq, err := Prepare(schema, Query{})
	require.NoError(t, err)
	assert.NotContains(t, ids(Execute(schema, pq, docs)), "p1")

	pq, err = Prepare(schema, Query{Selector: Selector{"_deleted": {OpEq: true}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids(Execute(schema, pq, docs)))
}

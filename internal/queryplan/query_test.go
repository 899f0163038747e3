package queryplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"selector": {"age": {"$gt": 20}, "name": "x", "address": {"city": "Oslo"}},
		"sort": [{"age": "DESC"}],
		"index": ["age"],
		"skip": 2,
		"limit": 10
	}`))
	require.NoError(t, err)

	assert.Equal(t, Condition{OpGt: 20.0}, q.Selector["age"])
	assert.Equal(t, Condition{OpEq: "x"}, q.Selector["name"])
	assert.Equal(t, Condition{OpEq: map[string]any{"city": "Oslo"}}, q.Selector["address"])
	assert.Equal(t, []SortField{{Field: "age", Direction: Desc}}, q.Sort)
	assert.Equal(t, []string{"age"}, q.Index)
	assert.Equal(t, 2, q.Skip)
	assert.Equal(t, 10, q.Limit)
}

func TestParseQueryErrors(t *testing.T) {
	bad := []string{
		`not json`,
		`{"selector": []}`,
		`{"sort": {"age": "asc"}}`,
		`{"sort": [{"a": "asc", "b": "asc"}]}`,
		`{"index": 3}`,
		`{"index": [1]}`,
		`{"limit": 1.5}`,
		`{"skip": "2"}`,
	}
	for _, input := range bad {
		t.Run(input, func(t *testing.T) {
			_, err := ParseQuery([]byte(input))
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestFromMangoYAML(t *testing.T) {
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(`
selector:
  age:
    $gte: 18
  tags:
    $in: [a, b]
sort:
  - name: asc
limit: 5
`), &raw))

	q, err := FromMango(raw)
	require.NoError(t, err)
	assert.Equal(t, Condition{OpGte: 18}, q.Selector["age"])
	assert.Equal(t, Condition{OpIn: []any{"a", "b"}}, q.Selector["tags"])
	assert.Equal(t, 5, q.Limit)
	require.NoError(t, Validate(q))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		ok   bool
	}{
		{"empty", Query{}, true},
		{"all operators", Query{Selector: Selector{"a": {OpEq: 1, OpNe: 2, OpGt: 0, OpGte: 0, OpLt: 9, OpLte: 9, OpIn: []any{1}, OpNin: []any{3}, OpExists: true}}}, true},
		{"unknown operator", Query{Selector: Selector{"a": {"$regex": "x"}}}, false},
		{"in needs list", Query{Selector: Selector{"a": {OpIn: 1}}}, false},
		{"exists needs bool", Query{Selector: Selector{"a": {OpExists: "yes"}}}, false},
		{"empty condition", Query{Selector: Selector{"a": {}}}, false},
		{"empty field", Query{Selector: Selector{"": {OpEq: 1}}}, false},
		{"bad direction", Query{Sort: []SortField{{Field: "a", Direction: "up"}}}, false},
		{"empty sort field", Query{Sort: []SortField{{}}}, false},
		{"negative limit", Query{Limit: -1}, false},
		{"empty index field", Query{Index: []string{""}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.q)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidQuery)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	schema := humanSchema()

	q := Normalize(schema, Query{Sort: []SortField{{Field: "age"}}})
	assert.NotNil(t, q.Selector)
	assert.Equal(t, []SortField{{Field: "age", Direction: Asc}, {Field: "passportId", Direction: Asc}}, q.Sort)

	q = Normalize(schema, Query{Sort: []SortField{{Field: "passportId", Direction: Desc}}})
	assert.Equal(t, []SortField{{Field: "passportId", Direction: Desc}}, q.Sort)
}

func TestNormalizeCopies(t *testing.T) {
	in := Query{Selector: Selector{"a": {OpEq: 1}}, Index: []string{"a"}}
	out := Normalize(humanSchema(), in)
	out.Selector["a"][OpEq] = 2
	out.Index[0] = "b"
	assert.Equal(t, 1, in.Selector["a"][OpEq])
	assert.Equal(t, "a", in.Index[0])
}

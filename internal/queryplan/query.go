package queryplan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Selector operators.
const (
	OpEq     = "$eq"
	OpNe     = "$ne"
	OpGt     = "$gt"
	OpGte    = "$gte"
	OpLt     = "$lt"
	OpLte    = "$lte"
	OpIn     = "$in"
	OpNin    = "$nin"
	OpExists = "$exists"
)

// ErrInvalidQuery is wrapped by every query validation failure.
var ErrInvalidQuery = errors.New("invalid query")

// Condition maps operators to operand values for one field.
type Condition map[string]any

// Selector maps field paths to conditions. All conditions must hold.
type Selector map[string]Condition

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortField is one sort key.
type SortField struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// Query is a selector query over one collection.
type Query struct {
	Selector Selector    `json:"selector"`
	Sort     []SortField `json:"sort,omitempty"`

	// Index, when set, forces the planner to use exactly this index.
	Index []string `json:"index,omitempty"`

	Skip int `json:"skip,omitempty"`
	// Limit of 0 means unlimited.
	Limit int `json:"limit,omitempty"`
}

// ParseQuery decodes a Mango-style JSON query:
//
//	{"selector": {"age": {"$gt": 20}, "name": "x"},
//	 "sort": [{"age": "asc"}], "index": ["age"], "skip": 0, "limit": 10}
func ParseQuery(data []byte) (Query, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return FromMango(raw)
}

// FromMango builds a Query from a decoded Mango-style map, as produced by
// encoding/json or yaml.v3. Plain selector values mean $eq.
func FromMango(raw map[string]any) (Query, error) {
	var q Query
	q.Selector = Selector{}

	if sel, ok := raw["selector"]; ok && sel != nil {
		selMap, ok := asMap(sel)
		if !ok {
			return Query{}, fmt.Errorf("%w: selector must be an object", ErrInvalidQuery)
		}
		for field, cond := range selMap {
			q.Selector[field] = toCondition(cond)
		}
	}

	if sortRaw, ok := raw["sort"]; ok && sortRaw != nil {
		list, ok := sortRaw.([]any)
		if !ok {
			return Query{}, fmt.Errorf("%w: sort must be a list", ErrInvalidQuery)
		}
		for i, entry := range list {
			m, ok := asMap(entry)
			if !ok || len(m) != 1 {
				return Query{}, fmt.Errorf("%w: sort[%d] must be a single-key object", ErrInvalidQuery, i)
			}
			for field, dir := range m {
				d, _ := dir.(string)
				q.Sort = append(q.Sort, SortField{Field: field, Direction: Direction(strings.ToLower(d))})
			}
		}
	}

	if idx, ok := raw["index"]; ok && idx != nil {
		switch v := idx.(type) {
		case string:
			q.Index = []string{v}
		case []any:
			for _, f := range v {
				s, ok := f.(string)
				if !ok {
					return Query{}, fmt.Errorf("%w: index fields must be strings", ErrInvalidQuery)
				}
				q.Index = append(q.Index, s)
			}
		default:
			return Query{}, fmt.Errorf("%w: index must be a list of fields", ErrInvalidQuery)
		}
	}

	var err error
	if q.Skip, err = intField(raw, "skip"); err != nil {
		return Query{}, err
	}
	if q.Limit, err = intField(raw, "limit"); err != nil {
		return Query{}, err
	}
	return q, nil
}

// toCondition treats an object whose keys are all operators as a
// condition and anything else as an equality operand.
func toCondition(v any) Condition {
	if m, ok := asMap(v); ok && len(m) > 0 {
		allOps := true
		for k := range m {
			if !strings.HasPrefix(k, "$") {
				allOps = false
				break
			}
		}
		if allOps {
			return Condition(m)
		}
	}
	return Condition{OpEq: v}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Condition:
		return map[string]any(m), true
	}
	return nil, false
}

func intField(raw map[string]any, key string) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidQuery, key)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidQuery, key)
}

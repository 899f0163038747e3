package queryplan

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/docsync/internal/doc"
)

// Normalize returns a copy of q with defaults filled in: an empty
// selector instead of nil, ascending direction where none was given, and
// the primary key appended to the sort so results order totally.
func Normalize(schema doc.Schema, q Query) Query {
	out := Query{
		Selector: make(Selector, len(q.Selector)),
		Sort:     make([]SortField, 0, len(q.Sort)+1),
		Index:    slices.Clone(q.Index),
		Skip:     q.Skip,
		Limit:    q.Limit,
	}
	for field, cond := range q.Selector {
		out.Selector[field] = maps.Clone(cond)
	}

	hasPrimary := false
	for _, s := range q.Sort {
		if s.Direction == "" {
			s.Direction = Asc
		}
		if s.Field == schema.PrimaryKey {
			hasPrimary = true
		}
		out.Sort = append(out.Sort, s)
	}
	if !hasPrimary {
		out.Sort = append(out.Sort, SortField{Field: schema.PrimaryKey, Direction: Asc})
	}
	return out
}

// Validate rejects queries the planner and matcher cannot evaluate.
// Every error wraps ErrInvalidQuery.
func Validate(q Query) error {
	for _, field := range slices.Sorted(maps.Keys(q.Selector)) {
		if field == "" {
			return fmt.Errorf("%w: empty selector field", ErrInvalidQuery)
		}
		cond := q.Selector[field]
		if len(cond) == 0 {
			return fmt.Errorf("%w: field %q has no condition", ErrInvalidQuery, field)
		}
		for op, operand := range cond {
			switch op {
			case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			case OpIn, OpNin:
				if _, ok := operand.([]any); !ok {
					return fmt.Errorf("%w: %s on %q needs a list", ErrInvalidQuery, op, field)
				}
			case OpExists:
				if _, ok := operand.(bool); !ok {
					return fmt.Errorf("%w: %s on %q needs a boolean", ErrInvalidQuery, op, field)
				}
			default:
				return fmt.Errorf("%w: unsupported operator %s on %q", ErrInvalidQuery, op, field)
			}
		}
	}
	for i, s := range q.Sort {
		if s.Field == "" {
			return fmt.Errorf("%w: sort[%d] has no field", ErrInvalidQuery, i)
		}
		if s.Direction != "" && s.Direction != Asc && s.Direction != Desc {
			return fmt.Errorf("%w: sort[%d] direction %q", ErrInvalidQuery, i, s.Direction)
		}
	}
	for i, f := range q.Index {
		if f == "" {
			return fmt.Errorf("%w: index field %d is empty", ErrInvalidQuery, i)
		}
	}
	if q.Skip < 0 || q.Limit < 0 {
		return fmt.Errorf("%w: skip and limit must not be negative", ErrInvalidQuery)
	}
	return nil
}

// PreparedQuery is a normalized query together with its plan.
type PreparedQuery struct {
	Query Query `json:"query"`
	Plan  Plan  `json:"plan"`
}

// Prepare validates and normalizes q, then plans it against schema.
func Prepare(schema doc.Schema, q Query) (PreparedQuery, error) {
	if err := Validate(q); err != nil {
		return PreparedQuery{}, err
	}
	nq := Normalize(schema, q)
	return PreparedQuery{Query: nq, Plan: Build(schema, nq)}, nil
}

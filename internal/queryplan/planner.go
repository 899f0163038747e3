package queryplan

import (
	"math"
	"slices"
	"strings"

	"github.com/roach88/docsync/internal/doc"
)

// Range sentinels for unbounded index fields.
const (
	IndexMax = "\uffff"
	IndexMin = math.SmallestNonzeroFloat64
)

const pointsPerMatchingKey = 10

// Plan is the chosen index and key range for one query. Plans are
// recomputed per query and never cached across schema changes.
type Plan struct {
	Index                       []string `json:"index"`
	StartKeys                   []any    `json:"startKeys"`
	EndKeys                     []any    `json:"endKeys"`
	InclusiveStart              bool     `json:"inclusiveStart"`
	InclusiveEnd                bool     `json:"inclusiveEnd"`
	SortFieldsSameAsIndexFields bool     `json:"sortFieldsSameAsIndexFields"`
	SelectorSatisfiedByIndex    bool     `json:"selectorSatisfiedByIndex"`
}

// rangeOperators are the only operators that shape a key range.
var rangeOperators = map[string]bool{OpEq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true}

// IsIndexMin reports whether v is the lower range sentinel.
func IsIndexMin(v any) bool {
	f, ok := v.(float64)
	return ok && f == IndexMin
}

// IsIndexMax reports whether v is the upper range sentinel.
func IsIndexMax(v any) bool {
	s, ok := v.(string)
	return ok && s == IndexMax
}

func isSentinel(v any) bool {
	return IsIndexMin(v) || IsIndexMax(v)
}

// Build plans q against schema. q should be normalized (see Normalize).
//
// Candidates are the schema's indexes followed by the primary key index,
// or only q.Index when the query names one. A candidate replaces the best
// plan only with a positive score strictly above the best so far, so ties
// keep the first candidate; an explicit index is taken regardless of
// score. When nothing scores, the plan is a full primary key scan.
func Build(schema doc.Schema, q Query) Plan {
	primary := schema.PrimaryKey

	var candidates [][]string
	if len(q.Index) > 0 {
		candidates = [][]string{q.Index}
	} else {
		candidates = append(slices.Clone(schema.Indexes), []string{primary})
	}

	sortFields := make([]string, len(q.Sort))
	hasDesc := false
	for i, s := range q.Sort {
		sortFields[i] = s.Field
		if s.Direction == Desc {
			hasDesc = true
		}
	}
	sortKey := strings.Join(sortFields, ",")

	bestQuality := -1
	var best *Plan
	for _, index := range candidates {
		plan := planForIndex(index, q.Selector)
		plan.SortFieldsSameAsIndexFields = !hasDesc && sortKey == strings.Join(index, ",")
		quality := RateQueryPlan(plan)
		if (quality > 0 && quality > bestQuality) || len(q.Index) > 0 {
			bestQuality = quality
			p := plan
			best = &p
		}
	}

	if best == nil {
		return Plan{
			Index:                       []string{primary},
			StartKeys:                   []any{IndexMin},
			EndKeys:                     []any{IndexMax},
			InclusiveStart:              true,
			InclusiveEnd:                true,
			SortFieldsSameAsIndexFields: !hasDesc && sortKey == primary,
			SelectorSatisfiedByIndex:    IsSelectorSatisfiedByIndex([]string{primary}, q.Selector),
		}
	}
	return *best
}

// keyRange is the bound derived for one index field.
type keyRange struct {
	start, end                   any
	inclusiveStart, inclusiveEnd bool
	hasStart, hasEnd             bool
}

func planForIndex(index []string, selector Selector) Plan {
	plan := Plan{
		Index:                    slices.Clone(index),
		StartKeys:                make([]any, len(index)),
		EndKeys:                  make([]any, len(index)),
		InclusiveStart:           true,
		InclusiveEnd:             true,
		SelectorSatisfiedByIndex: IsSelectorSatisfiedByIndex(index, selector),
	}

	for i, field := range index {
		cond := selector[field]
		r := keyRange{inclusiveStart: true, inclusiveEnd: true}

		if len(cond) == 0 {
			// After an exclusive bound, unbounded fields start past every
			// key sharing the prefix (and end before them).
			r.start, r.hasStart = IndexMin, true
			if !plan.InclusiveStart {
				r.start = IndexMax
			}
			r.end, r.hasEnd = IndexMax, true
			if !plan.InclusiveEnd {
				r.end = IndexMin
			}
		} else {
			for _, op := range sortedOperators(cond) {
				if rangeOperators[op] {
					applyOperator(&r, op, cond[op])
				}
			}
		}
		if !r.hasStart {
			r.start = IndexMin
		}
		if !r.hasEnd {
			r.end = IndexMax
		}

		if plan.InclusiveStart && !r.inclusiveStart {
			plan.InclusiveStart = false
		}
		if plan.InclusiveEnd && !r.inclusiveEnd {
			plan.InclusiveEnd = false
		}
		plan.StartKeys[i] = r.start
		plan.EndKeys[i] = r.end
	}
	return plan
}

func applyOperator(r *keyRange, op string, value any) {
	switch op {
	case OpEq:
		r.start, r.hasStart = value, true
		r.end, r.hasEnd = value, true
	case OpGte:
		r.start, r.hasStart = value, true
	case OpGt:
		r.start, r.hasStart = value, true
		r.inclusiveStart = false
	case OpLte:
		r.end, r.hasEnd = value, true
	case OpLt:
		r.end, r.hasEnd = value, true
		r.inclusiveEnd = false
	}
}

// sortedOperators fixes the order operators are applied in, so that a
// condition combining $eq with a range operator plans deterministically.
func sortedOperators(cond Condition) []string {
	ops := make([]string, 0, len(cond))
	for op := range cond {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// RateQueryPlan scores a plan; higher is better.
func RateQueryPlan(plan Plan) int {
	quality := 0
	add := func(v int) {
		if v > 0 {
			quality += v
		}
	}

	nonMin := countLeading(plan.StartKeys, func(_ int, v any) bool { return !IsIndexMin(v) && !IsIndexMax(v) })
	add(nonMin * pointsPerMatchingKey)

	nonMax := countLeading(plan.StartKeys, func(_ int, v any) bool { return !IsIndexMax(v) && !IsIndexMin(v) })
	add(nonMax * pointsPerMatchingKey)

	equal := countLeading(plan.StartKeys, func(i int, v any) bool {
		return i < len(plan.EndKeys) && keysEqual(v, plan.EndKeys[i])
	})
	add(equal * pointsPerMatchingKey * 3 / 2)

	if plan.SortFieldsSameAsIndexFields {
		add(5)
	}
	return quality
}

func countLeading(keys []any, match func(int, any) bool) int {
	n := 0
	for i, k := range keys {
		if !match(i, k) {
			break
		}
		n++
	}
	return n
}

// keysEqual compares plan keys the way the planner needs: sentinels equal
// only themselves, scalars by value.
func keysEqual(a, b any) bool {
	switch {
	case IsIndexMin(a) || IsIndexMin(b):
		return IsIndexMin(a) && IsIndexMin(b)
	case IsIndexMax(a) || IsIndexMax(b):
		return IsIndexMax(a) && IsIndexMax(b)
	}
	return doc.CompareValues(a, b) == 0
}

// IsSelectorSatisfiedByIndex reports whether scanning index over the plan
// range yields exactly the selector's matches, with no post-filtering.
//
// That holds when every selector field is part of the index and uses only
// range operators, at most one index field carries a non-equality lower
// bound, and at most one carries a non-equality upper bound.
func IsSelectorSatisfiedByIndex(index []string, selector Selector) bool {
	inIndex := make(map[string]bool, len(index))
	for _, f := range index {
		inIndex[f] = true
	}
	for field, cond := range selector {
		if !inIndex[field] {
			return false
		}
		for op := range cond {
			if !rangeOperators[op] {
				return false
			}
		}
	}

	lowerBounded, upperBounded := 0, 0
	for _, field := range index {
		cond, ok := selector[field]
		if !ok {
			continue
		}
		if _, eq := cond[OpEq]; eq {
			continue
		}
		if hasAny(cond, OpGt, OpGte) {
			lowerBounded++
		}
		if hasAny(cond, OpLt, OpLte) {
			upperBounded++
		}
	}
	return lowerBounded <= 1 && upperBounded <= 1
}

func hasAny(cond Condition, ops ...string) bool {
	for _, op := range ops {
		if _, ok := cond[op]; ok {
			return true
		}
	}
	return false
}

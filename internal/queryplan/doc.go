// Package queryplan turns a declarative document query into an index
// choice and a bounded key range.
//
// The planner is pure: Build(schema, query) inspects only the schema's
// declared indexes and the query, never the data. Storage backends run the
// plan (key-range scan, then Matches over the candidates) and use
// SelectorSatisfiedByIndex to decide whether a count can be answered from
// the index alone.
//
// RANGE SENTINELS:
//
// Unbounded index fields use IndexMin and IndexMax rather than null or
// infinities, because plans cross storage boundaries as JSON and both
// sentinels survive encoding/json unchanged:
//
//	IndexMin  smallest positive float64 (5e-324)
//	IndexMax  "\uffff" (the largest UTF-16 code unit)
//
// SCORING:
//
// RateQueryPlan awards, over the leading index fields:
//
//	+20  per field whose start key is not a sentinel
//	     (10 for clearing IndexMin, 10 for clearing IndexMax)
//	+15  per field whose start key equals its end key
//	+5   when the index order already is the requested sort order
//	     (never when any sort field is descending)
package queryplan

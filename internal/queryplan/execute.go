package queryplan

import (
	"slices"

	"github.com/roach88/docsync/internal/doc"
)

// SortDocuments orders docs by the query's sort fields.
// Missing fields sort as null.
func SortDocuments(schema doc.Schema, sort []SortField, docs []doc.Document) {
	slices.SortStableFunc(docs, func(a, b doc.Document) int {
		for _, s := range sort {
			av, _ := schema.Value(a, s.Field)
			bv, _ := schema.Value(b, s.Field)
			c := doc.CompareValues(av, bv)
			if s.Direction == Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// Execute runs a prepared query over an in-memory candidate set: the plan
// range narrows candidates, the selector filters them, then sort, skip
// and limit apply. Tombstones are excluded unless the selector names
// _deleted. docs is not modified.
func Execute(schema doc.Schema, pq PreparedQuery, docs []doc.Document) []doc.Document {
	_, wantsDeleted := pq.Query.Selector[doc.FieldDeleted]

	out := make([]doc.Document, 0, len(docs))
	for _, d := range docs {
		if d.Deleted && !wantsDeleted {
			continue
		}
		if !pq.Plan.InRange(KeyOf(schema, pq.Plan.Index, d)) {
			continue
		}
		if !Matches(schema, pq.Query.Selector, d) {
			continue
		}
		out = append(out, d)
	}

	SortDocuments(schema, pq.Query.Sort, out)
	return Page(out, pq.Query.Skip, pq.Query.Limit)
}

// Page applies skip and limit (0 = unlimited).
func Page(docs []doc.Document, skip, limit int) []doc.Document {
	if skip >= len(docs) {
		return []doc.Document{}
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

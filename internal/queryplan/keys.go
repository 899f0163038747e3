package queryplan

import "github.com/roach88/docsync/internal/doc"

// KeyOf extracts d's composite key for index. Missing fields yield nil.
func KeyOf(schema doc.Schema, index []string, d doc.Document) []any {
	key := make([]any, len(index))
	for i, field := range index {
		v, _ := schema.Value(d, field)
		key[i] = v
	}
	return key
}

// compareToBound orders a document key component against a plan key.
// IndexMin sorts before every value and IndexMax after every value.
func compareToBound(v, bound any) int {
	switch {
	case IsIndexMin(bound):
		return 1
	case IsIndexMax(bound):
		return -1
	}
	return doc.CompareValues(v, bound)
}

func compareKeyToBounds(key, bounds []any) int {
	for i := 0; i < len(key) && i < len(bounds); i++ {
		if c := compareToBound(key[i], bounds[i]); c != 0 {
			return c
		}
	}
	return 0
}

// InRange reports whether a composite key lies inside the plan's range.
// Keys compare lexicographically, component by component.
func (p Plan) InRange(key []any) bool {
	lo := compareKeyToBounds(key, p.StartKeys)
	if lo < 0 || (lo == 0 && !p.InclusiveStart) {
		return false
	}
	hi := compareKeyToBounds(key, p.EndKeys)
	if hi > 0 || (hi == 0 && !p.InclusiveEnd) {
		return false
	}
	return true
}

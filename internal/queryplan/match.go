package queryplan

import (
	"github.com/roach88/docsync/internal/doc"
)

// Matches reports whether d satisfies every condition in selector.
//
// Ordering operators only compare values of the same kind: a number is
// never greater than a string. $ne and $nin match documents that lack
// the field.
func Matches(schema doc.Schema, selector Selector, d doc.Document) bool {
	for field, cond := range selector {
		v, present := schema.Value(d, field)
		for op, operand := range cond {
			if !matchOperator(op, v, present, operand) {
				return false
			}
		}
	}
	return true
}

func matchOperator(op string, v any, present bool, operand any) bool {
	switch op {
	case OpEq:
		return present && valuesEqual(v, operand)
	case OpNe:
		return !present || !valuesEqual(v, operand)
	case OpGt:
		return present && sameKind(v, operand) && doc.CompareValues(v, operand) > 0
	case OpGte:
		return present && sameKind(v, operand) && doc.CompareValues(v, operand) >= 0
	case OpLt:
		return present && sameKind(v, operand) && doc.CompareValues(v, operand) < 0
	case OpLte:
		return present && sameKind(v, operand) && doc.CompareValues(v, operand) <= 0
	case OpIn:
		return present && containsValue(operand, v)
	case OpNin:
		return !present || !containsValue(operand, v)
	case OpExists:
		want, _ := operand.(bool)
		return present == want
	}
	return false
}

func valuesEqual(a, b any) bool {
	return doc.CompareValues(a, b) == 0
}

func containsValue(list any, v any) bool {
	items, _ := list.([]any)
	for _, item := range items {
		if valuesEqual(v, item) {
			return true
		}
	}
	return false
}

// sameKind reports whether a and b are the same kind of scalar.
func sameKind(a, b any) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case nil:
		return false
	}
	_, an := doc.ToFloat(a)
	_, bn := doc.ToFloat(b)
	return an && bn
}

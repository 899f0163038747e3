package doc

import (
	"bytes"
	"encoding/json"
	"math"
)

// Type ranks for CompareValues. Values of different kinds order by rank.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankArray
	rankObject
)

// CompareValues defines the total order used for index scans and sorting:
// null < bool < number < string < array < object. Numbers compare
// numerically across Go numeric types, strings by UTF-16 code units,
// arrays element-wise, objects by canonical encoding.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	case rankNumber:
		af, _ := ToFloat(a)
		bf, _ := ToFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case rankString:
		return CompareUTF16(a.(string), b.(string))
	case rankArray:
		aa, ba := toArray(a), toArray(b)
		for i := 0; i < len(aa) && i < len(ba); i++ {
			if c := CompareValues(aa[i], ba[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(aa), len(ba))
	}
	ac, _ := MarshalCanonical(a)
	bc, _ := MarshalCanonical(b)
	return bytes.Compare(ac, bc)
}

// ToFloat converts any Go numeric value (or json.Number) to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && !math.IsInf(f, 0)
	}
	return 0, false
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case string:
		return rankString
	case []any, []string:
		return rankArray
	}
	if _, ok := ToFloat(v); ok {
		return rankNumber
	}
	return rankObject
}

func toArray(v any) []any {
	switch a := v.(type) {
	case []any:
		return a
	case []string:
		out := make([]any, len(a))
		for i, s := range a {
			out[i] = s
		}
		return out
	}
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"null equal", nil, nil, 0},
		{"null before bool", nil, false, -1},
		{"bool before number", true, 0, -1},
		{"number before string", 99, "a", -1},
		{"string before array", "z", []any{}, -1},
		{"array before object", []any{1}, map[string]any{}, -1},
		{"false before true", false, true, -1},
		{"mixed numeric types", int64(3), 3.0, 0},
		{"numeric order", 2, 10, -1},
		{"string order", "b", "a", 1},
		{"utf16 order", "\uffff", "\U00010000", 1},
		{"array prefix", []any{1}, []any{1, 2}, -1},
		{"array element", []any{1, "b"}, []any{1, "a"}, 1},
		{"objects", map[string]any{"a": 1}, map[string]any{"a": 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareValues(tt.a, tt.b))
			assert.Equal(t, -tt.want, CompareValues(tt.b, tt.a))
		})
	}
}

func TestToFloat(t *testing.T) {
	f, ok := ToFloat(int32(7))
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)

	_, ok = ToFloat("7")
	assert.False(t, ok)
}

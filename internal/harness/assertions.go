package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/docsync/internal/doc"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertConverged:
			err = assertConverged(result)
		case AssertDocument:
			err = assertDocument(result.Store(a.Store), a)
		case AssertCount:
			err = assertCount(result.Store(a.Store), a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertConverged(result *Result) error {
	master := make(map[string]DocState, len(result.Master))
	for _, s := range result.Master {
		master[s.ID] = s
	}
	if len(result.Fork) != len(master) {
		return &AssertionError{
			Type:     AssertConverged,
			Expected: fmt.Sprintf("%d documents in fork", len(master)),
			Actual:   fmt.Sprintf("%d", len(result.Fork)),
		}
	}
	for _, f := range result.Fork {
		m, ok := master[f.ID]
		if !ok {
			return &AssertionError{Type: AssertConverged, Expected: fmt.Sprintf("%s in master", f.ID), Actual: "missing"}
		}
		if !doc.CanonicalEqual(f.canonicalMap(), m.canonicalMap()) {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s as in master: %v", f.ID, m),
				Actual:   fmt.Sprintf("%v", f),
			}
		}
	}
	return nil
}

func assertDocument(states []DocState, a Assertion) error {
	for _, s := range states {
		if s.ID != a.ID {
			continue
		}
		for field, want := range a.Expect {
			var got any
			if field == doc.FieldDeleted {
				got = s.Deleted
			} else {
				got = s.Data[field]
			}
			if !doc.CanonicalEqual(normalizeYAML(want), got) {
				return &AssertionError{
					Type:     AssertDocument,
					Expected: fmt.Sprintf("%s.%s = %v in %s", a.ID, field, want, a.Store),
					Actual:   fmt.Sprintf("%v", got),
				}
			}
		}
		return nil
	}
	return &AssertionError{Type: AssertDocument, Expected: fmt.Sprintf("%s in %s", a.ID, a.Store), Actual: "missing"}
}

func assertCount(states []DocState, a Assertion) error {
	live := 0
	for _, s := range states {
		if !s.Deleted {
			live++
		}
	}
	if live != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d live documents in %s", a.Count, a.Store),
			Actual:   fmt.Sprintf("%d", live),
		}
	}
	return nil
}

// normalizeYAML converts the map type yaml.v3 may produce for nested
// values into the JSON shape canonical encoding understands.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return v
	}
}

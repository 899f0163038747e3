package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/doc"
)

// HumanSchema is the collection most tests write to: primary key
// passportId with secondary indexes on age and (firstName, lastName).
func HumanSchema() doc.Schema {
	return doc.Schema{
		Name:       "human",
		Version:    0,
		PrimaryKey: "passportId",
		Indexes: [][]string{
			{"age"},
			{"firstName", "lastName"},
		},
	}
}

// Human builds an unsaved human document.
func Human(passportID, firstName, lastName string, age int) doc.Document {
	return doc.Document{
		ID: passportID,
		Data: map[string]any{
			"firstName": firstName,
			"lastName":  lastName,
			"age":       float64(age),
		},
	}
}

// Revise stamps d as the next revision after previous (nil for a first
// write) using clock for the write time.
func Revise(t testing.TB, token string, clock doc.Clock, d doc.Document, previous *doc.Document) doc.Document {
	t.Helper()
	d.Meta.LWT = clock.Now()
	rev, err := doc.CreateRevision(token, d, previous)
	require.NoError(t, err)
	d.Rev = rev
	return d
}

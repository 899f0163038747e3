package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/doc"
)

const humanCUE = `
collection: human: {
	version:     1
	primary_key: "passportId"
	indexes: [["age"], ["firstName", "lastName"]]
}

collection: meta: {
	primary_key: "id"
	composite_key: {
		fields: ["itemId", "isCheckpoint"]
		separator: "|"
	}
}
`

func TestCompileCUE(t *testing.T) {
	schemas, err := CompileCUE("human.cue", []byte(humanCUE))
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	assert.Equal(t, doc.Schema{
		Name:       "human",
		Version:    1,
		PrimaryKey: "passportId",
		Indexes:    [][]string{{"age"}, {"firstName", "lastName"}},
	}, schemas[0])

	assert.Equal(t, "meta", schemas[1].Name)
	require.NotNil(t, schemas[1].CompositeKey)
	assert.Equal(t, []string{"itemId", "isCheckpoint"}, schemas[1].CompositeKey.Fields)
	assert.Equal(t, "|", schemas[1].CompositeKey.Separator)
}

func TestCompileCUEErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing primary key", `collection: a: { version: 0 }`, "primary_key"},
		{"primary key not a string", `collection: a: { primary_key: 3 }`, "primary_key"},
		{"index not a list", `collection: a: { primary_key: "id", indexes: ["age"] }`, "indexes"},
		{"empty index", `collection: a: { primary_key: "id", indexes: [[]] }`, "schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileCUE("bad.cue", []byte(tt.src))
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
			assert.Equal(t, "a", ce.Collection)
		})
	}
}

func TestCompileCUESyntaxError(t *testing.T) {
	_, err := CompileCUE("broken.cue", []byte(`collection: {`))
	require.Error(t, err)
}

func TestCompileYAML(t *testing.T) {
	src := `
collections:
  - name: human
    primary_key: passportId
    indexes:
      - [age]
`
	schemas, err := CompileYAML([]byte(src))
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, [][]string{{"age"}}, schemas[0].Indexes)

	_, err = CompileYAML([]byte("collections:\n  - name: x\n    primary: id\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = CompileYAML([]byte("collections:\n  - name: x\n"))
	var ce *CompileError
	assert.True(t, errors.As(err, &ce))
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte(humanCUE), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("collections:\n  - name: notes\n    primary_key: id\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	schemas, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, schemas, 3)

	notes, err := Find(schemas, "notes")
	require.NoError(t, err)
	assert.Equal(t, "id", notes.PrimaryKey)

	_, err = Find(schemas, "missing")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestLoadRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("collections:\n  - name: human\n    primary_key: id\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte(humanCUE), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), yaml, 0o644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, `collection "human" declared in`)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)

	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "no schema files")

	file := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	_, err = Load(file)
	assert.ErrorContains(t, err, "unsupported")
}

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommandValid(t *testing.T) {
	dir := t.TempDir()
	schemas := writeFile(t, dir, "human.cue", humanSchema)

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), schemas)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 collection(s) valid")
	assert.Contains(t, out, "human (primary key passportId, 2 index(es))")
}

func TestValidateCommandJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "schemas/human.cue", humanSchema)
	writeFile(t, dir, "schemas/notes.yaml", "collections:\n  - name: notes\n    primary_key: id\n")

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), dir+"/schemas")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["valid"])
	collections := data["collections"].([]any)
	require.Len(t, collections, 2)
	names := []any{
		collections[0].(map[string]any)["name"],
		collections[1].(map[string]any)["name"],
	}
	assert.ElementsMatch(t, []any{"human", "notes"}, names)
}

func TestValidateCommandInvalidSchema(t *testing.T) {
	dir := t.TempDir()
	schemas := writeFile(t, dir, "bad.cue", "collection: broken: {\n\tversion: 0\n}\n")

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), schemas)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "broken.primary_key: primary_key is required")
}

func TestValidateCommandInvalidSchemaJSON(t *testing.T) {
	dir := t.TempDir()
	schemas := writeFile(t, dir, "bad.cue", "collection: broken: {\n\tversion: 0\n}\n")

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), schemas)
	require.Error(t, err)

	resp := decodeResponse(t, out)
	data := resp.Data.(map[string]any)
	assert.Equal(t, false, data["valid"])
	vErr := data["error"].(map[string]any)
	assert.Equal(t, "broken", vErr["collection"])
	assert.Equal(t, "primary_key", vErr["field"])
}

func TestValidateCommandMissingPath(t *testing.T) {
	_, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/schemas")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "schemas not found")
}

package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const syncConfig = `identifier: cli-test
schemas: human.cue
collection: human
fork:
  path: fork.db
master:
  path: master.db
  shards: 2
retry_time: 10ms
max_retry_time: 50ms
`

func TestSyncOnce(t *testing.T) {
	dir := t.TempDir()
	schemas := writeFile(t, dir, "human.cue", humanSchema)
	cfg := writeFile(t, dir, "replication.yaml", syncConfig)
	fork := filepath.Join(dir, "fork.db")

	put(t, fork, schemas, `{"passportId":"alice","firstName":"Alice","age":31}`)
	put(t, fork, schemas, `{"passportId":"bob","firstName":"Bob","age":42}`)

	out, _, err := execute(NewSyncCommand(&RootOptions{Format: "json"}), cfg, "--once", "--timeout", "10s")
	require.NoError(t, err)
	summary := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, "cli-test", summary["identifier"])
	assert.Equal(t, float64(2), summary["pushed"])

	// A second run resumes from the stored checkpoints.
	out, _, err = execute(NewSyncCommand(&RootOptions{Format: "json"}), cfg, "--once", "--timeout", "10s")
	require.NoError(t, err)
	summary = decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, float64(0), summary["pushed"])
	assert.Equal(t, float64(0), summary["pulled"])
}

func TestSyncOnceText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "human.cue", humanSchema)
	cfg := writeFile(t, dir, "replication.yaml", syncConfig)

	out, _, err := execute(NewSyncCommand(&RootOptions{Format: "text"}), cfg, "--once", "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ in sync: pulled 0, pushed 0, 0 conflict(s)")
}

func TestSyncInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "replication.yaml", "identifier: x\n")

	_, _, err := execute(NewSyncCommand(&RootOptions{Format: "text"}), cfg, "--once")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMetaCollectionName(t *testing.T) {
	assert.Equal(t, "replication_meta_cli_test_human", metaCollectionName("cli-test", "human"))
	assert.NotEqual(t, metaCollectionName("a", "human"), metaCollectionName("b", "human"))
}

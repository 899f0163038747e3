package sqlite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/storage"
	"github.com/roach88/docsync/internal/testutil"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		db, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, db.Close())
	}

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"documents", "tombstones", "attachments"} {
		var name string
		err := db.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	db := createTestDB(t)

	assert.NoError(t, db.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, db.verifyPragma("synchronous", "1"))
	assert.NoError(t, db.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, db.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, db.verifyPragma("user_version", "1"))
}

func TestOpen_ChangeFeedIndexes(t *testing.T) {
	db := createTestDB(t)

	for _, idx := range []string{"idx_documents_changes", "idx_tombstones_changes"} {
		var name string
		err := db.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		assert.NoError(t, err, "index %q missing", idx)
	}
}

func TestCollection_ReturnsSameInstance(t *testing.T) {
	db := createTestDB(t)
	params := storage.Params{DatabaseName: "db", Schema: testutil.HumanSchema()}

	a, err := db.Collection(params)
	require.NoError(t, err)
	b, err := db.Collection(params)
	require.NoError(t, err)
	assert.Same(t, a, b)

	require.NoError(t, a.Close())
	c, err := db.Collection(params)
	require.NoError(t, err)
	assert.NotSame(t, a, c, "a closed collection is replaced")
}

func TestCollection_AfterClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Collection(storage.Params{DatabaseName: "db", Schema: testutil.HumanSchema()})
	assert.ErrorIs(t, err, storage.ErrClosed)
}

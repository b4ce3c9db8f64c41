package merkavl

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSQLStore(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "merkavl.db")
	backend, err := NewSQLBackend(path)
	require.NoError(t, err)
	store, err := NewStore(backend, DefaultStoreOptions())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestSQLBackendCommitAndReopen(t *testing.T) {
	store, path := newSQLStore(t)
	version := commitRange(t, store, 0x00, 0x0a)
	hash := store.Hash()
	require.NoError(t, store.Close())

	backend, err := NewSQLBackend(path)
	require.NoError(t, err)
	reopened, err := NewStore(backend, DefaultStoreOptions())
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, hash, reopened.Hash())
	require.Equal(t, version+1, reopened.Version())
	require.Equal(t, int64(10), reopened.Size())

	for i := byte(0); i < 10; i++ {
		value, err := reopened.Get([]byte{i})
		require.NoError(t, err)
		require.Equal(t, []byte{i}, value)
	}
	checkInvariants(t, reopened, reopened.WorkingRoot())

	root := reopened.Hash()
	value, proof, err := reopened.GetVersionedWithProof([]byte{0x07}, version)
	require.NoError(t, err)
	require.Equal(t, []byte{0x07}, value)
	require.NoError(t, proof.VerifyItem(root, []byte{0x07}, []byte{0x07}))
}

func TestSQLBackendVersionDeletion(t *testing.T) {
	store, _ := newSQLStore(t)
	commitRange(t, store, 0x00, 0x0a)
	_, err := store.Set([]byte{0x03}, []byte("changed"))
	require.NoError(t, err)
	_, _, err = store.Commit()
	require.NoError(t, err)

	require.NoError(t, store.DeleteLast())
	versions, err := store.Versions()
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, versions)

	value, err := store.GetVersioned([]byte{0x03}, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{0x03}, value)
}

func TestSQLBackendSchema(t *testing.T) {
	store, path := newSQLStore(t)
	commitRange(t, store, 0x00, 0x04)
	_, removed, err := store.Remove([]byte{0x00})
	require.NoError(t, err)
	require.True(t, removed)
	_, _, err = store.Commit()
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	require.NoError(t, err)
	defer db.Close()

	var leaves, inners, orphans, roots int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM leaf").Scan(&leaves))
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM "inner"`).Scan(&inners))
	require.NoError(t, db.QueryRow("SELECT count(*) FROM orphan").Scan(&orphans))
	require.NoError(t, db.QueryRow("SELECT count(*) FROM root").Scan(&roots))
	require.NotZero(t, leaves)
	require.NotZero(t, inners)
	require.NotZero(t, orphans)
	require.Equal(t, 3, roots) // versions 0, 1, 2

	// Root rows are mirrored on node.root_version.
	var marked int
	require.NoError(t, db.QueryRow(
		"SELECT count(*) FROM node WHERE root_version IS NOT NULL").Scan(&marked))
	require.Equal(t, 3, marked)

	// Every leaf and inner row hangs off a node row.
	var dangling int
	require.NoError(t, db.QueryRow(`
		SELECT count(*) FROM leaf WHERE hash NOT IN (SELECT hash FROM node)`).Scan(&dangling))
	require.Zero(t, dangling)
}

func TestSQLBackendOrphans(t *testing.T) {
	store, _ := newSQLStore(t)
	v1 := commitRange(t, store, 0x00, 0x08)
	_, err := store.Set([]byte{0x02}, []byte("x"))
	require.NoError(t, err)
	_, v2, err := store.Commit()
	require.NoError(t, err)

	pruneable, err := store.Pruneable(v1, v2)
	require.NoError(t, err)
	require.NotEmpty(t, pruneable)
	for _, hash := range pruneable {
		node, err := store.resolve(hash)
		require.NoError(t, err)
		require.Equal(t, v1, node.version)
	}
}

package merkavl

import (
	"testing"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"
)

func newKVStore(t *testing.T) (*Store, dbm.DB) {
	db := dbm.NewMemDB()
	store, err := NewStore(NewKVBackend(db), DefaultStoreOptions())
	require.NoError(t, err)
	return store, db
}

func TestKVBackendCommitAndReload(t *testing.T) {
	store, db := newKVStore(t)
	commitRange(t, store, 0x00, 0x0a)
	hash := store.Hash()

	// A second store over the same database sees the committed state
	// through deserialized nodes.
	reopened, err := NewStore(NewKVBackend(db), DefaultStoreOptions())
	require.NoError(t, err)
	require.Equal(t, hash, reopened.Hash())
	require.Equal(t, int64(10), reopened.Size())

	for i := byte(0); i < 10; i++ {
		value, err := reopened.Get([]byte{i})
		require.NoError(t, err)
		require.Equal(t, []byte{i}, value)
	}
	checkInvariants(t, reopened, reopened.WorkingRoot())
	checkOrdered(t, reopened)
}

func TestKVBackendProofAfterReload(t *testing.T) {
	store, db := newKVStore(t)
	version := commitRange(t, store, 0x00, 0x0a)
	root := store.Hash()

	reopened, err := NewStore(NewKVBackend(db), DefaultStoreOptions())
	require.NoError(t, err)
	value, proof, err := reopened.GetVersionedWithProof([]byte{0x04}, version)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04}, value)
	require.NoError(t, proof.VerifyItem(root, []byte{0x04}, []byte{0x04}))
}

func TestKVBackendDeleteLast(t *testing.T) {
	store, _ := newKVStore(t)
	commitRange(t, store, 0x00, 0x0a)
	commitRange(t, store, 0x0a, 0x14)

	require.NoError(t, store.DeleteLast())
	versions, err := store.Versions()
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, versions)
	require.Equal(t, int64(10), store.Size())

	value, err := store.GetVersioned([]byte{0x09}, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{0x09}, value)
}

func TestNodeCodecRoundTrip(t *testing.T) {
	store := newTestStore(t)
	setRange(t, store, 0x00, 0x05)
	root := store.WorkingRoot()

	bz, err := root.bytes()
	require.NoError(t, err)
	decoded, err := MakeNode(root.hash, bz)
	require.NoError(t, err)

	require.Equal(t, root.key, decoded.key)
	require.Equal(t, root.height, decoded.height)
	require.Equal(t, root.size, decoded.size)
	require.Equal(t, root.version, decoded.version)
	require.Equal(t, root.leftHash, decoded.leftHash)
	require.Equal(t, root.rightHash, decoded.rightHash)
	require.True(t, decoded.persisted)

	leaf, err := root.leftmost(store)
	require.NoError(t, err)
	bz, err = leaf.bytes()
	require.NoError(t, err)
	decodedLeaf, err := MakeNode(leaf.hash, bz)
	require.NoError(t, err)
	require.Equal(t, leaf.key, decodedLeaf.key)
	require.Equal(t, leaf.value, decodedLeaf.value)
	require.True(t, decodedLeaf.isLeaf())
}

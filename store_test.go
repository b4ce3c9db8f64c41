package merkavl

import (
	"testing"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestVersionLifecycle(t *testing.T) {
	store := newTestStore(t)

	// A fresh store owes its empty root to version 0.
	versions, err := store.Versions()
	require.NoError(t, err)
	require.Equal(t, []int64{0}, versions)
	require.Equal(t, int64(1), store.Version())
	root, err := store.RootAt(0)
	require.NoError(t, err)
	require.Nil(t, root)

	commitRange(t, store, 0x00, 0x0a)
	commitRange(t, store, 0x0a, 0x14)

	versions, err = store.Versions()
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 2}, versions)

	root1, err := store.RootAt(1)
	require.NoError(t, err)
	require.Equal(t, int64(10), root1.size)
	root2, err := store.RootAt(2)
	require.NoError(t, err)
	require.Equal(t, int64(20), root2.size)

	_, err = store.RootAt(3)
	require.ErrorIs(t, err, ErrVersionMissing)
	_, err = store.RootAt(-1)
	require.ErrorIs(t, err, ErrVersionMissing)

	require.NoError(t, store.DeleteLast())
	versions, err = store.Versions()
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, versions)
	require.Equal(t, int64(2), store.Version())
	require.Equal(t, int64(10), store.Size())

	// The deleted version's keys are gone from the working tree; the
	// retained version still resolves in full.
	has, err := store.Has([]byte{0x0a})
	require.NoError(t, err)
	require.False(t, has)
	value, err := store.GetVersioned([]byte{0x04}, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04}, value)
}

func TestGetVersioned(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Set([]byte("k"), []byte("v1"))
	require.NoError(t, err)
	_, v1, err := store.Commit()
	require.NoError(t, err)

	_, err = store.Set([]byte("k"), []byte("v2"))
	require.NoError(t, err)
	_, v2, err := store.Commit()
	require.NoError(t, err)

	value, err := store.GetVersioned([]byte("k"), v1)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)
	value, err = store.GetVersioned([]byte("k"), v2)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)

	has, err := store.HasVersioned([]byte("k"), v1)
	require.NoError(t, err)
	require.True(t, has)
	index, value, err := store.GetVersionedWithIndex([]byte("k"), v2)
	require.NoError(t, err)
	require.Equal(t, int64(0), index)
	require.Equal(t, []byte("v2"), value)
	key, _, err := store.GetVersionedByIndex(0, v1)
	require.NoError(t, err)
	require.Equal(t, []byte("k"), key)
	next, _, err := store.NextVersioned([]byte("a"), v1)
	require.NoError(t, err)
	require.Equal(t, []byte("k"), next)

	// Distinct roots even though only the value changed.
	r1, err := store.RootAt(v1)
	require.NoError(t, err)
	r2, err := store.RootAt(v2)
	require.NoError(t, err)
	require.NotEqual(t, r1.hash, r2.hash)
}

func TestOrphanAccounting(t *testing.T) {
	backend := NewMemBackend()
	store, err := NewStore(backend, DefaultStoreOptions())
	require.NoError(t, err)

	commitRange(t, store, 0x00, 0x08)

	// Transient nodes displaced within one working cycle leave no orphan
	// records: overwrite the same key twice before committing.
	_, err = store.Set([]byte{0x01}, []byte("a"))
	require.NoError(t, err)
	_, err = store.Set([]byte{0x01}, []byte("b"))
	require.NoError(t, err)
	_, v2, err := store.Commit()
	require.NoError(t, err)

	orphans := map[string]int64{}
	require.NoError(t, backend.Orphans(func(hash []byte, until int64) bool {
		orphans[string(hash)] = until
		return false
	}))
	require.NotEmpty(t, orphans)
	for hash, until := range orphans {
		require.Equal(t, v2, until)
		node, err := store.resolve([]byte(hash))
		require.NoError(t, err)
		// Orphans were born in an earlier committed version...
		require.Less(t, node.version, v2)
	}

	// ...and none of them is reachable from the current root.
	reachable := map[string]bool{}
	var walk func(node *Node)
	walk = func(node *Node) {
		if node == nil {
			return
		}
		reachable[string(node.hash)] = true
		if node.isLeaf() {
			return
		}
		left, err := node.getLeftNode(store)
		require.NoError(t, err)
		right, err := node.getRightNode(store)
		require.NoError(t, err)
		walk(left)
		walk(right)
	}
	walk(store.WorkingRoot())
	for hash := range orphans {
		require.False(t, reachable[hash], "orphan %X still reachable", hash)
	}

	// The orphan map answers the pruning question: nodes born >= 1 and
	// displaced <= v2 are exactly the recorded orphans here.
	pruneable, err := store.Pruneable(1, v2)
	require.NoError(t, err)
	require.Len(t, pruneable, len(orphans))
	none, err := store.Pruneable(1, v2-1)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDeleteLastRestoresOrphans(t *testing.T) {
	backend := NewMemBackend()
	store, err := NewStore(backend, DefaultStoreOptions())
	require.NoError(t, err)

	v1 := commitRange(t, store, 0x00, 0x08)
	_, err = store.Set([]byte{0x03}, []byte("changed"))
	require.NoError(t, err)
	_, _, err = store.Commit()
	require.NoError(t, err)

	require.NoError(t, store.DeleteLast())

	// Orphan records of the deleted version are lifted.
	count := 0
	require.NoError(t, backend.Orphans(func(hash []byte, until int64) bool {
		count++
		return false
	}))
	require.Zero(t, count)

	// Version 1 is whole again, including the previously displaced nodes.
	value, err := store.GetVersioned([]byte{0x03}, v1)
	require.NoError(t, err)
	require.Equal(t, []byte{0x03}, value)
	checkInvariants(t, store, store.WorkingRoot())

	// The working tree can move forward again from version 2.
	require.Equal(t, int64(2), store.Version())
	_, err = store.Set([]byte{0x03}, []byte("again"))
	require.NoError(t, err)
	_, v2, err := store.Commit()
	require.NoError(t, err)
	require.Equal(t, int64(2), v2)
}

func TestDeleteAll(t *testing.T) {
	store := newTestStore(t)
	commitRange(t, store, 0x00, 0x05) // version 1
	commitRange(t, store, 0x05, 0x0a) // version 2
	commitRange(t, store, 0x0a, 0x0f) // version 3

	require.NoError(t, store.DeleteAll(2))
	versions, err := store.Versions()
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, versions)
	require.Equal(t, int64(2), store.Version())
	require.Equal(t, int64(5), store.Size())

	_, err = store.RootAt(2)
	require.ErrorIs(t, err, ErrVersionMissing)
	_, err = store.RootAt(3)
	require.ErrorIs(t, err, ErrVersionMissing)

	value, err := store.GetVersioned([]byte{0x02}, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, value)
}

func TestCommitAfterNoChanges(t *testing.T) {
	store := newTestStore(t)
	h1, v1, err := store.Commit()
	require.NoError(t, err)
	h2, v2, err := store.Commit()
	require.NoError(t, err)
	require.Equal(t, v1+1, v2)
	require.Equal(t, h1, h2)

	root1, err := store.RootAt(v1)
	require.NoError(t, err)
	root2, err := store.RootAt(v2)
	require.NoError(t, err)
	require.Nil(t, root1)
	require.Nil(t, root2)
}

func TestReopenStore(t *testing.T) {
	backend := NewMemBackend()
	store, err := NewStore(backend, DefaultStoreOptions())
	require.NoError(t, err)
	commitRange(t, store, 0x00, 0x0a)
	hash := store.Hash()

	reopened, err := NewStore(backend, StoreOptions{Logger: log.NewTestLogger(t)})
	require.NoError(t, err)
	require.Equal(t, hash, reopened.Hash())
	require.Equal(t, int64(2), reopened.Version())
	require.Equal(t, int64(10), reopened.Size())
}

func TestStoreMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := DefaultStoreOptions()
	opts.Metrics = NewMetrics(reg, prometheus.Labels{"backend": "mem"})
	store, err := NewStore(NewMemBackend(), opts)
	require.NoError(t, err)

	commitRange(t, store, 0x00, 0x0a)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	for _, mf := range families {
		byName[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue() +
			mf.GetMetric()[0].GetGauge().GetValue()
	}
	require.Equal(t, float64(10), byName["merkavl_leaf_count"])
	require.Equal(t, float64(10), byName["merkavl_tree_size"])
	require.Equal(t, float64(4), byName["merkavl_tree_height"])
}

func TestSetRejectsNil(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Set(nil, []byte("v"))
	require.Error(t, err)
	_, err = store.Set([]byte("k"), nil)
	require.Error(t, err)
}

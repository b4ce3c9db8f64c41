package merkavl

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// commitRange commits keys [from, to) with value == key and returns the
// committed version.
func commitRange(t require.TestingT, s *Store, from, to byte) int64 {
	setRange(t, s, from, to)
	_, version, err := s.Commit()
	require.NoError(t, err)
	return version
}

func TestGetWithProofPresent(t *testing.T) {
	store := newTestStore(t)
	version := commitRange(t, store, 0x00, 0x0a)
	root := store.Hash()

	value, proof, err := store.GetVersionedWithProof([]byte{0x04}, version)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04}, value)

	proofRoot, err := proof.RootHash()
	require.NoError(t, err)
	require.Equal(t, root, proofRoot)

	require.NoError(t, proof.Verify(root))
	require.NoError(t, proof.VerifyItem(root, []byte{0x04}, []byte{0x04}))

	// A wrong value must fail on the digest, a wrong root on the root.
	err = proof.VerifyItem(root, []byte{0x04}, []byte("bogus"))
	require.ErrorIs(t, err, ErrValueDigestMismatch)
	err = proof.VerifyItem(make([]byte, 32), []byte{0x04}, []byte{0x04})
	require.ErrorIs(t, err, ErrRootMismatch)
}

func TestGetWithProofAbsentPastEnd(t *testing.T) {
	store := newTestStore(t)
	version := commitRange(t, store, 0x00, 0x0a)
	root := store.Hash()

	value, proof, err := store.GetVersionedWithProof([]byte{0x0a}, version)
	require.NoError(t, err)
	require.Nil(t, value)
	require.True(t, proof.TreeEnd())

	require.NoError(t, proof.VerifyAbsence(root, []byte{0x0a}))
	err = proof.VerifyItem(root, []byte{0x0a}, []byte{0x0a})
	require.ErrorIs(t, err, ErrKeyNotInProof)
}

func TestGetWithProofAbsentBeforeStart(t *testing.T) {
	store := newTestStore(t)
	version := commitRange(t, store, 0x01, 0x0a)
	root := store.Hash()

	value, proof, err := store.GetVersionedWithProof([]byte{0x00}, version)
	require.NoError(t, err)
	require.Nil(t, value)
	require.True(t, proof.LeftPath.isLeftmost())
	require.NoError(t, proof.VerifyAbsence(root, []byte{0x00}))
}

func TestGetWithProofAbsentInGap(t *testing.T) {
	store := newTestStore(t)
	// Even keys only; odd keys fall into gaps.
	for i := byte(0); i < 10; i += 2 {
		_, err := store.Set([]byte{i}, []byte{i})
		require.NoError(t, err)
	}
	_, version, err := store.Commit()
	require.NoError(t, err)
	root := store.Hash()

	value, proof, err := store.GetVersionedWithProof([]byte{0x03}, version)
	require.NoError(t, err)
	require.Nil(t, value)
	require.NoError(t, proof.VerifyAbsence(root, []byte{0x03}))

	// The present neighbors must disprove their own absence.
	_, proof, err = store.GetVersionedWithProof([]byte{0x04}, version)
	require.NoError(t, err)
	err = proof.VerifyAbsence(root, []byte{0x04})
	require.ErrorIs(t, err, ErrAbsenceDisproved)
}

func TestRangeProof(t *testing.T) {
	store := newTestStore(t)
	version := commitRange(t, store, 0x00, 0x0a)
	root := store.Hash()

	keys, values, proof, err := store.GetVersionedRangeWithProof([]byte{0x04}, []byte{0x09}, 0, version)
	require.NoError(t, err)
	require.Len(t, keys, 5)
	require.Len(t, values, 5)
	for i := range keys {
		require.Equal(t, []byte{byte(0x04 + i)}, keys[i])
		require.Equal(t, keys[i], values[i])
	}
	require.NoError(t, proof.Verify(root))
	require.Equal(t, len(proof.Leaves)-1, len(proof.InnerNodes))
	for i, key := range keys {
		require.NoError(t, proof.VerifyItem(root, key, values[i]))
	}
}

func TestRangeProofFullTree(t *testing.T) {
	store := newTestStore(t)
	version := commitRange(t, store, 0x00, 0x0a)
	root := store.Hash()

	keys, _, proof, err := store.GetVersionedRangeWithProof(nil, nil, 0, version)
	require.NoError(t, err)
	require.Len(t, keys, 10)
	require.NoError(t, proof.Verify(root))
	require.True(t, proof.TreeEnd())
	require.Equal(t, int64(0), proof.LeftIndex())
}

func TestRangeProofLimit(t *testing.T) {
	store := newTestStore(t)
	version := commitRange(t, store, 0x00, 0x0a)
	root := store.Hash()

	keys, _, proof, err := store.GetVersionedRangeWithProof([]byte{0x00}, nil, 3, version)
	require.NoError(t, err)
	require.Len(t, proof.Leaves, 3)
	require.LessOrEqual(t, len(keys), 3)
	require.NoError(t, proof.Verify(root))
	require.False(t, proof.TreeEnd())

	// Truncated proof cannot prove absence past its last leaf.
	err = proof.VerifyAbsence(root, []byte{0x08})
	require.ErrorIs(t, err, ErrAbsenceNotProven)
}

func TestRangeProofInvalidRange(t *testing.T) {
	store := newTestStore(t)
	version := commitRange(t, store, 0x00, 0x0a)

	_, _, _, err := store.GetVersionedRangeWithProof([]byte{0x05}, []byte{0x05}, 0, version)
	require.ErrorIs(t, err, ErrInvalidRange)
	_, _, _, err = store.GetVersionedRangeWithProof([]byte{0x06}, []byte{0x05}, 0, version)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestProofEmptyTree(t *testing.T) {
	store := newTestStore(t)
	_, version, err := store.Commit()
	require.NoError(t, err)

	value, proof, err := store.GetVersionedWithProof([]byte{0x01}, version)
	require.NoError(t, err)
	require.Nil(t, value)
	require.Nil(t, proof)
}

func TestProofSingleLeafTree(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Set([]byte{0x05}, []byte("v"))
	require.NoError(t, err)
	_, version, err := store.Commit()
	require.NoError(t, err)
	root := store.Hash()

	value, proof, err := store.GetVersionedWithProof([]byte{0x05}, version)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
	require.Empty(t, proof.LeftPath)
	require.Equal(t, int64(-1), proof.LeftIndex())
	require.NoError(t, proof.VerifyItem(root, []byte{0x05}, []byte("v")))

	// Any other key is absent in a single-leaf tree.
	_, proof, err = store.GetVersionedWithProof([]byte{0x09}, version)
	require.NoError(t, err)
	require.NoError(t, proof.VerifyAbsence(root, []byte{0x09}))
	_, proof, err = store.GetVersionedWithProof([]byte{0x01}, version)
	require.NoError(t, err)
	require.NoError(t, proof.VerifyAbsence(root, []byte{0x01}))
}

func TestMalformedProofs(t *testing.T) {
	store := newTestStore(t)
	version := commitRange(t, store, 0x00, 0x0a)
	root := store.Hash()

	empty := &RangeProof{}
	require.ErrorIs(t, empty.Verify(root), ErrEmptyProof)

	keys, _, proof, err := store.GetVersionedRangeWithProof([]byte{0x02}, []byte{0x08}, 0, version)
	require.NoError(t, err)
	require.NotEmpty(t, keys)

	// Dropping a leaf breaks the inner-path/leaf count invariant.
	mangled := &RangeProof{
		LeftPath:   proof.LeftPath,
		InnerNodes: proof.InnerNodes,
		Leaves:     proof.Leaves[:len(proof.Leaves)-1],
	}
	require.ErrorIs(t, mangled.Verify(root), ErrMalformedProof)

	// Tampering with a leaf's value digest changes the derived root.
	tampered := &RangeProof{
		LeftPath:   proof.LeftPath,
		InnerNodes: proof.InnerNodes,
		Leaves:     append([]ProofLeafNode{}, proof.Leaves...),
	}
	tampered.Leaves[0].ValueHash = DefaultHasher.Digest([]byte("evil"))
	require.ErrorIs(t, tampered.Verify(root), ErrRootMismatch)
}

// Proof soundness: for every committed key either the item proof verifies
// with its stored value, or the absence proof verifies for missing keys.
func TestProofSoundness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newTestStore(t)
		model := map[string][]byte{}
		n := rapid.IntRange(1, 60).Draw(t, "n")
		for i := 0; i < n; i++ {
			key := rapid.SliceOfN(rapid.Byte(), 1, 2).Draw(t, "key")
			value := rapid.SliceOfN(rapid.Byte(), 1, 4).Draw(t, "value")
			_, err := store.Set(key, value)
			require.NoError(t, err)
			model[string(key)] = value
		}
		_, version, err := store.Commit()
		require.NoError(t, err)
		root := store.Hash()

		for i := 0; i < 20; i++ {
			key := rapid.SliceOfN(rapid.Byte(), 1, 2).Draw(t, "probe")
			value, proof, err := store.GetVersionedWithProof(key, version)
			require.NoError(t, err)
			expected, existed := model[string(key)]
			if existed {
				require.Equal(t, expected, value)
				require.NoError(t, proof.VerifyItem(root, key, value))
			} else {
				require.Nil(t, value)
				require.NoError(t, proof.VerifyAbsence(root, key))
			}
		}
	})
}

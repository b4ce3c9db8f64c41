package merkavl

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// RangeProof certifies the contents of a key interval under a known root
// digest. LeftPath leads to the first proof leaf; InnerNodes[i] is the
// partial path from the point where leaf i+1 diverges from the preceding
// leaf's path down to that leaf, so len(InnerNodes) == len(Leaves)-1.
// The last leaf may sit outside the queried range: it is the boundary that
// proves where the range (or the whole tree) ends.
type RangeProof struct {
	LeftPath   PathToLeaf      `json:"left_path"`
	InnerNodes []PathToLeaf    `json:"inner_nodes"`
	Leaves     []ProofLeafNode `json:"leaves"`

	// hasher used to re-derive digests; nil means DefaultHasher.
	hasher Hasher

	computeOnce sync.Once
	rootHash    []byte
	treeEnd     bool
	computeErr  error
}

func (proof *RangeProof) hasherOrDefault() Hasher {
	if proof.hasher == nil {
		return DefaultHasher
	}
	return proof.hasher
}

// compute derives the root digest and the tree-end flag exactly once;
// results are immutable after publication.
func (proof *RangeProof) compute() ([]byte, bool, error) {
	proof.computeOnce.Do(func() {
		proof.rootHash, proof.treeEnd, proof.computeErr = proof.computeRoot()
	})
	return proof.rootHash, proof.treeEnd, proof.computeErr
}

// RootHash re-derives the root digest the proof commits to.
func (proof *RangeProof) RootHash() ([]byte, error) {
	hash, _, err := proof.compute()
	return hash, err
}

// TreeEnd reports whether the last proof leaf is the rightmost leaf of the
// whole tree. It distinguishes a proof that spans to the end of the tree
// from one truncated by a limit.
func (proof *RangeProof) TreeEnd() bool {
	_, treeEnd, err := proof.compute()
	return err == nil && treeEnd
}

// LeftIndex returns the in-order index of the first proof leaf, or -1 when
// the proof has no left path.
func (proof *RangeProof) LeftIndex() int64 {
	if len(proof.LeftPath) == 0 {
		return -1
	}
	return proof.LeftPath.index()
}

// computeRoot folds the leaves and inner paths back into a root digest.
// Whenever an unwound path step recorded a right-subtree sibling, that
// subtree's digest is re-derived from the following inner path and leaves
// and must equal the recorded one; inequality means the proof does not hang
// together.
func (proof *RangeProof) computeRoot() (rootHash []byte, treeEnd bool, err error) {
	if len(proof.Leaves) == 0 {
		return nil, false, ErrEmptyProof
	}
	if len(proof.InnerNodes)+1 != len(proof.Leaves) {
		return nil, false, fmt.Errorf("%w: %d inner paths for %d leaves",
			ErrMalformedProof, len(proof.InnerNodes), len(proof.Leaves))
	}

	h := proof.hasherOrDefault()
	leaves := proof.Leaves
	innersq := proof.InnerNodes

	// computeHash consumes the next leaf, folds it up the given path, and
	// recursively derives every right-subtree sibling encountered while
	// unwinding. rightmost tracks whether the current frame still hugs the
	// right edge of the tree; end is the final tree-end verdict, valid once
	// done reports that all leaves are consumed.
	var computeHash func(path PathToLeaf, rightmost bool) (hash []byte, end bool, done bool, err error)
	computeHash = func(path PathToLeaf, rightmost bool) ([]byte, bool, bool, error) {
		nleaf := leaves[0]
		leaves = leaves[1:]
		hash := path.computeRootHash(nleaf.hash(h), h)

		if len(leaves) == 0 {
			return hash, rightmost && path.isRightmost(), true, nil
		}

		for len(path) > 0 {
			pin := path[len(path)-1]
			path = path[:len(path)-1]
			if pin.Side != SideRight {
				continue
			}
			// The recorded sibling is a right subtree whose leaves follow
			// in the proof.
			if len(innersq) == 0 {
				return nil, false, false, fmt.Errorf("%w: no inner path left for right subtree", ErrMalformedProof)
			}
			inners := innersq[0]
			innersq = innersq[1:]

			derived, end, done, err := computeHash(inners, rightmost && path.isRightmost())
			if err != nil {
				return nil, false, false, err
			}
			if !bytes.Equal(derived, pin.SideHash) {
				return nil, false, false, fmt.Errorf("%w: derived right subtree hash %X, recorded %X",
					ErrRootMismatch, derived, pin.SideHash)
			}
			if done {
				return hash, end, true, nil
			}
		}
		return hash, false, false, nil
	}

	rootHash, treeEnd, done, err := computeHash(proof.LeftPath, true)
	if err != nil {
		return nil, false, err
	}
	if !done {
		return nil, false, fmt.Errorf("%w: left over leaves", ErrMalformedProof)
	}
	return rootHash, treeEnd, nil
}

// Verify checks that the proof commits to the given root digest.
func (proof *RangeProof) Verify(root []byte) error {
	rootHash, _, err := proof.compute()
	if err != nil {
		return err
	}
	if !bytes.Equal(rootHash, root) {
		return fmt.Errorf("%w: derived %X, expected %X", ErrRootMismatch, rootHash, root)
	}
	return nil
}

// VerifyItem checks that key maps to value under the given root.
func (proof *RangeProof) VerifyItem(root, key, value []byte) error {
	if err := proof.Verify(root); err != nil {
		return err
	}
	i := sort.Search(len(proof.Leaves), func(i int) bool {
		return bytes.Compare(key, proof.Leaves[i].Key) <= 0
	})
	if i >= len(proof.Leaves) || !bytes.Equal(proof.Leaves[i].Key, key) {
		return fmt.Errorf("%w: %X", ErrKeyNotInProof, key)
	}
	valueHash := proof.hasherOrDefault().Digest(value)
	if !bytes.Equal(proof.Leaves[i].ValueHash, valueHash) {
		return fmt.Errorf("%w: key %X", ErrValueDigestMismatch, key)
	}
	return nil
}

// VerifyAbsence checks that key has no value under the given root. Absence
// is proven when the key falls before a leftmost boundary leaf, inside a
// gap between adjacent proof leaves, or after the tree's last leaf.
func (proof *RangeProof) VerifyAbsence(root, key []byte) error {
	if err := proof.Verify(root); err != nil {
		return err
	}

	cmp := bytes.Compare(key, proof.Leaves[0].Key)
	if cmp < 0 {
		if proof.LeftPath.isLeftmost() {
			return nil
		}
		return fmt.Errorf("%w: key precedes the first leaf but the path is not leftmost", ErrAbsenceNotProven)
	}
	if cmp == 0 {
		return fmt.Errorf("%w at index 0", ErrAbsenceDisproved)
	}

	if len(proof.LeftPath) == 0 {
		// Single-leaf tree; anything else is absent.
		return nil
	}
	if proof.LeftPath.isRightmost() {
		return nil
	}

	for i := 1; i < len(proof.Leaves); i++ {
		switch bytes.Compare(key, proof.Leaves[i].Key) {
		case -1:
			// leaves[i-1].key < key < leaves[i].key: the gap shows the key
			// cannot exist.
			return nil
		case 0:
			return fmt.Errorf("%w at index %d", ErrAbsenceDisproved, i)
		}
	}

	if proof.TreeEnd() {
		return nil
	}
	return fmt.Errorf("%w: proof is truncated before the key's position", ErrAbsenceNotProven)
}

// afterKey reports whether no key can sort strictly between key and end. The
// smallest key greater than key is key followed by a zero byte.
func afterKey(key, end []byte) bool {
	next := append(append([]byte{}, key...), 0x00)
	return bytes.Compare(next, end) >= 0
}

// getRangeProof builds a proof for [keyStart, keyEnd) under root, covering
// at most limit leaves when limit > 0. Both bounds may be nil. The returned
// keys/values are the in-range pairs; the proof may additionally carry one
// boundary leaf on either side. A nil root yields a nil proof.
func (s *Store) getRangeProof(root *Node, keyStart, keyEnd []byte, limit int) (*RangeProof, [][]byte, [][]byte, error) {
	if keyStart != nil && keyEnd != nil && bytes.Compare(keyStart, keyEnd) >= 0 {
		return nil, nil, nil, fmt.Errorf("%w: start %X, end %X", ErrInvalidRange, keyStart, keyEnd)
	}
	if limit < 0 {
		return nil, nil, nil, fmt.Errorf("%w: negative limit %d", ErrInvalidRange, limit)
	}
	if root == nil {
		return nil, nil, nil, nil
	}

	h := s.hasher

	// The left path provides the first leaf: the queried start, or the leaf
	// the descent lands on when the start is absent.
	var path PathToLeaf
	left, _, err := root.pathToLeaf(s, keyStart, &path)
	if err != nil {
		return nil, nil, nil, err
	}

	startOK := keyStart == nil || bytes.Compare(keyStart, left.key) <= 0
	endOK := keyEnd == nil || bytes.Compare(left.key, keyEnd) < 0
	var keys, values [][]byte
	if startOK && endOK {
		keys = append(keys, left.key)
		values = append(values, left.value)
	}
	leaves := []ProofLeafNode{{Key: left.key, ValueHash: h.Digest(left.value), Version: left.version}}

	afterLeft := append(append([]byte{}, left.key...), 0x00)
	if limit == 1 || (keyEnd != nil && afterKey(left.key, keyEnd)) {
		return &RangeProof{LeftPath: path, Leaves: leaves, hasher: h}, keys, values, nil
	}

	// Walk the remaining leaves in order. Inner nodes still shared with the
	// left path are skipped; after the paths diverge, each inner node on
	// the way down to the next leaf is recorded with its right sibling.
	var (
		innersq   []PathToLeaf
		inners    PathToLeaf
		leafCount = 1
		pathCount = 0
	)
	_, err = root.traverseInRange(s, afterLeft, nil, true, false, func(node *Node) (bool, error) {
		if pathCount != -1 {
			if len(path) <= pathCount {
				pathCount = -1
			} else {
				pn := path[pathCount]
				if pn.Height != node.height ||
					(pn.Side == SideLeft && !bytes.Equal(pn.SideHash, node.leftHash)) ||
					(pn.Side == SideRight && !bytes.Equal(pn.SideHash, node.rightHash)) {
					pathCount = -1
				} else {
					pathCount++
				}
			}
		}

		if node.isLeaf() {
			innersq = append(innersq, inners)
			inners = nil
			leaves = append(leaves, ProofLeafNode{
				Key:       node.key,
				ValueHash: h.Digest(node.value),
				Version:   node.version,
			})
			leafCount++
			if limit > 0 && limit <= leafCount {
				return true, nil
			}
			if keyEnd != nil && bytes.Compare(node.key, keyEnd) >= 0 {
				// Boundary leaf at or past the end; it stays in the proof
				// but not in the result set.
				return true, nil
			}
			keys = append(keys, node.key)
			values = append(values, node.value)
			if keyEnd != nil && afterKey(node.key, keyEnd) {
				return true, nil
			}
			return false, nil
		}

		if pathCount < 0 {
			inners = append(inners, ProofInnerNode{
				Height:   node.height,
				Size:     node.size,
				Version:  node.version,
				Side:     SideRight,
				SideHash: node.rightHash,
			})
		}
		return false, nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return &RangeProof{LeftPath: path, InnerNodes: innersq, Leaves: leaves, hasher: h}, keys, values, nil
}

package merkavl

import (
	"bytes"
	"fmt"
)

// Side says which child the recorded sibling digest is.
type Side int8

const (
	// SideLeft: the sibling digest is the left child; the path descends
	// into the right child.
	SideLeft Side = iota
	// SideRight: the sibling digest is the right child; the path descends
	// into the left child.
	SideRight
)

// ProofInnerNode is one step of a path from the root toward a leaf. The
// digest of the child the path descends into is derived from below; the
// other child's digest is recorded.
type ProofInnerNode struct {
	Height   int8   `json:"height"`
	Size     int64  `json:"size"`
	Version  int64  `json:"version"`
	Side     Side   `json:"side"`
	SideHash []byte `json:"sideHash"`
}

// hash folds a derived child digest into this inner node's digest.
func (pin ProofInnerNode) hash(childHash []byte, h Hasher) []byte {
	if pin.Side == SideLeft {
		return h.InnerDigest(pin.Height, pin.Size, pin.Version, pin.SideHash, childHash)
	}
	return h.InnerDigest(pin.Height, pin.Size, pin.Version, childHash, pin.SideHash)
}

func (pin ProofInnerNode) String() string {
	side := "L"
	if pin.Side == SideRight {
		side = "R"
	}
	return fmt.Sprintf("ProofInnerNode{h=%d size=%d v=%d side=%s sideHash=%X}",
		pin.Height, pin.Size, pin.Version, side, pin.SideHash)
}

// ProofLeafNode carries a leaf's key and the digest of its value. The value
// itself travels outside the proof.
type ProofLeafNode struct {
	Key       []byte `json:"key"`
	ValueHash []byte `json:"value"`
	Version   int64  `json:"version"`
}

func (pln ProofLeafNode) hash(h Hasher) []byte {
	return h.LeafDigest(pln.Key, pln.ValueHash, pln.Version)
}

func (pln ProofLeafNode) String() string {
	return fmt.Sprintf("ProofLeafNode{key=%X valueHash=%X v=%d}", pln.Key, pln.ValueHash, pln.Version)
}

// PathToLeaf is ordered root-adjacent first, leaf-adjacent last.
type PathToLeaf []ProofInnerNode

// computeRootHash folds leafHash up the path.
func (pl PathToLeaf) computeRootHash(leafHash []byte, h Hasher) []byte {
	hash := leafHash
	for i := len(pl) - 1; i >= 0; i-- {
		hash = pl[i].hash(hash, h)
	}
	return hash
}

// isLeftmost reports whether the path only ever descends into left
// children, i.e. leads to the first leaf of the tree.
func (pl PathToLeaf) isLeftmost() bool {
	for _, pin := range pl {
		if pin.Side != SideRight {
			return false
		}
	}
	return true
}

// isRightmost reports whether the path only ever descends into right
// children, i.e. leads to the last leaf of the tree.
func (pl PathToLeaf) isRightmost() bool {
	for _, pin := range pl {
		if pin.Side != SideLeft {
			return false
		}
	}
	return true
}

// index returns the in-order index of the leaf the path leads to. Each
// right descent skips the left sibling subtree, whose size is the node size
// minus the size of the child the path continues into.
func (pl PathToLeaf) index() (idx int64) {
	for i, pin := range pl {
		if pin.Side == SideRight {
			continue
		}
		if i < len(pl)-1 {
			idx += pin.Size - pl[i+1].Size
		} else {
			idx += pin.Size - 1
		}
	}
	return idx
}

// pathToLeaf records the path from node down to the leaf where key lives or
// would live. exact reports whether the leaf's key equals the queried key;
// when false the returned leaf is the one the descent lands on, which
// boundary-absence proofs rely on.
func (node *Node) pathToLeaf(r resolver, key []byte, path *PathToLeaf) (leaf *Node, exact bool, err error) {
	if node.isLeaf() {
		return node, bytes.Equal(node.key, key), nil
	}

	left, err := node.getLeftNode(r)
	if err != nil {
		return nil, false, err
	}
	right, err := node.getRightNode(r)
	if err != nil {
		return nil, false, err
	}

	if bytes.Compare(key, node.key) < 0 {
		*path = append(*path, ProofInnerNode{
			Height:   node.height,
			Size:     node.size,
			Version:  node.version,
			Side:     SideRight,
			SideHash: right.hash,
		})
		return left.pathToLeaf(r, key, path)
	}
	*path = append(*path, ProofInnerNode{
		Height:   node.height,
		Size:     node.size,
		Version:  node.version,
		Side:     SideLeft,
		SideHash: left.hash,
	})
	return right.pathToLeaf(r, key, path)
}

package merkavl

import (
	"bytes"
	"fmt"
	"sync/atomic"
)

// Node is an immutable record in the tree. A node with height 0 is a leaf
// and carries a value; an inner node carries the minimum key of its right
// subtree and the digests of both children. The digest is computed once at
// construction and never recomputed.
//
// leftNode/rightNode are caches over leftHash/rightHash filled on first
// resolution. They publish immutable values through atomics so committed
// versions can be read concurrently while a single writer mutates the
// working tree.
type Node struct {
	key       []byte
	value     []byte
	hash      []byte
	leftHash  []byte
	rightHash []byte
	leftNode  atomic.Pointer[Node]
	rightNode atomic.Pointer[Node]
	version   int64
	size      int64
	height    int8
	persisted bool
}

// resolver materializes nodes by digest. *Store is the implementation; it is
// threaded through traversals so lazily loaded children can be fetched from
// the backing store.
type resolver interface {
	resolve(hash []byte) (*Node, error)
}

func (node *Node) isLeaf() bool {
	return node.height == 0
}

// Key returns the node's key: the user key for a leaf, the right-subtree
// minimum for an inner node.
func (node *Node) Key() []byte { return node.key }

// Value returns the leaf value, or nil for an inner node.
func (node *Node) Value() []byte { return node.value }

// Hash returns the node's digest.
func (node *Node) Hash() []byte { return node.hash }

// Version returns the version at which the node was created.
func (node *Node) Version() int64 { return node.version }

// Height returns the subtree height; 0 for leaves.
func (node *Node) Height() int8 { return node.height }

// Size returns the number of leaves in the subtree.
func (node *Node) Size() int64 { return node.size }

func (node *Node) getLeftNode(r resolver) (*Node, error) {
	if left := node.leftNode.Load(); left != nil {
		return left, nil
	}
	left, err := r.resolve(node.leftHash)
	if err != nil {
		return nil, fmt.Errorf("resolving left child of %X: %w", node.hash, err)
	}
	if left == nil {
		return nil, fmt.Errorf("left child %X of %X: %w", node.leftHash, node.hash, ErrNodeMissing)
	}
	node.leftNode.Store(left)
	return left, nil
}

func (node *Node) getRightNode(r resolver) (*Node, error) {
	if right := node.rightNode.Load(); right != nil {
		return right, nil
	}
	right, err := r.resolve(node.rightHash)
	if err != nil {
		return nil, fmt.Errorf("resolving right child of %X: %w", node.hash, err)
	}
	if right == nil {
		return nil, fmt.Errorf("right child %X of %X: %w", node.rightHash, node.hash, ErrNodeMissing)
	}
	node.rightNode.Store(right)
	return right, nil
}

// get returns the value stored under key and the in-order index the key
// occupies. When the key is absent the value is nil and the index is the
// position the key would occupy; consumers use it for absence proofs.
func (node *Node) get(r resolver, key []byte) (index int64, value []byte, err error) {
	if node.isLeaf() {
		switch bytes.Compare(node.key, key) {
		case -1:
			return 1, nil, nil
		case 1:
			return 0, nil, nil
		default:
			return 0, node.value, nil
		}
	}

	if bytes.Compare(key, node.key) < 0 {
		left, err := node.getLeftNode(r)
		if err != nil {
			return 0, nil, err
		}
		return left.get(r, key)
	}

	right, err := node.getRightNode(r)
	if err != nil {
		return 0, nil, err
	}
	index, value, err = right.get(r, key)
	if err != nil {
		return 0, nil, err
	}
	index += node.size - right.size
	return index, value, nil
}

// getByIndex returns the key/value of the leaf at the given in-order
// position, or nils when the index is out of range.
func (node *Node) getByIndex(r resolver, index int64) (key []byte, value []byte, err error) {
	if node.isLeaf() {
		if index == 0 {
			return node.key, node.value, nil
		}
		return nil, nil, nil
	}

	left, err := node.getLeftNode(r)
	if err != nil {
		return nil, nil, err
	}
	if index < left.size {
		return left.getByIndex(r, index)
	}
	right, err := node.getRightNode(r)
	if err != nil {
		return nil, nil, err
	}
	return right.getByIndex(r, index-left.size)
}

// next returns the leaf with the smallest key strictly greater than key, or
// nil if no such leaf exists.
func (node *Node) next(r resolver, key []byte) (*Node, error) {
	if node.isLeaf() {
		if bytes.Compare(node.key, key) > 0 {
			return node, nil
		}
		return nil, nil
	}

	if bytes.Compare(key, node.key) < 0 {
		left, err := node.getLeftNode(r)
		if err != nil {
			return nil, err
		}
		n, err := left.next(r, key)
		if err != nil || n != nil {
			return n, err
		}
		// Not in the left subtree, so it is the right subtree's minimum.
		right, err := node.getRightNode(r)
		if err != nil {
			return nil, err
		}
		return right.leftmost(r)
	}

	right, err := node.getRightNode(r)
	if err != nil {
		return nil, err
	}
	return right.next(r, key)
}

func (node *Node) leftmost(r resolver) (*Node, error) {
	for !node.isLeaf() {
		left, err := node.getLeftNode(r)
		if err != nil {
			return nil, err
		}
		node = left
	}
	return node, nil
}

// traverseInRange walks every node whose subtree may intersect [start, end),
// end-inclusive when inclusive is set and either bound absent when nil.
// Inner nodes are visited before their children; leaves arrive in key order
// (reverse order when descending). fn returning true stops the walk.
func (node *Node) traverseInRange(r resolver, start, end []byte, ascending, inclusive bool, fn func(*Node) (bool, error)) (bool, error) {
	afterStart := start == nil || bytes.Compare(start, node.key) < 0
	startOrAfter := start == nil || bytes.Compare(start, node.key) <= 0
	beforeEnd := end == nil || bytes.Compare(node.key, end) < 0
	if inclusive {
		beforeEnd = beforeEnd || bytes.Equal(node.key, end)
	}

	if node.isLeaf() {
		if startOrAfter && beforeEnd {
			return fn(node)
		}
		return false, nil
	}

	stop, err := fn(node)
	if stop || err != nil {
		return stop, err
	}

	if ascending {
		if afterStart {
			left, err := node.getLeftNode(r)
			if err != nil {
				return false, err
			}
			stop, err = left.traverseInRange(r, start, end, ascending, inclusive, fn)
			if stop || err != nil {
				return stop, err
			}
		}
		if beforeEnd {
			right, err := node.getRightNode(r)
			if err != nil {
				return false, err
			}
			return right.traverseInRange(r, start, end, ascending, inclusive, fn)
		}
	} else {
		if beforeEnd {
			right, err := node.getRightNode(r)
			if err != nil {
				return false, err
			}
			stop, err = right.traverseInRange(r, start, end, ascending, inclusive, fn)
			if stop || err != nil {
				return stop, err
			}
		}
		if afterStart {
			left, err := node.getLeftNode(r)
			if err != nil {
				return false, err
			}
			return left.traverseInRange(r, start, end, ascending, inclusive, fn)
		}
	}
	return false, nil
}

func maxInt8(a, b int8) int8 {
	if a > b {
		return a
	}
	return b
}

// cpIncr returns the smallest byte key greater than bz under the fixed-width
// interpretation: increment with carry, nil when bz is all 0xFF (no upper
// bound remains).
func cpIncr(bz []byte) []byte {
	if len(bz) == 0 {
		return []byte{0x00}
	}
	ret := append([]byte(nil), bz...)
	for i := len(ret) - 1; i >= 0; i-- {
		if ret[i] < 0xFF {
			ret[i]++
			return ret
		}
		ret[i] = 0x00
	}
	return nil
}

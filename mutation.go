package merkavl

import (
	"bytes"
)

// The mutation algorithms are persistent: they never modify an existing
// node. Fresh nodes are allocated along the mutation path through the
// store's factories (which stamp the working version and compute digests),
// and every displaced node is handed to the store's orphan accumulator.

// recursiveSet inserts or updates key in the subtree rooted at node and
// returns the new subtree root. updated reports whether an existing leaf was
// replaced, in which case heights and sizes are unchanged.
func (s *Store) recursiveSet(node *Node, key, value []byte) (newNode *Node, updated bool, err error) {
	if node == nil {
		return s.newLeafNode(key, value), false, nil
	}

	if node.isLeaf() {
		switch bytes.Compare(key, node.key) {
		case 0:
			s.orphan(node)
			return s.newLeafNode(key, value), true, nil
		case -1:
			newLeaf := s.newLeafNode(key, value)
			return s.newInnerNode(node.key, newLeaf, node), false, nil
		default:
			newLeaf := s.newLeafNode(key, value)
			return s.newInnerNode(key, node, newLeaf), false, nil
		}
	}

	s.orphan(node)
	left, err := node.getLeftNode(s)
	if err != nil {
		return nil, false, err
	}
	right, err := node.getRightNode(s)
	if err != nil {
		return nil, false, err
	}

	if bytes.Compare(key, node.key) < 0 {
		newLeft, updated, err := s.recursiveSet(left, key, value)
		if err != nil {
			return nil, false, err
		}
		newNode, err = s.balanceNode(node.key, newLeft, right)
		return newNode, updated, err
	}

	newRight, updated, err := s.recursiveSet(right, key, value)
	if err != nil {
		return nil, false, err
	}
	newNode, err = s.balanceNode(node.key, left, newRight)
	return newNode, updated, err
}

// recursiveRemove deletes key from the subtree rooted at node.
// It returns:
//   - (node, nil, nil, false): key not found, subtree unchanged
//   - (nil, nil, value, true): the subtree was a single leaf and is gone
//   - (newNode, newKey?, value, true): subtree changed; newKey is non-nil
//     when the removed leaf was the minimum of some right subtree, and flows
//     up to the inner ancestor whose key must track that minimum.
func (s *Store) recursiveRemove(node *Node, key []byte) (newNode *Node, newKey []byte, value []byte, removed bool, err error) {
	if node == nil {
		return nil, nil, nil, false, nil
	}

	if node.isLeaf() {
		if bytes.Equal(node.key, key) {
			s.orphan(node)
			return nil, nil, node.value, true, nil
		}
		return node, nil, nil, false, nil
	}

	if bytes.Compare(key, node.key) < 0 {
		left, err := node.getLeftNode(s)
		if err != nil {
			return nil, nil, nil, false, err
		}
		newLeft, newKey, value, removed, err := s.recursiveRemove(left, key)
		if err != nil {
			return nil, nil, nil, false, err
		}
		if !removed {
			return node, nil, nil, false, nil
		}

		s.orphan(node)
		right, err := node.getRightNode(s)
		if err != nil {
			return nil, nil, nil, false, err
		}
		if newLeft == nil {
			// The left subtree collapsed; the right sibling replaces this
			// node and its minimum becomes the subtree's new boundary key.
			return right, node.key, value, true, nil
		}
		newNode, err := s.balanceNode(node.key, newLeft, right)
		if err != nil {
			return nil, nil, nil, false, err
		}
		return newNode, newKey, value, true, nil
	}

	right, err := node.getRightNode(s)
	if err != nil {
		return nil, nil, nil, false, err
	}
	newRight, newKey, value, removed, err := s.recursiveRemove(right, key)
	if err != nil {
		return nil, nil, nil, false, err
	}
	if !removed {
		return node, nil, nil, false, nil
	}

	s.orphan(node)
	left, err := node.getLeftNode(s)
	if err != nil {
		return nil, nil, nil, false, err
	}
	if newRight == nil {
		return left, nil, value, true, nil
	}

	// A replacement key arriving from the right subtree lands here: this
	// node's key tracked the right subtree's minimum.
	boundary := node.key
	if newKey != nil {
		boundary = newKey
	}
	newNode, err = s.balanceNode(boundary, left, newRight)
	if err != nil {
		return nil, nil, nil, false, err
	}
	return newNode, nil, value, true, nil
}

// balanceNode builds the inner node (key, left, right), applying one of the
// four AVL rotation cases when the children's heights differ by more than
// one. Rotations allocate the minimal set of inner nodes: two for a single
// rotation, three for a double rotation; rotated-out inners are orphaned.
func (s *Store) balanceNode(key []byte, left, right *Node) (*Node, error) {
	switch balance := left.height - right.height; {
	case balance > 1:
		ll, err := left.getLeftNode(s)
		if err != nil {
			return nil, err
		}
		lr, err := left.getRightNode(s)
		if err != nil {
			return nil, err
		}
		s.orphan(left)
		if ll.height >= lr.height {
			// Left-left: rotate right.
			return s.newInnerNode(left.key, ll, s.newInnerNode(key, lr, right)), nil
		}
		// Left-right: rotate the left child left, then rotate right.
		lrl, err := lr.getLeftNode(s)
		if err != nil {
			return nil, err
		}
		lrr, err := lr.getRightNode(s)
		if err != nil {
			return nil, err
		}
		s.orphan(lr)
		return s.newInnerNode(lr.key,
			s.newInnerNode(left.key, ll, lrl),
			s.newInnerNode(key, lrr, right)), nil

	case balance < -1:
		rl, err := right.getLeftNode(s)
		if err != nil {
			return nil, err
		}
		rr, err := right.getRightNode(s)
		if err != nil {
			return nil, err
		}
		s.orphan(right)
		if rr.height >= rl.height {
			// Right-right: rotate left.
			return s.newInnerNode(right.key, s.newInnerNode(key, left, rl), rr), nil
		}
		// Right-left: rotate the right child right, then rotate left.
		rll, err := rl.getLeftNode(s)
		if err != nil {
			return nil, err
		}
		rlr, err := rl.getRightNode(s)
		if err != nil {
			return nil, err
		}
		s.orphan(rl)
		return s.newInnerNode(rl.key,
			s.newInnerNode(key, left, rll),
			s.newInnerNode(right.key, rlr, rr)), nil

	default:
		return s.newInnerNode(key, left, right), nil
	}
}

package merkavl

// IterateFunc visits a leaf's key and value. Returning true stops the
// iteration early.
type IterateFunc func(key, value []byte) bool

// iterate performs an in-order (or reverse in-order) traversal over every
// leaf under root. It reports whether the walk was stopped by fn.
func iterate(r resolver, root *Node, ascending bool, fn IterateFunc) (bool, error) {
	if root == nil {
		return false, nil
	}
	return root.traverseInRange(r, nil, nil, ascending, false, func(node *Node) (bool, error) {
		if node.isLeaf() {
			return fn(node.key, node.value), nil
		}
		return false, nil
	})
}

// iterateRange restricts the traversal to start <= key < end, end-inclusive
// when inclusive is set. Either bound may be nil.
func iterateRange(r resolver, root *Node, start, end []byte, ascending, inclusive bool, fn IterateFunc) (bool, error) {
	if root == nil {
		return false, nil
	}
	return root.traverseInRange(r, start, end, ascending, inclusive, func(node *Node) (bool, error) {
		if node.isLeaf() {
			return fn(node.key, node.value), nil
		}
		return false, nil
	})
}

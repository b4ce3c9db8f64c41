package merkavl

// Tree is the user-facing handle: it binds a store to the operation verbs
// and carries no state of its own.
type Tree struct {
	store *Store
}

func NewTree(store *Store) *Tree {
	return &Tree{store: store}
}

// Store exposes the underlying node store.
func (t *Tree) Store() *Store { return t.store }

// Set writes key=value into the working tree and reports whether an
// existing value was replaced.
func (t *Tree) Set(key, value []byte) (bool, error) {
	return t.store.Set(key, value)
}

// Remove deletes key, returning the removed value and whether the key was
// present.
func (t *Tree) Remove(key []byte) ([]byte, bool, error) {
	return t.store.Remove(key)
}

// Get returns the value under key in the working tree, or nil.
func (t *Tree) Get(key []byte) ([]byte, error) {
	return t.store.Get(key)
}

// GetWithIndex returns the value under key and its in-order index.
func (t *Tree) GetWithIndex(key []byte) (int64, []byte, error) {
	return t.store.GetWithIndex(key)
}

// GetByIndex returns the key/value at the given in-order position.
func (t *Tree) GetByIndex(index int64) ([]byte, []byte, error) {
	return t.store.GetByIndex(index)
}

// Has reports whether key is present in the working tree.
func (t *Tree) Has(key []byte) (bool, error) {
	return t.store.Has(key)
}

// Next returns the smallest key strictly greater than key, with its value.
func (t *Tree) Next(key []byte) ([]byte, []byte, error) {
	return t.store.Next(key)
}

// Iterate walks the working tree in key order.
func (t *Tree) Iterate(ascending bool, fn IterateFunc) (bool, error) {
	return t.store.Iterate(ascending, fn)
}

// IterateRange walks start <= key < end, end-inclusive when inclusive is
// set. Either bound may be nil.
func (t *Tree) IterateRange(start, end []byte, ascending, inclusive bool, fn IterateFunc) (bool, error) {
	return t.store.IterateRange(start, end, ascending, inclusive, fn)
}

// Hash returns the digest of the newest committed root.
func (t *Tree) Hash() []byte { return t.store.Hash() }

// WorkingHash returns the digest of the uncommitted working root.
func (t *Tree) WorkingHash() []byte { return t.store.WorkingHash() }

// Version returns the current working version.
func (t *Tree) Version() int64 { return t.store.Version() }

// Versions returns the committed versions in ascending order.
func (t *Tree) Versions() ([]int64, error) { return t.store.Versions() }

// Size returns the number of keys in the working tree.
func (t *Tree) Size() int64 { return t.store.Size() }

// Height returns the height of the working tree.
func (t *Tree) Height() int8 { return t.store.Height() }

// SaveVersion commits the working tree, returning the new root digest and
// the version it was bound to.
func (t *Tree) SaveVersion() ([]byte, int64, error) {
	return t.store.Commit()
}

// Rollback discards every mutation since the last commit.
func (t *Tree) Rollback() {
	t.store.Rollback()
}

// GetVersioned returns the value under key at a committed version.
func (t *Tree) GetVersioned(key []byte, version int64) ([]byte, error) {
	return t.store.GetVersioned(key, version)
}

// GetVersionedWithProof returns the value under key at a committed version
// with a proof of presence, or of absence when the value is nil.
func (t *Tree) GetVersionedWithProof(key []byte, version int64) ([]byte, *RangeProof, error) {
	return t.store.GetVersionedWithProof(key, version)
}

// GetVersionedRangeWithProof returns the pairs of [start, end) at a
// committed version, capped at limit when limit > 0, with a proof.
func (t *Tree) GetVersionedRangeWithProof(start, end []byte, limit int, version int64) ([][]byte, [][]byte, *RangeProof, error) {
	return t.store.GetVersionedRangeWithProof(start, end, limit, version)
}

// DeleteVersion removes the newest committed version.
func (t *Tree) DeleteVersion() error {
	return t.store.DeleteLast()
}

// DeleteVersionsFrom removes every committed version >= from.
func (t *Tree) DeleteVersionsFrom(from int64) error {
	return t.store.DeleteAll(from)
}

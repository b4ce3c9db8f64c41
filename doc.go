// Package merkavl implements a versioned, persistent, Merkleized AVL+ tree.
//
// Values live only at leaf nodes; inner nodes duplicate the minimum key of
// their right subtree. Every node carries a digest of its subtree computed
// once at construction, so a committed version is identified by a single
// root hash. Mutations never modify existing nodes; they allocate fresh
// nodes along the mutation path and record displaced nodes as orphans,
// which keeps every committed version readable and provable while a backing
// store prunes old versions safely.
package merkavl

package merkavl

import (
	"fmt"
	"sort"
	"sync"
)

// MemBackend keeps everything in maps. Nodes are stored as live pointers;
// they are shared-immutable after construction, so no serialization round
// trip is needed.
type MemBackend struct {
	mtx     sync.RWMutex
	nodes   map[string]*Node
	roots   map[int64][]byte
	orphans map[string]int64
}

var _ Backend = (*MemBackend)(nil)

func NewMemBackend() *MemBackend {
	return &MemBackend{
		nodes:   make(map[string]*Node),
		roots:   make(map[int64][]byte),
		orphans: make(map[string]int64),
	}
}

func (b *MemBackend) SaveNode(node *Node) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	node.persisted = true
	b.nodes[string(node.hash)] = node
	return nil
}

func (b *MemBackend) GetNode(hash []byte) (*Node, error) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	node, ok := b.nodes[string(hash)]
	if !ok {
		return nil, fmt.Errorf("%w: %X", ErrNodeMissing, hash)
	}
	return node, nil
}

func (b *MemBackend) DeleteNodesAt(version int64) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for hash, node := range b.nodes {
		if node.version == version {
			delete(b.nodes, hash)
		}
	}
	return nil
}

func (b *MemBackend) SaveRoot(version int64, hash []byte) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.roots[version] = hash
	return nil
}

func (b *MemBackend) GetRoot(version int64) ([]byte, bool, error) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	hash, ok := b.roots[version]
	return hash, ok, nil
}

func (b *MemBackend) DeleteRoot(version int64) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	delete(b.roots, version)
	return nil
}

func (b *MemBackend) Versions() ([]int64, error) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	versions := make([]int64, 0, len(b.roots))
	for v := range b.roots {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

func (b *MemBackend) SaveOrphan(hash []byte, until int64) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.orphans[string(hash)] = until
	return nil
}

func (b *MemBackend) DeleteOrphansAt(until int64) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for hash, u := range b.orphans {
		if u == until {
			delete(b.orphans, hash)
		}
	}
	return nil
}

func (b *MemBackend) Orphans(fn func(hash []byte, until int64) bool) error {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	for hash, until := range b.orphans {
		if fn([]byte(hash), until) {
			return nil
		}
	}
	return nil
}

func (b *MemBackend) Close() error {
	return nil
}

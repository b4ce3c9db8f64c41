package merkavl

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"cosmossdk.io/log"
	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
)

// StoreOptions configure a Store. The zero value of every field falls back
// to the default.
type StoreOptions struct {
	Logger  log.Logger
	Hasher  Hasher
	Metrics *Metrics
	// CacheSize bounds the shared digest->node read cache.
	CacheSize int
}

func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		Logger:    log.NewNopLogger(),
		Hasher:    DefaultHasher,
		CacheSize: 500_000,
	}
}

// Store is the versioned node container: one root per committed version, a
// mutable working tree, and orphan records that tell a pruner which nodes a
// deleted version range would free.
//
// A single writer owns the mutation surface; committed versions may be read
// concurrently because nodes are immutable after construction and the node
// cache is internally synchronized.
type Store struct {
	backend Backend
	hasher  Hasher
	logger  log.Logger
	metrics *Metrics

	cache     *lru.Cache[string, *Node]
	emptyHash []byte

	version   int64 // working version
	root      *Node // working root; nil means empty
	savedRoot *Node // root of the newest committed version

	// stagedNodes holds nodes created during the current working cycle,
	// keyed by digest. stagedOrphans holds displaced nodes born in earlier
	// versions; both are promoted or discarded as a unit on commit and
	// rollback.
	stagedNodes   map[string]*Node
	stagedOrphans []*Node
}

var _ resolver = (*Store)(nil)

// NewStore binds a backend. A fresh backend gets the empty root committed
// as version 0 and a working version of 1; otherwise the working tree picks
// up after the newest committed version.
func NewStore(backend Backend, opts StoreOptions) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Hasher == nil {
		opts.Hasher = DefaultHasher
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultStoreOptions().CacheSize
	}
	cache, err := lru.New[string, *Node](opts.CacheSize)
	if err != nil {
		return nil, err
	}

	s := &Store{
		backend:     backend,
		hasher:      opts.Hasher,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		cache:       cache,
		stagedNodes: make(map[string]*Node),
	}
	s.emptyHash = s.hasher.Digest(nil)

	versions, err := backend.Versions()
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	if len(versions) == 0 {
		if err := backend.SaveRoot(0, s.emptyHash); err != nil {
			return nil, fmt.Errorf("committing initial empty root: %w", err)
		}
		s.version = 1
	} else {
		latest := versions[len(versions)-1]
		root, err := s.RootAt(latest)
		if err != nil {
			return nil, err
		}
		s.root, s.savedRoot = root, root
		s.version = latest + 1
	}

	s.logger.Info("opened store", "working_version", s.version, "committed_versions", len(versions))
	return s, nil
}

// resolve materializes the node with the given digest. The empty digest
// resolves to a nil node. Committed nodes come out of the shared cache or
// the backend, so concurrent readers of committed versions never touch the
// staging map, which belongs exclusively to the writer.
func (s *Store) resolve(hash []byte) (*Node, error) {
	if len(hash) == 0 || bytes.Equal(hash, s.emptyHash) {
		return nil, nil
	}
	if node, ok := s.cache.Get(string(hash)); ok {
		return node, nil
	}
	node, err := s.backend.GetNode(hash)
	if err == nil {
		s.cache.Add(string(hash), node)
		return node, nil
	}
	if !errors.Is(err, ErrNodeMissing) {
		return nil, err
	}
	if node, ok := s.stagedNodes[string(hash)]; ok {
		return node, nil
	}
	return nil, err
}

// Node factories. Digests are computed here and never again; every new node
// is staged until the working cycle commits or rolls back.

func (s *Store) newLeafNode(key, value []byte) *Node {
	node := &Node{
		key:     append([]byte{}, key...),
		value:   append([]byte{}, value...),
		version: s.version,
		size:    1,
	}
	node.hash = s.hasher.LeafDigest(node.key, s.hasher.Digest(node.value), node.version)
	s.stagedNodes[string(node.hash)] = node
	if s.metrics != nil {
		s.metrics.LeafCount.Inc()
		s.metrics.NodesCreated.Inc()
	}
	return node
}

func (s *Store) newInnerNode(key []byte, left, right *Node) *Node {
	node := &Node{
		key:       append([]byte{}, key...),
		leftHash:  left.hash,
		rightHash: right.hash,
		version:   s.version,
		size:      left.size + right.size,
		height:    maxInt8(left.height, right.height) + 1,
	}
	node.leftNode.Store(left)
	node.rightNode.Store(right)
	node.hash = s.hasher.InnerDigest(node.height, node.size, node.version, left.hash, right.hash)
	s.stagedNodes[string(node.hash)] = node
	if s.metrics != nil {
		s.metrics.NodesCreated.Inc()
	}
	return node
}

// orphan records a displaced node. A node born in an earlier committed
// version becomes unreachable at the working version; a node born in this
// working cycle was never committed and is simply unstaged.
func (s *Store) orphan(node *Node) {
	if node.version < s.version {
		s.stagedOrphans = append(s.stagedOrphans, node)
	} else {
		delete(s.stagedNodes, string(node.hash))
	}
}

func (s *Store) rootHashOf(node *Node) []byte {
	if node == nil {
		return s.emptyHash
	}
	return node.hash
}

// Version returns the current working version.
func (s *Store) Version() int64 { return s.version }

// Versions returns the committed versions in ascending order.
func (s *Store) Versions() ([]int64, error) { return s.backend.Versions() }

// WorkingRoot returns the uncommitted working root; nil when empty.
func (s *Store) WorkingRoot() *Node { return s.root }

// WorkingHash returns the digest of the working root.
func (s *Store) WorkingHash() []byte { return s.rootHashOf(s.root) }

// Hash returns the digest of the newest committed root.
func (s *Store) Hash() []byte { return s.rootHashOf(s.savedRoot) }

// Size returns the number of keys in the working tree.
func (s *Store) Size() int64 {
	if s.root == nil {
		return 0
	}
	return s.root.size
}

// Height returns the height of the working tree.
func (s *Store) Height() int8 {
	if s.root == nil {
		return 0
	}
	return s.root.height
}

// RootAt returns the root node of a committed version, nil for an empty
// root, or ErrVersionMissing.
func (s *Store) RootAt(version int64) (*Node, error) {
	hash, ok, err := s.backend.GetRoot(version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrVersionMissing, version)
	}
	return s.resolve(hash)
}

// Set writes key=value into the working tree and reports whether an
// existing value was replaced.
func (s *Store) Set(key, value []byte) (bool, error) {
	if key == nil {
		return false, fmt.Errorf("key must not be nil")
	}
	if value == nil {
		return false, fmt.Errorf("value must not be nil")
	}
	newRoot, updated, err := s.recursiveSet(s.root, key, value)
	if err != nil {
		return false, err
	}
	s.root = newRoot
	return updated, nil
}

// Remove deletes key from the working tree, returning the removed value and
// whether the key was present.
func (s *Store) Remove(key []byte) ([]byte, bool, error) {
	newRoot, _, value, removed, err := s.recursiveRemove(s.root, key)
	if err != nil {
		return nil, false, err
	}
	if !removed {
		return nil, false, nil
	}
	s.root = newRoot
	return value, true, nil
}

// Commit finalizes the working root under the working version: staged nodes
// and orphan records are handed to the backend, the root digest is bound to
// the version, and the working version advances. The committed root becomes
// the base of the next working cycle.
func (s *Store) Commit() ([]byte, int64, error) {
	start := time.Now()
	version := s.version

	batcher, batching := s.backend.(batchingBackend)
	if batching {
		if err := batcher.BeginBatch(); err != nil {
			return nil, 0, err
		}
	}

	// Children before parents, so backends with referential integrity see
	// child rows first.
	staged := make([]*Node, 0, len(s.stagedNodes))
	for _, node := range s.stagedNodes {
		staged = append(staged, node)
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i].height < staged[j].height })
	for _, node := range staged {
		if err := s.backend.SaveNode(node); err != nil {
			return nil, 0, fmt.Errorf("saving node %X: %w", node.hash, err)
		}
	}

	rootHash := s.rootHashOf(s.root)
	if err := s.backend.SaveRoot(version, rootHash); err != nil {
		return nil, 0, fmt.Errorf("saving root for version %d: %w", version, err)
	}
	for _, node := range s.stagedOrphans {
		if err := s.backend.SaveOrphan(node.hash, version); err != nil {
			return nil, 0, fmt.Errorf("saving orphan %X: %w", node.hash, err)
		}
	}

	if batching {
		if err := batcher.CommitBatch(); err != nil {
			return nil, 0, err
		}
	}

	for _, node := range staged {
		s.cache.Add(string(node.hash), node)
	}

	s.logger.Info("committed version",
		"version", version,
		"size", humanize.Comma(s.Size()),
		"nodes", humanize.Comma(int64(len(staged))),
		"orphans", humanize.Comma(int64(len(s.stagedOrphans))),
		"took", time.Since(start).String(),
	)
	if s.metrics != nil {
		s.metrics.OrphansCreated.Add(float64(len(s.stagedOrphans)))
		s.metrics.CommitSeconds.Observe(time.Since(start).Seconds())
		s.metrics.TreeSize.Set(float64(s.Size()))
		s.metrics.TreeHeight.Set(float64(s.Height()))
	}

	s.savedRoot = s.root
	s.version++
	s.stagedNodes = make(map[string]*Node)
	s.stagedOrphans = nil
	return rootHash, version, nil
}

// Rollback discards every mutation since the last commit: the working root
// reverts to the committed root and staged nodes and orphans are dropped.
func (s *Store) Rollback() {
	s.root = s.savedRoot
	s.stagedNodes = make(map[string]*Node)
	s.stagedOrphans = nil
}

// DeleteLast removes the newest committed version. Nodes born in it are
// deleted, its orphan records are lifted (those nodes are reachable again),
// and the working tree resets onto the surviving newest root with the
// deleted version number as the working version.
func (s *Store) DeleteLast() error {
	versions, err := s.backend.Versions()
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("%w: no committed versions", ErrVersionMissing)
	}
	last := versions[len(versions)-1]

	if err := s.deleteVersion(last); err != nil {
		return err
	}

	s.cache.Purge()
	s.version = last
	s.root, s.savedRoot = nil, nil
	s.stagedNodes = make(map[string]*Node)
	s.stagedOrphans = nil
	if len(versions) > 1 {
		root, err := s.RootAt(versions[len(versions)-2])
		if err != nil {
			return err
		}
		s.root, s.savedRoot = root, root
	}

	s.logger.Info("deleted last version", "version", last)
	return nil
}

// DeleteAll removes every committed version >= from and makes from the
// working version again. The working tree resets onto the newest surviving
// root.
func (s *Store) DeleteAll(from int64) error {
	versions, err := s.backend.Versions()
	if err != nil {
		return err
	}

	deleted := 0
	for i := len(versions) - 1; i >= 0 && versions[i] >= from; i-- {
		if err := s.deleteVersion(versions[i]); err != nil {
			return err
		}
		versions = versions[:i]
		deleted++
	}

	s.cache.Purge()
	s.version = from
	s.root, s.savedRoot = nil, nil
	s.stagedNodes = make(map[string]*Node)
	s.stagedOrphans = nil
	if len(versions) > 0 {
		root, err := s.RootAt(versions[len(versions)-1])
		if err != nil {
			return err
		}
		s.root, s.savedRoot = root, root
	}

	s.logger.Info("deleted versions", "from", from, "count", deleted)
	return nil
}

func (s *Store) deleteVersion(version int64) error {
	batcher, batching := s.backend.(batchingBackend)
	if batching {
		if err := batcher.BeginBatch(); err != nil {
			return err
		}
	}
	if err := s.backend.DeleteRoot(version); err != nil {
		return err
	}
	if err := s.backend.DeleteNodesAt(version); err != nil {
		return err
	}
	if err := s.backend.DeleteOrphansAt(version); err != nil {
		return err
	}
	if batching {
		return batcher.CommitBatch()
	}
	return nil
}

// Pruneable returns the digests of nodes that would be freed by pruning the
// committed version range [lo, hi]: born no earlier than lo, displaced no
// later than hi.
func (s *Store) Pruneable(lo, hi int64) ([][]byte, error) {
	var (
		out     [][]byte
		walkErr error
	)
	err := s.backend.Orphans(func(hash []byte, until int64) bool {
		if until > hi {
			return false
		}
		node, err := s.resolve(hash)
		if err != nil {
			walkErr = err
			return true
		}
		if node != nil && node.version >= lo {
			out = append(out, node.hash)
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// Read surface over the working tree.

// Get returns the value stored under key, or nil.
func (s *Store) Get(key []byte) ([]byte, error) {
	_, value, err := s.GetWithIndex(key)
	return value, err
}

// GetWithIndex returns the value under key and its in-order index. For an
// absent key the value is nil and the index is the position the key would
// occupy.
func (s *Store) GetWithIndex(key []byte) (int64, []byte, error) {
	if s.root == nil {
		return 0, nil, nil
	}
	return s.root.get(s, key)
}

// GetByIndex returns the key/value at the given in-order position.
func (s *Store) GetByIndex(index int64) ([]byte, []byte, error) {
	if s.root == nil || index < 0 || index >= s.root.size {
		return nil, nil, nil
	}
	return s.root.getByIndex(s, index)
}

// Has reports whether key is present in the working tree.
func (s *Store) Has(key []byte) (bool, error) {
	value, err := s.Get(key)
	return value != nil, err
}

// Next returns the smallest key strictly greater than key, with its value.
func (s *Store) Next(key []byte) ([]byte, []byte, error) {
	if s.root == nil {
		return nil, nil, nil
	}
	node, err := s.root.next(s, key)
	if err != nil || node == nil {
		return nil, nil, err
	}
	return node.key, node.value, nil
}

// Iterate walks the working tree in key order; fn returning true stops the
// walk early. It reports whether the walk was stopped.
func (s *Store) Iterate(ascending bool, fn IterateFunc) (bool, error) {
	return iterate(s, s.root, ascending, fn)
}

// IterateRange walks start <= key < end in the working tree, end-inclusive
// when inclusive is set. Either bound may be nil.
func (s *Store) IterateRange(start, end []byte, ascending, inclusive bool, fn IterateFunc) (bool, error) {
	return iterateRange(s, s.root, start, end, ascending, inclusive, fn)
}

// Versioned read surface.

// GetVersioned returns the value under key at a committed version.
func (s *Store) GetVersioned(key []byte, version int64) ([]byte, error) {
	root, err := s.RootAt(version)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}
	_, value, err := root.get(s, key)
	return value, err
}

// GetVersionedWithIndex returns the value under key at a committed version
// together with its in-order index.
func (s *Store) GetVersionedWithIndex(key []byte, version int64) (int64, []byte, error) {
	root, err := s.RootAt(version)
	if err != nil {
		return 0, nil, err
	}
	if root == nil {
		return 0, nil, nil
	}
	return root.get(s, key)
}

// GetVersionedByIndex returns the key/value at the given in-order position
// of a committed version.
func (s *Store) GetVersionedByIndex(index int64, version int64) ([]byte, []byte, error) {
	root, err := s.RootAt(version)
	if err != nil {
		return nil, nil, err
	}
	if root == nil || index < 0 || index >= root.size {
		return nil, nil, nil
	}
	return root.getByIndex(s, index)
}

// HasVersioned reports whether key is present at a committed version.
func (s *Store) HasVersioned(key []byte, version int64) (bool, error) {
	value, err := s.GetVersioned(key, version)
	return value != nil, err
}

// NextVersioned returns the smallest key strictly greater than key at a
// committed version, with its value.
func (s *Store) NextVersioned(key []byte, version int64) ([]byte, []byte, error) {
	root, err := s.RootAt(version)
	if err != nil {
		return nil, nil, err
	}
	if root == nil {
		return nil, nil, nil
	}
	node, err := root.next(s, key)
	if err != nil || node == nil {
		return nil, nil, err
	}
	return node.key, node.value, nil
}

// GetVersionedWithProof returns the value under key at a committed version
// together with a proof of its presence, or of its absence when the value
// is nil. The proof is nil when the version's tree is empty.
func (s *Store) GetVersionedWithProof(key []byte, version int64) ([]byte, *RangeProof, error) {
	root, err := s.RootAt(version)
	if err != nil {
		return nil, nil, err
	}
	proof, keys, values, err := s.getRangeProof(root, key, cpIncr(key), 2)
	if err != nil {
		return nil, nil, err
	}
	if len(keys) > 0 && bytes.Equal(keys[0], key) {
		return values[0], proof, nil
	}
	return nil, proof, nil
}

// GetVersionedRangeWithProof returns the in-range pairs of [start, end) at
// a committed version, capped at limit when limit > 0, with a proof
// covering them.
func (s *Store) GetVersionedRangeWithProof(start, end []byte, limit int, version int64) ([][]byte, [][]byte, *RangeProof, error) {
	root, err := s.RootAt(version)
	if err != nil {
		return nil, nil, nil, err
	}
	proof, keys, values, err := s.getRangeProof(root, start, end, limit)
	if err != nil {
		return nil, nil, nil, err
	}
	return keys, values, proof, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	s.logger.Info("closing store", "working_version", s.version)
	return s.backend.Close()
}

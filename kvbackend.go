package merkavl

import (
	"encoding/binary"
	"fmt"

	dbm "github.com/cosmos/cosmos-db"
)

// KVBackend persists nodes in any cosmos-db key/value store (goleveldb,
// memdb, pebble, rocksdb). Layout:
//
//	n/<digest>            -> encoded node
//	r/<version be64>      -> root digest
//	o/<digest>            -> orphaned-at version, be64
type KVBackend struct {
	db    dbm.DB
	batch dbm.Batch
}

var (
	nodeKeyPrefix   = []byte("n/")
	rootKeyPrefix   = []byte("r/")
	orphanKeyPrefix = []byte("o/")
)

var _ Backend = (*KVBackend)(nil)

func NewKVBackend(db dbm.DB) *KVBackend {
	return &KVBackend{db: db}
}

func nodeKey(hash []byte) []byte {
	return append(append([]byte{}, nodeKeyPrefix...), hash...)
}

func rootKey(version int64) []byte {
	key := append([]byte{}, rootKeyPrefix...)
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], uint64(version))
	return append(key, be[:]...)
}

func orphanKey(hash []byte) []byte {
	return append(append([]byte{}, orphanKeyPrefix...), hash...)
}

func (b *KVBackend) set(key, value []byte) error {
	if b.batch != nil {
		return b.batch.Set(key, value)
	}
	return b.db.Set(key, value)
}

func (b *KVBackend) delete(key []byte) error {
	if b.batch != nil {
		return b.batch.Delete(key)
	}
	return b.db.Delete(key)
}

func (b *KVBackend) BeginBatch() error {
	if b.batch != nil {
		return fmt.Errorf("batch already open")
	}
	b.batch = b.db.NewBatch()
	return nil
}

func (b *KVBackend) CommitBatch() error {
	if b.batch == nil {
		return fmt.Errorf("no batch open")
	}
	err := b.batch.WriteSync()
	b.batch.Close()
	b.batch = nil
	return err
}

func (b *KVBackend) SaveNode(node *Node) error {
	bz, err := node.bytes()
	if err != nil {
		return err
	}
	node.persisted = true
	return b.set(nodeKey(node.hash), bz)
}

func (b *KVBackend) GetNode(hash []byte) (*Node, error) {
	bz, err := b.db.Get(nodeKey(hash))
	if err != nil {
		return nil, fmt.Errorf("reading node %X: %w", hash, err)
	}
	if bz == nil {
		return nil, fmt.Errorf("%w: %X", ErrNodeMissing, hash)
	}
	return MakeNode(append([]byte{}, hash...), bz)
}

func (b *KVBackend) DeleteNodesAt(version int64) error {
	hashes, err := b.nodesAt(version)
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		if err := b.delete(nodeKey(hash)); err != nil {
			return err
		}
		if err := b.delete(orphanKey(hash)); err != nil {
			return err
		}
	}
	return nil
}

func (b *KVBackend) nodesAt(version int64) ([][]byte, error) {
	itr, err := b.db.Iterator(nodeKeyPrefix, cpIncr(nodeKeyPrefix))
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	var hashes [][]byte
	for ; itr.Valid(); itr.Next() {
		node, err := MakeNode(nil, itr.Value())
		if err != nil {
			return nil, err
		}
		if node.version == version {
			hashes = append(hashes, append([]byte{}, itr.Key()[len(nodeKeyPrefix):]...))
		}
	}
	return hashes, itr.Error()
}

func (b *KVBackend) SaveRoot(version int64, hash []byte) error {
	return b.set(rootKey(version), hash)
}

func (b *KVBackend) GetRoot(version int64) ([]byte, bool, error) {
	hash, err := b.db.Get(rootKey(version))
	if err != nil {
		return nil, false, fmt.Errorf("reading root %d: %w", version, err)
	}
	if hash == nil {
		return nil, false, nil
	}
	return hash, true, nil
}

func (b *KVBackend) DeleteRoot(version int64) error {
	return b.delete(rootKey(version))
}

func (b *KVBackend) Versions() ([]int64, error) {
	itr, err := b.db.Iterator(rootKeyPrefix, cpIncr(rootKeyPrefix))
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	var versions []int64
	for ; itr.Valid(); itr.Next() {
		key := itr.Key()
		if len(key) != len(rootKeyPrefix)+8 {
			return nil, fmt.Errorf("malformed root key %X", key)
		}
		versions = append(versions, int64(binary.BigEndian.Uint64(key[len(rootKeyPrefix):])))
	}
	return versions, itr.Error()
}

func (b *KVBackend) SaveOrphan(hash []byte, until int64) error {
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], uint64(until))
	return b.set(orphanKey(hash), be[:])
}

func (b *KVBackend) DeleteOrphansAt(until int64) error {
	itr, err := b.db.Iterator(orphanKeyPrefix, cpIncr(orphanKeyPrefix))
	if err != nil {
		return err
	}

	var keys [][]byte
	for ; itr.Valid(); itr.Next() {
		if int64(binary.BigEndian.Uint64(itr.Value())) == until {
			keys = append(keys, append([]byte{}, itr.Key()...))
		}
	}
	if err := itr.Error(); err != nil {
		itr.Close()
		return err
	}
	itr.Close()

	for _, key := range keys {
		if err := b.delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (b *KVBackend) Orphans(fn func(hash []byte, until int64) bool) error {
	itr, err := b.db.Iterator(orphanKeyPrefix, cpIncr(orphanKeyPrefix))
	if err != nil {
		return err
	}
	defer itr.Close()

	for ; itr.Valid(); itr.Next() {
		hash := itr.Key()[len(orphanKeyPrefix):]
		if fn(hash, int64(binary.BigEndian.Uint64(itr.Value()))) {
			return nil
		}
	}
	return itr.Error()
}

func (b *KVBackend) Close() error {
	if b.batch != nil {
		b.batch.Close()
		b.batch = nil
	}
	return b.db.Close()
}

package bench

import (
	"fmt"
	"math/rand"
)

// ChangesetGenerator produces a deterministic pseudo-random stream of
// per-version changesets: creates, updates and deletes against a simulated
// key space. The same seed always yields the same stream, so runs against
// different backends are comparable.
type ChangesetGenerator struct {
	Seed             int64
	KeyMean          int
	KeyStdDev        int
	ValueMean        int
	ValueStdDev      int
	InitialSize      int
	FinalSize        int
	Versions         int64
	ChangePerVersion int
	DeleteFraction   float64
}

// Node is one key operation within a changeset.
type Node struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Changeset is the batch of operations for a single version.
type Changeset struct {
	Version int64
	Nodes   []*Node
}

// BankLikeGenerator approximates the shape of a bank store: small keys,
// mid-sized values, high update churn.
func BankLikeGenerator(seed int64, versions int64) ChangesetGenerator {
	return ChangesetGenerator{
		Seed:             seed,
		KeyMean:          24,
		KeyStdDev:        2,
		ValueMean:        100,
		ValueStdDev:      20,
		InitialSize:      1000,
		FinalSize:        10_000,
		Versions:         versions,
		ChangePerVersion: 100,
		DeleteFraction:   0.05,
	}
}

// StakingLikeGenerator approximates a staking store: larger values, lower
// churn, more deletions.
func StakingLikeGenerator(seed int64, versions int64) ChangesetGenerator {
	return ChangesetGenerator{
		Seed:             seed,
		KeyMean:          36,
		KeyStdDev:        4,
		ValueMean:        500,
		ValueStdDev:      100,
		InitialSize:      500,
		FinalSize:        5_000,
		Versions:         versions,
		ChangePerVersion: 50,
		DeleteFraction:   0.2,
	}
}

// Iterator validates the generator and positions it on the first changeset.
func (c ChangesetGenerator) Iterator() (*ChangesetIterator, error) {
	if c.FinalSize < c.InitialSize {
		return nil, fmt.Errorf("final size must not be less than initial size")
	}
	if c.Versions < 1 {
		return nil, fmt.Errorf("versions must be at least 1")
	}
	itr := &ChangesetIterator{
		gen:  c,
		rand: rand.New(rand.NewSource(c.Seed)),
	}
	if c.Versions > 1 {
		itr.createsPerVersion = float64(c.FinalSize-c.InitialSize) / float64(c.Versions-1)
	}
	itr.Next()
	return itr, nil
}

// ChangesetIterator yields one changeset per version.
type ChangesetIterator struct {
	gen               ChangesetGenerator
	rand              *rand.Rand
	createsPerVersion float64
	createDebt        float64

	version   int64
	changeset *Changeset
	keys      [][]byte
}

func (itr *ChangesetIterator) Valid() bool {
	return itr.changeset != nil
}

func (itr *ChangesetIterator) Version() int64 {
	return itr.version
}

func (itr *ChangesetIterator) GetChangeset() *Changeset {
	return itr.changeset
}

// Next advances to the following version's changeset; after the configured
// number of versions the iterator becomes invalid.
func (itr *ChangesetIterator) Next() {
	if itr.version >= itr.gen.Versions {
		itr.changeset = nil
		return
	}
	itr.version++

	cs := &Changeset{Version: itr.version}
	if itr.version == 1 {
		for i := 0; i < itr.gen.InitialSize; i++ {
			cs.Nodes = append(cs.Nodes, itr.create())
		}
		itr.changeset = cs
		return
	}

	itr.createDebt += itr.createsPerVersion
	for itr.createDebt >= 1 {
		cs.Nodes = append(cs.Nodes, itr.create())
		itr.createDebt--
	}
	for i := 0; i < itr.gen.ChangePerVersion && len(itr.keys) > 0; i++ {
		j := itr.rand.Intn(len(itr.keys))
		if itr.rand.Float64() < itr.gen.DeleteFraction {
			cs.Nodes = append(cs.Nodes, &Node{Key: itr.keys[j], Delete: true})
			itr.keys[j] = itr.keys[len(itr.keys)-1]
			itr.keys = itr.keys[:len(itr.keys)-1]
		} else {
			cs.Nodes = append(cs.Nodes, &Node{
				Key:   itr.keys[j],
				Value: itr.genBytes(itr.gen.ValueMean, itr.gen.ValueStdDev),
			})
		}
	}
	itr.changeset = cs
}

func (itr *ChangesetIterator) create() *Node {
	key := itr.genBytes(itr.gen.KeyMean, itr.gen.KeyStdDev)
	itr.keys = append(itr.keys, key)
	return &Node{Key: key, Value: itr.genBytes(itr.gen.ValueMean, itr.gen.ValueStdDev)}
}

func (itr *ChangesetIterator) genBytes(mean, stdDev int) []byte {
	length := int(itr.rand.NormFloat64()*float64(stdDev)) + mean
	if length < 1 {
		length = 1
	}
	bz := make([]byte, length)
	itr.rand.Read(bz)
	return bz
}

package aggregation

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// Partitioner deterministically maps a validator's own index to the
// level hierarchy of its peers: level l groups the half of the index
// range that diverges from self at split depth maxLevel-l, so level
// sizes grow geometrically and the union of all levels is exactly the
// validator set minus self. Every participant derives the same topology
// from its own index alone, which is what makes the protocol
// self-organizing without a coordinator.
type Partitioner struct {
	self     int
	n        int
	maxLevel int
	ranges   []peerRange // indexed by level, entry 0 unused
}

// peerRange is a half-open index range [lo, hi).
type peerRange struct {
	lo, hi int
}

func (r peerRange) empty() bool {
	return r.hi <= r.lo
}

// NewPartitioner computes the level hierarchy for the validator at
// index self within a set of n validators. A set of size 1 has zero
// levels: self is already complete.
func NewPartitioner(self, n int) (*Partitioner, error) {
	if n <= 0 {
		return nil, fmt.Errorf("validator count must be positive, got %d", n)
	}

	if self < 0 || self >= n {
		return nil, fmt.Errorf("self index %d out of range [0, %d)", self, n)
	}

	maxLevel := ceilLog2(n)

	p := &Partitioner{
		self:     self,
		n:        n,
		maxLevel: maxLevel,
		ranges:   make([]peerRange, maxLevel+1),
	}

	// Walk down the binary split of [0, n): at each depth the half not
	// containing self becomes a level, numbering from maxLevel down so
	// that level numbers agree between validators in sibling halves.
	lo, hi := 0, n
	depth := 0

	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		level := maxLevel - depth

		if self < mid {
			p.ranges[level] = peerRange{lo: mid, hi: hi}
			hi = mid
		} else {
			p.ranges[level] = peerRange{lo: lo, hi: mid}
			lo = mid
		}

		depth++
	}

	return p, nil
}

// MaxLevel returns the highest level number of the topology.
// The highest level is present for every validator; lower levels may be
// absent when the validator count is not a power of two.
func (p *Partitioner) MaxLevel() int {
	return p.maxLevel
}

// Levels returns this validator's non-empty levels, ascending.
func (p *Partitioner) Levels() []int {
	levels := make([]int, 0, p.maxLevel)

	for l := 1; l <= p.maxLevel; l++ {
		if !p.ranges[l].empty() {
			levels = append(levels, l)
		}
	}

	return levels
}

// PeersAtLevel returns the validator indices assigned to the given
// level, ascending. Returns nil for levels absent from this validator's
// hierarchy.
func (p *Partitioner) PeersAtLevel(level int) []int {
	if level < 1 || level > p.maxLevel {
		return nil
	}

	r := p.ranges[level]
	if r.empty() {
		return nil
	}

	peers := make([]int, 0, r.hi-r.lo)
	for i := r.lo; i < r.hi; i++ {
		peers = append(peers, i)
	}

	return peers
}

// ExpectedSigners returns the set of validators a level's inbound
// contributions may cover: exactly the level's peer range, since peers
// aggregate among themselves before sending across the split.
func (p *Partitioner) ExpectedSigners(level int) SignerSet {
	s := NewSignerSet(p.n)

	if level < 1 || level > p.maxLevel {
		return s
	}

	r := p.ranges[level]
	for i := r.lo; i < r.hi; i++ {
		s.Set(i)
	}

	return s
}

// LevelOf returns the level that contains the given peer index, or -1
// for self and out-of-range indices.
func (p *Partitioner) LevelOf(peer int) int {
	if peer < 0 || peer >= p.n || peer == p.self {
		return -1
	}

	for l := 1; l <= p.maxLevel; l++ {
		r := p.ranges[l]
		if peer >= r.lo && peer < r.hi {
			return l
		}
	}

	return -1
}

// ShuffledPeers returns the level's peers ordered by a deterministic
// per-round score, so that dissemination rotations differ between
// rounds without ever disagreeing between participants.
func (p *Partitioner) ShuffledPeers(level int, seed [32]byte) []int {
	peers := p.PeersAtLevel(level)
	if len(peers) < 2 {
		return peers
	}

	type scoredPeer struct {
		index int
		score [32]byte
	}

	scored := make([]scoredPeer, len(peers))

	for i, peer := range peers {
		scored[i] = scoredPeer{index: peer, score: peerScore(seed, level, peer)}
	}

	sort.Slice(scored, func(i, j int) bool {
		return bytes.Compare(scored[i].score[:], scored[j].score[:]) > 0
	})

	ordered := make([]int, len(peers))
	for i, sp := range scored {
		ordered[i] = sp.index
	}

	return ordered
}

// peerScore computes BLAKE3(seed || level || peer) for rotation ordering.
func peerScore(seed [32]byte, level, peer int) [32]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(level))
	binary.BigEndian.PutUint64(buf[8:16], uint64(peer))

	h := blake3.New()
	h.Write(seed[:])
	h.Write(buf[:])

	var score [32]byte
	h.Sum(score[:0])

	return score
}

// ceilLog2 returns the smallest l with 2^l >= n.
func ceilLog2(n int) int {
	l := 0
	for size := 1; size < n; size <<= 1 {
		l++
	}

	return l
}

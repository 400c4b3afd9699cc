package aggregation

import (
	"QuorumMesh/internal/identity"
)

// LevelStatus is the state of one level's aggregation progress.
type LevelStatus int

const (
	// LevelIdle means no useful contribution for the level yet.
	LevelIdle LevelStatus = iota

	// LevelActive means the level holds a verified, non-maximal
	// contribution and is still improvable.
	LevelActive

	// LevelComplete means the level's contribution covers every
	// validator assigned to it. No further internal change is possible;
	// the level stays re-sendable for slow peers.
	LevelComplete
)

// String returns a short name for logging.
func (s LevelStatus) String() string {
	switch s {
	case LevelIdle:
		return "idle"
	case LevelActive:
		return "active"
	case LevelComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// levelState drives one level of a round: what has been received, the
// peer rotation for sends, and the Idle -> Active -> Complete machine.
// The machine never regresses; a complete level stays complete.
type levelState struct {
	level      int
	peers      []int     // send rotation, seed-ordered
	expected   SignerSet // validators whose signatures this level collects
	fullWeight uint64    // covered weight at which the level completes
	status     LevelStatus
	cursor     int // next rotation position to send to
}

// newLevelState builds the state for one level of the partition.
func newLevelState(p *Partitioner, vs *identity.ValidatorSet, level int, seed [32]byte) *levelState {
	expected := p.ExpectedSigners(level)

	return &levelState{
		level:      level,
		peers:      p.ShuffledPeers(level, seed),
		expected:   expected,
		fullWeight: vs.WeightOf(expected.Indices()),
		status:     LevelIdle,
	}
}

// observe recomputes the level's status from the best contribution the
// store holds for it. Returns true when the status advanced.
func (l *levelState) observe(best *Contribution, vs *identity.ValidatorSet) bool {
	if l.status == LevelComplete || best == nil {
		return false
	}

	next := LevelActive
	if best.Weight(vs) >= l.fullWeight {
		next = LevelComplete
	}

	if next <= l.status {
		return false
	}

	l.status = next

	return true
}

// nextPeers returns up to k peers in rotation order, advancing the
// cursor so successive ticks cover the whole level before repeating.
func (l *levelState) nextPeers(k int) []int {
	if len(l.peers) == 0 || k <= 0 {
		return nil
	}

	if k > len(l.peers) {
		k = len(l.peers)
	}

	picked := make([]int, 0, k)

	for i := 0; i < k; i++ {
		picked = append(picked, l.peers[l.cursor])
		l.cursor = (l.cursor + 1) % len(l.peers)
	}

	return picked
}

package aggregation

import (
	"fmt"

	"QuorumMesh/internal/identity"
)

// ErrStoreFull is returned when a round's contribution store has
// reached its admission capacity. The round keeps its current state and
// rejects further admissions; concurrent rounds are unaffected.
var ErrStoreFull = fmt.Errorf("contribution store full")

// defaultStoreCapacity bounds the number of admitted contributions per round.
const defaultStoreCapacity = 4096

// ContributionStore holds, per level, the best aggregate and best
// individual contribution seen so far. It is not safe for concurrent
// use: the owning round actor is its single writer.
type ContributionStore struct {
	vs       *identity.ValidatorSet
	crypto   Crypto
	bestAgg  []*Contribution // indexed by level
	bestInd  []*Contribution // indexed by level
	admitted int
	capacity int
}

// NewContributionStore creates a store for levels 0..maxLevel.
// A capacity of 0 uses the default admission cap.
func NewContributionStore(vs *identity.ValidatorSet, crypto Crypto, maxLevel, capacity int) *ContributionStore {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}

	return &ContributionStore{
		vs:       vs,
		crypto:   crypto,
		bestAgg:  make([]*Contribution, maxLevel+1),
		bestInd:  make([]*Contribution, maxLevel+1),
		capacity: capacity,
	}
}

// Put admits a verified contribution if it improves on the current best
// for its level: strictly higher covered weight, or equal weight with
// larger cardinality, then lower canonical bitmap encoding. Returns
// whether the contribution replaced a previous best. Non-improving
// contributions are discarded without affecting state.
func (s *ContributionStore) Put(c Contribution) (bool, error) {
	if c.Level < 0 || c.Level >= len(s.bestAgg) {
		return false, fmt.Errorf("level %d out of range", c.Level)
	}

	if c.Signers.IsEmpty() {
		return false, fmt.Errorf("empty signer set")
	}

	slot := &s.bestAgg[c.Level]
	if c.Signers.Count() == 1 {
		slot = &s.bestInd[c.Level]
	}

	if *slot != nil && !c.betterThan(**slot, s.vs) {
		return false, nil
	}

	// Only net-new slot occupancy counts against capacity: a round that
	// keeps improving an occupied slot must never starve itself.
	if *slot == nil {
		if s.admitted >= s.capacity {
			return false, ErrStoreFull
		}

		s.admitted++
	}

	copied := c
	*slot = &copied

	return true, nil
}

// Full reports whether the store has reached its admission capacity.
func (s *ContributionStore) Full() bool {
	return s.admitted >= s.capacity
}

// BestForLevel returns the best contribution held for the level, or nil.
// An aggregate beats an individual under the same improvement rule.
func (s *ContributionStore) BestForLevel(level int) *Contribution {
	if level < 0 || level >= len(s.bestAgg) {
		return nil
	}

	agg, ind := s.bestAgg[level], s.bestInd[level]

	switch {
	case agg == nil:
		return ind
	case ind == nil:
		return agg
	case ind.betterThan(*agg, s.vs):
		return ind
	default:
		return agg
	}
}

// BestCombinable returns the highest-weight contribution obtainable by
// greedily combining disjoint per-level bests from the highest level
// down. Levels whose best overlaps the running aggregate fall back to
// their best individual; levels that cannot be combined disjointly are
// skipped. The combination order is fixed, so stores holding the same
// admitted contributions derive the same aggregate.
func (s *ContributionStore) BestCombinable() *Contribution {
	return s.bestUpTo(len(s.bestAgg) - 1)
}

// BestBelow returns the best combinable aggregate restricted to levels
// strictly below the given level. This is the payload disseminated to a
// level's peers: everything this side of the split has collected.
func (s *ContributionStore) BestBelow(level int) *Contribution {
	return s.bestUpTo(level - 1)
}

func (s *ContributionStore) bestUpTo(maxLevel int) *Contribution {
	if maxLevel >= len(s.bestAgg) {
		maxLevel = len(s.bestAgg) - 1
	}

	var acc *Contribution

	for l := maxLevel; l >= 0; l-- {
		for _, candidate := range []*Contribution{s.bestAgg[l], s.bestInd[l]} {
			if candidate == nil {
				continue
			}

			if acc == nil {
				copied := *candidate
				acc = &copied
				break
			}

			if !acc.Signers.Disjoint(candidate.Signers) {
				continue
			}

			combined, err := acc.Combine(*candidate, s.crypto)
			if err != nil {
				continue
			}

			acc = &combined
			break
		}
	}

	return acc
}

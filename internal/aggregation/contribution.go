package aggregation

import (
	"fmt"

	"QuorumMesh/internal/identity"
)

// Contribution is a verified, partially-aggregated signature covering a
// set of validators, tagged with the level it was produced for.
// Contributions are immutable once verified; combining two of them
// produces a new Contribution and requires disjoint signer sets.
type Contribution struct {
	Level     int       // Level is the partition level this contribution belongs to
	Signers   SignerSet // Signers are the validator indices covered
	Signature []byte    // Signature is the aggregate BLS signature
}

// Weight returns the summed stake covered by the contribution.
func (c Contribution) Weight(vs *identity.ValidatorSet) uint64 {
	return vs.WeightOf(c.Signers.Indices())
}

// Combine merges two contributions with disjoint signer sets into one.
// The result carries the higher of the two levels.
func (c Contribution) Combine(other Contribution, crypto Crypto) (Contribution, error) {
	if !c.Signers.Disjoint(other.Signers) {
		return Contribution{}, fmt.Errorf("signer sets overlap")
	}

	sig, err := crypto.Aggregate([][]byte{c.Signature, other.Signature})
	if err != nil {
		return Contribution{}, fmt.Errorf("aggregate signatures:\n%w", err)
	}

	level := c.Level
	if other.Level > level {
		level = other.Level
	}

	return Contribution{
		Level:     level,
		Signers:   c.Signers.Union(other.Signers),
		Signature: sig,
	}, nil
}

// betterThan reports whether c improves on other for the same level:
// strictly higher covered weight, or equal weight with larger signer
// cardinality, then lower canonical bitmap encoding. The tie-break is
// deterministic so independent stores converge on the same best.
func (c Contribution) betterThan(other Contribution, vs *identity.ValidatorSet) bool {
	cw, ow := c.Weight(vs), other.Weight(vs)
	if cw != ow {
		return cw > ow
	}

	cc, oc := c.Signers.Count(), other.Signers.Count()
	if cc != oc {
		return cc > oc
	}

	return c.Signers.Compare(other.Signers) < 0
}

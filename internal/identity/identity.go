// Package identity holds the per-round validator snapshot: the ordered
// mapping from validator index to BLS public key and stake weight. A
// ValidatorSet is immutable once built; every participant of a round
// derives topology and weights from the same snapshot.
package identity

import (
	"fmt"

	"QuorumMesh/internal/blssig"
)

// Validator is one weighted participant of an aggregation round.
type Validator struct {
	Index     int                        // Index is the validator's position in the set
	PublicKey [blssig.PublicKeySize]byte // PublicKey is the compressed BLS public key
	Weight    uint64                     // Weight is the validator's stake
}

// ValidatorSet is the ordered, immutable set of validators for one round.
type ValidatorSet struct {
	validators  []Validator
	byKey       map[[blssig.PublicKeySize]byte]int
	totalWeight uint64
}

// NewValidatorSet builds a set from an ordered validator slice.
// Indices are assigned by position; weights must be non-zero.
func NewValidatorSet(validators []Validator) (*ValidatorSet, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("empty validator set")
	}

	vs := &ValidatorSet{
		validators: make([]Validator, len(validators)),
		byKey:      make(map[[blssig.PublicKeySize]byte]int, len(validators)),
	}

	for i, v := range validators {
		if v.Weight == 0 {
			return nil, fmt.Errorf("validator %d has zero weight", i)
		}

		if _, exists := vs.byKey[v.PublicKey]; exists {
			return nil, fmt.Errorf("duplicate public key at index %d", i)
		}

		v.Index = i
		vs.validators[i] = v
		vs.byKey[v.PublicKey] = i
		vs.totalWeight += v.Weight
	}

	return vs, nil
}

// Len returns the number of validators.
func (vs *ValidatorSet) Len() int {
	return len(vs.validators)
}

// Get returns the validator at the given index, or nil if out of range.
func (vs *ValidatorSet) Get(index int) *Validator {
	if index < 0 || index >= len(vs.validators) {
		return nil
	}

	v := vs.validators[index]
	return &v
}

// Weight returns the stake weight of the validator at the given index.
// Out-of-range indices have zero weight.
func (vs *ValidatorSet) Weight(index int) uint64 {
	if index < 0 || index >= len(vs.validators) {
		return 0
	}

	return vs.validators[index].Weight
}

// TotalWeight returns the summed stake of all validators.
func (vs *ValidatorSet) TotalWeight() uint64 {
	return vs.totalWeight
}

// WeightOf returns the summed stake of the given validator indices.
// Indices must be distinct; out-of-range indices contribute nothing.
func (vs *ValidatorSet) WeightOf(indices []int) uint64 {
	var total uint64

	for _, idx := range indices {
		total += vs.Weight(idx)
	}

	return total
}

// Index returns the index of the validator with the given BLS public key,
// or -1 if the key is not in the set.
func (vs *ValidatorSet) Index(publicKey [blssig.PublicKeySize]byte) int {
	if idx, exists := vs.byKey[publicKey]; exists {
		return idx
	}

	return -1
}

// AggregatePublicKey aggregates the BLS public keys of the given
// validator indices. Fails if any index is out of range.
func (vs *ValidatorSet) AggregatePublicKey(indices []int) ([]byte, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("no indices to aggregate")
	}

	keys := make([][]byte, len(indices))

	for i, idx := range indices {
		if idx < 0 || idx >= len(vs.validators) {
			return nil, fmt.Errorf("validator index %d out of range", idx)
		}

		keys[i] = vs.validators[idx].PublicKey[:]
	}

	return blssig.AggregatePublicKeys(keys)
}

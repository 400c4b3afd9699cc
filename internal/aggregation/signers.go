package aggregation

import (
	"bytes"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// SignerSet is a compact set of validator indices, fixed to the size of
// the round's validator set so that encodings are canonical.
type SignerSet struct {
	bits *bitset.BitSet
	size int
}

// NewSignerSet creates an empty signer set over n validators.
func NewSignerSet(n int) SignerSet {
	return SignerSet{bits: bitset.New(uint(n)), size: n}
}

// SignerSetOf creates a signer set over n validators with the given
// indices set. Out-of-range indices are ignored.
func SignerSetOf(n int, indices ...int) SignerSet {
	s := NewSignerSet(n)

	for _, idx := range indices {
		s.Set(idx)
	}

	return s
}

// Set adds a validator index to the set.
func (s SignerSet) Set(index int) {
	if index >= 0 && index < s.size {
		s.bits.Set(uint(index))
	}
}

// Test reports whether the given validator index is in the set.
func (s SignerSet) Test(index int) bool {
	if index < 0 || index >= s.size {
		return false
	}

	return s.bits.Test(uint(index))
}

// Count returns the number of validator indices in the set.
func (s SignerSet) Count() int {
	return int(s.bits.Count())
}

// IsEmpty reports whether the set contains no indices.
func (s SignerSet) IsEmpty() bool {
	return s.bits.Count() == 0
}

// Size returns the validator-set size this signer set is defined over.
func (s SignerSet) Size() int {
	return s.size
}

// Disjoint reports whether the two sets share no validator index.
// Disjointness is what makes two contributions combinable without
// double-counting any validator.
func (s SignerSet) Disjoint(other SignerSet) bool {
	return s.bits.IntersectionCardinality(other.bits) == 0
}

// SubsetOf reports whether every index in s is also in other.
func (s SignerSet) SubsetOf(other SignerSet) bool {
	return other.bits.IsSuperSet(s.bits)
}

// Union returns a new set containing the indices of both sets.
func (s SignerSet) Union(other SignerSet) SignerSet {
	return SignerSet{bits: s.bits.Union(other.bits), size: s.size}
}

// Equal reports whether both sets contain exactly the same indices.
func (s SignerSet) Equal(other SignerSet) bool {
	return s.size == other.size && s.bits.Equal(other.bits)
}

// Clone returns an independent copy of the set.
func (s SignerSet) Clone() SignerSet {
	return SignerSet{bits: s.bits.Clone(), size: s.size}
}

// Indices returns the validator indices in the set, ascending.
func (s SignerSet) Indices() []int {
	indices := make([]int, 0, s.bits.Count())

	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		indices = append(indices, int(i))
	}

	return indices
}

// Bitmap returns the canonical byte encoding of the set: ceil(size/8)
// bytes, where bit (index%8) of byte (index/8) marks a signer.
func (s SignerSet) Bitmap() []byte {
	bitmap := make([]byte, (s.size+7)/8)

	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		bitmap[i/8] |= 1 << (i % 8)
	}

	return bitmap
}

// Compare orders two sets by their canonical bitmap encoding.
// Used as the final deterministic tie-break between equal-weight,
// equal-cardinality contributions.
func (s SignerSet) Compare(other SignerSet) int {
	return bytes.Compare(s.Bitmap(), other.Bitmap())
}

// SignerSetFromBitmap decodes a canonical bitmap into a signer set over
// n validators. Rejects bitmaps of the wrong width or with bits set
// beyond the validator count.
func SignerSetFromBitmap(bitmap []byte, n int) (SignerSet, error) {
	if len(bitmap) != (n+7)/8 {
		return SignerSet{}, fmt.Errorf("bitmap length %d does not match %d validators", len(bitmap), n)
	}

	s := NewSignerSet(n)

	for byteIdx, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) == 0 {
				continue
			}

			index := byteIdx*8 + bit
			if index >= n {
				return SignerSet{}, fmt.Errorf("signer bit %d beyond validator count %d", index, n)
			}

			s.Set(index)
		}
	}

	return s, nil
}

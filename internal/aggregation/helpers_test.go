package aggregation

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/zeebo/blake3"

	"QuorumMesh/internal/blssig"
	"QuorumMesh/internal/identity"
)

// fakeSig derives a deterministic pseudo-signature for one validator.
// XOR-combining fake signatures mirrors BLS aggregation closely enough
// for the engine: combining disjoint sets is associative, commutative,
// and yields the signature of the union.
func fakeSig(index int) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(index))

	h := blake3.Sum256(buf[:])

	sig := make([]byte, blssig.SignatureSize)
	copy(sig[0:32], h[:])
	copy(sig[32:64], h[:])
	copy(sig[64:96], h[:])

	return sig
}

// fakeAggSig computes the fake aggregate signature over a signer set.
func fakeAggSig(indices ...int) []byte {
	agg := make([]byte, blssig.SignatureSize)

	for _, idx := range indices {
		sig := fakeSig(idx)
		for i := range agg {
			agg[i] ^= sig[i]
		}
	}

	return agg
}

// fakeCrypto implements Crypto with XOR aggregation over deterministic
// per-validator signatures, so engine tests run without pairing math.
type fakeCrypto struct {
	self int
}

func (f *fakeCrypto) Sign(message []byte) []byte {
	return fakeSig(f.self)
}

func (f *fakeCrypto) Aggregate(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	agg := make([]byte, blssig.SignatureSize)

	for i, sig := range signatures {
		if len(sig) != blssig.SignatureSize {
			return nil, fmt.Errorf("invalid signature size at index %d", i)
		}

		for j := range agg {
			agg[j] ^= sig[j]
		}
	}

	return agg, nil
}

func (f *fakeCrypto) VerifyAggregate(signers SignerSet, message, signature []byte) bool {
	return bytes.Equal(signature, fakeAggSig(signers.Indices()...))
}

// makeValidatorSet builds a set with the given per-index weights and
// distinct placeholder public keys.
func makeValidatorSet(t *testing.T, weights ...uint64) *identity.ValidatorSet {
	t.Helper()

	validators := make([]identity.Validator, len(weights))

	for i, w := range weights {
		var key [blssig.PublicKeySize]byte
		binary.BigEndian.PutUint16(key[:2], uint16(i+1))

		validators[i] = identity.Validator{PublicKey: key, Weight: w}
	}

	vs, err := identity.NewValidatorSet(validators)
	if err != nil {
		t.Fatalf("build validator set: %v", err)
	}

	return vs
}

// makeEqualWeightSet builds a set of n validators with weight 1 each.
func makeEqualWeightSet(t *testing.T, n int) *identity.ValidatorSet {
	t.Helper()

	weights := make([]uint64, n)
	for i := range weights {
		weights[i] = 1
	}

	return makeValidatorSet(t, weights...)
}

package aggregation

import (
	"QuorumMesh/internal/blssig"
	"QuorumMesh/internal/identity"
)

// Crypto is the pairing-based signature capability consumed by the
// engine: signing with the local key, aggregation, and verification of
// an aggregate signature against the signer set's combined public key.
type Crypto interface {
	// Sign signs the round message with the local validator key.
	Sign(message []byte) []byte

	// Aggregate combines signatures over the same message into one.
	Aggregate(signatures [][]byte) ([]byte, error)

	// VerifyAggregate checks an aggregate signature against the
	// aggregated public key of the given signer set.
	VerifyAggregate(signers SignerSet, message, signature []byte) bool
}

// blsCrypto implements Crypto on the BLS12-381 primitive with public
// keys resolved through the round's validator snapshot.
type blsCrypto struct {
	key *blssig.KeyPair
	vs  *identity.ValidatorSet
}

// NewBLSCrypto creates the production Crypto backed by blssig.
func NewBLSCrypto(key *blssig.KeyPair, vs *identity.ValidatorSet) Crypto {
	return &blsCrypto{key: key, vs: vs}
}

func (b *blsCrypto) Sign(message []byte) []byte {
	return b.key.Sign(message)
}

func (b *blsCrypto) Aggregate(signatures [][]byte) ([]byte, error) {
	return blssig.AggregateSignatures(signatures)
}

func (b *blsCrypto) VerifyAggregate(signers SignerSet, message, signature []byte) bool {
	aggKey, err := b.vs.AggregatePublicKey(signers.Indices())
	if err != nil {
		return false
	}

	return blssig.VerifyAggregate(signature, message, aggKey)
}

package blssig

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

// TestSignVerify tests basic sign and verify.
func TestSignVerify(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	message := []byte("hello, bls!")
	signature := key.Sign(message)

	if len(signature) != SignatureSize {
		t.Errorf("signature size: got %d, want %d", len(signature), SignatureSize)
	}

	if !Verify(signature, message, key.PublicKeyBytes()) {
		t.Error("valid signature should verify")
	}
}

// TestSignVerifyWrongMessage tests verification with wrong message.
func TestSignVerifyWrongMessage(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	signature := key.Sign([]byte("hello, bls!"))

	if Verify(signature, []byte("wrong message"), key.PublicKeyBytes()) {
		t.Error("signature should not verify with wrong message")
	}
}

// TestSignVerifyWrongKey tests verification with wrong key.
func TestSignVerifyWrongKey(t *testing.T) {
	key1, _ := Generate()
	key2, _ := Generate()

	message := []byte("hello, bls!")
	signature := key1.Sign(message)

	if Verify(signature, message, key2.PublicKeyBytes()) {
		t.Error("signature should not verify with wrong key")
	}
}

// TestDeterministicKey tests that seed produces deterministic keys.
func TestDeterministicKey(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	key1, _ := GenerateFromSeed(seed)
	key2, _ := GenerateFromSeed(seed)

	if !bytes.Equal(key1.PublicKeyBytes(), key2.PublicKeyBytes()) {
		t.Error("same seed should produce same key")
	}

	if _, err := GenerateFromSeed(seed[:16]); err == nil {
		t.Error("short seed should error")
	}
}

// TestDeriveFromED25519 tests the transport-key binding.
func TestDeriveFromED25519(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}

	key1, err := DeriveFromED25519(priv)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	key2, err := DeriveFromED25519(priv)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}

	if !bytes.Equal(key1.PublicKeyBytes(), key2.PublicKeyBytes()) {
		t.Error("derivation must be deterministic")
	}

	_, other, _ := ed25519.GenerateKey(rand.Reader)

	otherKey, err := DeriveFromED25519(other)
	if err != nil {
		t.Fatalf("derive other: %v", err)
	}

	if bytes.Equal(key1.PublicKeyBytes(), otherKey.PublicKeyBytes()) {
		t.Error("distinct transport keys must derive distinct BLS keys")
	}
}

// TestAggregation tests signature aggregation against the aggregated
// public key of the signer set.
func TestAggregation(t *testing.T) {
	const numSigners = 5

	sigs := make([][]byte, numSigners)
	pubkeys := make([][]byte, numSigners)
	message := []byte("aggregate me!")

	for i := 0; i < numSigners; i++ {
		key, err := Generate()
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}

		sigs[i] = key.Sign(message)
		pubkeys[i] = key.PublicKeyBytes()
	}

	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("aggregate signatures: %v", err)
	}

	if len(aggSig) != SignatureSize {
		t.Errorf("aggregated signature size: got %d, want %d", len(aggSig), SignatureSize)
	}

	aggKey, err := AggregatePublicKeys(pubkeys)
	if err != nil {
		t.Fatalf("aggregate public keys: %v", err)
	}

	if len(aggKey) != PublicKeySize {
		t.Errorf("aggregated key size: got %d, want %d", len(aggKey), PublicKeySize)
	}

	if !VerifyAggregate(aggSig, message, aggKey) {
		t.Error("aggregated signature should verify")
	}
}

// TestAggregationSubset tests that an aggregate only verifies against
// the exact signer subset's aggregated key.
func TestAggregationSubset(t *testing.T) {
	const numSigners = 5

	keys := make([]*KeyPair, numSigners)
	message := []byte("partial aggregate")

	for i := 0; i < numSigners; i++ {
		keys[i], _ = Generate()
	}

	// Only 3 of 5 sign.
	signerIndices := []int{0, 2, 4}
	sigs := make([][]byte, len(signerIndices))
	pubkeys := make([][]byte, len(signerIndices))

	for i, idx := range signerIndices {
		sigs[i] = keys[idx].Sign(message)
		pubkeys[i] = keys[idx].PublicKeyBytes()
	}

	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	aggKey, err := AggregatePublicKeys(pubkeys)
	if err != nil {
		t.Fatalf("aggregate keys: %v", err)
	}

	if !VerifyAggregate(aggSig, message, aggKey) {
		t.Error("aggregate should verify against the signer subset")
	}

	// Including non-signers breaks verification.
	allKeys := make([][]byte, numSigners)
	for i := 0; i < numSigners; i++ {
		allKeys[i] = keys[i].PublicKeyBytes()
	}

	allAggKey, err := AggregatePublicKeys(allKeys)
	if err != nil {
		t.Fatalf("aggregate all keys: %v", err)
	}

	if VerifyAggregate(aggSig, message, allAggKey) {
		t.Error("aggregate should not verify with non-signers included")
	}
}

// TestAggregationEmpty tests aggregation with no inputs.
func TestAggregationEmpty(t *testing.T) {
	if _, err := AggregateSignatures(nil); err == nil {
		t.Error("aggregating no signatures should error")
	}

	if _, err := AggregatePublicKeys(nil); err == nil {
		t.Error("aggregating no keys should error")
	}
}

// TestInvalidInputs tests verification with malformed inputs.
func TestInvalidInputs(t *testing.T) {
	key, _ := Generate()
	message := []byte("test")
	signature := key.Sign(message)
	pubkey := key.PublicKeyBytes()

	if Verify([]byte("short"), message, pubkey) {
		t.Error("short signature should not verify")
	}

	if Verify(signature, message, []byte("short")) {
		t.Error("short pubkey should not verify")
	}

	corrupt := make([]byte, len(signature))
	copy(corrupt, signature)
	corrupt[0] ^= 0xFF

	if Verify(corrupt, message, pubkey) {
		t.Error("corrupt signature should not verify")
	}
}

// BenchmarkSign benchmarks BLS signing.
func BenchmarkSign(b *testing.B) {
	key, _ := Generate()
	message := []byte("benchmark message")

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key.Sign(message)
	}
}

// BenchmarkVerify benchmarks BLS verification.
func BenchmarkVerify(b *testing.B) {
	key, _ := Generate()
	message := []byte("benchmark message")
	signature := key.Sign(message)
	pubkey := key.PublicKeyBytes()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		Verify(signature, message, pubkey)
	}
}

// BenchmarkAggregate100 benchmarks aggregation of 100 signatures.
func BenchmarkAggregate100(b *testing.B) {
	message := []byte("benchmark")
	sigs := make([][]byte, 100)

	for i := range sigs {
		key, _ := Generate()
		sigs[i] = key.Sign(message)
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		AggregateSignatures(sigs)
	}
}

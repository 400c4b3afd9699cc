package archive

import (
	"bytes"
	"testing"

	"QuorumMesh/internal/blssig"
)

// testProof builds a proof with a distinct round id byte.
func testProof(id byte) *Proof {
	sig := make([]byte, blssig.SignatureSize)
	sig[0] = id

	return &Proof{
		RoundID:      [32]byte{id},
		Message:      []byte("attest block"),
		Signature:    sig,
		Weight:       42,
		SignerBitmap: []byte{0b10110101, 0b00001111},
	}
}

// TestArchivePutGet tests storing and retrieving a proof.
func TestArchivePutGet(t *testing.T) {
	a, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer a.Close()

	proof := testProof(0x01)

	if err := a.Put(proof); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := a.Get(proof.RoundID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got == nil {
		t.Fatal("expected a proof")
	}

	if got.RoundID != proof.RoundID {
		t.Error("round id mismatch")
	}

	if !bytes.Equal(got.Message, proof.Message) {
		t.Error("message mismatch")
	}

	if !bytes.Equal(got.Signature, proof.Signature) {
		t.Error("signature mismatch")
	}

	if got.Weight != proof.Weight {
		t.Errorf("weight: got %d, want %d", got.Weight, proof.Weight)
	}

	if !bytes.Equal(got.SignerBitmap, proof.SignerBitmap) {
		t.Error("bitmap mismatch")
	}
}

// TestArchiveGetMissing tests that an absent round returns nil, nil.
func TestArchiveGetMissing(t *testing.T) {
	a, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer a.Close()

	got, err := a.Get([32]byte{0xEE})
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got != nil {
		t.Error("expected nil for a missing proof")
	}
}

// TestArchiveOverwrite tests that a round's proof can be replaced.
func TestArchiveOverwrite(t *testing.T) {
	a, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer a.Close()

	proof := testProof(0x02)

	if err := a.Put(proof); err != nil {
		t.Fatalf("put: %v", err)
	}

	proof.Weight = 99

	if err := a.Put(proof); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := a.Get(proof.RoundID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Weight != 99 {
		t.Errorf("expected overwritten weight 99, got %d", got.Weight)
	}
}

// TestArchiveIterate tests ordered iteration over all proofs.
func TestArchiveIterate(t *testing.T) {
	a, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer a.Close()

	for _, id := range []byte{0x03, 0x01, 0x02} {
		if err := a.Put(testProof(id)); err != nil {
			t.Fatalf("put %#x: %v", id, err)
		}
	}

	var order []byte

	err = a.Iterate(func(p *Proof) error {
		order = append(order, p.RoundID[0])
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("expected 3 proofs, got %d", len(order))
	}

	for i := 1; i < len(order); i++ {
		if order[i-1] > order[i] {
			t.Fatalf("iteration out of round-id order: %v", order)
		}
	}
}

// TestArchivePersistence tests that proofs survive a close and reopen.
func TestArchivePersistence(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(dir)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}

	proof := testProof(0x07)

	if err := a.Put(proof); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	a, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a.Close()

	got, err := a.Get(proof.RoundID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}

	if got == nil || got.Weight != proof.Weight {
		t.Error("proof lost across reopen")
	}
}

// TestProofCodecRejectsBadInput tests decoder bounds checks.
func TestProofCodecRejectsBadInput(t *testing.T) {
	if _, err := decodeProof([]byte{0x01, 0x02}); err == nil {
		t.Error("expected error for truncated proof")
	}

	proof := testProof(0x0A)

	encoded, err := encodeProof(proof)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := decodeProof(encoded[:len(encoded)-4]); err == nil {
		t.Error("expected error for truncated message")
	}

	proof.Signature = []byte{0x01}
	if _, err := encodeProof(proof); err == nil {
		t.Error("expected error for bad signature size")
	}
}

package aggregation

import (
	"bytes"
	"testing"
)

// TestLevelUpdateRoundtrip tests encoding and decoding with and without
// the optional individual signature.
func TestLevelUpdateRoundtrip(t *testing.T) {
	roundID := ComputeRoundID([]byte("block 42"))

	update := &LevelUpdate{
		RoundID:        roundID,
		Level:          3,
		Sender:         7,
		SignerBitmap:   SignerSetOf(16, 4, 5, 7).Bitmap(),
		AggSignature:   fakeAggSig(4, 5, 7),
		IndivSignature: fakeSig(7),
	}

	data, err := EncodeLevelUpdate(update)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeLevelUpdate(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.RoundID != update.RoundID {
		t.Error("round id mismatch")
	}

	if decoded.Level != 3 || decoded.Sender != 7 {
		t.Errorf("header mismatch: level %d sender %d", decoded.Level, decoded.Sender)
	}

	if !bytes.Equal(decoded.SignerBitmap, update.SignerBitmap) {
		t.Error("bitmap mismatch")
	}

	if !bytes.Equal(decoded.AggSignature, update.AggSignature) {
		t.Error("aggregate signature mismatch")
	}

	if !bytes.Equal(decoded.IndivSignature, update.IndivSignature) {
		t.Error("individual signature mismatch")
	}
}

// TestLevelUpdateWithoutIndividual tests the optional field absent.
func TestLevelUpdateWithoutIndividual(t *testing.T) {
	update := &LevelUpdate{
		RoundID:      ComputeRoundID([]byte("msg")),
		Level:        1,
		Sender:       1,
		SignerBitmap: SignerSetOf(8, 1).Bitmap(),
		AggSignature: fakeSig(1),
	}

	data, err := EncodeLevelUpdate(update)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeLevelUpdate(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded.IndivSignature) != 0 {
		t.Error("expected no individual signature")
	}
}

// TestEncodeLevelUpdateRejectsBadSignatures tests size validation.
func TestEncodeLevelUpdateRejectsBadSignatures(t *testing.T) {
	update := &LevelUpdate{
		SignerBitmap: []byte{0x01},
		AggSignature: []byte{0x01, 0x02},
	}

	if _, err := EncodeLevelUpdate(update); err == nil {
		t.Error("expected error for truncated aggregate signature")
	}

	update.AggSignature = fakeSig(0)
	update.IndivSignature = []byte{0x01}

	if _, err := EncodeLevelUpdate(update); err == nil {
		t.Error("expected error for truncated individual signature")
	}
}

// TestDecodeLevelUpdateRejectsTruncation tests decoder bounds checks.
func TestDecodeLevelUpdateRejectsTruncation(t *testing.T) {
	update := &LevelUpdate{
		RoundID:      ComputeRoundID([]byte("msg")),
		Level:        2,
		Sender:       3,
		SignerBitmap: SignerSetOf(16, 2, 3).Bitmap(),
		AggSignature: fakeAggSig(2, 3),
	}

	data, err := EncodeLevelUpdate(update)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := DecodeLevelUpdate(data[:10]); err == nil {
		t.Error("expected error for truncated header")
	}

	if _, err := DecodeLevelUpdate(data[:len(data)-5]); err == nil {
		t.Error("expected error for truncated body")
	}

	bad := append([]byte{}, data...)
	bad[0] = 0x7f

	if _, err := DecodeLevelUpdate(bad); err == nil {
		t.Error("expected error for wrong message type")
	}
}

// TestRoundAnnounceRoundtrip tests the announcement codec.
func TestRoundAnnounceRoundtrip(t *testing.T) {
	data := EncodeRoundAnnounce(&RoundAnnounce{Message: []byte("sign this")})

	decoded, err := DecodeRoundAnnounce(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !bytes.Equal(decoded.Message, []byte("sign this")) {
		t.Error("message mismatch")
	}

	if _, err := DecodeRoundAnnounce(data[:3]); err == nil {
		t.Error("expected error for truncated announce")
	}
}

// TestMessageType tests type dispatch on raw payloads.
func TestMessageType(t *testing.T) {
	announce := EncodeRoundAnnounce(&RoundAnnounce{Message: []byte("x")})

	msgType, err := MessageType(announce)
	if err != nil || msgType != MsgTypeRoundAnnounce {
		t.Errorf("expected round announce type, got 0x%02x err %v", msgType, err)
	}

	if _, err := MessageType(nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

// TestComputeRoundID tests that distinct messages map to distinct rounds.
func TestComputeRoundID(t *testing.T) {
	a := ComputeRoundID([]byte("block 1"))
	b := ComputeRoundID([]byte("block 2"))

	if a == b {
		t.Error("distinct messages should have distinct round ids")
	}

	if a != ComputeRoundID([]byte("block 1")) {
		t.Error("round id must be deterministic")
	}
}

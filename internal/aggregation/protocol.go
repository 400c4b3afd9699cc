package aggregation

import (
	"encoding/binary"
	"fmt"

	"QuorumMesh/internal/blssig"
)

// Message types for the aggregation protocol.
const (
	MsgTypeLevelUpdate   = 0x01 // Level update carrying an aggregate contribution
	MsgTypeRoundAnnounce = 0x02 // Announcement of a new aggregation round
)

// Level update flags.
const (
	flagHasIndividual = 0x01 // Update carries the sender's individual signature
)

// levelUpdateFixedSize is the size of a level update without the bitmap
// and without the optional individual signature.
// [1B type] [32B roundID] [1B level] [2B sender] [2B bitmapLen] [96B aggSig] [1B flags]
const levelUpdateFixedSize = 1 + 32 + 1 + 2 + 2 + blssig.SignatureSize + 1

// LevelUpdate is the dissemination message: the sender's best combinable
// aggregate below the target level, plus its own individual signature so
// the receiver can always rescue a disjoint combination.
type LevelUpdate struct {
	RoundID        [32]byte // RoundID identifies the aggregation round
	Level          uint8    // Level is the target level at the receiver
	Sender         uint16   // Sender is the sending validator's index
	SignerBitmap   []byte   // SignerBitmap encodes the aggregate's signer set
	AggSignature   []byte   // AggSignature is the aggregate BLS signature (96 bytes)
	IndivSignature []byte   // IndivSignature is the sender's own signature (96 bytes, optional)
}

// EncodeLevelUpdate encodes a level update to bytes.
// Format: [1B type] [32B roundID] [1B level] [2B sender] [2B bitmapLen] [bitmap] [96B aggSig] [1B flags] [96B indivSig?]
func EncodeLevelUpdate(u *LevelUpdate) ([]byte, error) {
	if len(u.AggSignature) != blssig.SignatureSize {
		return nil, fmt.Errorf("invalid aggregate signature size: %d", len(u.AggSignature))
	}

	hasIndiv := len(u.IndivSignature) > 0
	if hasIndiv && len(u.IndivSignature) != blssig.SignatureSize {
		return nil, fmt.Errorf("invalid individual signature size: %d", len(u.IndivSignature))
	}

	size := levelUpdateFixedSize + len(u.SignerBitmap)
	if hasIndiv {
		size += blssig.SignatureSize
	}

	buf := make([]byte, size)
	buf[0] = MsgTypeLevelUpdate
	copy(buf[1:33], u.RoundID[:])
	buf[33] = u.Level
	binary.BigEndian.PutUint16(buf[34:36], u.Sender)
	binary.BigEndian.PutUint16(buf[36:38], uint16(len(u.SignerBitmap)))

	offset := 38
	copy(buf[offset:], u.SignerBitmap)
	offset += len(u.SignerBitmap)

	copy(buf[offset:], u.AggSignature)
	offset += blssig.SignatureSize

	if hasIndiv {
		buf[offset] = flagHasIndividual
		copy(buf[offset+1:], u.IndivSignature)
	}

	return buf, nil
}

// DecodeLevelUpdate decodes a level update from bytes.
func DecodeLevelUpdate(data []byte) (*LevelUpdate, error) {
	if len(data) < levelUpdateFixedSize {
		return nil, fmt.Errorf("level update too short: %d < %d", len(data), levelUpdateFixedSize)
	}

	if data[0] != MsgTypeLevelUpdate {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	u := &LevelUpdate{
		Level:  data[33],
		Sender: binary.BigEndian.Uint16(data[34:36]),
	}
	copy(u.RoundID[:], data[1:33])

	bitmapLen := int(binary.BigEndian.Uint16(data[36:38]))

	if len(data) < levelUpdateFixedSize+bitmapLen {
		return nil, fmt.Errorf("bitmap truncated: need %d, have %d", levelUpdateFixedSize+bitmapLen, len(data))
	}

	offset := 38
	u.SignerBitmap = make([]byte, bitmapLen)
	copy(u.SignerBitmap, data[offset:offset+bitmapLen])
	offset += bitmapLen

	u.AggSignature = make([]byte, blssig.SignatureSize)
	copy(u.AggSignature, data[offset:offset+blssig.SignatureSize])
	offset += blssig.SignatureSize

	if data[offset]&flagHasIndividual != 0 {
		if len(data) < offset+1+blssig.SignatureSize {
			return nil, fmt.Errorf("individual signature truncated")
		}

		u.IndivSignature = make([]byte, blssig.SignatureSize)
		copy(u.IndivSignature, data[offset+1:offset+1+blssig.SignatureSize])
	}

	return u, nil
}

// RoundAnnounce asks peers to start aggregating signatures for a message.
// Threshold and deadline are local policy; only the message travels.
type RoundAnnounce struct {
	Message []byte // Message is the payload being signed
}

// EncodeRoundAnnounce encodes a round announcement to bytes.
// Format: [1B type] [4B msgLen] [message]
func EncodeRoundAnnounce(a *RoundAnnounce) []byte {
	buf := make([]byte, 5+len(a.Message))
	buf[0] = MsgTypeRoundAnnounce
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(a.Message)))
	copy(buf[5:], a.Message)

	return buf
}

// DecodeRoundAnnounce decodes a round announcement from bytes.
func DecodeRoundAnnounce(data []byte) (*RoundAnnounce, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("round announce too short: %d < 5", len(data))
	}

	if data[0] != MsgTypeRoundAnnounce {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	msgLen := binary.BigEndian.Uint32(data[1:5])

	if len(data) < 5+int(msgLen) {
		return nil, fmt.Errorf("message truncated: need %d, have %d", 5+msgLen, len(data))
	}

	a := &RoundAnnounce{Message: make([]byte, msgLen)}
	copy(a.Message, data[5:5+msgLen])

	return a, nil
}

// MessageType returns the type byte of an encoded protocol message.
func MessageType(data []byte) (byte, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty message")
	}

	return data[0], nil
}

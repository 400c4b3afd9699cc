// Package archive persists finalized aggregation proofs. Rounds
// themselves are transient and lost on restart; completed proofs are
// what the chain layer embeds into blocks, so they are worth keeping.
package archive

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"

	"QuorumMesh/internal/blssig"
)

const (
	// defaultSyncInterval is the interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond
)

// keyPrefix namespaces proof records in the database.
var keyPrefix = []byte("proof/")

// Proof is a finalized aggregate signature over a message: the quorum
// certificate the consensus layer attaches to a block or view change.
type Proof struct {
	RoundID      [32]byte // RoundID identifies the aggregation round
	Message      []byte   // Message is the signed payload
	Signature    []byte   // Signature is the aggregate BLS signature
	Weight       uint64   // Weight is the stake covered by the signers
	SignerBitmap []byte   // SignerBitmap encodes the covered validator indices
}

// Archive is a pebble-backed store of finalized proofs. Writes are
// non-blocking (NoSync) and a background goroutine periodically syncs
// the WAL for durability. Values are zstd-compressed.
type Archive struct {
	db       *pebble.DB    // db is the underlying Pebble database
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
}

// Open creates or opens an archive at the given path.
func Open(path string) (*Archive, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(8 << 20), // 8 MB cache
		MemTableSize:                4 << 20,                  // 4 MB memtable
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		db:       db,
		stopSync: make(chan struct{}),
	}

	a.startSyncLoop()

	return a, nil
}

// Put stores a finalized proof, overwriting any previous proof for the
// same round.
func (a *Archive) Put(p *Proof) error {
	encoded, err := encodeProof(p)
	if err != nil {
		return fmt.Errorf("encode proof:\n%w", err)
	}

	compressed, err := compress(encoded)
	if err != nil {
		return fmt.Errorf("compress proof:\n%w", err)
	}

	return a.db.Set(proofKey(p.RoundID), compressed, pebble.NoSync)
}

// Get retrieves the proof for a round, or nil if absent.
func (a *Archive) Get(roundID [32]byte) (*Proof, error) {
	value, closer, err := a.db.Get(proofKey(roundID))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	decompressed, err := decompress(value)
	if err != nil {
		return nil, fmt.Errorf("decompress proof:\n%w", err)
	}

	return decodeProof(decompressed)
}

// Iterate calls fn for each archived proof, in round-ID order.
// If fn returns an error, iteration stops and the error is returned.
func (a *Archive) Iterate(fn func(*Proof) error) error {
	upperBound := append(append([]byte{}, keyPrefix...), 0xFF)

	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: upperBound,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		decompressed, err := decompress(value)
		if err != nil {
			return fmt.Errorf("decompress proof:\n%w", err)
		}

		proof, err := decodeProof(decompressed)
		if err != nil {
			return fmt.Errorf("decode proof:\n%w", err)
		}

		if err := fn(proof); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Close stops the sync goroutine and closes the database.
// It performs a final sync before closing to ensure durability.
func (a *Archive) Close() error {
	close(a.stopSync)
	a.wg.Wait()

	if err := a.sync(); err != nil {
		return err
	}

	return a.db.Close()
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (a *Archive) startSyncLoop() {
	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = a.sync()
			case <-a.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (a *Archive) sync() error {
	return a.db.LogData(nil, pebble.Sync)
}

// proofKey builds the database key for a round's proof.
func proofKey(roundID [32]byte) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(roundID))
	key = append(key, keyPrefix...)
	key = append(key, roundID[:]...)

	return key
}

// encodeProof encodes a proof to bytes.
// Format: [32B roundID] [8B weight] [2B bitmapLen] [bitmap] [96B sig] [4B msgLen] [message]
func encodeProof(p *Proof) ([]byte, error) {
	if len(p.Signature) != blssig.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: %d", len(p.Signature))
	}

	size := 32 + 8 + 2 + len(p.SignerBitmap) + blssig.SignatureSize + 4 + len(p.Message)
	buf := make([]byte, size)

	copy(buf[0:32], p.RoundID[:])
	binary.BigEndian.PutUint64(buf[32:40], p.Weight)
	binary.BigEndian.PutUint16(buf[40:42], uint16(len(p.SignerBitmap)))

	offset := 42
	copy(buf[offset:], p.SignerBitmap)
	offset += len(p.SignerBitmap)

	copy(buf[offset:], p.Signature)
	offset += blssig.SignatureSize

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(p.Message)))
	copy(buf[offset+4:], p.Message)

	return buf, nil
}

// decodeProof decodes a proof from bytes.
func decodeProof(data []byte) (*Proof, error) {
	if len(data) < 42 {
		return nil, fmt.Errorf("proof too short: %d", len(data))
	}

	p := &Proof{
		Weight: binary.BigEndian.Uint64(data[32:40]),
	}
	copy(p.RoundID[:], data[0:32])

	bitmapLen := int(binary.BigEndian.Uint16(data[40:42]))
	offset := 42

	if len(data) < offset+bitmapLen+blssig.SignatureSize+4 {
		return nil, fmt.Errorf("proof truncated")
	}

	p.SignerBitmap = make([]byte, bitmapLen)
	copy(p.SignerBitmap, data[offset:offset+bitmapLen])
	offset += bitmapLen

	p.Signature = make([]byte, blssig.SignatureSize)
	copy(p.Signature, data[offset:offset+blssig.SignatureSize])
	offset += blssig.SignatureSize

	msgLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	if len(data) < offset+int(msgLen) {
		return nil, fmt.Errorf("message truncated: need %d, have %d", offset+int(msgLen), len(data))
	}

	p.Message = make([]byte, msgLen)
	copy(p.Message, data[offset:offset+int(msgLen)])

	return p, nil
}

// compress compresses proof data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd-compressed proof data.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}

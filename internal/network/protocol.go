package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Stream framing: every message is [4-byte big-endian length][payload].
// maxFrameSize bounds what a peer can make us allocate; level updates
// are a few hundred bytes even for large validator sets, so 1 MB is
// already generous.
const maxFrameSize = 1 << 20

const frameHeaderSize = 4

// writeMessage frames data onto w as a single Write so the QUIC stream
// sees header and payload together.
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame exceeds %d bytes: %d", maxFrameSize, len(data))
	}

	frame := make([]byte, frameHeaderSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[frameHeaderSize:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// readMessage reads one framed message from r. It rejects oversized
// frames before allocating the payload buffer.
func readMessage(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame exceeds %d bytes: %d", maxFrameSize, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

package network

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"QuorumMesh/internal/logger"
)

// acceptPoll bounds each AcceptUniStream wait so the loop can notice a
// wedged connection instead of blocking forever.
const acceptPoll = 10 * time.Second

// sendTimeout bounds how long a send may wait for stream credit from a
// backpressured peer before giving up; callers resend later anyway.
const sendTimeout = 5 * time.Second

// Peer is one authenticated QUIC connection to another validator.
type Peer struct {
	publicKey ed25519.PublicKey
	address   string
	conn      *quic.Conn
	node      *Node

	sendMu sync.Mutex
	closed atomic.Bool
}

// PublicKey returns the remote node's ed25519 public key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Send writes one message on a fresh unidirectional stream. Delivery
// is best effort; callers resend periodically instead of waiting for
// acknowledgment.
func (p *Peer) Send(data []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("peer %s is closed", p.address)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	stream, err := p.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream to %s: %w", p.address, err)
	}

	if err := writeMessage(stream, data); err != nil {
		stream.Close()
		return err
	}

	return stream.Close()
}

// Close closes the peer connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// receiveLoop accepts inbound unidirectional streams until the
// connection dies, then hands the peer back to the node for redial.
func (p *Peer) receiveLoop() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), acceptPoll)
		stream, err := p.conn.AcceptUniStream(ctx)
		cancel()

		if err == nil {
			go p.consumeStream(stream)
			continue
		}

		if ctx.Err() == context.DeadlineExceeded {
			continue
		}

		logger.Debug("receive loop ended", "peer", p.address, "error", err)
		break
	}

	if !p.closed.Swap(true) {
		p.node.dropPeer(p)
	}
}

// consumeStream reads one framed message and forwards it unless the
// dedup window has already seen identical bytes.
func (p *Peer) consumeStream(stream *quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("bad frame", "peer", p.address, "error", err)
		return
	}

	if !p.node.dedup.Check(data) {
		return
	}

	p.node.notifyMessage(p, data)
}

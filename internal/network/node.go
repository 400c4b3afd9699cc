package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	alpnProtocol = "quorummesh/1"

	initialRedialDelay = 5 * time.Second
	maxRedialDelay     = 60 * time.Second
)

// peerKey indexes peers by their raw ed25519 public key.
type peerKey [ed25519.PublicKeySize]byte

func keyOf(pub ed25519.PublicKey) peerKey {
	var k peerKey
	copy(k[:], pub)
	return k
}

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey // identity key, also bound into the TLS certificate
	ListenAddr     string             // address to listen on, e.g. ":9000"
	ReconnectDelay time.Duration      // initial redial delay, defaults to 5s
}

// Node is the gossip transport endpoint: it accepts and initiates QUIC
// connections to other validators, delivers inbound messages to a
// handler, and redials dropped peers with backoff. Sends are
// fire-and-forget; the aggregation layer relies on periodic resends,
// not delivery guarantees.
type Node struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	listener   *quic.Listener

	mu    sync.RWMutex       // guards peers and addrs
	peers map[peerKey]*Peer  // currently connected
	addrs map[peerKey]string // last known dial address, survives disconnects

	handlerMu sync.RWMutex // guards the three callbacks below
	onConnect func(*Peer)
	onMessage func(*Peer, []byte)
	onGone    func(*Peer)

	redialDelay time.Duration
	dedup       *Dedup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a network node. The ed25519 key doubles as the TLS
// identity: peers verify each other by the key baked into the
// certificate, not by a CA chain.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	cert, err := generateCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	delay := cfg.ReconnectDelay
	if delay == 0 {
		delay = initialRedialDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr: cfg.ListenAddr,
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true, // key is checked in extractPublicKey
			NextProtos:         []string{alpnProtocol},
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		peers:       make(map[peerKey]*Peer),
		addrs:       make(map[peerKey]string),
		redialDelay: delay,
		dedup:       NewDedup(),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// PublicKey returns the node's public key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.publicKey
}

// Addr returns the listener's address, or "" before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Start opens the listener and begins accepting connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	n.listener = listener

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			conn, err := listener.Accept(n.ctx)
			if err != nil {
				return
			}
			go n.acceptPeer(conn)
		}
	}()

	return nil
}

// Connect dials a remote node.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	peer, err := n.admitPeer(conn, addr)
	if err != nil {
		conn.CloseWithError(1, "rejected")
		return nil, err
	}

	return peer, nil
}

// Broadcast sends a message to every connected peer. Best effort: the
// last send error is returned but delivery is never guaranteed.
func (n *Node) Broadcast(data []byte) error {
	var lastErr error
	for _, p := range n.Peers() {
		if err := p.Send(data); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Peers returns a snapshot of the connected peers.
func (n *Node) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// GetPeer returns the connected peer with the given public key, or nil.
func (n *Node) GetPeer(pub ed25519.PublicKey) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.peers[keyOf(pub)]
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlerMu.Lock()
	n.onConnect = fn
	n.handlerMu.Unlock()
}

// OnMessage sets the handler called for each deduplicated inbound message.
func (n *Node) OnMessage(fn func(*Peer, []byte)) {
	n.handlerMu.Lock()
	n.onMessage = fn
	n.handlerMu.Unlock()
}

// OnDisconnect sets the handler called when a peer drops.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlerMu.Lock()
	n.onGone = fn
	n.handlerMu.Unlock()
}

// Close tears down the listener, all peers, and background goroutines.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.mu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peers = make(map[peerKey]*Peer)
	n.mu.Unlock()

	n.dedup.Close()
	n.wg.Wait()

	return nil
}

func (n *Node) acceptPeer(conn *quic.Conn) {
	peer, err := n.admitPeer(conn, conn.RemoteAddr().String())
	if err != nil {
		conn.CloseWithError(1, "rejected")
		return
	}

	n.notifyConnect(peer)
}

// admitPeer verifies the remote identity, registers the peer, and
// starts its receive loop.
func (n *Node) admitPeer(conn *quic.Conn, addr string) (*Peer, error) {
	pub, err := extractPublicKey(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("verify peer identity: %w", err)
	}

	peer := &Peer{
		publicKey: pub,
		address:   addr,
		conn:      conn,
		node:      n,
	}

	key := keyOf(pub)

	n.mu.Lock()
	n.peers[key] = peer
	n.addrs[key] = addr
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

// dropPeer unregisters a disconnected peer and schedules a redial.
func (n *Node) dropPeer(p *Peer) {
	key := keyOf(p.publicKey)

	n.mu.Lock()
	delete(n.peers, key)
	n.mu.Unlock()

	n.notifyGone(p)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.redial(key)
	}()
}

// redial retries the peer's last known address with exponential backoff
// until it reconnects, the node shuts down, or another connection from
// the same peer shows up first.
func (n *Node) redial(key peerKey) {
	delay := n.redialDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.mu.RLock()
		addr, known := n.addrs[key]
		_, connected := n.peers[key]
		n.mu.RUnlock()

		if !known || connected {
			return
		}

		if peer, err := n.Connect(addr); err == nil {
			n.notifyConnect(peer)
			return
		}

		if delay *= 2; delay > maxRedialDelay {
			delay = maxRedialDelay
		}
	}
}

func (n *Node) notifyConnect(p *Peer) {
	n.handlerMu.RLock()
	fn := n.onConnect
	n.handlerMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) notifyMessage(p *Peer, data []byte) {
	n.handlerMu.RLock()
	fn := n.onMessage
	n.handlerMu.RUnlock()

	if fn != nil {
		fn(p, data)
	}
}

func (n *Node) notifyGone(p *Peer) {
	n.handlerMu.RLock()
	fn := n.onGone
	n.handlerMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"QuorumMesh/internal/aggregation"
	"QuorumMesh/internal/archive"
	"QuorumMesh/internal/blssig"
	"QuorumMesh/internal/identity"
	"QuorumMesh/internal/logger"
	"QuorumMesh/internal/network"
)

// Node wires the validator's aggregation stack together: transport,
// identity snapshot, protocol driver and the proof archive.
type Node struct {
	cfg     *Config
	net     *network.Node
	vs      *identity.ValidatorSet
	roster  []rosterEntry
	self    int
	driver  *aggregation.Driver
	archive *archive.Archive
}

// NewNode builds a node from configuration.
func NewNode(cfg *Config) (*Node, error) {
	roster, err := loadRoster(cfg.ValidatorsPath)
	if err != nil {
		return nil, fmt.Errorf("load roster:\n%w", err)
	}

	vs, err := buildValidatorSet(roster)
	if err != nil {
		return nil, fmt.Errorf("build validator set:\n%w", err)
	}

	blsKey, err := blssig.DeriveFromED25519(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("derive BLS key:\n%w", err)
	}

	self, err := findSelf(roster, blsKey)
	if err != nil {
		return nil, err
	}

	net, err := network.NewNode(network.Config{
		PrivateKey: cfg.PrivateKey,
		ListenAddr: cfg.QUICAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create network node:\n%w", err)
	}

	arch, err := archive.Open(filepath.Join(cfg.DataPath, "proofs"))
	if err != nil {
		return nil, fmt.Errorf("open archive:\n%w", err)
	}

	node := &Node{
		cfg:     cfg,
		net:     net,
		vs:      vs,
		roster:  roster,
		self:    self,
		archive: arch,
	}

	crypto := aggregation.NewBLSCrypto(blsKey, vs)

	driver, err := aggregation.NewDriver(vs, self, crypto, node, aggregation.Config{})
	if err != nil {
		return nil, fmt.Errorf("create driver:\n%w", err)
	}

	node.driver = driver
	net.OnMessage(node.handleMessage)

	return node, nil
}

// findSelf locates this node's validator index in the roster by its
// derived BLS public key.
func findSelf(roster []rosterEntry, key *blssig.KeyPair) (int, error) {
	pub := key.PublicKeyBytes()

	for i, e := range roster {
		if bytes.Equal(pub, e.BLSKey[:]) {
			return i, nil
		}
	}

	return 0, fmt.Errorf("this node's key is not in the validator roster")
}

// Send delivers a payload to the validator at the given index.
// Implements aggregation.Transport.
func (n *Node) Send(to int, payload []byte) error {
	if to < 0 || to >= len(n.roster) {
		return fmt.Errorf("validator index %d out of range", to)
	}

	peer := n.net.GetPeer(n.roster[to].NetKey)
	if peer == nil {
		return fmt.Errorf("validator %d not connected", to)
	}

	return peer.Send(payload)
}

// Run starts the node and blocks until shutdown.
func (n *Node) Run() error {
	if err := n.net.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	n.connectPeers()

	if n.cfg.SignMessage != "" {
		return n.runOneRound()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	n.shutdown()

	return nil
}

// connectPeers dials every other validator in the roster. Failures are
// retried by the transport's reconnect logic once a first connection
// has been made; initial failures only log.
func (n *Node) connectPeers() {
	for i, e := range n.roster {
		if i == n.self {
			continue
		}

		if _, err := n.net.Connect(e.Address); err != nil {
			logger.Warn("connect failed", "validator", i, "address", e.Address, "error", err)
		}
	}
}

// runOneRound initiates a single aggregation round for the configured
// message, waits for the outcome, archives completed proofs and exits.
func (n *Node) runOneRound() error {
	defer n.shutdown()

	message, err := hex.DecodeString(n.cfg.SignMessage)
	if err != nil {
		return fmt.Errorf("decode sign message:\n%w", err)
	}

	// Ask every validator to aggregate for this message.
	announce := aggregation.EncodeRoundAnnounce(&aggregation.RoundAnnounce{Message: message})
	if err := n.net.Broadcast(announce); err != nil {
		logger.Warn("announce broadcast incomplete", "error", err)
	}

	handle, err := n.startRound(message)
	if err != nil {
		return fmt.Errorf("start round:\n%w", err)
	}

	<-handle.Done()
	outcome := handle.Outcome()

	logger.Info("round outcome",
		"status", outcome.Status,
		"weight", outcome.Weight,
		"signers", outcome.Signers.Count(),
	)

	if outcome.Status == aggregation.StatusCompleted {
		fmt.Printf("aggregate signature: %s\n", hex.EncodeToString(outcome.Signature))
		fmt.Printf("covered weight: %d\n", outcome.Weight)
	}

	return nil
}

// startRound starts a round under local quorum policy and archives the
// proof when it completes.
func (n *Node) startRound(message []byte) (*aggregation.RoundHandle, error) {
	threshold := n.cfg.thresholdWeight(n.vs.TotalWeight())
	deadline := time.Now().Add(n.cfg.RoundTTL)

	handle, err := n.driver.StartRound(message, threshold, deadline)
	if err != nil {
		return nil, err
	}

	go n.archiveOutcome(handle, message)

	return handle, nil
}

// archiveOutcome persists the proof of a completed round.
func (n *Node) archiveOutcome(handle *aggregation.RoundHandle, message []byte) {
	<-handle.Done()
	outcome := handle.Outcome()

	if outcome.Status != aggregation.StatusCompleted {
		return
	}

	proof := &archive.Proof{
		RoundID:      [32]byte(handle.ID()),
		Message:      message,
		Signature:    outcome.Signature,
		Weight:       outcome.Weight,
		SignerBitmap: outcome.Signers.Bitmap(),
	}

	if err := n.archive.Put(proof); err != nil {
		logger.Error("archive proof failed", "error", err)
	}
}

// handleMessage routes inbound transport payloads.
func (n *Node) handleMessage(peer *network.Peer, data []byte) {
	msgType, err := aggregation.MessageType(data)
	if err != nil {
		return
	}

	switch msgType {
	case aggregation.MsgTypeRoundAnnounce:
		n.handleAnnounce(data)

	default:
		from := n.indexOfPeer(peer.PublicKey())
		if from < 0 {
			logger.Debug("message from unknown peer", "address", peer.Address())
			return
		}

		n.driver.HandleMessage(from, data)
	}
}

// handleAnnounce joins an announced round under local policy.
func (n *Node) handleAnnounce(data []byte) {
	announce, err := aggregation.DecodeRoundAnnounce(data)
	if err != nil {
		logger.Debug("malformed round announce", "error", err)
		return
	}

	if _, err := n.startRound(announce.Message); err != nil {
		if err != aggregation.ErrRoundExists {
			logger.Warn("join announced round failed", "error", err)
		}
	}
}

// indexOfPeer maps a transport identity to a validator index, or -1.
func (n *Node) indexOfPeer(pubkey ed25519.PublicKey) int {
	for i, e := range n.roster {
		if bytes.Equal(pubkey, e.NetKey) {
			return i
		}
	}

	return -1
}

// shutdown releases all node resources.
func (n *Node) shutdown() {
	n.driver.Close()
	n.net.Close()

	if err := n.archive.Close(); err != nil {
		logger.Error("close archive failed", "error", err)
	}
}

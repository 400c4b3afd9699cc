// Package aggregation implements Handel-style weighted multi-signature
// aggregation: validators are partitioned into exponentially growing
// peer levels, partial aggregates are gossiped and combined level by
// level, and a round terminates when the combined stake crosses the
// threshold or the deadline fires.
package aggregation

import (
	"fmt"
	"sync"
	"time"

	"QuorumMesh/internal/identity"
	"QuorumMesh/internal/logger"
)

// Sentinel errors surfaced to round consumers.
var (
	ErrDriverClosed = fmt.Errorf("driver closed")
	ErrRoundExists  = fmt.Errorf("round already running for this message")
)

// Config tunes the aggregation engine. Zero values take defaults.
type Config struct {
	// TickInterval is the dissemination scheduling period.
	TickInterval time.Duration

	// PeersPerTick is how many peers per level each tick covers.
	PeersPerTick int

	// SendBudgetPerTick caps total outbound sends per tick across all
	// levels, so large validator sets do not cause message storms.
	SendBudgetPerTick int

	// ResendCompletedEvery resends completed levels every Nth tick.
	ResendCompletedEvery int

	// StoreCapacity caps admitted contributions per round.
	StoreCapacity int

	// VerifyWorkers sizes the shared verification pool.
	VerifyWorkers int
}

// withDefaults fills unset config fields.
func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}

	if c.PeersPerTick <= 0 {
		c.PeersPerTick = 2
	}

	if c.SendBudgetPerTick <= 0 {
		c.SendBudgetPerTick = 32
	}

	if c.ResendCompletedEvery <= 0 {
		c.ResendCompletedEvery = 5
	}

	return c
}

// Driver orchestrates aggregation rounds for one validator. It owns the
// shared verification pool and the lifecycle of every round: rounds are
// created by StartRound and torn down when they complete, time out or
// are cancelled. Rounds are isolated; no round observes another's state.
type Driver struct {
	vs        *identity.ValidatorSet
	self      int
	crypto    Crypto
	transport Transport
	verifier  *VerifierPool
	cfg       Config

	rounds map[RoundID]*round
	mu     sync.RWMutex
	closed bool
}

// NewDriver creates a driver for the validator at the given index.
func NewDriver(vs *identity.ValidatorSet, self int, crypto Crypto, transport Transport, cfg Config) (*Driver, error) {
	if vs.Get(self) == nil {
		return nil, fmt.Errorf("self index %d not in validator set", self)
	}

	cfg = cfg.withDefaults()

	return &Driver{
		vs:        vs,
		self:      self,
		crypto:    crypto,
		transport: transport,
		verifier:  NewVerifierPool(cfg.VerifyWorkers),
		cfg:       cfg,
		rounds:    make(map[RoundID]*round),
	}, nil
}

// StartRound begins collecting signatures for a message until the
// threshold weight is covered or the deadline elapses. The returned
// handle exposes the continuously updated best aggregate and the
// terminal outcome.
func (d *Driver) StartRound(message []byte, threshold uint64, deadline time.Time) (*RoundHandle, error) {
	id := ComputeRoundID(message)

	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return nil, ErrDriverClosed
	}

	if _, exists := d.rounds[id]; exists {
		d.mu.Unlock()
		return nil, ErrRoundExists
	}

	r, err := newRound(
		message, d.vs, d.self, threshold, deadline,
		d.crypto, d.verifier, d.transport, d.cfg,
		d.removeRound,
	)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("create round:\n%w", err)
	}

	d.rounds[id] = r
	d.mu.Unlock()

	logger.Info("round started",
		"round", fmt.Sprintf("%x", id[:8]),
		"validators", d.vs.Len(),
		"threshold", threshold,
		"deadline", deadline.Format(time.RFC3339),
	)

	r.start()

	return &RoundHandle{round: r}, nil
}

// Round returns the handle for a running round, or nil.
func (d *Driver) Round(id RoundID) *RoundHandle {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if r, exists := d.rounds[id]; exists {
		return &RoundHandle{round: r}
	}

	return nil
}

// HandleMessage routes an inbound protocol payload from the validator
// at index from. Payloads for unknown rounds, or whose claimed sender
// does not match the transport identity, are dropped.
func (d *Driver) HandleMessage(from int, payload []byte) {
	msgType, err := MessageType(payload)
	if err != nil || msgType != MsgTypeLevelUpdate {
		return
	}

	update, err := DecodeLevelUpdate(payload)
	if err != nil {
		logger.Debug("malformed level update", "from", from, "error", err)
		return
	}

	if int(update.Sender) != from {
		logger.Debug("level update sender mismatch", "from", from, "claimed", update.Sender)
		return
	}

	d.mu.RLock()
	r, exists := d.rounds[update.RoundID]
	d.mu.RUnlock()

	if !exists {
		logger.Debug("update for unknown round", "round", fmt.Sprintf("%x", update.RoundID[:8]))
		return
	}

	r.postEvent(roundEvent{kind: evUpdate, update: update})
}

// Close cancels all running rounds and stops the verification pool.
func (d *Driver) Close() {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return
	}

	d.closed = true
	rounds := make([]*round, 0, len(d.rounds))

	for _, r := range d.rounds {
		rounds = append(rounds, r)
	}

	d.mu.Unlock()

	for _, r := range rounds {
		r.postEvent(roundEvent{kind: evCancel})
	}

	d.verifier.Close()
}

// removeRound drops a finished round's state, releasing its memory.
func (d *Driver) removeRound(id RoundID) {
	d.mu.Lock()
	delete(d.rounds, id)
	d.mu.Unlock()
}

package aggregation

import (
	"QuorumMesh/internal/logger"
)

// Transport is the send capability consumed by the engine: best-effort,
// unordered, no delivery guarantee. Losses are recovered by periodic
// resends, not acknowledgments.
type Transport interface {
	// Send delivers a payload to the validator at the given index.
	Send(to int, payload []byte) error
}

// outboundQueueSize bounds sends waiting on the transport. A full
// queue drops the send; the next tick reschedules the same payload.
const outboundQueueSize = 256

// outboundSend is one queued transport delivery.
type outboundSend struct {
	to      int
	payload []byte
}

// disseminator owns a round's send schedule: each tick it walks the
// levels, queues the current best combinable below each level for the
// next peers in that level's rotation, and enforces a global per-tick
// send budget so outbound volume stays bounded at scale. Transport
// writes happen on a dedicated goroutine so a slow or wedged peer
// never stalls the round actor.
type disseminator struct {
	transport      Transport
	roundID        [32]byte
	sender         uint16
	ownSignature   []byte
	store          *ContributionStore
	levels         []*levelState
	peersPerTick   int
	budgetPerTick  int
	completedEvery int // completed levels resend every Nth tick only
	ticks          int

	outbound chan outboundSend
	quit     chan struct{}
}

// newDisseminator creates the send scheduler for one round.
func newDisseminator(
	transport Transport,
	roundID [32]byte,
	sender uint16,
	ownSignature []byte,
	store *ContributionStore,
	levels []*levelState,
	cfg Config,
) *disseminator {
	return &disseminator{
		transport:      transport,
		roundID:        roundID,
		sender:         sender,
		ownSignature:   ownSignature,
		store:          store,
		levels:         levels,
		peersPerTick:   cfg.PeersPerTick,
		budgetPerTick:  cfg.SendBudgetPerTick,
		completedEvery: cfg.ResendCompletedEvery,
		outbound:       make(chan outboundSend, outboundQueueSize),
		quit:           make(chan struct{}),
	}
}

// start launches the sender goroutine.
func (d *disseminator) start() {
	go d.sendLoop()
}

// stop ends the sender goroutine. An in-flight transport write is not
// interrupted; queued sends behind it are discarded.
func (d *disseminator) stop() {
	close(d.quit)
}

// sendLoop drains the outbound queue onto the transport.
func (d *disseminator) sendLoop() {
	for {
		select {
		case send := <-d.outbound:
			if err := d.transport.Send(send.to, send.payload); err != nil {
				logger.Debug("send failed", "peer", send.to, "error", err)
			}

		case <-d.quit:
			return
		}
	}
}

// enqueue hands a send to the sender goroutine without blocking.
func (d *disseminator) enqueue(to int, payload []byte) {
	select {
	case d.outbound <- outboundSend{to: to, payload: payload}:
	default:
		logger.Debug("outbound queue full, dropping send", "peer", to)
	}
}

// tick performs one scheduled dissemination pass.
func (d *disseminator) tick() {
	d.ticks++
	budget := d.budgetPerTick

	for _, level := range d.levels {
		if budget <= 0 {
			return
		}

		// Completed levels only get occasional resends for slow peers.
		if level.status == LevelComplete && d.ticks%d.completedEvery != 0 {
			continue
		}

		payload := d.store.BestBelow(level.level)
		if payload == nil {
			continue
		}

		update, err := EncodeLevelUpdate(&LevelUpdate{
			RoundID:        d.roundID,
			Level:          uint8(level.level),
			Sender:         d.sender,
			SignerBitmap:   payload.Signers.Bitmap(),
			AggSignature:   payload.Signature,
			IndivSignature: d.ownSignature,
		})
		if err != nil {
			logger.Warn("encode level update failed", "level", level.level, "error", err)
			continue
		}

		k := d.peersPerTick
		if k > budget {
			k = budget
		}

		for _, peer := range level.nextPeers(k) {
			d.enqueue(peer, update)
			budget--
		}
	}
}

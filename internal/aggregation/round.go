package aggregation

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"QuorumMesh/internal/identity"
	"QuorumMesh/internal/logger"
)

// RoundID identifies one aggregation round: BLAKE3 of the message.
type RoundID [32]byte

// ComputeRoundID derives the round identifier from the signed message.
func ComputeRoundID(message []byte) RoundID {
	return blake3.Sum256(message)
}

// OutcomeStatus is the terminal state of a round.
type OutcomeStatus int

const (
	// StatusCompleted means the threshold weight was reached.
	StatusCompleted OutcomeStatus = iota

	// StatusTimedOut means the deadline elapsed below threshold.
	// The outcome still carries the best partial aggregate.
	StatusTimedOut

	// StatusCancelled means the consumer cancelled the round.
	StatusCancelled
)

// String returns a short name for logging.
func (s OutcomeStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusTimedOut:
		return "timed-out"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a round, carrying the best known
// aggregate regardless of how the round ended.
type Outcome struct {
	Status    OutcomeStatus // Status is how the round ended
	Signature []byte        // Signature is the best aggregate signature
	Weight    uint64        // Weight is the stake covered by the aggregate
	Signers   SignerSet     // Signers are the covered validator indices
}

// Best is a snapshot of the round's best known aggregate.
type Best struct {
	Signature []byte    // Signature is the aggregate signature
	Weight    uint64    // Weight is the covered stake
	Signers   SignerSet // Signers are the covered validator indices
}

// roundEvent is one message into the round actor.
type roundEvent struct {
	kind     eventKind
	update   *LevelUpdate
	verified VerifyResult
}

type eventKind int

const (
	evUpdate eventKind = iota
	evVerified
	evCancel
)

// roundEventBuffer sizes the actor's inbox.
const roundEventBuffer = 1024

// round runs one aggregation round as a single-goroutine actor: inbound
// updates, verification completions, dissemination ticks and the
// deadline all serialize through one event loop, which is the only
// writer of the store and level states.
type round struct {
	id        RoundID
	message   []byte
	vs        *identity.ValidatorSet
	self      int
	threshold uint64
	deadline  time.Time
	cfg       Config

	crypto   Crypto
	verifier *VerifierPool
	store    *ContributionStore
	part     *Partitioner
	levels   []*levelState // ascending, only levels present for self
	byLevel  []*levelState // indexed by level number, nil gaps
	diss     *disseminator

	events    chan roundEvent
	done      chan struct{}
	outcome   atomic.Pointer[Outcome]
	finishOne sync.Once
	best      atomic.Pointer[Best]

	storeFullWarned bool
	onFinish        func(RoundID)
}

// newRound assembles a round's state. start() must be called to run it.
func newRound(
	message []byte,
	vs *identity.ValidatorSet,
	self int,
	threshold uint64,
	deadline time.Time,
	crypto Crypto,
	verifier *VerifierPool,
	transport Transport,
	cfg Config,
	onFinish func(RoundID),
) (*round, error) {
	if threshold == 0 {
		return nil, fmt.Errorf("threshold weight must be positive")
	}

	if threshold > vs.TotalWeight() {
		return nil, fmt.Errorf("threshold %d exceeds total weight %d", threshold, vs.TotalWeight())
	}

	part, err := NewPartitioner(self, vs.Len())
	if err != nil {
		return nil, fmt.Errorf("partition validator set:\n%w", err)
	}

	id := ComputeRoundID(message)

	r := &round{
		id:        id,
		message:   message,
		vs:        vs,
		self:      self,
		threshold: threshold,
		deadline:  deadline,
		cfg:       cfg,
		crypto:    crypto,
		verifier:  verifier,
		store:     NewContributionStore(vs, crypto, part.MaxLevel(), cfg.StoreCapacity),
		part:      part,
		byLevel:   make([]*levelState, part.MaxLevel()+1),
		events:    make(chan roundEvent, roundEventBuffer),
		done:      make(chan struct{}),
		onFinish:  onFinish,
	}

	seed := [32]byte(id)

	for _, l := range part.Levels() {
		state := newLevelState(part, vs, l, seed)
		r.levels = append(r.levels, state)
		r.byLevel[l] = state
	}

	ownSig := crypto.Sign(message)
	r.diss = newDisseminator(transport, id, uint16(self), ownSig, r.store, r.levels, cfg)

	// Seed level 0 with our own signature so the best aggregate is
	// never empty, even on an immediate timeout.
	own := Contribution{Level: 0, Signers: SignerSetOf(vs.Len(), self), Signature: ownSig}
	if _, err := r.store.Put(own); err != nil {
		return nil, fmt.Errorf("seed own contribution:\n%w", err)
	}

	r.updateBest()

	return r, nil
}

// start launches the actor goroutine.
func (r *round) start() {
	go r.run()
}

// run is the actor loop. It owns all round state mutation.
func (r *round) run() {
	r.diss.start()
	defer r.diss.stop()

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	deadlineTimer := time.NewTimer(time.Until(r.deadline))
	defer deadlineTimer.Stop()

	// Threshold may already hold with our own weight alone.
	if r.thresholdReached() {
		r.finish(StatusCompleted)
		return
	}

	for {
		select {
		case <-ticker.C:
			r.diss.tick()

		case <-deadlineTimer.C:
			r.finish(StatusTimedOut)
			return

		case ev := <-r.events:
			switch ev.kind {
			case evCancel:
				r.finish(StatusCancelled)
				return

			case evUpdate:
				r.handleUpdate(ev.update)

			case evVerified:
				r.handleVerified(ev.verified)

				if r.thresholdReached() {
					r.finish(StatusCompleted)
					return
				}
			}
		}
	}
}

// postEvent delivers an event to the actor without ever blocking.
// Events arriving after the actor exited, or beyond the inbox capacity,
// are dropped; periodic resends recover anything that mattered.
func (r *round) postEvent(ev roundEvent) {
	select {
	case r.events <- ev:
	default:
		logger.Debug("round inbox full, dropping event", "round", fmt.Sprintf("%x", r.id[:8]))
	}
}

// handleUpdate runs the cheap plausibility checks on an inbound level
// update and schedules the expensive signature verification off the
// actor's critical path.
func (r *round) handleUpdate(u *LevelUpdate) {
	level := int(u.Level)

	state := r.levelFor(level)
	if state == nil {
		logger.Debug("update for unknown level", "level", level)
		return
	}

	sender := int(u.Sender)
	if !state.expected.Test(sender) {
		logger.Debug("update from peer outside level", "level", level, "sender", sender)
		return
	}

	signers, err := SignerSetFromBitmap(u.SignerBitmap, r.vs.Len())
	if err != nil {
		logger.Debug("malformed signer bitmap", "level", level, "error", err)
		return
	}

	agg := Contribution{Level: level, Signers: signers, Signature: u.AggSignature}
	r.scheduleVerify(agg, state)

	if len(u.IndivSignature) > 0 {
		indiv := Contribution{
			Level:     level,
			Signers:   SignerSetOf(r.vs.Len(), sender),
			Signature: u.IndivSignature,
		}
		r.scheduleVerify(indiv, state)
	}
}

// scheduleVerify submits a contribution to the verifier pool unless it
// cannot improve on what the store already holds.
func (r *round) scheduleVerify(c Contribution, state *levelState) {
	if current := r.store.BestForLevel(c.Level); current != nil && !c.betterThan(*current, r.vs) {
		return
	}

	r.verifier.Submit(c, r.message, state.expected, r.crypto, func(res VerifyResult) {
		r.postEvent(roundEvent{kind: evVerified, verified: res})
	})
}

// handleVerified admits a verified contribution and advances level state.
func (r *round) handleVerified(res VerifyResult) {
	if res.Outcome != VerifyOK {
		logger.Debug("contribution rejected",
			"round", fmt.Sprintf("%x", r.id[:8]),
			"level", res.Contribution.Level,
			"reason", res.Outcome,
		)
		return
	}

	improved, err := r.store.Put(res.Contribution)
	if err != nil {
		if err == ErrStoreFull {
			r.warnStoreFull()
		} else {
			logger.Debug("contribution not admitted", "error", err)
		}

		return
	}

	if !improved {
		return
	}

	state := r.levelFor(res.Contribution.Level)
	if state != nil && state.observe(r.store.BestForLevel(state.level), r.vs) {
		logger.Debug("level advanced",
			"round", fmt.Sprintf("%x", r.id[:8]),
			"level", state.level,
			"status", state.status,
		)
	}

	r.updateBest()
}

// updateBest refreshes the atomic best snapshot from the store. The
// published weight never decreases for the lifetime of the round.
func (r *round) updateBest() {
	bc := r.store.BestCombinable()
	if bc == nil {
		return
	}

	snapshot := &Best{
		Signature: bc.Signature,
		Weight:    bc.Weight(r.vs),
		Signers:   bc.Signers.Clone(),
	}

	if current := r.best.Load(); current != nil && current.Weight >= snapshot.Weight {
		return
	}

	r.best.Store(snapshot)
}

// thresholdReached reports whether the best aggregate covers the
// round's threshold weight.
func (r *round) thresholdReached() bool {
	best := r.best.Load()
	return best != nil && best.Weight >= r.threshold
}

// finish records the outcome exactly once and closes done, so every
// waiter observes the terminal state no matter how many there are.
func (r *round) finish(status OutcomeStatus) {
	r.finishOne.Do(func() {
		outcome := Outcome{Status: status}

		if best := r.best.Load(); best != nil {
			outcome.Signature = best.Signature
			outcome.Weight = best.Weight
			outcome.Signers = best.Signers
		}

		logger.Info("round finished",
			"round", fmt.Sprintf("%x", r.id[:8]),
			"status", status,
			"weight", outcome.Weight,
			"threshold", r.threshold,
			"signers", outcome.Signers.Count(),
		)

		r.outcome.Store(&outcome)
		close(r.done)

		if r.onFinish != nil {
			r.onFinish(r.id)
		}
	})
}

// levelFor returns the level state for a level number, or nil.
func (r *round) levelFor(level int) *levelState {
	if level < 1 || level >= len(r.byLevel) {
		return nil
	}

	return r.byLevel[level]
}

// warnStoreFull logs the capacity condition once per round.
func (r *round) warnStoreFull() {
	if r.storeFullWarned {
		return
	}

	r.storeFullWarned = true
	logger.Warn("contribution store full, rejecting further admissions",
		"round", fmt.Sprintf("%x", r.id[:8]),
	)
}

// RoundHandle is the consumer's view of a running round.
type RoundHandle struct {
	round *round
}

// ID returns the round identifier.
func (h *RoundHandle) ID() RoundID {
	return h.round.id
}

// Best returns the best known aggregate at this instant. The covered
// weight is monotonically non-decreasing over the round's lifetime.
func (h *RoundHandle) Best() Best {
	if best := h.round.best.Load(); best != nil {
		return *best
	}

	return Best{}
}

// Done returns a channel closed when the round reaches its terminal
// state. Any number of waiters may block on it; all of them wake.
func (h *RoundHandle) Done() <-chan struct{} {
	return h.round.done
}

// Outcome returns the round's terminal outcome. It is the zero Outcome
// until Done is closed.
func (h *RoundHandle) Outcome() Outcome {
	if o := h.round.outcome.Load(); o != nil {
		return *o
	}

	return Outcome{}
}

// Cancel stops the round. Verification scheduling and dissemination
// cease promptly; in-flight network sends are not recalled.
func (h *RoundHandle) Cancel() {
	h.round.postEvent(roundEvent{kind: evCancel})
}

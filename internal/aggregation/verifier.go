package aggregation

import (
	"runtime"
	"sync"

	"QuorumMesh/internal/logger"
)

// VerifyOutcome classifies the result of contribution verification.
type VerifyOutcome int

const (
	// VerifyOK means the contribution is cryptographically valid.
	VerifyOK VerifyOutcome = iota

	// RejectEmptySigners means the signer set was empty.
	RejectEmptySigners

	// RejectUnknownSigner means the signer set was not a subset of the
	// level's expected peer range.
	RejectUnknownSigner

	// RejectForged means the signature failed verification against the
	// signer set's aggregated public key.
	RejectForged
)

// String returns a short name for logging.
func (o VerifyOutcome) String() string {
	switch o {
	case VerifyOK:
		return "ok"
	case RejectEmptySigners:
		return "empty-signers"
	case RejectUnknownSigner:
		return "unknown-signer"
	case RejectForged:
		return "forged"
	default:
		return "unknown"
	}
}

// VerifyResult pairs a contribution with its verification outcome.
type VerifyResult struct {
	Contribution Contribution
	Outcome      VerifyOutcome
}

// verifyJob is one pending verification.
type verifyJob struct {
	contribution Contribution
	message      []byte
	expected     SignerSet
	crypto       Crypto
	done         func(VerifyResult)
}

// VerifierPool runs contribution verification on a fixed set of worker
// goroutines, off the round actor's critical path. The pool is shared
// between all concurrent rounds; results are delivered asynchronously
// through each job's callback.
type VerifierPool struct {
	jobs chan verifyJob
	quit chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewVerifierPool starts a pool with the given number of workers.
// Zero or negative workers means one per CPU.
func NewVerifierPool(workers int) *VerifierPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &VerifierPool{
		jobs: make(chan verifyJob, 4*workers),
		quit: make(chan struct{}),
	}

	p.wg.Add(workers)

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Submit queues a contribution for verification. Returns false if the
// pool's queue is full, in which case the contribution is dropped; the
// sender will retransmit it on its next dissemination tick.
func (p *VerifierPool) Submit(c Contribution, message []byte, expected SignerSet, crypto Crypto, done func(VerifyResult)) bool {
	job := verifyJob{
		contribution: c,
		message:      message,
		expected:     expected,
		crypto:       crypto,
		done:         done,
	}

	select {
	case p.jobs <- job:
		return true
	default:
		logger.Debug("verifier queue full, dropping contribution", "level", c.Level)
		return false
	}
}

// Close stops the workers. Jobs still queued are abandoned; the jobs
// channel is never closed so late submissions cannot panic, they are
// simply dropped once no worker remains.
func (p *VerifierPool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})

	p.wg.Wait()
}

// worker verifies queued contributions until the pool closes.
func (p *VerifierPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return

		case job := <-p.jobs:
			result := VerifyResult{
				Contribution: job.contribution,
				Outcome:      verify(job),
			}

			job.done(result)
		}
	}
}

// verify runs the full check sequence for one contribution.
func verify(job verifyJob) VerifyOutcome {
	signers := job.contribution.Signers

	if signers.IsEmpty() {
		return RejectEmptySigners
	}

	if !signers.SubsetOf(job.expected) {
		return RejectUnknownSigner
	}

	if !job.crypto.VerifyAggregate(signers, job.message, job.contribution.Signature) {
		return RejectForged
	}

	return VerifyOK
}

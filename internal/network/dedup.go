package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// dedupWindow is how long a payload hash suppresses duplicates.
	// It must exceed the dissemination tick so periodic resends of an
	// unchanged aggregate collapse to one delivery.
	dedupWindow = 5 * time.Second

	// dedupSweepInterval is how often expired hashes are dropped.
	dedupSweepInterval = time.Second
)

// Dedup collapses repeated payloads on the receive path. The
// aggregation protocol resends its current best on every tick; a
// payload only carries new information when its bytes changed, so
// identical bytes within the window are discarded before they reach
// the round actors.
type Dedup struct {
	mu      sync.Mutex
	expires map[[32]byte]time.Time // payload hash -> suppression deadline
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewDedup creates the tracker and starts its sweep goroutine.
func NewDedup() *Dedup {
	d := &Dedup{
		expires: make(map[[32]byte]time.Time),
		stop:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.sweepLoop()

	return d
}

// Check reports whether the payload is new inside the current window,
// recording it if so.
func (d *Dedup) Check(data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if deadline, seen := d.expires[hash]; seen && now.Before(deadline) {
		return false
	}

	d.expires[hash] = now.Add(dedupWindow)

	return true
}

// Close stops the sweep goroutine.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

// sweepLoop periodically drops expired hashes so the map stays bounded
// by the recent message rate.
func (d *Dedup) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(dedupSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()

			d.mu.Lock()
			for hash, deadline := range d.expires {
				if now.After(deadline) {
					delete(d.expires, hash)
				}
			}
			d.mu.Unlock()

		case <-d.stop:
			return
		}
	}
}

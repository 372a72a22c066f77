package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is how long a frame hash is remembered.
	defaultDedupTTL = 5 * time.Second

	// dedupSweepInterval is the interval between expiry sweeps.
	dedupSweepInterval = time.Second
)

// Dedup drops frames already received within a TTL.
// Frames are keyed by their blake3 hash.
type Dedup struct {
	mu   sync.Mutex             // mu guards seen
	seen map[[32]byte]time.Time // seen maps frame hash to first receipt
	ttl  time.Duration          // ttl is the memory of a hash
	stop chan struct{}          // stop ends the sweeper
	wg   sync.WaitGroup         // wg joins the sweeper
}

// NewDedup creates a tracker with the default TTL.
func NewDedup() *Dedup {
	return NewDedupTTL(defaultDedupTTL)
}

// NewDedupTTL creates a tracker remembering frames for ttl.
func NewDedupTTL(ttl time.Duration) *Dedup {
	d := &Dedup{
		seen: make(map[[32]byte]time.Time),
		ttl:  ttl,
		stop: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.sweepLoop()

	return d
}

// Check records frame and reports whether it is new.
func (d *Dedup) Check(frame []byte) bool {
	hash := blake3.Sum256(frame)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[hash]; ok && now.Sub(at) < d.ttl {
		return false
	}

	d.seen[hash] = now

	return true
}

// Len returns the number of remembered hashes.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}

// Close stops the sweeper.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

// sweepLoop periodically forgets expired hashes.
func (d *Dedup) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(dedupSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep(time.Now())
		case <-d.stop:
			return
		}
	}
}

// sweep removes hashes older than the TTL at now.
func (d *Dedup) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for hash, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, hash)
		}
	}
}

package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// defaultDedupTTL is how long a seen frame suppresses its duplicates.
const defaultDedupTTL = 2 * time.Minute

// Dedup drops frames already seen within the TTL.
// Hashes live in two generations rotated every TTL, so an entry is
// remembered for at least one TTL and at most two.
type Dedup struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	rotated  time.Time
	current  map[[32]byte]struct{}
	previous map[[32]byte]struct{}
}

// NewDedup creates a tracker; a non-positive ttl selects the default.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	return &Dedup{
		ttl:      ttl,
		now:      time.Now,
		rotated:  time.Now(),
		current:  make(map[[32]byte]struct{}),
		previous: make(map[[32]byte]struct{}),
	}
}

// Check reports whether data is new and records it if so.
func (d *Dedup) Check(data []byte) bool {
	hash := blake3.Sum256(data)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.rotate()

	if _, ok := d.current[hash]; ok {
		return false
	}

	if _, ok := d.previous[hash]; ok {
		return false
	}

	d.current[hash] = struct{}{}

	return true
}

// Len returns the number of remembered hashes.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rotate()

	return len(d.current) + len(d.previous)
}

// rotate ages generations out. Callers hold mu.
func (d *Dedup) rotate() {
	now := d.now()
	elapsed := now.Sub(d.rotated)

	if elapsed < d.ttl {
		return
	}

	if elapsed >= 2*d.ttl {
		d.previous = make(map[[32]byte]struct{})
	} else {
		d.previous = d.current
	}

	d.current = make(map[[32]byte]struct{})
	d.rotated = now
}

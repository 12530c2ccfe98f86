// Package clock implements the Clock & Barrier subsystem: a
// virtual clock with single-owner time advancement, a lock-free-readable
// availability bitmap, and the two-phase reusable barrier that drives every
// participant through identical virtual instants.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Mode selects how the clock computes its next virtual instant.
type Mode int

// Recognized modes
const (
	ModeTick Mode = iota
	ModeMinute
)

// Clock holds the engine's single virtual-time cursor and the per-symbol
// data-availability bitmap for the instant it currently points at.
//
// Time advancement is single-owner: only the Barrier ever calls publish,
// always under the barrier's lock, from the last arrival's Sync or from a
// Leave that completes the generation.
// Reads of Now and HasDataAt never block: bitmap is a double-buffered
// atomic pointer, so an in-flight reader always sees a complete, consistent
// snapshot even while the next one is being published.
type Clock struct {
	mu          sync.Mutex
	currentTime atomic.Pointer[time.Time]
	bitmap      atomic.Pointer[map[string]bool]
}

// New creates a Clock positioned at start with an empty availability map.
func New(start time.Time) *Clock {
	c := &Clock{}
	c.currentTime.Store(&start)
	empty := map[string]bool{}
	c.bitmap.Store(&empty)
	return c
}

// Now returns the current virtual instant. Safe for concurrent, lock-free
// reads from any participant.
func (c *Clock) Now() time.Time {
	return *c.currentTime.Load()
}

// HasDataAt reports whether symbol has data at the current instant,
// answered from the just-published availability bitmap without blocking on
// the clock's write lock.
func (c *Clock) HasDataAt(symbol string) bool {
	m := c.bitmap.Load()
	return (*m)[symbol]
}

// publish advances the clock to t with the new availability snapshot.
// Called only by the Barrier while b.mu is held (by the last arrival in Sync,
// or by a Leave that completes the generation), which is what keeps time
// advancement single-writer; mu here
// additionally protects currentTime against a concurrent Now() observing a
// torn intermediate value on platforms without atomic 128-bit time.Time
// stores (atomic.Pointer already makes this safe, but
// the lock documents and enforces single-writer intent).
func (c *Clock) publish(t time.Time, avail map[string]bool) {
	c.mu.Lock()
	c.currentTime.Store(&t)
	c.mu.Unlock()
	c.bitmap.Store(&avail)
}

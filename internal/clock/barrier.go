package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAborted is returned by Sync once the barrier has been aborted, and by
// any participant already waiting when the abort happens.
var ErrAborted = errors.New("clock: barrier aborted")

// ErrSyncTimeout is returned when a participant's Sync call does not clear
// within the supplied timeout, usually because a strategy or monitor
// goroutine has stalled. The driver treats it as grounds to abort the run.
var ErrSyncTimeout = errors.New("clock: barrier sync timed out")

// AdvanceFunc computes the next virtual instant and the availability bitmap
// for it. ok is false once the data sources feeding the advance are
// exhausted; the barrier then aborts every waiting and future participant.
type AdvanceFunc func() (next time.Time, availability map[string]bool, ok bool)

// Barrier is a two-phase reusable barrier: every
// participant calls Sync once per virtual instant; the barrier releases all
// of them together only after the last arrival has advanced the clock.
//
// participants = number of symbol workers, plus one when a position
// monitor joins.
type Barrier struct {
	mu           sync.Mutex
	participants int
	arrived      int
	generation   uint64
	genDone      chan struct{}
	aborted      bool

	clock   *Clock
	advance AdvanceFunc
}

// NewBarrier constructs a Barrier driving clock via advance, sized for
// participants concurrent callers of Sync.
func NewBarrier(participants int, clock *Clock, advance AdvanceFunc) *Barrier {
	return &Barrier{
		participants: participants,
		genDone:      make(chan struct{}),
		clock:        clock,
		advance:      advance,
	}
}

// Sync blocks the calling participant until every other participant has
// also called Sync for the current virtual instant, then returns once the
// clock has advanced to the next instant. The last arriving participant
// performs the advance itself, inline, before waking the others. This is
// what makes time advancement single-owner.
func (b *Barrier) Sync(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if b.aborted {
		b.mu.Unlock()
		return ErrAborted
	}
	done := b.genDone
	b.arrived++

	if b.arrived == b.participants {
		b.releaseLocked(done)
		aborted := b.aborted
		b.mu.Unlock()
		if aborted {
			return ErrAborted
		}
		return nil
	}
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		b.mu.Lock()
		aborted := b.aborted
		b.mu.Unlock()
		if aborted {
			return ErrAborted
		}
		return nil
	case <-timer.C:
		return ErrSyncTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave removes the calling participant from future generations, used
// when a symbol's data source is exhausted early but the run continues for
// the rest. If every remaining participant had already arrived for the
// current generation, the departure itself completes that generation.
func (b *Barrier) Leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.participants > 0 {
		b.participants--
	}
	if b.participants > 0 && b.arrived == b.participants {
		b.releaseLocked(b.genDone)
	}
}

// releaseLocked performs the advance and wakes every waiter for the current
// generation. Caller must hold b.mu.
func (b *Barrier) releaseLocked(done chan struct{}) {
	next, avail, ok := b.advance()
	if ok {
		b.clock.publish(next, avail)
	} else {
		b.aborted = true
	}
	b.arrived = 0
	b.generation++
	b.genDone = make(chan struct{})
	close(done)
}

// Generation returns the barrier's current phase counter, useful for tests
// and diagnostics.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

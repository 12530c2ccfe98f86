package tickstream

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// heapItem is one source's current head tick, ordered for the k-way merge.
type heapItem struct {
	tick        marketdata.Tick
	sourceIndex int
}

// tickHeap orders by (time, sourceIndex), the deterministic tie break
// between symbols observed at the identical instant.
type tickHeap []heapItem

func (h tickHeap) Len() int { return len(h) }
func (h tickHeap) Less(i, j int) bool {
	if !h[i].tick.Time.Equal(h[j].tick.Time) {
		return h[i].tick.Time.Before(h[j].tick.Time)
	}
	return h[i].sourceIndex < h[j].sourceIndex
}
func (h tickHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *tickHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *tickHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// tickSource is one symbol's ordered tick supply feeding the merge: lazy
// per-day file readers (daySource) or a pre-loaded slice (memSource).
type tickSource interface {
	estimate() (int64, error)
	peek() (marketdata.Tick, bool, error)
	advance()
}

// Stream is a single-pass, not-restartable global chronological iterator over every configured symbol's tick data.
type Stream struct {
	sources   []tickSource
	h         tickHeap
	produced  int64
	estimated int64
	lastTime  time.Time
	hasLast   bool
}

// Open builds a Stream over symbols for the UTC days in r, reading tt-type
// ticks from cache. Symbols are assigned source indices in sorted order so
// the same-instant tie-break by (symbol, source index) is reproducible
// across runs. Callers must have already repaired every day via DataLoader;
// Open does not fetch; it only reads what DayCache already has.
func Open(cache *daycache.DayCache, symbols []string, r marketdata.TimeRange, tt marketdata.TickType, chunkSize int) (*Stream, error) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	days := r.Days()

	sources := make([]tickSource, 0, len(sorted))
	for _, sym := range sorted {
		sources = append(sources, newDaySource(cache, sym, days, tt, chunkSize))
	}
	return open(sources)
}

// FromFrames builds an eager Stream over pre-loaded per-symbol tick frames,
// the delivery mode selected when stream_ticks_from_disk is off. Frames are
// ordered by symbol so source indices (and thus same-instant tie-breaks)
// match what Open would assign.
func FromFrames(frames ...marketdata.TickFrame) (*Stream, error) {
	sorted := append([]marketdata.TickFrame(nil), frames...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	sources := make([]tickSource, 0, len(sorted))
	for _, f := range sorted {
		sources = append(sources, &memSource{ticks: f.Ticks})
	}
	return open(sources)
}

func open(sources []tickSource) (*Stream, error) {
	s := &Stream{sources: sources}
	for _, src := range sources {
		n, err := src.estimate()
		if err != nil {
			return nil, err
		}
		s.estimated += n
	}

	heap.Init(&s.h)
	for i, src := range s.sources {
		t, ok, err := src.peek()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(&s.h, heapItem{tick: t, sourceIndex: i})
		}
	}
	return s, nil
}

// Next returns the globally next chronological tick, or ok=false once every
// source is exhausted. Every emitted tick's time is at or after the
// previously emitted tick's time.
func (s *Stream) Next() (marketdata.Tick, bool, error) {
	if s.h.Len() == 0 {
		return marketdata.Tick{}, false, nil
	}
	item := heap.Pop(&s.h).(heapItem)
	t := item.tick

	if s.hasLast && t.Time.Before(s.lastTime) {
		return marketdata.Tick{}, false, fmt.Errorf("tickstream: non-monotonic tick for %s at %v after %v", t.Symbol, t.Time, s.lastTime)
	}
	s.lastTime = t.Time
	s.hasLast = true
	s.produced++

	src := s.sources[item.sourceIndex]
	src.advance()
	if next, ok, err := src.peek(); err != nil {
		return marketdata.Tick{}, false, err
	} else if ok {
		heap.Push(&s.h, heapItem{tick: next, sourceIndex: item.sourceIndex})
	}
	return t, true, nil
}

// Progress returns the approximate (produced, estimated) tick counts.
func (s *Stream) Progress() (produced, estimated int64) {
	return s.produced, s.estimated
}

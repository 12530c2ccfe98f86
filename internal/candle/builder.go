package candle

import (
	"sync"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// defaultMaxRing caps ring-buffer growth for a (symbol, TF) pair that has
// never had Tail called with a count yet.
const defaultMaxRing = 5000

type seriesKey struct {
	symbol string
	tf     marketdata.Timeframe
}

// series holds one (symbol, timeframe) pair's ring of closed bars, its
// in-progress partial bar, and the monotonic close-generation counter that
// invalidates cached tail views.
type series struct {
	closed     []marketdata.Bar // ring, oldest first
	maxLen     int
	partial    *marketdata.Bar
	generation uint64
}

func (s *series) onTick(t marketdata.Tick, tf marketdata.Timeframe) {
	bucket := marketdata.AlignTime(t.Time, tf)
	price := t.Price()

	if s.partial == nil || !s.partial.StartTime.Equal(bucket) {
		if s.partial != nil {
			s.pushClosed(*s.partial)
		}
		s.partial = &marketdata.Bar{
			StartTime:  bucket,
			Open:       price,
			High:       price,
			Low:        price,
			Close:      price,
			TickVolume: 1,
		}
		return
	}
	if price > s.partial.High {
		s.partial.High = price
	}
	if price < s.partial.Low {
		s.partial.Low = price
	}
	s.partial.Close = price
	s.partial.TickVolume++
}

func (s *series) pushClosed(b marketdata.Bar) {
	s.closed = append(s.closed, b)
	max := s.maxLen
	if max <= 0 {
		max = defaultMaxRing
	}
	if len(s.closed) > max {
		s.closed = s.closed[len(s.closed)-max:]
	}
	s.generation++
}

// tailView is a cached read-only snapshot, keyed by (series generation,
// count) so repeat queries within one tick return the identical slice.
type tailView struct {
	generation uint64
	count      int
	bars       []marketdata.Bar
}

// Builder maintains per-(symbol, timeframe) bar series. It builds only the pairs
// strategies actually request, and caches the last materialized tail view
// per tuple until the next bar close invalidates it.
type Builder struct {
	mu       sync.RWMutex
	series   map[seriesKey]*series
	views    map[seriesKey]*tailView
	wantedTF map[string]map[marketdata.Timeframe]bool
}

// NewBuilder constructs an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		series:   make(map[seriesKey]*series),
		views:    make(map[seriesKey]*tailView),
		wantedTF: make(map[string]map[marketdata.Timeframe]bool),
	}
}

// Subscribe declares that a strategy needs timeframe tf for symbol. Bars
// are built only for subscribed (symbol, TF) pairs.
func (b *Builder) Subscribe(symbol string, tf marketdata.Timeframe) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wantedTF[symbol] == nil {
		b.wantedTF[symbol] = make(map[marketdata.Timeframe]bool)
	}
	b.wantedTF[symbol][tf] = true
	key := seriesKey{symbol, tf}
	if _, ok := b.series[key]; !ok {
		b.series[key] = &series{}
	}
}

// OnTick feeds t into every timeframe subscribed for its symbol.
func (b *Builder) OnTick(t marketdata.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tf := range b.wantedTF[t.Symbol] {
		key := seriesKey{t.Symbol, tf}
		s := b.series[key]
		if s == nil {
			s = &series{}
			b.series[key] = s
		}
		s.onTick(t, tf)
	}
}

// Tail returns the last count closed bars for (symbol, tf), reusing the
// cached view when the series hasn't closed a new bar since the view was
// built, via the usual RLock-check then Lock-populate sequence.
// Invalidation is driven by the bar-close generation counter rather than a
// TTL, since views only go stale when a bar closes.
func (b *Builder) Tail(symbol string, tf marketdata.Timeframe, count int) []marketdata.Bar {
	key := seriesKey{symbol, tf}

	b.mu.RLock()
	s := b.series[key]
	if s == nil {
		b.mu.RUnlock()
		return nil
	}
	if v, ok := b.views[key]; ok && v.generation == s.generation && v.count == count {
		bars := v.bars
		b.mu.RUnlock()
		return bars
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	s = b.series[key]
	if s == nil {
		return nil
	}
	if v, ok := b.views[key]; ok && v.generation == s.generation && v.count == count {
		return v.bars
	}
	if count > s.maxLen {
		s.maxLen = count
	}
	n := count
	if n > len(s.closed) {
		n = len(s.closed)
	}
	bars := make([]marketdata.Bar, n)
	copy(bars, s.closed[len(s.closed)-n:])
	b.views[key] = &tailView{generation: s.generation, count: count, bars: bars}
	return bars
}

// Partial returns the in-progress (still-open) bar for (symbol, tf), or
// false if no tick has been seen yet for that pair.
func (b *Builder) Partial(symbol string, tf marketdata.Timeframe) (marketdata.Bar, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.series[seriesKey{symbol, tf}]
	if s == nil || s.partial == nil {
		return marketdata.Bar{}, false
	}
	return *s.partial, true
}

// Package tickstream implements a global, chronologically merged tick
// sequence across all configured symbols with
// bounded memory, built as a k-way merge over per-symbol day-file readers.
package tickstream

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// daySource lazily reads one symbol's per-day tick files in order, decoding
// one whole day-file at a time and serving its ticks one by one until it is
// drained. chunkSize does not window the decoded day: a source holds up to
// one full day of ticks in memory, however small chunkSize is.
type daySource struct {
	cache     *daycache.DayCache
	symbol    string
	days      []time.Time
	tt        marketdata.TickType
	chunkSize int

	dayIdx int
	buf    []marketdata.Tick
	bufPos int
	seq    uint64
}

func newDaySource(cache *daycache.DayCache, symbol string, days []time.Time, tt marketdata.TickType, chunkSize int) *daySource {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &daySource{cache: cache, symbol: symbol, days: days, tt: tt, chunkSize: chunkSize}
}

// estimate sums row_count metadata across every day this source will read,
// falling back to 0 (no estimate) for days lacking metadata.
func (s *daySource) estimate() (int64, error) {
	var total int64
	for _, d := range s.days {
		n, err := s.cache.RowCount(s.symbol, d, s.tt)
		if err != nil {
			return 0, fmt.Errorf("tickstream: estimate %s %s: %w", s.symbol, d.Format("2006-01-02"), err)
		}
		total += int64(n)
	}
	return total, nil
}

// peek returns the next tick without consuming it, loading subsequent day
// files as the current buffer is exhausted. ok is false once every day has
// been drained.
func (s *daySource) peek() (marketdata.Tick, bool, error) {
	for s.bufPos >= len(s.buf) {
		if s.dayIdx >= len(s.days) {
			return marketdata.Tick{}, false, nil
		}
		day := s.days[s.dayIdx]
		s.dayIdx++
		ticks, err := s.cache.LoadDayTicks(s.symbol, day, s.tt)
		if err != nil {
			// A day that failed to repair upstream is skipped rather than
			// aborting the whole stream; DataLoader already reported it.
			continue
		}
		s.buf = ticks
		s.bufPos = 0
	}
	t := s.buf[s.bufPos]
	t.Seq = s.seq
	return t, true, nil
}

// advance consumes the tick returned by the most recent peek.
func (s *daySource) advance() {
	s.bufPos++
	s.seq++
	if s.bufPos >= s.chunkSize && s.bufPos >= len(s.buf) {
		s.buf = nil
		s.bufPos = 0
	}
}

// memSource serves a pre-loaded, already-sorted tick slice. It is the
// eager counterpart of daySource, used when ticks were delivered in one
// piece rather than streamed from disk.
type memSource struct {
	ticks []marketdata.Tick
	pos   int
	seq   uint64
}

func (s *memSource) estimate() (int64, error) { return int64(len(s.ticks)), nil }

func (s *memSource) peek() (marketdata.Tick, bool, error) {
	if s.pos >= len(s.ticks) {
		return marketdata.Tick{}, false, nil
	}
	t := s.ticks[s.pos]
	t.Seq = s.seq
	return t, true, nil
}

func (s *memSource) advance() {
	s.pos++
	s.seq++
}

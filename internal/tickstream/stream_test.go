package tickstream

import (
	"log"
	"testing"
	"time"

	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

func mustCache(t *testing.T) *daycache.DayCache {
	t.Helper()
	cfg := daycache.DefaultConfig
	cfg.Root = t.TempDir()
	c, err := daycache.New(cfg, log.Default())
	if err != nil {
		t.Fatalf("daycache.New: %v", err)
	}
	return c
}

func seedTicks(t *testing.T, cache *daycache.DayCache, symbol string, day time.Time, times []time.Time) {
	t.Helper()
	ticks := make([]marketdata.Tick, len(times))
	for i, ts := range times {
		ticks[i] = marketdata.Tick{Time: ts, Symbol: symbol, Bid: 1.1, Ask: 1.1002, Last: 1.1001}
	}
	if err := cache.SaveTicks(symbol, day, marketdata.TickTypeQuote, ticks, marketdata.SourceExchange); err != nil {
		t.Fatalf("SaveTicks %s: %v", symbol, err)
	}
}

func TestStream_GlobalChronologicalOrder(t *testing.T) {
	cache := mustCache(t)
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	seedTicks(t, cache, "EURUSD", day, []time.Time{
		day.Add(1 * time.Second), day.Add(5 * time.Second), day.Add(9 * time.Second),
	})
	seedTicks(t, cache, "GBPUSD", day, []time.Time{
		day.Add(2 * time.Second), day.Add(5 * time.Second), day.Add(8 * time.Second),
	})

	r := marketdata.TimeRange{Start: day, End: day}
	s, err := Open(cache, []string{"GBPUSD", "EURUSD"}, r, marketdata.TickTypeQuote, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var order []marketdata.Tick
	for {
		tick, ok, err := s.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		order = append(order, tick)
	}

	if len(order) != 6 {
		t.Fatalf("expected 6 ticks total, got %d", len(order))
	}
	for i := 1; i < len(order); i++ {
		if order[i].Time.Before(order[i-1].Time) {
			t.Fatalf("tick %d (%v) is out of order after tick %d (%v)", i, order[i].Time, i-1, order[i-1].Time)
		}
	}
	// At the shared instant (day+5s) EURUSD sorts before GBPUSD: symbols are
	// assigned source indices in sorted order.
	for i, tk := range order {
		if tk.Time.Equal(day.Add(5 * time.Second)) {
			if tk.Symbol != "EURUSD" {
				t.Fatalf("expected EURUSD first at the tied instant, got %s at index %d", tk.Symbol, i)
			}
			if order[i+1].Symbol != "GBPUSD" || !order[i+1].Time.Equal(day.Add(5*time.Second)) {
				t.Fatalf("expected GBPUSD immediately after the tied EURUSD tick")
			}
			break
		}
	}

	produced, estimated := s.Progress()
	if produced != 6 {
		t.Fatalf("expected produced=6, got %d", produced)
	}
	if estimated != 6 {
		t.Fatalf("expected estimated=6 from row_count metadata, got %d", estimated)
	}
}

func TestFromFrames_MatchesLazyStreamOrder(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(symbol string, offsets ...time.Duration) marketdata.TickFrame {
		f := marketdata.TickFrame{Symbol: symbol, Type: marketdata.TickTypeQuote}
		for _, off := range offsets {
			f.Ticks = append(f.Ticks, marketdata.Tick{Time: day.Add(off), Symbol: symbol, Bid: 1.1, Ask: 1.1002})
		}
		return f
	}

	s, err := FromFrames(
		mk("GBPUSD", 2*time.Second, 5*time.Second),
		mk("EURUSD", 1*time.Second, 5*time.Second),
	)
	if err != nil {
		t.Fatalf("FromFrames: %v", err)
	}

	var symbols []string
	for {
		tick, ok, err := s.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		symbols = append(symbols, tick.Symbol)
	}
	want := []string{"EURUSD", "GBPUSD", "EURUSD", "GBPUSD"}
	if len(symbols) != len(want) {
		t.Fatalf("expected %d ticks, got %d", len(want), len(symbols))
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Fatalf("tick %d: got %s, want %s (tie-break by sorted symbol)", i, symbols[i], want[i])
		}
	}

	if _, estimated := s.Progress(); estimated != 4 {
		t.Fatalf("expected estimated=4 from frame lengths, got %d", estimated)
	}
}

func TestStream_EmptyRangeYieldsNothing(t *testing.T) {
	cache := mustCache(t)
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := marketdata.TimeRange{Start: day, End: day}

	s, err := Open(cache, []string{"EURUSD"}, r, marketdata.TickTypeQuote, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, ok, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatalf("expected no ticks from an empty cache")
	}
}

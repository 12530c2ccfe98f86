package daycache

import (
	"log"
	"testing"
	"time"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

func mustCache(t *testing.T) *DayCache {
	t.Helper()
	cfg := DefaultConfig
	cfg.Root = t.TempDir()
	c, err := New(cfg, log.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleBars(d time.Time, n int) []marketdata.Bar {
	bars := make([]marketdata.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = marketdata.Bar{
			StartTime: d.Add(time.Duration(i) * time.Minute),
			Open:      1.1000, High: 1.1005, Low: 1.0995, Close: 1.1002,
			TickVolume: 10,
		}
	}
	return bars
}

// Save then load yields an equal frame (modulo metadata).
func TestSaveLoadBarsRoundTrip(t *testing.T) {
	c := mustCache(t)
	d := day(2025, 1, 15)
	bars := sampleBars(d, 5)

	if err := c.SaveBars("EURUSD", d, marketdata.M1, bars, marketdata.SourceExchange); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	r := marketdata.TimeRange{Start: d, End: d.AddDate(0, 0, 1)}
	frame, missing, err := c.LoadBars("EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing days, got %v", missing)
	}
	if len(frame.Bars) != len(bars) {
		t.Fatalf("expected %d bars, got %d", len(bars), len(frame.Bars))
	}
	for i := range bars {
		if !frame.Bars[i].StartTime.Equal(bars[i].StartTime) || frame.Bars[i].Close != bars[i].Close {
			t.Fatalf("bar %d mismatch: got %+v want %+v", i, frame.Bars[i], bars[i])
		}
	}
}

// A second identical Load call is still correct (and
// would perform zero network I/O at the DataLoader layer, verified there).
func TestLoadBarsIdempotent(t *testing.T) {
	c := mustCache(t)
	d := day(2025, 1, 15)
	bars := sampleBars(d, 3)
	if err := c.SaveBars("EURUSD", d, marketdata.M1, bars, marketdata.SourceExchange); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}
	r := marketdata.TimeRange{Start: d, End: d.AddDate(0, 0, 1)}

	f1, m1, err := c.LoadBars("EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("first LoadBars: %v", err)
	}
	f2, m2, err := c.LoadBars("EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("second LoadBars: %v", err)
	}
	if len(m1) != len(m2) || len(f1.Bars) != len(f2.Bars) {
		t.Fatalf("expected identical results across repeated loads")
	}
}

// Incremental repair reports only the
// genuinely missing day, not the whole range.
func TestIncrementalRepairReportsOnlyMissingDay(t *testing.T) {
	c := mustCache(t)
	d1, d2, d4, d5 := day(2025, 1, 1), day(2025, 1, 2), day(2025, 1, 4), day(2025, 1, 5)
	for _, d := range []time.Time{d1, d2, d4, d5} {
		if err := c.SaveBars("EURUSD", d, marketdata.M1, sampleBars(d, 2), marketdata.SourceExchange); err != nil {
			t.Fatalf("SaveBars %v: %v", d, err)
		}
	}

	r := marketdata.TimeRange{Start: d1, End: d5.AddDate(0, 0, 1)}
	_, missing, err := c.LoadBars("EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(missing) != 1 {
		t.Fatalf("expected exactly 1 missing day, got %d: %v", len(missing), missing)
	}
	if !missing[0].Equal(day(2025, 1, 3)) {
		t.Fatalf("expected missing day 2025-01-03, got %v", missing[0])
	}
}

// A gap at the start of the requested range invalidates the first day.
func TestGapAtStartInvalidates(t *testing.T) {
	c := mustCache(t)
	d := day(2025, 1, 1)
	// First bar starts at 20:00 UTC, 20 hours into the day. That gap is
	// within the default 1-day threshold and would still pass; shrink the
	// threshold so the test exercises the invalidation path deterministically.
	c.cfg.GapThreshold = time.Hour

	bars := []marketdata.Bar{{StartTime: d.Add(20 * time.Hour), Open: 1, High: 1, Low: 1, Close: 1}}
	if err := c.SaveBars("EURUSD", d, marketdata.M1, bars, marketdata.SourceExchange); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	r := marketdata.TimeRange{Start: d, End: d.AddDate(0, 0, 1)}
	frame, missing, err := c.LoadBars("EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(missing) != 1 {
		t.Fatalf("expected the gapped day to be reported missing, got %v", missing)
	}
	if len(frame.Bars) != 0 {
		t.Fatalf("expected no bars returned for a gapped day, got %d", len(frame.Bars))
	}
}

// cached_at age at the TTL boundary is fresh; strictly
// greater is stale.
func TestTTLBoundary(t *testing.T) {
	c := mustCache(t)
	c.cfg.TTL = 24 * time.Hour
	d := day(2025, 1, 1)
	bars := sampleBars(d, 2)
	if err := c.SaveBars("EURUSD", d, marketdata.M1, bars, marketdata.SourceExchange); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	verdict, meta, err := c.Validate("EURUSD", d, marketdata.CandleData(marketdata.M1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict != ValidOk {
		t.Fatalf("expected fresh file to validate ok, got %v", verdict)
	}

	// Age just inside the TTL boundary (the margin absorbs test runtime so
	// time.Since stays <= TTL) remains fresh; strictly beyond it is stale.
	path := dayPath(c.cfg.Root, "EURUSD", d, marketdata.CandleData(marketdata.M1))
	agedMeta := meta
	agedMeta.CachedAt = time.Now().UTC().Add(-c.cfg.TTL + time.Minute)
	if err := writeDayFile(path, agedMeta, bars); err != nil {
		t.Fatalf("rewrite aged file: %v", err)
	}
	verdict, _, err = c.Validate("EURUSD", d, marketdata.CandleData(marketdata.M1))
	if err != nil {
		t.Fatalf("Validate at boundary: %v", err)
	}
	if verdict != ValidOk {
		t.Fatalf("expected age at the TTL boundary to be fresh, got %v", verdict)
	}

	agedMeta.CachedAt = time.Now().UTC().Add(-c.cfg.TTL - time.Hour)
	if err := writeDayFile(path, agedMeta, bars); err != nil {
		t.Fatalf("rewrite stale file: %v", err)
	}
	verdict, _, err = c.Validate("EURUSD", d, marketdata.CandleData(marketdata.M1))
	if err != nil {
		t.Fatalf("Validate past boundary: %v", err)
	}
	if verdict != VerdictStale {
		t.Fatalf("expected age beyond the TTL to be stale, got %v", verdict)
	}
}

func TestMissingDayReportedNotError(t *testing.T) {
	c := mustCache(t)
	r := marketdata.TimeRange{Start: day(2025, 1, 1), End: day(2025, 1, 3)}
	frame, missing, err := c.LoadBars("EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("LoadBars on empty cache should not error: %v", err)
	}
	if len(frame.Bars) != 0 {
		t.Fatalf("expected no bars, got %d", len(frame.Bars))
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing days, got %d", len(missing))
	}
}

package candle

import (
	"testing"
	"time"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

func tick(sym string, at time.Time, price float64) marketdata.Tick {
	return marketdata.Tick{Time: at, Symbol: sym, Bid: price, Ask: price + 0.0002, Last: price}
}

func TestResampleTicksToBars(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	ticks := []marketdata.Tick{
		tick("EURUSD", base, 1.1000),
		tick("EURUSD", base.Add(10*time.Second), 1.1005),
		tick("EURUSD", base.Add(59*time.Second), 1.0990),
		tick("EURUSD", base.Add(61*time.Second), 1.1010),
	}
	bars := ResampleTicksToBars(ticks, marketdata.M1)
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	first := bars[0]
	if first.Open != 1.1000 || first.Close != 1.0990 || first.High != 1.1005 || first.Low != 1.0990 {
		t.Fatalf("unexpected first bar: %+v", first)
	}
	if bars[1].Open != 1.1010 {
		t.Fatalf("unexpected second bar open: %+v", bars[1])
	}
}

func TestResampleTicksToBars_UsesLastThenBid(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []marketdata.Tick{
		{Time: base, Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002, Last: 0},
		{Time: base.Add(time.Second), Symbol: "EURUSD", Bid: 1.2000, Ask: 1.2002, Last: 1.1500},
	}
	bars := ResampleTicksToBars(ticks, marketdata.M1)
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	if bars[0].Open != 1.1000 {
		t.Fatalf("expected open to use bid when last==0, got %v", bars[0].Open)
	}
	if bars[0].Close != 1.1500 {
		t.Fatalf("expected close to use last when >0, got %v", bars[0].Close)
	}
}

// Building bars at M1 then aggregating to M5 equals building M5 directly
// from the same ticks.
func TestAggregateBars_EquivalentToDirectResample(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	var ticks []marketdata.Tick
	prices := []float64{1.1000, 1.1008, 1.0993, 1.1015, 1.1002, 1.0988, 1.1021, 1.1010}
	for i, p := range prices {
		ticks = append(ticks, tick("EURUSD", base.Add(time.Duration(i*97)*time.Second), p))
	}

	viaM1 := AggregateBars(ResampleTicksToBars(ticks, marketdata.M1), marketdata.M5)
	direct := ResampleTicksToBars(ticks, marketdata.M5)

	if len(viaM1) != len(direct) {
		t.Fatalf("bar count mismatch: via M1 %d, direct %d", len(viaM1), len(direct))
	}
	for i := range direct {
		a, b := viaM1[i], direct[i]
		if !a.StartTime.Equal(b.StartTime) || a.Open != b.Open || a.High != b.High ||
			a.Low != b.Low || a.Close != b.Close || a.TickVolume != b.TickVolume {
			t.Fatalf("bar %d mismatch:\nvia M1: %+v\ndirect: %+v", i, a, b)
		}
	}
}

func TestBuilder_OnlyBuildsSubscribedTimeframes(t *testing.T) {
	b := NewBuilder()
	b.Subscribe("EURUSD", marketdata.M1)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.OnTick(tick("EURUSD", base, 1.1))
	b.OnTick(tick("GBPUSD", base, 1.3))

	if _, ok := b.Partial("GBPUSD", marketdata.M1); ok {
		t.Fatalf("expected no partial bar for an unsubscribed symbol")
	}
	if _, ok := b.Partial("EURUSD", marketdata.M1); !ok {
		t.Fatalf("expected a partial bar for the subscribed symbol")
	}
}

func TestBuilder_TailCachesUntilNextClose(t *testing.T) {
	b := NewBuilder()
	b.Subscribe("EURUSD", marketdata.M1)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	b.OnTick(tick("EURUSD", base, 1.1000))
	b.OnTick(tick("EURUSD", base.Add(61*time.Second), 1.1010)) // closes bar 1

	first := b.Tail("EURUSD", marketdata.M1, 5)
	second := b.Tail("EURUSD", marketdata.M1, 5)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 closed bar in both calls, got %d and %d", len(first), len(second))
	}

	b.OnTick(tick("EURUSD", base.Add(130*time.Second), 1.1020)) // closes bar 2
	third := b.Tail("EURUSD", marketdata.M1, 5)
	if len(third) != 2 {
		t.Fatalf("expected cache invalidation to pick up the newly closed bar, got %d bars", len(third))
	}
}

func TestBuilder_TailEmptyForUnknownPair(t *testing.T) {
	b := NewBuilder()
	if bars := b.Tail("EURUSD", marketdata.M1, 5); bars != nil {
		t.Fatalf("expected nil for a never-subscribed pair, got %v", bars)
	}
}

package dataloader

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

type fakeAdapter struct {
	bars  map[string]marketdata.BarFrame
	ticks map[string]marketdata.TickFrame
	err   error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{bars: map[string]marketdata.BarFrame{}, ticks: map[string]marketdata.TickFrame{}}
}

func barsKey(symbol string, day time.Time) string { return symbol + "|" + day.Format("2006-01-02") }

func (a *fakeAdapter) GetBars(_ context.Context, symbol string, _ marketdata.Timeframe, r marketdata.TimeRange) (marketdata.BarFrame, error) {
	if a.err != nil {
		return marketdata.BarFrame{}, a.err
	}
	return a.bars[barsKey(symbol, r.Start)], nil
}

func (a *fakeAdapter) GetTicks(_ context.Context, symbol string, r marketdata.TimeRange, _ marketdata.TickType) (marketdata.TickFrame, error) {
	if a.err != nil {
		return marketdata.TickFrame{}, a.err
	}
	return a.ticks[barsKey(symbol, r.Start)], nil
}

func (a *fakeAdapter) SymbolInfo(_ context.Context, symbol string) (marketdata.SymbolInfo, error) {
	return marketdata.SymbolInfo{Symbol: symbol}, nil
}

func (a *fakeAdapter) ServerName() string { return "fake" }

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

func TestLoadBars_ExchangeFallbackFillsMiss(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := mustCache(t)
	adapter := newFakeAdapter()
	adapter.bars[barsKey("EURUSD", day)] = marketdata.BarFrame{
		Symbol: "EURUSD", TF: marketdata.M1,
		Bars: []marketdata.Bar{{StartTime: day, Open: 1, High: 1, Low: 1, Close: 1, TickVolume: 1}},
	}

	l := New(DefaultConfig, cache, adapter, nil, log.Default())
	r := marketdata.TimeRange{Start: day, End: day}
	frame, err := l.LoadBars(context.Background(), "EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(frame.Bars) != 1 {
		t.Fatalf("expected 1 bar from exchange fallback, got %d", len(frame.Bars))
	}
}

func TestLoadBars_AllTiersMissReturnsMissingRangeError(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := mustCache(t)
	adapter := newFakeAdapter() // returns empty frames for everything

	l := New(DefaultConfig, cache, adapter, nil, log.Default())
	r := marketdata.TimeRange{Start: day, End: day}
	_, err := l.LoadBars(context.Background(), "EURUSD", marketdata.M1, r)
	if err == nil {
		t.Fatalf("expected a MissingRangeError when all tiers miss")
	}
	if _, ok := err.(*MissingRangeError); !ok {
		t.Fatalf("expected *MissingRangeError, got %T: %v", err, err)
	}
}

func TestLoadBars_PartialDataAllowed(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := mustCache(t)
	adapter := newFakeAdapter()

	cfg := DefaultConfig
	cfg.AllowPartialData = true
	l := New(cfg, cache, adapter, nil, log.Default())
	r := marketdata.TimeRange{Start: day, End: day}
	frame, err := l.LoadBars(context.Background(), "EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("expected no error with partial data allowed, got %v", err)
	}
	if len(frame.Bars) != 0 {
		t.Fatalf("expected an empty frame for an unresolved day, got %d bars", len(frame.Bars))
	}
}

func TestLoadBars_DerivesFromTicksWhenBarsMissing(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := mustCache(t)
	adapter := newFakeAdapter()
	adapter.ticks[barsKey("EURUSD", day)] = marketdata.TickFrame{
		Symbol: "EURUSD", Type: marketdata.TickTypeQuote,
		Ticks: []marketdata.Tick{
			{Time: day, Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002, Last: 1.1001},
			{Time: day.Add(30 * time.Second), Symbol: "EURUSD", Bid: 1.1010, Ask: 1.1012, Last: 1.1011},
		},
	}

	l := New(DefaultConfig, cache, adapter, nil, log.Default())
	r := marketdata.TimeRange{Start: day, End: day}
	frame, err := l.LoadBars(context.Background(), "EURUSD", marketdata.M1, r)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(frame.Bars) != 1 {
		t.Fatalf("expected 1 derived bar, got %d", len(frame.Bars))
	}
}

package marketdata

import (
	"context"
	"math/rand"
	"time"
)

// MockAdapter is a deterministic in-memory ExchangeApiAdapter used by tests
// and the data-loading fallback chain's unit tests. It is not goroutine-safe
// by design; tests drive it from a single goroutine.
type MockAdapter struct {
	Server string
	// Ticks and Bars let a test preload a fixed response per symbol; when
	// absent, GetTicks/GetBars return an empty frame. Only SeedTicks draws
	// from rng, to fill Ticks with a deterministic series.
	Ticks map[string][]Tick
	Bars  map[string]map[Timeframe][]Bar
	Infos map[string]SymbolInfo

	rng *rand.Rand
}

// NewMockAdapter creates a deterministic mock adapter seeded by seed so that
// repeated test runs produce byte-identical synthetic data.
func NewMockAdapter(seed int64) *MockAdapter {
	return &MockAdapter{
		Server: "mock-exchange",
		Ticks:  make(map[string][]Tick),
		Bars:   make(map[string]map[Timeframe][]Bar),
		Infos:  make(map[string]SymbolInfo),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// ServerName implements ExchangeApiAdapter.
func (m *MockAdapter) ServerName() string { return m.Server }

// SymbolInfo implements ExchangeApiAdapter, returning a sensible default when
// the symbol was never explicitly registered.
func (m *MockAdapter) SymbolInfo(_ context.Context, symbol string) (SymbolInfo, error) {
	if si, ok := m.Infos[symbol]; ok {
		return si, nil
	}
	return SymbolInfo{
		Symbol:        symbol,
		TickSize:      0.00001,
		Digits:        5,
		ContractSize:  100000,
		MinLot:        0.01,
		MaxLot:        100,
		LotStep:       0.01,
		StopsLevel:    0.0001,
		FreezeLevel:   0,
		TradeMode:     TradeModeFull,
		BaseCurrency:  symbol[:3],
		QuoteCurrency: symbol[3:],
	}, nil
}

// GetTicks implements ExchangeApiAdapter, returning the preloaded slice
// clipped to r, or an empty frame (not an error) when nothing was
// registered. Real exchange adapters behave the same way for days with no
// data, which is exactly the "empty" case DataLoader must fall back from.
func (m *MockAdapter) GetTicks(_ context.Context, symbol string, r TimeRange, tt TickType) (TickFrame, error) {
	var out []Tick
	for _, t := range m.Ticks[symbol] {
		if !t.Time.Before(r.Start) && t.Time.Before(r.End) {
			out = append(out, t)
		}
	}
	return TickFrame{Symbol: symbol, Type: tt, Ticks: out}, nil
}

// GetBars implements ExchangeApiAdapter the same way as GetTicks.
func (m *MockAdapter) GetBars(_ context.Context, symbol string, tf Timeframe, r TimeRange) (BarFrame, error) {
	var out []Bar
	for _, b := range m.Bars[symbol][tf] {
		if !b.StartTime.Before(r.Start) && b.StartTime.Before(r.End) {
			out = append(out, b)
		}
	}
	return BarFrame{Symbol: symbol, TF: tf, Bars: out}, nil
}

// SeedTicks registers a deterministic synthetic tick series for symbol
// spanning r at the given average inter-tick gap, starting at basePrice.
func (m *MockAdapter) SeedTicks(symbol string, r TimeRange, gap time.Duration, basePrice float64) {
	var seq uint64
	price := basePrice
	for t := r.Start; t.Before(r.End); t = t.Add(gap) {
		price += (m.rng.Float64() - 0.5) * 0.0010
		spread := 0.0002
		m.Ticks[symbol] = append(m.Ticks[symbol], Tick{
			Time: t, Symbol: symbol,
			Bid: price - spread/2, Ask: price + spread/2, Last: price,
			Volume: 1, Seq: seq,
		})
		seq++
	}
}

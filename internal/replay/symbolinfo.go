package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// symbolInfoCache is a small in-memory map satisfying
// simbroker.SymbolInfoProvider, populated once at startup from the exchange-API adapter, falling back to
// DayCache's sidecar from a prior run.
type symbolInfoCache struct {
	infos map[string]marketdata.SymbolInfo
}

func newSymbolInfoCache() *symbolInfoCache {
	return &symbolInfoCache{infos: make(map[string]marketdata.SymbolInfo)}
}

// SymbolInfo implements simbroker.SymbolInfoProvider.
func (c *symbolInfoCache) SymbolInfo(symbol string) (marketdata.SymbolInfo, bool) {
	si, ok := c.infos[symbol]
	return si, ok
}

// load populates the cache for every symbol, preferring the live adapter
// and falling back to whatever DayCache has cached from a prior run's
// symbol-info sidecar for fallbackDay.
func (c *symbolInfoCache) load(ctx context.Context, symbols []string, adapter marketdata.ExchangeApiAdapter, cache *daycache.DayCache, fallbackDay time.Time) error {
	for _, sym := range symbols {
		if adapter != nil {
			if si, err := adapter.SymbolInfo(ctx, sym); err == nil {
				c.infos[sym] = si
				_ = cache.SaveSymbolInfo(sym, fallbackDay, si)
				continue
			}
		}
		if cache != nil {
			if si, ok, err := cache.LoadSymbolInfo(sym, fallbackDay); err == nil && ok {
				c.infos[sym] = si
				continue
			}
		}
		return fmt.Errorf("replay: no symbol info available for %s", sym)
	}
	return nil
}

package daycache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// LoadSymbolInfo reads the cached JSON sidecar for symbol on day, if any.
func (c *DayCache) LoadSymbolInfo(symbol string, day time.Time) (marketdata.SymbolInfo, bool, error) {
	data, err := os.ReadFile(symbolInfoPath(c.cfg.Root, symbol, day)) // #nosec G304 -- internal cache path
	if err != nil {
		if os.IsNotExist(err) {
			return marketdata.SymbolInfo{}, false, nil
		}
		return marketdata.SymbolInfo{}, false, err
	}
	var si marketdata.SymbolInfo
	if err := json.Unmarshal(data, &si); err != nil {
		return marketdata.SymbolInfo{}, false, nil
	}
	return si, true, nil
}

// SaveSymbolInfo caches si as the JSON sidecar for symbol on day.
func (c *DayCache) SaveSymbolInfo(symbol string, day time.Time, si marketdata.SymbolInfo) error {
	data, err := json.MarshalIndent(si, "", "  ")
	if err != nil {
		return err
	}
	path := symbolInfoPath(c.cfg.Root, symbol, day)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600) // #nosec G306 -- internal cache path, 0600 perms
}

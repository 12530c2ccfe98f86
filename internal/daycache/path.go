package daycache

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// dayPath builds cache_root/YYYY/MM/DD/<bucket>/<SYMBOL>_<TF|TickType>.bin.
func dayPath(root, symbol string, day time.Time, dt marketdata.DataType) string {
	var filename string
	if dt.IsTick {
		filename = fmt.Sprintf("%s_%s.bin", symbol, dt.Kind)
	} else {
		filename = fmt.Sprintf("%s_%s.bin", symbol, dt.TF)
	}
	bucket := "candles"
	if dt.IsTick {
		bucket = "ticks"
	}
	return filepath.Join(root,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", day.Month()),
		fmt.Sprintf("%02d", day.Day()),
		bucket, filename)
}

// symbolInfoPath builds cache_root/YYYY/MM/DD/symbol_info/<SYMBOL>.json.
func symbolInfoPath(root, symbol string, day time.Time) string {
	return filepath.Join(root,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", day.Month()),
		fmt.Sprintf("%02d", day.Day()),
		"symbol_info", symbol+".json")
}

// indexPath is the CacheIndex sidecar path.
func indexPath(root string) string {
	return filepath.Join(root, ".cache_index.json")
}

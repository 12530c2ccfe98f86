package daycache

import (
	"time"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// CacheVersion is bumped whenever the on-disk day-file format changes; a
// mismatch invalidates every existing file globally.
const CacheVersion = "1"

// Metadata is the required key-value header every day-file carries.
type Metadata struct {
	CachedAt      time.Time        `json:"cached_at"`
	Source        marketdata.Source `json:"source"`
	FirstDataTime time.Time        `json:"first_data_time"`
	LastDataTime  time.Time        `json:"last_data_time"`
	RowCount      int              `json:"row_count"`
	CacheVersion  string           `json:"cache_version"`
}

// Day returns the UTC calendar day Metadata's timestamps lie in, used to
// check that both timestamps lie within a single UTC day.
func (m Metadata) Day() time.Time {
	return time.Date(m.FirstDataTime.Year(), m.FirstDataTime.Month(), m.FirstDataTime.Day(), 0, 0, 0, 0, time.UTC)
}

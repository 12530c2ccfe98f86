// Package daycache implements the content-addressed, day-partitioned store
// of bars and ticks: metadata-carrying
// files, gap/freshness validation, and incremental merge of partial hits.
package daycache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// Config holds the cache tunables.
type Config struct {
	Root               string
	ValidationEnabled  bool
	TTL                time.Duration // cache_ttl_days
	GapThreshold       time.Duration // cache_gap_threshold_days
	IndexEnabled       bool
	Incremental        bool // incremental_cache_loading
}

// DefaultConfig carries the documented defaults.
var DefaultConfig = Config{
	ValidationEnabled: true,
	TTL:               7 * 24 * time.Hour,
	GapThreshold:      24 * time.Hour,
	IndexEnabled:      true,
	Incremental:       true,
}

// DayCache is the day-partitioned store.
type DayCache struct {
	cfg    Config
	index  *Index
	logger *log.Logger
}

// New creates a DayCache rooted at cfg.Root, loading (or creating) its
// CacheIndex sidecar.
func New(cfg Config, logger *log.Logger) (*DayCache, error) {
	if logger == nil {
		logger = log.Default()
	}
	idx, err := NewIndex(indexPath(cfg.Root))
	if err != nil {
		return nil, fmt.Errorf("load cache index: %w", err)
	}
	return &DayCache{cfg: cfg, index: idx, logger: logger}, nil
}

// Validate is the pure query behind Load: it inspects a single day-file and
// returns ValidOk, Stale, MissingMeta, or NoFile.
func (c *DayCache) Validate(symbol string, day time.Time, dt marketdata.DataType) (Verdict, Metadata, error) {
	if c.cfg.IndexEnabled {
		if st, ok := c.index.Get(symbol, dt.String(), day); ok && st == StateMissing {
			return VerdictNoFile, Metadata{}, nil
		}
	}

	path := dayPath(c.cfg.Root, symbol, day, dt)
	meta, _, verdict, err := readDayFile(path)
	if err != nil {
		return VerdictNoFile, Metadata{}, err
	}
	if verdict != ValidOk {
		return verdict, Metadata{}, nil
	}
	if meta.CacheVersion != CacheVersion {
		return VerdictMissingMeta, meta, nil
	}
	if c.cfg.ValidationEnabled {
		age := time.Since(meta.CachedAt)
		if age > c.cfg.TTL {
			return VerdictStale, meta, nil
		}
	}
	return ValidOk, meta, nil
}

// missingReport collects the days a Load call could not serve from cache,
// sorted and deduplicated so the repair list is deterministic.
type missingReport struct {
	days map[string]time.Time
}

func newMissingReport() *missingReport { return &missingReport{days: make(map[string]time.Time)} }

func (r *missingReport) add(day time.Time) { r.days[dateKey(day)] = day }

func (r *missingReport) sorted() []time.Time {
	out := make([]time.Time, 0, len(r.days))
	for _, d := range r.days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// LoadBars returns the valid cached candle days in r plus the days that
// need repair.
func (c *DayCache) LoadBars(symbol string, tf marketdata.Timeframe, r marketdata.TimeRange) (marketdata.BarFrame, []time.Time, error) {
	dt := marketdata.CandleData(tf)
	days := r.Days()
	missing := newMissingReport()
	var frames []marketdata.BarFrame
	firstValidIdx := -1

	for _, day := range days {
		verdict, meta, err := c.Validate(symbol, day, dt)
		if err != nil {
			return marketdata.BarFrame{}, nil, fmt.Errorf("validate %s %s: %w", symbol, dateKey(day), err)
		}
		if verdict != ValidOk {
			missing.add(day)
			continue
		}
		bars, err := c.readBars(symbol, day, dt)
		if err != nil {
			missing.add(day)
			continue
		}
		if firstValidIdx == -1 {
			firstValidIdx = len(frames)
			if meta.FirstDataTime.Sub(r.Start) > c.cfg.GapThreshold {
				missing.add(day)
				continue
			}
		}
		frames = append(frames, marketdata.BarFrame{Symbol: symbol, TF: tf, Bars: bars})
	}

	out := marketdata.ConcatBars(symbol, tf, frames...)
	if !c.cfg.Incremental && len(missing.days) > 0 {
		// incremental_cache_loading=off: any miss forces the caller to
		// reload the entire range rather than trust a partial merge.
		return marketdata.BarFrame{Symbol: symbol, TF: tf}, r.Days(), nil
	}
	return out, missing.sorted(), nil
}

// LoadTicks returns the valid cached tick days in r plus the days that
// need repair.
func (c *DayCache) LoadTicks(symbol string, tt marketdata.TickType, r marketdata.TimeRange) (marketdata.TickFrame, []time.Time, error) {
	dt := marketdata.TickData(tt)
	days := r.Days()
	missing := newMissingReport()
	var all []marketdata.Tick
	firstSeen := false

	for _, day := range days {
		verdict, meta, err := c.Validate(symbol, day, dt)
		if err != nil {
			return marketdata.TickFrame{}, nil, fmt.Errorf("validate %s %s: %w", symbol, dateKey(day), err)
		}
		if verdict != ValidOk {
			missing.add(day)
			continue
		}
		ticks, err := c.readTicks(symbol, day, dt)
		if err != nil {
			missing.add(day)
			continue
		}
		if !firstSeen {
			firstSeen = true
			if meta.FirstDataTime.Sub(r.Start) > c.cfg.GapThreshold {
				missing.add(day)
				continue
			}
		}
		all = append(all, ticks...)
	}

	frame := marketdata.TickFrame{Symbol: symbol, Type: tt, Ticks: all}
	frame.SortInPlace()
	if !c.cfg.Incremental && len(missing.days) > 0 {
		return marketdata.TickFrame{Symbol: symbol, Type: tt}, r.Days(), nil
	}
	return frame, missing.sorted(), nil
}

// SaveBars writes one day's bars atomically and stamps metadata.
func (c *DayCache) SaveBars(symbol string, day time.Time, tf marketdata.Timeframe, bars []marketdata.Bar, source marketdata.Source) error {
	dt := marketdata.CandleData(tf)
	if len(bars) == 0 {
		return fmt.Errorf("daycache: refusing to save empty bar set for %s %s", symbol, day.Format("2006-01-02"))
	}
	meta := c.buildMeta(bars[0].StartTime, bars[len(bars)-1].StartTime, len(bars), source)
	if err := writeDayFile(dayPath(c.cfg.Root, symbol, day, dt), meta, bars); err != nil {
		return fmt.Errorf("save bars %s %s: %w", symbol, dt, err)
	}
	if c.cfg.IndexEnabled {
		if err := c.index.Set(symbol, dt.String(), day, StatePresent); err != nil {
			c.logger.Printf("daycache: failed to persist index after save: %v", err)
		}
	}
	return nil
}

// SaveTicks writes one day's ticks atomically and stamps metadata.
func (c *DayCache) SaveTicks(symbol string, day time.Time, tt marketdata.TickType, ticks []marketdata.Tick, source marketdata.Source) error {
	dt := marketdata.TickData(tt)
	if len(ticks) == 0 {
		return fmt.Errorf("daycache: refusing to save empty tick set for %s %s", symbol, day.Format("2006-01-02"))
	}
	meta := c.buildMeta(ticks[0].Time, ticks[len(ticks)-1].Time, len(ticks), source)
	if err := writeDayFile(dayPath(c.cfg.Root, symbol, day, dt), meta, ticks); err != nil {
		return fmt.Errorf("save ticks %s %s: %w", symbol, dt, err)
	}
	if c.cfg.IndexEnabled {
		if err := c.index.Set(symbol, dt.String(), day, StatePresent); err != nil {
			c.logger.Printf("daycache: failed to persist index after save: %v", err)
		}
	}
	return nil
}

func (c *DayCache) buildMeta(first, last time.Time, rowCount int, source marketdata.Source) Metadata {
	return Metadata{
		CachedAt:      time.Now().UTC(),
		Source:        source,
		FirstDataTime: first,
		LastDataTime:  last,
		RowCount:      rowCount,
		CacheVersion:  CacheVersion,
	}
}

func (c *DayCache) readBars(symbol string, day time.Time, dt marketdata.DataType) ([]marketdata.Bar, error) {
	_, body, verdict, err := readDayFile(dayPath(c.cfg.Root, symbol, day, dt))
	if err != nil {
		return nil, err
	}
	if verdict != ValidOk {
		return nil, ErrMissingMeta
	}
	var bars []marketdata.Bar
	if err := decodeGob(body, &bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// LoadDayTicks returns the single day's ticks if the cache entry is valid,
// without the range-level gap/TTL bookkeeping LoadTicks performs. It is the
// read primitive TickStream uses once DataLoader has already repaired the
// range: each day-file is already bounded to one UTC day of ticks, so a
// single whole-file decode per day is the natural unit of chunking.
func (c *DayCache) LoadDayTicks(symbol string, day time.Time, tt marketdata.TickType) ([]marketdata.Tick, error) {
	dt := marketdata.TickData(tt)
	verdict, _, err := c.Validate(symbol, day, dt)
	if err != nil {
		return nil, err
	}
	if verdict != ValidOk {
		return nil, fmt.Errorf("daycache: %s %s %s: %w", symbol, day.Format("2006-01-02"), dt, ErrNoFile)
	}
	return c.readTicks(symbol, day, dt)
}

// RowCount returns the day-file's recorded row_count metadata, used by
// TickStream to estimate total ticks at open without decoding every file.
func (c *DayCache) RowCount(symbol string, day time.Time, tt marketdata.TickType) (int, error) {
	verdict, meta, err := c.Validate(symbol, day, marketdata.TickData(tt))
	if err != nil {
		return 0, err
	}
	if verdict != ValidOk {
		return 0, nil
	}
	return meta.RowCount, nil
}

func (c *DayCache) readTicks(symbol string, day time.Time, dt marketdata.DataType) ([]marketdata.Tick, error) {
	_, body, verdict, err := readDayFile(dayPath(c.cfg.Root, symbol, day, dt))
	if err != nil {
		return nil, err
	}
	if verdict != ValidOk {
		return nil, ErrMissingMeta
	}
	var ticks []marketdata.Tick
	if err := decodeGob(body, &ticks); err != nil {
		return nil, err
	}
	return ticks, nil
}

func decodeGob(body []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(body)).Decode(v)
}

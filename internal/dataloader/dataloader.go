// Package dataloader implements the day-granular fallback chain (DayCache,
// then the exchange-API adapter, then the archive tier) with bounded
// parallel per-day fetches and tick-to-bar resample-and-cache when a
// timeframe is requested but only ticks exist.
package dataloader

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/backreplay/internal/archive"
	"github.com/eddiefleurent/backreplay/internal/candle"
	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// Config holds the loader tier's tunables.
type Config struct {
	// ParallelDays bounds the width of the per-symbol day-fetch pool.
	ParallelDays int
	// GapThreshold mirrors DayCache's: an adapter response that doesn't
	// begin within this distance of the day's start is discarded in favor
	// of the archive tier.
	GapThreshold time.Duration
	// AllowPartialData permits Load to return a frame with reported gaps
	// instead of erroring when a day fails every tier.
	AllowPartialData bool
}

// DefaultConfig carries the documented defaults.
var DefaultConfig = Config{
	ParallelDays:     4,
	GapThreshold:     24 * time.Hour,
	AllowPartialData: false,
}

// Loader orchestrates the per-day fallback chain.
type Loader struct {
	cfg     Config
	cache   *daycache.DayCache
	adapter marketdata.ExchangeApiAdapter
	arc     *archive.Fetcher
	logger  *log.Logger
}

// New wires a Loader around its three collaborators.
func New(cfg Config, cache *daycache.DayCache, adapter marketdata.ExchangeApiAdapter, arc *archive.Fetcher, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ParallelDays <= 0 {
		cfg.ParallelDays = DefaultConfig.ParallelDays
	}
	return &Loader{cfg: cfg, cache: cache, adapter: adapter, arc: arc, logger: logger}
}

// MissingRangeError reports the days that failed every tier in the fallback
// chain's failure contract.
type MissingRangeError struct {
	Symbol string
	Days   []time.Time
}

func (e *MissingRangeError) Error() string {
	return fmt.Sprintf("dataloader: %s missing %d day(s) after exhausting all tiers", e.Symbol, len(e.Days))
}

// LoadBars returns a single contiguous, sorted bar frame for the range,
// repairing missing days through the fallback chain first.
func (l *Loader) LoadBars(ctx context.Context, symbol string, tf marketdata.Timeframe, r marketdata.TimeRange) (marketdata.BarFrame, error) {
	frame, missing, err := l.cache.LoadBars(symbol, tf, r)
	if err != nil {
		return marketdata.BarFrame{}, fmt.Errorf("dataloader: cache load %s: %w", symbol, err)
	}
	if len(missing) == 0 {
		return frame, nil
	}

	failed, err := l.repairBars(ctx, symbol, tf, missing)
	if err != nil {
		return marketdata.BarFrame{}, err
	}
	if len(failed) > 0 {
		if !l.cfg.AllowPartialData {
			return marketdata.BarFrame{}, &MissingRangeError{Symbol: symbol, Days: failed}
		}
		l.logger.Printf("dataloader: proceeding with partial data for %s, missing %d day(s)", symbol, len(failed))
	}

	frame, _, err = l.cache.LoadBars(symbol, tf, r)
	if err != nil {
		return marketdata.BarFrame{}, fmt.Errorf("dataloader: re-read after repair %s: %w", symbol, err)
	}
	return frame, nil
}

// LoadTicks eagerly loads the range's ticks, repairing missing days
// through the fallback chain first; the lazy streaming counterpart lives
// in internal/tickstream.
// The returned day slice reports the days that failed every fallback tier
// and were carried anyway because AllowPartialData is set, so the caller
// can surface the missing ranges in its diagnostics.
func (l *Loader) LoadTicks(ctx context.Context, symbol string, r marketdata.TimeRange, tt marketdata.TickType) (marketdata.TickFrame, []time.Time, error) {
	frame, missing, err := l.cache.LoadTicks(symbol, tt, r)
	if err != nil {
		return marketdata.TickFrame{}, nil, fmt.Errorf("dataloader: cache load %s: %w", symbol, err)
	}
	if len(missing) == 0 {
		return frame, nil, nil
	}

	failed, err := l.repairTicks(ctx, symbol, tt, missing)
	if err != nil {
		return marketdata.TickFrame{}, nil, err
	}
	if len(failed) > 0 {
		if !l.cfg.AllowPartialData {
			return marketdata.TickFrame{}, nil, &MissingRangeError{Symbol: symbol, Days: failed}
		}
		l.logger.Printf("dataloader: proceeding with partial tick data for %s, missing %d day(s)", symbol, len(failed))
	}

	frame, _, err = l.cache.LoadTicks(symbol, tt, r)
	if err != nil {
		return marketdata.TickFrame{}, nil, fmt.Errorf("dataloader: re-read after repair %s: %w", symbol, err)
	}
	return frame, failed, nil
}

// repairBars fetches each missing day in a parallel pool bounded to
// ParallelDays workers (days are independent because each one is a
// distinct file) and returns the days that still failed after every
// tier, sorted for determinism.
func (l *Loader) repairBars(ctx context.Context, symbol string, tf marketdata.Timeframe, days []time.Time) ([]time.Time, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.ParallelDays)

	failedCh := make(chan time.Time, len(days))
	for _, day := range days {
		day := day
		g.Go(func() error {
			ok, err := l.repairDayBars(gctx, symbol, day, tf)
			if err != nil {
				return err
			}
			if !ok {
				failedCh <- day
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(failedCh)

	var failed []time.Time
	for d := range failedCh {
		failed = append(failed, d)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Before(failed[j]) })
	return failed, nil
}

func (l *Loader) repairDayBars(ctx context.Context, symbol string, day time.Time, tf marketdata.Timeframe) (bool, error) {
	dayRange := marketdata.TimeRange{Start: day, End: day.AddDate(0, 0, 1)}

	if l.adapter != nil {
		bars, err := l.adapter.GetBars(ctx, symbol, tf, dayRange)
		if err == nil && len(bars.Bars) > 0 && withinGap(bars.Bars[0].StartTime, day, l.cfg.GapThreshold) {
			if err := l.cache.SaveBars(symbol, day, tf, bars.Bars, marketdata.SourceExchange); err != nil {
				return false, fmt.Errorf("dataloader: save exchange bars %s %s: %w", symbol, day.Format("2006-01-02"), err)
			}
			return true, nil
		}

		ticks, terr := l.adapter.GetTicks(ctx, symbol, dayRange, marketdata.TickTypeQuote)
		if terr == nil && len(ticks.Ticks) > 0 && withinGap(ticks.Ticks[0].Time, day, l.cfg.GapThreshold) {
			if err := l.cache.SaveTicks(symbol, day, marketdata.TickTypeQuote, ticks.Ticks, marketdata.SourceExchange); err != nil {
				return false, fmt.Errorf("dataloader: save exchange ticks %s %s: %w", symbol, day.Format("2006-01-02"), err)
			}
			bars := candle.ResampleTicksToBars(ticks.Ticks, tf)
			if len(bars) > 0 {
				if err := l.cache.SaveBars(symbol, day, tf, bars, marketdata.SourceDerived); err != nil {
					return false, fmt.Errorf("dataloader: save derived bars %s %s: %w", symbol, day.Format("2006-01-02"), err)
				}
			}
			return true, nil
		}
	}

	if l.arc == nil {
		return false, nil
	}
	ok, err := l.arc.Fetch(ctx, symbol, day)
	if err != nil {
		return false, fmt.Errorf("dataloader: archive fetch %s %s: %w", symbol, day.Format("2006-01-02"), err)
	}
	if !ok {
		return false, nil
	}
	// Archive ticks are now cached; derive bars for the requested timeframe.
	tickFrame, _, err := l.cache.LoadTicks(symbol, marketdata.TickTypeQuote, dayRange)
	if err != nil || len(tickFrame.Ticks) == 0 {
		return false, nil
	}
	bars := candle.ResampleTicksToBars(tickFrame.Ticks, tf)
	if len(bars) == 0 {
		return false, nil
	}
	if err := l.cache.SaveBars(symbol, day, tf, bars, marketdata.SourceDerived); err != nil {
		return false, fmt.Errorf("dataloader: save archive-derived bars %s %s: %w", symbol, day.Format("2006-01-02"), err)
	}
	return true, nil
}

func (l *Loader) repairTicks(ctx context.Context, symbol string, tt marketdata.TickType, days []time.Time) ([]time.Time, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.ParallelDays)

	failedCh := make(chan time.Time, len(days))
	for _, day := range days {
		day := day
		g.Go(func() error {
			ok, err := l.repairDayTicks(gctx, symbol, day, tt)
			if err != nil {
				return err
			}
			if !ok {
				failedCh <- day
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(failedCh)

	var failed []time.Time
	for d := range failedCh {
		failed = append(failed, d)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Before(failed[j]) })
	return failed, nil
}

func (l *Loader) repairDayTicks(ctx context.Context, symbol string, day time.Time, tt marketdata.TickType) (bool, error) {
	dayRange := marketdata.TimeRange{Start: day, End: day.AddDate(0, 0, 1)}

	if l.adapter != nil {
		ticks, err := l.adapter.GetTicks(ctx, symbol, dayRange, tt)
		if err == nil && len(ticks.Ticks) > 0 && withinGap(ticks.Ticks[0].Time, day, l.cfg.GapThreshold) {
			if err := l.cache.SaveTicks(symbol, day, tt, ticks.Ticks, marketdata.SourceExchange); err != nil {
				return false, fmt.Errorf("dataloader: save exchange ticks %s %s: %w", symbol, day.Format("2006-01-02"), err)
			}
			return true, nil
		}
	}

	if l.arc == nil {
		return false, nil
	}
	ok, err := l.arc.Fetch(ctx, symbol, day)
	if err != nil {
		return false, fmt.Errorf("dataloader: archive fetch %s %s: %w", symbol, day.Format("2006-01-02"), err)
	}
	return ok, nil
}

func withinGap(first, dayStart time.Time, gap time.Duration) bool {
	return first.Sub(dayStart) <= gap
}

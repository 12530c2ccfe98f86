package replay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/backreplay/internal/archive"
	"github.com/eddiefleurent/backreplay/internal/candle"
	"github.com/eddiefleurent/backreplay/internal/config"
	"github.com/eddiefleurent/backreplay/internal/dataloader"
	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
	"github.com/eddiefleurent/backreplay/internal/metrics"
	"github.com/eddiefleurent/backreplay/internal/simbroker"
	"github.com/eddiefleurent/backreplay/internal/strategy"
	"github.com/eddiefleurent/backreplay/internal/tickstream"
	"github.com/eddiefleurent/backreplay/internal/validation"
)

// tickChunkSize is the chunk size passed to tickstream.Open; 0 would also
// work (daySource defaults it). tickstream still decodes and holds each
// day-file whole, so this does not bound memory below one day of ticks per
// symbol.
const tickChunkSize = 4096

// Run is the single orchestration entry point: a
// function that receives a BacktestConfig plus the collaborators the engine
// treats as injected (the exchange-API adapter, registered strategies, and
// an optional position monitor), wires every component in the order
// DayCache -> SymbolInfo -> ArchiveFetcher -> DataLoader -> SimBroker
// -> CandleBuilder -> Clock -> workers (DayCache is opened before SymbolInfo,
// whose fallback reads DayCache's sidecar), repairs and opens one tick stream
// per symbol, and drives the replay to completion.
//
// Any failure before replay starts (cache open, data repair exhausting
// every fallback tier without allow_partial_data) is fatal to the run.
// onReady, when non-nil, is invoked once the Controller is fully wired
// (every symbol's tick stream attached) but before the replay loop starts.
// It is the hook cmd/backtest uses to attach the optional dashboard, which reads
// the Controller as a dashboard.StatusProvider.
func Run(
	ctx context.Context,
	cfg config.BacktestConfig,
	adapter marketdata.ExchangeApiAdapter,
	bindings []StrategyBinding,
	monitor strategy.PositionMonitor,
	onReady func(*Controller),
	logger *log.Logger,
) (*BacktestResult, error) {
	if logger == nil {
		logger = log.Default()
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("replay: config has no symbols")
	}

	gapThreshold := time.Duration(cfg.Cache.GapThresholdDays * float64(24*time.Hour))

	dcCfg := daycache.Config{
		Root:         cfg.Cache.Root,
		TTL:          time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour,
		GapThreshold: gapThreshold,
		IndexEnabled: cfg.Cache.IndexEnabled,
	}
	// Omitted default-on options arrive as nil when the caller skipped
	// config.Load's Normalize pass.
	dcCfg.ValidationEnabled = cfg.Cache.ValidationEnabled == nil || *cfg.Cache.ValidationEnabled
	dcCfg.Incremental = cfg.Cache.Incremental == nil || *cfg.Cache.Incremental
	dcache, err := daycache.New(dcCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("replay: open day cache: %w", err)
	}

	// SymbolInfo is loaded once DayCache is available to serve as its
	// fallback.
	sic := newSymbolInfoCache()
	if err := sic.load(ctx, cfg.Symbols, adapter, dcache, cfg.Start); err != nil {
		return nil, fmt.Errorf("replay: load symbol info: %w", err)
	}

	var fetcher *archive.Fetcher
	if cfg.Archive.Enabled {
		arcCfg := archive.DefaultConfig
		arcCfg.DayURLTemplate = cfg.Archive.DayURLPattern
		arcCfg.MonthURLTemplate = cfg.Archive.MonthURLPattern
		arcCfg.YearURLTemplate = cfg.Archive.YearURLPattern
		if cfg.Archive.Timeout > 0 {
			arcCfg.Timeout = cfg.Archive.Timeout
		}
		if cfg.Archive.MaxRetries > 0 {
			arcCfg.MaxRetries = cfg.Archive.MaxRetries
		}
		arcCfg.TrustedHosts = cfg.Archive.TrustedHosts
		arcCfg.SavePath = cfg.Archive.SavePath
		// broker_name_mapping translates the exchange server's name into the
		// archive host's {BROKER} segment; symbol_name_mapping does the same
		// for {SYMBOL}.
		if adapter != nil {
			server := adapter.ServerName()
			if mapped, ok := cfg.BrokerNameMapping[server]; ok {
				arcCfg.BrokerName = mapped
			} else {
				arcCfg.BrokerName = server
			}
		}
		arcCfg.SymbolNames = cfg.SymbolNameMapping
		downloader := archive.NewHTTPDownloader(arcCfg.Timeout)
		fetcher = archive.NewFetcher(arcCfg, downloader, dcache, logger)
	}

	loaderCfg := dataloader.Config{
		ParallelDays:     cfg.Loader.ParallelDays,
		GapThreshold:     gapThreshold,
		AllowPartialData: cfg.AllowPartialData,
	}
	loader := dataloader.New(loaderCfg, dcache, adapter, fetcher, logger)

	broker := simbroker.New(simbroker.Config{
		InitialBalance: cfg.InitialBalance,
		Leverage:       cfg.Leverage,
	}, sic)
	candles := candle.NewBuilder()
	recorder := metrics.NewRecorder(cfg.EquitySampleStride)
	registry := validation.NewRegistry(validation.ModeAll)

	controller := NewController(cfg, broker, candles, recorder, registry, bindings, monitor, logger)

	fullRange := marketdata.TimeRange{Start: cfg.Start, End: cfg.End}
	for _, symbol := range cfg.Symbols {
		frame, partial, err := loader.LoadTicks(ctx, symbol, fullRange, marketdata.TickTypeQuote)
		if err != nil {
			if mre, ok := err.(*dataloader.MissingRangeError); ok {
				controller.recordMissing(symbol, mre.Days)
			}
			return nil, fmt.Errorf("replay: warm cache for %s: %w", symbol, err)
		}
		controller.recordMissing(symbol, partial)

		// stream_ticks_from_disk selects lazy per-day file reads over keeping
		// the already-loaded frame in memory for the whole replay.
		var stream *tickstream.Stream
		if cfg.StreamTicksFromDisk {
			stream, err = tickstream.Open(dcache, []string{symbol}, fullRange, marketdata.TickTypeQuote, tickChunkSize)
		} else {
			stream, err = tickstream.FromFrames(frame)
		}
		if err != nil {
			return nil, fmt.Errorf("replay: open tick stream for %s: %w", symbol, err)
		}
		cur := newSymbolCursor(symbol, stream)
		controller.attachStream(symbol, cur)
		_, estimated := stream.Progress()
		controller.setEstimated(symbol, estimated)
	}

	if onReady != nil {
		onReady(controller)
	}
	return controller.Run(ctx)
}

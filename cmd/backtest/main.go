// Package main provides the entry point for the deterministic multi-symbol
// backtest replay engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/backreplay/internal/config"
	"github.com/eddiefleurent/backreplay/internal/dashboard"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
	"github.com/eddiefleurent/backreplay/internal/replay"
	"github.com/eddiefleurent/backreplay/internal/strategy"
)

// Exit codes: 0 ok, 1 config error, 2 data error (unrecoverable missing
// day), 3 runtime abort.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitDataError    = 2
	exitRuntimeAbort = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, outPath string
	flag.StringVar(&configPath, "config", "backtest.yaml", "Path to backtest configuration file")
	flag.StringVar(&outPath, "out", "", "Optional path to write the BacktestResult as JSON")
	flag.Parse()

	logger := log.New(os.Stdout, "[BACKTEST] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Printf("failed to load config: %v", err)
		return exitConfigError
	}

	logger.Printf("replaying %d symbol(s) from %s to %s", len(cfg.Symbols), cfg.Start.Format(time.RFC3339), cfg.End.Format(time.RFC3339))

	// Strategy implementations are supplied by the caller; this entry point
	// registers the sample crossover per symbol as a stand-in until a real
	// strategy set is injected.
	bindings := make([]replay.StrategyBinding, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		inst := strategy.NewSampleCrossover(strategy.CrossoverConfig{
			Symbol:       sym,
			Timeframe:    marketdata.M1,
			FastPeriod:   5,
			SlowPeriod:   20,
			Volume:       0.1,
			StopDistance: 0.0050,
		}, logger)
		bindings = append(bindings, replay.StrategyBinding{Symbol: sym, Strategy: inst})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var dashServer *dashboard.Server
	onReady := func(c *replay.Controller) {
		if !cfg.Dashboard.Enabled {
			return
		}
		dashLogger := logrus.New()
		dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		dashServer = dashboard.NewServer(dashboard.Config{Addr: cfg.Dashboard.Addr}, c, dashLogger)
		if err := dashServer.Start(); err != nil {
			logger.Printf("dashboard server error: %v", err)
		}
	}

	// No ExchangeApiAdapter is wired here: a pure-archive/cache backtest
	// (the common case for replaying already-downloaded history) needs none.
	result, err := replay.Run(ctx, *cfg, nil, bindings, nil, onReady, logger)

	if dashServer != nil {
		if serr := dashServer.Shutdown(); serr != nil {
			logger.Printf("dashboard shutdown error: %v", serr)
		}
	}

	if err != nil {
		logger.Printf("replay failed: %v", err)
		return exitDataError
	}

	if result.Diagnostics.Aborted {
		logger.Printf("replay aborted: %s", result.Diagnostics.AbortReason)
		writeResult(logger, outPath, result)
		return exitRuntimeAbort
	}

	logger.Printf("replay complete: %d trade(s), realized P&L %.2f, win rate %.1f%%, max drawdown %.1f%%",
		result.Summary.TradeCount, result.Summary.RealizedPnL, result.Summary.WinRate*100, result.Summary.MaxDrawdown*100)

	writeResult(logger, outPath, result)
	return exitOK
}

func writeResult(logger *log.Logger, outPath string, result *replay.BacktestResult) {
	if outPath == "" {
		return
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Printf("failed to marshal result: %v", err)
		return
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil { // #nosec G306 -- operator-chosen output path, not sensitive
		logger.Printf("failed to write result to %q: %v", outPath, err)
	}
}

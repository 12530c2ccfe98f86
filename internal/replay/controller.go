package replay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/backreplay/internal/candle"
	"github.com/eddiefleurent/backreplay/internal/clock"
	"github.com/eddiefleurent/backreplay/internal/config"
	"github.com/eddiefleurent/backreplay/internal/dashboard"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
	"github.com/eddiefleurent/backreplay/internal/metrics"
	"github.com/eddiefleurent/backreplay/internal/simbroker"
	"github.com/eddiefleurent/backreplay/internal/strategy"
	"github.com/eddiefleurent/backreplay/internal/validation"
)

// StrategyBinding ties one StrategyInstance to the symbol it trades; each
// symbol's worker steps every strategy bound to it.
type StrategyBinding struct {
	Symbol   string
	Strategy strategy.StrategyInstance
}

// Diagnostics carries run-level facts that aren't part of the ledger or
// equity curve but matter to an operator reading the result.
type Diagnostics struct {
	RunID         string
	Aborted       bool
	AbortReason   string
	MissingDays   map[string][]time.Time
	FinalTime     time.Time
	FinalGenerate uint64
}

// BacktestResult is everything a finished replay hands back
type BacktestResult struct {
	Ledger      []simbroker.TradeRecord
	EquityCurve []metrics.EquitySample
	Summary     metrics.Summary
	Diagnostics Diagnostics
}

// Controller drives the replay: it owns the clock/barrier,
// spawns one worker goroutine per symbol plus an optional position-monitor
// goroutine, and drives the replay to termination.
type Controller struct {
	cfg      config.BacktestConfig
	logger   *log.Logger
	broker   *simbroker.Broker
	candles  *candle.Builder
	recorder *metrics.Recorder
	registry *validation.Registry

	mode    clock.Mode
	clk     *clock.Clock
	barrier *clock.Barrier
	cursors map[string]*symbolCursor

	bindings map[string][]strategy.StrategyInstance
	monitor  strategy.PositionMonitor

	runID      string
	progress   map[string]*progressState
	running    atomic.Bool
	abortMu    sync.Mutex
	aborted    bool
	abortWhy   string
	missingMu  sync.Mutex
	missing    map[string][]time.Time
}

type progressState struct {
	mu                sync.Mutex
	produced, estimated int64
}

// NewController wires a Controller around its already-constructed
// collaborators. Run (below) is the usual entry point; NewController is
// exposed directly for callers (and tests) that want to assemble the
// collaborators themselves.
func NewController(
	cfg config.BacktestConfig,
	broker *simbroker.Broker,
	candles *candle.Builder,
	recorder *metrics.Recorder,
	registry *validation.Registry,
	bindings []StrategyBinding,
	monitor strategy.PositionMonitor,
	logger *log.Logger,
) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	mode := clock.ModeMinute
	if cfg.UseTickData {
		mode = clock.ModeTick
	}
	c := &Controller{
		cfg:      cfg,
		mode:     mode,
		logger:   logger,
		broker:   broker,
		candles:  candles,
		recorder: recorder,
		registry: registry,
		cursors:  make(map[string]*symbolCursor),
		bindings: make(map[string][]strategy.StrategyInstance),
		monitor:  monitor,
		runID:    uuid.NewString(),
		progress: make(map[string]*progressState),
		missing:  make(map[string][]time.Time),
	}
	for _, b := range bindings {
		c.bindings[b.Symbol] = append(c.bindings[b.Symbol], b.Strategy)
		for _, tf := range b.Strategy.DeclaredTimeframes() {
			candles.Subscribe(b.Symbol, tf)
		}
		for _, vs := range b.Strategy.DeclaredValidations() {
			registry.Register(vs.Name, vs.Order, vs.ShortTag, vs.Fn)
		}
		if _, ok := c.progress[b.Symbol]; !ok {
			c.progress[b.Symbol] = &progressState{}
		}
	}
	return c
}

// attachStream wires a per-symbol tickstream.Stream into the controller,
// replacing any previously attached stream for that symbol.
func (c *Controller) attachStream(symbol string, cur *symbolCursor) {
	c.cursors[symbol] = cur
}

// setEstimated records a stream's estimated tick count for progress
// reporting.
func (c *Controller) setEstimated(symbol string, estimated int64) {
	p := c.progress[symbol]
	if p == nil {
		p = &progressState{}
		c.progress[symbol] = p
	}
	p.mu.Lock()
	p.estimated = estimated
	p.mu.Unlock()
}

// Run drives every symbol worker and the optional monitor to completion
// (or abort) and returns the accumulated result. It blocks until the
// replay terminates or ctx is canceled.
func (c *Controller) Run(ctx context.Context) (*BacktestResult, error) {
	if len(c.cursors) == 0 {
		return nil, fmt.Errorf("replay: no tick streams attached")
	}

	participants := len(c.cursors)
	if c.monitor != nil {
		participants++
	}
	c.clk = clock.New(c.cfg.Start)
	c.barrier = clock.NewBarrier(participants, c.clk, c.advance)
	c.running.Store(true)

	syncTimeout := 30 * time.Second

	var wg sync.WaitGroup
	symbols := make([]string, 0, len(c.cursors))
	for sym := range c.cursors {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			c.runSymbolWorker(ctx, symbol, syncTimeout)
		}(sym)
	}
	if c.monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runMonitorWorker(ctx, syncTimeout)
		}()
	}
	wg.Wait()
	c.running.Store(false)

	c.abortMu.Lock()
	aborted, why := c.aborted, c.abortWhy
	c.abortMu.Unlock()

	c.missingMu.Lock()
	missing := make(map[string][]time.Time, len(c.missing))
	for k, v := range c.missing {
		missing[k] = v
	}
	c.missingMu.Unlock()

	result := &BacktestResult{
		Ledger:      c.recorder.Ledger(),
		EquityCurve: c.recorder.EquityCurve(),
		Summary:     c.recorder.Summarize(c.cfg.InitialBalance),
		Diagnostics: Diagnostics{
			RunID:         c.runID,
			Aborted:       aborted,
			AbortReason:   why,
			MissingDays:   missing,
			FinalTime:     c.clk.Now(),
			FinalGenerate: c.barrier.Generation(),
		},
	}
	return result, nil
}

// advance implements clock.AdvanceFunc: it peeks every cursor, picks the
// earliest next tick time across all of them, computes the new virtual
// instant (that tick's time in tick mode; now + one minute in minute mode,
// fast-forwarded over empty minutes), and builds the availability bitmap
// for it. It runs exactly once per generation, under the barrier's lock,
// by whichever participant arrives last.
func (c *Controller) advance() (time.Time, map[string]bool, bool) {
	var earliest time.Time
	has := false
	for _, cur := range c.cursors {
		t, ok, err := cur.peek()
		if err != nil {
			c.recordAbort(fmt.Sprintf("tick stream error for %s: %v", cur.symbol, err))
			continue
		}
		if !ok {
			continue
		}
		if !has || t.Time.Before(earliest) {
			earliest = t.Time
			has = true
		}
	}
	if !has {
		return time.Time{}, nil, false
	}
	if !c.cfg.End.IsZero() && earliest.After(c.cfg.End) {
		return time.Time{}, nil, false
	}
	if c.cfg.EquityKillThreshold > 0 && c.broker.Equity() <= c.cfg.EquityKillThreshold {
		c.recordAbort(fmt.Sprintf("equity %.2f breached kill threshold %.2f", c.broker.Equity(), c.cfg.EquityKillThreshold))
		return time.Time{}, nil, false
	}

	next := earliest
	if c.mode == clock.ModeMinute {
		next = c.clk.Now().Add(time.Minute)
		if earliest.After(next) {
			next = earliest.Truncate(time.Minute).Add(time.Minute)
		}
	}

	avail := make(map[string]bool, len(c.cursors))
	for sym, cur := range c.cursors {
		if t, ok, _ := cur.peek(); ok && !t.Time.After(next) {
			avail[sym] = true
		}
	}
	c.recorder.OnTick(next, c.broker.Equity())
	return next, avail, true
}

func (c *Controller) recordAbort(reason string) {
	c.abortMu.Lock()
	defer c.abortMu.Unlock()
	if !c.aborted {
		c.aborted = true
		c.abortWhy = reason
	}
}

// runSymbolWorker is one symbol's participant loop: sync on the barrier,
// feed every tick at the new instant through the broker and candle builder
// (SL/TP resolution always precedes the strategy callback for the same
// step), then step every strategy bound to this symbol.
func (c *Controller) runSymbolWorker(ctx context.Context, symbol string, timeout time.Duration) {
	cur := c.cursors[symbol]
	var lastTick marketdata.Tick

	view := strategy.StrategyView{
		Now: func() marketdata.Tick { return lastTick },
		Positions: func() []simbroker.Position {
			return c.broker.Positions(simbroker.PositionFilter{Symbol: symbol})
		},
		Equity: c.broker.Equity,
		Tail: func(tf marketdata.Timeframe, count int) []marketdata.Bar {
			return c.candles.Tail(symbol, tf, count)
		},
		Partial: func(tf marketdata.Timeframe) (marketdata.Bar, bool) {
			return c.candles.Partial(symbol, tf)
		},
	}

	for {
		if err := c.barrier.Sync(ctx, timeout); err != nil {
			if err != clock.ErrAborted {
				c.recordAbort(fmt.Sprintf("symbol %s: %v", symbol, err))
			}
			return
		}
		if !c.running.Load() {
			c.barrier.Leave()
			return
		}

		_, ok, err := cur.peek()
		if err != nil {
			c.recordAbort(fmt.Sprintf("symbol %s: %v", symbol, err))
			c.barrier.Leave()
			return
		}
		if !ok {
			c.barrier.Leave()
			return
		}
		if !c.clk.HasDataAt(symbol) {
			continue
		}

		// In tick mode every tick at the instant is consumed; in minute mode
		// the instant closes a whole minute, so everything at or before it
		// drains through the same SL/TP-then-candle path tick by tick.
		now := c.clk.Now()
		for {
			t, ok, err := cur.peek()
			if err != nil {
				c.recordAbort(fmt.Sprintf("symbol %s: %v", symbol, err))
				c.barrier.Leave()
				return
			}
			if !ok || t.Time.After(now) {
				break
			}
			tick, _ := cur.consume()
			lastTick = tick

			closed := c.broker.OnTick(tick)
			for _, rec := range closed {
				c.recorder.RecordTrade(rec)
			}
			c.candles.OnTick(tick)
			c.bumpProgress(symbol)
		}

		if c.cfg.EquityKillThreshold > 0 && c.broker.Equity() <= c.cfg.EquityKillThreshold {
			c.barrier.Leave()
			return
		}

		for _, inst := range c.bindings[symbol] {
			req, err := inst.OnStep(ctx, view)
			if err != nil {
				c.logger.Printf("replay: strategy error for %s: %v", symbol, err)
				continue
			}
			if req == nil {
				continue
			}
			if c.registry.Len() > 0 {
				res := c.registry.Evaluate(validation.SignalData{
					Price: req.Price,
					Size:  req.Volume,
					Side:  string(req.Side),
					SL:    req.SL,
					TP:    req.TP,
				}, brokerView{c.broker}, candleView{c.candles})
				if !res.Pass {
					c.logger.Printf("replay: signal for %s failed validation [%s]: %v", symbol, res.Tag, res.Reasons)
					continue
				}
				req.Annotations = res.Checks
			}
			if _, code, err := c.broker.Submit(*req); err != nil {
				c.logger.Printf("replay: order submit error for %s: %v", symbol, err)
			} else if code != simbroker.RejectNone {
				c.logger.Printf("replay: order rejected for %s: %s", symbol, code)
			}
		}
	}
}

// runMonitorWorker runs the optional PositionMonitor's barrier participant
// loop. It sees every open position across symbols rather than one
// symbol's slice.
func (c *Controller) runMonitorWorker(ctx context.Context, timeout time.Duration) {
	view := strategy.StrategyView{
		Now:       func() marketdata.Tick { return marketdata.Tick{} },
		Positions: func() []simbroker.Position { return c.broker.Positions(simbroker.PositionFilter{}) },
		Equity:    c.broker.Equity,
		Tail:      func(marketdata.Timeframe, int) []marketdata.Bar { return nil },
		Partial:   func(marketdata.Timeframe) (marketdata.Bar, bool) { return marketdata.Bar{}, false },
	}
	for {
		if err := c.barrier.Sync(ctx, timeout); err != nil {
			if err != clock.ErrAborted {
				c.recordAbort(fmt.Sprintf("monitor: %v", err))
			}
			return
		}
		if !c.running.Load() {
			c.barrier.Leave()
			return
		}
		if err := c.monitor.OnBarrierStep(ctx, view); err != nil {
			c.logger.Printf("replay: position monitor error: %v", err)
		}
	}
}

// brokerView and candleView adapt the engine's read surfaces to the
// validation package's narrow collaborator shapes: checks are pure
// functions of signal data plus read-only broker and candle views.
type brokerView struct{ broker *simbroker.Broker }

func (v brokerView) Equity() float64 { return v.broker.Equity() }
func (v brokerView) OpenPositionCount(symbol string) int {
	return len(v.broker.Positions(simbroker.PositionFilter{Symbol: symbol}))
}

type candleView struct{ candles *candle.Builder }

func (v candleView) Tail(symbol string, tf marketdata.Timeframe, count int) []marketdata.Bar {
	return v.candles.Tail(symbol, tf, count)
}

func (c *Controller) bumpProgress(symbol string) {
	p := c.progress[symbol]
	if p == nil {
		return
	}
	p.mu.Lock()
	p.produced++
	p.mu.Unlock()
}

func (c *Controller) recordMissing(symbol string, days []time.Time) {
	if len(days) == 0 {
		return
	}
	c.missingMu.Lock()
	c.missing[symbol] = append(c.missing[symbol], days...)
	c.missingMu.Unlock()
}

// Status implements dashboard.StatusProvider.
func (c *Controller) Status() dashboard.RunStatus {
	progress := make([]dashboard.SymbolProgress, 0, len(c.progress))
	symbols := make([]string, 0, len(c.progress))
	for sym := range c.progress {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		p := c.progress[sym]
		p.mu.Lock()
		produced, estimated := p.produced, p.estimated
		p.mu.Unlock()
		progress = append(progress, dashboard.SymbolProgress{Symbol: sym, Produced: produced, Estimated: estimated})
	}
	var gen uint64
	if c.barrier != nil {
		gen = c.barrier.Generation()
	}
	var now time.Time
	if c.clk != nil {
		now = c.clk.Now()
	}
	return dashboard.RunStatus{
		RunID:       c.runID,
		CurrentTime: now,
		Equity:      c.broker.Equity(),
		Generation:  gen,
		Progress:    progress,
		Running:     c.running.Load(),
	}
}

// Ledger implements dashboard.StatusProvider.
func (c *Controller) Ledger() []simbroker.TradeRecord {
	return c.recorder.Ledger()
}

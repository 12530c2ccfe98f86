// Package metrics implements the equity recorder: bounded-stride equity
// snapshots, the trade ledger, and end-of-run summary statistics computed
// purely from the ledger plus the equity curve.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/eddiefleurent/backreplay/internal/simbroker"
)

// EquitySample is one point on the equity curve.
type EquitySample struct {
	Time   time.Time
	Equity float64
}

// Summary is the end-of-run statistics block: running-peak drawdown plus
// mean/stddev of per-trade returns for a Sharpe-like ratio.
type Summary struct {
	TradeCount      int
	WinningTrades   int
	LosingTrades    int
	WinRate         float64
	RealizedPnL     float64
	ProfitFactor    float64
	AvgWin          float64
	AvgLoss         float64
	MaxDrawdown     float64 // fraction of peak equity, e.g. 0.12 = 12%
	SharpeRatio     float64
	LongestFlat     time.Duration // longest stretch with no new ledger entry
}

// Recorder accumulates the trade ledger and an equity curve sampled at a
// bounded stride, then derives Summary on demand.
type Recorder struct {
	stride int // snapshot every Stride ticks

	mu      sync.Mutex
	ticks   int
	equity  []EquitySample
	ledger  []simbroker.TradeRecord
}

// NewRecorder constructs a Recorder snapshotting equity every stride ticks.
// stride <= 0 is treated as 1 (snapshot every tick).
func NewRecorder(stride int) *Recorder {
	if stride <= 0 {
		stride = 1
	}
	return &Recorder{stride: stride}
}

// OnTick is called once per virtual step with the broker's current equity;
// it records a sample only every stride calls so the ratio of samples to
// total replay time stays bounded.
func (r *Recorder) OnTick(t time.Time, equity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
	if r.ticks%r.stride != 0 {
		return
	}
	r.equity = append(r.equity, EquitySample{Time: t, Equity: equity})
}

// RecordTrade appends a closed trade to the ledger.
func (r *Recorder) RecordTrade(rec simbroker.TradeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, rec)
}

// Ledger returns every recorded TradeRecord in the canonical
// (CloseTime, Symbol, Ticket) order, so the drained ledger is identical
// across runs even when workers for different symbols recorded closures
// from the same barrier generation in different interleavings.
func (r *Recorder) Ledger() []simbroker.TradeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]simbroker.TradeRecord, len(r.ledger))
	copy(out, r.ledger)
	simbroker.SortLedger(out)
	return out
}

// EquityCurve returns every recorded equity sample, in time order.
func (r *Recorder) EquityCurve() []EquitySample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EquitySample, len(r.equity))
	copy(out, r.equity)
	return out
}

// Summarize computes Summary from the ledger and equity curve alone; no
// live broker state is consulted after the run terminates.
func (r *Recorder) Summarize(initialBalance float64) Summary {
	r.mu.Lock()
	ledger := make([]simbroker.TradeRecord, len(r.ledger))
	copy(ledger, r.ledger)
	equity := make([]EquitySample, len(r.equity))
	copy(equity, r.equity)
	r.mu.Unlock()
	simbroker.SortLedger(ledger)

	var s Summary
	s.TradeCount = len(ledger)
	if s.TradeCount == 0 {
		s.MaxDrawdown = drawdownFromCurve(equity, initialBalance)
		return s
	}

	totalWin, totalLoss := 0.0, 0.0
	returns := make([]float64, 0, len(ledger))
	for _, t := range ledger {
		s.RealizedPnL += t.Profit
		if t.Profit > 0 {
			s.WinningTrades++
			totalWin += t.Profit
		} else if t.Profit < 0 {
			s.LosingTrades++
			totalLoss += -t.Profit
		}
		if t.OpenPrice != 0 {
			returns = append(returns, t.Profit/t.OpenPrice)
		}
	}

	s.WinRate = float64(s.WinningTrades) / float64(s.TradeCount)
	if s.WinningTrades > 0 {
		s.AvgWin = totalWin / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = totalLoss / float64(s.LosingTrades)
	}
	if totalLoss > 0 {
		s.ProfitFactor = totalWin / totalLoss
	}

	s.MaxDrawdown = drawdownFromCurve(equity, initialBalance)
	s.LongestFlat = longestFlat(ledger)

	if len(returns) > 1 {
		mean, stdDev := meanStdDev(returns)
		if stdDev > 0 {
			s.SharpeRatio = (mean / stdDev) * math.Sqrt(252)
		}
	}
	return s
}

// drawdownFromCurve returns the largest peak-to-trough fractional decline
// across the equity curve, running-peak style.
func drawdownFromCurve(curve []EquitySample, initialBalance float64) float64 {
	peak := initialBalance
	if peak <= 0 && len(curve) > 0 {
		peak = curve[0].Equity
	}
	maxDD := 0.0
	for _, s := range curve {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - s.Equity) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// longestFlat returns the longest gap between consecutive trade closes,
// the longest flat period of the run.
func longestFlat(ledger []simbroker.TradeRecord) time.Duration {
	var longest time.Duration
	for i := 1; i < len(ledger); i++ {
		gap := ledger[i].CloseTime.Sub(ledger[i-1].CloseTime)
		if gap > longest {
			longest = gap
		}
	}
	return longest
}

func meanStdDev(values []float64) (mean, stdDev float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

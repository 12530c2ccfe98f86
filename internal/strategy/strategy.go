// Package strategy defines the capability interfaces strategies and
// position monitors implement (small interfaces, not class hierarchies),
// plus a sample strategy that cmd/backtest binds to every configured symbol.
package strategy

import (
	"context"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
	"github.com/eddiefleurent/backreplay/internal/simbroker"
	"github.com/eddiefleurent/backreplay/internal/validation"
)

// ValidationSpec names one check a strategy wants registered into the
// validation registry at construction
type ValidationSpec struct {
	Name     string
	Order    int
	ShortTag string
	Fn       validation.CheckFunc
}

// StrategyView is the narrow read-only surface a strategy or position
// monitor sees at each step: SimBroker snapshots and CandleBuilder tails.
// The engine never passes mutable state into strategies.
type StrategyView struct {
	Now       func() marketdata.Tick       // last tick observed for the symbol this step
	Positions func() []simbroker.Position  // open positions for this strategy's symbol
	Equity    func() float64
	Tail      func(tf marketdata.Timeframe, count int) []marketdata.Bar
	Partial   func(tf marketdata.Timeframe) (marketdata.Bar, bool)
}

// StrategyInstance is an externally supplied trading strategy: it
// declares the timeframes and validations it needs, then is stepped once
// per barrier generation.
type StrategyInstance interface {
	DeclaredTimeframes() []marketdata.Timeframe
	DeclaredValidations() []ValidationSpec
	OnStep(ctx context.Context, view StrategyView) (*simbroker.OrderRequest, error)
}

// PositionMonitor is the optional external collaborator that adjusts open
// positions' SL/TP (breakeven, trailing) between barrier generations; it
// participates in the barrier like any symbol worker.
type PositionMonitor interface {
	OnBarrierStep(ctx context.Context, view StrategyView) error
}

package strategy

import (
	"context"
	"log"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
	"github.com/eddiefleurent/backreplay/internal/simbroker"
	"github.com/eddiefleurent/backreplay/internal/validation"
)

// CrossoverConfig parameterizes SampleCrossover.
type CrossoverConfig struct {
	Symbol       string
	Timeframe    marketdata.Timeframe
	FastPeriod   int
	SlowPeriod   int
	Volume       float64
	StopDistance float64 // price units; 0 disables SL/TP
}

// SampleCrossover is a minimal moving-average crossover strategy that
// cmd/backtest binds to every configured symbol as a stand-in; it is not a
// production strategy.
type SampleCrossover struct {
	cfg    CrossoverConfig
	logger *log.Logger
	inPosition bool
}

// NewSampleCrossover constructs a SampleCrossover with cfg.
func NewSampleCrossover(cfg CrossoverConfig, logger *log.Logger) *SampleCrossover {
	if logger == nil {
		logger = log.Default()
	}
	return &SampleCrossover{cfg: cfg, logger: logger}
}

// DeclaredTimeframes implements StrategyInstance.
func (s *SampleCrossover) DeclaredTimeframes() []marketdata.Timeframe {
	return []marketdata.Timeframe{s.cfg.Timeframe}
}

// DeclaredValidations implements StrategyInstance: a single "enough
// history" check so the registry is never empty for this sample.
func (s *SampleCrossover) DeclaredValidations() []ValidationSpec {
	slow := s.cfg.SlowPeriod
	return []ValidationSpec{
		{
			Name: "enough_history", Order: 1, ShortTag: "HIST",
			Fn: func(sig validation.SignalData, _ validation.BrokerView, candles validation.CandleView) validation.Verdict {
				tail := candles.Tail(s.cfg.Symbol, s.cfg.Timeframe, slow)
				if len(tail) < slow {
					return validation.Verdict{Pass: false, Reason: "insufficient bar history"}
				}
				return validation.Verdict{Pass: true}
			},
		},
	}
}

// OnStep implements StrategyInstance: enters long on a fast-over-slow SMA
// crossover while flat; exits are left to the attached SL/TP.
func (s *SampleCrossover) OnStep(_ context.Context, view StrategyView) (*simbroker.OrderRequest, error) {
	bars := view.Tail(s.cfg.Timeframe, s.cfg.SlowPeriod)
	if len(bars) < s.cfg.SlowPeriod {
		return nil, nil
	}

	fast := sma(bars[len(bars)-s.cfg.FastPeriod:])
	slow := sma(bars)

	positions := view.Positions()
	s.inPosition = len(positions) > 0

	switch {
	case fast > slow && !s.inPosition:
		tick := view.Now()
		req := &simbroker.OrderRequest{
			Symbol: s.cfg.Symbol,
			Side:   simbroker.SideBuy,
			Volume: s.cfg.Volume,
		}
		if s.cfg.StopDistance > 0 {
			req.SL = tick.Bid - s.cfg.StopDistance
			req.TP = tick.Bid + s.cfg.StopDistance
		}
		return req, nil
	default:
		return nil, nil
	}
}

func sma(bars []marketdata.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += b.Close
	}
	return sum / float64(len(bars))
}

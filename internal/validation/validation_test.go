package validation

import (
	"testing"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

type fakeBroker struct {
	equity float64
	open   int
}

func (f fakeBroker) Equity() float64                      { return f.equity }
func (f fakeBroker) OpenPositionCount(symbol string) int  { return f.open }

type fakeCandles struct{ bars []marketdata.Bar }

func (f fakeCandles) Tail(symbol string, tf marketdata.Timeframe, count int) []marketdata.Bar {
	return f.bars
}

func alwaysPass(tag string) CheckFunc {
	return func(SignalData, BrokerView, CandleView) Verdict { return Verdict{Pass: true, Reason: tag} }
}

func alwaysFail(reason string) CheckFunc {
	return func(SignalData, BrokerView, CandleView) Verdict { return Verdict{Pass: false, Reason: reason} }
}

func TestEvaluate_AllModeStopsAtFirstFailure(t *testing.T) {
	r := NewRegistry(ModeAll)
	calls := 0
	r.Register("spread_ok", 1, "SP", func(SignalData, BrokerView, CandleView) Verdict {
		calls++
		return Verdict{Pass: false, Reason: "spread too wide"}
	})
	r.Register("trend_ok", 2, "TR", func(SignalData, BrokerView, CandleView) Verdict {
		calls++
		return Verdict{Pass: true}
	})

	res := r.Evaluate(SignalData{}, fakeBroker{}, fakeCandles{})
	if res.Pass {
		t.Fatalf("expected failure")
	}
	if calls != 1 {
		t.Fatalf("expected all-mode to stop after first failure, ran %d checks", calls)
	}
	if res.Tag != NoChecksPassedTag {
		t.Fatalf("expected fallback tag on failure, got %q", res.Tag)
	}
}

func TestEvaluate_AllModePassesWhenEveryCheckPasses(t *testing.T) {
	r := NewRegistry(ModeAll)
	r.Register("a", 1, "A", alwaysPass("a"))
	r.Register("b", 2, "B", alwaysPass("b"))

	res := r.Evaluate(SignalData{}, fakeBroker{}, fakeCandles{})
	if !res.Pass {
		t.Fatalf("expected pass")
	}
	if res.Tag != "A+B" {
		t.Fatalf("expected compact tag A+B, got %q", res.Tag)
	}
}

func TestEvaluate_AnyModeCollectsAllAndPassesOnOne(t *testing.T) {
	r := NewRegistry(ModeAny)
	r.Register("a", 1, "A", alwaysFail("no"))
	r.Register("b", 2, "B", alwaysPass("yes"))
	r.Register("c", 3, "C", alwaysFail("no"))

	res := r.Evaluate(SignalData{}, fakeBroker{}, fakeCandles{})
	if !res.Pass {
		t.Fatalf("expected pass since one check passed")
	}
	if res.Tag != "B" {
		t.Fatalf("expected tag B from the sole passing check, got %q", res.Tag)
	}
	if len(res.Reasons) != 2 {
		t.Fatalf("expected 2 collected failure reasons, got %d", len(res.Reasons))
	}
}

func TestEvaluate_NoChecksRegisteredFallsBackToNC(t *testing.T) {
	r := NewRegistry(ModeAll)
	res := r.Evaluate(SignalData{}, fakeBroker{}, fakeCandles{})
	if res.Pass {
		t.Fatalf("expected failure with no checks registered")
	}
	if res.Tag != "NC" {
		t.Fatalf("expected NC fallback tag, got %q", res.Tag)
	}
}

func TestRegister_RunsInDeclaredOrderRegardlessOfRegistrationOrder(t *testing.T) {
	r := NewRegistry(ModeAll)
	var order []string
	r.Register("second", 2, "2", func(SignalData, BrokerView, CandleView) Verdict {
		order = append(order, "second")
		return Verdict{Pass: true}
	})
	r.Register("first", 1, "1", func(SignalData, BrokerView, CandleView) Verdict {
		order = append(order, "first")
		return Verdict{Pass: true}
	})

	r.Evaluate(SignalData{}, fakeBroker{}, fakeCandles{})
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected execution in declared order [first second], got %v", order)
	}
}

func TestUnregister_RemovesCheck(t *testing.T) {
	r := NewRegistry(ModeAll)
	r.Register("a", 1, "A", alwaysPass("a"))
	r.Unregister("a")

	res := r.Evaluate(SignalData{}, fakeBroker{}, fakeCandles{})
	if res.Tag != NoChecksPassedTag {
		t.Fatalf("expected NC after unregistering the only check, got %q", res.Tag)
	}
}

// Package validation implements the validation registry: an
// ordered list of named signal checks a strategy declares at construction,
// evaluated either all-stop-at-first-failure or any-collect-all, producing
// both a verdict and a compact annotation tag for the trade ledger.
package validation

import (
	"strings"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// Verdict is one check's outcome.
type Verdict struct {
	Pass   bool
	Reason string
}

// SignalData is the tagged-sum payload validations inspect: the specific
// fields the engine interprets, plus an opaque byte payload the strategy
// owns.
type SignalData struct {
	Price     float64
	Size      float64
	Side      string
	SL        float64
	TP        float64
	Tags      []string
	Payload   []byte
}

// BrokerView and CandleView are the read-only collaborators a check may
// consult; a check is a pure function of the signal data plus these two
// views. Concrete read-only adapters over SimBroker and
// CandleBuilder live in internal/replay; validation only needs the
// narrow shape below.
type BrokerView interface {
	Equity() float64
	OpenPositionCount(symbol string) int
}

type CandleView interface {
	Tail(symbol string, tf marketdata.Timeframe, count int) []marketdata.Bar
}

// CheckFunc is one named validation: a pure function of the signal and the
// two read-only views.
type CheckFunc func(sig SignalData, broker BrokerView, candles CandleView) Verdict

// Mode selects how the registry combines multiple check results.
type Mode int

// Recognized modes
const (
	ModeAll Mode = iota // stop at first failure
	ModeAny             // collect all, pass if any passes
)

// maxTagLen bounds the compact annotation tag's length.
const maxTagLen = 64

// NoChecksPassedTag is the reserved fallback tag of every failing Result
// (the first failure in ModeAll, every check failing in ModeAny) and of an
// evaluation with no checks registered.
const NoChecksPassedTag = "NC"

// entry is one registered check plus its declared order and short tag.
type entry struct {
	name     string
	order    int
	shortTag string
	fn       CheckFunc
}

// Handle is the value Register returns: the index of the last entry in the
// sorted registry at that moment, which is not necessarily the check just
// registered. No Registry method accepts a Handle.
type Handle int

// Registry is the validation registry: an ordered slice of
// named checks, registered once at strategy construction before any
// replay thread starts, so no lock is needed.
type Registry struct {
	mode    Mode
	entries []entry
}

// NewRegistry constructs an empty Registry running in mode.
func NewRegistry(mode Mode) *Registry {
	return &Registry{mode: mode}
}

// Register adds fn under name with the given declared order and short
// annotation tag, returning a Handle (see Handle). A check is removed by
// name with Unregister; there is no replace operation.
// Cheap checks should be registered with a lower order by convention;
// Register itself does not enforce this, only sorts by the
// caller-supplied order.
func (r *Registry) Register(name string, order int, shortTag string, fn CheckFunc) Handle {
	r.entries = append(r.entries, entry{name: name, order: order, shortTag: shortTag, fn: fn})
	sortEntries(r.entries)
	return Handle(len(r.entries) - 1)
}

// Unregister removes the check identified by name. A no-op if name was
// never registered.
func (r *Registry) Unregister(name string) {
	out := r.entries[:0]
	for _, e := range r.entries {
		if e.name != name {
			out = append(out, e)
		}
	}
	r.entries = out
}

func sortEntries(entries []entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].order < entries[j-1].order; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Len reports how many checks are currently registered.
func (r *Registry) Len() int { return len(r.entries) }

// Result is the outcome of running every registered check against one
// signal.
type Result struct {
	Pass    bool
	Reasons []string // failure reasons, in check-order
	Tag     string
	// Checks records each evaluated check's pass/fail by name, the
	// per-decision codes carried onto TradeRecord annotations.
	Checks map[string]bool
}

// Evaluate runs every registered check, in declared order, against sig.
// In ModeAll it stops at the first failure; in ModeAny it runs every check
// and passes if at least one did.
func (r *Registry) Evaluate(sig SignalData, broker BrokerView, candles CandleView) Result {
	if len(r.entries) == 0 {
		return Result{Pass: false, Tag: NoChecksPassedTag}
	}

	var tags []string
	var reasons []string
	checks := make(map[string]bool, len(r.entries))
	anyPassed := false

	for _, e := range r.entries {
		v := e.fn(sig, broker, candles)
		checks[e.name] = v.Pass
		if v.Pass {
			anyPassed = true
			tags = append(tags, e.shortTag)
			continue
		}
		reasons = append(reasons, e.name+": "+v.Reason)
		if r.mode == ModeAll {
			return Result{Pass: false, Reasons: reasons, Tag: NoChecksPassedTag, Checks: checks}
		}
	}

	if r.mode == ModeAll {
		return Result{Pass: true, Tag: compactTag(tags), Checks: checks}
	}
	if !anyPassed {
		return Result{Pass: false, Reasons: reasons, Tag: NoChecksPassedTag, Checks: checks}
	}
	return Result{Pass: true, Reasons: reasons, Tag: compactTag(tags), Checks: checks}
}

func compactTag(tags []string) string {
	if len(tags) == 0 {
		return NoChecksPassedTag
	}
	joined := strings.Join(tags, "+")
	if len(joined) > maxTagLen {
		return joined[:maxTagLen]
	}
	return joined
}

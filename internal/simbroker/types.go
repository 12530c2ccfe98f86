package simbroker

import "time"

// Side is a position's direction.
type Side string

// Recognized sides.
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// CloseReason records why a position closed, carried onto its TradeRecord.
type CloseReason string

// Recognized close reasons, matching the terminal PositionStates.
const (
	ReasonSL      CloseReason = "sl"
	ReasonTP      CloseReason = "tp"
	ReasonMonitor CloseReason = "monitor"
	ReasonManual  CloseReason = "manual"
)

// RejectCode is a stable retcode for a rejected OrderRequest. Rejections
// are returned, never retried; the submitting strategy decides what to do.
type RejectCode string

// Recognized rejection codes.
const (
	RejectNone              RejectCode = ""
	RejectInsufficientMargin RejectCode = "insufficient_margin"
	RejectInvalidStops       RejectCode = "invalid_stops"
	RejectTradingDisabled    RejectCode = "trading_disabled"
	RejectMaxPositions       RejectCode = "max_positions"
	RejectInvalidVolume      RejectCode = "invalid_volume"
	RejectUnknownSymbol      RejectCode = "unknown_symbol"
)

// OrderRequest is a submit() input
type OrderRequest struct {
	Symbol   string
	Side     Side
	Volume   float64
	Price    float64 // 0 means "use current market price" at submit time
	SL       float64 // 0 means no stop
	TP       float64 // 0 means no target
	Deviation float64
	Magic    int64
	Comment  string
	// Annotations carries the validation registry's per-check pass/fail
	// codes for the decision that produced this order; the
	// broker threads them through the position onto its TradeRecord.
	Annotations map[string]bool
}

// Position is an open or closed simulated position Profit is
// intentionally absent: it is always computed on demand (see Broker.Equity),
// never stored eagerly except at Close.
type Position struct {
	Ticket    string
	Symbol    string
	Side      Side
	Volume    float64
	OpenPrice float64
	SL        float64
	TP        float64
	OpenTime  time.Time
	Magic     int64
	Comment   string

	state       *stateMachine
	margin      float64 // required margin reserved at open, released at close
	annotations map[string]bool
}

// State returns the position's current lifecycle state.
func (p *Position) State() PositionState { return p.state.current }

// TradeRecord is a close event
type TradeRecord struct {
	Ticket     string
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	ClosePrice float64
	OpenTime   time.Time
	CloseTime  time.Time
	Reason     CloseReason
	Profit     float64
	// Annotations carries validation-registry pass/fail tags attached at
	// entry time; nil when no validation registry is wired.
	Annotations map[string]bool
}

// PositionFilter narrows Positions() by symbol and/or magic number. A zero
// value matches everything.
type PositionFilter struct {
	Symbol string
	Magic  *int64
}

func (f PositionFilter) matches(p *Position) bool {
	if f.Symbol != "" && p.Symbol != f.Symbol {
		return false
	}
	if f.Magic != nil && p.Magic != *f.Magic {
		return false
	}
	return true
}

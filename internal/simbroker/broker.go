// Package simbroker implements the simulated exchange: order validation
// and margin, the position table, intra-tick SL/TP resolution, and lazy
// equity/floating-P&L accounting.
package simbroker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
	"github.com/eddiefleurent/backreplay/internal/util"
)

// Config holds the simulated account's tunables.
type Config struct {
	InitialBalance float64
	Leverage       float64
	MaxPositions   int
	// DefaultSpread is used to synthesize bid/ask around a tick's last price
	// when the feed carries no real quote.
	DefaultSpread map[string]float64
}

// SymbolInfoProvider resolves the contract metadata Broker needs for margin
// and stop-distance checks. The replay package's startup symbol-info cache,
// filled from the exchange-API adapter or DayCache's symbol-info sidecar,
// satisfies this.
type SymbolInfoProvider interface {
	SymbolInfo(symbol string) (marketdata.SymbolInfo, bool)
}

// Broker is the simulated exchange.
type Broker struct {
	cfg   Config
	infos SymbolInfoProvider

	mu         sync.Mutex
	balance    float64
	usedMargin float64
	nextTicket map[string]uint64
	positions  map[string]*Position            // ticket -> Position
	bySymbol   map[string]map[string]struct{}  // symbol -> set<ticket>
	ledger     []TradeRecord
	lastQuote  map[string]marketdata.Tick // last tick seen per symbol, for equity()
}

// New constructs a Broker with the given starting balance and collaborators.
func New(cfg Config, infos SymbolInfoProvider) *Broker {
	return &Broker{
		cfg:        cfg,
		infos:      infos,
		balance:    cfg.InitialBalance,
		nextTicket: make(map[string]uint64),
		positions:  make(map[string]*Position),
		bySymbol:   make(map[string]map[string]struct{}),
		lastQuote:  make(map[string]marketdata.Tick),
	}
}

// Submit validates req and, if accepted, opens a new position.
func (b *Broker) Submit(req OrderRequest) (*Position, RejectCode, error) {
	info, ok := b.infos.SymbolInfo(req.Symbol)
	if !ok {
		return nil, RejectUnknownSymbol, nil
	}
	if info.TradeMode != marketdata.TradeModeFull {
		return nil, RejectTradingDisabled, nil
	}
	if req.Volume < info.MinLot || req.Volume > info.MaxLot || !isStepAligned(req.Volume, info.MinLot, info.LotStep) {
		return nil, RejectInvalidVolume, nil
	}

	price := req.Price
	var openTime time.Time
	b.mu.Lock()
	if q, ok := b.lastQuote[req.Symbol]; ok {
		openTime = q.Time
		if price <= 0 {
			price = quotePriceFor(req.Side, q, info, b.cfg.DefaultSpread[req.Symbol])
		}
	}
	b.mu.Unlock()
	if price <= 0 {
		return nil, RejectInvalidStops, fmt.Errorf("simbroker: no market price available for %s", req.Symbol)
	}

	if req.SL > 0 && !stopDistanceOK(req.Side, price, req.SL, info.StopsLevel) {
		return nil, RejectInvalidStops, nil
	}
	if req.TP > 0 && !stopDistanceOK(req.Side, price, req.TP, info.StopsLevel) {
		return nil, RejectInvalidStops, nil
	}

	requiredMargin := (req.Volume * info.ContractSize * price) / b.cfg.Leverage

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.MaxPositions > 0 && len(b.positions) >= b.cfg.MaxPositions {
		return nil, RejectMaxPositions, nil
	}
	freeMargin := b.equityLocked() - b.usedMargin
	if requiredMargin > freeMargin {
		return nil, RejectInsufficientMargin, nil
	}

	b.nextTicket[req.Symbol]++
	// Tickets are a zero-padded per-symbol sequence, not random IDs:
	// replaying the same data must produce a byte-identical ledger, so every
	// identifier in it has to be a pure function of the replayed inputs,
	// including when workers for different symbols submit within the same
	// barrier generation in an arbitrary interleaving.
	pos := &Position{
		Ticket:    fmt.Sprintf("%s-%08d", req.Symbol, b.nextTicket[req.Symbol]),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Volume:    req.Volume,
		OpenPrice: price,
		SL:        req.SL,
		TP:        req.TP,
		OpenTime:  openTime,
		Magic:     req.Magic,
		Comment:   req.Comment,
		state:       newStateMachine(),
		margin:      requiredMargin,
		annotations: req.Annotations,
	}
	if err := pos.state.transition(StateOpen); err != nil {
		return nil, RejectNone, fmt.Errorf("simbroker: %w", err)
	}

	b.positions[pos.Ticket] = pos
	if b.bySymbol[pos.Symbol] == nil {
		b.bySymbol[pos.Symbol] = make(map[string]struct{})
	}
	b.bySymbol[pos.Symbol][pos.Ticket] = struct{}{}
	b.usedMargin += requiredMargin

	return pos, RejectNone, nil
}

// Positions returns a snapshot copy of every open position matching filter.
func (b *Broker) Positions(filter PositionFilter) []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		if filter.matches(p) {
			out = append(out, *p)
		}
	}
	return out
}

// Equity returns balance + floating P&L over all open positions, computed
// fresh on every call.
func (b *Broker) Equity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equityLocked()
}

func (b *Broker) equityLocked() float64 {
	total := b.balance
	for _, p := range b.positions {
		q, ok := b.lastQuote[p.Symbol]
		if !ok {
			continue
		}
		info, _ := b.infos.SymbolInfo(p.Symbol)
		total += floatingProfit(p, q, info)
	}
	return total
}

// OnTick feeds one tick through the intra-tick SL/TP scan
// Only positions indexed under tick.Symbol are considered. Returns every
// position closed by this call.
func (b *Broker) OnTick(t marketdata.Tick) []TradeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastQuote[t.Symbol] = t

	tickets := b.bySymbol[t.Symbol]
	if len(tickets) == 0 {
		return nil
	}
	ordered := make([]string, 0, len(tickets))
	for ticket := range tickets {
		ordered = append(ordered, ticket)
	}
	sort.Strings(ordered)
	var closed []TradeRecord
	for _, ticket := range ordered {
		pos := b.positions[ticket]
		if pos == nil {
			continue
		}
		if rec, ok := b.resolveScan(pos, t); ok {
			closed = append(closed, rec)
		}
	}
	return closed
}

// resolveScan checks one position's SL/TP against tick, closing it under
// the broker's lock if either hit. Ties resolve to SL first
func (b *Broker) resolveScan(pos *Position, t marketdata.Tick) (TradeRecord, bool) {
	slHit, tpHit := evaluateStops(pos, t)
	if !slHit && !tpHit {
		return TradeRecord{}, false
	}
	reason := ReasonTP
	closePrice := closingPrice(pos.Side, t)
	if slHit {
		reason = ReasonSL
	}
	rec := b.closeLocked(pos, closePrice, t.Time, reason)
	return rec, true
}

// evaluateStops applies the hit rules: long stops hit on bid <= sl,
// takes on bid >= tp; short stops hit on ask >= sl, takes on ask <= tp.
func evaluateStops(pos *Position, t marketdata.Tick) (slHit, tpHit bool) {
	switch pos.Side {
	case SideBuy:
		if pos.SL > 0 && t.Bid <= pos.SL {
			slHit = true
		}
		if pos.TP > 0 && t.Bid >= pos.TP {
			tpHit = true
		}
	case SideSell:
		if pos.SL > 0 && t.Ask >= pos.SL {
			slHit = true
		}
		if pos.TP > 0 && t.Ask <= pos.TP {
			tpHit = true
		}
	}
	return slHit, tpHit
}

func closingPrice(side Side, t marketdata.Tick) float64 {
	if side == SideBuy {
		return t.Bid
	}
	return t.Ask
}

// Close closes ticket at the given tick's price, on behalf of a strategy
// or an external position monitor.
func (b *Broker) Close(ticket string, reason CloseReason, t marketdata.Tick) (TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.positions[ticket]
	if pos == nil {
		return TradeRecord{}, fmt.Errorf("simbroker: unknown ticket %s", ticket)
	}
	closePrice := closingPrice(pos.Side, t)
	return b.closeLocked(pos, closePrice, t.Time, reason), nil
}

// closeLocked finalizes pos, releasing margin and updating the position
// table and the by-symbol index in lock-step. Caller must hold b.mu.
func (b *Broker) closeLocked(pos *Position, closePrice float64, closeTime time.Time, reason CloseReason) TradeRecord {
	var target PositionState
	switch reason {
	case ReasonSL:
		target = StateClosedBySL
	case ReasonTP:
		target = StateClosedByTP
	case ReasonMonitor:
		target = StateClosedByMonitor
	default:
		target = StateClosedManual
	}
	_ = pos.state.transition(target)

	info, _ := b.infos.SymbolInfo(pos.Symbol)
	profit := profitAt(pos, closePrice, info)

	b.balance += profit
	b.usedMargin -= pos.margin
	delete(b.positions, pos.Ticket)
	if set := b.bySymbol[pos.Symbol]; set != nil {
		delete(set, pos.Ticket)
		if len(set) == 0 {
			delete(b.bySymbol, pos.Symbol)
		}
	}

	rec := TradeRecord{
		Ticket:     pos.Ticket,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Volume:     pos.Volume,
		OpenPrice:  pos.OpenPrice,
		ClosePrice: closePrice,
		OpenTime:   pos.OpenTime,
		CloseTime:  closeTime,
		Reason:     reason,
		Profit:     profit,
		Annotations: pos.annotations,
	}
	b.ledger = append(b.ledger, rec)
	return rec
}

// Ledger returns every TradeRecord closed so far, ordered by
// (CloseTime, Symbol, Ticket). The explicit sort matters: two symbols
// closing within the same barrier generation append in whatever order the
// scheduler ran their workers, and a replay must emit identical ledgers
// regardless.
func (b *Broker) Ledger() []TradeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TradeRecord, len(b.ledger))
	copy(out, b.ledger)
	SortLedger(out)
	return out
}

// SortLedger orders records by (CloseTime, Symbol, Ticket), the canonical
// deterministic ledger order.
func SortLedger(records []TradeRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CloseTime.Equal(b.CloseTime) {
			return a.CloseTime.Before(b.CloseTime)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Ticket < b.Ticket
	})
}

func floatingProfit(pos *Position, q marketdata.Tick, info marketdata.SymbolInfo) float64 {
	price := closingPrice(pos.Side, q)
	return profitAt(pos, price, info)
}

func profitAt(pos *Position, price float64, info marketdata.SymbolInfo) float64 {
	diff := price - pos.OpenPrice
	if pos.Side == SideSell {
		diff = -diff
	}
	contractSize := info.ContractSize
	if contractSize <= 0 {
		contractSize = 1
	}
	return diff * pos.Volume * contractSize
}

func isStepAligned(volume, minLot, step float64) bool {
	if step <= 0 {
		return true
	}
	steps := (volume - minLot) / step
	rounded := float64(int64(steps + 0.5))
	return floatAbs(steps-rounded) < 1e-6
}

func floatAbs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func stopDistanceOK(side Side, price, stop, stopsLevel float64) bool {
	dist := price - stop
	if dist < 0 {
		dist = -dist
	}
	return dist >= stopsLevel
}

// quotePriceFor synthesizes an execution price from the last-seen tick,
// applying a static spread around last when the feed carries no real
// bid/ask's spread model.
func quotePriceFor(side Side, q marketdata.Tick, info marketdata.SymbolInfo, staticSpread float64) float64 {
	// Buys fill at the ask (a debit) and sells fill at the bid (a credit);
	// each is rounded toward the broker's side of the tick grid the way a
	// real venue quantizes fills, rather than to the nearer tick.
	if q.Bid > 0 && q.Ask > 0 {
		if side == SideBuy {
			return util.CeilToTick(q.Ask, info.TickSize)
		}
		return util.FloorToTick(q.Bid, info.TickSize)
	}
	base := q.Price()
	if staticSpread <= 0 {
		staticSpread = info.TickSize
	}
	half := staticSpread / 2
	if side == SideBuy {
		return util.CeilToTick(base+half, info.TickSize)
	}
	return util.FloorToTick(base-half, info.TickSize)
}

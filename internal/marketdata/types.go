// Package marketdata defines the core data model shared by every component
// of the replay engine: ticks, bars, symbol metadata, and the capability
// interface implemented by exchange-API collaborators.
package marketdata

import (
	"fmt"
	"time"
)

// Timeframe is an OHLCV aggregation interval.
type Timeframe string

// Supported timeframes, ordered from finest to coarsest.
const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// Duration returns the wall-clock duration of one bar at this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case M30:
		return 30 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D1:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	return tf.Duration() > 0
}

// TickType distinguishes the price series carried by a tick day-file.
type TickType string

// Supported tick types.
const (
	TickTypeQuote TickType = "quote" // bid/ask/last ticks
	TickTypeTrade TickType = "trade" // last/volume only
)

// DataType identifies the bucket a DayCache entry belongs to.
type DataType struct {
	Kind TickType  // unused for candles
	TF   Timeframe // unused for ticks
	IsTick bool
}

// CandleData builds a DataType for a candle bucket.
func CandleData(tf Timeframe) DataType { return DataType{TF: tf} }

// TickData builds a DataType for a tick bucket.
func TickData(kind TickType) DataType { return DataType{Kind: kind, IsTick: true} }

// String renders the path-segment form used by DayCache, "candles/M1" or
// "ticks/quote".
func (d DataType) String() string {
	if d.IsTick {
		return fmt.Sprintf("ticks/%s", d.Kind)
	}
	return fmt.Sprintf("candles/%s", d.TF)
}

// Source records where a day-file's data originated.
type Source string

// Recognized sources
const (
	SourceExchange Source = "exchange"
	SourceArchive  Source = "archive"
	SourceDerived  Source = "derived"
)

// Tick is an immutable bid/ask/last/volume update at a single instant.
// Sort key is (Time, Symbol, Seq); Seq breaks ties between synchronous ticks
// deterministically in insertion order.
type Tick struct {
	Time   time.Time
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Volume uint64
	Flags  uint32
	Seq    uint64
}

// Spread returns Ask-Bid.
func (t Tick) Spread() float64 { return t.Ask - t.Bid }

// Price returns the price series value used for candle construction: Last
// when it is positive, else Bid
func (t Tick) Price() float64 {
	if t.Last > 0 {
		return t.Last
	}
	return t.Bid
}

// Less reports whether t sorts before o under the (time, symbol, seq) key.
func (t Tick) Less(o Tick) bool {
	if !t.Time.Equal(o.Time) {
		return t.Time.Before(o.Time)
	}
	if t.Symbol != o.Symbol {
		return t.Symbol < o.Symbol
	}
	return t.Seq < o.Seq
}

// Bar is an OHLCV aggregate aligned to a timeframe boundary.
type Bar struct {
	StartTime  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickVolume uint64
	RealVolume *uint64 // optional
}

// AlignTime truncates t down to the start of the bucket it belongs to for
// timeframe tf. Boundaries are left-inclusive: a tick exactly on the
// boundary opens the new bar.
func AlignTime(t time.Time, tf Timeframe) time.Time {
	d := tf.Duration()
	if d <= 0 {
		return t
	}
	u := t.UTC()
	if tf == D1 {
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	}
	epoch := u.Unix()
	bucket := epoch - (epoch % int64(d.Seconds()))
	return time.Unix(bucket, 0).UTC()
}

// SymbolInfo carries the immutable per-symbol contract metadata needed by
// margin, stop-distance, and volume-step validation.
type SymbolInfo struct {
	Symbol       string
	TickSize     float64
	Digits       int
	ContractSize float64
	MinLot       float64
	MaxLot       float64
	LotStep      float64
	StopsLevel   float64 // minimum distance (in price units) from price to SL/TP
	FreezeLevel  float64
	TradeMode    TradeMode
	BaseCurrency string
	QuoteCurrency string
}

// TradeMode enumerates whether a symbol accepts trading.
type TradeMode string

// Recognized trade modes.
const (
	TradeModeFull     TradeMode = "full"
	TradeModeDisabled TradeMode = "disabled"
	TradeModeCloseOnly TradeMode = "close_only"
)

// TimeRange is a half-open [Start, End) UTC instant range.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Days enumerates the UTC calendar days touched by r, from the day
// containing Start through the day containing End. End is exclusive: an End
// exactly at midnight does not add that day. A zero-length range
// (Start == End) yields the single day containing Start.
func (r TimeRange) Days() []time.Time {
	if r.End.Before(r.Start) {
		return nil
	}
	start := time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 0, 0, 0, 0, time.UTC)
	if r.End.After(r.Start) && end.Equal(r.End) {
		end = end.AddDate(0, 0, -1)
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

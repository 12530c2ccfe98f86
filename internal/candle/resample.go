// Package candle implements lazy, per-symbol,
// per-timeframe OHLCV construction from a tick stream, plus the same
// deterministic aggregation used by DataLoader to derive bars when an
// exchange or archive source has ticks but not the requested timeframe.
package candle

import "github.com/eddiefleurent/backreplay/internal/marketdata"

// ResampleTicksToBars aggregates a chronologically sorted tick slice into
// bars aligned to tf, using marketdata.AlignTime for bucket boundaries and
// Tick.Price() (Last when positive, else Bid) as the price series. Ticks
// must already be sorted by time; callers load them from a single DayCache
// entry or TickStream batch, both of which guarantee order.
func ResampleTicksToBars(ticks []marketdata.Tick, tf marketdata.Timeframe) []marketdata.Bar {
	if len(ticks) == 0 {
		return nil
	}
	var bars []marketdata.Bar
	var cur *marketdata.Bar
	var curBucket, bucket int64

	for _, t := range ticks {
		bucket = marketdata.AlignTime(t.Time, tf).Unix()
		price := t.Price()
		if cur == nil || bucket != curBucket {
			if cur != nil {
				bars = append(bars, *cur)
			}
			cur = &marketdata.Bar{
				StartTime:  marketdata.AlignTime(t.Time, tf),
				Open:       price,
				High:       price,
				Low:        price,
				Close:      price,
				TickVolume: 1,
			}
			curBucket = bucket
			continue
		}
		if price > cur.High {
			cur.High = price
		}
		if price < cur.Low {
			cur.Low = price
		}
		cur.Close = price
		cur.TickVolume++
	}
	if cur != nil {
		bars = append(bars, *cur)
	}
	return bars
}

// AggregateBars rolls already-built bars up to a coarser timeframe whose
// duration is a whole multiple of the input's. Aggregating ticks to tf and
// then rolling up to k*tf yields the same bars as aggregating ticks to k*tf
// directly, because both use the same left-inclusive bucket boundaries.
func AggregateBars(bars []marketdata.Bar, to marketdata.Timeframe) []marketdata.Bar {
	if len(bars) == 0 {
		return nil
	}
	var out []marketdata.Bar
	var cur *marketdata.Bar
	for _, b := range bars {
		bucket := marketdata.AlignTime(b.StartTime, to)
		if cur == nil || !cur.StartTime.Equal(bucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			cb := b
			cb.StartTime = bucket
			cur = &cb
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.TickVolume += b.TickVolume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

package marketdata

import "sort"

// BarFrame is a contiguous, sorted sequence of bars for one symbol and
// timeframe.
type BarFrame struct {
	Symbol string
	TF     Timeframe
	Bars   []Bar
}

// SortInPlace orders bars by StartTime ascending.
func (f *BarFrame) SortInPlace() {
	sort.Slice(f.Bars, func(i, j int) bool { return f.Bars[i].StartTime.Before(f.Bars[j].StartTime) })
}

// FirstLast returns the first and last bars, or zero bars and false if the
// frame is empty.
func (f BarFrame) FirstLast() (first, last Bar, ok bool) {
	if len(f.Bars) == 0 {
		return Bar{}, Bar{}, false
	}
	return f.Bars[0], f.Bars[len(f.Bars)-1], true
}

// ConcatBars returns a new BarFrame with frames concatenated and re-sorted, with
// duplicate StartTime entries collapsed (keeping the first occurrence) so
// that repair merges never duplicate a boundary day.
func ConcatBars(symbol string, tf Timeframe, frames ...BarFrame) BarFrame {
	out := BarFrame{Symbol: symbol, TF: tf}
	for _, f := range frames {
		out.Bars = append(out.Bars, f.Bars...)
	}
	sort.SliceStable(out.Bars, func(i, j int) bool { return out.Bars[i].StartTime.Before(out.Bars[j].StartTime) })
	out.Bars = dedupBars(out.Bars)
	return out
}

func dedupBars(bars []Bar) []Bar {
	if len(bars) < 2 {
		return bars
	}
	deduped := bars[:1]
	for _, b := range bars[1:] {
		if !b.StartTime.Equal(deduped[len(deduped)-1].StartTime) {
			deduped = append(deduped, b)
		}
	}
	return deduped
}

// TickFrame is a contiguous, sorted sequence of ticks for one symbol.
type TickFrame struct {
	Symbol string
	Type   TickType
	Ticks  []Tick
}

// SortInPlace orders ticks by (Time, Seq) ascending.
func (f *TickFrame) SortInPlace() {
	sort.Slice(f.Ticks, func(i, j int) bool { return f.Ticks[i].Less(f.Ticks[j]) })
}

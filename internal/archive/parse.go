package archive

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// ErrBadArchive is returned when a downloaded archive fails column or sanity
// validation and must be treated as unusable
var ErrBadArchive = fmt.Errorf("archive: invalid or unsafe archive payload")

// wantColumns is the required CSV header, case-sensitive, one tick per row.
var wantColumns = []string{"time", "bid", "ask", "last", "volume"}

// parseZippedCSV unzips data and parses every member as a tick CSV file,
// concatenating the results. Archives are a ZIP of one-or-more CSV files.
func parseZippedCSV(data []byte, symbol string) ([]marketdata.Tick, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}

	var all []marketdata.Tick
	var seq uint64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrBadArchive, f.Name, err)
		}
		ticks, nextSeq, err := parseCSVTicks(rc, symbol, seq)
		_ = rc.Close()
		if err != nil {
			return nil, err
		}
		seq = nextSeq
		all = append(all, ticks...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: archive contained no ticks", ErrBadArchive)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Less(all[j]) })
	return all, nil
}

func parseCSVTicks(r io.Reader, symbol string, seqStart uint64) ([]marketdata.Tick, uint64, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, seqStart, fmt.Errorf("%w: read header: %v", ErrBadArchive, err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, seqStart, err
	}

	seq := seqStart
	var ticks []marketdata.Tick
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, seq, fmt.Errorf("%w: read row: %v", ErrBadArchive, err)
		}
		t, err := parseTickRow(rec, idx, symbol, seq)
		if err != nil {
			return nil, seq, err
		}
		ticks = append(ticks, t)
		seq++
	}
	return ticks, seq, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[col] = i
	}
	for _, want := range wantColumns {
		if _, ok := idx[want]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadArchive, want)
		}
	}
	return idx, nil
}

func parseTickRow(rec []string, idx map[string]int, symbol string, seq uint64) (marketdata.Tick, error) {
	ms, err := strconv.ParseInt(rec[idx["time"]], 10, 64)
	if err != nil {
		return marketdata.Tick{}, fmt.Errorf("%w: time: %v", ErrBadArchive, err)
	}
	bid, err := strconv.ParseFloat(rec[idx["bid"]], 64)
	if err != nil {
		return marketdata.Tick{}, fmt.Errorf("%w: bid: %v", ErrBadArchive, err)
	}
	ask, err := strconv.ParseFloat(rec[idx["ask"]], 64)
	if err != nil {
		return marketdata.Tick{}, fmt.Errorf("%w: ask: %v", ErrBadArchive, err)
	}
	last, err := strconv.ParseFloat(rec[idx["last"]], 64)
	if err != nil {
		return marketdata.Tick{}, fmt.Errorf("%w: last: %v", ErrBadArchive, err)
	}
	vol, err := strconv.ParseUint(rec[idx["volume"]], 10, 64)
	if err != nil {
		return marketdata.Tick{}, fmt.Errorf("%w: volume: %v", ErrBadArchive, err)
	}

	if bid <= 0 || ask <= 0 || ask < bid {
		return marketdata.Tick{}, fmt.Errorf("%w: non-sane quote bid=%v ask=%v", ErrBadArchive, bid, ask)
	}

	return marketdata.Tick{
		Time:   time.UnixMilli(ms).UTC(),
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Last:   last,
		Volume: vol,
		Seq:    seq,
	}, nil
}

// splitByDay groups ticks (assumed pre-sorted by time) into per-UTC-day
// buckets, the mechanism behind Fetcher.splitAndCache.
func splitByDay(ticks []marketdata.Tick) map[time.Time][]marketdata.Tick {
	out := make(map[time.Time][]marketdata.Tick)
	for _, t := range ticks {
		u := t.Time.UTC()
		day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		out[day] = append(out[day], t)
	}
	return out
}

package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// fakeDownloader serves canned responses keyed by exact URL, counting calls
// per URL so tests can assert the at-most-once-per-granule reuse guarantee.
type fakeDownloader struct {
	responses map[string][]byte
	status    map[string]int
	calls     map[string]int
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		responses: make(map[string][]byte),
		status:    make(map[string]int),
		calls:     make(map[string]int),
	}
}

func (f *fakeDownloader) Get(_ context.Context, url string) ([]byte, int, error) {
	f.calls[url]++
	if body, ok := f.responses[url]; ok {
		return body, 200, nil
	}
	if st, ok := f.status[url]; ok {
		return nil, st, nil
	}
	return nil, 404, nil
}

func zippedCSV(t *testing.T, name, csvBody string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(csvBody)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func tickCSV(day time.Time, n int) string {
	var buf bytes.Buffer
	buf.WriteString("time,bid,ask,last,volume\n")
	for i := 0; i < n; i++ {
		ts := day.Add(time.Duration(i) * time.Minute).UnixMilli()
		fmt.Fprintf(&buf, "%d,1.1000,1.1002,1.1001,10\n", ts)
	}
	return buf.String()
}

func testConfig() Config {
	cfg := DefaultConfig
	cfg.DayURLTemplate = "http://archive.test/day/{SYMBOL}/{YEAR}-{MONTH}-{DAY}.zip"
	cfg.MonthURLTemplate = "http://archive.test/month/{SYMBOL}/{YEAR}-{MONTH}.zip"
	cfg.YearURLTemplate = "http://archive.test/year/{SYMBOL}/{YEAR}.zip"
	cfg.MinTicksPerDay = 1
	cfg.MaxRetries = 0
	cfg.Timeout = 5 * time.Second
	return cfg
}

func mustCache(t *testing.T) *daycache.DayCache {
	t.Helper()
	cfg := daycache.DefaultConfig
	cfg.Root = t.TempDir()
	c, err := daycache.New(cfg, log.Default())
	if err != nil {
		t.Fatalf("daycache.New: %v", err)
	}
	return c
}

func TestFetch_DayGranuleHit(t *testing.T) {
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cache := mustCache(t)

	dl := newFakeDownloader()
	url := expandPattern(cfg.DayURLTemplate, "EURUSD", "", day)
	dl.responses[url] = zippedCSV(t, "EURUSD.csv", tickCSV(day, 5))

	f := NewFetcher(cfg, dl, cache, log.Default())
	ok, err := f.Fetch(context.Background(), "EURUSD", day)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !ok {
		t.Fatalf("expected day-granule fetch to succeed")
	}

	r := marketdata.TimeRange{Start: day, End: day.AddDate(0, 0, 1)}
	frame, missing, err := cache.LoadTicks("EURUSD", marketdata.TickTypeQuote, r)
	if err != nil {
		t.Fatalf("LoadTicks: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected day to be cached after fetch, missing=%v", missing)
	}
	if len(frame.Ticks) != 5 {
		t.Fatalf("expected 5 ticks cached, got %d", len(frame.Ticks))
	}
}

func TestFetch_RejectsUntrustedHost(t *testing.T) {
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.TrustedHosts = []string{"cdn.trusted.example"}
	cache := mustCache(t)

	dl := newFakeDownloader()
	url := expandPattern(cfg.DayURLTemplate, "EURUSD", "", day)
	dl.responses[url] = zippedCSV(t, "EURUSD.csv", tickCSV(day, 5))

	f := NewFetcher(cfg, dl, cache, log.Default())
	ok, err := f.Fetch(context.Background(), "EURUSD", day)
	if err == nil {
		t.Fatalf("expected untrusted-host error, got ok=%v", ok)
	}
	if dl.calls[url] != 0 {
		t.Fatalf("expected no request to an untrusted host, got %d calls", dl.calls[url])
	}
}

func TestFetch_FallsBackToMonthGranule(t *testing.T) {
	day := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cacheCfg := daycache.DefaultConfig
	cacheCfg.Root = t.TempDir()
	cache, err := daycache.New(cacheCfg, log.Default())
	if err != nil {
		t.Fatalf("daycache.New: %v", err)
	}

	dl := newFakeDownloader()
	monthURL := expandPattern(cfg.MonthURLTemplate, "GBPUSD", "", day)
	// Seed a two-day month archive so splitAndCache populates a sibling
	// day too, making a later fetch for that sibling a pure cache hit.
	var body bytes.Buffer
	zw := zip.NewWriter(&body)
	w, _ := zw.Create("GBPUSD.csv")
	csv := "time,bid,ask,last,volume\n"
	csv += tickRows(day, 3)
	csv += tickRows(day.AddDate(0, 0, 1), 3)
	_, _ = w.Write([]byte(csv))
	_ = zw.Close()
	dl.responses[monthURL] = body.Bytes()

	f := NewFetcher(cfg, dl, cache, log.Default())
	ok, err := f.Fetch(context.Background(), "GBPUSD", day)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !ok {
		t.Fatalf("expected month-granule fallback to succeed")
	}

	// The sibling day should already be cached without a second download.
	sibling := day.AddDate(0, 0, 1)
	ok2, err := f.Fetch(context.Background(), "GBPUSD", sibling)
	if err != nil {
		t.Fatalf("Fetch sibling: %v", err)
	}
	if !ok2 {
		t.Fatalf("expected sibling day to already be cached from the month archive")
	}
	if dl.calls[monthURL] != 1 {
		t.Fatalf("expected the month archive to be downloaded exactly once, got %d calls", dl.calls[monthURL])
	}
}

func tickRows(day time.Time, n int) string {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		ts := day.Add(time.Duration(i) * time.Minute).UnixMilli()
		fmt.Fprintf(&buf, "%d,1.1000,1.1002,1.1001,10\n", ts)
	}
	return buf.String()
}

func TestFetch_AllTiersMiss(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cacheCfg := daycache.DefaultConfig
	cacheCfg.Root = t.TempDir()
	cache, err := daycache.New(cacheCfg, log.Default())
	if err != nil {
		t.Fatalf("daycache.New: %v", err)
	}

	dl := newFakeDownloader() // every URL 404s by default
	f := NewFetcher(cfg, dl, cache, log.Default())
	ok, err := f.Fetch(context.Background(), "EURUSD", day)
	if err != nil {
		t.Fatalf("Fetch should not error on exhausted tiers: %v", err)
	}
	if ok {
		t.Fatalf("expected Fetch to report no data when all tiers 404")
	}
}

func TestFetch_ReusesSavedArchiveAcrossRuns(t *testing.T) {
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.SavePath = t.TempDir()

	dl := newFakeDownloader()
	url := expandPattern(cfg.DayURLTemplate, "EURUSD", "", day)
	dl.responses[url] = zippedCSV(t, "EURUSD.csv", tickCSV(day, 5))

	f1 := NewFetcher(cfg, dl, mustCache(t), log.Default())
	if ok, err := f1.Fetch(context.Background(), "EURUSD", day); err != nil || !ok {
		t.Fatalf("first Fetch: ok=%v err=%v", ok, err)
	}
	if dl.calls[url] != 1 {
		t.Fatalf("expected one download on the first run, got %d", dl.calls[url])
	}

	// A fresh fetcher with an empty day cache (a new run) finds the saved
	// archive on disk and never re-downloads.
	f2 := NewFetcher(cfg, dl, mustCache(t), log.Default())
	if ok, err := f2.Fetch(context.Background(), "EURUSD", day); err != nil || !ok {
		t.Fatalf("second Fetch: ok=%v err=%v", ok, err)
	}
	if dl.calls[url] != 1 {
		t.Fatalf("expected the saved archive to suppress re-download, got %d calls", dl.calls[url])
	}
}

func TestExpandPattern_SubstitutesAllPlaceholders(t *testing.T) {
	day := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	got := expandPattern("https://host/{BROKER}/{SYMBOL}/{YEAR}/{MONTH}/{DAY}.zip", "eurusd", "icmarkets", day)
	want := "https://host/icmarkets/eurusd/2025/03/07.zip"
	if got != want {
		t.Fatalf("expandPattern = %q, want %q", got, want)
	}
}

func TestFetch_AppliesSymbolNameMapping(t *testing.T) {
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.SymbolNames = map[string]string{"EURUSD": "eurusd"}
	cache := mustCache(t)

	dl := newFakeDownloader()
	url := expandPattern(cfg.DayURLTemplate, "eurusd", "", day)
	dl.responses[url] = zippedCSV(t, "eurusd.csv", tickCSV(day, 5))

	f := NewFetcher(cfg, dl, cache, log.Default())
	ok, err := f.Fetch(context.Background(), "EURUSD", day)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !ok {
		t.Fatalf("expected mapped-symbol day fetch to succeed")
	}
	if dl.calls[url] != 1 {
		t.Fatalf("expected the mapped URL to be hit exactly once, got %d", dl.calls[url])
	}
}

func TestParseZippedCSV_RejectsBadQuotes(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	body := "time,bid,ask,last,volume\n" + fmt.Sprintf("%d,1.1000,1.0900,1.1001,10\n", day.UnixMilli())
	z := zippedCSV(t, "bad.csv", body)
	if _, err := parseZippedCSV(z, "EURUSD"); err == nil {
		t.Fatalf("expected ask < bid to be rejected")
	}
}

func TestParseZippedCSV_RejectsMissingColumn(t *testing.T) {
	body := "time,bid,ask,volume\n1000,1.1,1.2,10\n"
	z := zippedCSV(t, "bad.csv", body)
	if _, err := parseZippedCSV(z, "EURUSD"); err == nil {
		t.Fatalf("expected missing 'last' column to be rejected")
	}
}

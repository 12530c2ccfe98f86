package archive

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/backreplay/internal/daycache"
	"github.com/eddiefleurent/backreplay/internal/marketdata"
)

// granule identifies the archive tier attempted, finest first.
type granule int

const (
	granuleDay granule = iota
	granuleMonth
	granuleYear
)

func (g granule) String() string {
	switch g {
	case granuleDay:
		return "day"
	case granuleMonth:
		return "month"
	default:
		return "year"
	}
}

// Fetcher is the archive tier: day to month to year fallback download,
// parse, split-into-days, and cache population, with at-most-once-per-run
// reuse for a given (symbol, granule).
type Fetcher struct {
	cfg     Config
	dl      Downloader
	cache   *daycache.DayCache
	breaker *breaker
	limiter *rate.Limiter
	sf      singleflight.Group
	logger  *log.Logger

	mu      sync.Mutex
	fetched map[string]bool // granule keys already downloaded this run
}

// NewFetcher wires a Fetcher around cache, using dl for transport. Pass a
// fake Downloader in tests to avoid real network I/O.
func NewFetcher(cfg Config, dl Downloader, cache *daycache.DayCache, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{
		cfg:     cfg,
		dl:      dl,
		cache:   cache,
		breaker: newBreaker("archive-fetch", cfg, logger),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger,
		fetched: make(map[string]bool),
	}
}

// Fetch implements the fetch(symbol, day) -> frame?. It returns
// whether day's ticks were found (and cached) by any tier.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, day time.Time) (bool, error) {
	day = day.UTC()

	if ok, err := f.tryGranule(ctx, granuleDay, symbol, day, f.dayURL(symbol, day)); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if ok, err := f.tryGranule(ctx, granuleMonth, symbol, day, f.monthURL(symbol, day)); err != nil {
		return false, err
	} else if ok {
		return f.dayIsCached(symbol, day)
	}
	if ok, err := f.tryGranule(ctx, granuleYear, symbol, day, f.yearURL(symbol, day)); err != nil {
		return false, err
	} else if ok {
		return f.dayIsCached(symbol, day)
	}
	return false, nil
}

// dayIsCached reports whether day is now a valid DayCache entry, after a
// month/year granule download has split-and-cached it.
func (f *Fetcher) dayIsCached(symbol string, day time.Time) (bool, error) {
	verdict, _, err := f.cache.Validate(symbol, day, marketdata.TickData(marketdata.TickTypeQuote))
	if err != nil {
		return false, err
	}
	return verdict == daycache.ValidOk, nil
}

// archiveSymbol maps an engine symbol onto the archive host's naming.
func (f *Fetcher) archiveSymbol(symbol string) string {
	if mapped, ok := f.cfg.SymbolNames[symbol]; ok {
		return mapped
	}
	return symbol
}

func (f *Fetcher) dayURL(symbol string, day time.Time) string {
	return expandPattern(f.cfg.DayURLTemplate, f.archiveSymbol(symbol), f.cfg.BrokerName, day)
}
func (f *Fetcher) monthURL(symbol string, day time.Time) string {
	return expandPattern(f.cfg.MonthURLTemplate, f.archiveSymbol(symbol), f.cfg.BrokerName, day)
}
func (f *Fetcher) yearURL(symbol string, day time.Time) string {
	return expandPattern(f.cfg.YearURLTemplate, f.archiveSymbol(symbol), f.cfg.BrokerName, day)
}

// tryGranule downloads and splits-and-caches one granule, deduping repeat
// attempts within a run via singleflight plus a seen-set, so a granule is
// downloaded at most once per run. Returns whether the requested day ended up
// cached (for the day granule specifically; callers re-validate for
// month/year since those cover many days at once).
func (f *Fetcher) tryGranule(ctx context.Context, g granule, symbol string, day time.Time, rawURL string) (bool, error) {
	if err := f.checkTrustedHost(rawURL); err != nil {
		return false, err
	}

	key := fmt.Sprintf("%s:%s:%s", g, symbol, granuleKey(g, day))

	f.mu.Lock()
	already := f.fetched[key]
	f.mu.Unlock()
	if already {
		if g == granuleDay {
			return f.dayIsCached(symbol, day)
		}
		return true, nil
	}

	result, err, _ := f.sf.Do(key, func() (interface{}, error) {
		body := f.readSavedArchive(symbol, g, day)
		if body == nil {
			var status int
			var derr error
			body, status, derr = f.downloadWithRetry(ctx, rawURL)
			if derr != nil {
				return false, derr
			}
			if status == 404 || body == nil {
				return false, nil
			}
			f.writeSavedArchive(symbol, g, day, body)
		}
		ticks, perr := parseZippedCSV(body, symbol)
		if perr != nil {
			f.logger.Printf("archive: %s granule for %s rejected: %v", g, symbol, perr)
			return false, nil
		}
		if err := f.splitAndCache(symbol, ticks); err != nil {
			return false, err
		}
		f.mu.Lock()
		f.fetched[key] = true
		f.mu.Unlock()
		return true, nil
	})
	if err != nil {
		return false, err
	}
	ok, _ := result.(bool)
	if !ok {
		return false, nil
	}
	if g == granuleDay {
		return f.dayIsCached(symbol, day)
	}
	return true, nil
}

// readSavedArchive returns a previously saved raw archive for this granule,
// or nil when saving is disabled or no file exists.
func (f *Fetcher) readSavedArchive(symbol string, g granule, day time.Time) []byte {
	path := f.savedArchivePath(symbol, g, day)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path built from the configured save dir
	if err != nil || len(data) == 0 {
		return nil
	}
	f.logger.Printf("archive: reusing saved %s archive for %s", g, symbol)
	return data
}

// writeSavedArchive persists a freshly downloaded archive; failures only log
// since the download itself already succeeded.
func (f *Fetcher) writeSavedArchive(symbol string, g granule, day time.Time, body []byte) {
	path := f.savedArchivePath(symbol, g, day)
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		f.logger.Printf("archive: cannot create save dir: %v", err)
		return
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		f.logger.Printf("archive: cannot save archive to %s: %v", path, err)
	}
}

func (f *Fetcher) savedArchivePath(symbol string, g granule, day time.Time) string {
	if f.cfg.SavePath == "" {
		return ""
	}
	return filepath.Join(f.cfg.SavePath, fmt.Sprintf("%s_%s_%s.zip", symbol, g, granuleKey(g, day)))
}

// checkTrustedHost enforces the "only hosts listed in a trusted-source
// allowlist are contacted". An empty TrustedHosts list imposes no
// restriction.
func (f *Fetcher) checkTrustedHost(rawURL string) error {
	if len(f.cfg.TrustedHosts) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("archive: invalid archive URL %q: %w", rawURL, err)
	}
	host := u.Hostname()
	for _, trusted := range f.cfg.TrustedHosts {
		if strings.EqualFold(host, trusted) {
			return nil
		}
	}
	return fmt.Errorf("archive: host %q is not in the trusted-source allowlist", host)
}

func granuleKey(g granule, day time.Time) string {
	switch g {
	case granuleDay:
		return day.Format("2006-01-02")
	case granuleMonth:
		return day.Format("2006-01")
	default:
		return day.Format("2006")
	}
}

// splitAndCache groups ticks by UTC day and saves every day whose volume
// clears MinTicksPerDay, including days outside the originally requested
// range, so later fetches in the same granule reuse them.
func (f *Fetcher) splitAndCache(symbol string, ticks []marketdata.Tick) error {
	byDay := splitByDay(ticks)
	for day, dayTicks := range byDay {
		if len(dayTicks) < f.cfg.MinTicksPerDay {
			f.logger.Printf("archive: dropping %s %s, %d ticks below minimum %d",
				symbol, day.Format("2006-01-02"), len(dayTicks), f.cfg.MinTicksPerDay)
			continue
		}
		if err := f.cache.SaveTicks(symbol, day, marketdata.TickTypeQuote, dayTicks, marketdata.SourceArchive); err != nil {
			return fmt.Errorf("cache archive day %s %s: %w", symbol, day.Format("2006-01-02"), err)
		}
	}
	return nil
}

// downloadWithRetry wraps dl.Get with the circuit breaker, a rate-limiter
// wait, and bounded exponential backoff with jitter on transient failures.
// 404s are terminal (caller advances to the next granule) and are never
// retried.
func (f *Fetcher) downloadWithRetry(ctx context.Context, url string) ([]byte, int, error) {
	dlCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var lastErr error
	backoff := f.cfg.InitialBackoff

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := f.limiter.Wait(dlCtx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter wait: %w", err)
		}

		var status int
		body, err := f.breaker.execute(func() ([]byte, error) {
			b, st, derr := f.dl.Get(dlCtx, url)
			status = st
			if derr == nil && (st >= 500 || st == 429) {
				derr = fmt.Errorf("server error: http status %d", st)
			}
			return b, derr
		})
		if err == nil {
			return body, status, nil
		}
		if status == 404 {
			return nil, 404, nil
		}

		lastErr = err
		if isTransientError(err) && attempt < f.cfg.MaxRetries {
			f.logger.Printf("archive: transient error fetching %s (attempt %d/%d): %v",
				url, attempt+1, f.cfg.MaxRetries+1, err)
			select {
			case <-time.After(backoff):
				backoff = nextBackoff(backoff, f.cfg.MaxBackoff, f.logger)
			case <-dlCtx.Done():
				return nil, 0, fmt.Errorf("download timed out during backoff: %w", dlCtx.Err())
			}
			continue
		}
		break
	}
	return nil, 0, fmt.Errorf("failed to fetch %s after %d attempts: %w", url, f.cfg.MaxRetries+1, lastErr)
}

func nextBackoff(current, max time.Duration, logger *log.Logger) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			logger.Printf("archive: failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"timeout", "i/o timeout", "connection refused", "connection reset",
		"temporary failure", "temporarily unavailable", "server error",
		"rate limit", "429", "502", "503", "504", "network", "dns",
		"tcp", "no such host", "deadline exceeded", "tls handshake",
		"broken pipe", "eof",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// Package archive implements the day/month/year
// fallback archive download tier that backstops DataLoader when neither
// DayCache nor the exchange-API adapter has a day's ticks.
package archive

import "time"

// Config holds the archive tier's tunables.
type Config struct {
	// DayURLTemplate, MonthURLTemplate, YearURLTemplate are URL patterns
	// carrying {SYMBOL}, {BROKER}, {YEAR}, {MONTH}, {DAY} placeholders; the
	// exact archive host layout is deployment-specific and supplied by the
	// caller.
	DayURLTemplate   string
	MonthURLTemplate string
	YearURLTemplate  string

	// BrokerName substitutes {BROKER} in the URL patterns. SymbolNames maps
	// engine symbol names onto the archive host's naming before {SYMBOL}
	// substitution; symbols absent from the map pass through unchanged.
	BrokerName  string
	SymbolNames map[string]string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration

	// MinTicksPerDay rejects a parsed day as too sparse to trust.
	MinTicksPerDay int

	// SavePath, when set, keeps raw downloaded archives on disk so a later
	// run re-reads the file instead of re-downloading the granule.
	SavePath string

	// RateLimit and Burst throttle outbound archive HTTP calls.
	RateLimit float64 // requests per second
	Burst     int

	// Circuit breaker tunables (see newBreaker).
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	BreakerMaxFailures uint32

	// TrustedHosts restricts which archive hosts may be contacted. An empty
	// list leaves every host unrestricted, since an operator who never
	// configured one hasn't opted into the restriction.
	TrustedHosts []string
}

// DefaultConfig provides sensible defaults for the archive tier.
var DefaultConfig = Config{
	MaxRetries:         3,
	InitialBackoff:     1 * time.Second,
	MaxBackoff:         30 * time.Second,
	Timeout:            2 * time.Minute,
	MinTicksPerDay:     10,
	RateLimit:          5,
	Burst:              10,
	BreakerMaxRequests: 3,
	BreakerInterval:    10 * time.Second,
	BreakerTimeout:     30 * time.Second,
	BreakerMaxFailures: 5,
}

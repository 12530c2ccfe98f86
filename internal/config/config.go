// Package config implements BacktestConfig loading: yaml.v3 decode with
// environment-variable expansion, KnownFields enforcement, and a
// normalize-then-validate pipeline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for options whose zero value would otherwise be ambiguous
// (0 meaning "unset" vs. a deliberate zero).
const (
	defaultCacheTTLDays       = 7
	defaultCacheGapThreshold  = 1.0
	defaultParallelDays       = 4
	defaultLeverage           = 100.0
	defaultArchiveTimeout     = 2 * time.Minute
	defaultArchiveMaxRetries  = 3
	defaultEquitySampleStride = 100
)

// BacktestConfig is the root configuration for one backtest run: every
// engine option plus date range, symbol list, and initial balance.
type BacktestConfig struct {
	Symbols        []string  `yaml:"symbols"`
	Start          time.Time `yaml:"start"`
	End            time.Time `yaml:"end"`
	InitialBalance float64   `yaml:"initial_balance"`
	Leverage       float64   `yaml:"leverage"`

	Cache   CacheConfig   `yaml:"cache"`
	Archive ArchiveConfig `yaml:"archive"`
	Loader  LoaderConfig  `yaml:"loader"`
	Session SessionConfig `yaml:"session"`

	UseTickData          bool `yaml:"use_tick_data"`
	StreamTicksFromDisk  bool `yaml:"stream_ticks_from_disk"`
	EquitySampleStride   int  `yaml:"equity_sample_stride"`
	AllowPartialData     bool `yaml:"allow_partial_data"`
	EquityKillThreshold  float64 `yaml:"equity_kill_threshold"` // 0 disables the kill switch
	HasPositionMonitor   bool `yaml:"has_position_monitor"`

	BrokerNameMapping map[string]string `yaml:"broker_name_mapping"`
	SymbolNameMapping map[string]string `yaml:"symbol_name_mapping"`

	Dashboard DashboardConfig `yaml:"dashboard"`
	LogLevel  string          `yaml:"log_level"`
}

// CacheConfig maps onto daycache.Config's tunables. ValidationEnabled and
// Incremental are pointers because their documented default is on: a nil
// (omitted) value must be distinguishable from an explicit false, and
// Normalize fills nil with true.
type CacheConfig struct {
	Root              string  `yaml:"root"`
	ValidationEnabled *bool   `yaml:"cache_validation_enabled"`
	TTLDays           int     `yaml:"cache_ttl_days"`
	GapThresholdDays  float64 `yaml:"cache_gap_threshold_days"`
	IndexEnabled      bool    `yaml:"cache_index_enabled"`
	Incremental       *bool   `yaml:"incremental_cache_loading"`
}

// ArchiveConfig maps onto archive.Config's tunables plus the URL patterns
// and trusted-host allowlist.
type ArchiveConfig struct {
	Enabled          bool          `yaml:"tick_archive_enabled"`
	DayURLPattern    string        `yaml:"tick_archive_url_pattern_day"`
	MonthURLPattern  string        `yaml:"tick_archive_url_pattern_month"`
	YearURLPattern   string        `yaml:"tick_archive_url_pattern_year"`
	Timeout          time.Duration `yaml:"tick_archive_timeout"`
	MaxRetries       int           `yaml:"tick_archive_max_retries"`
	SavePath         string        `yaml:"tick_archive_save"`
	TrustedHosts     []string      `yaml:"trusted_hosts"`
}

// LoaderConfig maps onto dataloader.Config's tunables.
type LoaderConfig struct {
	ParallelDays int `yaml:"parallel_days"`
}

// SessionConfig holds the live-trading-only session options. Backtest mode
// always treats sessions as open and never consults these at replay time;
// they are accepted here only so the schema round-trips for operators
// sharing config between live and backtest runs.
type SessionConfig struct {
	CheckEnabled        bool `yaml:"session_check_enabled"`
	WaitForSession      bool `yaml:"wait_for_session"`
	WaitTimeoutMinutes  int  `yaml:"session_wait_timeout_minutes"`
	CheckIntervalSecond int  `yaml:"session_check_interval_seconds"`
}

// DashboardConfig configures the optional read-only progress HTTP surface.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the BacktestConfig at path through the
// ExpandEnv + KnownFields + Normalize + Validate pipeline.
func Load(path string) (*BacktestConfig, error) {
	if path == "" {
		path = "backtest.yaml"
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied config file
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg BacktestConfig
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func boolPtr(b bool) *bool { return &b }

// Normalize fills zero-valued options with their documented defaults.
func (c *BacktestConfig) Normalize() {
	if c.Cache.ValidationEnabled == nil {
		c.Cache.ValidationEnabled = boolPtr(true)
	}
	if c.Cache.Incremental == nil {
		c.Cache.Incremental = boolPtr(true)
	}
	if c.Cache.TTLDays == 0 {
		c.Cache.TTLDays = defaultCacheTTLDays
	}
	if c.Cache.GapThresholdDays == 0 {
		c.Cache.GapThresholdDays = defaultCacheGapThreshold
	}
	if c.Loader.ParallelDays == 0 {
		c.Loader.ParallelDays = defaultParallelDays
	}
	if c.Leverage == 0 {
		c.Leverage = defaultLeverage
	}
	if c.Archive.Timeout == 0 {
		c.Archive.Timeout = defaultArchiveTimeout
	}
	if c.Archive.MaxRetries == 0 {
		c.Archive.MaxRetries = defaultArchiveMaxRetries
	}
	if c.EquitySampleStride == 0 {
		c.EquitySampleStride = defaultEquitySampleStride
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the loaded options for consistency.
func (c *BacktestConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if c.Start.IsZero() || c.End.IsZero() {
		return fmt.Errorf("start and end are required")
	}
	if !c.End.After(c.Start) {
		return fmt.Errorf("end (%v) must be after start (%v)", c.End, c.Start)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be > 0")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("leverage must be > 0")
	}
	if c.Loader.ParallelDays <= 0 {
		return fmt.Errorf("loader.parallel_days must be > 0")
	}
	if c.Archive.Enabled {
		if c.Archive.DayURLPattern == "" && c.Archive.MonthURLPattern == "" && c.Archive.YearURLPattern == "" {
			return fmt.Errorf("archive is enabled but no URL pattern is configured")
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	return nil
}

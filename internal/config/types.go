package config

import (
	"strings"
	"time"
)

// Config is the root configuration for mimic.
type Config struct {
	App       AppConfig       `toml:"app"`
	Database  DatabaseConfig  `toml:"database"`
	Feed      FeedConfig      `toml:"feed"`
	Broker    BrokerConfig    `toml:"broker"`
	Trading   TradingConfig   `toml:"trading"`
	Poller    PollerConfig    `toml:"poller"`
	Calendar  CalendarConfig  `toml:"calendar"`
	Job       JobConfig       `toml:"job"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Watchlist WatchlistConfig `toml:"watchlist"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// FeedConfig describes the upstream disclosure feed.
type FeedConfig struct {
	BaseURL          string `toml:"base_url"`
	Path             string `toml:"path"`
	Token            string `toml:"token"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	RateLimitPerMin  int    `toml:"rate_limit_per_min"`
	MaxRetries       int    `toml:"max_retries"`
	InitialBackoffMs int    `toml:"initial_backoff_ms"`
	MaxBackoffMs     int    `toml:"max_backoff_ms"`
	FetchConcurrency int    `toml:"fetch_concurrency"`
}

// BrokerConfig describes the execution venue.
type BrokerConfig struct {
	BaseURL                string `toml:"base_url"`
	DataURL                string `toml:"data_url"`
	APIKey                 string `toml:"api_key"`
	APISecret              string `toml:"api_secret"`
	Paper                  bool   `toml:"paper"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	RateLimitPerMin        int    `toml:"rate_limit_per_min"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

// TradingConfig holds the guardrail bundle and order sizing.
type TradingConfig struct {
	Enabled           bool    `toml:"enabled"`
	PaperTradingOnly  bool    `toml:"paper_trading_only"`
	DailyMaxFilings   int     `toml:"daily_max_filings"`
	PerSymbolDailyMax int     `toml:"per_symbol_daily_max"`
	NotionalUSD       float64 `toml:"notional_usd"`
	MaxFilingAgeDays  int     `toml:"max_filing_age_days"` // 0 disables the staleness check
	Concurrency       int     `toml:"concurrency"`
}

type PollerConfig struct {
	InitialIntervalMs int `toml:"initial_interval_ms"`
	MaxIntervalMs     int `toml:"max_interval_ms"`
	BudgetSeconds     int `toml:"budget_seconds"`
}

func (p PollerConfig) InitialInterval() time.Duration {
	return time.Duration(p.InitialIntervalMs) * time.Millisecond
}

func (p PollerConfig) MaxInterval() time.Duration {
	return time.Duration(p.MaxIntervalMs) * time.Millisecond
}

func (p PollerConfig) Budget() time.Duration {
	return time.Duration(p.BudgetSeconds) * time.Second
}

type CalendarConfig struct {
	Timezone     string `toml:"timezone"`
	LookbackDays int    `toml:"lookback_days"`
}

// Location resolves the exchange timezone.
func (c CalendarConfig) Location() (*time.Location, error) {
	return time.LoadLocation(strings.TrimSpace(c.Timezone))
}

type JobConfig struct {
	StaleAfterMinutes int `toml:"stale_after_minutes"`
}

func (j JobConfig) StaleAfter() time.Duration {
	return time.Duration(j.StaleAfterMinutes) * time.Minute
}

// ScheduleConfig drives the in-process trigger used by `mimic serve`.
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	RunAt   string `toml:"run_at"` // HH:MM in the calendar timezone
}

type WatchlistConfig struct {
	Path string `toml:"path"`
}

// keySet tracks field paths set by a config file or the environment.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

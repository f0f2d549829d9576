package config

import (
	"strings"
)

const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppLogFormat       = "text"
	defaultAppHTTPAddr        = ":9992"
	defaultDatabasePath       = "data/mimic.db"
	defaultFeedPath           = "/filings"
	defaultFeedTimeout        = 20
	defaultFeedRateLimit      = 120
	defaultFeedMaxRetries     = 3
	defaultFeedInitialBackoff = 500
	defaultFeedMaxBackoff     = 5000
	defaultFeedConcurrency    = 4
	defaultBrokerPaperURL     = "https://paper-api.alpaca.markets"
	defaultBrokerDataURL      = "https://data.alpaca.markets"
	defaultBrokerTimeout      = 15
	defaultBrokerRateLimit    = 180
	defaultBreakerThreshold   = 5
	defaultBreakerCooldown    = 30
	defaultDailyMaxFilings    = 10
	defaultPerSymbolDailyMax  = 2
	defaultNotionalUSD        = 1000
	defaultConcurrency        = 1
	defaultPollInitialMs      = 500
	defaultPollMaxMs          = 8000
	defaultPollBudgetSeconds  = 60
	defaultTimezone           = "America/New_York"
	defaultLookbackDays       = 10
	defaultStaleAfterMinutes  = 120
	defaultRunAt              = "09:35"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Poller.applyDefaults(keys)
	c.Calendar.applyDefaults(keys)
	c.Job.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
	c.Watchlist.Path = strings.TrimSpace(c.Watchlist.Path)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("database.path", &d.Path, defaultDatabasePath))
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("feed.path", &f.Path, defaultFeedPath),
		intFieldDefault("feed.timeout_seconds", &f.TimeoutSeconds, defaultFeedTimeout),
		intFieldDefault("feed.rate_limit_per_min", &f.RateLimitPerMin, defaultFeedRateLimit),
		intFieldDefault("feed.max_retries", &f.MaxRetries, defaultFeedMaxRetries),
		intFieldDefault("feed.initial_backoff_ms", &f.InitialBackoffMs, defaultFeedInitialBackoff),
		intFieldDefault("feed.max_backoff_ms", &f.MaxBackoffMs, defaultFeedMaxBackoff),
		intFieldDefault("feed.fetch_concurrency", &f.FetchConcurrency, defaultFeedConcurrency),
	)
	f.BaseURL = strings.TrimRight(strings.TrimSpace(f.BaseURL), "/")
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("broker.paper", &b.Paper, true),
		stringFieldDefault("broker.base_url", &b.BaseURL, defaultBrokerPaperURL),
		stringFieldDefault("broker.data_url", &b.DataURL, defaultBrokerDataURL),
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
		intFieldDefault("broker.rate_limit_per_min", &b.RateLimitPerMin, defaultBrokerRateLimit),
		intFieldDefault("broker.breaker_threshold", &b.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("broker.breaker_cooldown_seconds", &b.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
	b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	b.DataURL = strings.TrimRight(strings.TrimSpace(b.DataURL), "/")
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("trading.enabled", &t.Enabled, false),
		boolFieldDefault("trading.paper_trading_only", &t.PaperTradingOnly, true),
		intFieldDefault("trading.daily_max_filings", &t.DailyMaxFilings, defaultDailyMaxFilings),
		intFieldDefault("trading.per_symbol_daily_max", &t.PerSymbolDailyMax, defaultPerSymbolDailyMax),
		intFieldDefault("trading.concurrency", &t.Concurrency, defaultConcurrency),
		fieldDefault{
			key:   "trading.notional_usd",
			need:  func() bool { return t.NotionalUSD <= 0 },
			apply: func() { t.NotionalUSD = defaultNotionalUSD },
		},
	)
	if t.MaxFilingAgeDays < 0 {
		t.MaxFilingAgeDays = 0
	}
}

func (p *PollerConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("poller.initial_interval_ms", &p.InitialIntervalMs, defaultPollInitialMs),
		intFieldDefault("poller.max_interval_ms", &p.MaxIntervalMs, defaultPollMaxMs),
		intFieldDefault("poller.budget_seconds", &p.BudgetSeconds, defaultPollBudgetSeconds),
	)
}

func (c *CalendarConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("calendar.timezone", &c.Timezone, defaultTimezone),
		intFieldDefault("calendar.lookback_days", &c.LookbackDays, defaultLookbackDays),
	)
}

func (j *JobConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys, intFieldDefault("job.stale_after_minutes", &j.StaleAfterMinutes, defaultStaleAfterMinutes))
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("schedule.enabled", &s.Enabled, true),
		stringFieldDefault("schedule.run_at", &s.RunAt, defaultRunAt),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Poller.validate(); err != nil {
		return err
	}
	if err := c.Calendar.validate(); err != nil {
		return err
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	return nil
}

func (f *FeedConfig) validate() error {
	if f.BaseURL == "" {
		return fmt.Errorf("feed.base_url cannot be empty")
	}
	if f.MaxRetries < 0 {
		return fmt.Errorf("feed.max_retries must be >= 0")
	}
	if f.FetchConcurrency < 0 {
		return fmt.Errorf("feed.fetch_concurrency must be >= 0")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if b.BaseURL == "" {
		return fmt.Errorf("broker.base_url cannot be empty")
	}
	if b.DataURL == "" {
		return fmt.Errorf("broker.data_url cannot be empty")
	}
	if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
		return fmt.Errorf("broker requires api_key and api_secret")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.DailyMaxFilings < 0 {
		return fmt.Errorf("trading.daily_max_filings must be >= 0")
	}
	if t.PerSymbolDailyMax < 0 {
		return fmt.Errorf("trading.per_symbol_daily_max must be >= 0")
	}
	if t.NotionalUSD <= 0 {
		return fmt.Errorf("trading.notional_usd must be > 0")
	}
	if t.Concurrency < 1 {
		return fmt.Errorf("trading.concurrency must be >= 1")
	}
	return nil
}

func (p *PollerConfig) validate() error {
	if p.InitialIntervalMs <= 0 || p.MaxIntervalMs <= 0 {
		return fmt.Errorf("poller intervals must be > 0")
	}
	if p.MaxIntervalMs < p.InitialIntervalMs {
		return fmt.Errorf("poller.max_interval_ms must be >= poller.initial_interval_ms")
	}
	if p.BudgetSeconds <= 0 {
		return fmt.Errorf("poller.budget_seconds must be > 0")
	}
	return nil
}

func (c *CalendarConfig) validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("calendar.timezone %q: %w", c.Timezone, err)
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("calendar.lookback_days must be >= 1")
	}
	return nil
}

func (s *ScheduleConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(s.RunAt)); err != nil {
		return fmt.Errorf("schedule.run_at must be HH:MM, got %q", s.RunAt)
	}
	return nil
}

package app

import (
	"fmt"
	"strings"

	"mimic/internal/config"
	"mimic/internal/watchlist"
)

// StartupSummary is the banner printed when serve starts.
type StartupSummary struct {
	Env        string
	Database   string
	FeedURL    string
	BrokerURL  string
	Paper      bool
	Timezone   string
	Schedule   string
	HTTPAddr   string
	Guardrails GuardrailSummary
	Parties    []string
}

type GuardrailSummary struct {
	Enabled           bool
	PaperOnly         bool
	DailyMaxFilings   int
	PerSymbolDailyMax int
	NotionalUSD       float64
	MaxFilingAgeDays  int
	Concurrency       int
}

func newStartupSummary(cfg *config.Config, paper bool, wl *watchlist.Registry) *StartupSummary {
	s := &StartupSummary{
		Env:       cfg.App.Env,
		Database:  cfg.Database.Path,
		FeedURL:   strings.TrimRight(cfg.Feed.BaseURL, "/") + cfg.Feed.Path,
		BrokerURL: cfg.Broker.BaseURL,
		Paper:     paper,
		Timezone:  cfg.Calendar.Timezone,
		HTTPAddr:  cfg.App.HTTPAddr,
		Guardrails: GuardrailSummary{
			Enabled:           cfg.Trading.Enabled,
			PaperOnly:         cfg.Trading.PaperTradingOnly,
			DailyMaxFilings:   cfg.Trading.DailyMaxFilings,
			PerSymbolDailyMax: cfg.Trading.PerSymbolDailyMax,
			NotionalUSD:       cfg.Trading.NotionalUSD,
			MaxFilingAgeDays:  cfg.Trading.MaxFilingAgeDays,
			Concurrency:       cfg.Trading.Concurrency,
		},
	}
	if cfg.Schedule.Enabled {
		s.Schedule = cfg.Schedule.RunAt
	}
	if wl != nil {
		for _, p := range wl.Snapshot().Parties {
			s.Parties = append(s.Parties, p.Name)
		}
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 72)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "  MIMIC STARTUP SUMMARY")
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[runtime]")
	fmt.Fprintf(&b, "  env:        %s\n", orDash(s.Env))
	fmt.Fprintf(&b, "  database:   %s\n", orDash(s.Database))
	fmt.Fprintf(&b, "  status api: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintf(&b, "  timezone:   %s\n", orDash(s.Timezone))
	fmt.Fprintf(&b, "  schedule:   %s\n", orDash(s.Schedule))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[upstreams]")
	fmt.Fprintf(&b, "  feed:   %s\n", orDash(s.FeedURL))
	venue := "live"
	if s.Paper {
		venue = "paper"
	}
	fmt.Fprintf(&b, "  broker: %s (%s)\n", orDash(s.BrokerURL), venue)
	fmt.Fprintln(&b)

	g := s.Guardrails
	fmt.Fprintln(&b, "[guardrails]")
	fmt.Fprintf(&b, "  trading enabled:    %v\n", g.Enabled)
	fmt.Fprintf(&b, "  paper only:         %v\n", g.PaperOnly)
	fmt.Fprintf(&b, "  daily max filings:  %s\n", capString(g.DailyMaxFilings))
	fmt.Fprintf(&b, "  per symbol max:     %s\n", capString(g.PerSymbolDailyMax))
	fmt.Fprintf(&b, "  notional usd:       %.2f\n", g.NotionalUSD)
	fmt.Fprintf(&b, "  max filing age:     %s\n", ageString(g.MaxFilingAgeDays))
	fmt.Fprintf(&b, "  concurrency:        %d\n", g.Concurrency)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[watch list]")
	if len(s.Parties) == 0 {
		fmt.Fprintln(&b, "  (everyone)")
	}
	for _, p := range s.Parties {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	fmt.Fprintln(&b, line)
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func capString(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func ageString(days int) string {
	if days <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d days", days)
}

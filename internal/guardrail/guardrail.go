// Package guardrail decides whether a candidate filing may be traded.
package guardrail

import (
	"mimic/internal/calendar"
	"mimic/internal/config"
	"mimic/internal/pkg/symbol"

	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTradingDisabled  Reason = "trading_disabled"
	ReasonLiveVenueBlocked Reason = "live_venue_blocked"
	ReasonInvalidNotional  Reason = "invalid_notional"
	ReasonStaleFiling      Reason = "stale_filing"
	ReasonDailyCap         Reason = "daily_cap_reached"
	ReasonSymbolCap        Reason = "symbol_cap_reached"
)

// Config is the guardrail bundle. A cap <= 0 is unlimited; MaxFilingAgeDays
// <= 0 disables the staleness check.
type Config struct {
	TradingEnabled    bool
	PaperTradingOnly  bool
	DailyMaxFilings   int
	PerSymbolDailyMax int
	Notional          decimal.Decimal
	MaxFilingAgeDays  int
}

func FromConfig(cfg config.TradingConfig) Config {
	return Config{
		TradingEnabled:    cfg.Enabled,
		PaperTradingOnly:  cfg.PaperTradingOnly,
		DailyMaxFilings:   cfg.DailyMaxFilings,
		PerSymbolDailyMax: cfg.PerSymbolDailyMax,
		Notional:          decimal.NewFromFloat(cfg.NotionalUSD),
		MaxFilingAgeDays:  cfg.MaxFilingAgeDays,
	}
}

// Input is everything Evaluate looks at for one candidate.
type Input struct {
	Symbol            string
	TradeDate         calendar.Date
	TradingDate       calendar.Date
	AcceptedToday     int
	AcceptedForSymbol int
	PaperVenue        bool
}

type Verdict struct {
	Allow    bool
	Reason   Reason
	Notional decimal.Decimal
}

func block(r Reason) Verdict { return Verdict{Reason: r} }

// Evaluate is pure: same input and config, same verdict.
func Evaluate(in Input, cfg Config) Verdict {
	switch {
	case !cfg.TradingEnabled:
		return block(ReasonTradingDisabled)
	case cfg.PaperTradingOnly && !in.PaperVenue:
		return block(ReasonLiveVenueBlocked)
	case !cfg.Notional.IsPositive():
		return block(ReasonInvalidNotional)
	case stale(in, cfg):
		return block(ReasonStaleFiling)
	case cfg.DailyMaxFilings > 0 && in.AcceptedToday >= cfg.DailyMaxFilings:
		return block(ReasonDailyCap)
	case cfg.PerSymbolDailyMax > 0 && in.AcceptedForSymbol >= cfg.PerSymbolDailyMax:
		return block(ReasonSymbolCap)
	}
	return Verdict{Allow: true, Notional: cfg.Notional}
}

func stale(in Input, cfg Config) bool {
	if cfg.MaxFilingAgeDays <= 0 || in.TradeDate.IsZero() || in.TradingDate.IsZero() {
		return false
	}
	return in.TradeDate.Before(in.TradingDate.AddDays(-cfg.MaxFilingAgeDays))
}

func normalizeSymbol(s string) string { return symbol.Normalize(s) }

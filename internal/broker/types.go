package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mimic/internal/calendar"

	"github.com/shopspring/decimal"
)

// OrderRequest is a market day order sized either by Notional dollars or by
// whole-share Qty. Exactly one must be set.
type OrderRequest struct {
	Symbol        string
	Side          string
	Notional      *decimal.Decimal
	Qty           *decimal.Decimal
	ClientOrderID string
}

func (r OrderRequest) validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("order symbol is required")
	}
	if (r.Notional == nil) == (r.Qty == nil) {
		return fmt.Errorf("order needs exactly one of notional or qty")
	}
	if r.Notional != nil && !r.Notional.IsPositive() {
		return fmt.Errorf("order notional must be positive")
	}
	if r.Qty != nil && !r.Qty.IsPositive() {
		return fmt.Errorf("order qty must be positive")
	}
	return nil
}

type orderPayload struct {
	Symbol        string `json:"symbol"`
	Notional      string `json:"notional,omitempty"`
	Qty           string `json:"qty,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

func (r OrderRequest) payload() orderPayload {
	side := strings.ToLower(strings.TrimSpace(r.Side))
	if side == "" {
		side = "buy"
	}
	p := orderPayload{
		Symbol:        strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Side:          side,
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: r.ClientOrderID,
	}
	if r.Notional != nil {
		p.Notional = r.Notional.StringFixed(2)
	}
	if r.Qty != nil {
		p.Qty = r.Qty.String()
	}
	return p
}

// Order is the venue's view of an order.
type Order struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Status         string              `json:"status"`
	Notional       decimal.NullDecimal `json:"notional"`
	Qty            decimal.NullDecimal `json:"qty"`
	FilledQty      decimal.Decimal     `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	SubmittedAt    *time.Time          `json:"submitted_at"`
	FilledAt       *time.Time          `json:"filled_at"`
	CanceledAt     *time.Time          `json:"canceled_at"`
	FailedAt       *time.Time          `json:"failed_at"`
}

// ResultKind tags the outcome of an order submission.
type ResultKind int

const (
	Accepted ResultKind = iota + 1
	NeedsFallback
	Rejected
)

func (k ResultKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case NeedsFallback:
		return "needs_fallback"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SubmitResult is Accepted{Order}, NeedsFallback{Reason} or Rejected{Reason}.
type SubmitResult struct {
	Kind   ResultKind
	Order  *Order
	Reason string
}

type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// CalendarDay is one session as the venue reports it, in exchange-local wall time.
type CalendarDay struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Sessions resolves venue calendar days in the exchange location.
func Sessions(days []CalendarDay, loc *time.Location) (calendar.Sessions, error) {
	out := make(calendar.Sessions, 0, len(days))
	for _, d := range days {
		date, err := calendar.ParseDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("calendar day: %w", err)
		}
		sess, err := calendar.NewSession(date, d.Open, d.Close, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out.Sorted(), nil
}

type Account struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Currency       string          `json:"currency"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	TradingBlocked bool            `json:"trading_blocked"`
}

type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	Side          string          `json:"side"`
}

type latestTrade struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		Price decimal.Decimal `json:"p"`
		Size  json.Number     `json:"s"`
		Time  time.Time       `json:"t"`
	} `json:"trade"`
}

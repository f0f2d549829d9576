// Package execution places the order for one candidate filing: a notional
// market order first, a whole-share order when the venue refuses the shape.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mimic/internal/broker"
	"mimic/internal/calendar"
	"mimic/internal/logger"
	"mimic/internal/store"
	"mimic/internal/store/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Venue is the part of the brokerage client the engine needs.
type Venue interface {
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.SubmitResult, error)
	FindOrderByClientID(ctx context.Context, clientOrderID string) (*broker.Order, error)
	LatestTradePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetAccount(ctx context.Context) (*broker.Account, error)
}

const (
	ShapeNotional = "notional"
	ShapeQty      = "qty"
)

// Failure reasons recorded on failed trades.
const (
	ReasonQuantityZero       = "quantity_zero"
	ReasonInsufficientFunds  = "insufficient_buying_power"
	ReasonPriceUnavailable   = "price_unavailable"
	ReasonAccountUnavailable = "account_unavailable"
	ReasonSubmitError        = "submit_error"
	ReasonLookupError        = "order_lookup_error"
	ReasonUnconfirmed        = "submit_unconfirmed"
)

var clientOrderNamespace = uuid.MustParse("6f1c7e0a-3b52-5d8e-9a41-0c2f7b9d4e11")

// ClientOrderID is the idempotency key sent with the notional order for a source hash.
func ClientOrderID(sourceHash string) string {
	return uuid.NewSHA1(clientOrderNamespace, []byte(sourceHash)).String()
}

// FallbackClientOrderID keys the whole-share resubmission.
func FallbackClientOrderID(sourceHash string) string {
	return uuid.NewSHA1(clientOrderNamespace, []byte(sourceHash+":qty")).String()
}

// Candidate is a filing cleared for execution.
type Candidate struct {
	SourceHash  string
	Symbol      string
	TradingDate calendar.Date
}

type Outcome int

const (
	OutcomeSubmitted Outcome = iota + 1
	OutcomeRejected
	OutcomeFailed
	OutcomeAlreadyTraded
	OutcomeDryRun
	// OutcomeUnconfirmed: the submit answer was lost and the venue could not
	// be asked whether it took the order. The trade stays open without a
	// venue order id until the poller finds it by client order id.
	OutcomeUnconfirmed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeAlreadyTraded:
		return "already_traded"
	case OutcomeDryRun:
		return "dry_run"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

// TradeResult describes what Submit did. Trade is nil only for dry runs.
type TradeResult struct {
	Outcome      Outcome
	Trade        *model.TradeModel
	FallbackUsed bool
	// Adopted is set when an order already at the venue was taken over instead of placing a new one.
	Adopted bool
	Reason  string
}

// Occupying reports whether the trade holds a guardrail slot.
func (r TradeResult) Occupying() bool {
	switch r.Outcome {
	case OutcomeSubmitted, OutcomeUnconfirmed, OutcomeDryRun:
		return true
	default:
		return false
	}
}

type Engine struct {
	venue  Venue
	trades store.TradeRepository
	now    func() time.Time
	log    *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(venue Venue, trades store.TradeRepository, opts ...Option) *Engine {
	e := &Engine{
		venue:  venue,
		trades: trades,
		now:    time.Now,
		log:    logger.With("execution"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit executes c for notional dollars and persists exactly one trade row.
// The returned error is reserved for store failures; venue problems end up
// in a failed or rejected trade.
func (e *Engine) Submit(ctx context.Context, c Candidate, notional decimal.Decimal) (TradeResult, error) {
	if existing, err := e.existing(ctx, c.SourceHash); err != nil || existing != nil {
		if err != nil {
			return TradeResult{}, err
		}
		return TradeResult{Outcome: OutcomeAlreadyTraded, Trade: existing}, nil
	}
	if !notional.IsPositive() {
		return TradeResult{}, fmt.Errorf("execution: notional must be positive, got %s", notional)
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Symbol))
	cid := ClientOrderID(c.SourceHash)

	orphan, err := e.findOrphan(ctx, c.SourceHash)
	if err != nil {
		return e.fail(ctx, c, symbol, ReasonLookupError, err, false)
	}
	if orphan != nil {
		return e.adopt(ctx, c, symbol, orphan, notional, nil)
	}

	res, err := e.venue.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:        symbol,
		Notional:      &notional,
		ClientOrderID: cid,
	})
	if err != nil {
		return e.submitFailed(ctx, c, symbol, cid, &notional, nil, err)
	}
	switch res.Kind {
	case broker.Accepted:
		return e.accepted(ctx, c, symbol, res.Order, cid, ShapeNotional, &notional, nil, false)
	case broker.Rejected:
		return e.rejected(ctx, c, symbol, res.Reason, false)
	case broker.NeedsFallback:
		e.log.Info("notional order refused, falling back to whole shares", "symbol", symbol, "reason", res.Reason)
		return e.fallback(ctx, c, symbol, notional)
	default:
		return e.fail(ctx, c, symbol, ReasonSubmitError, fmt.Errorf("unexpected submit result %s", res.Kind), false)
	}
}

func (e *Engine) fallback(ctx context.Context, c Candidate, symbol string, notional decimal.Decimal) (TradeResult, error) {
	price, err := e.venue.LatestTradePrice(ctx, symbol)
	if err != nil {
		return e.fail(ctx, c, symbol, ReasonPriceUnavailable, err, true)
	}
	qty := WholeShares(notional, price)
	if !qty.IsPositive() {
		return e.fail(ctx, c, symbol, ReasonQuantityZero,
			fmt.Errorf("notional %s buys no whole share at %s", notional.StringFixed(2), price), true)
	}
	acct, err := e.venue.GetAccount(ctx)
	if err != nil {
		return e.fail(ctx, c, symbol, ReasonAccountUnavailable, err, true)
	}
	cost := qty.Mul(price)
	if acct.BuyingPower.LessThan(cost) {
		return e.fail(ctx, c, symbol, ReasonInsufficientFunds,
			fmt.Errorf("buying power %s below %s", acct.BuyingPower.StringFixed(2), cost.StringFixed(2)), true)
	}

	cid := FallbackClientOrderID(c.SourceHash)
	res, err := e.venue.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:        symbol,
		Qty:           &qty,
		ClientOrderID: cid,
	})
	if err != nil {
		return e.submitFailed(ctx, c, symbol, cid, &notional, &qty, err)
	}
	switch res.Kind {
	case broker.Accepted:
		return e.accepted(ctx, c, symbol, res.Order, cid, ShapeQty, nil, &qty, true)
	case broker.NeedsFallback, broker.Rejected:
		return e.rejected(ctx, c, symbol, res.Reason, true)
	default:
		return e.fail(ctx, c, symbol, ReasonSubmitError, fmt.Errorf("unexpected submit result %s", res.Kind), true)
	}
}

// findOrphan looks for an order a killed earlier attempt placed but never recorded.
func (e *Engine) findOrphan(ctx context.Context, hash string) (*broker.Order, error) {
	for _, cid := range []string{ClientOrderID(hash), FallbackClientOrderID(hash)} {
		o, err := e.venue.FindOrderByClientID(ctx, cid)
		if err != nil {
			return nil, err
		}
		if o != nil {
			if o.ClientOrderID == "" {
				o.ClientOrderID = cid
			}
			return o, nil
		}
	}
	return nil, nil
}

// submitFailed settles a submit call that returned an error. Only a definite
// refusal becomes a failed trade; otherwise the venue is asked for the
// client order id, and a found order is adopted.
func (e *Engine) submitFailed(ctx context.Context, c Candidate, symbol, cid string,
	notional, qty *decimal.Decimal, cause error) (TradeResult, error) {
	fallback := qty != nil
	if errors.Is(cause, broker.ErrInsufficientFunds) {
		return e.fail(ctx, c, symbol, ReasonInsufficientFunds, cause, fallback)
	}
	o, err := e.venue.FindOrderByClientID(ctx, cid)
	switch {
	case err == nil && o != nil:
		if o.ClientOrderID == "" {
			o.ClientOrderID = cid
		}
		e.log.Warn("submit answer lost but the venue has the order", "symbol", symbol, "client_order_id", cid, "error", cause)
		return e.adopt(ctx, c, symbol, o, *notional, qty)
	case err == nil:
		return e.fail(ctx, c, symbol, ReasonSubmitError, cause, fallback)
	default:
		return e.unconfirmed(ctx, c, symbol, cid, notional, qty, errors.Join(cause, err))
	}
}

func (e *Engine) unconfirmed(ctx context.Context, c Candidate, symbol, cid string,
	notional, qty *decimal.Decimal, cause error) (TradeResult, error) {
	row := e.newRow(c, symbol)
	row.Status = model.TradeStatusSubmitted
	row.ClientOrderID = cid
	row.SubmittedAtUnix = int64Ptr(e.now().UnixMilli())
	row.Reason = ReasonUnconfirmed + ": " + cause.Error()
	if qty != nil {
		row.OrderShape = ShapeQty
		row.FallbackUsed = true
		row.QtySubmitted = floatPtr(*qty)
	} else {
		row.OrderShape = ShapeNotional
		row.NotionalSubmitted = floatPtr(*notional)
	}
	e.log.Error("order state unknown, keeping trade open", "symbol", symbol, "client_order_id", cid, "error", cause)
	res, err := e.persist(ctx, row, OutcomeUnconfirmed)
	res.FallbackUsed = row.FallbackUsed
	res.Reason = row.Reason
	return res, err
}

func (e *Engine) adopt(ctx context.Context, c Candidate, symbol string, orphan *broker.Order,
	notional decimal.Decimal, qty *decimal.Decimal) (TradeResult, error) {
	e.log.Warn("adopting order already at venue", "symbol", symbol, "order_id", orphan.ID, "status", orphan.Status)
	row := e.newRow(c, symbol)
	row.Status = model.TradeStatusSubmitted
	row.VenueStatus = orphan.Status
	row.VenueOrderID = orphan.ID
	row.ClientOrderID = orphan.ClientOrderID
	row.SubmittedAtUnix = int64Ptr(e.now().UnixMilli())
	if orphan.ClientOrderID == FallbackClientOrderID(c.SourceHash) {
		row.OrderShape = ShapeQty
		row.FallbackUsed = true
		if orphan.Qty.Valid {
			row.QtySubmitted = floatPtr(orphan.Qty.Decimal)
		} else if qty != nil {
			row.QtySubmitted = floatPtr(*qty)
		}
	} else {
		row.OrderShape = ShapeNotional
		row.NotionalSubmitted = floatPtr(notional)
	}
	res, err := e.persist(ctx, row, OutcomeSubmitted)
	res.Adopted = res.Outcome == OutcomeSubmitted
	res.FallbackUsed = row.FallbackUsed
	return res, err
}

// WholeShares is floor(notional / price); zero when price is not positive.
func WholeShares(notional, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !notional.IsPositive() {
		return decimal.Zero
	}
	return notional.Div(price).Floor()
}

// Preview logs the order Submit would place without touching the venue's
// order endpoint or the store.
func (e *Engine) Preview(ctx context.Context, c Candidate, notional decimal.Decimal) (TradeResult, error) {
	existing, err := e.existing(ctx, c.SourceHash)
	if err != nil {
		return TradeResult{}, err
	}
	if existing != nil {
		return TradeResult{Outcome: OutcomeAlreadyTraded, Trade: existing}, nil
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Symbol))
	e.log.Info("dry run: would submit notional order",
		"symbol", symbol,
		"notional", notional.StringFixed(2),
		"client_order_id", ClientOrderID(c.SourceHash),
		"source_hash", c.SourceHash,
	)
	return TradeResult{Outcome: OutcomeDryRun}, nil
}

func (e *Engine) existing(ctx context.Context, hash string) (*model.TradeModel, error) {
	t, err := e.trades.GetBySourceHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("execution: lookup trade: %w", err)
	}
	return t, nil
}

func (e *Engine) accepted(ctx context.Context, c Candidate, symbol string, order *broker.Order, cid, shape string,
	notional, qty *decimal.Decimal, fallback bool) (TradeResult, error) {
	row := e.newRow(c, symbol)
	row.Status = model.TradeStatusSubmitted
	row.OrderShape = shape
	row.FallbackUsed = fallback
	row.ClientOrderID = cid
	row.SubmittedAtUnix = int64Ptr(e.now().UnixMilli())
	if notional != nil {
		row.NotionalSubmitted = floatPtr(*notional)
	}
	if qty != nil {
		row.QtySubmitted = floatPtr(*qty)
	}
	if order != nil {
		row.VenueOrderID = order.ID
		row.VenueStatus = order.Status
	}
	e.log.Info("order submitted", "symbol", symbol, "shape", shape, "order_id", row.VenueOrderID, "fallback", fallback)
	res, err := e.persist(ctx, row, OutcomeSubmitted)
	res.FallbackUsed = fallback
	return res, err
}

func (e *Engine) rejected(ctx context.Context, c Candidate, symbol, reason string, fallback bool) (TradeResult, error) {
	row := e.newRow(c, symbol)
	row.Status = model.TradeStatusRejected
	row.FallbackUsed = fallback
	row.Reason = reason
	row.RejectedAtUnix = int64Ptr(e.now().UnixMilli())
	e.log.Warn("order rejected", "symbol", symbol, "reason", reason, "fallback", fallback)
	res, err := e.persist(ctx, row, OutcomeRejected)
	res.FallbackUsed = fallback
	res.Reason = reason
	return res, err
}

func (e *Engine) fail(ctx context.Context, c Candidate, symbol, reason string, cause error, fallback bool) (TradeResult, error) {
	detail := reason
	if cause != nil {
		detail = reason + ": " + cause.Error()
	}
	row := e.newRow(c, symbol)
	row.Status = model.TradeStatusFailed
	row.FallbackUsed = fallback
	row.Reason = detail
	row.FailedAtUnix = int64Ptr(e.now().UnixMilli())
	e.log.Warn("trade failed", "symbol", symbol, "reason", detail)
	res, err := e.persist(ctx, row, OutcomeFailed)
	res.FallbackUsed = fallback
	res.Reason = detail
	return res, err
}

func (e *Engine) newRow(c Candidate, symbol string) *model.TradeModel {
	now := e.now().UnixMilli()
	return &model.TradeModel{
		SourceHash:    c.SourceHash,
		Symbol:        symbol,
		TradingDate:   c.TradingDate.String(),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
}

func (e *Engine) persist(ctx context.Context, row *model.TradeModel, outcome Outcome) (TradeResult, error) {
	created, stored, err := e.trades.Create(ctx, row)
	if err != nil {
		return TradeResult{Outcome: outcome, Trade: row}, fmt.Errorf("execution: persist trade %s: %w", row.Symbol, err)
	}
	if created == store.AlreadyExists {
		e.log.Warn("trade row already present for source hash", "source_hash", row.SourceHash, "status", stored.Status)
		return TradeResult{Outcome: OutcomeAlreadyTraded, Trade: stored}, nil
	}
	return TradeResult{Outcome: outcome, Trade: stored}, nil
}

func floatPtr(d decimal.Decimal) *float64 {
	f, _ := d.Float64()
	return &f
}

func int64Ptr(v int64) *int64 { return &v }

// Package reconcile follows submitted orders until the venue reports a
// terminal state or the polling budget runs out.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mimic/internal/broker"
	"mimic/internal/config"
	"mimic/internal/execution"
	"mimic/internal/logger"
	"mimic/internal/pkg/retry"
	"mimic/internal/store"
	"mimic/internal/store/model"
)

// OrderSource reads order state from the venue.
type OrderSource interface {
	GetOrder(ctx context.Context, id string) (*broker.Order, error)
	FindOrderByClientID(ctx context.Context, clientOrderID string) (*broker.Order, error)
}

// ReasonNotAtVenue marks a trade whose submit answer was lost and whose
// client order id the venue does not know.
const ReasonNotAtVenue = "order_not_at_venue"

var errNotAtVenue = errors.New("no order with this client order id")

type Config struct {
	Initial time.Duration
	Max     time.Duration
	Budget  time.Duration
}

func ConfigFrom(cfg config.PollerConfig) Config {
	return Config{
		Initial: cfg.InitialInterval(),
		Max:     cfg.MaxInterval(),
		Budget:  cfg.Budget(),
	}
}

func (c Config) withDefaults() Config {
	if c.Initial <= 0 {
		c.Initial = 500 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 8 * time.Second
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Budget <= 0 {
		c.Budget = time.Minute
	}
	return c
}

type Poller struct {
	orders OrderSource
	trades store.TradeRepository
	cfg    Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	log    *slog.Logger
}

type Option func(*Poller)

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleep replaces the wait between polls. Tests pair it with WithClock.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

func NewPoller(orders OrderSource, trades store.TradeRepository, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		orders: orders,
		trades: trades,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		sleep:  retry.Sleep,
		log:    logger.With("reconcile"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reconcile polls the venue for the trade's order and writes every observed
// change. When the budget runs out the last observed status stays in place.
func (p *Poller) Reconcile(ctx context.Context, tradeID int64) (model.TradeStatus, error) {
	return p.reconcile(ctx, tradeID, p.now().Add(p.cfg.Budget))
}

// reconcile polls until deadline. The order is always fetched at least once.
func (p *Poller) reconcile(ctx context.Context, tradeID int64, deadline time.Time) (model.TradeStatus, error) {
	trade, err := p.trades.Get(ctx, tradeID)
	if err != nil {
		return "", fmt.Errorf("reconcile: load trade %d: %w", tradeID, err)
	}
	if trade.Status.Terminal() || (trade.VenueOrderID == "" && trade.ClientOrderID == "") {
		return trade.Status, nil
	}

	orderID := trade.VenueOrderID
	obs := observation{status: trade.Status, venueStatus: trade.VenueStatus, filledQty: trade.FilledQty}
	backoff := retry.Backoff{Initial: p.cfg.Initial, Max: p.cfg.Max, Factor: 2}
	polls := 0

	for {
		polls++
		order, err := p.fetch(ctx, orderID, trade.ClientOrderID)
		switch {
		case err == nil:
			next := observe(order)
			found := orderID == ""
			if next != obs || found {
				upd := next.update(order, p.now())
				if found {
					upd.VenueOrderID = order.ID
				}
				applied, err := p.trades.ApplyUpdate(ctx, trade.ID, upd)
				if err != nil {
					return obs.status, fmt.Errorf("reconcile: update trade %d: %w", trade.ID, err)
				}
				if !applied {
					// finished elsewhere
					cur, err := p.trades.Get(ctx, trade.ID)
					if err != nil {
						return obs.status, err
					}
					return cur.Status, nil
				}
				if found {
					orderID = order.ID
					p.log.Warn("found unconfirmed order at venue", "trade_id", trade.ID, "symbol", trade.Symbol, "order_id", orderID)
				}
				p.log.Info("order status changed",
					"trade_id", trade.ID,
					"symbol", trade.Symbol,
					"from", obs.status,
					"to", next.status,
					"filled_qty", next.filledQty,
				)
				obs = next
			}
			if obs.status.Terminal() {
				return obs.status, nil
			}
		case ctx.Err() != nil:
			return obs.status, ctx.Err()
		case errors.Is(err, errNotAtVenue):
			return p.notAtVenue(ctx, trade)
		case errors.Is(err, broker.ErrTransient):
			p.log.Debug("order poll failed, will retry", "trade_id", trade.ID, "error", err)
		default:
			return obs.status, fmt.Errorf("reconcile: get order %s: %w", orderRef(orderID, trade.ClientOrderID), err)
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			break
		}
		wait := backoff.Next()
		if wait > remaining {
			wait = remaining
		}
		if err := p.sleep(ctx, wait); err != nil {
			return obs.status, err
		}
	}

	p.log.Warn("poll budget exhausted, leaving trade open",
		"trade_id", trade.ID,
		"symbol", trade.Symbol,
		"status", obs.status,
		"polls", polls,
	)
	return obs.status, nil
}

func (p *Poller) fetch(ctx context.Context, orderID, clientOrderID string) (*broker.Order, error) {
	if orderID != "" {
		return p.orders.GetOrder(ctx, orderID)
	}
	o, err := p.orders.FindOrderByClientID(ctx, clientOrderID)
	if err == nil && o == nil {
		return nil, errNotAtVenue
	}
	return o, err
}

// notAtVenue closes a trade whose order never reached the venue, which frees
// its guardrail slot.
func (p *Poller) notAtVenue(ctx context.Context, trade *model.TradeModel) (model.TradeStatus, error) {
	p.log.Warn("unconfirmed order is not at the venue, marking trade failed",
		"trade_id", trade.ID, "symbol", trade.Symbol, "client_order_id", trade.ClientOrderID)
	applied, err := p.trades.ApplyUpdate(ctx, trade.ID, model.TradeUpdate{
		Status: model.TradeStatusFailed,
		Reason: ReasonNotAtVenue,
		AtUnix: p.now().UnixMilli(),
	})
	if err != nil {
		return trade.Status, fmt.Errorf("reconcile: update trade %d: %w", trade.ID, err)
	}
	if !applied {
		cur, err := p.trades.Get(ctx, trade.ID)
		if err != nil {
			return trade.Status, err
		}
		return cur.Status, nil
	}
	return model.TradeStatusFailed, nil
}

func orderRef(orderID, clientOrderID string) string {
	if orderID != "" {
		return orderID
	}
	return "client:" + clientOrderID
}

// ReconcileOpen re-polls every trade an earlier run left non-terminal. The
// whole sweep shares one poll budget; once it is spent each remaining trade
// is observed once and left for the next run.
func (p *Poller) ReconcileOpen(ctx context.Context) (map[model.TradeStatus]int, error) {
	open, err := p.trades.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list open trades: %w", err)
	}
	out := make(map[model.TradeStatus]int)
	var errs []error
	deadline := p.now().Add(p.cfg.Budget)
	for _, t := range open {
		st, err := p.reconcile(ctx, t.ID, deadline)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("trade %d: %w", t.ID, err))
			continue
		}
		out[st]++
	}
	return out, errors.Join(errs...)
}

type observation struct {
	status      model.TradeStatus
	venueStatus string
	filledQty   float64
}

func observe(o *broker.Order) observation {
	qty, _ := o.FilledQty.Float64()
	return observation{
		status:      execution.TradeStatusFor(o.Status),
		venueStatus: o.Status,
		filledQty:   qty,
	}
}

func (obs observation) update(o *broker.Order, now time.Time) model.TradeUpdate {
	upd := model.TradeUpdate{
		Status:      obs.status,
		VenueStatus: obs.venueStatus,
		FilledQty:   obs.filledQty,
		AtUnix:      venueTime(o, obs.status, now).UnixMilli(),
	}
	if o.FilledAvgPrice.Valid {
		px, _ := o.FilledAvgPrice.Decimal.Float64()
		upd.FilledAvgPrice = &px
	}
	return upd
}

// venueTime prefers the venue's own transition stamp when it reports one.
func venueTime(o *broker.Order, st model.TradeStatus, now time.Time) time.Time {
	var at *time.Time
	switch st {
	case model.TradeStatusFilled:
		at = o.FilledAt
	case model.TradeStatusCanceled:
		at = o.CanceledAt
	case model.TradeStatusRejected:
		at = o.FailedAt
	}
	if at != nil && !at.IsZero() {
		return *at
	}
	return now
}

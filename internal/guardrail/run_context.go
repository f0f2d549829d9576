package guardrail

import (
	"sync"

	"mimic/internal/calendar"
)

// RunContext carries the per-run guardrail counters. Reserve evaluates and
// takes a slot under one lock, so concurrent symbol groups never overshoot a cap.
type RunContext struct {
	mu          sync.Mutex
	cfg         Config
	tradingDate calendar.Date
	paperVenue  bool
	total       int
	perSymbol   map[string]int
	blocked     map[Reason]int
}

// NewRunContext seeds the counters with trades already holding a slot on tradingDate.
func NewRunContext(cfg Config, tradingDate calendar.Date, paperVenue bool, total int, perSymbol map[string]int) *RunContext {
	rc := &RunContext{
		cfg:         cfg,
		tradingDate: tradingDate,
		paperVenue:  paperVenue,
		total:       total,
		perSymbol:   make(map[string]int, len(perSymbol)),
		blocked:     make(map[Reason]int),
	}
	for sym, n := range perSymbol {
		rc.perSymbol[normalizeSymbol(sym)] += n
	}
	return rc
}

// Reservation is a slot taken by an allowed candidate.
type Reservation struct {
	rc     *RunContext
	symbol string
	once   sync.Once
}

// Release gives the slot back; used when the attempt ends without occupying it.
func (r *Reservation) Release() {
	if r == nil || r.rc == nil {
		return
	}
	r.once.Do(func() {
		r.rc.mu.Lock()
		defer r.rc.mu.Unlock()
		r.rc.total--
		r.rc.perSymbol[r.symbol]--
	})
}

// Reserve evaluates the candidate and, when allowed, counts it immediately.
func (rc *RunContext) Reserve(symbol string, tradeDate calendar.Date) (Verdict, *Reservation) {
	symbol = normalizeSymbol(symbol)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	v := Evaluate(Input{
		Symbol:            symbol,
		TradeDate:         tradeDate,
		TradingDate:       rc.tradingDate,
		AcceptedToday:     rc.total,
		AcceptedForSymbol: rc.perSymbol[symbol],
		PaperVenue:        rc.paperVenue,
	}, rc.cfg)
	if !v.Allow {
		rc.blocked[v.Reason]++
		return v, nil
	}
	rc.total++
	rc.perSymbol[symbol]++
	return v, &Reservation{rc: rc, symbol: symbol}
}

// Counts returns the current total and a copy of the per-symbol counts.
func (rc *RunContext) Counts() (int, map[string]int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]int, len(rc.perSymbol))
	for k, v := range rc.perSymbol {
		out[k] = v
	}
	return rc.total, out
}

// Blocked returns how many candidates each reason stopped.
func (rc *RunContext) Blocked() map[Reason]int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[Reason]int, len(rc.blocked))
	for k, v := range rc.blocked {
		out[k] = v
	}
	return out
}

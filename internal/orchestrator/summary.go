package orchestrator

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"mimic/internal/guardrail"
	"mimic/internal/store/model"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// State is how far a run got.
type State string

const (
	StateNotStarted          State = "not_started"
	StateCalendarChecked     State = "calendar_checked"
	StateWindowsComputed     State = "windows_computed"
	StateCandidatesCollected State = "candidates_collected"
	StateTradesSubmitted     State = "trades_submitted"
	StateCheckpointsAdvanced State = "checkpoints_advanced"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
)

// Skip reasons.
const (
	SkipNoSession    = "no_session"
	SkipMarketClosed = "market_not_open"
	SkipAlreadyRan   = "already_ran"
)

// Counts are the per-run diagnostics, one bucket per way a record can leave the pipeline.
type Counts struct {
	Fetched          int `json:"fetched"`
	Invalid          int `json:"invalid"`
	MissingFields    int `json:"missing_fields"`
	OutsideWindow    int `json:"outside_window"`
	NonBuy           int `json:"non_buy"`
	Unwatched        int `json:"unwatched"`
	Duplicates       int `json:"duplicates"`
	Candidates       int `json:"candidates"`
	AlreadyProcessed int `json:"already_processed"`
	GuardrailBlocked int `json:"guardrail_blocked"`
	Attempted        int `json:"attempted"`
	Submitted        int `json:"submitted"`
	Unconfirmed      int `json:"unconfirmed"`
	Adopted          int `json:"adopted"`
	Filled           int `json:"filled"`
	FallbackUsed     int `json:"fallback_used"`
	Rejected         int `json:"rejected"`
	Failed           int `json:"failed"`
	Errors           int `json:"errors"`
	WouldSubmit      int `json:"would_submit"`
}

// Summary is the structured result of one Run, also stored on the job run row.
type Summary struct {
	TradingDate    string                    `json:"trading_date"`
	Outcome        Outcome                   `json:"outcome"`
	State          State                     `json:"state"`
	SkipReason     string                    `json:"skip_reason,omitempty"`
	DryRun         bool                      `json:"dry_run"`
	Attempt        int                       `json:"attempt,omitempty"`
	PreviousDate   string                    `json:"previous_date,omitempty"`
	PreviousWindow *WindowBounds             `json:"previous_window,omitempty"`
	CurrentWindow  *WindowBounds             `json:"current_window,omitempty"`
	Counts         Counts                    `json:"counts"`
	Blocked        map[guardrail.Reason]int  `json:"blocked,omitempty"`
	Slots          SlotUsage                 `json:"slots"`
	ReconciledOpen map[model.TradeStatus]int `json:"reconciled_open,omitempty"`
	Errors         []string                  `json:"errors,omitempty"`
	StartedAt      time.Time                 `json:"started_at"`
	FinishedAt     time.Time                 `json:"finished_at"`
}

// SlotUsage is the guardrail slots held on the trading date when candidate
// processing ended, including trades from earlier runs.
type SlotUsage struct {
	Total     int            `json:"total"`
	PerSymbol map[string]int `json:"per_symbol,omitempty"`
}

type WindowBounds struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// HasFailures reports whether anything in the run went wrong, even if the
// run itself completed.
func (s Summary) HasFailures() bool {
	return s.Outcome == OutcomeFailed || s.Counts.Failed > 0 || s.Counts.Errors > 0 || s.Counts.Unconfirmed > 0
}

func (s Summary) JSON() []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// Attrs flattens the summary for a single structured log record.
func (s Summary) Attrs() []any {
	c := s.Counts
	attrs := []any{
		"trading_date", s.TradingDate,
		"outcome", s.Outcome,
		"state", s.State,
		"dry_run", s.DryRun,
		"fetched", c.Fetched,
		"invalid", c.Invalid,
		"missing_fields", c.MissingFields,
		"outside_window", c.OutsideWindow,
		"non_buy", c.NonBuy,
		"unwatched", c.Unwatched,
		"duplicates", c.Duplicates,
		"candidates", c.Candidates,
		"already_processed", c.AlreadyProcessed,
		"guardrail_blocked", c.GuardrailBlocked,
		"attempted", c.Attempted,
		"submitted", c.Submitted,
		"unconfirmed", c.Unconfirmed,
		"filled", c.Filled,
		"fallback_used", c.FallbackUsed,
		"rejected", c.Rejected,
		"failed", c.Failed,
		"errors", c.Errors,
	}
	if s.SkipReason != "" {
		attrs = append(attrs, "skip_reason", s.SkipReason)
	}
	if s.DryRun {
		attrs = append(attrs, "would_submit", c.WouldSubmit)
	}
	if s.Attempt > 0 {
		attrs = append(attrs, "attempt", s.Attempt)
	}
	return attrs
}

// tally collects counters from concurrently processed symbol groups.
type tally struct {
	mu     sync.Mutex
	counts Counts
	errs   []string
}

func (t *tally) add(fn func(c *Counts)) {
	t.mu.Lock()
	fn(&t.counts)
	t.mu.Unlock()
}

func (t *tally) fail(msg string) {
	t.mu.Lock()
	t.counts.Errors++
	t.errs = append(t.errs, msg)
	t.mu.Unlock()
}

func (t *tally) into(s *Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.Counts = t.counts
	s.Errors = append(s.Errors, t.errs...)
	sort.Strings(s.Errors)
}

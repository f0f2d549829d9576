// Package orchestrator runs the once-per-trading-day filing-to-trade job:
// calendar check, job claim, window planning, feed collection, guarded
// submission, reconciliation and checkpoint advance.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mimic/internal/broker"
	"mimic/internal/calendar"
	"mimic/internal/execution"
	"mimic/internal/feed"
	"mimic/internal/guardrail"
	"mimic/internal/logger"
	"mimic/internal/store"
	"mimic/internal/store/model"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// MarketCalendar is the venue's clock and session calendar.
type MarketCalendar interface {
	GetClock(ctx context.Context) (*broker.Clock, error)
	GetCalendar(ctx context.Context, from, to calendar.Date) ([]broker.CalendarDay, error)
}

type Submitter interface {
	Submit(ctx context.Context, c execution.Candidate, notional decimal.Decimal) (execution.TradeResult, error)
	Preview(ctx context.Context, c execution.Candidate, notional decimal.Decimal) (execution.TradeResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, tradeID int64) (model.TradeStatus, error)
	ReconcileOpen(ctx context.Context) (map[model.TradeStatus]int, error)
}

type Config struct {
	Guardrails   guardrail.Config
	Location     *time.Location
	LookbackDays int
	StaleAfter   time.Duration
	Concurrency  int
	PaperVenue   bool
}

type Deps struct {
	Market MarketCalendar
	Feed   feed.Source
	Engine Submitter
	Poller Reconciler
	Store  store.Store
	Watch  PartyFilter
	Clock  calendar.Clock
}

type Orchestrator struct {
	cfg    Config
	market MarketCalendar
	feed   feed.Source
	engine Submitter
	poller Reconciler
	store  store.Store
	watch  PartyFilter
	clock  calendar.Clock
	log    *slog.Logger
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Market == nil:
		return nil, fmt.Errorf("orchestrator: market calendar is required")
	case deps.Feed == nil:
		return nil, fmt.Errorf("orchestrator: feed source is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("orchestrator: submission engine is required")
	case deps.Poller == nil:
		return nil, fmt.Errorf("orchestrator: reconciler is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	clock := deps.Clock
	if clock == nil {
		clock = calendar.SystemClock()
	}
	return &Orchestrator{
		cfg:    cfg,
		market: deps.Market,
		feed:   deps.Feed,
		engine: deps.Engine,
		poller: deps.Poller,
		store:  deps.Store,
		watch:  deps.Watch,
		clock:  clock,
		log:    logger.With("orchestrator"),
	}, nil
}

type Options struct {
	// DryRun evaluates everything but writes nothing and places no orders.
	DryRun bool
	// Date overrides the trading date; zero means today in the exchange timezone.
	Date calendar.Date
}

// Run executes the job for one trading date. The returned error is set only
// when the run itself failed; per-candidate failures are in the summary.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Summary, error) {
	loc := o.cfg.Location
	now := o.clock.Now()
	localToday := calendar.DateOf(now, loc)
	today := opts.Date
	if today.IsZero() {
		today = localToday
	}
	sum := Summary{
		TradingDate: today.String(),
		Outcome:     OutcomeSuccess,
		State:       StateNotStarted,
		DryRun:      opts.DryRun,
		StartedAt:   now,
	}
	if today.After(localToday) {
		return o.fail(ctx, &sum, nil, fmt.Errorf("trading date %s is in the future", today))
	}

	sessions, err := o.sessions(ctx, today)
	if err != nil {
		return o.fail(ctx, &sum, nil, err)
	}
	session, ok := sessions.Find(today)
	if !ok {
		return o.skip(&sum, SkipNoSession)
	}
	if today == localToday {
		clock, err := o.market.GetClock(ctx)
		if err != nil {
			return o.fail(ctx, &sum, nil, fmt.Errorf("market clock: %w", err))
		}
		if !clock.IsOpen {
			return o.skip(&sum, SkipMarketClosed)
		}
	}
	previous := today.AddDays(-1)
	if prev, ok := sessions.Previous(today); ok {
		previous = prev.Date
	} else {
		o.log.Warn("no previous session in lookback, using calendar yesterday", "trading_date", today, "lookback_days", o.cfg.LookbackDays)
	}
	sum.State = StateCalendarChecked

	run, skipped, err := o.claim(ctx, today, now, opts.DryRun)
	if err != nil {
		return o.fail(ctx, &sum, nil, err)
	}
	if skipped {
		return o.skip(&sum, SkipAlreadyRan)
	}
	if run != nil {
		sum.Attempt = run.Attempt
	}

	t := &tally{}
	if !opts.DryRun {
		open, err := o.poller.ReconcileOpen(ctx)
		sum.ReconciledOpen = open
		if err != nil {
			t.fail(fmt.Sprintf("reconcile open trades: %v", err))
		}
		o.heartbeat(ctx, run)
	}

	cps, err := o.checkpoints(ctx, previous, today)
	if err != nil {
		return o.fail(ctx, &sum, run, err)
	}
	plan := planWindows(session, previous, cps, loc)
	sum.PreviousDate = previous.String()
	sum.PreviousWindow = &WindowBounds{Start: plan.Previous.Start, End: plan.Previous.End}
	sum.CurrentWindow = &WindowBounds{Start: plan.Current.Start, End: plan.Current.End}
	sum.State = StateWindowsComputed
	o.log.Info("windows planned",
		"trading_date", today,
		"previous", plan.Previous.String(),
		"current", plan.Current.String(),
		"dry_run", opts.DryRun,
	)

	batches, err := o.feed.FetchDates(ctx, plan.Dates(loc))
	if err != nil {
		return o.fail(ctx, &sum, run, fmt.Errorf("feed collection: %w", err))
	}
	cands, counts := collect(batches, plan, loc, o.watch, o.log)
	t.counts = counts
	sum.State = StateCandidatesCollected

	total, perSymbol, err := o.store.Trades().CountOccupying(ctx, today.String())
	if err != nil {
		t.into(&sum)
		return o.fail(ctx, &sum, run, fmt.Errorf("count trades: %w", err))
	}
	rc := guardrail.NewRunContext(o.cfg.Guardrails, today, o.cfg.PaperVenue, total, perSymbol)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, grp := range groupBySymbol(cands) {
		grp := grp
		g.Go(func() error {
			return o.processGroup(gctx, grp, plan, run, rc, t, opts.DryRun)
		})
	}
	err = g.Wait()
	sum.Blocked = rc.Blocked()
	sum.Slots.Total, sum.Slots.PerSymbol = rc.Counts()
	t.into(&sum)
	if err != nil {
		return o.fail(ctx, &sum, run, fmt.Errorf("candidate processing: %w", err))
	}
	sum.State = StateTradesSubmitted

	if opts.DryRun {
		return o.complete(&sum)
	}
	if err := o.advance(ctx, &sum, run, plan); err != nil {
		return o.fail(ctx, &sum, run, err)
	}
	return o.complete(&sum)
}

func (o *Orchestrator) sessions(ctx context.Context, today calendar.Date) (calendar.Sessions, error) {
	days, err := o.market.GetCalendar(ctx, today.AddDays(-o.cfg.LookbackDays), today)
	if err != nil {
		return nil, fmt.Errorf("market calendar: %w", err)
	}
	return broker.Sessions(days, o.cfg.Location)
}

// claim takes the day's job run. A dry run only looks: it reports skipped
// exactly when a real run would.
func (o *Orchestrator) claim(ctx context.Context, today calendar.Date, now time.Time, dryRun bool) (*model.JobRunModel, bool, error) {
	runs := o.store.JobRuns()
	if dryRun {
		existing, err := runs.Get(ctx, model.JobTypeDailyTrade, today.String())
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, false, nil
		case err != nil:
			return nil, false, fmt.Errorf("job run lookup: %w", err)
		}
		stale := o.cfg.StaleAfter > 0 && existing.Status == model.JobStatusStarted &&
			now.Sub(existing.LastSeen()) > o.cfg.StaleAfter
		return nil, existing.Status != model.JobStatusFailed && !stale, nil
	}

	res, err := runs.Claim(ctx, model.JobTypeDailyTrade, today.String(), now, o.cfg.StaleAfter)
	if err != nil {
		return nil, false, fmt.Errorf("job run claim: %w", err)
	}
	if !res.Claimed {
		o.log.Info("job already ran for trading date", "trading_date", today, "status", res.Run.Status, "attempt", res.Run.Attempt)
		return nil, true, nil
	}
	if res.Reclaimed {
		o.log.Warn("retrying job run", "trading_date", today, "attempt", res.Run.Attempt)
	}
	run := res.Run
	return &run, false, nil
}

func (o *Orchestrator) checkpoints(ctx context.Context, previous, today calendar.Date) (Checkpoints, error) {
	var (
		cps Checkpoints
		err error
	)
	cps.Previous, cps.HasPrevious, err = o.store.Checkpoints().Get(ctx, previous.String())
	if err != nil {
		return cps, fmt.Errorf("checkpoint %s: %w", previous, err)
	}
	cps.Current, cps.HasCurrent, err = o.store.Checkpoints().Get(ctx, today.String())
	if err != nil {
		return cps, fmt.Errorf("checkpoint %s: %w", today, err)
	}
	return cps, nil
}

func (o *Orchestrator) processGroup(ctx context.Context, grp symbolGroup, plan Plan, run *model.JobRunModel, rc *guardrail.RunContext, t *tally, dryRun bool) error {
	for _, c := range grp.candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.heartbeat(ctx, run)
		o.processCandidate(ctx, c, plan, rc, t, dryRun)
	}
	return ctx.Err()
}

func (o *Orchestrator) processCandidate(ctx context.Context, c candidate, plan Plan, rc *guardrail.RunContext, t *tally, dryRun bool) {
	rec := c.record
	log := o.log.With("symbol", rec.Ticker, "source_hash", shortHash(c.hash))

	if !dryRun {
		outcome, _, err := o.store.FeedRecords().Create(ctx, feedRow(rec, c.hash, plan.TradingDate, o.clock.Now()))
		if err != nil {
			t.fail(fmt.Sprintf("%s %s: feed record: %v", rec.Ticker, shortHash(c.hash), err))
			return
		}
		log.Debug("feed record stored", "outcome", outcome)
	}

	_, err := o.store.Trades().GetBySourceHash(ctx, c.hash)
	switch {
	case err == nil:
		t.add(func(c *Counts) { c.AlreadyProcessed++ })
		return
	case !errors.Is(err, store.ErrNotFound):
		t.fail(fmt.Sprintf("%s %s: trade lookup: %v", rec.Ticker, shortHash(c.hash), err))
		return
	}

	verdict, slot := rc.Reserve(rec.Ticker, rec.TradeDate)
	if !verdict.Allow {
		t.add(func(c *Counts) { c.GuardrailBlocked++ })
		log.Info("guardrail blocked candidate", "reason", verdict.Reason, "party", rec.Party)
		return
	}
	t.add(func(c *Counts) { c.Attempted++ })

	cand := execution.Candidate{SourceHash: c.hash, Symbol: rec.Ticker, TradingDate: plan.TradingDate}
	submit := o.engine.Submit
	if dryRun {
		submit = o.engine.Preview
	}
	res, err := submit(ctx, cand, verdict.Notional)
	if !res.Occupying() {
		slot.Release()
	}
	if err != nil {
		t.fail(fmt.Sprintf("%s %s: submit: %v", rec.Ticker, shortHash(c.hash), err))
		return
	}

	switch res.Outcome {
	case execution.OutcomeDryRun:
		t.add(func(c *Counts) { c.WouldSubmit++ })
	case execution.OutcomeAlreadyTraded:
		t.add(func(c *Counts) { c.AlreadyProcessed++ })
	case execution.OutcomeRejected, execution.OutcomeFailed:
		t.add(func(c *Counts) {
			c.Failed++
			if res.Outcome == execution.OutcomeRejected {
				c.Rejected++
			}
			if res.FallbackUsed {
				c.FallbackUsed++
			}
		})
	case execution.OutcomeSubmitted, execution.OutcomeUnconfirmed:
		t.add(func(c *Counts) {
			if res.Outcome == execution.OutcomeUnconfirmed {
				c.Unconfirmed++
			} else {
				c.Submitted++
			}
			if res.FallbackUsed {
				c.FallbackUsed++
			}
			if res.Adopted {
				c.Adopted++
			}
		})
		st, err := o.poller.Reconcile(ctx, res.Trade.ID)
		if err != nil {
			if ctx.Err() == nil {
				t.fail(fmt.Sprintf("%s %s: reconcile: %v", rec.Ticker, shortHash(c.hash), err))
			}
			return
		}
		switch {
		case st == model.TradeStatusFilled:
			t.add(func(c *Counts) { c.Filled++ })
		case st == model.TradeStatusFailed && res.Outcome == execution.OutcomeUnconfirmed:
			// the order never reached the venue
			slot.Release()
			t.add(func(c *Counts) { c.Failed++ })
		}
	}
}

// heartbeat refreshes the claim on the job run so a long run is not taken
// over as stale. A failed heartbeat is only logged.
func (o *Orchestrator) heartbeat(ctx context.Context, run *model.JobRunModel) {
	if run == nil {
		return
	}
	err := o.store.JobRuns().Heartbeat(ctx, run.ID, o.clock.Now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		o.log.Warn("job run is no longer started, another owner may have taken it", "job_run_id", run.ID)
	case err != nil && ctx.Err() == nil:
		o.log.Warn("job run heartbeat failed", "job_run_id", run.ID, "error", err)
	}
}

// advance moves both checkpoints and closes the job run in one transaction.
func (o *Orchestrator) advance(ctx context.Context, sum *Summary, run *model.JobRunModel, plan Plan) error {
	now := o.clock.Now()
	uow, err := o.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = uow.Rollback() }()

	if err := uow.Checkpoints().Advance(ctx, plan.PreviousDate.String(), plan.Previous.End, now); err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", plan.PreviousDate, err)
	}
	if err := uow.Checkpoints().Advance(ctx, plan.TradingDate.String(), plan.Current.End, now); err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", plan.TradingDate, err)
	}
	sum.State = StateCheckpointsAdvanced
	done := *sum
	done.State = StateCompleted
	done.FinishedAt = now
	errMsg := ""
	if done.HasFailures() {
		errMsg = fmt.Sprintf("%d candidate failures, %d errors", done.Counts.Failed, done.Counts.Errors)
	}
	if err := uow.JobRuns().Finish(ctx, run.ID, model.JobStatusSuccess, done.JSON(), errMsg, now); err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (o *Orchestrator) skip(sum *Summary, reason string) (Summary, error) {
	sum.Outcome = OutcomeSkipped
	sum.SkipReason = reason
	sum.State = StateCompleted
	sum.FinishedAt = o.clock.Now()
	logger.Summary("daily run skipped", sum.Attrs()...)
	return *sum, nil
}

func (o *Orchestrator) complete(sum *Summary) (Summary, error) {
	sum.State = StateCompleted
	sum.FinishedAt = o.clock.Now()
	logger.Summary("daily run finished", sum.Attrs()...)
	return *sum, nil
}

// fail records the run as failed. Checkpoints are left where they were so the
// retry replays the same windows.
func (o *Orchestrator) fail(ctx context.Context, sum *Summary, run *model.JobRunModel, cause error) (Summary, error) {
	sum.Outcome = OutcomeFailed
	sum.State = StateFailed
	sum.FinishedAt = o.clock.Now()
	sum.Errors = append(sum.Errors, cause.Error())
	if run != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.store.JobRuns().Finish(fctx, run.ID, model.JobStatusFailed, sum.JSON(), cause.Error(), sum.FinishedAt); err != nil {
			o.log.Error("could not mark job run failed", "job_run_id", run.ID, "error", err)
			cause = errors.Join(cause, err)
		}
	}
	o.log.Error("daily run failed", "trading_date", sum.TradingDate, "error", cause)
	logger.Summary("daily run finished", sum.Attrs()...)
	return *sum, cause
}

func feedRow(rec feed.Record, hash string, tradingDate calendar.Date, now time.Time) *model.FeedRecordModel {
	row := &model.FeedRecordModel{
		SourceHash:    hash,
		Ticker:        rec.Ticker,
		PartyName:     rec.Party,
		Affiliation:   rec.Affiliation,
		Transaction:   string(rec.Kind),
		Amount:        rec.Amount,
		FilingDate:    rec.FilingDate.String(),
		FiledAtUnix:   rec.FiledAt.UnixMilli(),
		SeenOn:        tradingDate.String(),
		RawJSON:       datatypes.JSON(rec.Raw),
		CreatedAtUnix: now.UnixMilli(),
	}
	if !rec.TradeDate.IsZero() {
		row.TradeDate = rec.TradeDate.String()
	}
	return row
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

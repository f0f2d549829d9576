package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mimic/internal/logger"
)

// DailyScheduler fires a task once per calendar day at RunAt wall-clock time
// in Location. Runs never overlap; a run that overshoots the next slot
// delays it instead of stacking.
type DailyScheduler struct {
	Name           string
	Hour, Minute   int
	Location       *time.Location
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewDailyScheduler(ctx context.Context, runAt string, loc *time.Location) (*DailyScheduler, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		return nil, fmt.Errorf("daily scheduler requires a location")
	}
	h, m, err := ParseClock(runAt)
	if err != nil {
		return nil, err
	}
	return &DailyScheduler{
		Hour:     h,
		Minute:   m,
		Location: loc,
		ctx:      ctx,
		nowFn:    time.Now,
		after:    time.After,
	}, nil
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (int, int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// NextRun returns the first h:m wall-clock instant in loc strictly after now.
func NextRun(now time.Time, h, m int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
	for !next.After(now) {
		local = local.AddDate(0, 0, 1)
		next = time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
	}
	return next
}

// Start blocks until ctx is done, calling task at each slot.
func (s *DailyScheduler) Start(task func(context.Context)) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("DailyScheduler: task is nil, exit")
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.after == nil {
		s.after = time.After
	}
	prefix := "DailyScheduler"
	if s.Name != "" {
		prefix = prefix + "[" + s.Name + "]"
	}
	startAt := s.nowFn()
	logger.Infof("%s: started run_at=%02d:%02d tz=%s run_immediately=%v at=%s",
		prefix, s.Hour, s.Minute, s.Location, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(s.ctx)
	}
	for {
		now := s.nowFn()
		next := NextRun(now, s.Hour, s.Minute, s.Location)
		wait := next.Sub(now)
		logger.Infof("%s: next run at %s (in %s) | uptime=%s",
			prefix, next.Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		select {
		case <-s.ctx.Done():
			logger.Infof("%s: ctx done, exit", prefix)
			return
		case <-s.after(wait):
		}
		if s.ctx.Err() != nil {
			return
		}
		task(s.ctx)
	}
}

package orchestrator

import (
	"time"

	"mimic/internal/calendar"
)

// Plan fixes the two fetch windows of a run.
//
// Previous covers everything from the previous session's checkpoint up to
// local midnight of the trading date, so non-trading days in between are
// swept with it. Current runs from today's checkpoint to the session open.
// Both are half-open.
type Plan struct {
	TradingDate  calendar.Date
	PreviousDate calendar.Date
	Open         time.Time
	Previous     calendar.Window
	Current      calendar.Window
}

// Checkpoints holds the stored high-water marks a plan starts from.
type Checkpoints struct {
	Previous    time.Time
	HasPrevious bool
	Current     time.Time
	HasCurrent  bool
}

func planWindows(today calendar.Session, previous calendar.Date, cps Checkpoints, loc *time.Location) Plan {
	midnight := calendar.StartOfDay(today.Date, loc)

	prevStart := calendar.StartOfDay(previous, loc)
	if cps.HasPrevious {
		prevStart = cps.Previous
	}
	curStart := midnight
	if cps.HasCurrent {
		curStart = cps.Current
	}
	return Plan{
		TradingDate:  today.Date,
		PreviousDate: previous,
		Open:         today.Open,
		Previous:     calendar.Window{Start: prevStart, End: midnight},
		Current:      calendar.Window{Start: curStart, End: today.Open},
	}
}

// Owner reports which window holds t.
func (p Plan) Owner(t time.Time) (calendar.Window, bool) {
	switch {
	case p.Previous.Contains(t):
		return p.Previous, true
	case p.Current.Contains(t):
		return p.Current, true
	default:
		return calendar.Window{}, false
	}
}

// Dates are the feed dates to fetch: every date either window touches.
func (p Plan) Dates(loc *time.Location) []calendar.Date {
	return calendar.UniqueDates(loc, p.Previous, p.Current)
}

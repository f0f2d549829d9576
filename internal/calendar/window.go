package calendar

import (
	"fmt"
	"time"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in the window: inclusive start, exclusive end.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Empty reports whether the window contains no instant.
func (w Window) Empty() bool {
	return !w.Start.Before(w.End)
}

// Dates lists every calendar date (in loc) the window touches, in order.
func (w Window) Dates(loc *time.Location) []Date {
	if w.Empty() {
		return nil
	}
	first := DateOf(w.Start, loc)
	last := DateOf(w.End.Add(-time.Nanosecond), loc)
	var out []Date
	for d := first; !d.After(last); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// UniqueDates merges the dates of several windows, keeping first-seen order.
func UniqueDates(loc *time.Location, windows ...Window) []Date {
	seen := make(map[Date]struct{})
	var out []Date
	for _, w := range windows {
		for _, d := range w.Dates(loc) {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

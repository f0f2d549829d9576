package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Session is one trading day with its open and close instants.
type Session struct {
	Date  Date
	Open  time.Time
	Close time.Time
}

// NewSession resolves "HH:MM" open/close wall times on date in loc.
func NewSession(date Date, open, close string, loc *time.Location) (Session, error) {
	oh, om, err := parseClock(open)
	if err != nil {
		return Session{}, fmt.Errorf("session %s open: %w", date, err)
	}
	ch, cm, err := parseClock(close)
	if err != nil {
		return Session{}, fmt.Errorf("session %s close: %w", date, err)
	}
	s := Session{Date: date, Open: date.At(oh, om, loc), Close: date.At(ch, cm, loc)}
	if !s.Open.Before(s.Close) {
		return Session{}, fmt.Errorf("session %s: open %s not before close %s", date, open, close)
	}
	return s, nil
}

func parseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", v)
	}
	return t.Hour(), t.Minute(), nil
}

// Sessions is a set of trading sessions sorted by date.
type Sessions []Session

// Sorted returns a copy ordered by date.
func (s Sessions) Sorted() Sessions {
	out := append(Sessions(nil), s...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Find returns the session on date.
func (s Sessions) Find(date Date) (Session, bool) {
	for _, sess := range s {
		if sess.Date == date {
			return sess, true
		}
	}
	return Session{}, false
}

// Previous returns the latest session strictly before date.
func (s Sessions) Previous(date Date) (Session, bool) {
	var (
		best  Session
		found bool
	)
	for _, sess := range s {
		if !sess.Date.Before(date) {
			continue
		}
		if !found || sess.Date.After(best.Date) {
			best = sess
			found = true
		}
	}
	return best, found
}

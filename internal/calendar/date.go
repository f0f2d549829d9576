// Package calendar converts between the exchange-local trading calendar and
// absolute instants.
package calendar

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the ISO-8601 layout used for trading dates.
const DateFormat = "2006-01-02"

// Date is a calendar day with no time-of-day or location.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date (day overflow rolls into the next month).
func NewDate(year int, month time.Month, day int) Date {
	y, m, d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Date()
	return Date{y, m, d}
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return NewDate(t.In(loc).Date())
}

// ParseDate parses YYYY-MM-DD (single digit month/day accepted).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-1-2", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return NewDate(t.Date()), nil
}

// MustParseDate is like ParseDate but panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Date) utc() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Year() int { return d.y }

func (d Date) Month() time.Month { return d.m }

func (d Date) Day() int { return d.d }

func (d Date) Weekday() time.Weekday { return d.utc().Weekday() }

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date { return NewDate(d.y, d.m, d.d+n) }

func (d Date) Before(x Date) bool { return d.utc().Before(x.utc()) }

func (d Date) After(x Date) bool { return d.utc().After(x.utc()) }

func (d Date) String() string { return d.utc().Format(DateFormat) }

// At returns the instant of the given wall clock time on d in loc. Wall
// times skipped or repeated by a DST transition resolve the way time.Date does.
func (d Date) At(hour, min int, loc *time.Location) time.Time {
	return time.Date(d.y, d.m, d.d, hour, min, 0, 0, loc)
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

var (
	_ json.Marshaler   = Date{}
	_ json.Unmarshaler = (*Date)(nil)
)

// StartOfDay is local midnight of d.
func StartOfDay(d Date, loc *time.Location) time.Time {
	return d.At(0, 0, loc)
}

// EndOfDay is the exclusive end of d: local midnight of the following day.
// On DST transition days the local day is 23 or 25 hours long.
func EndOfDay(d Date, loc *time.Location) time.Time {
	return StartOfDay(d.AddDays(1), loc)
}

// LastInstant is the final representable instant inside d.
func LastInstant(d Date, loc *time.Location) time.Time {
	return EndOfDay(d, loc).Add(-time.Nanosecond)
}

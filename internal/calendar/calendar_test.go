package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestDate_ParseAndArithmetic(t *testing.T) {
	d, err := ParseDate("2024-2-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-28", d.String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, "2024-02-27", d.AddDays(-1).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))

	_, err = ParseDate("28/02/2024")
	assert.Error(t, err)
}

func TestDate_JSON(t *testing.T) {
	d := MustParseDate("2024-07-01")
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-07-01"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)
}

func TestDateOf_UsesLocation(t *testing.T) {
	loc := newYork(t)
	// 03:00 UTC on the 5th is still the 4th in New York.
	instant := time.Date(2024, 1, 5, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-04", DateOf(instant, loc).String())
	assert.Equal(t, "2024-01-05", DateOf(instant, time.UTC).String())
}

func TestDayBounds_AcrossDST(t *testing.T) {
	loc := newYork(t)

	spring := MustParseDate("2024-03-10")
	assert.Equal(t, 23*time.Hour, EndOfDay(spring, loc).Sub(StartOfDay(spring, loc)))

	fall := MustParseDate("2024-11-03")
	assert.Equal(t, 25*time.Hour, EndOfDay(fall, loc).Sub(StartOfDay(fall, loc)))

	normal := MustParseDate("2024-06-12")
	assert.Equal(t, 24*time.Hour, EndOfDay(normal, loc).Sub(StartOfDay(normal, loc)))
	assert.Equal(t, EndOfDay(normal, loc).Add(-time.Nanosecond), LastInstant(normal, loc))
}

func TestNewSession_ResolvesDST(t *testing.T) {
	loc := newYork(t)

	before, err := NewSession(MustParseDate("2024-03-08"), "09:30", "16:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC), before.Open.UTC())

	after, err := NewSession(MustParseDate("2024-03-11"), "09:30", "16:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 13, 30, 0, 0, time.UTC), after.Open.UTC())

	_, err = NewSession(MustParseDate("2024-03-11"), "16:00", "09:30", loc)
	assert.Error(t, err)
	_, err = NewSession(MustParseDate("2024-03-11"), "9h30", "16:00", loc)
	assert.Error(t, err)
}

func TestSessions_FindAndPrevious(t *testing.T) {
	loc := newYork(t)
	mk := func(s string) Session {
		sess, err := NewSession(MustParseDate(s), "09:30", "16:00", loc)
		require.NoError(t, err)
		return sess
	}
	sessions := Sessions{mk("2024-07-08"), mk("2024-07-03"), mk("2024-07-05")}

	_, ok := sessions.Find(MustParseDate("2024-07-04"))
	assert.False(t, ok, "holiday has no session")

	got, ok := sessions.Find(MustParseDate("2024-07-05"))
	require.True(t, ok)
	assert.Equal(t, "2024-07-05", got.Date.String())

	prev, ok := sessions.Previous(MustParseDate("2024-07-08"))
	require.True(t, ok)
	assert.Equal(t, "2024-07-05", prev.Date.String(), "weekend skipped")

	prev, ok = sessions.Previous(MustParseDate("2024-07-05"))
	require.True(t, ok)
	assert.Equal(t, "2024-07-03", prev.Date.String(), "holiday skipped")

	_, ok = sessions.Previous(MustParseDate("2024-07-03"))
	assert.False(t, ok)

	sorted := sessions.Sorted()
	assert.Equal(t, "2024-07-03", sorted[0].Date.String())
	assert.Equal(t, "2024-07-08", sorted[2].Date.String())
}

func TestWindow_HalfOpen(t *testing.T) {
	start := time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	w := Window{Start: start, End: end}

	assert.True(t, w.Contains(start), "start is inclusive")
	assert.True(t, w.Contains(end.Add(-time.Nanosecond)))
	assert.False(t, w.Contains(end), "end is exclusive")
	assert.False(t, w.Contains(start.Add(-time.Nanosecond)))
	assert.False(t, w.Empty())
	assert.True(t, Window{Start: end, End: end}.Empty())
}

func TestWindow_Dates(t *testing.T) {
	loc := newYork(t)
	friday := MustParseDate("2024-07-05")
	monday := MustParseDate("2024-07-08")

	w := Window{Start: StartOfDay(friday, loc), End: StartOfDay(monday, loc)}
	var got []string
	for _, d := range w.Dates(loc) {
		got = append(got, d.String())
	}
	assert.Equal(t, []string{"2024-07-05", "2024-07-06", "2024-07-07"}, got)

	open := monday.At(9, 30, loc)
	today := Window{Start: StartOfDay(monday, loc), End: open}
	assert.Len(t, today.Dates(loc), 1)

	merged := UniqueDates(loc, w, today, today)
	assert.Len(t, merged, 4)
	assert.Nil(t, Window{Start: open, End: open}.Dates(loc))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)
	assert.Equal(t, start, c.Now())
	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
}

/*
calendar.go - Week numbers, civil dates and slot instants

PURPOSE:
  Turns "week 4 of the term, on the lesson's weekday, at 09:15" into a
  calendar date and an instant. Week numbers are 1-indexed from the term
  start date; week 1 is the seven-day window that begins on the start date.

DST POLICY:
  Dates are civil (time-zone free, kept at midnight UTC), so stepping by
  weeks is never disturbed by a clock change. A slot's instant is composed
  from its civil date and wall-clock time in the school's location:
  09:00 stays 09:00 on both sides of a transition. Deadlines are then an
  absolute duration before that instant, so "24 hours before" a slot right
  after a transition lands one wall-clock hour away from the slot's time.

SEE ALSO:
  - types.go: Term.Weeks
  - hybrid/slots.go: uses WeekDate and SlotInstant
*/
package core

import (
	"time"
)

const civilDateLayout = "2006-01-02"

// CivilDate strips t down to its calendar date at midnight UTC.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(civilDateLayout, s)
	if err != nil {
		return time.Time{}, Invalid("date", "malformed date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate formats a civil date as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(civilDateLayout) }

// DaysBetween returns the number of calendar days from one civil date to another.
func DaysBetween(from, to time.Time) int {
	return int(CivilDate(to).Sub(CivilDate(from)).Hours() / 24)
}

// WeekDate returns the date of dayOfWeek within week number week of a term
// starting on termStart. It does not check the week against the term end;
// callers validate that against Term.Weeks.
func WeekDate(termStart time.Time, week, dayOfWeek int) (time.Time, error) {
	if week < 1 {
		return time.Time{}, Invalid("week_number", "week numbers start at 1, got %d", week)
	}
	if !ValidDay(dayOfWeek) {
		return time.Time{}, Invalid("day_of_week", "day of week must be 0-6, got %d", dayOfWeek)
	}
	windowStart := CivilDate(termStart).AddDate(0, 0, (week-1)*7)
	offset := (dayOfWeek - int(windowStart.Weekday()) + 7) % 7
	return windowStart.AddDate(0, 0, offset), nil
}

// TermWeekDate is WeekDate bounded by the term: the week must lie inside the
// term and the resulting date must not fall after the term's end.
func TermWeekDate(term Term, week, dayOfWeek int) (time.Time, error) {
	if week > term.Weeks() {
		return time.Time{}, Invalid("week_number", "week %d is beyond the %d-week term", week, term.Weeks())
	}
	d, err := WeekDate(term.StartDate, week, dayOfWeek)
	if err != nil {
		return time.Time{}, err
	}
	if d.After(CivilDate(term.EndDate)) {
		return time.Time{}, Invalid("week_number", "%s of week %d falls after the term ends on %s",
			DayName(dayOfWeek), week, FormatDate(term.EndDate))
	}
	return d, nil
}

// SlotInstant composes a civil date and a wall-clock time in loc.
func SlotInstant(date time.Time, t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

package core

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// TIME OF DAY - Minutes since midnight, formatted HH:MM
// =============================================================================

// TimeOfDay is a wall-clock time within a day, in minutes since midnight.
// 24:00 (MinutesPerDay) is allowed as an end time only.
type TimeOfDay int

const MinutesPerDay = 24 * 60

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, Invalid("time", "malformed time %q, want HH:MM", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, Invalid("time", "malformed time %q, want HH:MM", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// MustTimeOfDay is ParseTimeOfDay for constants and tests.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Add returns t shifted by mins. The result may exceed a day; callers that
// need a valid end time use EndTime.
func (t TimeOfDay) Add(mins int) TimeOfDay { return t + TimeOfDay(mins) }

// =============================================================================
// INTERVAL ARITHMETIC
// =============================================================================

// EndTime derives the end of a block that starts at start and lasts
// durationMins. The block must end by midnight.
func EndTime(start string, durationMins int) (string, error) {
	st, err := ParseTimeOfDay(start)
	if err != nil {
		return "", err
	}
	end, err := EndOf(st, durationMins)
	if err != nil {
		return "", err
	}
	return end.String(), nil
}

// EndOf is EndTime on parsed values.
func EndOf(start TimeOfDay, durationMins int) (TimeOfDay, error) {
	if durationMins <= 0 {
		return 0, Invalid("duration_mins", "duration must be positive, got %d", durationMins)
	}
	if start >= MinutesPerDay {
		return 0, Invalid("start_time", "start %s is not within the day", start)
	}
	end := start.Add(durationMins)
	if end > MinutesPerDay {
		return 0, Invalid("duration_mins", "block starting %s for %d minutes runs past midnight", start, durationMins)
	}
	return end, nil
}

// Overlaps compares two half-open intervals [aStart,aEnd) and [bStart,bEnd).
// Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd TimeOfDay) bool {
	return !(aEnd <= bStart || bEnd <= aStart)
}

// =============================================================================
// DAYS OF WEEK
// =============================================================================

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// DayName returns the English name of day n (0 = Sunday).
func DayName(n int) string {
	if n < 0 || n > 6 {
		return "Unknown"
	}
	return dayNames[n]
}

// ValidDay reports whether n is a day-of-week index.
func ValidDay(n int) bool { return n >= 0 && n <= 6 }

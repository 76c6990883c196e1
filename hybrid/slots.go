package hybrid

import (
	"context"
	"time"

	"github.com/warp/lesson-engine/core"
)

// =============================================================================
// SLOTS
// =============================================================================

// SlotReason explains why a slot cannot be booked.
type SlotReason string

const (
	ReasonBooked         SlotReason = "booked"          // another booking holds this slot
	ReasonResourceBusy   SlotReason = "resource_busy"   // teacher or room booked elsewhere
	ReasonDeadlinePassed SlotReason = "deadline_passed" // too close to the start
)

// Slot is one bookable sub-interval of an individual week.
type Slot struct {
	WeekNumber int
	Date       time.Time // civil date
	StartTime  core.TimeOfDay
	EndTime    core.TimeOfDay
	StartsAt   time.Time
	Deadline   time.Time
	Available  bool
	Reason     SlotReason
}

// week is everything needed to reason about one individual week of a lesson.
type week struct {
	lesson  *core.Lesson
	term    *core.Term
	pattern *core.HybridPattern
	number  int
	date    time.Time
	slots   []Slot
}

// loadWeek resolves lesson, term and pattern and lays out the week's slots,
// all unmarked. The week must be an individual week inside the term.
func (e *Engine) loadWeek(ctx context.Context, st core.Store, lessonID core.LessonID, number int) (*week, error) {
	lesson, err := hybridLesson(ctx, st, lessonID)
	if err != nil {
		return nil, err
	}
	pattern, err := st.GetPattern(ctx, lesson.ID, lesson.TermID)
	if err != nil {
		return nil, err
	}
	if !pattern.IsIndividualWeek(number) {
		return nil, core.Invalid("week_number", "week %d is not an individual week", number)
	}
	term, err := st.GetTerm(ctx, lesson.TermID)
	if err != nil {
		return nil, err
	}
	date, err := core.TermWeekDate(*term, number, lesson.Schedule.DayOfWeek)
	if err != nil {
		return nil, err
	}

	w := &week{lesson: lesson, term: term, pattern: pattern, number: number, date: date}
	w.slots = LayoutSlots(lesson.Schedule, pattern.IndividualSlotDuration, number, date, pattern.BookingDeadline(), e.location())
	return w, nil
}

// LayoutSlots partitions the lesson block into consecutive slots of
// slotDuration minutes. A trailing remainder shorter than a slot is unused.
func LayoutSlots(sched core.WeeklySchedule, slotDuration, weekNumber int, date time.Time, deadline time.Duration, loc *time.Location) []Slot {
	if slotDuration <= 0 {
		return nil
	}
	n := sched.DurationMins / slotDuration
	slots := make([]Slot, 0, n)
	for i := 0; i < n; i++ {
		start := sched.StartTime.Add(i * slotDuration)
		startsAt := core.SlotInstant(date, start, loc)
		slots = append(slots, Slot{
			WeekNumber: weekNumber,
			Date:       date,
			StartTime:  start,
			EndTime:    start.Add(slotDuration),
			StartsAt:   startsAt,
			Deadline:   startsAt.Add(-deadline),
			Available:  true,
		})
	}
	return slots
}

func (w *week) slotAt(start core.TimeOfDay) (Slot, bool) {
	for _, s := range w.slots {
		if s.StartTime == start {
			return s, true
		}
	}
	return Slot{}, false
}

// lastDeadline is the last moment any slot of the week can be booked.
func (w *week) lastDeadline() time.Time {
	if len(w.slots) == 0 {
		return time.Time{}
	}
	return w.slots[len(w.slots)-1].Deadline
}

// occupancy is the set of holds that make slots unavailable.
type occupancy struct {
	own   []core.HybridBooking // this lesson, this week, possibly on an older slot grid
	other []core.HybridBooking // other lessons sharing teacher or room on the date
}

func (e *Engine) loadOccupancy(ctx context.Context, st core.Store, w *week) (occupancy, error) {
	own, err := st.ListBookings(ctx, core.BookingFilter{
		LessonID:    w.lesson.ID,
		WeekNumber:  w.number,
		HoldingOnly: true,
	})
	if err != nil {
		return occupancy{}, err
	}
	onDate, err := st.HoldingBookingsOnDate(ctx, w.date, w.lesson.TeacherID, w.lesson.RoomID)
	if err != nil {
		return occupancy{}, err
	}
	var other []core.HybridBooking
	for _, b := range onDate {
		if b.LessonID != w.lesson.ID {
			other = append(other, b)
		}
	}
	return occupancy{own: own, other: other}, nil
}

// reason returns why s is unavailable, or "" if it can be booked.
// Bookings with ID skip are ignored, so a booking never blocks itself.
func (o occupancy) reason(s Slot, now time.Time, skip core.BookingID) SlotReason {
	for _, b := range o.own {
		if b.ID != skip && core.Overlaps(s.StartTime, s.EndTime, b.StartTime, b.EndTime) {
			return ReasonBooked
		}
	}
	for _, b := range o.other {
		if b.ID != skip && core.Overlaps(s.StartTime, s.EndTime, b.StartTime, b.EndTime) {
			return ReasonResourceBusy
		}
	}
	if now.After(s.Deadline) {
		return ReasonDeadlinePassed
	}
	return ""
}

// GetAvailableSlots lists the slots of an individual week, each marked
// available or not with the reason. Reads only; the booking write re-checks.
func (e *Engine) GetAvailableSlots(ctx context.Context, lessonID core.LessonID, weekNumber int) ([]Slot, error) {
	w, err := e.loadWeek(ctx, e.Store, lessonID, weekNumber)
	if err != nil {
		return nil, err
	}
	occ, err := e.loadOccupancy(ctx, e.Store, w)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	for i := range w.slots {
		if r := occ.reason(w.slots[i], now, ""); r != "" {
			w.slots[i].Available = false
			w.slots[i].Reason = r
		}
	}
	return w.slots, nil
}

// WeekStatus summarizes an individual week for reminders.
type WeekStatus struct {
	LessonID     core.LessonID
	WeekNumber   int
	Date         time.Time
	Deadline     time.Time // last bookable moment of the week
	BookingsOpen bool
}

// GetWeekStatus returns the booking window of an individual week.
func (e *Engine) GetWeekStatus(ctx context.Context, lessonID core.LessonID, weekNumber int) (WeekStatus, error) {
	w, err := e.loadWeek(ctx, e.Store, lessonID, weekNumber)
	if err != nil {
		return WeekStatus{}, err
	}
	return WeekStatus{
		LessonID:     w.lesson.ID,
		WeekNumber:   w.number,
		Date:         w.date,
		Deadline:     w.lastDeadline(),
		BookingsOpen: w.pattern.BookingsOpen,
	}, nil
}

func (e *Engine) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

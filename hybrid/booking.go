package hybrid

import (
	"context"
	"sort"
	"time"

	"github.com/warp/lesson-engine/core"
)

// =============================================================================
// BOOKING LIFECYCLE
// =============================================================================
//
//   PENDING ──confirm──▶ CONFIRMED
//      │                    │
//      ├──────cancel────────┼──▶ CANCELLED   (releases the slot)
//      │                    │
//      └──outcome───────────┴──▶ COMPLETED | NO_SHOW   (after the slot starts)
//
// Every check below runs inside the write transaction with the clock read
// at that moment. The store's unique indexes back up the slot checks.

const RescheduledReason = "lesson rescheduled"

// CreateBookingRequest selects one slot of an individual week for a student.
type CreateBookingRequest struct {
	LessonID   core.LessonID
	StudentID  core.StudentID
	WeekNumber int
	StartTime  core.TimeOfDay
}

// CreateBooking books a slot. Bookings must be open, the student enrolled,
// the slot free and its deadline not yet passed.
func (e *Engine) CreateBooking(ctx context.Context, req CreateBookingRequest) (*core.HybridBooking, error) {
	var booking core.HybridBooking

	err := e.Store.WithTx(ctx, func(st core.Store) error {
		w, err := e.loadWeek(ctx, st, req.LessonID, req.WeekNumber)
		if err != nil {
			return err
		}
		if !w.pattern.BookingsOpen {
			return core.ErrBookingsClosed
		}
		enrolled, err := st.IsEnrolled(ctx, req.LessonID, req.StudentID)
		if err != nil {
			return err
		}
		if !enrolled {
			return core.ErrNotEnrolled
		}

		slot, err := e.claimableSlot(ctx, st, w, req.StartTime, "")
		if err != nil {
			return err
		}
		if err := e.checkNotBookedThisWeek(ctx, st, w, req.StudentID, ""); err != nil {
			return err
		}

		booking = core.HybridBooking{
			ID:            core.BookingID(core.NewID("bkg")),
			LessonID:      req.LessonID,
			StudentID:     req.StudentID,
			WeekNumber:    req.WeekNumber,
			ScheduledDate: slot.Date,
			StartTime:     slot.StartTime,
			EndTime:       slot.EndTime,
			Status:        core.BookingPending,
			BookedAt:      e.Now(),
		}
		return st.InsertBooking(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("hybrid booking created",
		"booking_id", booking.ID, "lesson_id", booking.LessonID,
		"student_id", booking.StudentID, "week", booking.WeekNumber, "start", booking.StartTime.String())
	return &booking, nil
}

// RescheduleBooking moves a live booking to another slot, possibly in
// another individual week. The deadline applies to the original slot and
// to the new one, for parents and admins alike. The moved booking goes
// back to PENDING.
func (e *Engine) RescheduleBooking(ctx context.Context, id core.BookingID, weekNumber int, start core.TimeOfDay, actor core.Actor) (*core.HybridBooking, error) {
	var booking core.HybridBooking

	err := e.Store.WithTx(ctx, func(st core.Store) error {
		b, err := st.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if !isLive(b.Status) {
			return transitionError(b.Status, "reschedule")
		}

		orig, err := patternOf(ctx, st, b.LessonID)
		if err != nil {
			return err
		}
		now := e.Now()
		if err := checkDeadline(b.StartsAt(e.location()), orig.BookingDeadline(), now); err != nil {
			return err
		}

		w, err := e.loadWeek(ctx, st, b.LessonID, weekNumber)
		if err != nil {
			return err
		}
		if !w.pattern.BookingsOpen {
			return core.ErrBookingsClosed
		}
		slot, err := e.claimableSlot(ctx, st, w, start, b.ID)
		if err != nil {
			return err
		}
		if weekNumber != b.WeekNumber {
			if err := e.checkNotBookedThisWeek(ctx, st, w, b.StudentID, b.ID); err != nil {
				return err
			}
		}

		b.WeekNumber = weekNumber
		b.ScheduledDate = slot.Date
		b.StartTime = slot.StartTime
		b.EndTime = slot.EndTime
		b.Status = core.BookingPending
		b.ConfirmedAt = nil
		booking = *b
		return st.UpdateBooking(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("hybrid booking rescheduled",
		"booking_id", booking.ID, "actor", actor, "week", booking.WeekNumber, "start", booking.StartTime.String())
	return &booking, nil
}

// CancelBooking releases a live booking's slot. Parents are held to the
// deadline of the booked slot; admins are not.
func (e *Engine) CancelBooking(ctx context.Context, id core.BookingID, actor core.Actor, reason string) (*core.HybridBooking, error) {
	var booking core.HybridBooking

	err := e.Store.WithTx(ctx, func(st core.Store) error {
		b, err := st.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if !isLive(b.Status) {
			return transitionError(b.Status, "cancel")
		}

		now := e.Now()
		if actor != core.ActorAdmin {
			pattern, err := patternOf(ctx, st, b.LessonID)
			if err != nil {
				return err
			}
			if err := checkDeadline(b.StartsAt(e.location()), pattern.BookingDeadline(), now); err != nil {
				return err
			}
		}

		cancel(b, now, reason)
		booking = *b
		return st.UpdateBooking(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("hybrid booking cancelled", "booking_id", booking.ID, "actor", actor, "reason", reason)
	return &booking, nil
}

// ConfirmBooking moves a PENDING booking to CONFIRMED.
func (e *Engine) ConfirmBooking(ctx context.Context, id core.BookingID) (*core.HybridBooking, error) {
	return e.transition(ctx, id, "confirm", func(b *core.HybridBooking, now time.Time) error {
		if b.Status != core.BookingPending {
			return transitionError(b.Status, "confirm")
		}
		b.Status = core.BookingConfirmed
		b.ConfirmedAt = &now
		return nil
	})
}

// RecordOutcome marks a live booking COMPLETED or NO_SHOW once its slot has
// started. Attendance recording drives this.
func (e *Engine) RecordOutcome(ctx context.Context, id core.BookingID, outcome core.BookingStatus) (*core.HybridBooking, error) {
	if outcome != core.BookingCompleted && outcome != core.BookingNoShow {
		return nil, core.Invalid("status", "outcome must be COMPLETED or NO_SHOW, got %q", outcome)
	}
	return e.transition(ctx, id, "record outcome", func(b *core.HybridBooking, now time.Time) error {
		if !isLive(b.Status) {
			return transitionError(b.Status, "record outcome")
		}
		if now.Before(b.StartsAt(e.location())) {
			return core.Invalid("status", "booking %s has not started yet", bookingRef(*b))
		}
		b.Status = outcome
		b.CompletedAt = &now
		return nil
	})
}

func (e *Engine) transition(ctx context.Context, id core.BookingID, op string, apply func(*core.HybridBooking, time.Time) error) (*core.HybridBooking, error) {
	var booking core.HybridBooking
	err := e.Store.WithTx(ctx, func(st core.Store) error {
		b, err := st.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(b, e.Now()); err != nil {
			return err
		}
		booking = *b
		return st.UpdateBooking(ctx, booking)
	})
	if err != nil {
		return nil, err
	}
	e.log().Info("hybrid booking "+op, "booking_id", booking.ID, "status", booking.Status)
	return &booking, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) GetBooking(ctx context.Context, id core.BookingID) (*core.HybridBooking, error) {
	return e.Store.GetBooking(ctx, id)
}

// ListWeekBookings returns the non-cancelled bookings of one week.
func (e *Engine) ListWeekBookings(ctx context.Context, lessonID core.LessonID, weekNumber int) ([]core.HybridBooking, error) {
	if _, err := e.loadWeek(ctx, e.Store, lessonID, weekNumber); err != nil {
		return nil, err
	}
	return e.Store.ListBookings(ctx, core.BookingFilter{
		LessonID:    lessonID,
		WeekNumber:  weekNumber,
		HoldingOnly: true,
	})
}

// GetUnbookedStudents returns the actively enrolled students without a
// non-cancelled booking for the week, sorted by ID.
func (e *Engine) GetUnbookedStudents(ctx context.Context, lessonID core.LessonID, weekNumber int) ([]core.StudentID, error) {
	if _, err := e.loadWeek(ctx, e.Store, lessonID, weekNumber); err != nil {
		return nil, err
	}
	enrollments, err := e.Store.ListActiveEnrollments(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	bookings, err := e.Store.ListBookings(ctx, core.BookingFilter{
		LessonID:    lessonID,
		WeekNumber:  weekNumber,
		HoldingOnly: true,
	})
	if err != nil {
		return nil, err
	}

	booked := make(map[core.StudentID]bool, len(bookings))
	for _, b := range bookings {
		booked[b.StudentID] = true
	}
	unbooked := make([]core.StudentID, 0, len(enrollments))
	for _, en := range enrollments {
		if !booked[en.StudentID] {
			unbooked = append(unbooked, en.StudentID)
		}
	}
	sort.Slice(unbooked, func(i, j int) bool { return unbooked[i] < unbooked[j] })
	return unbooked, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// claimableSlot finds the slot starting at start and checks it can be taken
// right now, ignoring the booking skip.
func (e *Engine) claimableSlot(ctx context.Context, st core.Store, w *week, start core.TimeOfDay, skip core.BookingID) (Slot, error) {
	slot, ok := w.slotAt(start)
	if !ok {
		return Slot{}, core.Invalid("start_time", "%s is not a slot start in week %d", start, w.number)
	}
	occ, err := e.loadOccupancy(ctx, st, w)
	if err != nil {
		return Slot{}, err
	}
	now := e.Now()
	switch occ.reason(slot, now, skip) {
	case ReasonBooked, ReasonResourceBusy:
		return Slot{}, core.ErrSlotUnavailable
	case ReasonDeadlinePassed:
		return Slot{}, &core.DeadlineError{Deadline: slot.Deadline, Now: now}
	}
	return slot, nil
}

func (e *Engine) checkNotBookedThisWeek(ctx context.Context, st core.Store, w *week, student core.StudentID, skip core.BookingID) error {
	held, err := st.ListBookings(ctx, core.BookingFilter{
		LessonID:    w.lesson.ID,
		StudentID:   student,
		WeekNumber:  w.number,
		HoldingOnly: true,
	})
	if err != nil {
		return err
	}
	for _, b := range held {
		if b.ID != skip {
			return core.ErrDuplicateBooking
		}
	}
	return nil
}

// checkDeadline fails once now is past start minus the deadline.
func checkDeadline(start time.Time, deadline time.Duration, now time.Time) error {
	cutoff := start.Add(-deadline)
	if now.After(cutoff) {
		return &core.DeadlineError{Deadline: cutoff, Now: now}
	}
	return nil
}

func cancel(b *core.HybridBooking, now time.Time, reason string) {
	b.Status = core.BookingCancelled
	b.CancelledAt = &now
	b.CancellationReason = reason
}

// CancelForReschedule cancels b in place as part of a lesson reschedule.
func CancelForReschedule(b *core.HybridBooking, now time.Time) {
	cancel(b, now, RescheduledReason)
}

func transitionError(from core.BookingStatus, op string) error {
	return &TransitionError{From: from, Op: op}
}

// TransitionError reports a booking status change that isn't allowed.
type TransitionError struct {
	From core.BookingStatus
	Op   string
}

func (e *TransitionError) Error() string {
	return "cannot " + e.Op + " a " + string(e.From) + " booking"
}

func (e *TransitionError) Unwrap() error { return core.ErrInvalidTransition }

func patternOf(ctx context.Context, st core.Store, id core.LessonID) (*core.HybridPattern, error) {
	lesson, err := st.GetLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.GetPattern(ctx, lesson.ID, lesson.TermID)
}

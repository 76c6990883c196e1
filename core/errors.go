/*
errors.go - Centralized error types for the scheduling engine

PURPOSE:
  All error kinds in one place so every layer classifies failures the same
  way. Business-rule failures are terminal for the request that caused them;
  nothing in this module retries.

ERROR CATEGORIES:
  1. Validation - malformed input (time format, disjoint weeks, term bounds)
  2. Conflicts  - resource overlap, capacity, slot already taken, duplicates
  3. Booking gates - deadline passed, bookings closed
  4. Lookups - missing lesson, pattern, booking

USAGE:
  Structured errors unwrap to their sentinel:

    var conflict *core.ScheduleConflictError
    if errors.As(err, &conflict) {
        log.Printf("clashes with %s", conflict.Lesson.ID)
    }
    if errors.Is(err, core.ErrScheduleConflict) { ... }

SEE ALSO:
  - api/handlers.go: maps these to HTTP statuses
*/
package core

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrScheduleConflict is returned when a room or teacher is already busy.
	ErrScheduleConflict = errors.New("schedule conflict")

	// ErrCapacityExceeded is returned when an enrollment would exceed maxStudents.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrSlotUnavailable is returned when a hybrid slot is already held.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrBookingDeadlinePassed is returned when a parent acts too close to a slot.
	ErrBookingDeadlinePassed = errors.New("booking deadline passed")

	// ErrBookingsClosed is returned when the pattern's booking gate is closed.
	ErrBookingsClosed = errors.New("bookings closed")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyEnrolled is returned when the student is already actively enrolled.
	ErrAlreadyEnrolled = errors.New("student already enrolled")

	// ErrNotEnrolled is returned when a booking is attempted by a non-member.
	ErrNotEnrolled = errors.New("student not enrolled")

	// ErrDuplicateBooking is returned for a second open booking in the same week.
	ErrDuplicateBooking = errors.New("student already booked this week")

	// ErrInvalidTransition is returned for a booking status change that isn't allowed.
	ErrInvalidTransition = errors.New("invalid booking transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError with a formatted message.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ScheduleConflictError identifies the lesson already holding the resource.
type ScheduleConflictError struct {
	Resource Resource
	Lesson   Lesson
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("schedule conflict: %s is taken by lesson %s (%s %s-%s)",
		e.Resource, e.Lesson.ID, DayName(e.Lesson.Schedule.DayOfWeek),
		e.Lesson.Schedule.StartTime, e.Lesson.Schedule.EndTime)
}

func (e *ScheduleConflictError) Unwrap() error { return ErrScheduleConflict }

// CapacityError provides details about a capacity shortfall.
type CapacityError struct {
	LessonID  LessonID
	Current   int
	Max       int
	Requested int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded for lesson %s: %d/%d enrolled, %d requested",
		e.LessonID, e.Current, e.Max, e.Requested)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// DeadlineError reports when the booking window closed.
type DeadlineError struct {
	Deadline time.Time
	Now      time.Time
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("booking deadline passed: closed at %s, now %s",
		e.Deadline.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

func (e *DeadlineError) Unwrap() error { return ErrBookingDeadlinePassed }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "lesson", "pattern", "booking", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a business rule the caller has to resolve.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		IsConflict(err) ||
		errors.Is(err, ErrBookingDeadlinePassed) ||
		errors.Is(err, ErrBookingsClosed) ||
		errors.Is(err, ErrNotEnrolled) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsConflict returns true if the error is a contention on shared state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrScheduleConflict) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrAlreadyEnrolled) ||
		errors.Is(err, ErrDuplicateBooking)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

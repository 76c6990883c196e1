/*
store.go - Persistence interfaces for lessons, enrollments and hybrid bookings

PURPOSE:
  Defines the boundary between the scheduling logic and the database.
  The services never talk SQL; they talk to these interfaces, usually
  through WithTx so a check and the write it guards see the same state.

KEY INTERFACES:
  LessonStore:      lessons and per-resource day scans
  EnrollmentStore:  capacity-guarded enrollment writes
  PatternStore:     one hybrid pattern per (lesson, term)
  BookingStore:     hybrid bookings with slot uniqueness
  TermStore:        term calendar spans
  StudentDirectory: parent contacts for reminders
  TxStore:          all of the above plus WithTx

WRITE-TIME INVARIANTS:
  The store is the authority for the two contended invariants:
  - ActivateEnrollment is a conditional write that fails with
    ErrCapacityExceeded when the lesson is full at the moment of the write
  - InsertBooking/UpdateBooking fail with ErrSlotUnavailable when another
    non-cancelled booking holds the same (lesson, week, start), and with
    ErrDuplicateBooking when the student already holds a non-cancelled
    booking for that week

SOFT DELETES:
  There is no Delete for lessons or enrollments. Deactivation keeps the
  rows so attendance and invoices can still reference them.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go

SEE ALSO:
  - scheduling/scheduler.go, hybrid/booking.go: WithTx users
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

type LessonFilter struct {
	SchoolID   SchoolID
	TermID     TermID
	Type       LessonType
	ActiveOnly bool
}

type BookingFilter struct {
	LessonID    LessonID
	StudentID   StudentID
	WeekNumber  int        // 0 = any week
	HoldingOnly bool       // exclude CANCELLED
	FromDate    *time.Time // scheduled_date >= FromDate
}

// =============================================================================
// STORES
// =============================================================================

type TermStore interface {
	SaveTerm(ctx context.Context, t Term) error
	GetTerm(ctx context.Context, id TermID) (*Term, error)
}

type LessonStore interface {
	// SaveLesson inserts or replaces a lesson.
	SaveLesson(ctx context.Context, l Lesson) error
	GetLesson(ctx context.Context, id LessonID) (*Lesson, error)
	ListLessons(ctx context.Context, f LessonFilter) ([]Lesson, error)

	// ActiveLessonsOn returns the active lessons that occupy r on dayOfWeek.
	// An empty termID scans every term.
	ActiveLessonsOn(ctx context.Context, r Resource, dayOfWeek int, termID TermID) ([]Lesson, error)
}

type EnrollmentStore interface {
	// ActivateEnrollment creates or reactivates (lesson, student) if the
	// lesson has fewer than maxStudents active enrollments.
	ActivateEnrollment(ctx context.Context, e Enrollment, maxStudents int) error

	// DeactivateEnrollment marks an active enrollment inactive.
	DeactivateEnrollment(ctx context.Context, lessonID LessonID, studentID StudentID, at time.Time) error

	// DeactivateLessonEnrollments marks all of a lesson's enrollments inactive.
	DeactivateLessonEnrollments(ctx context.Context, lessonID LessonID, at time.Time) (int, error)

	IsEnrolled(ctx context.Context, lessonID LessonID, studentID StudentID) (bool, error)
	CountActiveEnrollments(ctx context.Context, lessonID LessonID) (int, error)
	ListActiveEnrollments(ctx context.Context, lessonID LessonID) ([]Enrollment, error)
}

type PatternStore interface {
	SavePattern(ctx context.Context, p HybridPattern) error
	GetPattern(ctx context.Context, lessonID LessonID, termID TermID) (*HybridPattern, error)
	SetBookingsOpen(ctx context.Context, lessonID LessonID, termID TermID, open bool, at time.Time) error
}

type BookingStore interface {
	InsertBooking(ctx context.Context, b HybridBooking) error
	UpdateBooking(ctx context.Context, b HybridBooking) error
	GetBooking(ctx context.Context, id BookingID) (*HybridBooking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]HybridBooking, error)

	// HoldingBookingsOnDate returns non-cancelled bookings on date for any
	// lesson taught by teacher or held in room.
	HoldingBookingsOnDate(ctx context.Context, date time.Time, teacher TeacherID, room RoomID) ([]HybridBooking, error)
}

// StudentDirectory is the slice of student/family state this core reads.
type StudentDirectory interface {
	SaveStudent(ctx context.Context, s Student) error
	GetStudents(ctx context.Context, ids []StudentID) ([]Student, error)
}

// Store groups every persistence capability.
type Store interface {
	TermStore
	LessonStore
	EnrollmentStore
	PatternStore
	BookingStore
	StudentDirectory
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

/*
Package core provides the shared types of the lesson scheduling engine.

PURPOSE:
  This package contains the entities, time arithmetic, errors and store
  interfaces that every other package builds on. The scheduling, hybrid and
  reminders packages hold the behavior; core holds the vocabulary.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lesson: a weekly recurring lesson on one room and one teacher
  - LessonKind: tagged variant of the lesson type (only Hybrid has a pattern)
  - Enrollment: (lesson, student) membership, soft-removed on unenroll
  - HybridPattern: which term weeks are group vs individually booked
  - HybridBooking: one student's slot in one individual week
  - Term: the calendar span week numbers are relative to

DESIGN PRINCIPLES:
  1. Soft deletes: lessons and enrollments are deactivated, never removed,
     so attendance and invoices keep their references
  2. Type safety: distinct ID types keep lessons, students and rooms apart
  3. Write-time invariants: capacity and slot uniqueness are enforced by
     the store inside a transaction, never only by a read

SEE ALSO:
  - interval.go: time-of-day arithmetic and overlap test
  - calendar.go: week number to calendar date derivation
  - store.go: persistence interfaces
*/
package core

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SchoolID string
type TermID string
type LessonID string
type StudentID string
type TeacherID string
type RoomID string
type BookingID string

// NewID returns a random identifier with a readable prefix, e.g. "lsn-1f0c...".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// =============================================================================
// LESSON TYPE - Tagged variant
// =============================================================================

type LessonType string

const (
	LessonIndividual LessonType = "INDIVIDUAL"
	LessonGroup      LessonType = "GROUP"
	LessonBand       LessonType = "BAND"
	LessonHybrid     LessonType = "HYBRID"
)

// ParseLessonType accepts the stored/wire form of a lesson type.
func ParseLessonType(s string) (LessonType, error) {
	switch t := LessonType(s); t {
	case LessonIndividual, LessonGroup, LessonBand, LessonHybrid:
		return t, nil
	}
	return "", Invalid("type", "unknown lesson type %q", s)
}

// LessonKind is the per-type payload of a lesson. Only Hybrid carries a
// pattern, so a hybrid lesson without one cannot be expressed.
type LessonKind interface {
	Type() LessonType
	sealed()
}

type Individual struct{}
type Group struct{}
type Band struct{}

// Hybrid alternates group weeks with individually booked weeks.
type Hybrid struct {
	Pattern PatternDefinition
}

func (Individual) Type() LessonType { return LessonIndividual }
func (Group) Type() LessonType      { return LessonGroup }
func (Band) Type() LessonType       { return LessonBand }
func (Hybrid) Type() LessonType     { return LessonHybrid }

func (Individual) sealed() {}
func (Group) sealed()      {}
func (Band) sealed()       {}
func (Hybrid) sealed()     {}

// NewLessonKind pairs a lesson type with its payload. A pattern is required
// for HYBRID and rejected for every other type.
func NewLessonKind(t LessonType, pattern *PatternDefinition) (LessonKind, error) {
	if t != LessonHybrid && pattern != nil {
		return nil, Invalid("hybrid_pattern", "only HYBRID lessons take a pattern, got %s", t)
	}
	switch t {
	case LessonIndividual:
		return Individual{}, nil
	case LessonGroup:
		return Group{}, nil
	case LessonBand:
		return Band{}, nil
	case LessonHybrid:
		if pattern == nil {
			return nil, Invalid("hybrid_pattern", "HYBRID lessons require a pattern")
		}
		return Hybrid{Pattern: *pattern}, nil
	}
	return nil, Invalid("type", "unknown lesson type %q", t)
}

// =============================================================================
// LESSON
// =============================================================================

// WeeklySchedule is the recurring weekly time block of a lesson.
// EndTime always equals StartTime + DurationMins.
type WeeklySchedule struct {
	DayOfWeek    int // 0 = Sunday
	StartTime    TimeOfDay
	EndTime      TimeOfDay
	DurationMins int
}

type Lesson struct {
	ID           LessonID
	SchoolID     SchoolID
	Type         LessonType
	TermID       TermID
	TeacherID    TeacherID
	RoomID       RoomID
	InstrumentID string // optional
	Name         string
	Description  string
	Schedule     WeeklySchedule
	MaxStudents  int
	IsRecurring  bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Uses reports whether the lesson occupies the given resource.
func (l Lesson) Uses(r Resource) bool {
	switch r.Kind {
	case ResourceRoom:
		return string(l.RoomID) == r.ID
	case ResourceTeacher:
		return string(l.TeacherID) == r.ID
	}
	return false
}

// =============================================================================
// RESOURCES - The two contention points for overlap checks
// =============================================================================

type ResourceKind string

const (
	ResourceRoom    ResourceKind = "ROOM"
	ResourceTeacher ResourceKind = "TEACHER"
)

type Resource struct {
	Kind ResourceKind
	ID   string
}

func RoomResource(id RoomID) Resource       { return Resource{Kind: ResourceRoom, ID: string(id)} }
func TeacherResource(id TeacherID) Resource { return Resource{Kind: ResourceTeacher, ID: string(id)} }

func (r Resource) String() string { return string(r.Kind) + ":" + r.ID }

// =============================================================================
// ENROLLMENT
// =============================================================================

type Enrollment struct {
	LessonID     LessonID
	StudentID    StudentID
	IsActive     bool
	EnrolledAt   time.Time
	UnenrolledAt *time.Time
}

// =============================================================================
// TERM & STUDENT DIRECTORY
// =============================================================================

// Term is an academic term. StartDate and EndDate are civil dates (midnight UTC).
type Term struct {
	ID        TermID
	SchoolID  SchoolID
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// Weeks returns the number of (possibly partial) weeks the term spans.
func (t Term) Weeks() int {
	days := DaysBetween(t.StartDate, t.EndDate) + 1
	if days <= 0 {
		return 0
	}
	return (days + 6) / 7
}

// Student is the directory view of a student used to address parents.
type Student struct {
	ID            StudentID
	Name          string
	ParentName    string
	ParentContact string
}

// =============================================================================
// HYBRID PATTERN
// =============================================================================

type PatternType string

const (
	PatternAlternating PatternType = "ALTERNATING"
	PatternCustom      PatternType = "CUSTOM"
)

// PatternDefinition is the admin-supplied shape of a hybrid pattern.
type PatternDefinition struct {
	PatternType            PatternType
	GroupWeeks             []int
	IndividualWeeks        []int
	IndividualSlotDuration int // minutes
	BookingDeadlineHours   int
	BookingsOpen           bool
}

// HybridPattern is the persisted pattern for one (lesson, term).
type HybridPattern struct {
	LessonID LessonID
	TermID   TermID
	PatternDefinition
	UpdatedAt time.Time
}

// IsIndividualWeek reports whether week is booked individually.
func (p HybridPattern) IsIndividualWeek(week int) bool {
	for _, w := range p.IndividualWeeks {
		if w == week {
			return true
		}
	}
	return false
}

// BookingDeadline is the duration before a slot start after which parents
// can no longer book, reschedule or cancel.
func (p HybridPattern) BookingDeadline() time.Duration {
	return time.Duration(p.BookingDeadlineHours) * time.Hour
}

// =============================================================================
// HYBRID BOOKING
// =============================================================================

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingNoShow    BookingStatus = "NO_SHOW"
)

// HoldsSlot reports whether a booking in this status still occupies its
// slot. Only cancellation releases a slot; completed and no-show bookings
// keep it for the record.
func (s BookingStatus) HoldsSlot() bool {
	return s != BookingCancelled
}

type HybridBooking struct {
	ID                 BookingID
	LessonID           LessonID
	StudentID          StudentID
	WeekNumber         int
	ScheduledDate      time.Time // civil date
	StartTime          TimeOfDay
	EndTime            TimeOfDay
	Status             BookingStatus
	BookedAt           time.Time
	ConfirmedAt        *time.Time
	CancelledAt        *time.Time
	CompletedAt        *time.Time
	CancellationReason string
}

// StartsAt returns the booking's start instant in loc.
func (b HybridBooking) StartsAt(loc *time.Location) time.Time {
	return SlotInstant(b.ScheduledDate, b.StartTime, loc)
}

// Actor identifies who initiated a booking change.
type Actor string

const (
	ActorParent Actor = "parent"
	ActorAdmin  Actor = "admin"
)

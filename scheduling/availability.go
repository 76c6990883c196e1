/*
Package scheduling decides whether lessons can be placed and manages who
is enrolled in them.

PURPOSE:
  Lesson create, update, reschedule and deactivate, plus enrollment with
  capacity enforcement. Every write runs its checks inside the store
  transaction that performs it; reads outside a transaction are hints.

COMPONENTS:
  availability.go: CheckAvailability, the single conflict rule
  capacity.go:     capacity summary per lesson
  enrollment.go:   Enroll, BulkEnroll, Unenroll
  scheduler.go:    the Scheduler service

CONFLICT RULE:
  Two lessons conflict when they are both active, share a room or a
  teacher, fall on the same weekday and their [start, end) intervals
  overlap. Hybrid individual bookings live in their own table and are
  governed by the hybrid package, never by this rule.

SEE ALSO:
  - hybrid/: pattern and booking engine
  - core/interval.go: Overlaps
*/
package scheduling

import (
	"context"

	"github.com/warp/lesson-engine/core"
)

// AvailabilityQuery asks whether a resource is free for a weekly interval.
type AvailabilityQuery struct {
	Resource        core.Resource
	DayOfWeek       int
	Start           core.TimeOfDay
	End             core.TimeOfDay
	ExcludeLessonID core.LessonID // the lesson being moved, if any
	TermID          core.TermID   // optional; empty scans every term
}

// Availability is the answer. ConflictingLesson is set when not available.
type Availability struct {
	Available         bool
	ConflictingLesson *core.Lesson
}

// LessonReader is the slice of the store CheckAvailability reads.
type LessonReader interface {
	ActiveLessonsOn(ctx context.Context, r core.Resource, dayOfWeek int, termID core.TermID) ([]core.Lesson, error)
}

// CheckAvailability returns the first active lesson on the resource and
// day whose interval overlaps the query, if any. Lesson create and lesson
// reschedule both call this with their transaction's store.
func CheckAvailability(ctx context.Context, r LessonReader, q AvailabilityQuery) (Availability, error) {
	if q.Resource.ID == "" {
		return Availability{}, core.Invalid("resource_id", "resource id is required")
	}
	if !core.ValidDay(q.DayOfWeek) {
		return Availability{}, core.Invalid("day_of_week", "day of week must be 0-6, got %d", q.DayOfWeek)
	}
	if q.End <= q.Start {
		return Availability{}, core.Invalid("end_time", "end %s must be after start %s", q.End, q.Start)
	}

	lessons, err := r.ActiveLessonsOn(ctx, q.Resource, q.DayOfWeek, q.TermID)
	if err != nil {
		return Availability{}, err
	}
	for i := range lessons {
		l := lessons[i]
		if l.ID == q.ExcludeLessonID {
			continue
		}
		if core.Overlaps(q.Start, q.End, l.Schedule.StartTime, l.Schedule.EndTime) {
			return Availability{Available: false, ConflictingLesson: &l}, nil
		}
	}
	return Availability{Available: true}, nil
}

// requireAvailable turns a conflict into a ScheduleConflictError.
func requireAvailable(ctx context.Context, r LessonReader, q AvailabilityQuery) error {
	a, err := CheckAvailability(ctx, r, q)
	if err != nil {
		return err
	}
	if !a.Available {
		return &core.ScheduleConflictError{Resource: q.Resource, Lesson: *a.ConflictingLesson}
	}
	return nil
}

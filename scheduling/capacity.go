package scheduling

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/lesson-engine/core"
)

// CapacityInfo summarizes how full a lesson is.
type CapacityInfo struct {
	LessonID    core.LessonID
	Current     int
	Max         int
	Available   int
	Utilization decimal.Decimal // percent of seats taken, two places
}

var hundred = decimal.NewFromInt(100)

// NewCapacityInfo derives Available and Utilization from the counts.
func NewCapacityInfo(lessonID core.LessonID, current, maxStudents int) CapacityInfo {
	available := maxStudents - current
	if available < 0 {
		available = 0
	}
	util := decimal.Zero
	if maxStudents > 0 {
		util = decimal.NewFromInt(int64(current)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(maxStudents))).
			Round(2)
	}
	return CapacityInfo{
		LessonID:    lessonID,
		Current:     current,
		Max:         maxStudents,
		Available:   available,
		Utilization: util,
	}
}

// IsFull reports whether no seat is left.
func (c CapacityInfo) IsFull() bool { return c.Available == 0 }

// Capacity reports the current enrollment count against MaxStudents.
// It is a read; Enroll re-checks at write time.
func (s *Scheduler) Capacity(ctx context.Context, lessonID core.LessonID) (CapacityInfo, error) {
	lesson, err := s.Store.GetLesson(ctx, lessonID)
	if err != nil {
		return CapacityInfo{}, err
	}
	current, err := s.Store.CountActiveEnrollments(ctx, lessonID)
	if err != nil {
		return CapacityInfo{}, err
	}
	return NewCapacityInfo(lesson.ID, current, lesson.MaxStudents), nil
}

package scheduling

import (
	"context"

	"github.com/warp/lesson-engine/core"
)

// =============================================================================
// ENROLLMENT
// =============================================================================
//
// The capacity check and the insert are one conditional write in the store
// (ActivateEnrollment), so two concurrent enrolls for the last seat cannot
// both succeed. BulkEnroll checks the whole batch up front inside the same
// transaction that performs the writes.

// BulkEnrollResult lists what a batch did.
type BulkEnrollResult struct {
	Enrolled        []core.StudentID
	AlreadyEnrolled []core.StudentID
	Capacity        CapacityInfo
}

// Enroll adds a student to an active lesson.
func (s *Scheduler) Enroll(ctx context.Context, lessonID core.LessonID, studentID core.StudentID) (*core.Enrollment, error) {
	if studentID == "" {
		return nil, core.Invalid("student_id", "student id is required")
	}

	e := core.Enrollment{
		LessonID:   lessonID,
		StudentID:  studentID,
		IsActive:   true,
		EnrolledAt: s.now(),
	}
	err := s.Store.WithTx(ctx, func(st core.Store) error {
		lesson, err := activeLesson(ctx, st, lessonID)
		if err != nil {
			return err
		}
		return st.ActivateEnrollment(ctx, e, lesson.MaxStudents)
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("student enrolled", "lesson_id", lessonID, "student_id", studentID)
	return &e, nil
}

// BulkEnroll enrolls a batch of students all-or-nothing. Duplicates in the
// batch and students already enrolled are not counted against capacity.
func (s *Scheduler) BulkEnroll(ctx context.Context, lessonID core.LessonID, studentIDs []core.StudentID) (*BulkEnrollResult, error) {
	if len(studentIDs) == 0 {
		return nil, core.Invalid("student_ids", "at least one student is required")
	}

	var result BulkEnrollResult
	err := s.Store.WithTx(ctx, func(st core.Store) error {
		lesson, err := activeLesson(ctx, st, lessonID)
		if err != nil {
			return err
		}

		seen := make(map[core.StudentID]bool, len(studentIDs))
		var fresh []core.StudentID
		for _, id := range studentIDs {
			if id == "" {
				return core.Invalid("student_ids", "student id is required")
			}
			if seen[id] {
				continue
			}
			seen[id] = true

			enrolled, err := st.IsEnrolled(ctx, lessonID, id)
			if err != nil {
				return err
			}
			if enrolled {
				result.AlreadyEnrolled = append(result.AlreadyEnrolled, id)
				continue
			}
			fresh = append(fresh, id)
		}

		current, err := st.CountActiveEnrollments(ctx, lessonID)
		if err != nil {
			return err
		}
		if current+len(fresh) > lesson.MaxStudents {
			return &core.CapacityError{
				LessonID:  lessonID,
				Current:   current,
				Max:       lesson.MaxStudents,
				Requested: len(fresh),
			}
		}

		now := s.now()
		for _, id := range fresh {
			e := core.Enrollment{LessonID: lessonID, StudentID: id, IsActive: true, EnrolledAt: now}
			if err := st.ActivateEnrollment(ctx, e, lesson.MaxStudents); err != nil {
				return err
			}
		}
		result.Enrolled = fresh
		result.Capacity = NewCapacityInfo(lessonID, current+len(fresh), lesson.MaxStudents)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("students bulk enrolled",
		"lesson_id", lessonID, "enrolled", len(result.Enrolled), "already_enrolled", len(result.AlreadyEnrolled))
	return &result, nil
}

// Unenroll deactivates an enrollment. The row is kept for history.
func (s *Scheduler) Unenroll(ctx context.Context, lessonID core.LessonID, studentID core.StudentID) error {
	err := s.Store.WithTx(ctx, func(st core.Store) error {
		if _, err := st.GetLesson(ctx, lessonID); err != nil {
			return err
		}
		return st.DeactivateEnrollment(ctx, lessonID, studentID, s.now())
	})
	if err != nil {
		return err
	}
	s.log().Info("student unenrolled", "lesson_id", lessonID, "student_id", studentID)
	return nil
}

// ListEnrollments returns the active enrollments of a lesson.
func (s *Scheduler) ListEnrollments(ctx context.Context, lessonID core.LessonID) ([]core.Enrollment, error) {
	if _, err := s.Store.GetLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	return s.Store.ListActiveEnrollments(ctx, lessonID)
}

func activeLesson(ctx context.Context, st core.Store, id core.LessonID) (*core.Lesson, error) {
	lesson, err := st.GetLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	if !lesson.IsActive {
		return nil, core.Invalid("lesson_id", "lesson %s is deactivated", id)
	}
	return lesson, nil
}

package scheduling

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/hybrid"
	"github.com/warp/lesson-engine/reminders"
)

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler owns the lesson lifecycle: New → Scheduled (active) → Deactivated.
type Scheduler struct {
	Store    core.TxStore
	Notifier reminders.Notifier // optional; reschedule notices are skipped when nil
	Clock    core.Clock
	Location *time.Location
	Logger   *slog.Logger
}

// NewScheduler creates a scheduler using the system clock and UTC.
func NewScheduler(store core.TxStore, notifier reminders.Notifier) *Scheduler {
	return &Scheduler{
		Store:    store,
		Notifier: notifier,
		Clock:    core.RealClock(),
		Location: time.UTC,
		Logger:   slog.Default(),
	}
}

func (s *Scheduler) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Scheduler) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Scheduler) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// CheckAvailability runs the conflict rule against the live store.
func (s *Scheduler) CheckAvailability(ctx context.Context, q AvailabilityQuery) (Availability, error) {
	return CheckAvailability(ctx, s.Store, q)
}

// =============================================================================
// CREATE
// =============================================================================

type CreateLessonRequest struct {
	SchoolID     core.SchoolID
	TermID       core.TermID
	TeacherID    core.TeacherID
	RoomID       core.RoomID
	InstrumentID string
	Name         string
	Description  string
	Kind         core.LessonKind
	DayOfWeek    int
	StartTime    string // HH:MM
	EndTime      string // optional; must equal StartTime + DurationMins
	DurationMins int
	MaxStudents  int // 0 defaults to 1 for INDIVIDUAL
	IsRecurring  bool
}

// CreateLesson validates the request, checks the room and the teacher and
// persists the lesson with its hybrid pattern, all in one transaction.
func (s *Scheduler) CreateLesson(ctx context.Context, req CreateLessonRequest) (*core.Lesson, error) {
	lesson, err := s.buildLesson(req)
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(st core.Store) error {
		term, err := st.GetTerm(ctx, lesson.TermID)
		if err != nil {
			return err
		}

		var pattern *core.HybridPattern
		if h, ok := req.Kind.(core.Hybrid); ok {
			def, err := hybrid.NormalizePattern(h.Pattern, term.Weeks())
			if err != nil {
				return err
			}
			if err := hybrid.CheckFitsLesson(def, lesson.Schedule.DurationMins); err != nil {
				return err
			}
			pattern = &core.HybridPattern{
				LessonID:          lesson.ID,
				TermID:            lesson.TermID,
				PatternDefinition: def,
				UpdatedAt:         lesson.CreatedAt,
			}
		}

		if err := s.requireResourcesFree(ctx, st, lesson); err != nil {
			return err
		}
		if err := st.SaveLesson(ctx, lesson); err != nil {
			return err
		}
		if pattern != nil {
			return st.SavePattern(ctx, *pattern)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("lesson created",
		"lesson_id", lesson.ID, "type", lesson.Type, "teacher_id", lesson.TeacherID, "room_id", lesson.RoomID,
		"day", core.DayName(lesson.Schedule.DayOfWeek), "start", lesson.Schedule.StartTime.String())
	return &lesson, nil
}

func (s *Scheduler) buildLesson(req CreateLessonRequest) (core.Lesson, error) {
	if req.Kind == nil {
		return core.Lesson{}, core.Invalid("type", "lesson type is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return core.Lesson{}, core.Invalid("name", "name is required")
	}
	if req.TermID == "" {
		return core.Lesson{}, core.Invalid("term_id", "term is required")
	}
	if req.TeacherID == "" {
		return core.Lesson{}, core.Invalid("teacher_id", "teacher is required")
	}
	if req.RoomID == "" {
		return core.Lesson{}, core.Invalid("room_id", "room is required")
	}

	sched, err := weeklySchedule(req.DayOfWeek, req.StartTime, req.DurationMins)
	if err != nil {
		return core.Lesson{}, err
	}
	if req.EndTime != "" {
		end, err := core.ParseTimeOfDay(req.EndTime)
		if err != nil {
			return core.Lesson{}, err
		}
		if end != sched.EndTime {
			return core.Lesson{}, core.Invalid("end_time",
				"end %s does not match start %s + %d minutes", end, sched.StartTime, sched.DurationMins)
		}
	}

	maxStudents := req.MaxStudents
	if _, ok := req.Kind.(core.Individual); ok {
		if maxStudents == 0 {
			maxStudents = 1
		}
		if maxStudents != 1 {
			return core.Lesson{}, core.Invalid("max_students", "INDIVIDUAL lessons take exactly 1 student, got %d", maxStudents)
		}
	}
	if maxStudents < 1 {
		return core.Lesson{}, core.Invalid("max_students", "max students must be at least 1, got %d", maxStudents)
	}

	now := s.now()
	return core.Lesson{
		ID:           core.LessonID(core.NewID("lsn")),
		SchoolID:     req.SchoolID,
		Type:         req.Kind.Type(),
		TermID:       req.TermID,
		TeacherID:    req.TeacherID,
		RoomID:       req.RoomID,
		InstrumentID: req.InstrumentID,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Schedule:     sched,
		MaxStudents:  maxStudents,
		IsRecurring:  req.IsRecurring,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func weeklySchedule(day int, start string, durationMins int) (core.WeeklySchedule, error) {
	if !core.ValidDay(day) {
		return core.WeeklySchedule{}, core.Invalid("day_of_week", "day of week must be 0-6, got %d", day)
	}
	st, err := core.ParseTimeOfDay(start)
	if err != nil {
		return core.WeeklySchedule{}, err
	}
	end, err := core.EndOf(st, durationMins)
	if err != nil {
		return core.WeeklySchedule{}, err
	}
	return core.WeeklySchedule{DayOfWeek: day, StartTime: st, EndTime: end, DurationMins: durationMins}, nil
}

func (s *Scheduler) requireResourcesFree(ctx context.Context, st core.Store, l core.Lesson) error {
	for _, res := range []core.Resource{core.RoomResource(l.RoomID), core.TeacherResource(l.TeacherID)} {
		err := requireAvailable(ctx, st, AvailabilityQuery{
			Resource:        res,
			DayOfWeek:       l.Schedule.DayOfWeek,
			Start:           l.Schedule.StartTime,
			End:             l.Schedule.EndTime,
			ExcludeLessonID: l.ID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// READ / UPDATE
// =============================================================================

func (s *Scheduler) GetLesson(ctx context.Context, id core.LessonID) (*core.Lesson, error) {
	return s.Store.GetLesson(ctx, id)
}

func (s *Scheduler) ListLessons(ctx context.Context, f core.LessonFilter) ([]core.Lesson, error) {
	return s.Store.ListLessons(ctx, f)
}

// UpdateLessonRequest changes descriptive fields and capacity. Nil fields
// are left alone. Schedule changes go through RescheduleLesson.
type UpdateLessonRequest struct {
	Name         *string
	Description  *string
	InstrumentID *string
	MaxStudents  *int
}

func (s *Scheduler) UpdateLesson(ctx context.Context, id core.LessonID, req UpdateLessonRequest) (*core.Lesson, error) {
	var updated core.Lesson

	err := s.Store.WithTx(ctx, func(st core.Store) error {
		lesson, err := activeLesson(ctx, st, id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return core.Invalid("name", "name is required")
			}
			lesson.Name = name
		}
		if req.Description != nil {
			lesson.Description = *req.Description
		}
		if req.InstrumentID != nil {
			lesson.InstrumentID = *req.InstrumentID
		}
		if req.MaxStudents != nil {
			maxStudents := *req.MaxStudents
			if maxStudents < 1 {
				return core.Invalid("max_students", "max students must be at least 1, got %d", maxStudents)
			}
			if lesson.Type == core.LessonIndividual && maxStudents != 1 {
				return core.Invalid("max_students", "INDIVIDUAL lessons take exactly 1 student, got %d", maxStudents)
			}
			current, err := st.CountActiveEnrollments(ctx, id)
			if err != nil {
				return err
			}
			if current > maxStudents {
				return core.Invalid("max_students", "%d students are enrolled, cannot lower capacity to %d", current, maxStudents)
			}
			lesson.MaxStudents = maxStudents
		}
		lesson.UpdatedAt = s.now()
		updated = *lesson
		return st.SaveLesson(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("lesson updated", "lesson_id", id)
	return &updated, nil
}

// =============================================================================
// RESCHEDULE (two-phase)
// =============================================================================
//
// Phase 1, CheckRescheduleConflicts, reports what a move would clash with
// and whom it would affect without writing anything. Phase 2,
// RescheduleLesson, recomputes the same report inside its transaction and
// applies the move even when it conflicts: the admin has seen the report
// and decides.

// RescheduleRequest is the proposed new weekly slot. Zero DurationMins and
// empty TeacherID/RoomID keep the current values.
type RescheduleRequest struct {
	DayOfWeek    int
	StartTime    string
	DurationMins int
	TeacherID    core.TeacherID
	RoomID       core.RoomID
}

type RescheduleReport struct {
	HasConflicts        bool
	TeacherConflict     *core.Lesson
	RoomConflict        *core.Lesson
	AffectedStudents    int
	AffectedEnrollments []core.Enrollment
	AffectedBookings    []core.HybridBooking // upcoming individual bookings the move cancels
}

type RescheduleResult struct {
	Lesson   core.Lesson
	Previous core.WeeklySchedule
	Report   RescheduleReport
}

// CheckRescheduleConflicts is phase 1. It never writes.
func (s *Scheduler) CheckRescheduleConflicts(ctx context.Context, id core.LessonID, req RescheduleRequest) (*RescheduleReport, error) {
	_, _, report, err := s.planReschedule(ctx, s.Store, id, req)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// RescheduleLesson is phase 2. It moves the lesson, cancels the upcoming
// individual bookings the move invalidates and, when notifyParents is set,
// sends reschedule notices after the commit.
func (s *Scheduler) RescheduleLesson(ctx context.Context, id core.LessonID, req RescheduleRequest, notifyParents bool) (*RescheduleResult, error) {
	var result RescheduleResult

	err := s.Store.WithTx(ctx, func(st core.Store) error {
		current, proposed, report, err := s.planReschedule(ctx, st, id, req)
		if err != nil {
			return err
		}

		now := s.now()
		proposed.UpdatedAt = now
		if err := st.SaveLesson(ctx, proposed); err != nil {
			return err
		}
		for i := range report.AffectedBookings {
			hybrid.CancelForReschedule(&report.AffectedBookings[i], now)
			if err := st.UpdateBooking(ctx, report.AffectedBookings[i]); err != nil {
				return err
			}
		}

		result = RescheduleResult{Lesson: proposed, Previous: current.Schedule, Report: report}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := s.log().With("lesson_id", id)
	if result.Report.HasConflicts {
		log.Warn("lesson rescheduled over conflicts",
			"teacher_conflict", conflictID(result.Report.TeacherConflict),
			"room_conflict", conflictID(result.Report.RoomConflict))
	}
	log.Info("lesson rescheduled",
		"day", core.DayName(result.Lesson.Schedule.DayOfWeek), "start", result.Lesson.Schedule.StartTime.String(),
		"affected_students", result.Report.AffectedStudents, "cancelled_bookings", len(result.Report.AffectedBookings))

	if notifyParents {
		s.notifyReschedule(ctx, result)
	}
	return &result, nil
}

// planReschedule computes the proposed lesson and its report on st.
func (s *Scheduler) planReschedule(ctx context.Context, st core.Store, id core.LessonID, req RescheduleRequest) (*core.Lesson, core.Lesson, RescheduleReport, error) {
	var report RescheduleReport

	current, err := activeLesson(ctx, st, id)
	if err != nil {
		return nil, core.Lesson{}, report, err
	}

	duration := req.DurationMins
	if duration == 0 {
		duration = current.Schedule.DurationMins
	}
	sched, err := weeklySchedule(req.DayOfWeek, req.StartTime, duration)
	if err != nil {
		return nil, core.Lesson{}, report, err
	}

	proposed := *current
	proposed.Schedule = sched
	if req.TeacherID != "" {
		proposed.TeacherID = req.TeacherID
	}
	if req.RoomID != "" {
		proposed.RoomID = req.RoomID
	}

	if proposed.Type == core.LessonHybrid {
		pattern, err := st.GetPattern(ctx, proposed.ID, proposed.TermID)
		if err != nil && !core.IsNotFound(err) {
			return nil, core.Lesson{}, report, err
		}
		if pattern != nil {
			if err := hybrid.CheckFitsLesson(pattern.PatternDefinition, sched.DurationMins); err != nil {
				return nil, core.Lesson{}, report, err
			}
		}
	}

	if report.RoomConflict, err = s.conflictFor(ctx, st, core.RoomResource(proposed.RoomID), proposed); err != nil {
		return nil, core.Lesson{}, report, err
	}
	if report.TeacherConflict, err = s.conflictFor(ctx, st, core.TeacherResource(proposed.TeacherID), proposed); err != nil {
		return nil, core.Lesson{}, report, err
	}
	report.HasConflicts = report.RoomConflict != nil || report.TeacherConflict != nil

	moved := proposed.Schedule != current.Schedule ||
		proposed.TeacherID != current.TeacherID ||
		proposed.RoomID != current.RoomID
	if !moved {
		return current, proposed, report, nil
	}

	if report.AffectedEnrollments, err = st.ListActiveEnrollments(ctx, id); err != nil {
		return nil, core.Lesson{}, report, err
	}
	report.AffectedStudents = len(report.AffectedEnrollments)
	if report.AffectedBookings, err = s.upcomingBookings(ctx, st, id); err != nil {
		return nil, core.Lesson{}, report, err
	}
	return current, proposed, report, nil
}

func (s *Scheduler) conflictFor(ctx context.Context, st core.Store, res core.Resource, l core.Lesson) (*core.Lesson, error) {
	a, err := CheckAvailability(ctx, st, AvailabilityQuery{
		Resource:        res,
		DayOfWeek:       l.Schedule.DayOfWeek,
		Start:           l.Schedule.StartTime,
		End:             l.Schedule.EndTime,
		ExcludeLessonID: l.ID,
	})
	if err != nil {
		return nil, err
	}
	return a.ConflictingLesson, nil
}

// upcomingBookings returns the lesson's pending or confirmed bookings that
// have not started yet.
func (s *Scheduler) upcomingBookings(ctx context.Context, st core.Store, id core.LessonID) ([]core.HybridBooking, error) {
	now := s.now()
	today := core.CivilDate(now.In(s.location()))
	held, err := st.ListBookings(ctx, core.BookingFilter{LessonID: id, HoldingOnly: true, FromDate: &today})
	if err != nil {
		return nil, err
	}
	var upcoming []core.HybridBooking
	for _, b := range held {
		live := b.Status == core.BookingPending || b.Status == core.BookingConfirmed
		if live && b.StartsAt(s.location()).After(now) {
			upcoming = append(upcoming, b)
		}
	}
	return upcoming, nil
}

func (s *Scheduler) notifyReschedule(ctx context.Context, result RescheduleResult) {
	if s.Notifier == nil || result.Report.AffectedStudents == 0 {
		return
	}

	ids := make([]core.StudentID, len(result.Report.AffectedEnrollments))
	for i, e := range result.Report.AffectedEnrollments {
		ids[i] = e.StudentID
	}
	students, err := s.Store.GetStudents(ctx, ids)
	if err != nil {
		s.log().Error("reschedule notices not sent", "lesson_id", result.Lesson.ID, "error", err)
		return
	}
	cancelled := make(map[core.StudentID]int)
	for _, b := range result.Report.AffectedBookings {
		cancelled[b.StudentID]++
	}

	notices := make([]reminders.RescheduleNotice, 0, len(students))
	for _, st := range students {
		if st.ParentContact == "" {
			continue
		}
		notices = append(notices, reminders.RescheduleNotice{
			LessonID:          result.Lesson.ID,
			LessonName:        result.Lesson.Name,
			StudentID:         st.ID,
			StudentName:       st.Name,
			ParentContact:     st.ParentContact,
			From:              result.Previous,
			To:                result.Lesson.Schedule,
			CancelledBookings: cancelled[st.ID],
		})
	}
	if len(notices) > 0 {
		s.Notifier.SendRescheduleNotices(ctx, notices)
	}
}

func conflictID(l *core.Lesson) string {
	if l == nil {
		return ""
	}
	return string(l.ID)
}

// =============================================================================
// DEACTIVATE
// =============================================================================

// DeactivateLesson soft-deletes a lesson, deactivates its enrollments and
// closes hybrid bookings. Attendance and notes keep their references.
// Deactivating an inactive lesson does nothing.
func (s *Scheduler) DeactivateLesson(ctx context.Context, id core.LessonID) (int, error) {
	var released int

	err := s.Store.WithTx(ctx, func(st core.Store) error {
		lesson, err := st.GetLesson(ctx, id)
		if err != nil {
			return err
		}
		if !lesson.IsActive {
			return nil
		}

		now := s.now()
		lesson.IsActive = false
		lesson.UpdatedAt = now
		if err := st.SaveLesson(ctx, *lesson); err != nil {
			return err
		}
		if released, err = st.DeactivateLessonEnrollments(ctx, id, now); err != nil {
			return err
		}
		if lesson.Type == core.LessonHybrid {
			err := st.SetBookingsOpen(ctx, id, lesson.TermID, false, now)
			if err != nil && !core.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log().Info("lesson deactivated", "lesson_id", id, "enrollments_released", released)
	return released, nil
}

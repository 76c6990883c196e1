package scheduling_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/hybrid"
	"github.com/warp/lesson-engine/reminders"
	"github.com/warp/lesson-engine/scheduling"
	"github.com/warp/lesson-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type recordingNotifier struct {
	mu        sync.Mutex
	reminders []reminders.Reminder
	notices   []reminders.RescheduleNotice
}

func (n *recordingNotifier) SendReminders(_ context.Context, rs []reminders.Reminder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, rs...)
}

func (n *recordingNotifier) SendRescheduleNotices(_ context.Context, ns []reminders.RescheduleNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, ns...)
}

type fixture struct {
	store     *sqlite.Store
	scheduler *scheduling.Scheduler
	engine    *hybrid.Engine
	clock     *core.FixedClock
	notifier  *recordingNotifier
	term      *core.Term
}

// newFixture builds a scheduler over an 8-week term starting Monday 5 Jan
// 2026. The clock starts on 1 Jan 2026.
func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := core.NewFixedClock(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}

	scheduler := scheduling.NewScheduler(store, notifier)
	scheduler.Clock = clock

	engine := hybrid.NewEngine(store)
	engine.Clock = clock

	term, err := scheduler.CreateTerm(context.Background(), scheduling.CreateTermRequest{
		SchoolID:  "sch-1",
		Name:      "Spring",
		StartDate: "2026-01-05",
		EndDate:   "2026-03-01",
	})
	require.NoError(t, err)

	return &fixture{store: store, scheduler: scheduler, engine: engine, clock: clock, notifier: notifier, term: term}
}

func (f *fixture) lessonReq(kind core.LessonKind, teacher, room string, day int, start string, mins, maxStudents int) scheduling.CreateLessonRequest {
	return scheduling.CreateLessonRequest{
		SchoolID:     "sch-1",
		TermID:       f.term.ID,
		TeacherID:    core.TeacherID(teacher),
		RoomID:       core.RoomID(room),
		Name:         fmt.Sprintf("%s %s %s", kind.Type(), teacher, start),
		Kind:         kind,
		DayOfWeek:    day,
		StartTime:    start,
		DurationMins: mins,
		MaxStudents:  maxStudents,
		IsRecurring:  true,
	}
}

func (f *fixture) createLesson(t *testing.T, kind core.LessonKind, teacher, room string, day int, start string, mins, maxStudents int) *core.Lesson {
	l, err := f.scheduler.CreateLesson(context.Background(), f.lessonReq(kind, teacher, room, day, start, mins, maxStudents))
	require.NoError(t, err)
	return l
}

func alternating() core.Hybrid {
	return core.Hybrid{Pattern: core.PatternDefinition{
		PatternType:            core.PatternAlternating,
		IndividualSlotDuration: 15,
		BookingDeadlineHours:   24,
		BookingsOpen:           true,
	}}
}

const monday = int(time.Monday)

// =============================================================================
// AVAILABILITY & CREATE
// =============================================================================

func TestCheckAvailability_ConflictIsSymmetric(t *testing.T) {
	// GIVEN: Two lessons in room R on Monday, 09:00-10:00 and 09:30-10:30
	//        (the second created in another room, then checked against R)
	// WHEN: Checking each lesson's interval against the other
	// THEN: Both checks report the other lesson
	f := newFixture(t)
	ctx := context.Background()

	a := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 5)
	b := f.createLesson(t, core.Group{}, "t-b", "room-s", monday, "09:30", 60, 5)

	// a's interval against room-s (held by b)
	got, err := f.scheduler.CheckAvailability(ctx, scheduling.AvailabilityQuery{
		Resource: core.RoomResource("room-s"), DayOfWeek: monday,
		Start: a.Schedule.StartTime, End: a.Schedule.EndTime,
	})
	require.NoError(t, err)
	require.False(t, got.Available)
	assert.Equal(t, b.ID, got.ConflictingLesson.ID)

	// b's interval against room-r (held by a)
	got, err = f.scheduler.CheckAvailability(ctx, scheduling.AvailabilityQuery{
		Resource: core.RoomResource("room-r"), DayOfWeek: monday,
		Start: b.Schedule.StartTime, End: b.Schedule.EndTime,
	})
	require.NoError(t, err)
	require.False(t, got.Available)
	assert.Equal(t, a.ID, got.ConflictingLesson.ID)
}

func TestCheckAvailability_ExcludeAndTouching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 5)

	got, err := f.scheduler.CheckAvailability(ctx, scheduling.AvailabilityQuery{
		Resource: core.RoomResource("room-r"), DayOfWeek: monday,
		Start: a.Schedule.StartTime, End: a.Schedule.EndTime, ExcludeLessonID: a.ID,
	})
	require.NoError(t, err)
	assert.True(t, got.Available, "a lesson never conflicts with itself")

	got, err = f.scheduler.CheckAvailability(ctx, scheduling.AvailabilityQuery{
		Resource: core.RoomResource("room-r"), DayOfWeek: monday,
		Start: core.MustTimeOfDay("10:00"), End: core.MustTimeOfDay("11:00"),
	})
	require.NoError(t, err)
	assert.True(t, got.Available, "back-to-back lessons do not overlap")

	_, err = f.scheduler.CheckAvailability(ctx, scheduling.AvailabilityQuery{
		Resource: core.RoomResource("room-r"), DayOfWeek: monday,
		Start: core.MustTimeOfDay("11:00"), End: core.MustTimeOfDay("10:00"),
	})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCreateLesson_TeacherConflictAcrossRooms(t *testing.T) {
	// GIVEN: Teacher T teaches Monday 09:00-09:45 in room R
	// WHEN: Creating a Monday 09:30-10:15 lesson for T in another room
	// THEN: ScheduleConflict naming the first lesson, and nothing is saved
	f := newFixture(t)
	ctx := context.Background()
	first := f.createLesson(t, core.Individual{}, "teacher-t", "room-r", monday, "09:00", 45, 1)

	_, err := f.scheduler.CreateLesson(ctx, f.lessonReq(core.Individual{}, "teacher-t", "room-other", monday, "09:30", 45, 1))
	require.Error(t, err)

	var conflict *core.ScheduleConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, core.ResourceTeacher, conflict.Resource.Kind)
	assert.Equal(t, first.ID, conflict.Lesson.ID)

	lessons, err := f.scheduler.ListLessons(ctx, core.LessonFilter{TermID: f.term.ID, ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
}

func TestCreateLesson_DeactivatedLessonFreesResources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 5)

	_, err := f.scheduler.DeactivateLesson(ctx, first.ID)
	require.NoError(t, err)

	f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 5)
}

func TestCreateLesson_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   scheduling.CreateLessonRequest
		field string
	}{
		{
			name:  "individual with two seats",
			req:   f.lessonReq(core.Individual{}, "t", "r", monday, "09:00", 30, 2),
			field: "max_students",
		},
		{
			name:  "group with no seats",
			req:   f.lessonReq(core.Group{}, "t", "r", monday, "09:00", 30, 0),
			field: "max_students",
		},
		{
			name: "end time disagrees with duration",
			req: func() scheduling.CreateLessonRequest {
				r := f.lessonReq(core.Group{}, "t", "r", monday, "09:00", 30, 4)
				r.EndTime = "10:00"
				return r
			}(),
			field: "end_time",
		},
		{
			name:  "bad weekday",
			req:   f.lessonReq(core.Group{}, "t", "r", 7, "09:00", 30, 4),
			field: "day_of_week",
		},
		{
			name: "hybrid week beyond term",
			req: f.lessonReq(core.Hybrid{Pattern: core.PatternDefinition{
				PatternType:            core.PatternCustom,
				GroupWeeks:             []int{1},
				IndividualWeeks:        []int{9},
				IndividualSlotDuration: 15,
			}}, "t", "r", monday, "09:00", 60, 4),
			field: "individual_weeks",
		},
		{
			name: "hybrid weeks overlap",
			req: f.lessonReq(core.Hybrid{Pattern: core.PatternDefinition{
				PatternType:            core.PatternCustom,
				GroupWeeks:             []int{1, 2},
				IndividualWeeks:        []int{2},
				IndividualSlotDuration: 15,
			}}, "t", "r", monday, "09:00", 60, 4),
			field: "individual_weeks",
		},
		{
			name: "hybrid slot longer than the block",
			req: f.lessonReq(core.Hybrid{Pattern: core.PatternDefinition{
				PatternType:            core.PatternAlternating,
				IndividualSlotDuration: 90,
			}}, "t", "r", monday, "09:00", 60, 4),
			field: "individual_slot_duration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.scheduler.CreateLesson(ctx, tt.req)
			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCreateLesson_HybridPersistsAlternatingPattern(t *testing.T) {
	f := newFixture(t)
	l := f.createLesson(t, alternating(), "t-a", "room-r", monday, "09:00", 60, 4)

	p, err := f.engine.GetPattern(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5, 7}, p.GroupWeeks)
	assert.Equal(t, []int{2, 4, 6, 8}, p.IndividualWeeks)
	assert.True(t, p.BookingsOpen)
}

// =============================================================================
// CAPACITY & ENROLLMENT
// =============================================================================

func TestCapacity_Utilization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 3)
	_, err := f.scheduler.Enroll(ctx, l.ID, "s1")
	require.NoError(t, err)

	info, err := f.scheduler.Capacity(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Current)
	assert.Equal(t, 2, info.Available)
	assert.True(t, decimal.RequireFromString("33.33").Equal(info.Utilization), "got %s", info.Utilization)
	assert.False(t, info.IsFull())
}

func TestEnroll_ConcurrentLastSeatHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 2)
	_, err := f.scheduler.Enroll(ctx, l.ID, "s0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.scheduler.Enroll(ctx, l.ID, core.StudentID(fmt.Sprintf("s%d", i+1)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, core.ErrCapacityExceeded)
		}
	}
	assert.Equal(t, 1, wins)

	info, err := f.scheduler.Capacity(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Current)
}

func TestBulkEnroll_AllOrNothing(t *testing.T) {
	// GIVEN: A lesson with 3 seats and 1 student enrolled
	// WHEN: Bulk-enrolling 3 more
	// THEN: CapacityExceeded and nobody from the batch is enrolled
	f := newFixture(t)
	ctx := context.Background()
	l := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 3)
	_, err := f.scheduler.Enroll(ctx, l.ID, "s0")
	require.NoError(t, err)

	_, err = f.scheduler.BulkEnroll(ctx, l.ID, []core.StudentID{"s1", "s2", "s3"})
	var capErr *core.CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 1, capErr.Current)
	assert.Equal(t, 3, capErr.Requested)

	enrolled, err := f.scheduler.ListEnrollments(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, enrolled, 1)
}

func TestBulkEnroll_DedupesAndSkipsEnrolled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 3)
	_, err := f.scheduler.Enroll(ctx, l.ID, "s0")
	require.NoError(t, err)

	res, err := f.scheduler.BulkEnroll(ctx, l.ID, []core.StudentID{"s0", "s1", "s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, []core.StudentID{"s1", "s2"}, res.Enrolled)
	assert.Equal(t, []core.StudentID{"s0"}, res.AlreadyEnrolled)
	assert.Equal(t, 3, res.Capacity.Current)
	assert.True(t, res.Capacity.IsFull())
}

func TestEnroll_AlreadyEnrolledAndUnenroll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 3)

	_, err := f.scheduler.Enroll(ctx, l.ID, "s1")
	require.NoError(t, err)
	_, err = f.scheduler.Enroll(ctx, l.ID, "s1")
	assert.ErrorIs(t, err, core.ErrAlreadyEnrolled)

	require.NoError(t, f.scheduler.Unenroll(ctx, l.ID, "s1"))
	assert.ErrorIs(t, f.scheduler.Unenroll(ctx, l.ID, "s1"), core.ErrNotFound)

	_, err = f.scheduler.Enroll(ctx, "missing", "s1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateLesson_CannotShrinkBelowEnrolled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 4)
	_, err := f.scheduler.BulkEnroll(ctx, l.ID, []core.StudentID{"s1", "s2", "s3"})
	require.NoError(t, err)

	two := 2
	_, err = f.scheduler.UpdateLesson(ctx, l.ID, scheduling.UpdateLessonRequest{MaxStudents: &two})
	assert.ErrorIs(t, err, core.ErrValidation)

	five, name := 5, "Strings Plus"
	updated, err := f.scheduler.UpdateLesson(ctx, l.ID, scheduling.UpdateLessonRequest{MaxStudents: &five, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.MaxStudents)
	assert.Equal(t, "Strings Plus", updated.Name)
}

// =============================================================================
// RESCHEDULE
// =============================================================================

func TestCheckRescheduleConflicts_IsReadOnlyAndRepeatable(t *testing.T) {
	// GIVEN: Lesson A (room R, Mon 09:00) and lesson B (same teacher, Mon 10:00)
	// WHEN: Checking a move of A to Mon 10:00 twice
	// THEN: Both reports are identical, name B as the teacher conflict,
	//       and A is still at 09:00
	f := newFixture(t)
	ctx := context.Background()
	a := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 5)
	b := f.createLesson(t, core.Group{}, "t-a", "room-s", monday, "10:00", 60, 5)
	_, err := f.scheduler.BulkEnroll(ctx, a.ID, []core.StudentID{"s1", "s2"})
	require.NoError(t, err)

	req := scheduling.RescheduleRequest{DayOfWeek: monday, StartTime: "10:00"}
	first, err := f.scheduler.CheckRescheduleConflicts(ctx, a.ID, req)
	require.NoError(t, err)
	second, err := f.scheduler.CheckRescheduleConflicts(ctx, a.ID, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.True(t, first.HasConflicts)
	require.NotNil(t, first.TeacherConflict)
	assert.Equal(t, b.ID, first.TeacherConflict.ID)
	assert.Nil(t, first.RoomConflict)
	assert.Equal(t, 2, first.AffectedStudents)

	after, err := f.scheduler.GetLesson(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Schedule, after.Schedule)
	assert.True(t, a.UpdatedAt.Equal(after.UpdatedAt))
}

func TestCheckRescheduleConflicts_SameSlotTouchesNobody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 5)
	_, err := f.scheduler.Enroll(ctx, a.ID, "s1")
	require.NoError(t, err)

	report, err := f.scheduler.CheckRescheduleConflicts(ctx, a.ID, scheduling.RescheduleRequest{DayOfWeek: monday, StartTime: "09:00"})
	require.NoError(t, err)
	assert.False(t, report.HasConflicts)
	assert.Zero(t, report.AffectedStudents)
}

func TestRescheduleLesson_AppliesOverConflictAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createLesson(t, core.Group{}, "t-a", "room-r", monday, "09:00", 60, 5)
	f.createLesson(t, core.Group{}, "t-b", "room-s", int(time.Tuesday), "16:00", 60, 5)
	require.NoError(t, f.store.SaveStudent(ctx, core.Student{ID: "s1", Name: "Ava", ParentContact: "ava@example.com"}))
	require.NoError(t, f.store.SaveStudent(ctx, core.Student{ID: "s2", Name: "Ben"}))
	_, err := f.scheduler.BulkEnroll(ctx, a.ID, []core.StudentID{"s1", "s2"})
	require.NoError(t, err)

	res, err := f.scheduler.RescheduleLesson(ctx, a.ID,
		scheduling.RescheduleRequest{DayOfWeek: int(time.Tuesday), StartTime: "16:30", RoomID: "room-s"}, true)
	require.NoError(t, err)

	assert.True(t, res.Report.HasConflicts, "admin override still reports the conflict")
	require.NotNil(t, res.Report.RoomConflict)
	assert.Equal(t, int(time.Tuesday), res.Lesson.Schedule.DayOfWeek)
	assert.Equal(t, "17:30", res.Lesson.Schedule.EndTime.String())
	assert.Equal(t, "09:00", res.Previous.StartTime.String())

	stored, err := f.scheduler.GetLesson(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RoomID("room-s"), stored.RoomID)

	require.Len(t, f.notifier.notices, 1, "only parents with a contact are notified")
	assert.Equal(t, core.StudentID("s1"), f.notifier.notices[0].StudentID)
	assert.Equal(t, res.Lesson.Schedule, f.notifier.notices[0].To)
}

func TestRescheduleLesson_CancelsUpcomingHybridBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.createLesson(t, alternating(), "t-a", "room-r", monday, "09:00", 60, 4)
	_, err := f.scheduler.BulkEnroll(ctx, l.ID, []core.StudentID{"s1", "s2"})
	require.NoError(t, err)

	b, err := f.engine.CreateBooking(ctx, hybrid.CreateBookingRequest{
		LessonID: l.ID, StudentID: "s1", WeekNumber: 2, StartTime: core.MustTimeOfDay("09:15"),
	})
	require.NoError(t, err)

	res, err := f.scheduler.RescheduleLesson(ctx, l.ID,
		scheduling.RescheduleRequest{DayOfWeek: int(time.Wednesday), StartTime: "14:00"}, false)
	require.NoError(t, err)
	require.Len(t, res.Report.AffectedBookings, 1)
	assert.Equal(t, b.ID, res.Report.AffectedBookings[0].ID)

	got, err := f.engine.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BookingCancelled, got.Status)
	assert.Equal(t, hybrid.RescheduledReason, got.CancellationReason)
}

func TestRescheduleLesson_HybridSlotMustStillFit(t *testing.T) {
	f := newFixture(t)
	l := f.createLesson(t, alternating(), "t-a", "room-r", monday, "09:00", 60, 4)

	_, err := f.scheduler.RescheduleLesson(context.Background(), l.ID,
		scheduling.RescheduleRequest{DayOfWeek: monday, StartTime: "09:00", DurationMins: 10}, false)
	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// DEACTIVATE
// =============================================================================

func TestDeactivateLesson_CascadesToEnrollmentsAndGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.createLesson(t, alternating(), "t-a", "room-r", monday, "09:00", 60, 4)
	_, err := f.scheduler.BulkEnroll(ctx, l.ID, []core.StudentID{"s1", "s2", "s3"})
	require.NoError(t, err)

	n, err := f.scheduler.DeactivateLesson(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := f.scheduler.GetLesson(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "soft delete keeps the row")

	enrolled, err := f.scheduler.ListEnrollments(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, enrolled)

	p, err := f.engine.GetPattern(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, p.BookingsOpen)

	n, err = f.scheduler.DeactivateLesson(ctx, l.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "second deactivate is a no-op")

	_, err = f.scheduler.Enroll(ctx, l.ID, "s4")
	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// TERMS
// =============================================================================

func TestCreateTerm_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scheduler.CreateTerm(ctx, scheduling.CreateTermRequest{Name: "Bad", StartDate: "2026-03-01", EndDate: "2026-01-01"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.scheduler.CreateTerm(ctx, scheduling.CreateTermRequest{Name: "Bad", StartDate: "03/01/2026", EndDate: "2026-04-01"})
	assert.ErrorIs(t, err, core.ErrValidation)

	assert.Equal(t, 8, f.term.Weeks())
}

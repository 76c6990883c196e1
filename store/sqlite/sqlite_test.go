package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedLesson(t *testing.T, store *sqlite.Store, id core.LessonID, maxStudents int) core.Lesson {
	ctx := context.Background()
	require.NoError(t, store.SaveTerm(ctx, core.Term{
		ID:        "trm-1",
		SchoolID:  "sch-1",
		Name:      "Spring",
		StartDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	l := core.Lesson{
		ID:        id,
		SchoolID:  "sch-1",
		Type:      core.LessonGroup,
		TermID:    "trm-1",
		TeacherID: "tch-1",
		RoomID:    "room-1",
		Name:      "Strings",
		Schedule: core.WeeklySchedule{
			DayOfWeek:    1,
			StartTime:    core.MustTimeOfDay("09:00"),
			EndTime:      core.MustTimeOfDay("10:00"),
			DurationMins: 60,
		},
		MaxStudents: maxStudents,
		IsRecurring: true,
		IsActive:    true,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
	require.NoError(t, store.SaveLesson(ctx, l))
	return l
}

func enrollment(lessonID core.LessonID, studentID core.StudentID) core.Enrollment {
	return core.Enrollment{LessonID: lessonID, StudentID: studentID, IsActive: true, EnrolledAt: t0}
}

func booking(id core.BookingID, lessonID core.LessonID, student core.StudentID, week int, start string) core.HybridBooking {
	st := core.MustTimeOfDay(start)
	return core.HybridBooking{
		ID:            id,
		LessonID:      lessonID,
		StudentID:     student,
		WeekNumber:    week,
		ScheduledDate: time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
		StartTime:     st,
		EndTime:       st.Add(15),
		Status:        core.BookingPending,
		BookedAt:      t0,
	}
}

// =============================================================================
// LESSONS
// =============================================================================

func TestActiveLessonsOn_FiltersByResourceDayAndActivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	l := seedLesson(t, store, "lsn-1", 5)

	got, err := store.ActiveLessonsOn(ctx, core.RoomResource("room-1"), 1, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, l.ID, got[0].ID)
	assert.Equal(t, l.Schedule, got[0].Schedule)

	got, err = store.ActiveLessonsOn(ctx, core.TeacherResource("tch-1"), 2, "")
	require.NoError(t, err)
	assert.Empty(t, got, "different weekday")

	got, err = store.ActiveLessonsOn(ctx, core.RoomResource("room-1"), 1, "trm-other")
	require.NoError(t, err)
	assert.Empty(t, got, "different term")

	l.IsActive = false
	require.NoError(t, store.SaveLesson(ctx, l))
	got, err = store.ActiveLessonsOn(ctx, core.RoomResource("room-1"), 1, "")
	require.NoError(t, err)
	assert.Empty(t, got, "inactive lessons hold nothing")
}

func TestGetLesson_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetLesson(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// =============================================================================
// ENROLLMENT CAPACITY
// =============================================================================

func TestActivateEnrollment_StopsAtMax(t *testing.T) {
	// GIVEN: A lesson with two seats
	// WHEN: Three students enroll
	// THEN: The third gets a CapacityError with the counts
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 2)

	require.NoError(t, store.ActivateEnrollment(ctx, enrollment("lsn-1", "s1"), 2))
	require.NoError(t, store.ActivateEnrollment(ctx, enrollment("lsn-1", "s2"), 2))

	err := store.ActivateEnrollment(ctx, enrollment("lsn-1", "s3"), 2)
	var capErr *core.CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 2, capErr.Current)
	assert.Equal(t, 2, capErr.Max)

	n, err := store.CountActiveEnrollments(ctx, "lsn-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestActivateEnrollment_AlreadyEnrolledAndReactivation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 3)

	require.NoError(t, store.ActivateEnrollment(ctx, enrollment("lsn-1", "s1"), 3))
	err := store.ActivateEnrollment(ctx, enrollment("lsn-1", "s1"), 3)
	assert.ErrorIs(t, err, core.ErrAlreadyEnrolled)

	// Unenroll then re-enroll reuses the row.
	require.NoError(t, store.DeactivateEnrollment(ctx, "lsn-1", "s1", t0.Add(time.Hour)))
	enrolled, err := store.IsEnrolled(ctx, "lsn-1", "s1")
	require.NoError(t, err)
	assert.False(t, enrolled)

	require.NoError(t, store.ActivateEnrollment(ctx, enrollment("lsn-1", "s1"), 3))
	list, err := store.ListActiveEnrollments(ctx, "lsn-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].UnenrolledAt)
}

func TestActivateEnrollment_ConcurrentLastSeat(t *testing.T) {
	// GIVEN: One seat left
	// WHEN: Ten students race for it
	// THEN: Exactly one wins
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 3)
	require.NoError(t, store.ActivateEnrollment(ctx, enrollment("lsn-1", "s1"), 3))
	require.NoError(t, store.ActivateEnrollment(ctx, enrollment("lsn-1", "s2"), 3))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := core.StudentID("racer-" + string(rune('a'+i)))
			errs[i] = store.ActivateEnrollment(ctx, enrollment("lsn-1", sid), 3)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, core.ErrCapacityExceeded)
	}
	assert.Equal(t, 1, wins)

	n, err := store.CountActiveEnrollments(ctx, "lsn-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeactivateLessonEnrollments_CountsOnlyActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 5)
	for _, s := range []core.StudentID{"s1", "s2", "s3"} {
		require.NoError(t, store.ActivateEnrollment(ctx, enrollment("lsn-1", s), 5))
	}
	require.NoError(t, store.DeactivateEnrollment(ctx, "lsn-1", "s3", t0))

	n, err := store.DeactivateLessonEnrollments(ctx, "lsn-1", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = store.DeactivateEnrollment(ctx, "lsn-1", "s1", t0)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// =============================================================================
// PATTERNS
// =============================================================================

func TestPattern_SaveGetAndToggle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 4)

	p := core.HybridPattern{
		LessonID: "lsn-1",
		TermID:   "trm-1",
		PatternDefinition: core.PatternDefinition{
			PatternType:            core.PatternCustom,
			GroupWeeks:             []int{1, 2},
			IndividualWeeks:        []int{3},
			IndividualSlotDuration: 20,
			BookingDeadlineHours:   48,
		},
		UpdatedAt: t0,
	}
	require.NoError(t, store.SavePattern(ctx, p))

	got, err := store.GetPattern(ctx, "lsn-1", "trm-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got.GroupWeeks)
	assert.Equal(t, []int{3}, got.IndividualWeeks)
	assert.False(t, got.BookingsOpen)

	require.NoError(t, store.SetBookingsOpen(ctx, "lsn-1", "trm-1", true, t0.Add(time.Minute)))
	got, err = store.GetPattern(ctx, "lsn-1", "trm-1")
	require.NoError(t, err)
	assert.True(t, got.BookingsOpen)

	err = store.SetBookingsOpen(ctx, "lsn-1", "trm-2", true, t0)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// =============================================================================
// BOOKING UNIQUENESS
// =============================================================================

func TestInsertBooking_SlotTakenMapsToSlotUnavailable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 4)

	require.NoError(t, store.InsertBooking(ctx, booking("b1", "lsn-1", "s1", 2, "09:00")))
	err := store.InsertBooking(ctx, booking("b2", "lsn-1", "s2", 2, "09:00"))
	assert.ErrorIs(t, err, core.ErrSlotUnavailable)
}

func TestInsertBooking_SecondBookingSameWeekMapsToDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 4)

	require.NoError(t, store.InsertBooking(ctx, booking("b1", "lsn-1", "s1", 2, "09:00")))
	err := store.InsertBooking(ctx, booking("b2", "lsn-1", "s1", 2, "09:15"))
	assert.ErrorIs(t, err, core.ErrDuplicateBooking)
}

func TestUpdateBooking_NotFound(t *testing.T) {
	store := newTestStore(t)
	seedLesson(t, store, "lsn-1", 4)

	err := store.UpdateBooking(context.Background(), booking("missing", "lsn-1", "s1", 2, "09:00"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInsertBooking_CancelledBookingReleasesSlot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 4)

	b := booking("b1", "lsn-1", "s1", 2, "09:00")
	require.NoError(t, store.InsertBooking(ctx, b))

	cancelledAt := t0.Add(time.Hour)
	b.Status = core.BookingCancelled
	b.CancelledAt = &cancelledAt
	b.CancellationReason = "sick"
	require.NoError(t, store.UpdateBooking(ctx, b))

	require.NoError(t, store.InsertBooking(ctx, booking("b2", "lsn-1", "s2", 2, "09:00")))

	holding, err := store.ListBookings(ctx, core.BookingFilter{LessonID: "lsn-1", WeekNumber: 2, HoldingOnly: true})
	require.NoError(t, err)
	require.Len(t, holding, 1)
	assert.Equal(t, core.BookingID("b2"), holding[0].ID)

	old, err := store.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "sick", old.CancellationReason)
	require.NotNil(t, old.CancelledAt)
	assert.True(t, old.CancelledAt.Equal(cancelledAt))
}

func TestHoldingBookingsOnDate_JoinsTeacherAndRoom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 4)
	require.NoError(t, store.InsertBooking(ctx, booking("b1", "lsn-1", "s1", 2, "09:00")))

	day := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)

	got, err := store.HoldingBookingsOnDate(ctx, day, "tch-1", "room-x")
	require.NoError(t, err)
	assert.Len(t, got, 1, "matched by teacher")

	got, err = store.HoldingBookingsOnDate(ctx, day, "tch-x", "room-1")
	require.NoError(t, err)
	assert.Len(t, got, 1, "matched by room")

	got, err = store.HoldingBookingsOnDate(ctx, day, "tch-x", "room-x")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// TRANSACTIONS & DIRECTORY
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 4)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(st core.Store) error {
		require.NoError(t, st.ActivateEnrollment(ctx, enrollment("lsn-1", "s1"), 4))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := store.CountActiveEnrollments(ctx, "lsn-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetStudents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveStudent(ctx, core.Student{ID: "s1", Name: "Ava", ParentContact: "ava@example.com"}))
	require.NoError(t, store.SaveStudent(ctx, core.Student{ID: "s2", Name: "Ben"}))

	got, err := store.GetStudents(ctx, []core.StudentID{"s2", "s1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ava", got[0].Name)
	assert.Equal(t, "ava@example.com", got[0].ParentContact)
	assert.Empty(t, got[1].ParentContact)
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedLesson(t, store, "lsn-1", 4)

	require.NoError(t, store.Reset(ctx))

	_, err := store.GetLesson(ctx, "lsn-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates a term, students,
	lessons and enrollments through the same services the API uses, so the
	seeded data obeys every scheduling rule.

AVAILABLE SCENARIOS:

	weekly-timetable: Individual, group and band lessons sharing teachers and rooms
	hybrid-term:      Alternating group/individual term with open bookings
	full-house:       A group lesson at capacity and a waiting student

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create a term starting on the Monday of the current week
 3. Register students with parent contacts
 4. Create lessons (room and teacher checks apply)
 5. Enroll students, and for hybrid lessons book a few slots

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "hybrid-term"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add it to scenarioLoaders

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/hybrid"
	"github.com/warp/lesson-engine/scheduling"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "weekly-timetable",
		Name:        "Weekly Timetable",
		Description: "Individual, group and band lessons sharing two teachers and two rooms",
	},
	{
		ID:          "hybrid-term",
		Name:        "Hybrid Term",
		Description: "Alternating group and individual weeks, 15-minute slots, bookings open",
	},
	{
		ID:          "full-house",
		Name:        "Full House",
		Description: "A group lesson at capacity; the next enrollment is rejected",
	},
}

var scenarioLoaders = map[string]func(ctx context.Context, h *Handler) error{
	"weekly-timetable": loadWeeklyTimetableScenario,
	"hybrid-term":      loadHybridTermScenario,
	"full-house":       loadFullHouseScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx, h); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const demoSchool = core.SchoolID("school-demo")

func createDemoTerm(ctx context.Context, h *Handler, weeks int) (*core.Term, error) {
	loc := h.Hybrid.Location
	if loc == nil {
		loc = time.UTC
	}
	today := core.CivilDate(h.Hybrid.Now().In(loc))
	monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	return h.Scheduler.CreateTerm(ctx, scheduling.CreateTermRequest{
		SchoolID:  demoSchool,
		Name:      "Demo Term",
		StartDate: core.FormatDate(monday),
		EndDate:   core.FormatDate(monday.AddDate(0, 0, weeks*7-1)),
	})
}

func seedStudents(ctx context.Context, h *Handler, names ...string) ([]core.StudentID, error) {
	ids := make([]core.StudentID, len(names))
	for i, name := range names {
		id := core.StudentID(fmt.Sprintf("stu-%02d", i+1))
		err := h.Store.SaveStudent(ctx, core.Student{
			ID:            id,
			Name:          name,
			ParentName:    "Parent of " + name,
			ParentContact: fmt.Sprintf("parent%02d@example.com", i+1),
		})
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func demoLesson(term *core.Term, name string, kind core.LessonKind, teacher, room string, day int, start string, mins, maxStudents int) scheduling.CreateLessonRequest {
	return scheduling.CreateLessonRequest{
		SchoolID:     demoSchool,
		TermID:       term.ID,
		TeacherID:    core.TeacherID(teacher),
		RoomID:       core.RoomID(room),
		Name:         name,
		Kind:         kind,
		DayOfWeek:    day,
		StartTime:    start,
		DurationMins: mins,
		MaxStudents:  maxStudents,
		IsRecurring:  true,
	}
}

func loadWeeklyTimetableScenario(ctx context.Context, h *Handler) error {
	term, err := createDemoTerm(ctx, h, 12)
	if err != nil {
		return err
	}
	students, err := seedStudents(ctx, h, "Ava", "Ben", "Cleo", "Dev", "Eli", "Fay")
	if err != nil {
		return err
	}

	reqs := []scheduling.CreateLessonRequest{
		demoLesson(term, "Piano - Ava", core.Individual{}, "t-maria", "room-a", int(time.Monday), "09:00", 45, 1),
		demoLesson(term, "Guitar Group", core.Group{}, "t-sam", "room-a", int(time.Monday), "10:00", 60, 6),
		demoLesson(term, "Junior Band", core.Band{}, "t-maria", "room-b", int(time.Wednesday), "16:00", 90, 10),
		demoLesson(term, "Violin - Ben", core.Individual{}, "t-sam", "room-b", int(time.Monday), "09:00", 30, 1),
	}
	lessons := make([]*core.Lesson, len(reqs))
	for i, req := range reqs {
		if lessons[i], err = h.Scheduler.CreateLesson(ctx, req); err != nil {
			return fmt.Errorf("lesson %q: %w", req.Name, err)
		}
	}

	if _, err := h.Scheduler.Enroll(ctx, lessons[0].ID, students[0]); err != nil {
		return err
	}
	if _, err := h.Scheduler.Enroll(ctx, lessons[3].ID, students[1]); err != nil {
		return err
	}
	if _, err := h.Scheduler.BulkEnroll(ctx, lessons[1].ID, students[2:5]); err != nil {
		return err
	}
	_, err = h.Scheduler.BulkEnroll(ctx, lessons[2].ID, students)
	return err
}

func loadHybridTermScenario(ctx context.Context, h *Handler) error {
	term, err := createDemoTerm(ctx, h, 10)
	if err != nil {
		return err
	}
	students, err := seedStudents(ctx, h, "Gus", "Hana", "Ivo", "Jun")
	if err != nil {
		return err
	}

	kind := core.Hybrid{Pattern: core.PatternDefinition{
		PatternType:            core.PatternAlternating,
		IndividualSlotDuration: 15,
		BookingDeadlineHours:   24,
		BookingsOpen:           true,
	}}
	lesson, err := h.Scheduler.CreateLesson(ctx,
		demoLesson(term, "Hybrid Piano", kind, "t-maria", "room-a", int(time.Saturday), "10:00", 60, 4))
	if err != nil {
		return err
	}
	if _, err := h.Scheduler.BulkEnroll(ctx, lesson.ID, students); err != nil {
		return err
	}

	// Two of the four students book the first individual week.
	pattern, err := h.Hybrid.GetPattern(ctx, lesson.ID)
	if err != nil {
		return err
	}
	if len(pattern.IndividualWeeks) == 0 {
		return nil
	}
	week := pattern.IndividualWeeks[0]
	for i, start := range []string{"10:00", "10:30"} {
		_, err := h.Hybrid.CreateBooking(ctx, hybrid.CreateBookingRequest{
			LessonID:   lesson.ID,
			StudentID:  students[i],
			WeekNumber: week,
			StartTime:  core.MustTimeOfDay(start),
		})
		if err != nil {
			return fmt.Errorf("booking week %d %s: %w", week, start, err)
		}
	}
	return nil
}

func loadFullHouseScenario(ctx context.Context, h *Handler) error {
	term, err := createDemoTerm(ctx, h, 8)
	if err != nil {
		return err
	}
	students, err := seedStudents(ctx, h, "Kai", "Lena", "Milo", "Nora")
	if err != nil {
		return err
	}

	lesson, err := h.Scheduler.CreateLesson(ctx,
		demoLesson(term, "Drum Circle", core.Group{}, "t-lee", "room-c", int(time.Thursday), "17:00", 60, 3))
	if err != nil {
		return err
	}
	// Nora is left out; enrolling her answers capacity_exceeded.
	_, err = h.Scheduler.BulkEnroll(ctx, lesson.ID, students[:3])
	return err
}

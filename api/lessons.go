package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/scheduling"
)

// =============================================================================
// AVAILABILITY
// =============================================================================

// CheckAvailability answers whether a room or teacher is free.
//
//	GET /api/availability?resource=ROOM&id=r1&day=1&start=09:00&end=10:00[&exclude=lsn_x][&term=trm_y]
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var res core.Resource
	switch core.ResourceKind(q.Get("resource")) {
	case core.ResourceRoom:
		res = core.RoomResource(core.RoomID(q.Get("id")))
	case core.ResourceTeacher:
		res = core.TeacherResource(core.TeacherID(q.Get("id")))
	default:
		h.writeDomainError(w, r, "Invalid availability query",
			core.Invalid("resource", "resource must be ROOM or TEACHER, got %q", q.Get("resource")))
		return
	}

	day, ok, err := queryInt(r, "day")
	if err == nil && !ok {
		err = core.Invalid("day", "day is required")
	}
	if err != nil {
		h.writeDomainError(w, r, "Invalid availability query", err)
		return
	}
	start, err := parseTime("start", q.Get("start"))
	if err != nil {
		h.writeDomainError(w, r, "Invalid availability query", err)
		return
	}
	end, err := parseTime("end", q.Get("end"))
	if err != nil {
		h.writeDomainError(w, r, "Invalid availability query", err)
		return
	}

	avail, err := h.Scheduler.CheckAvailability(r.Context(), scheduling.AvailabilityQuery{
		Resource:        res,
		DayOfWeek:       day,
		Start:           start,
		End:             end,
		ExcludeLessonID: core.LessonID(q.Get("exclude")),
		TermID:          core.TermID(q.Get("term")),
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to check availability", err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Available:         avail.Available,
		ConflictingLesson: toLessonDTOPtr(avail.ConflictingLesson),
	})
}

// =============================================================================
// LESSON HANDLERS
// =============================================================================

// ListLessons returns lessons filtered by school, term and type. Inactive
// lessons are included only with ?all=true.
func (h *Handler) ListLessons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.LessonFilter{
		SchoolID:   core.SchoolID(q.Get("school")),
		TermID:     core.TermID(q.Get("term")),
		ActiveOnly: q.Get("all") != "true",
	}
	if raw := q.Get("type"); raw != "" {
		t, err := core.ParseLessonType(raw)
		if err != nil {
			h.writeDomainError(w, r, "Invalid lesson filter", err)
			return
		}
		filter.Type = t
	}

	lessons, err := h.Scheduler.ListLessons(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list lessons", err)
		return
	}

	dtos := make([]LessonDTO, len(lessons))
	for i, l := range lessons {
		dtos[i] = toLessonDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLesson creates a lesson after checking room and teacher.
func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var req CreateLessonRequest
	if !h.decode(w, r, &req) {
		return
	}

	var def *core.PatternDefinition
	if req.HybridPattern != nil {
		d := req.HybridPattern.definition()
		def = &d
	}
	kind, err := core.NewLessonKind(core.LessonType(req.Type), def)
	if err != nil {
		h.writeDomainError(w, r, "Invalid lesson", err)
		return
	}

	recurring := true
	if req.IsRecurring != nil {
		recurring = *req.IsRecurring
	}

	lesson, err := h.Scheduler.CreateLesson(r.Context(), scheduling.CreateLessonRequest{
		SchoolID:     core.SchoolID(req.SchoolID),
		TermID:       core.TermID(req.TermID),
		TeacherID:    core.TeacherID(req.TeacherID),
		RoomID:       core.RoomID(req.RoomID),
		InstrumentID: req.InstrumentID,
		Name:         req.Name,
		Description:  req.Description,
		Kind:         kind,
		DayOfWeek:    req.DayOfWeek,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		DurationMins: req.DurationMins,
		MaxStudents:  req.MaxStudents,
		IsRecurring:  recurring,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create lesson", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLessonDTO(*lesson))
}

// GetLesson returns one lesson, active or not.
func (h *Handler) GetLesson(w http.ResponseWriter, r *http.Request) {
	lesson, err := h.Scheduler.GetLesson(r.Context(), lessonIDParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get lesson", err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonDTO(*lesson))
}

// UpdateLesson changes descriptive fields and capacity.
func (h *Handler) UpdateLesson(w http.ResponseWriter, r *http.Request) {
	var req UpdateLessonRequest
	if !h.decode(w, r, &req) {
		return
	}

	lesson, err := h.Scheduler.UpdateLesson(r.Context(), lessonIDParam(r), scheduling.UpdateLessonRequest{
		Name:         req.Name,
		Description:  req.Description,
		InstrumentID: req.InstrumentID,
		MaxStudents:  req.MaxStudents,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to update lesson", err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonDTO(*lesson))
}

// DeactivateLesson soft-deletes a lesson and ends its enrollments.
func (h *Handler) DeactivateLesson(w http.ResponseWriter, r *http.Request) {
	id := lessonIDParam(r)
	n, err := h.Scheduler.DeactivateLesson(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to deactivate lesson", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lesson_id":         id,
		"enrollments_ended": n,
		"message":           pluralize(n, "enrollment") + " ended",
	})
}

// GetCapacity returns the enrollment count against max_students.
func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	info, err := h.Scheduler.Capacity(r.Context(), lessonIDParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get capacity", err)
		return
	}
	writeJSON(w, http.StatusOK, toCapacityDTO(info))
}

// =============================================================================
// RESCHEDULE HANDLERS
// =============================================================================

func (req RescheduleLessonRequest) toDomain() scheduling.RescheduleRequest {
	return scheduling.RescheduleRequest{
		DayOfWeek:    req.DayOfWeek,
		StartTime:    req.StartTime,
		DurationMins: req.DurationMins,
		TeacherID:    core.TeacherID(req.TeacherID),
		RoomID:       core.RoomID(req.RoomID),
	}
}

// CheckReschedule reports what a move would collide with and touch.
// It never writes.
func (h *Handler) CheckReschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleLessonRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.Scheduler.CheckRescheduleConflicts(r.Context(), lessonIDParam(r), req.toDomain())
	if err != nil {
		h.writeDomainError(w, r, "Failed to check reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*report))
}

// RescheduleLesson moves a lesson even over conflicts; the admin has seen the
// check report. The report is recomputed in the write transaction and
// returned for auditing.
func (h *Handler) RescheduleLesson(w http.ResponseWriter, r *http.Request) {
	var req RescheduleLessonRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Scheduler.RescheduleLesson(r.Context(), lessonIDParam(r), req.toDomain(), req.NotifyParents)
	if err != nil {
		h.writeDomainError(w, r, "Failed to reschedule lesson", err)
		return
	}
	writeJSON(w, http.StatusOK, RescheduleResultDTO{
		Lesson:   toLessonDTO(result.Lesson),
		Previous: toScheduleDTO(result.Previous),
		Report:   toReportDTO(result.Report),
	})
}

// =============================================================================
// ENROLLMENT HANDLERS
// =============================================================================

// ListEnrollments returns the active enrollments of a lesson.
func (h *Handler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	es, err := h.Scheduler.ListEnrollments(r.Context(), lessonIDParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to list enrollments", err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTOs(es))
}

// Enroll adds one student.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !h.decode(w, r, &req) {
		return
	}

	e, err := h.Scheduler.Enroll(r.Context(), lessonIDParam(r), core.StudentID(req.StudentID))
	if err != nil {
		h.writeDomainError(w, r, "Failed to enroll student", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollmentDTO(*e))
}

// BulkEnroll enrolls a batch. Either every new student fits or none is added.
func (h *Handler) BulkEnroll(w http.ResponseWriter, r *http.Request) {
	var req BulkEnrollRequest
	if !h.decode(w, r, &req) {
		return
	}

	ids := make([]core.StudentID, len(req.StudentIDs))
	for i, id := range req.StudentIDs {
		ids[i] = core.StudentID(id)
	}

	result, err := h.Scheduler.BulkEnroll(r.Context(), lessonIDParam(r), ids)
	if err != nil {
		h.writeDomainError(w, r, "Failed to enroll students", err)
		return
	}
	writeJSON(w, http.StatusOK, BulkEnrollResponse{
		Enrolled:        studentIDStrings(result.Enrolled),
		AlreadyEnrolled: studentIDStrings(result.AlreadyEnrolled),
		Capacity:        toCapacityDTO(result.Capacity),
	})
}

// Unenroll ends a student's enrollment.
func (h *Handler) Unenroll(w http.ResponseWriter, r *http.Request) {
	studentID := core.StudentID(chi.URLParam(r, "studentID"))
	if err := h.Scheduler.Unenroll(r.Context(), lessonIDParam(r), studentID); err != nil {
		h.writeDomainError(w, r, "Failed to unenroll student", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

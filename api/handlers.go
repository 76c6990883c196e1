/*
handlers.go - HTTP API handlers for the lesson scheduling engine

PURPOSE:
  Exposes the scheduler, the hybrid booking engine and the reminder
  trigger via REST API. Handles HTTP request/response, JSON
  serialization and validation, and delegates to domain logic.

ENDPOINTS:
  Terms & students:
    POST   /api/terms                          Create term
    GET    /api/terms/{id}                     Get term
    POST   /api/students                       Register student (directory)

  Lessons (lessons.go):
    GET    /api/availability                   Check room/teacher availability
    GET    /api/lessons                        List lessons
    POST   /api/lessons                        Create lesson            [admin]
    GET    /api/lessons/{id}                   Get lesson
    PATCH  /api/lessons/{id}                   Update lesson            [admin]
    DELETE /api/lessons/{id}                   Deactivate lesson        [admin]
    GET    /api/lessons/{id}/capacity          Capacity summary
    POST   /api/lessons/{id}/reschedule/check  Reschedule phase 1 (no writes)
    POST   /api/lessons/{id}/reschedule        Reschedule phase 2       [admin]
    GET    /api/lessons/{id}/enrollments       Active enrollments
    POST   /api/lessons/{id}/enrollments       Enroll one student
    POST   /api/lessons/{id}/enrollments/bulk  Enroll a batch (all or nothing)
    DELETE /api/lessons/{id}/enrollments/{sid} Unenroll

  Hybrid (bookings.go):
    GET    /api/lessons/{id}/pattern                    Get pattern
    PUT    /api/lessons/{id}/pattern                    Replace pattern  [admin]
    POST   /api/lessons/{id}/pattern/open               Open bookings    [admin]
    POST   /api/lessons/{id}/pattern/close              Close bookings   [admin]
    GET    /api/lessons/{id}/weeks/{week}/slots         Available slots
    GET    /api/lessons/{id}/weeks/{week}/bookings      Week bookings
    POST   /api/lessons/{id}/weeks/{week}/bookings      Book a slot
    GET    /api/lessons/{id}/weeks/{week}/unbooked      Unbooked students
    POST   /api/lessons/{id}/weeks/{week}/remind        Send reminders   [admin]
    GET    /api/bookings/{id}                           Get booking
    POST   /api/bookings/{id}/reschedule                Move booking
    POST   /api/bookings/{id}/cancel                    Cancel booking
    POST   /api/bookings/{id}/confirm                   Confirm booking  [admin]
    POST   /api/bookings/{id}/outcome                   Record outcome   [admin]

  Scenarios (scenarios.go):
    GET    /api/scenarios              List demo scenarios
    GET    /api/scenarios/current      Currently loaded scenario
    POST   /api/scenarios/load         Load a demo scenario
    POST   /api/scenarios/reset        Wipe the database

ACTOR:
  The X-Actor-Role header carries "admin" or "parent" (default). Routes
  marked [admin] reject parents with 403. Parents are bound by the
  booking deadline when cancelling; admins are not.

ERROR HANDLING:
  Domain errors are mapped by writeDomainError:
  - 400: validation_failed
  - 404: not_found
  - 409: schedule_conflict, capacity_exceeded, slot_unavailable,
         already_enrolled, duplicate_booking
  - 422: booking_deadline_passed, bookings_closed, not_enrolled,
         invalid_transition
  - 500: internal

SECURITY NOTE:
  The actor header is trusted as is. Put an authenticating proxy in
  front of this service before exposing it.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/hybrid"
	"github.com/warp/lesson-engine/reminders"
	"github.com/warp/lesson-engine/scheduling"
	"github.com/warp/lesson-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Scheduler *scheduling.Scheduler
	Hybrid    *hybrid.Engine
	Trigger   *reminders.Trigger
	Logger    *slog.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires a handler over already constructed services.
func NewHandler(store *sqlite.Store, scheduler *scheduling.Scheduler, engine *hybrid.Engine, trigger *reminders.Trigger) *Handler {
	v := validator.New()
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Store:     store,
		Scheduler: scheduler,
		Hybrid:    engine,
		Trigger:   trigger,
		Logger:    slog.Default(),
		validate:  v,
	}
}

// =============================================================================
// TERM & STUDENT HANDLERS
// =============================================================================

// CreateTerm creates an academic term.
func (h *Handler) CreateTerm(w http.ResponseWriter, r *http.Request) {
	var req CreateTermRequest
	if !h.decode(w, r, &req) {
		return
	}

	term, err := h.Scheduler.CreateTerm(r.Context(), scheduling.CreateTermRequest{
		SchoolID:  core.SchoolID(req.SchoolID),
		Name:      req.Name,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create term", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTermDTO(*term))
}

// GetTerm returns a term.
func (h *Handler) GetTerm(w http.ResponseWriter, r *http.Request) {
	term, err := h.Scheduler.GetTerm(r.Context(), core.TermID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get term", err)
		return
	}
	writeJSON(w, http.StatusOK, toTermDTO(*term))
}

// CreateStudent registers or updates a student in the directory used by
// reminders and reschedule notices.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if !h.decode(w, r, &req) {
		return
	}

	st := core.Student{
		ID:            core.StudentID(req.ID),
		Name:          req.Name,
		ParentName:    req.ParentName,
		ParentContact: req.ParentContact,
	}
	if err := h.Store.SaveStudent(r.Context(), st); err != nil {
		h.writeDomainError(w, r, "Failed to save student", err)
		return
	}
	writeJSON(w, http.StatusCreated, StudentDTO{
		ID:            string(st.ID),
		Name:          st.Name,
		ParentName:    st.ParentName,
		ParentContact: st.ParentContact,
	})
}

// ResetDatabase wipes all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// ACTOR
// =============================================================================

const actorHeader = "X-Actor-Role"

func actorFrom(r *http.Request) core.Actor {
	if strings.EqualFold(r.Header.Get(actorHeader), string(core.ActorAdmin)) {
		return core.ActorAdmin
	}
	return core.ActorParent
}

// requireAdmin rejects requests that don't carry the admin role.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorFrom(r) != core.ActorAdmin {
			writeJSON(w, http.StatusForbidden, ErrorResponse{
				Error: "Admin role required",
				Code:  "forbidden",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: codeForStatus(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_failed"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "forbidden"
	}
	return "internal"
}

// decode reads a JSON body into dst and runs the validator on it. It
// writes the 400 response itself and reports whether the caller may go on.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Code:   "validation_failed",
			Fields: fields,
		})
		return false
	}
	return true
}

// fieldPath drops the top-level struct name from the validator namespace,
// so "CreateLessonRequest.hybrid_pattern.individual_slot_duration" becomes
// "hybrid_pattern.individual_slot_duration".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

// writeDomainError maps engine errors onto status codes and stable codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		verr     *core.ValidationError
		conflict *core.ScheduleConflictError
	)
	switch {
	case errors.As(err, &verr):
		status, resp.Code = http.StatusBadRequest, "validation_failed"
		resp.Fields = map[string]string{verr.Field: verr.Message}
	case errors.Is(err, core.ErrValidation):
		status, resp.Code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, core.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.As(err, &conflict):
		status, resp.Code = http.StatusConflict, "schedule_conflict"
		resp.ConflictingLesson = toLessonDTOPtr(&conflict.Lesson)
	case errors.Is(err, core.ErrCapacityExceeded):
		status, resp.Code = http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, core.ErrSlotUnavailable):
		status, resp.Code = http.StatusConflict, "slot_unavailable"
	case errors.Is(err, core.ErrAlreadyEnrolled):
		status, resp.Code = http.StatusConflict, "already_enrolled"
	case errors.Is(err, core.ErrDuplicateBooking):
		status, resp.Code = http.StatusConflict, "duplicate_booking"
	case errors.Is(err, core.ErrBookingDeadlinePassed):
		status, resp.Code = http.StatusUnprocessableEntity, "booking_deadline_passed"
	case errors.Is(err, core.ErrBookingsClosed):
		status, resp.Code = http.StatusUnprocessableEntity, "bookings_closed"
	case errors.Is(err, core.ErrNotEnrolled):
		status, resp.Code = http.StatusUnprocessableEntity, "not_enrolled"
	case errors.Is(err, core.ErrInvalidTransition):
		status, resp.Code = http.StatusUnprocessableEntity, "invalid_transition"
	default:
		resp.Code = "internal"
		resp.Details = ""
		h.Logger.ErrorContext(r.Context(), message, "error", err, "path", r.URL.Path)
	}
	writeJSON(w, status, resp)
}

func weekParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "week")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, core.Invalid("week", "week must be a positive integer, got %q", raw)
	}
	return n, nil
}

func queryInt(r *http.Request, key string) (int, bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, core.Invalid(key, "%s must be an integer, got %q", key, raw)
	}
	return n, true, nil
}

func parseTime(field, raw string) (core.TimeOfDay, error) {
	t, err := core.ParseTimeOfDay(raw)
	if err != nil {
		return 0, core.Invalid(field, "malformed time %q, want HH:MM", raw)
	}
	return t, nil
}

func lessonIDParam(r *http.Request) core.LessonID {
	return core.LessonID(chi.URLParam(r, "id"))
}

func bookingIDParam(r *http.Request) core.BookingID {
	return core.BookingID(chi.URLParam(r, "id"))
}

func pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

package api

import (
	"net/http"

	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/hybrid"
)

// =============================================================================
// PATTERN HANDLERS
// =============================================================================

// GetPattern returns the hybrid pattern of a lesson's term.
func (h *Handler) GetPattern(w http.ResponseWriter, r *http.Request) {
	p, err := h.Hybrid.GetPattern(r.Context(), lessonIDParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, toPatternDTO(*p))
}

// PutPattern replaces the hybrid pattern.
func (h *Handler) PutPattern(w http.ResponseWriter, r *http.Request) {
	var req PatternRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Hybrid.DefinePattern(r.Context(), lessonIDParam(r), req.definition())
	if err != nil {
		h.writeDomainError(w, r, "Failed to save pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, toPatternDTO(*p))
}

// OpenBookings lets parents book individual slots.
func (h *Handler) OpenBookings(w http.ResponseWriter, r *http.Request) {
	h.setBookingsOpen(w, r, true)
}

// CloseBookings stops new bookings. Existing bookings are kept.
func (h *Handler) CloseBookings(w http.ResponseWriter, r *http.Request) {
	h.setBookingsOpen(w, r, false)
}

func (h *Handler) setBookingsOpen(w http.ResponseWriter, r *http.Request, open bool) {
	id := lessonIDParam(r)
	var err error
	if open {
		err = h.Hybrid.OpenBookings(r.Context(), id)
	} else {
		err = h.Hybrid.CloseBookings(r.Context(), id)
	}
	if err != nil {
		h.writeDomainError(w, r, "Failed to change booking gate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lesson_id": id, "bookings_open": open})
}

// =============================================================================
// WEEK HANDLERS
// =============================================================================

// ListSlots returns every slot of an individual week with its availability.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	week, err := weekParam(r)
	if err != nil {
		h.writeDomainError(w, r, "Invalid week", err)
		return
	}

	slots, err := h.Hybrid.GetAvailableSlots(r.Context(), lessonIDParam(r), week)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list slots", err)
		return
	}

	dtos := make([]SlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = toSlotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListWeekBookings returns the bookings of one week that still hold a slot.
func (h *Handler) ListWeekBookings(w http.ResponseWriter, r *http.Request) {
	week, err := weekParam(r)
	if err != nil {
		h.writeDomainError(w, r, "Invalid week", err)
		return
	}

	bs, err := h.Hybrid.ListWeekBookings(r.Context(), lessonIDParam(r), week)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bs))
}

// CreateBooking books a slot for an enrolled student.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	week, err := weekParam(r)
	if err != nil {
		h.writeDomainError(w, r, "Invalid week", err)
		return
	}
	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		h.writeDomainError(w, r, "Invalid booking", err)
		return
	}

	b, err := h.Hybrid.CreateBooking(r.Context(), hybrid.CreateBookingRequest{
		LessonID:   lessonIDParam(r),
		StudentID:  core.StudentID(req.StudentID),
		WeekNumber: week,
		StartTime:  start,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// ListUnbooked returns enrolled students without a live booking that week.
func (h *Handler) ListUnbooked(w http.ResponseWriter, r *http.Request) {
	week, err := weekParam(r)
	if err != nil {
		h.writeDomainError(w, r, "Invalid week", err)
		return
	}

	id := lessonIDParam(r)
	ids, err := h.Hybrid.GetUnbookedStudents(r.Context(), id, week)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list unbooked students", err)
		return
	}
	writeJSON(w, http.StatusOK, UnbookedResponse{
		LessonID:   string(id),
		WeekNumber: week,
		StudentIDs: studentIDStrings(ids),
	})
}

// RemindWeek sends reminders to the parents of unbooked students now,
// regardless of the reminder loop's schedule.
func (h *Handler) RemindWeek(w http.ResponseWriter, r *http.Request) {
	week, err := weekParam(r)
	if err != nil {
		h.writeDomainError(w, r, "Invalid week", err)
		return
	}

	sent, err := h.Trigger.RemindWeek(r.Context(), lessonIDParam(r), week)
	if err != nil {
		h.writeDomainError(w, r, "Failed to send reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, RemindResponse{
		Sent:      len(sent),
		Reminders: toReminderDTOs(sent),
	})
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// GetBooking returns one booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Hybrid.GetBooking(r.Context(), bookingIDParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// RescheduleBooking moves a booking to another slot, possibly another week.
func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	var req RescheduleBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		h.writeDomainError(w, r, "Invalid booking", err)
		return
	}

	b, err := h.Hybrid.RescheduleBooking(r.Context(), bookingIDParam(r), req.WeekNumber, start, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to reschedule booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// CancelBooking cancels a booking and frees its slot.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req CancelBookingRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	b, err := h.Hybrid.CancelBooking(r.Context(), bookingIDParam(r), actorFrom(r), req.Reason)
	if err != nil {
		h.writeDomainError(w, r, "Failed to cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ConfirmBooking marks a pending booking as confirmed.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Hybrid.ConfirmBooking(r.Context(), bookingIDParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to confirm booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// RecordOutcome marks a held booking as COMPLETED or NO_SHOW.
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if !h.decode(w, r, &req) {
		return
	}

	b, err := h.Hybrid.RecordOutcome(r.Context(), bookingIDParam(r), core.BookingStatus(req.Status))
	if err != nil {
		h.writeDomainError(w, r, "Failed to record outcome", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

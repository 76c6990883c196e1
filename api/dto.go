/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in core/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, ranges, enums). Business rules (overlaps, capacity,
  deadlines) are checked by the services, not here.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/hybrid"
	"github.com/warp/lesson-engine/reminders"
	"github.com/warp/lesson-engine/scheduling"
)

// =============================================================================
// TERMS & STUDENTS
// =============================================================================

type TermDTO struct {
	ID        string `json:"id"`
	SchoolID  string `json:"school_id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Weeks     int    `json:"weeks"`
}

type CreateTermRequest struct {
	SchoolID  string `json:"school_id"`
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type StudentDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ParentName    string `json:"parent_name,omitempty"`
	ParentContact string `json:"parent_contact,omitempty"`
}

type CreateStudentRequest struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	ParentName    string `json:"parent_name"`
	ParentContact string `json:"parent_contact"`
}

// =============================================================================
// LESSONS
// =============================================================================

type ScheduleDTO struct {
	DayOfWeek    int    `json:"day_of_week"`
	DayName      string `json:"day_name"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	DurationMins int    `json:"duration_mins"`
}

type LessonDTO struct {
	ID           string      `json:"id"`
	SchoolID     string      `json:"school_id"`
	Type         string      `json:"type"`
	TermID       string      `json:"term_id"`
	TeacherID    string      `json:"teacher_id"`
	RoomID       string      `json:"room_id"`
	InstrumentID string      `json:"instrument_id,omitempty"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Schedule     ScheduleDTO `json:"schedule"`
	MaxStudents  int         `json:"max_students"`
	IsRecurring  bool        `json:"is_recurring"`
	IsActive     bool        `json:"is_active"`
	CreatedAt    string      `json:"created_at"`
	UpdatedAt    string      `json:"updated_at"`
}

type PatternRequest struct {
	PatternType            string `json:"pattern_type" validate:"required,oneof=ALTERNATING CUSTOM"`
	GroupWeeks             []int  `json:"group_weeks" validate:"dive,gt=0"`
	IndividualWeeks        []int  `json:"individual_weeks" validate:"dive,gt=0"`
	IndividualSlotDuration int    `json:"individual_slot_duration" validate:"required,gt=0"`
	BookingDeadlineHours   int    `json:"booking_deadline_hours" validate:"gte=0"`
	BookingsOpen           bool   `json:"bookings_open"`
}

type PatternDTO struct {
	LessonID               string `json:"lesson_id"`
	TermID                 string `json:"term_id"`
	PatternType            string `json:"pattern_type"`
	GroupWeeks             []int  `json:"group_weeks"`
	IndividualWeeks        []int  `json:"individual_weeks"`
	IndividualSlotDuration int    `json:"individual_slot_duration"`
	BookingDeadlineHours   int    `json:"booking_deadline_hours"`
	BookingsOpen           bool   `json:"bookings_open"`
	UpdatedAt              string `json:"updated_at"`
}

type CreateLessonRequest struct {
	SchoolID      string          `json:"school_id"`
	TermID        string          `json:"term_id" validate:"required"`
	TeacherID     string          `json:"teacher_id" validate:"required"`
	RoomID        string          `json:"room_id" validate:"required"`
	InstrumentID  string          `json:"instrument_id"`
	Name          string          `json:"name" validate:"required"`
	Description   string          `json:"description"`
	Type          string          `json:"type" validate:"required,oneof=INDIVIDUAL GROUP BAND HYBRID"`
	DayOfWeek     int             `json:"day_of_week" validate:"min=0,max=6"`
	StartTime     string          `json:"start_time" validate:"required"`
	EndTime       string          `json:"end_time"`
	DurationMins  int             `json:"duration_mins" validate:"required,gt=0"`
	MaxStudents   int             `json:"max_students" validate:"gte=0"`
	IsRecurring   *bool           `json:"is_recurring"`
	HybridPattern *PatternRequest `json:"hybrid_pattern" validate:"omitempty"`
}

type UpdateLessonRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1"`
	Description  *string `json:"description"`
	InstrumentID *string `json:"instrument_id"`
	MaxStudents  *int    `json:"max_students" validate:"omitempty,gte=1"`
}

type AvailabilityResponse struct {
	Available         bool       `json:"available"`
	ConflictingLesson *LessonDTO `json:"conflicting_lesson,omitempty"`
}

type CapacityDTO struct {
	LessonID    string          `json:"lesson_id"`
	Current     int             `json:"current"`
	Max         int             `json:"max"`
	Available   int             `json:"available"`
	Utilization decimal.Decimal `json:"utilization_pct"`
}

// =============================================================================
// RESCHEDULE
// =============================================================================

type RescheduleLessonRequest struct {
	DayOfWeek     int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime     string `json:"start_time" validate:"required"`
	DurationMins  int    `json:"duration_mins" validate:"gte=0"`
	TeacherID     string `json:"teacher_id"`
	RoomID        string `json:"room_id"`
	NotifyParents bool   `json:"notify_parents"`
}

type RescheduleReportDTO struct {
	HasConflicts        bool            `json:"has_conflicts"`
	TeacherConflict     *LessonDTO      `json:"teacher_conflict,omitempty"`
	RoomConflict        *LessonDTO      `json:"room_conflict,omitempty"`
	AffectedStudents    int             `json:"affected_students"`
	AffectedEnrollments []EnrollmentDTO `json:"affected_enrollments"`
	AffectedBookings    []BookingDTO    `json:"affected_bookings"`
}

type RescheduleResultDTO struct {
	Lesson   LessonDTO           `json:"lesson"`
	Previous ScheduleDTO         `json:"previous_schedule"`
	Report   RescheduleReportDTO `json:"report"`
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

type EnrollmentDTO struct {
	LessonID     string  `json:"lesson_id"`
	StudentID    string  `json:"student_id"`
	IsActive     bool    `json:"is_active"`
	EnrolledAt   string  `json:"enrolled_at"`
	UnenrolledAt *string `json:"unenrolled_at,omitempty"`
}

type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

type BulkEnrollRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,required"`
}

type BulkEnrollResponse struct {
	Enrolled        []string    `json:"enrolled"`
	AlreadyEnrolled []string    `json:"already_enrolled"`
	Capacity        CapacityDTO `json:"capacity"`
}

// =============================================================================
// HYBRID SLOTS & BOOKINGS
// =============================================================================

type SlotDTO struct {
	WeekNumber int    `json:"week_number"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	StartsAt   string `json:"starts_at"`
	Deadline   string `json:"deadline"`
	Available  bool   `json:"available"`
	Reason     string `json:"reason,omitempty"`
}

type BookingDTO struct {
	ID                 string  `json:"id"`
	LessonID           string  `json:"lesson_id"`
	StudentID          string  `json:"student_id"`
	WeekNumber         int     `json:"week_number"`
	ScheduledDate      string  `json:"scheduled_date"`
	StartTime          string  `json:"start_time"`
	EndTime            string  `json:"end_time"`
	Status             string  `json:"status"`
	BookedAt           string  `json:"booked_at"`
	ConfirmedAt        *string `json:"confirmed_at,omitempty"`
	CancelledAt        *string `json:"cancelled_at,omitempty"`
	CompletedAt        *string `json:"completed_at,omitempty"`
	CancellationReason string  `json:"cancellation_reason,omitempty"`
}

type CreateBookingRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
}

type RescheduleBookingRequest struct {
	WeekNumber int    `json:"week_number" validate:"required,gte=1"`
	StartTime  string `json:"start_time" validate:"required"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type OutcomeRequest struct {
	Status string `json:"status" validate:"required,oneof=COMPLETED NO_SHOW"`
}

type UnbookedResponse struct {
	LessonID   string   `json:"lesson_id"`
	WeekNumber int      `json:"week_number"`
	StudentIDs []string `json:"student_ids"`
}

type ReminderDTO struct {
	StudentID     string `json:"student_id"`
	StudentName   string `json:"student_name"`
	ParentContact string `json:"parent_contact"`
	WeekNumber    int    `json:"week_number"`
	Deadline      string `json:"deadline"`
}

type RemindResponse struct {
	Sent      int           `json:"sent"`
	Reminders []ReminderDTO `json:"reminders"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the error body. Code is stable and meant for clients.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`

	// Set for schedule_conflict.
	ConflictingLesson *LessonDTO `json:"conflicting_lesson,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTermDTO(t core.Term) TermDTO {
	return TermDTO{
		ID:        string(t.ID),
		SchoolID:  string(t.SchoolID),
		Name:      t.Name,
		StartDate: core.FormatDate(t.StartDate),
		EndDate:   core.FormatDate(t.EndDate),
		Weeks:     t.Weeks(),
	}
}

func toScheduleDTO(s core.WeeklySchedule) ScheduleDTO {
	return ScheduleDTO{
		DayOfWeek:    s.DayOfWeek,
		DayName:      core.DayName(s.DayOfWeek),
		StartTime:    s.StartTime.String(),
		EndTime:      s.EndTime.String(),
		DurationMins: s.DurationMins,
	}
}

func toLessonDTO(l core.Lesson) LessonDTO {
	return LessonDTO{
		ID:           string(l.ID),
		SchoolID:     string(l.SchoolID),
		Type:         string(l.Type),
		TermID:       string(l.TermID),
		TeacherID:    string(l.TeacherID),
		RoomID:       string(l.RoomID),
		InstrumentID: l.InstrumentID,
		Name:         l.Name,
		Description:  l.Description,
		Schedule:     toScheduleDTO(l.Schedule),
		MaxStudents:  l.MaxStudents,
		IsRecurring:  l.IsRecurring,
		IsActive:     l.IsActive,
		CreatedAt:    l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    l.UpdatedAt.Format(time.RFC3339),
	}
}

func toLessonDTOPtr(l *core.Lesson) *LessonDTO {
	if l == nil {
		return nil
	}
	dto := toLessonDTO(*l)
	return &dto
}

func (p PatternRequest) definition() core.PatternDefinition {
	return core.PatternDefinition{
		PatternType:            core.PatternType(p.PatternType),
		GroupWeeks:             p.GroupWeeks,
		IndividualWeeks:        p.IndividualWeeks,
		IndividualSlotDuration: p.IndividualSlotDuration,
		BookingDeadlineHours:   p.BookingDeadlineHours,
		BookingsOpen:           p.BookingsOpen,
	}
}

func toPatternDTO(p core.HybridPattern) PatternDTO {
	return PatternDTO{
		LessonID:               string(p.LessonID),
		TermID:                 string(p.TermID),
		PatternType:            string(p.PatternType),
		GroupWeeks:             nonNilInts(p.GroupWeeks),
		IndividualWeeks:        nonNilInts(p.IndividualWeeks),
		IndividualSlotDuration: p.IndividualSlotDuration,
		BookingDeadlineHours:   p.BookingDeadlineHours,
		BookingsOpen:           p.BookingsOpen,
		UpdatedAt:              p.UpdatedAt.Format(time.RFC3339),
	}
}

func toCapacityDTO(c scheduling.CapacityInfo) CapacityDTO {
	return CapacityDTO{
		LessonID:    string(c.LessonID),
		Current:     c.Current,
		Max:         c.Max,
		Available:   c.Available,
		Utilization: c.Utilization,
	}
}

func toEnrollmentDTO(e core.Enrollment) EnrollmentDTO {
	return EnrollmentDTO{
		LessonID:     string(e.LessonID),
		StudentID:    string(e.StudentID),
		IsActive:     e.IsActive,
		EnrolledAt:   e.EnrolledAt.Format(time.RFC3339),
		UnenrolledAt: formatTimePtr(e.UnenrolledAt),
	}
}

func toEnrollmentDTOs(es []core.Enrollment) []EnrollmentDTO {
	dtos := make([]EnrollmentDTO, len(es))
	for i, e := range es {
		dtos[i] = toEnrollmentDTO(e)
	}
	return dtos
}

func toReportDTO(r scheduling.RescheduleReport) RescheduleReportDTO {
	return RescheduleReportDTO{
		HasConflicts:        r.HasConflicts,
		TeacherConflict:     toLessonDTOPtr(r.TeacherConflict),
		RoomConflict:        toLessonDTOPtr(r.RoomConflict),
		AffectedStudents:    r.AffectedStudents,
		AffectedEnrollments: toEnrollmentDTOs(r.AffectedEnrollments),
		AffectedBookings:    toBookingDTOs(r.AffectedBookings),
	}
}

func toSlotDTO(s hybrid.Slot) SlotDTO {
	return SlotDTO{
		WeekNumber: s.WeekNumber,
		Date:       core.FormatDate(s.Date),
		StartTime:  s.StartTime.String(),
		EndTime:    s.EndTime.String(),
		StartsAt:   s.StartsAt.Format(time.RFC3339),
		Deadline:   s.Deadline.Format(time.RFC3339),
		Available:  s.Available,
		Reason:     string(s.Reason),
	}
}

func toBookingDTO(b core.HybridBooking) BookingDTO {
	return BookingDTO{
		ID:                 string(b.ID),
		LessonID:           string(b.LessonID),
		StudentID:          string(b.StudentID),
		WeekNumber:         b.WeekNumber,
		ScheduledDate:      core.FormatDate(b.ScheduledDate),
		StartTime:          b.StartTime.String(),
		EndTime:            b.EndTime.String(),
		Status:             string(b.Status),
		BookedAt:           b.BookedAt.Format(time.RFC3339),
		ConfirmedAt:        formatTimePtr(b.ConfirmedAt),
		CancelledAt:        formatTimePtr(b.CancelledAt),
		CompletedAt:        formatTimePtr(b.CompletedAt),
		CancellationReason: b.CancellationReason,
	}
}

func toBookingDTOs(bs []core.HybridBooking) []BookingDTO {
	dtos := make([]BookingDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBookingDTO(b)
	}
	return dtos
}

func toReminderDTOs(rs []reminders.Reminder) []ReminderDTO {
	dtos := make([]ReminderDTO, len(rs))
	for i, r := range rs {
		dtos[i] = ReminderDTO{
			StudentID:     string(r.StudentID),
			StudentName:   r.StudentName,
			ParentContact: r.ParentContact,
			WeekNumber:    r.WeekNumber,
			Deadline:      r.Deadline.Format(time.RFC3339),
		}
	}
	return dtos
}

func studentIDStrings(ids []core.StudentID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

/*
Package hybrid implements the hybrid lesson pattern engine.

PURPOSE:
  A hybrid lesson alternates shared group weeks with weeks in which each
  enrolled student books a short individual slot carved out of the lesson's
  normal time block. This package owns the per-term pattern, slot
  generation and the booking lifecycle.

KEY CONCEPTS:
  Pattern:  which term weeks are group and which are individual
  Slot:     a fixed-length sub-interval of the lesson block in an individual week
  Booking:  one student's hold on one slot
  Deadline: BookingDeadlineHours before a slot's start; parents cannot book,
            move or cancel after it

GATING:
  BookingsOpen is a field of the pattern row and is read inside the same
  transaction as the booking write. Closing bookings never cancels bookings
  that already exist.

SEE ALSO:
  - slots.go: slot generation and availability marking
  - booking.go: create/reschedule/cancel/confirm/outcome
  - core/calendar.go: week number to date derivation
*/
package hybrid

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warp/lesson-engine/core"
)

// Engine runs hybrid pattern operations against a transactional store.
type Engine struct {
	Store    core.TxStore
	Clock    core.Clock
	Location *time.Location // school time zone; slot times are wall-clock here
	Logger   *slog.Logger
}

// NewEngine creates an engine using the system clock and UTC.
func NewEngine(store core.TxStore) *Engine {
	return &Engine{
		Store:    store,
		Clock:    core.RealClock(),
		Location: time.UTC,
		Logger:   slog.Default(),
	}
}

// Now is the engine clock, read at the moment of each write.
func (e *Engine) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Engine) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// =============================================================================
// PATTERN SHAPE
// =============================================================================

// AlternatingWeeks splits weeks 1..termWeeks into alternating group and
// individual weeks. With groupFirst, odd weeks are group weeks.
func AlternatingWeeks(termWeeks int, groupFirst bool) (group, individual []int) {
	for w := 1; w <= termWeeks; w++ {
		if (w%2 == 1) == groupFirst {
			group = append(group, w)
		} else {
			individual = append(individual, w)
		}
	}
	return group, individual
}

// ValidatePattern checks a definition against a term of termWeeks weeks:
// week lists are disjoint, free of duplicates and inside 1..termWeeks.
func ValidatePattern(def core.PatternDefinition, termWeeks int) error {
	switch def.PatternType {
	case core.PatternAlternating, core.PatternCustom:
	default:
		return core.Invalid("pattern_type", "unknown pattern type %q", def.PatternType)
	}
	if def.IndividualSlotDuration <= 0 {
		return core.Invalid("individual_slot_duration", "slot duration must be positive, got %d", def.IndividualSlotDuration)
	}
	if def.BookingDeadlineHours < 0 {
		return core.Invalid("booking_deadline_hours", "deadline cannot be negative, got %d", def.BookingDeadlineHours)
	}
	if len(def.GroupWeeks)+len(def.IndividualWeeks) == 0 {
		return core.Invalid("weeks", "pattern has no weeks")
	}

	seen := make(map[int]string, len(def.GroupWeeks)+len(def.IndividualWeeks))
	check := func(field string, weeks []int) error {
		for _, w := range weeks {
			if w < 1 || w > termWeeks {
				return core.Invalid(field, "week %d is outside the %d-week term", w, termWeeks)
			}
			if prev, dup := seen[w]; dup {
				if prev == field {
					return core.Invalid(field, "week %d is listed twice", w)
				}
				return core.Invalid(field, "week %d is both a group and an individual week", w)
			}
			seen[w] = field
		}
		return nil
	}
	if err := check("group_weeks", def.GroupWeeks); err != nil {
		return err
	}
	return check("individual_weeks", def.IndividualWeeks)
}

// NormalizePattern validates def and returns it with sorted week lists.
// An ALTERNATING definition without weeks is expanded from the term length.
func NormalizePattern(def core.PatternDefinition, termWeeks int) (core.PatternDefinition, error) {
	if def.PatternType == core.PatternAlternating && len(def.GroupWeeks) == 0 && len(def.IndividualWeeks) == 0 {
		def.GroupWeeks, def.IndividualWeeks = AlternatingWeeks(termWeeks, true)
	}
	if err := ValidatePattern(def, termWeeks); err != nil {
		return core.PatternDefinition{}, err
	}
	def.GroupWeeks = sortedCopy(def.GroupWeeks)
	def.IndividualWeeks = sortedCopy(def.IndividualWeeks)
	return def, nil
}

// CheckFitsLesson rejects a slot duration that leaves no slot in the block.
func CheckFitsLesson(def core.PatternDefinition, lessonDuration int) error {
	if def.IndividualSlotDuration > lessonDuration {
		return core.Invalid("individual_slot_duration",
			"slot of %d minutes does not fit the %d-minute lesson block", def.IndividualSlotDuration, lessonDuration)
	}
	return nil
}

func sortedCopy(weeks []int) []int {
	out := append([]int(nil), weeks...)
	sort.Ints(out)
	return out
}

// =============================================================================
// PATTERN OPERATIONS
// =============================================================================

// DefinePattern creates or replaces the pattern of a hybrid lesson for the
// lesson's term. Weeks that still hold live bookings cannot stop being
// individual weeks, and the slot duration is fixed while any live booking
// exists. A deactivated lesson cannot have its gate reopened.
func (e *Engine) DefinePattern(ctx context.Context, lessonID core.LessonID, def core.PatternDefinition) (*core.HybridPattern, error) {
	var saved core.HybridPattern

	err := e.Store.WithTx(ctx, func(st core.Store) error {
		lesson, err := hybridLesson(ctx, st, lessonID)
		if err != nil {
			return err
		}
		term, err := st.GetTerm(ctx, lesson.TermID)
		if err != nil {
			return err
		}
		norm, err := NormalizePattern(def, term.Weeks())
		if err != nil {
			return err
		}
		if err := CheckFitsLesson(norm, lesson.Schedule.DurationMins); err != nil {
			return err
		}
		if norm.BookingsOpen && !lesson.IsActive {
			return core.Invalid("bookings_open", "lesson %s is deactivated", lesson.ID)
		}

		live, err := st.ListBookings(ctx, core.BookingFilter{LessonID: lessonID, HoldingOnly: true})
		if err != nil {
			return err
		}
		candidate := core.HybridPattern{PatternDefinition: norm}
		for _, b := range live {
			if isLive(b.Status) && !candidate.IsIndividualWeek(b.WeekNumber) {
				return core.Invalid("individual_weeks",
					"week %d has live bookings and must stay an individual week", b.WeekNumber)
			}
			if isLive(b.Status) && int(b.EndTime-b.StartTime) != norm.IndividualSlotDuration {
				return core.Invalid("individual_slot_duration",
					"booking %s holds a %d-minute slot; cancel live bookings before changing the slot duration",
					bookingRef(b), int(b.EndTime-b.StartTime))
			}
		}

		saved = core.HybridPattern{
			LessonID:          lesson.ID,
			TermID:            lesson.TermID,
			PatternDefinition: norm,
			UpdatedAt:         e.Now(),
		}
		return st.SavePattern(ctx, saved)
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("hybrid pattern defined",
		"lesson_id", saved.LessonID, "term_id", saved.TermID,
		"individual_weeks", saved.IndividualWeeks, "bookings_open", saved.BookingsOpen)
	return &saved, nil
}

// GetPattern returns the pattern of a hybrid lesson for its term.
func (e *Engine) GetPattern(ctx context.Context, lessonID core.LessonID) (*core.HybridPattern, error) {
	lesson, err := e.Store.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	return e.Store.GetPattern(ctx, lesson.ID, lesson.TermID)
}

// OpenBookings lets parents book individual weeks.
func (e *Engine) OpenBookings(ctx context.Context, lessonID core.LessonID) error {
	return e.setBookingsOpen(ctx, lessonID, true)
}

// CloseBookings blocks new bookings. Existing bookings are kept.
func (e *Engine) CloseBookings(ctx context.Context, lessonID core.LessonID) error {
	return e.setBookingsOpen(ctx, lessonID, false)
}

func (e *Engine) setBookingsOpen(ctx context.Context, lessonID core.LessonID, open bool) error {
	err := e.Store.WithTx(ctx, func(st core.Store) error {
		lesson, err := hybridLesson(ctx, st, lessonID)
		if err != nil {
			return err
		}
		if open && !lesson.IsActive {
			return core.Invalid("lesson_id", "lesson %s is deactivated", lesson.ID)
		}
		return st.SetBookingsOpen(ctx, lesson.ID, lesson.TermID, open, e.Now())
	})
	if err != nil {
		return err
	}
	e.log().Info("hybrid bookings toggled", "lesson_id", lessonID, "open", open)
	return nil
}

// hybridLesson loads a lesson and checks it is a HYBRID lesson.
func hybridLesson(ctx context.Context, st core.Store, lessonID core.LessonID) (*core.Lesson, error) {
	lesson, err := st.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.Type != core.LessonHybrid {
		return nil, core.Invalid("lesson_id", "lesson %s is %s, not HYBRID", lesson.ID, lesson.Type)
	}
	return lesson, nil
}

// isLive reports whether a booking can still change: it is neither
// cancelled nor resolved by attendance.
func isLive(s core.BookingStatus) bool {
	return s == core.BookingPending || s == core.BookingConfirmed
}

func bookingRef(b core.HybridBooking) string {
	return fmt.Sprintf("%s week %d %s", b.ID, b.WeekNumber, b.StartTime)
}

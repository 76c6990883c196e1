/*
Package reminders computes which parents need a nudge and hands messages to
a notifier.

PURPOSE:
  For an individual week of a hybrid lesson, every actively enrolled student
  without a booking gets a reminder addressed to their parent, carrying the
  week's booking deadline. Reschedule notices for lesson moves go through
  the same notifier.

DELIVERY:
  Notifier implementations are fire-and-forget. A failed delivery is logged
  by the notifier and never retried by this package.

SEE ALSO:
  - trigger.go: RemindWeek
  - loop.go: periodic reminder scan
  - hybrid/booking.go: GetUnbookedStudents
*/
package reminders

import (
	"context"
	"log/slog"
	"time"

	"github.com/warp/lesson-engine/core"
)

// Reminder asks a parent to book an individual week.
type Reminder struct {
	LessonID      core.LessonID
	LessonName    string
	StudentID     core.StudentID
	StudentName   string
	ParentContact string
	WeekNumber    int
	Deadline      time.Time
}

// RescheduleNotice tells a parent a lesson has moved.
type RescheduleNotice struct {
	LessonID          core.LessonID
	LessonName        string
	StudentID         core.StudentID
	StudentName       string
	ParentContact     string
	From              core.WeeklySchedule
	To                core.WeeklySchedule
	CancelledBookings int // individual bookings of this student released by the move
}

// Notifier delivers messages to parents.
type Notifier interface {
	SendReminders(ctx context.Context, reminders []Reminder)
	SendRescheduleNotices(ctx context.Context, notices []RescheduleNotice)
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier writes one structured log record per message. It stands in
// for a mail/SMS gateway.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) SendReminders(ctx context.Context, reminders []Reminder) {
	for _, r := range reminders {
		n.Logger.InfoContext(ctx, "booking reminder",
			"to", r.ParentContact,
			"student", r.StudentName,
			"lesson_id", r.LessonID,
			"lesson", r.LessonName,
			"week", r.WeekNumber,
			"deadline", r.Deadline.Format(time.RFC3339),
		)
	}
}

func (n *LogNotifier) SendRescheduleNotices(ctx context.Context, notices []RescheduleNotice) {
	for _, m := range notices {
		n.Logger.InfoContext(ctx, "lesson rescheduled notice",
			"to", m.ParentContact,
			"student", m.StudentName,
			"lesson_id", m.LessonID,
			"lesson", m.LessonName,
			"from", scheduleString(m.From),
			"to_schedule", scheduleString(m.To),
			"cancelled_bookings", m.CancelledBookings,
		)
	}
}

func scheduleString(s core.WeeklySchedule) string {
	return core.DayName(s.DayOfWeek) + " " + s.StartTime.String() + "-" + s.EndTime.String()
}

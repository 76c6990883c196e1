package reminders

import (
	"context"
	"log/slog"

	"github.com/warp/lesson-engine/core"
	"github.com/warp/lesson-engine/hybrid"
)

// Trigger builds and sends the reminders of one individual week.
type Trigger struct {
	Engine   *hybrid.Engine
	Store    core.Store
	Notifier Notifier
	Logger   *slog.Logger
}

// NewTrigger creates a trigger reading through the engine's store and clock.
func NewTrigger(engine *hybrid.Engine, notifier Notifier) *Trigger {
	return &Trigger{
		Engine:   engine,
		Store:    engine.Store,
		Notifier: notifier,
		Logger:   slog.Default(),
	}
}

// RemindWeek sends a reminder to the parent of every enrolled student with
// no booking for the week. Nothing is sent while bookings are closed or once
// the week's last slot deadline has passed. It returns what was sent.
func (t *Trigger) RemindWeek(ctx context.Context, lessonID core.LessonID, weekNumber int) ([]Reminder, error) {
	status, err := t.Engine.GetWeekStatus(ctx, lessonID, weekNumber)
	if err != nil {
		return nil, err
	}
	if !status.BookingsOpen {
		t.Logger.Debug("reminders skipped, bookings closed", "lesson_id", lessonID, "week", weekNumber)
		return nil, nil
	}
	if t.Engine.Now().After(status.Deadline) {
		t.Logger.Debug("reminders skipped, deadline passed", "lesson_id", lessonID, "week", weekNumber)
		return nil, nil
	}

	unbooked, err := t.Engine.GetUnbookedStudents(ctx, lessonID, weekNumber)
	if err != nil {
		return nil, err
	}
	if len(unbooked) == 0 {
		return nil, nil
	}

	lesson, err := t.Store.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	students, err := t.Store.GetStudents(ctx, unbooked)
	if err != nil {
		return nil, err
	}
	byID := make(map[core.StudentID]core.Student, len(students))
	for _, s := range students {
		byID[s.ID] = s
	}

	reminders := make([]Reminder, 0, len(unbooked))
	for _, id := range unbooked {
		s, ok := byID[id]
		if !ok || s.ParentContact == "" {
			t.Logger.Warn("no parent contact for unbooked student", "student_id", id, "lesson_id", lessonID)
			continue
		}
		reminders = append(reminders, Reminder{
			LessonID:      lesson.ID,
			LessonName:    lesson.Name,
			StudentID:     s.ID,
			StudentName:   s.Name,
			ParentContact: s.ParentContact,
			WeekNumber:    weekNumber,
			Deadline:      status.Deadline,
		})
	}

	if len(reminders) > 0 && t.Notifier != nil {
		t.Notifier.SendReminders(ctx, reminders)
	}
	t.Logger.Info("booking reminders sent", "lesson_id", lessonID, "week", weekNumber, "count", len(reminders))
	return reminders, nil
}

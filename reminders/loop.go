/*
loop.go - Periodic booking reminder scan

PURPOSE:
  Periodically looks at every active hybrid lesson with open bookings and
  sends reminders for individual weeks whose deadline is one of the
  configured offsets away.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - A reminder for (week, offset) fires on the tick whose window
    [tick, tick+interval) contains deadline - offset, so each offset fires
    once per week as long as ticks are not skipped
  - Errors on one lesson are logged and the scan moves on

CONFIGURATION:
  - Interval: How often to check (default: 15 minutes)
  - Offsets:  How long before the deadline to remind (default: 48h, 24h)

USAGE:
  loop := reminders.NewLoop(trigger, store)
  loop.Start()
  // ... later
  loop.Stop()

SEE ALSO:
  - trigger.go: RemindWeek
  - config/config.go: LESSONS_REMINDER_OFFSETS, LESSONS_REMINDER_INTERVAL
*/
package reminders

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/lesson-engine/core"
)

// DefaultOffsets remind two days and one day before a week's deadline.
var DefaultOffsets = []time.Duration{48 * time.Hour, 24 * time.Hour}

// Loop drives the Trigger on a ticker.
type Loop struct {
	Trigger  *Trigger
	Lessons  core.LessonStore
	Interval time.Duration
	Offsets  []time.Duration
	Logger   *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewLoop creates a loop with the default interval and offsets.
func NewLoop(trigger *Trigger, lessons core.LessonStore) *Loop {
	return &Loop{
		Trigger:  trigger,
		Lessons:  lessons,
		Interval: 15 * time.Minute,
		Offsets:  DefaultOffsets,
		Logger:   slog.Default(),
	}
}

// Start begins the loop. Starting a running loop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ticker != nil {
		return
	}
	l.ticker = time.NewTicker(l.Interval)
	l.stop = make(chan struct{})
	l.wg.Add(1)

	go l.run(l.ticker, l.stop)

	l.Logger.Info("reminder loop started", "interval", l.Interval.String(), "offsets", len(l.Offsets))
}

// Stop stops the loop and waits for an in-flight scan to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ticker == nil {
		return
	}
	l.ticker.Stop()
	close(l.stop)
	l.wg.Wait()
	l.ticker = nil
	l.Logger.Info("reminder loop stopped")
}

func (l *Loop) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer l.wg.Done()

	for {
		select {
		case <-ticker.C:
			l.RunOnce(context.Background(), l.Trigger.Engine.Now())
		case <-stop:
			return
		}
	}
}

// RunOnce scans all lessons for reminders due in [tick, tick+Interval) and
// returns how many reminders were sent.
func (l *Loop) RunOnce(ctx context.Context, tick time.Time) int {
	lessons, err := l.Lessons.ListLessons(ctx, core.LessonFilter{Type: core.LessonHybrid, ActiveOnly: true})
	if err != nil {
		l.Logger.Error("reminder scan failed to list lessons", "error", err)
		return 0
	}

	windowEnd := tick.Add(l.Interval)
	sent := 0
	for _, lesson := range lessons {
		pattern, err := l.Trigger.Engine.GetPattern(ctx, lesson.ID)
		if err != nil {
			if !core.IsNotFound(err) {
				l.Logger.Error("reminder scan failed to load pattern", "lesson_id", lesson.ID, "error", err)
			}
			continue
		}
		if !pattern.BookingsOpen {
			continue
		}

		for _, week := range pattern.IndividualWeeks {
			status, err := l.Trigger.Engine.GetWeekStatus(ctx, lesson.ID, week)
			if err != nil {
				l.Logger.Error("reminder scan failed to load week", "lesson_id", lesson.ID, "week", week, "error", err)
				continue
			}
			if !l.due(status.Deadline, tick, windowEnd) {
				continue
			}
			reminders, err := l.Trigger.RemindWeek(ctx, lesson.ID, week)
			if err != nil {
				l.Logger.Error("reminder scan failed to send", "lesson_id", lesson.ID, "week", week, "error", err)
				continue
			}
			sent += len(reminders)
		}
	}
	return sent
}

// due reports whether any offset before deadline falls in [from, to).
func (l *Loop) due(deadline, from, to time.Time) bool {
	for _, off := range l.Offsets {
		fire := deadline.Add(-off)
		if !fire.Before(from) && fire.Before(to) {
			return true
		}
	}
	return false
}

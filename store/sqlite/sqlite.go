/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements core.TxStore using SQLite. The same schema and queries apply to
  PostgreSQL with minor dialect changes (upsert syntax is shared).

INTERFACES IMPLEMENTED:
  core.TermStore, core.LessonStore, core.EnrollmentStore,
  core.PatternStore, core.BookingStore, core.StudentDirectory, core.TxStore

KEY TABLES:
  terms:            term calendar spans
  lessons:          weekly lessons (soft-deleted via is_active)
  enrollments:      (lesson, student) membership, soft-removed
  hybrid_patterns:  one pattern per (lesson, term)
  hybrid_bookings:  per-student per-week slot bookings
  students:         directory used to address reminders

INDEXES:
  Critical indexes:
  - idx_lessons_room_day / idx_lessons_teacher_day: availability scans (hot path)
  - idx_unique_booking_slot: one non-cancelled booking per (lesson, week, start)
  - idx_unique_booking_student_week: one non-cancelled booking per (lesson, student, week)
  - idx_enrollments_lesson_active: capacity counts

CONCURRENCY:
  The pool is capped at one connection, so SQLite sees a single writer and
  every transaction is serialized. WithTx additionally holds a mutex for
  the whole callback. Code running inside WithTx must use the Store it is
  handed; calling back into the outer Store would wait for the connection
  the transaction already holds.

  Capacity is enforced by a conditional upsert (INSERT ... SELECT ... WHERE
  count < max), slot uniqueness by partial UNIQUE indexes, so the database
  stays the authority even if a caller skips the service-level checks.

USAGE:
  store, err := sqlite.New("./data/lessons.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - core/store.go: Interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/lesson-engine/core"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var _ core.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps a ":memory:" database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS terms (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Lessons (never deleted; is_active = 0 is the soft delete)
	CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		lesson_type TEXT NOT NULL,
		term_id TEXT NOT NULL,
		teacher_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		instrument_id TEXT,
		name TEXT NOT NULL,
		description TEXT,
		day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		duration_mins INTEGER NOT NULL,
		max_students INTEGER NOT NULL CHECK (max_students >= 1),
		is_recurring BOOLEAN NOT NULL DEFAULT TRUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (end_min = start_min + duration_mins)
	);

	CREATE INDEX IF NOT EXISTS idx_lessons_room_day
		ON lessons(room_id, day_of_week) WHERE is_active = 1;
	CREATE INDEX IF NOT EXISTS idx_lessons_teacher_day
		ON lessons(teacher_id, day_of_week) WHERE is_active = 1;
	CREATE INDEX IF NOT EXISTS idx_lessons_school_term
		ON lessons(school_id, term_id);

	-- Enrollments (unique per lesson+student, reactivated on re-enroll)
	CREATE TABLE IF NOT EXISTS enrollments (
		lesson_id TEXT NOT NULL REFERENCES lessons(id),
		student_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		enrolled_at TEXT NOT NULL,
		unenrolled_at TEXT,
		PRIMARY KEY (lesson_id, student_id)
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_lesson_active
		ON enrollments(lesson_id) WHERE is_active = 1;

	-- Hybrid patterns (one per lesson+term)
	CREATE TABLE IF NOT EXISTS hybrid_patterns (
		lesson_id TEXT NOT NULL REFERENCES lessons(id),
		term_id TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		group_weeks_json TEXT NOT NULL,
		individual_weeks_json TEXT NOT NULL,
		slot_duration_mins INTEGER NOT NULL CHECK (slot_duration_mins > 0),
		deadline_hours INTEGER NOT NULL CHECK (deadline_hours >= 0),
		bookings_open BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (lesson_id, term_id)
	);

	-- Hybrid bookings
	CREATE TABLE IF NOT EXISTS hybrid_bookings (
		id TEXT PRIMARY KEY,
		lesson_id TEXT NOT NULL REFERENCES lessons(id),
		student_id TEXT NOT NULL,
		week_number INTEGER NOT NULL CHECK (week_number >= 1),
		scheduled_date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		status TEXT NOT NULL,
		booked_at TEXT NOT NULL,
		confirmed_at TEXT,
		cancelled_at TEXT,
		completed_at TEXT,
		cancellation_reason TEXT
	);

	-- CRITICAL: a slot hosts one student; cancelled bookings release it.
	-- Partial overlaps between grids are rejected by the engine inside WithTx.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_booking_slot
		ON hybrid_bookings(lesson_id, week_number, start_min)
		WHERE status <> 'CANCELLED';

	-- CRITICAL: one booking per student per individual week
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_booking_student_week
		ON hybrid_bookings(lesson_id, student_id, week_number)
		WHERE status <> 'CANCELLED';

	-- Cross-lesson overlap checks (same teacher or room on a date)
	CREATE INDEX IF NOT EXISTS idx_bookings_date
		ON hybrid_bookings(scheduled_date) WHERE status <> 'CANCELLED';

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		parent_name TEXT,
		parent_contact TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset clears every table. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM hybrid_bookings;
		DELETE FROM hybrid_patterns;
		DELETE FROM enrollments;
		DELETE FROM lessons;
		DELETE FROM terms;
		DELETE FROM students;
	`)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (core.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the view handed to WithTx callbacks; every query runs on the tx.
type txStore struct {
	queries
}

var _ core.Store = (*txStore)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// =============================================================================
// TERMS
// =============================================================================

func (r queries) SaveTerm(ctx context.Context, t core.Term) error {
	query := `
		INSERT INTO terms (id, school_id, name, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			school_id = excluded.school_id,
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`
	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.SchoolID, t.Name,
		core.FormatDate(t.StartDate), core.FormatDate(t.EndDate),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save term: %w", err)
	}
	return nil
}

func (r queries) GetTerm(ctx context.Context, id core.TermID) (*core.Term, error) {
	var t core.Term
	var start, end string
	err := r.q.QueryRowContext(ctx,
		"SELECT id, school_id, name, start_date, end_date FROM terms WHERE id = ?", id,
	).Scan(&t.ID, &t.SchoolID, &t.Name, &start, &end)
	if err == sql.ErrNoRows {
		return nil, core.NotFound("term", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get term: %w", err)
	}
	// A malformed stored date is corruption, not a client validation error.
	if t.StartDate, err = core.ParseDate(start); err != nil {
		return nil, fmt.Errorf("failed to decode term start date %q", start)
	}
	if t.EndDate, err = core.ParseDate(end); err != nil {
		return nil, fmt.Errorf("failed to decode term end date %q", end)
	}
	return &t, nil
}

// =============================================================================
// LESSONS
// =============================================================================

const lessonColumns = `id, school_id, lesson_type, term_id, teacher_id, room_id, instrument_id,
	name, description, day_of_week, start_min, end_min, duration_mins, max_students,
	is_recurring, is_active, created_at, updated_at`

func (r queries) SaveLesson(ctx context.Context, l core.Lesson) error {
	query := `
		INSERT INTO lessons (` + lessonColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			school_id = excluded.school_id,
			lesson_type = excluded.lesson_type,
			term_id = excluded.term_id,
			teacher_id = excluded.teacher_id,
			room_id = excluded.room_id,
			instrument_id = excluded.instrument_id,
			name = excluded.name,
			description = excluded.description,
			day_of_week = excluded.day_of_week,
			start_min = excluded.start_min,
			end_min = excluded.end_min,
			duration_mins = excluded.duration_mins,
			max_students = excluded.max_students,
			is_recurring = excluded.is_recurring,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := r.q.ExecContext(ctx, query,
		l.ID, l.SchoolID, l.Type, l.TermID, l.TeacherID, l.RoomID,
		nullString(l.InstrumentID), l.Name, nullString(l.Description),
		l.Schedule.DayOfWeek, int(l.Schedule.StartTime), int(l.Schedule.EndTime),
		l.Schedule.DurationMins, l.MaxStudents, l.IsRecurring, l.IsActive,
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save lesson: %w", err)
	}
	return nil
}

func (r queries) GetLesson(ctx context.Context, id core.LessonID) (*core.Lesson, error) {
	lessons, err := r.queryLessons(ctx, "SELECT "+lessonColumns+" FROM lessons WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(lessons) == 0 {
		return nil, core.NotFound("lesson", string(id))
	}
	return &lessons[0], nil
}

func (r queries) ListLessons(ctx context.Context, f core.LessonFilter) ([]core.Lesson, error) {
	var where []string
	var args []any
	if f.SchoolID != "" {
		where = append(where, "school_id = ?")
		args = append(args, f.SchoolID)
	}
	if f.TermID != "" {
		where = append(where, "term_id = ?")
		args = append(args, f.TermID)
	}
	if f.Type != "" {
		where = append(where, "lesson_type = ?")
		args = append(args, f.Type)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := "SELECT " + lessonColumns + " FROM lessons"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY day_of_week, start_min, id"
	return r.queryLessons(ctx, query, args...)
}

func (r queries) ActiveLessonsOn(ctx context.Context, res core.Resource, dayOfWeek int, termID core.TermID) ([]core.Lesson, error) {
	var column string
	switch res.Kind {
	case core.ResourceRoom:
		column = "room_id"
	case core.ResourceTeacher:
		column = "teacher_id"
	default:
		return nil, core.Invalid("resource_type", "unknown resource type %q", res.Kind)
	}

	query := "SELECT " + lessonColumns + " FROM lessons WHERE " + column +
		" = ? AND day_of_week = ? AND is_active = 1"
	args := []any{res.ID, dayOfWeek}
	if termID != "" {
		query += " AND term_id = ?"
		args = append(args, termID)
	}
	query += " ORDER BY start_min, id"
	return r.queryLessons(ctx, query, args...)
}

func (r queries) queryLessons(ctx context.Context, query string, args ...any) ([]core.Lesson, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	var lessons []core.Lesson
	for rows.Next() {
		var (
			l                    core.Lesson
			instrument, desc     sql.NullString
			startMin, endMin     int
			createdAt, updatedAt string
		)
		err := rows.Scan(
			&l.ID, &l.SchoolID, &l.Type, &l.TermID, &l.TeacherID, &l.RoomID, &instrument,
			&l.Name, &desc, &l.Schedule.DayOfWeek, &startMin, &endMin, &l.Schedule.DurationMins,
			&l.MaxStudents, &l.IsRecurring, &l.IsActive, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		l.InstrumentID = instrument.String
		l.Description = desc.String
		l.Schedule.StartTime = core.TimeOfDay(startMin)
		l.Schedule.EndTime = core.TimeOfDay(endMin)
		l.CreatedAt = parseTime(createdAt)
		l.UpdatedAt = parseTime(updatedAt)
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

// ActivateEnrollment is the capacity-guarded write. The count and the insert
// are one statement, so no interleaving can push the lesson past max.
func (r queries) ActivateEnrollment(ctx context.Context, e core.Enrollment, maxStudents int) error {
	query := `
		INSERT INTO enrollments (lesson_id, student_id, is_active, enrolled_at, unenrolled_at)
		SELECT ?, ?, 1, ?, NULL
		WHERE (SELECT COUNT(*) FROM enrollments WHERE lesson_id = ? AND is_active = 1) < ?
		ON CONFLICT(lesson_id, student_id) DO UPDATE SET
			is_active = 1,
			enrolled_at = excluded.enrolled_at,
			unenrolled_at = NULL
		WHERE enrollments.is_active = 0
	`
	res, err := r.q.ExecContext(ctx, query,
		e.LessonID, e.StudentID, formatTime(e.EnrolledAt), e.LessonID, maxStudents)
	if err != nil {
		return fmt.Errorf("failed to enroll: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to enroll: %w", err)
	}
	if n > 0 {
		return nil
	}

	enrolled, err := r.IsEnrolled(ctx, e.LessonID, e.StudentID)
	if err != nil {
		return err
	}
	if enrolled {
		return core.ErrAlreadyEnrolled
	}
	current, err := r.CountActiveEnrollments(ctx, e.LessonID)
	if err != nil {
		return err
	}
	return &core.CapacityError{LessonID: e.LessonID, Current: current, Max: maxStudents, Requested: 1}
}

func (r queries) DeactivateEnrollment(ctx context.Context, lessonID core.LessonID, studentID core.StudentID, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE enrollments SET is_active = 0, unenrolled_at = ?
		WHERE lesson_id = ? AND student_id = ? AND is_active = 1
	`, formatTime(at), lessonID, studentID)
	if err != nil {
		return fmt.Errorf("failed to unenroll: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to unenroll: %w", err)
	}
	if n == 0 {
		return core.NotFound("enrollment", string(lessonID)+"/"+string(studentID))
	}
	return nil
}

func (r queries) DeactivateLessonEnrollments(ctx context.Context, lessonID core.LessonID, at time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE enrollments SET is_active = 0, unenrolled_at = ?
		WHERE lesson_id = ? AND is_active = 1
	`, formatTime(at), lessonID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate enrollments: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r queries) IsEnrolled(ctx context.Context, lessonID core.LessonID, studentID core.StudentID) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrollments WHERE lesson_id = ? AND student_id = ? AND is_active = 1",
		lessonID, studentID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return count > 0, nil
}

func (r queries) CountActiveEnrollments(ctx context.Context, lessonID core.LessonID) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrollments WHERE lesson_id = ? AND is_active = 1", lessonID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollments: %w", err)
	}
	return count, nil
}

func (r queries) ListActiveEnrollments(ctx context.Context, lessonID core.LessonID) ([]core.Enrollment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT lesson_id, student_id, is_active, enrolled_at, unenrolled_at
		FROM enrollments WHERE lesson_id = ? AND is_active = 1
		ORDER BY enrolled_at, student_id
	`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var out []core.Enrollment
	for rows.Next() {
		var e core.Enrollment
		var enrolledAt string
		var unenrolledAt sql.NullString
		if err := rows.Scan(&e.LessonID, &e.StudentID, &e.IsActive, &enrolledAt, &unenrolledAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		e.EnrolledAt = parseTime(enrolledAt)
		e.UnenrolledAt = parseNullTime(unenrolledAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HYBRID PATTERNS
// =============================================================================

func (r queries) SavePattern(ctx context.Context, p core.HybridPattern) error {
	groupJSON, _ := json.Marshal(nonNil(p.GroupWeeks))
	individualJSON, _ := json.Marshal(nonNil(p.IndividualWeeks))

	query := `
		INSERT INTO hybrid_patterns (lesson_id, term_id, pattern_type, group_weeks_json,
			individual_weeks_json, slot_duration_mins, deadline_hours, bookings_open, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lesson_id, term_id) DO UPDATE SET
			pattern_type = excluded.pattern_type,
			group_weeks_json = excluded.group_weeks_json,
			individual_weeks_json = excluded.individual_weeks_json,
			slot_duration_mins = excluded.slot_duration_mins,
			deadline_hours = excluded.deadline_hours,
			bookings_open = excluded.bookings_open,
			updated_at = excluded.updated_at
	`
	_, err := r.q.ExecContext(ctx, query,
		p.LessonID, p.TermID, p.PatternType, string(groupJSON), string(individualJSON),
		p.IndividualSlotDuration, p.BookingDeadlineHours, p.BookingsOpen, formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

func (r queries) GetPattern(ctx context.Context, lessonID core.LessonID, termID core.TermID) (*core.HybridPattern, error) {
	var (
		p                         core.HybridPattern
		groupJSON, individualJSON string
		updatedAt                 string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT lesson_id, term_id, pattern_type, group_weeks_json, individual_weeks_json,
		       slot_duration_mins, deadline_hours, bookings_open, updated_at
		FROM hybrid_patterns WHERE lesson_id = ? AND term_id = ?
	`, lessonID, termID).Scan(
		&p.LessonID, &p.TermID, &p.PatternType, &groupJSON, &individualJSON,
		&p.IndividualSlotDuration, &p.BookingDeadlineHours, &p.BookingsOpen, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.NotFound("pattern", string(lessonID)+"/"+string(termID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	if err := json.Unmarshal([]byte(groupJSON), &p.GroupWeeks); err != nil {
		return nil, fmt.Errorf("failed to decode group weeks: %w", err)
	}
	if err := json.Unmarshal([]byte(individualJSON), &p.IndividualWeeks); err != nil {
		return nil, fmt.Errorf("failed to decode individual weeks: %w", err)
	}
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (r queries) SetBookingsOpen(ctx context.Context, lessonID core.LessonID, termID core.TermID, open bool, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE hybrid_patterns SET bookings_open = ?, updated_at = ? WHERE lesson_id = ? AND term_id = ?",
		open, formatTime(at), lessonID, termID)
	if err != nil {
		return fmt.Errorf("failed to toggle bookings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to toggle bookings: %w", err)
	}
	if n == 0 {
		return core.NotFound("pattern", string(lessonID)+"/"+string(termID))
	}
	return nil
}

// =============================================================================
// HYBRID BOOKINGS
// =============================================================================

const bookingColumns = `b.id, b.lesson_id, b.student_id, b.week_number, b.scheduled_date,
	b.start_min, b.end_min, b.status, b.booked_at, b.confirmed_at, b.cancelled_at,
	b.completed_at, b.cancellation_reason`

func (r queries) InsertBooking(ctx context.Context, b core.HybridBooking) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO hybrid_bookings (id, lesson_id, student_id, week_number, scheduled_date,
			start_min, end_min, status, booked_at, confirmed_at, cancelled_at, completed_at,
			cancellation_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.LessonID, b.StudentID, b.WeekNumber, core.FormatDate(b.ScheduledDate),
		int(b.StartTime), int(b.EndTime), b.Status, formatTime(b.BookedAt),
		formatNullTime(b.ConfirmedAt), formatNullTime(b.CancelledAt), formatNullTime(b.CompletedAt),
		nullString(b.CancellationReason),
	)
	if err != nil {
		return bookingWriteError("insert", err)
	}
	return nil
}

func (r queries) UpdateBooking(ctx context.Context, b core.HybridBooking) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE hybrid_bookings SET
			week_number = ?, scheduled_date = ?, start_min = ?, end_min = ?, status = ?,
			confirmed_at = ?, cancelled_at = ?, completed_at = ?, cancellation_reason = ?
		WHERE id = ?
	`,
		b.WeekNumber, core.FormatDate(b.ScheduledDate), int(b.StartTime), int(b.EndTime), b.Status,
		formatNullTime(b.ConfirmedAt), formatNullTime(b.CancelledAt), formatNullTime(b.CompletedAt),
		nullString(b.CancellationReason), b.ID,
	)
	if err != nil {
		return bookingWriteError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if n == 0 {
		return core.NotFound("booking", string(b.ID))
	}
	return nil
}

func (r queries) GetBooking(ctx context.Context, id core.BookingID) (*core.HybridBooking, error) {
	bookings, err := r.queryBookings(ctx, "SELECT "+bookingColumns+" FROM hybrid_bookings b WHERE b.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, core.NotFound("booking", string(id))
	}
	return &bookings[0], nil
}

func (r queries) ListBookings(ctx context.Context, f core.BookingFilter) ([]core.HybridBooking, error) {
	var where []string
	var args []any
	if f.LessonID != "" {
		where = append(where, "b.lesson_id = ?")
		args = append(args, f.LessonID)
	}
	if f.StudentID != "" {
		where = append(where, "b.student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.WeekNumber > 0 {
		where = append(where, "b.week_number = ?")
		args = append(args, f.WeekNumber)
	}
	if f.HoldingOnly {
		where = append(where, "b.status <> 'CANCELLED'")
	}
	if f.FromDate != nil {
		where = append(where, "b.scheduled_date >= ?")
		args = append(args, core.FormatDate(*f.FromDate))
	}

	query := "SELECT " + bookingColumns + " FROM hybrid_bookings b"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.scheduled_date, b.start_min, b.id"
	return r.queryBookings(ctx, query, args...)
}

func (r queries) HoldingBookingsOnDate(ctx context.Context, date time.Time, teacher core.TeacherID, room core.RoomID) ([]core.HybridBooking, error) {
	query := "SELECT " + bookingColumns + `
		FROM hybrid_bookings b
		JOIN lessons l ON l.id = b.lesson_id
		WHERE b.scheduled_date = ? AND b.status <> 'CANCELLED'
		  AND (l.teacher_id = ? OR l.room_id = ?)
		ORDER BY b.start_min, b.id
	`
	return r.queryBookings(ctx, query, core.FormatDate(date), teacher, room)
}

func (r queries) queryBookings(ctx context.Context, query string, args ...any) ([]core.HybridBooking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []core.HybridBooking
	for rows.Next() {
		var (
			b                                core.HybridBooking
			date, bookedAt                   string
			startMin, endMin                 int
			confirmedAt, cancelledAt, doneAt sql.NullString
			reason                           sql.NullString
		)
		err := rows.Scan(
			&b.ID, &b.LessonID, &b.StudentID, &b.WeekNumber, &date,
			&startMin, &endMin, &b.Status, &bookedAt, &confirmedAt, &cancelledAt,
			&doneAt, &reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		if b.ScheduledDate, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("failed to decode date %q of booking %s", date, b.ID)
		}
		b.StartTime = core.TimeOfDay(startMin)
		b.EndTime = core.TimeOfDay(endMin)
		b.BookedAt = parseTime(bookedAt)
		b.ConfirmedAt = parseNullTime(confirmedAt)
		b.CancelledAt = parseNullTime(cancelledAt)
		b.CompletedAt = parseNullTime(doneAt)
		b.CancellationReason = reason.String
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// bookingWriteError maps the partial unique indexes onto domain errors.
// SQLite reports the indexed columns, not the index name, for column indexes.
func bookingWriteError(op string, err error) error {
	if isUniqueConstraintError(err) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "hybrid_bookings.start_min"),
			strings.Contains(msg, "idx_unique_booking_slot"):
			return core.ErrSlotUnavailable
		case strings.Contains(msg, "hybrid_bookings.student_id"),
			strings.Contains(msg, "idx_unique_booking_student_week"):
			return core.ErrDuplicateBooking
		}
	}
	return fmt.Errorf("failed to %s booking: %w", op, err)
}

// =============================================================================
// STUDENT DIRECTORY
// =============================================================================

func (r queries) SaveStudent(ctx context.Context, st core.Student) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO students (id, name, parent_name, parent_contact)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			parent_name = excluded.parent_name,
			parent_contact = excluded.parent_contact
	`, st.ID, st.Name, nullString(st.ParentName), nullString(st.ParentContact))
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

func (r queries) GetStudents(ctx context.Context, ids []core.StudentID) ([]core.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.q.QueryContext(ctx,
		"SELECT id, name, parent_name, parent_contact FROM students WHERE id IN ("+placeholders+") ORDER BY id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get students: %w", err)
	}
	defer rows.Close()

	var out []core.Student
	for rows.Next() {
		var st core.Student
		var parentName, parentContact sql.NullString
		if err := rows.Scan(&st.ID, &st.Name, &parentName, &parentContact); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		st.ParentName = parentName.String
		st.ParentContact = parentContact.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nonNil(weeks []int) []int {
	if weeks == nil {
		return []int{}
	}
	return weeks
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

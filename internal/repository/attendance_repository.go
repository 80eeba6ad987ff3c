package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acadly/remedial-api/internal/models"
)

// AttendanceRepository persists immutable attendance records. The unique
// (session_id, student_id) constraint is the authoritative guard against
// double-marking; duplicate inserts surface as ErrDuplicateAttendance.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// CreateRedemption inserts a code-redemption record guarded by the session's
// current code and active flag. If the session was deactivated or its code
// regenerated after the caller resolved it, the insert matches no row and
// ErrStaleSession is returned so the caller can re-evaluate.
func (r *AttendanceRepository) CreateRedemption(ctx context.Context, record *models.AttendanceRecord, expectCode string) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.MarkedAt.IsZero() {
		record.MarkedAt = time.Now().UTC()
	}

	const query = `INSERT INTO attendance_records (id, session_id, student_id, method, marked_at, ip_address)
        SELECT $1, s.id, $2, $3, $4, $5
        FROM sessions s
        WHERE s.id = $6 AND s.code = $7 AND s.is_active AND NOT s.is_completed`
	res, err := r.db.ExecContext(ctx, query,
		record.ID, record.StudentID, record.Method, record.MarkedAt, nullableString(record.IPAddress),
		record.SessionID, expectCode)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAttendance
		}
		return fmt.Errorf("insert redemption: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("redemption rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleSession
	}
	return nil
}

// Create inserts a record without the code guard, used for manual marking by
// the owning faculty. The uniqueness constraint still applies.
func (r *AttendanceRepository) Create(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.MarkedAt.IsZero() {
		record.MarkedAt = time.Now().UTC()
	}

	const query = `INSERT INTO attendance_records (id, session_id, student_id, method, marked_at, ip_address)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.SessionID, record.StudentID, record.Method, record.MarkedAt, nullableString(record.IPAddress)); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAttendance
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// ExistsBySessionStudent reports whether a record already exists for the
// pair. Used as a pre-check; the constraint remains the final word.
func (r *AttendanceRepository) ExistsBySessionStudent(ctx context.Context, sessionID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM attendance_records WHERE session_id = $1 AND student_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, sessionID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check attendance existence: %w", err)
	}
	return true, nil
}

// ListBySession returns the attendance sheet for one session.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceDetail, error) {
	const query = `SELECT a.id, a.session_id, a.student_id, a.method, a.marked_at, COALESCE(a.ip_address, '') AS ip_address,
        u.full_name AS student_name, s.title AS session_title, c.code AS course_code
        FROM attendance_records a
        JOIN users u ON u.id = a.student_id
        JOIN sessions s ON s.id = a.session_id
        JOIN courses c ON c.id = s.course_id
        WHERE a.session_id = $1
        ORDER BY a.marked_at`
	var records []models.AttendanceDetail
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session attendance: %w", err)
	}
	return records, nil
}

// ListByStudent returns a student's own records, optionally scoped to a course.
func (r *AttendanceRepository) ListByStudent(ctx context.Context, studentID, courseID string) ([]models.AttendanceDetail, error) {
	query := `SELECT a.id, a.session_id, a.student_id, a.method, a.marked_at, COALESCE(a.ip_address, '') AS ip_address,
        u.full_name AS student_name, s.title AS session_title, c.code AS course_code
        FROM attendance_records a
        JOIN users u ON u.id = a.student_id
        JOIN sessions s ON s.id = a.session_id
        JOIN courses c ON c.id = s.course_id
        WHERE a.student_id = $1`
	args := []interface{}{studentID}
	if courseID != "" {
		query += " AND s.course_id = $2"
		args = append(args, courseID)
	}
	query += " ORDER BY a.marked_at DESC"

	var records []models.AttendanceDetail
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list student attendance: %w", err)
	}
	return records, nil
}

// CountByMethod returns per-method counts for one session.
func (r *AttendanceRepository) CountByMethod(ctx context.Context, sessionID string) (map[models.AttendanceMethod]int, error) {
	const query = `SELECT method, COUNT(*) AS count FROM attendance_records WHERE session_id = $1 GROUP BY method`
	rows, err := r.db.QueryxContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count attendance by method: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AttendanceMethod]int)
	for rows.Next() {
		var method models.AttendanceMethod
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			return nil, fmt.Errorf("scan method count: %w", err)
		}
		counts[method] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate method counts: %w", err)
	}
	return counts, nil
}

// SessionPresenceRow pairs a session with its present count, used by the
// insight heuristics over historical sessions.
type SessionPresenceRow struct {
	SessionID     string    `db:"session_id"`
	ScheduledDate time.Time `db:"scheduled_date"`
	StartTime     string    `db:"start_time"`
	PresentCount  int       `db:"present_count"`
}

// PresenceByCourse returns present counts for all completed sessions of a course.
func (r *AttendanceRepository) PresenceByCourse(ctx context.Context, courseID string) ([]SessionPresenceRow, error) {
	const query = `SELECT s.id AS session_id, s.scheduled_date, s.start_time, COUNT(a.id) AS present_count
        FROM sessions s
        LEFT JOIN attendance_records a ON a.session_id = s.id
        WHERE s.course_id = $1 AND s.is_completed
        GROUP BY s.id, s.scheduled_date, s.start_time
        ORDER BY s.scheduled_date`
	var rows []SessionPresenceRow
	if err := r.db.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, fmt.Errorf("presence by course: %w", err)
	}
	return rows, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

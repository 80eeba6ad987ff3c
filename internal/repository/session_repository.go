package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acadly/remedial-api/internal/models"
)

// SessionRepository persists makeup sessions. The unique index on the code
// column is the authoritative guard against code collisions; application-side
// checks are an optimization only.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, course_id, faculty_id, title, reason, venue, scheduled_date,
        start_time, end_time, code, code_expires_at, is_active, is_completed, created_at, updated_at`

// Create persists a new session. The caller supplies an already generated
// code; a collision at commit time surfaces as ErrDuplicateCode.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	const query = `INSERT INTO sessions (id, course_id, faculty_id, title, reason, venue,
        scheduled_date, start_time, end_time, code, code_expires_at, is_active, is_completed, created_at, updated_at)
        VALUES (:id, :course_id, :faculty_id, :title, :reason, :venue,
        :scheduled_date, :start_time, :end_time, :code, :code_expires_at, :is_active, :is_completed, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by its ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByCode resolves a session by its attendance code. The match is exact
// and case-sensitive.
func (r *SessionRepository) FindByCode(ctx context.Context, code string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE code = $1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, code); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindDetailByID returns a session joined with course context.
func (r *SessionRepository) FindDetailByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	const query = `SELECT s.id, s.course_id, s.faculty_id, s.title, s.reason, s.venue, s.scheduled_date,
        s.start_time, s.end_time, s.code, s.code_expires_at, s.is_active, s.is_completed, s.created_at, s.updated_at,
        c.code AS course_code, c.name AS course_name
        FROM sessions s
        JOIN courses c ON c.id = s.course_id
        WHERE s.id = $1`
	var detail models.SessionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CodeExists checks whether any session already carries the given code.
func (r *SessionRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	const query = `SELECT 1 FROM sessions WHERE code = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, code); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check code existence: %w", err)
	}
	return true, nil
}

// List returns sessions matching the filter with course context.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error) {
	base := `FROM sessions s
JOIN courses c ON c.id = s.course_id`
	var conditions []string
	var args []interface{}

	if filter.FacultyID != "" {
		conditions = append(conditions, fmt.Sprintf("s.faculty_id = $%d", len(args)+1))
		args = append(args, filter.FacultyID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = s.course_id AND e.student_id = $%d)", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("s.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	switch strings.ToUpper(filter.State) {
	case "SCHEDULED":
		conditions = append(conditions, "NOT s.is_active AND NOT s.is_completed")
	case "ACTIVATED":
		conditions = append(conditions, "s.is_active AND NOT s.is_completed")
	case "COMPLETED":
		conditions = append(conditions, "s.is_completed")
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(s.title ILIKE $%d OR c.name ILIKE $%d OR c.code ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"scheduled_date": "s.scheduled_date",
		"created_at":     "s.created_at",
		"title":          "s.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "s.scheduled_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.course_id, s.faculty_id, s.title, s.reason, s.venue, s.scheduled_date,
        s.start_time, s.end_time, s.code, s.code_expires_at, s.is_active, s.is_completed, s.created_at, s.updated_at,
        c.code AS course_code, c.name AS course_name
        %s ORDER BY %s %s, s.start_time %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, order, size, offset)

	var sessions []models.SessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// ListUpcomingByCourse returns scheduled or activated sessions for a course,
// used to avoid recommending already-booked slots.
func (r *SessionRepository) ListUpcomingByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE course_id = $1 AND NOT is_completed ORDER BY scheduled_date`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, courseID); err != nil {
		return nil, fmt.Errorf("list upcoming sessions: %w", err)
	}
	return sessions, nil
}

// Transition atomically applies a state change to one session. The row is
// locked with SELECT ... FOR UPDATE so concurrent transitions serialize; the
// apply callback validates invariants against the current row and mutates it
// in place. All mutable columns are written back on commit.
func (r *SessionRepository) Transition(ctx context.Context, id string, apply func(*models.Session) error) (*models.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1 FOR UPDATE`, sessionColumns)
	var session models.Session
	if err := tx.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}

	if err := apply(&session); err != nil {
		return nil, err
	}
	session.UpdatedAt = time.Now().UTC()

	const update = `UPDATE sessions SET code = :code, code_expires_at = :code_expires_at,
        is_active = :is_active, is_completed = :is_completed, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, update, &session); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("persist transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return &session, nil
}

// Delete removes a session. The schema restricts deletion while attendance
// records reference it; that case surfaces as ErrSessionReferenced.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrSessionReferenced
		}
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

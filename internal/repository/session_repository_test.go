package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadly/remedial-api/internal/models"
)

func newSessionMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sessionRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "course_id", "faculty_id", "title", "reason", "venue", "scheduled_date",
		"start_time", "end_time", "code", "code_expires_at", "is_active", "is_completed", "created_at", "updated_at"}).
		AddRow("s1", "c1", "f1", "Makeup", "", "Room 12", now, "10:00", "11:00", "ABCD2345", now.Add(time.Hour), true, false, now, now)
}

func TestSessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	session := &models.Session{CourseID: "c1", FacultyID: "f1", Title: "Makeup", Venue: "Room 12", Code: "ABCD2345"}
	err := repo.Create(context.Background(), session)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.False(t, session.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCreateCodeCollision(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Session{CourseID: "c1", Code: "ABCD2345"})
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindByCode(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE code").
		WithArgs("ABCD2345").
		WillReturnRows(sessionRows())

	session, err := repo.FindByCode(context.Background(), "ABCD2345")
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.True(t, session.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCodeExists(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("SELECT 1 FROM sessions WHERE code").
		WithArgs("ABCD2345").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM sessions WHERE code").
		WithArgs("FRESH234").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.CodeExists(context.Background(), "ABCD2345")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.CodeExists(context.Background(), "FRESH234")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryTransition(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id = (.+) FOR UPDATE").
		WithArgs("s1").
		WillReturnRows(sessionRows())
	mock.ExpectExec("UPDATE sessions SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := repo.Transition(context.Background(), "s1", func(s *models.Session) error {
		s.IsActive = false
		s.IsCompleted = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, session.IsCompleted)
	assert.False(t, session.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryTransitionRollsBackOnReject(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id = (.+) FOR UPDATE").
		WithArgs("s1").
		WillReturnRows(sessionRows())
	mock.ExpectRollback()

	rejected := assert.AnError
	_, err := repo.Transition(context.Background(), "s1", func(s *models.Session) error {
		return rejected
	})
	assert.ErrorIs(t, err, rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("DELETE FROM sessions WHERE id").
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryDeleteReferenced(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("DELETE FROM sessions WHERE id").
		WithArgs("s1").
		WillReturnError(&pq.Error{Code: "23503"})

	err := repo.Delete(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionReferenced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newSessionMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("DELETE FROM sessions WHERE id").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

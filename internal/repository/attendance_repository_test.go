package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadly/remedial-api/internal/models"
)

func newAttendanceMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAttendanceRepositoryCreateRedemption(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("INSERT INTO attendance_records").
		WithArgs(sqlmock.AnyArg(), "stu1", models.MethodCode, sqlmock.AnyArg(), "10.0.0.1", "s1", "ABCD2345").
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.AttendanceRecord{SessionID: "s1", StudentID: "stu1", Method: models.MethodCode, IPAddress: "10.0.0.1"}
	err := repo.CreateRedemption(context.Background(), record, "ABCD2345")
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.MarkedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryCreateRedemptionStale(t *testing.T) {
	// The guarded insert matches no session row when the code or active flag
	// changed in flight.
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("INSERT INTO attendance_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	record := &models.AttendanceRecord{SessionID: "s1", StudentID: "stu1", Method: models.MethodCode}
	err := repo.CreateRedemption(context.Background(), record, "STALE234")
	assert.ErrorIs(t, err, ErrStaleSession)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryCreateRedemptionDuplicate(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("INSERT INTO attendance_records").
		WillReturnError(&pq.Error{Code: "23505"})

	record := &models.AttendanceRecord{SessionID: "s1", StudentID: "stu1", Method: models.MethodCode}
	err := repo.CreateRedemption(context.Background(), record, "ABCD2345")
	assert.ErrorIs(t, err, ErrDuplicateAttendance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryCreateManualDuplicate(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("INSERT INTO attendance_records").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.AttendanceRecord{SessionID: "s1", StudentID: "stu1", Method: models.MethodManual})
	assert.ErrorIs(t, err, ErrDuplicateAttendance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryExists(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("SELECT 1 FROM attendance_records").
		WithArgs("s1", "stu1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM attendance_records").
		WithArgs("s1", "stu2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.ExistsBySessionStudent(context.Background(), "s1", "stu1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsBySessionStudent(context.Background(), "s1", "stu2")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryCountByMethod(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("SELECT method, COUNT").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"method", "count"}).
			AddRow("CODE", 7).
			AddRow("MANUAL", 2))

	counts, err := repo.CountByMethod(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, counts[models.MethodCode])
	assert.Equal(t, 2, counts[models.MethodManual])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryPresenceByCourse(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	day := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT s.id AS session_id, s.scheduled_date").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "scheduled_date", "start_time", "present_count"}).
			AddRow("s1", day, "10:00", 14).
			AddRow("s2", day.AddDate(0, 0, 7), "10:00", 11))

	rows, err := repo.PresenceByCourse(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 14, rows[0].PresentCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryListByStudentScopesCourse(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	marked := time.Now()
	mock.ExpectQuery("WHERE a.student_id = (.+) AND s.course_id").
		WithArgs("stu1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "student_id", "method", "marked_at", "ip_address", "student_name", "session_title", "course_code"}).
			AddRow("r1", "s1", "stu1", "CODE", marked, "", "Dana Reyes", "Makeup", "CS101"))

	records, err := repo.ListByStudent(context.Background(), "stu1", "c1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CS101", records[0].CourseCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

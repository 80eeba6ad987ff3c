package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

type mockStatsAttendance struct {
	lists    map[string][]models.AttendanceDetail
	byMethod map[string]map[models.AttendanceMethod]int
}

func (m *mockStatsAttendance) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceDetail, error) {
	return m.lists[sessionID], nil
}

func (m *mockStatsAttendance) CountByMethod(ctx context.Context, sessionID string) (map[models.AttendanceMethod]int, error) {
	counts := m.byMethod[sessionID]
	if counts == nil {
		counts = map[models.AttendanceMethod]int{}
	}
	return counts, nil
}

type mockStatsCourses struct {
	enrolledCount map[string]int
	enrolled      map[string]bool
}

func (m *mockStatsCourses) CountEnrolled(ctx context.Context, courseID string) (int, error) {
	return m.enrolledCount[courseID], nil
}

func (m *mockStatsCourses) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	return m.enrolled[studentID+":"+courseID], nil
}

// memCache is a map-backed stand-in for the redis cache repository.
type memCache struct {
	entries map[string][]byte
	gets    int
	sets    int
	deletes []string
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.gets++
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.sets++
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.entries == nil {
		c.entries = make(map[string][]byte)
	}
	c.entries[key] = raw
	return nil
}

func (c *memCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.deletes = append(c.deletes, pattern)
	for key := range c.entries {
		if strings.HasPrefix(key, strings.TrimSuffix(pattern, "*")) {
			delete(c.entries, key)
		}
	}
	return nil
}

func facultyClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleFaculty}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func TestStatsComputesRates(t *testing.T) {
	sessions := &mockSessionRepo{sessions: map[string]models.Session{
		"s1": {ID: "s1", CourseID: "c1", FacultyID: "f1"},
	}}
	attendance := &mockStatsAttendance{byMethod: map[string]map[models.AttendanceMethod]int{
		"s1": {models.MethodCode: 6, models.MethodManual: 2},
	}}
	courses := &mockStatsCourses{enrolledCount: map[string]int{"c1": 10}}
	svc := NewStatsService(sessions, attendance, courses, nil, time.Minute, zap.NewNop())

	stats, err := svc.GetSessionStats(context.Background(), facultyClaims("f1"), "s1")
	require.NoError(t, err)
	assert.Equal(t, 10, stats.EnrolledCount)
	assert.Equal(t, 8, stats.PresentCount)
	assert.Equal(t, 2, stats.AbsentCount)
	assert.InDelta(t, 0.8, stats.AttendanceRate, 0.001)
	assert.Equal(t, 6, stats.ByMethod[models.MethodCode])
}

func TestStatsZeroEnrollment(t *testing.T) {
	sessions := &mockSessionRepo{sessions: map[string]models.Session{
		"s1": {ID: "s1", CourseID: "c1", FacultyID: "f1"},
	}}
	svc := NewStatsService(sessions, &mockStatsAttendance{}, &mockStatsCourses{}, nil, time.Minute, zap.NewNop())

	stats, err := svc.GetSessionStats(context.Background(), facultyClaims("f1"), "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EnrolledCount)
	assert.Equal(t, 0, stats.AbsentCount)
	assert.Zero(t, stats.AttendanceRate)
}

func TestStatsCacheRoundtrip(t *testing.T) {
	sessions := &mockSessionRepo{sessions: map[string]models.Session{
		"s1": {ID: "s1", CourseID: "c1", FacultyID: "f1"},
	}}
	attendance := &mockStatsAttendance{byMethod: map[string]map[models.AttendanceMethod]int{
		"s1": {models.MethodCode: 4},
	}}
	courses := &mockStatsCourses{enrolledCount: map[string]int{"c1": 5}}
	cache := &memCache{}
	svc := NewStatsService(sessions, attendance, courses, cache, time.Minute, zap.NewNop())

	first, err := svc.GetSessionStats(context.Background(), facultyClaims("f1"), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	// Second read must be served from cache even after the underlying counts
	// change.
	attendance.byMethod["s1"][models.MethodCode] = 5
	second, err := svc.GetSessionStats(context.Background(), facultyClaims("f1"), "s1")
	require.NoError(t, err)
	assert.Equal(t, first.PresentCount, second.PresentCount)
	assert.Equal(t, 1, cache.sets)

	svc.Invalidate(context.Background(), "s1")
	third, err := svc.GetSessionStats(context.Background(), facultyClaims("f1"), "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, third.PresentCount)
}

func TestStatsVisibleToEnrolledStudentsOnly(t *testing.T) {
	sessions := &mockSessionRepo{sessions: map[string]models.Session{
		"s1": {ID: "s1", CourseID: "c1", FacultyID: "f1"},
	}}
	courses := &mockStatsCourses{enrolled: map[string]bool{"stu1:c1": true}}
	svc := NewStatsService(sessions, &mockStatsAttendance{}, courses, nil, time.Minute, zap.NewNop())

	_, err := svc.GetSessionStats(context.Background(), studentClaims("stu1"), "s1")
	require.NoError(t, err)

	_, err = svc.GetSessionStats(context.Background(), studentClaims("outsider"), "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestStatsUnknownSession(t *testing.T) {
	svc := NewStatsService(&mockSessionRepo{}, &mockStatsAttendance{}, &mockStatsCourses{}, nil, time.Minute, zap.NewNop())

	_, err := svc.GetSessionStats(context.Background(), facultyClaims("f1"), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceSheetOwnerOnly(t *testing.T) {
	sessions := &mockSessionRepo{sessions: map[string]models.Session{
		"s1": {ID: "s1", CourseID: "c1", FacultyID: "f1"},
	}}
	attendance := &mockStatsAttendance{lists: map[string][]models.AttendanceDetail{
		"s1": {{AttendanceRecord: models.AttendanceRecord{StudentID: "stu1"}, StudentName: "Dana Reyes"}},
	}}
	svc := NewStatsService(sessions, attendance, &mockStatsCourses{}, nil, time.Minute, zap.NewNop())

	records, err := svc.ListSessionAttendance(context.Background(), "f1", "s1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = svc.ListSessionAttendance(context.Background(), "f2", "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportCSV(t *testing.T) {
	marked := time.Date(2026, 9, 14, 10, 12, 0, 0, time.UTC)
	sessions := &mockSessionRepo{sessions: map[string]models.Session{
		"s1": {ID: "s1", CourseID: "c1", FacultyID: "f1", Title: "Makeup: Graphs", ScheduledDate: time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)},
	}}
	attendance := &mockStatsAttendance{lists: map[string][]models.AttendanceDetail{
		"s1": {{
			AttendanceRecord: models.AttendanceRecord{StudentID: "stu1", Method: models.MethodCode, MarkedAt: marked},
			StudentName:      "Dana Reyes",
		}},
	}}
	svc := NewStatsService(sessions, attendance, &mockStatsCourses{}, nil, time.Minute, zap.NewNop())

	result, err := svc.ExportSessionAttendance(context.Background(), "f1", "s1", FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "attendance_CS101_2026-09-14.csv", result.FileName)
	assert.Equal(t, "text/csv", result.ContentType)

	body := string(result.Body)
	assert.Contains(t, body, "Student,Method,Marked At")
	assert.Contains(t, body, "Dana Reyes,CODE,2026-09-14 10:12")
}

func TestExportPDF(t *testing.T) {
	sessions := &mockSessionRepo{sessions: map[string]models.Session{
		"s1": {ID: "s1", CourseID: "c1", FacultyID: "f1", Title: "Makeup", ScheduledDate: time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)},
	}}
	svc := NewStatsService(sessions, &mockStatsAttendance{}, &mockStatsCourses{}, nil, time.Minute, zap.NewNop())

	result, err := svc.ExportSessionAttendance(context.Background(), "f1", "s1", FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasPrefix(string(result.Body), "%PDF"))
}

func TestExportRejectsNonOwnerAndBadFormat(t *testing.T) {
	sessions := &mockSessionRepo{sessions: map[string]models.Session{
		"s1": {ID: "s1", CourseID: "c1", FacultyID: "f1", ScheduledDate: time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)},
	}}
	svc := NewStatsService(sessions, &mockStatsAttendance{}, &mockStatsCourses{}, nil, time.Minute, zap.NewNop())

	_, err := svc.ExportSessionAttendance(context.Background(), "f2", "s1", FormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.ExportSessionAttendance(context.Background(), "f1", "s1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

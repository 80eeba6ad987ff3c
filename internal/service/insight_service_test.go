package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	"github.com/acadly/remedial-api/internal/repository"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

type mockInsightCourses struct {
	courses       map[string]models.Course
	enrolledCount map[string]int
}

func (m *mockInsightCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInsightCourses) CountEnrolled(ctx context.Context, courseID string) (int, error) {
	return m.enrolledCount[courseID], nil
}

type mockInsightAttendance struct {
	rows []repository.SessionPresenceRow
}

func (m *mockInsightAttendance) PresenceByCourse(ctx context.Context, courseID string) ([]repository.SessionPresenceRow, error) {
	return m.rows, nil
}

type mockInsightSessions struct {
	upcoming []models.Session
}

func (m *mockInsightSessions) ListUpcomingByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	return m.upcoming, nil
}

func newInsightService(courses *mockInsightCourses, attendance *mockInsightAttendance, sessions *mockInsightSessions) *InsightService {
	return NewInsightService(courses, attendance, sessions, nil, time.Minute, zap.NewNop())
}

func ownedCourse() *mockInsightCourses {
	return &mockInsightCourses{
		courses:       map[string]models.Course{"c1": {ID: "c1", FacultyID: "f1"}},
		enrolledCount: map[string]int{"c1": 20},
	}
}

func presenceHistory(counts ...int) []repository.SessionPresenceRow {
	base := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) // a Monday
	rows := make([]repository.SessionPresenceRow, 0, len(counts))
	for i, count := range counts {
		rows = append(rows, repository.SessionPresenceRow{
			SessionID:     "s",
			ScheduledDate: base.AddDate(0, 0, i),
			PresentCount:  count,
		})
	}
	return rows
}

func TestPredictTurnoutWeighsDayAndHour(t *testing.T) {
	// 16/20 historical presence, Thursday 10:00: 0.8 * 0.92 * 0.95.
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{rows: presenceHistory(16, 16, 16, 16)}, &mockInsightSessions{})

	prediction, err := svc.PredictTurnout(context.Background(), "f1", "c1", "2026-09-10", "10:00")
	require.NoError(t, err)
	assert.Equal(t, 20, prediction.EnrolledCount)
	assert.InDelta(t, 0.70, prediction.PredictedRate, 0.005)
	assert.Equal(t, 14, prediction.PredictedCount)
	assert.Equal(t, models.RushMedium, prediction.RushLevel)
	assert.Equal(t, 4, prediction.SampleSize)
	assert.InDelta(t, 0.70, prediction.Confidence, 0.001)
}

func TestPredictTurnoutFallsBackWithoutHistory(t *testing.T) {
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{}, &mockInsightSessions{})

	prediction, err := svc.PredictTurnout(context.Background(), "f1", "c1", "2026-09-13", "20:00")
	require.NoError(t, err)
	// Sunday evening: 0.75 * 0.45 * 0.65.
	assert.InDelta(t, 0.22, prediction.PredictedRate, 0.005)
	assert.Equal(t, models.RushLow, prediction.RushLevel)
	assert.InDelta(t, 0.5, prediction.Confidence, 0.001)
}

func TestPredictTurnoutConfidenceCaps(t *testing.T) {
	counts := make([]int, 30)
	for i := range counts {
		counts[i] = 18
	}
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{rows: presenceHistory(counts...)}, &mockInsightSessions{})

	prediction, err := svc.PredictTurnout(context.Background(), "f1", "c1", "2026-09-08", "09:30")
	require.NoError(t, err)
	assert.InDelta(t, 0.95, prediction.Confidence, 0.001)
	assert.Equal(t, models.RushMedium, prediction.RushLevel)
}

func TestPredictTurnoutValidatesInput(t *testing.T) {
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{}, &mockInsightSessions{})

	_, err := svc.PredictTurnout(context.Background(), "f1", "c1", "next tuesday", "10:00")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.PredictTurnout(context.Background(), "f1", "c1", "2026-09-10", "10am")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestInsightsOwnerOnly(t *testing.T) {
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{}, &mockInsightSessions{})

	_, err := svc.PredictTurnout(context.Background(), "f2", "c1", "2026-09-10", "10:00")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.RecommendSlots(context.Background(), "f2", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.AnalyzePatterns(context.Background(), "f2", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRecommendSlotsStaysMidweek(t *testing.T) {
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{}, &mockInsightSessions{})

	slots, err := svc.RecommendSlots(context.Background(), "f1", "c1")
	require.NoError(t, err)
	require.Len(t, slots, 5)

	for _, slot := range slots {
		day, parseErr := time.Parse("2006-01-02", slot.Date)
		require.NoError(t, parseErr)
		assert.GreaterOrEqual(t, int(day.Weekday()), int(time.Monday), slot.Date)
		assert.LessOrEqual(t, int(day.Weekday()), int(time.Thursday), slot.Date)
		assert.True(t, day.After(time.Now().UTC()), "slots must be in the future")
	}

	// Ranked: highest score first, earliest date breaking ties.
	for i := 1; i < len(slots); i++ {
		if slots[i-1].Score == slots[i].Score {
			assert.LessOrEqual(t, slots[i-1].Date, slots[i].Date)
		} else {
			assert.Greater(t, slots[i-1].Score, slots[i].Score)
		}
	}
}

func TestRecommendSlotsSkipsBookedDates(t *testing.T) {
	// Book every candidate day in the window; nothing should be offered.
	var upcoming []models.Session
	today := time.Now().UTC()
	for offset := 1; offset <= 14; offset++ {
		upcoming = append(upcoming, models.Session{ScheduledDate: today.AddDate(0, 0, offset)})
	}
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{}, &mockInsightSessions{upcoming: upcoming})

	slots, err := svc.RecommendSlots(context.Background(), "f1", "c1")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestAnalyzePatternsNeedsHistory(t *testing.T) {
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{rows: presenceHistory(12)}, &mockInsightSessions{})

	analysis, err := svc.AnalyzePatterns(context.Background(), "f1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.TotalSessions)
	assert.Empty(t, analysis.Insights)
	assert.Equal(t, "not enough completed sessions to analyze patterns", analysis.Message)
}

func TestAnalyzePatternsDetectsTrend(t *testing.T) {
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{rows: presenceHistory(8, 9, 15, 16)}, &mockInsightSessions{})

	analysis, err := svc.AnalyzePatterns(context.Background(), "f1", "c1")
	require.NoError(t, err)

	var trend *models.PatternInsight
	for i := range analysis.Insights {
		if analysis.Insights[i].Type == "trend" {
			trend = &analysis.Insights[i]
		}
	}
	require.NotNil(t, trend)
	assert.Contains(t, trend.Text, "trending up")

	svc = newInsightService(ownedCourse(), &mockInsightAttendance{rows: presenceHistory(16, 15, 9, 8)}, &mockInsightSessions{})
	analysis, err = svc.AnalyzePatterns(context.Background(), "f1", "c1")
	require.NoError(t, err)
	for _, insight := range analysis.Insights {
		if insight.Type == "trend" {
			assert.Contains(t, insight.Text, "trending down")
			assert.Equal(t, "warning", insight.Severity)
		}
	}
}

func TestAnalyzePatternsWarnsOnLowTurnout(t *testing.T) {
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{rows: presenceHistory(4, 5, 4, 5)}, &mockInsightSessions{})

	analysis, err := svc.AnalyzePatterns(context.Background(), "f1", "c1")
	require.NoError(t, err)

	found := false
	for _, insight := range analysis.Insights {
		if insight.Type == "low_turnout" {
			found = true
			assert.Equal(t, "warning", insight.Severity)
		}
	}
	assert.True(t, found, "expected a low_turnout warning at ~23%% turnout")
}

func TestAnalyzePatternsNamesBestDay(t *testing.T) {
	// Mondays average 18, Tuesdays 6.
	rows := []repository.SessionPresenceRow{
		{ScheduledDate: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC), PresentCount: 18},
		{ScheduledDate: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), PresentCount: 18},
		{ScheduledDate: time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC), PresentCount: 6},
		{ScheduledDate: time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC), PresentCount: 6},
	}
	svc := newInsightService(ownedCourse(), &mockInsightAttendance{rows: rows}, &mockInsightSessions{})

	analysis, err := svc.AnalyzePatterns(context.Background(), "f1", "c1")
	require.NoError(t, err)

	found := false
	for _, insight := range analysis.Insights {
		if insight.Type == "best_day" {
			found = true
			assert.Contains(t, insight.Text, "Monday")
		}
	}
	assert.True(t, found, "expected a best_day insight")
}

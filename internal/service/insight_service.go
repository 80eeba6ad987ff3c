package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	"github.com/acadly/remedial-api/internal/repository"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

type insightCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	CountEnrolled(ctx context.Context, courseID string) (int, error)
}

type insightAttendanceReader interface {
	PresenceByCourse(ctx context.Context, courseID string) ([]repository.SessionPresenceRow, error)
}

type insightSessionReader interface {
	ListUpcomingByCourse(ctx context.Context, courseID string) ([]models.Session, error)
}

// Turnout heuristics. Day and hour factors are empirical weights: mid-week
// mornings fill up, Friday evenings and weekends do not.
var dayFactors = map[time.Weekday]float64{
	time.Monday:    0.85,
	time.Tuesday:   0.90,
	time.Wednesday: 0.88,
	time.Thursday:  0.92,
	time.Friday:    0.80,
	time.Saturday:  0.60,
	time.Sunday:    0.45,
}

func timeFactor(hour int) float64 {
	switch {
	case hour >= 9 && hour < 11:
		return 0.95
	case hour >= 14 && hour < 16:
		return 0.90
	case hour >= 17 && hour < 19:
		return 0.75
	default:
		return 0.65
	}
}

const defaultBaseRate = 0.75

// InsightService produces heuristic turnout predictions, slot
// recommendations and pattern analysis for a course's makeup sessions.
// Everything is derived from completed-session history; no model training.
type InsightService struct {
	courses    insightCourseReader
	attendance insightAttendanceReader
	sessions   insightSessionReader
	cache      statsCache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewInsightService constructs the insight service.
func NewInsightService(courses insightCourseReader, attendance insightAttendanceReader, sessions insightSessionReader, cache statsCache, cacheTTL time.Duration, logger *zap.Logger) *InsightService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InsightService{
		courses:    courses,
		attendance: attendance,
		sessions:   sessions,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// PredictTurnout estimates attendance for a prospective slot in the course.
// Only the owning faculty may ask.
func (s *InsightService) PredictTurnout(ctx context.Context, actorID, courseID, date, startTime string) (*models.TurnoutPrediction, error) {
	course, err := s.ownedCourse(ctx, actorID, courseID)
	if err != nil {
		return nil, err
	}

	when, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	start, err := time.Parse("15:04", startTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid start time, expected HH:MM")
	}

	cacheKey := fmt.Sprintf("insights:predict:%s:%s:%s", course.ID, date, startTime)
	if s.cache != nil {
		var cached models.TurnoutPrediction
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	enrolled, err := s.courses.CountEnrolled(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollment")
	}
	history, err := s.attendance.PresenceByCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}

	baseRate := historicalRate(history, enrolled)
	rate := clamp01(baseRate * dayFactors[when.Weekday()] * timeFactor(start.Hour()))

	prediction := &models.TurnoutPrediction{
		CourseID:       course.ID,
		PredictedCount: int(math.Round(rate * float64(enrolled))),
		EnrolledCount:  enrolled,
		PredictedRate:  round2(rate),
		RushLevel:      rushLevel(rate),
		Confidence:     confidence(len(history)),
		SampleSize:     len(history),
		GeneratedAt:    time.Now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, prediction, s.cacheTTL); err != nil {
			s.logger.Warn("insight cache write failed", zap.String("course_id", course.ID), zap.Error(err))
		}
	}
	return prediction, nil
}

// RecommendSlots proposes the best-scoring Monday-to-Thursday slots over the
// next two weeks, ranked by the same day and hour weights the predictor uses.
func (s *InsightService) RecommendSlots(ctx context.Context, actorID, courseID string) ([]models.SlotRecommendation, error) {
	if _, err := s.ownedCourse(ctx, actorID, courseID); err != nil {
		return nil, err
	}

	upcoming, err := s.sessions.ListUpcomingByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load upcoming sessions")
	}
	booked := make(map[string]bool, len(upcoming))
	for _, session := range upcoming {
		booked[session.ScheduledDate.Format("2006-01-02")] = true
	}

	candidateStarts := []int{9, 10, 14, 15}
	var slots []models.SlotRecommendation
	today := time.Now().UTC()
	for offset := 1; offset <= 14; offset++ {
		day := today.AddDate(0, 0, offset)
		weekday := day.Weekday()
		if weekday < time.Monday || weekday > time.Thursday {
			continue
		}
		if booked[day.Format("2006-01-02")] {
			continue
		}
		for _, hour := range candidateStarts {
			score := int(math.Round(dayFactors[weekday] * timeFactor(hour) * 100))
			slots = append(slots, models.SlotRecommendation{
				Date:      day.Format("2006-01-02"),
				Day:       weekday.String(),
				StartTime: fmt.Sprintf("%02d:00", hour),
				EndTime:   fmt.Sprintf("%02d:00", hour+1),
				Score:     score,
				Reason:    slotReason(weekday, hour),
			})
		}
	}

	// Highest score first; earlier date breaks ties.
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Score != slots[j].Score {
			return slots[i].Score > slots[j].Score
		}
		return slots[i].Date < slots[j].Date
	})
	if len(slots) > 5 {
		slots = slots[:5]
	}
	return slots, nil
}

// AnalyzePatterns summarises historical attendance for the course: best day,
// trend direction and a low-turnout warning when warranted.
func (s *InsightService) AnalyzePatterns(ctx context.Context, actorID, courseID string) (*models.PatternAnalysis, error) {
	course, err := s.ownedCourse(ctx, actorID, courseID)
	if err != nil {
		return nil, err
	}

	history, err := s.attendance.PresenceByCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}
	analysis := &models.PatternAnalysis{CourseID: course.ID, TotalSessions: len(history)}
	if len(history) < 2 {
		analysis.Message = "not enough completed sessions to analyze patterns"
		return analysis, nil
	}

	enrolled, err := s.courses.CountEnrolled(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollment")
	}

	if best, ok := bestWeekday(history); ok {
		analysis.Insights = append(analysis.Insights, models.PatternInsight{
			Type:     "best_day",
			Text:     fmt.Sprintf("%s sessions draw the highest attendance", best),
			Severity: "info",
		})
	}

	analysis.Insights = append(analysis.Insights, trendInsight(history))

	if enrolled > 0 {
		if rate := historicalRate(history, enrolled); rate < 0.5 {
			analysis.Insights = append(analysis.Insights, models.PatternInsight{
				Type:     "low_turnout",
				Text:     fmt.Sprintf("average turnout is %.0f%% of enrollment, consider rescheduling or reminders", rate*100),
				Severity: "warning",
			})
		}
	}
	return analysis, nil
}

func (s *InsightService) ownedCourse(ctx context.Context, actorID, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.FacultyID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning faculty can view course insights")
	}
	return course, nil
}

func historicalRate(history []repository.SessionPresenceRow, enrolled int) float64 {
	if len(history) == 0 || enrolled == 0 {
		return defaultBaseRate
	}
	var sum float64
	for _, row := range history {
		sum += float64(row.PresentCount) / float64(enrolled)
	}
	return clamp01(sum / float64(len(history)))
}

func rushLevel(rate float64) models.RushLevel {
	switch {
	case rate > 0.85:
		return models.RushHigh
	case rate > 0.65:
		return models.RushMedium
	default:
		return models.RushLow
	}
}

func confidence(sampleSize int) float64 {
	return math.Min(0.95, 0.5+float64(sampleSize)*0.05)
}

func bestWeekday(history []repository.SessionPresenceRow) (time.Weekday, bool) {
	totals := make(map[time.Weekday]int)
	counts := make(map[time.Weekday]int)
	for _, row := range history {
		day := row.ScheduledDate.Weekday()
		totals[day] += row.PresentCount
		counts[day]++
	}
	if len(counts) < 2 {
		return 0, false
	}
	var best time.Weekday
	bestAvg := -1.0
	for day, total := range totals {
		avg := float64(total) / float64(counts[day])
		if avg > bestAvg {
			bestAvg = avg
			best = day
		}
	}
	return best, true
}

func trendInsight(history []repository.SessionPresenceRow) models.PatternInsight {
	half := len(history) / 2
	early, late := 0, 0
	for i, row := range history {
		if i < half {
			early += row.PresentCount
		} else {
			late += row.PresentCount
		}
	}
	earlyAvg := float64(early) / float64(half)
	lateAvg := float64(late) / float64(len(history)-half)

	switch {
	case lateAvg > earlyAvg*1.1:
		return models.PatternInsight{Type: "trend", Text: "attendance is trending up across recent sessions", Severity: "info"}
	case lateAvg < earlyAvg*0.9:
		return models.PatternInsight{Type: "trend", Text: "attendance is trending down across recent sessions", Severity: "warning"}
	default:
		return models.PatternInsight{Type: "trend", Text: "attendance is stable across sessions", Severity: "info"}
	}
}

func slotReason(day time.Weekday, hour int) string {
	switch {
	case hour < 12:
		return fmt.Sprintf("%s mornings have historically strong turnout", day)
	default:
		return fmt.Sprintf("%s early afternoons avoid clashes with evening commitments", day)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

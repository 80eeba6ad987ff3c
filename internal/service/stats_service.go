package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	"github.com/acadly/remedial-api/pkg/export"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

type statsSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindDetailByID(ctx context.Context, id string) (*models.SessionDetail, error)
}

type statsAttendanceReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceDetail, error)
	CountByMethod(ctx context.Context, sessionID string) (map[models.AttendanceMethod]int, error)
}

type statsCourseReader interface {
	CountEnrolled(ctx context.Context, courseID string) (int, error)
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// StatsService aggregates attendance for sessions and renders export sheets.
// Aggregates are cached briefly in Redis; writes invalidate per session.
type StatsService struct {
	sessions   statsSessionReader
	attendance statsAttendanceReader
	courses    statsCourseReader
	cache      statsCache
	cacheTTL   time.Duration
	logger     *zap.Logger
	csv        *export.CSVExporter
	pdf        *export.PDFExporter
}

// NewStatsService constructs the stats service.
func NewStatsService(sessions statsSessionReader, attendance statsAttendanceReader, courses statsCourseReader, cache statsCache, cacheTTL time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{
		sessions:   sessions,
		attendance: attendance,
		courses:    courses,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
	}
}

func statsCacheKey(sessionID string) string {
	return fmt.Sprintf("stats:session:%s", sessionID)
}

// GetSessionStats computes the attendance summary for one session. The
// owning faculty and enrolled students may read it.
func (s *StatsService) GetSessionStats(ctx context.Context, actor *models.JWTClaims, sessionID string) (*models.SessionStats, error) {
	session, err := s.authorize(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		var cached models.SessionStats
		if err := s.cache.Get(ctx, statsCacheKey(sessionID), &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("stats cache read failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	stats, err := s.compute(ctx, session)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey(sessionID), stats, s.cacheTTL); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return stats, nil
}

// ListSessionAttendance returns the full sheet for the owning faculty.
func (s *StatsService) ListSessionAttendance(ctx context.Context, actorID, sessionID string) ([]models.AttendanceDetail, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.FacultyID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning faculty can view the attendance sheet")
	}
	records, err := s.attendance.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

// ExportFormat selects the rendered sheet format.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ExportResult carries a rendered attendance sheet.
type ExportResult struct {
	FileName    string
	ContentType string
	Body        []byte
}

// ExportSessionAttendance renders the session's attendance sheet as CSV or
// PDF. Owner only.
func (s *StatsService) ExportSessionAttendance(ctx context.Context, actorID, sessionID string, format ExportFormat) (*ExportResult, error) {
	detail, err := s.sessions.FindDetailByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if detail.FacultyID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning faculty can export the attendance sheet")
	}

	records, err := s.attendance.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}

	data := export.Dataset{
		Headers: []string{"Student", "Method", "Marked At"},
		Rows:    make([]map[string]string, 0, len(records)),
	}
	for _, record := range records {
		data.Rows = append(data.Rows, map[string]string{
			"Student":   record.StudentName,
			"Method":    string(record.Method),
			"Marked At": record.MarkedAt.UTC().Format("2006-01-02 15:04"),
		})
	}

	base := fmt.Sprintf("attendance_%s_%s", strings.ReplaceAll(detail.CourseCode, " ", "_"), detail.ScheduledDate.Format("2006-01-02"))
	switch format {
	case FormatCSV, "":
		body, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{FileName: base + ".csv", ContentType: "text/csv", Body: body}, nil
	case FormatPDF:
		title := fmt.Sprintf("%s - %s", detail.CourseCode, detail.Title)
		body, err := s.pdf.Render(data, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{FileName: base + ".pdf", ContentType: "application/pdf", Body: body}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format, use csv or pdf")
	}
}

// Invalidate drops the cached aggregate for a session after a write. Cache
// failures are logged, never surfaced.
func (s *StatsService) Invalidate(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, statsCacheKey(sessionID)); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *StatsService) compute(ctx context.Context, session *models.Session) (*models.SessionStats, error) {
	enrolled, err := s.courses.CountEnrolled(ctx, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollment")
	}
	byMethod, err := s.attendance.CountByMethod(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}

	present := 0
	for _, count := range byMethod {
		present += count
	}
	absent := enrolled - present
	if absent < 0 {
		absent = 0
	}

	stats := &models.SessionStats{
		SessionID:     session.ID,
		EnrolledCount: enrolled,
		PresentCount:  present,
		AbsentCount:   absent,
		ByMethod:      byMethod,
		GeneratedAt:   time.Now().UTC(),
	}
	if enrolled > 0 {
		stats.AttendanceRate = float64(present) / float64(enrolled)
	}
	return stats, nil
}

func (s *StatsService) authorize(ctx context.Context, actor *models.JWTClaims, sessionID string) (*models.Session, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.FacultyID == actor.UserID {
		return session, nil
	}
	enrolled, err := s.courses.IsEnrolled(ctx, actor.UserID, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view stats for this session")
	}
	return session, nil
}

func (s *StatsService) loadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

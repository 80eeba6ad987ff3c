package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	"github.com/acadly/remedial-api/internal/repository"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

type attendanceRepository interface {
	CreateRedemption(ctx context.Context, record *models.AttendanceRecord, expectCode string) error
	Create(ctx context.Context, record *models.AttendanceRecord) error
	ExistsBySessionStudent(ctx context.Context, sessionID, studentID string) (bool, error)
	ListByStudent(ctx context.Context, studentID, courseID string) ([]models.AttendanceDetail, error)
}

type attendanceSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByCode(ctx context.Context, code string) (*models.Session, error)
}

type statsInvalidator interface {
	Invalidate(ctx context.Context, sessionID string)
}

type redemptionObserver interface {
	ObserveRedemption(outcome string)
}

// AttendanceService handles code redemption by students and manual marking
// by faculty. Redemption failures follow a fixed precedence so a caller
// probing with a valid code learns nothing it should not: unknown code,
// then session state, then expiry, then enrollment, then duplication.
type AttendanceService struct {
	records   attendanceRepository
	sessions  attendanceSessionReader
	courses   sessionCourseReader
	notifier  lifecyclePublisher
	stats     statsInvalidator
	metrics   redemptionObserver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(records attendanceRepository, sessions attendanceSessionReader, courses sessionCourseReader, notifier lifecyclePublisher, stats statsInvalidator, metrics redemptionObserver, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		records:   records,
		sessions:  sessions,
		courses:   courses,
		notifier:  notifier,
		stats:     stats,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// RedeemRequest carries the code a student submits.
type RedeemRequest struct {
	Code string `json:"code" validate:"required"`
}

// MarkManualRequest lets faculty record a student who attended without
// redeeming the code.
type MarkManualRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Method    string `json:"method" validate:"omitempty,oneof=MANUAL OTHER"`
}

// Redeem marks the calling student present for the session whose active code
// matches. Codes are matched case-insensitively since they are read out loud
// or copied from a projector.
func (s *AttendanceService) Redeem(ctx context.Context, studentID, clientIP string, req RedeemRequest) (*models.AttendanceRecord, error) {
	record, err := s.redeem(ctx, studentID, clientIP, req)
	s.observe(err)
	return record, err
}

func (s *AttendanceService) redeem(ctx context.Context, studentID, clientIP string, req RedeemRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid redemption payload")
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if len(code) != CodeLength {
		return nil, appErrors.Clone(appErrors.ErrInvalidCode, fmt.Sprintf("attendance codes are %d characters", CodeLength))
	}

	session, err := s.sessions.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCode
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve code")
	}

	if session.IsCompleted || !session.IsActive {
		return nil, appErrors.ErrSessionNotActive
	}
	if session.CodeExpired(time.Now().UTC()) {
		return nil, appErrors.ErrCodeExpired
	}

	enrolled, err := s.courses.IsEnrolled(ctx, studentID, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.ErrNotEnrolled
	}

	marked, err := s.records.ExistsBySessionStudent(ctx, session.ID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing attendance")
	}
	if marked {
		return nil, appErrors.ErrAlreadyMarked
	}

	record := &models.AttendanceRecord{
		SessionID: session.ID,
		StudentID: studentID,
		Method:    models.MethodCode,
		IPAddress: clientIP,
	}
	if err := s.records.CreateRedemption(ctx, record, code); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateAttendance):
			return nil, appErrors.ErrAlreadyMarked
		case errors.Is(err, repository.ErrStaleSession):
			// The session changed between resolution and insert: either the
			// code was regenerated or the session was deactivated. Re-resolve
			// to report the accurate failure.
			return nil, s.staleOutcome(ctx, session.ID, code)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
		}
	}

	s.afterMark(ctx, session, record)
	return record, nil
}

func (s *AttendanceService) staleOutcome(ctx context.Context, sessionID, submittedCode string) error {
	current, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrInvalidCode
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to re-resolve session")
	}
	if current.Code != submittedCode {
		return appErrors.ErrInvalidCode
	}
	return appErrors.ErrSessionNotActive
}

// MarkManual records attendance on behalf of a student, by the session's
// owning faculty. Manual marking does not require the session to be active;
// faculty routinely reconcile the sheet after class.
func (s *AttendanceService) MarkManual(ctx context.Context, actorID, sessionID string, req MarkManualRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual marking payload")
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.FacultyID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning faculty can mark attendance for this session")
	}

	enrolled, err := s.courses.IsEnrolled(ctx, req.StudentID, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.ErrNotEnrolled
	}

	method := models.AttendanceMethod(req.Method)
	if method == "" {
		method = models.MethodManual
	}

	record := &models.AttendanceRecord{
		SessionID: session.ID,
		StudentID: req.StudentID,
		Method:    method,
	}
	if err := s.records.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateAttendance) {
			return nil, appErrors.ErrAlreadyMarked
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	s.afterMark(ctx, session, record)
	return record, nil
}

// ListMine returns the calling student's own attendance history, optionally
// filtered to one course.
func (s *AttendanceService) ListMine(ctx context.Context, studentID, courseID string) ([]models.AttendanceDetail, error) {
	records, err := s.records.ListByStudent(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

func (s *AttendanceService) afterMark(ctx context.Context, session *models.Session, record *models.AttendanceRecord) {
	if s.stats != nil {
		s.stats.Invalidate(ctx, session.ID)
	}
	if s.notifier != nil {
		s.notifier.Publish(models.LifecycleEvent{
			Kind:      models.NotifyAttendanceMarked,
			SessionID: session.ID,
			CourseID:  session.CourseID,
			FacultyID: session.FacultyID,
			Title:     "Attendance Recorded",
			Message:   fmt.Sprintf("A student was marked present for %q via %s.", session.Title, record.Method),
			Audience:  []string{session.FacultyID},
		})
	}
}

func (s *AttendanceService) observe(err error) {
	if s.metrics == nil {
		return
	}
	if err == nil {
		s.metrics.ObserveRedemption("success")
		return
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		s.metrics.ObserveRedemption(strings.ToLower(appErr.Code))
		return
	}
	s.metrics.ObserveRedemption("error")
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	"github.com/acadly/remedial-api/internal/repository"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindDetailByID(ctx context.Context, id string) (*models.SessionDetail, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error)
	Transition(ctx context.Context, id string, apply func(*models.Session) error) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

type sessionCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
}

type codeGenerator interface {
	Generate(ctx context.Context) (string, error)
}

type lifecyclePublisher interface {
	Publish(event models.LifecycleEvent)
}

type regenerationObserver interface {
	ObserveCodeRegenerated()
}

// SessionService owns the makeup-session lifecycle: creation with code
// issuance, activation gating, completion and code regeneration. Every
// mutating transition runs under the repository's row lock so concurrent
// faculty requests serialize per session.
type SessionService struct {
	repo      sessionRepository
	courses   sessionCourseReader
	codes     codeGenerator
	notifier  lifecyclePublisher
	metrics   regenerationObserver
	validator *validator.Validate
	logger    *zap.Logger

	codeExpiryGrace time.Duration
}

// NewSessionService constructs the session service.
func NewSessionService(repo sessionRepository, courses sessionCourseReader, codes codeGenerator, notifier lifecyclePublisher, metrics regenerationObserver, codeExpiryGrace time.Duration, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		repo:            repo,
		courses:         courses,
		codes:           codes,
		notifier:        notifier,
		metrics:         metrics,
		validator:       validate,
		logger:          logger,
		codeExpiryGrace: codeExpiryGrace,
	}
}

// CreateSessionRequest describes the scheduling payload.
type CreateSessionRequest struct {
	CourseID      string `json:"course_id" validate:"required"`
	Title         string `json:"title" validate:"required,max=200"`
	Reason        string `json:"reason" validate:"max=1000"`
	Venue         string `json:"venue" validate:"required,max=200"`
	ScheduledDate string `json:"scheduled_date" validate:"required"`
	StartTime     string `json:"start_time" validate:"required"`
	EndTime       string `json:"end_time" validate:"required"`
}

// ListSessionsRequest describes listing filters.
type ListSessionsRequest struct {
	CourseID  string `json:"course_id"`
	State     string `json:"state"`
	Search    string `json:"search"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

// Create schedules a new session for a course owned by the acting faculty
// member. The attendance code is generated at creation; the session starts
// out Scheduled (inactive, not completed).
func (s *SessionService) Create(ctx context.Context, actorID string, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	date, err := time.Parse("2006-01-02", req.ScheduledDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	startTime, err := time.Parse("15:04", req.StartTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid start time, expected HH:MM")
	}
	endTime, err := time.Parse("15:04", req.EndTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid end time, expected HH:MM")
	}
	if !endTime.After(startTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.FacultyID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning faculty can schedule sessions for this course")
	}

	code, err := s.codes.Generate(ctx)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		CourseID:      course.ID,
		FacultyID:     actorID,
		Title:         req.Title,
		Reason:        req.Reason,
		Venue:         req.Venue,
		ScheduledDate: date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Code:          code,
		IsActive:      false,
		IsCompleted:   false,
	}
	if s.codeExpiryGrace > 0 {
		expiry := time.Date(date.Year(), date.Month(), date.Day(), endTime.Hour(), endTime.Minute(), 0, 0, time.UTC).Add(s.codeExpiryGrace)
		session.CodeExpiresAt = &expiry
	}

	if err := s.repo.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateCode) {
			return nil, appErrors.Clone(appErrors.ErrCodeSpaceExhausted, "generated code collided, please retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	s.publish(models.LifecycleEvent{
		Kind:      models.NotifySessionScheduled,
		SessionID: session.ID,
		CourseID:  course.ID,
		FacultyID: actorID,
		Title:     fmt.Sprintf("Makeup Class: %s", course.Code),
		Message: fmt.Sprintf("A makeup class %q has been scheduled for %s at %s in %s. The attendance code will be activated before the session.",
			session.Title, date.Format("January 2, 2006"), session.StartTime, session.Venue),
	})

	return session, nil
}

// Get returns a session if the actor may see it: the owning faculty or a
// student enrolled in its course.
func (s *SessionService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.SessionDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	if detail.FacultyID == actor.UserID {
		return detail, nil
	}
	enrolled, err := s.courses.IsEnrolled(ctx, actor.UserID, detail.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this session")
	}

	// Students never see the code itself; it reaches them through activation
	// notifications or in class.
	detail.Code = ""
	detail.CodeExpiresAt = nil
	return detail, nil
}

// List returns sessions visible to the actor: faculty see sessions they own,
// students see sessions of courses they are enrolled in.
func (s *SessionService) List(ctx context.Context, actor *models.JWTClaims, req ListSessionsRequest) ([]models.SessionDetail, *models.Pagination, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 20
	}
	filter := models.SessionFilter{
		CourseID:  req.CourseID,
		State:     req.State,
		Search:    req.Search,
		Page:      page,
		PageSize:  size,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	if actor.Role == models.RoleFaculty {
		filter.FacultyID = actor.UserID
	} else {
		filter.StudentID = actor.UserID
	}

	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	if actor.Role != models.RoleFaculty {
		for i := range sessions {
			sessions[i].Code = ""
			sessions[i].CodeExpiresAt = nil
		}
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return sessions, pagination, nil
}

// Activate turns the session's code on and notifies enrolled students.
func (s *SessionService) Activate(ctx context.Context, actorID, sessionID string) (*models.Session, error) {
	session, err := s.transition(ctx, actorID, sessionID, func(session *models.Session) error {
		if session.IsCompleted {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "session is completed")
		}
		session.IsActive = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(models.LifecycleEvent{
		Kind:      models.NotifyCodeActivated,
		SessionID: session.ID,
		CourseID:  session.CourseID,
		FacultyID: session.FacultyID,
		Title:     "Attendance Code Active",
		Message: fmt.Sprintf("The attendance code for %q is now active. Use code %s to mark your attendance.",
			session.Title, session.Code),
	})
	return session, nil
}

// Deactivate turns the session's code off without completing the session.
func (s *SessionService) Deactivate(ctx context.Context, actorID, sessionID string) (*models.Session, error) {
	return s.transition(ctx, actorID, sessionID, func(session *models.Session) error {
		if session.IsCompleted {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "session is completed")
		}
		session.IsActive = false
		return nil
	})
}

// Complete seals the session. Completed is terminal: any further activate,
// deactivate or regenerate fails with INVALID_TRANSITION.
func (s *SessionService) Complete(ctx context.Context, actorID, sessionID string) (*models.Session, error) {
	return s.transition(ctx, actorID, sessionID, func(session *models.Session) error {
		if session.IsCompleted {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "session is already completed")
		}
		session.IsActive = false
		session.IsCompleted = true
		return nil
	})
}

// RegenerateCode replaces the session's code. In-flight redemptions of the
// old code become permanently invalid; recorded attendance is untouched.
// The active flag does not change.
func (s *SessionService) RegenerateCode(ctx context.Context, actorID, sessionID string) (*models.Session, error) {
	session, err := s.transition(ctx, actorID, sessionID, func(session *models.Session) error {
		if session.IsCompleted {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "session is completed")
		}
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return err
		}
		session.Code = code
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveCodeRegenerated()
	}
	return session, nil
}

// Delete removes a session that has no attendance history. Sessions with
// recorded attendance are immutable history and cannot be deleted.
func (s *SessionService) Delete(ctx context.Context, actorID, sessionID string) error {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.FacultyID != actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owning faculty can delete this session")
	}

	if err := s.repo.Delete(ctx, sessionID); err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionReferenced):
			return appErrors.Clone(appErrors.ErrConflict, "session has attendance records and cannot be deleted")
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
		}
	}
	return nil
}

func (s *SessionService) transition(ctx context.Context, actorID, sessionID string, apply func(*models.Session) error) (*models.Session, error) {
	session, err := s.repo.Transition(ctx, sessionID, func(session *models.Session) error {
		if session.FacultyID != actorID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the owning faculty can manage this session")
		}
		return apply(session)
	})
	if err != nil {
		var appErr *appErrors.Error
		switch {
		case errors.As(err, &appErr):
			return nil, appErr
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		case errors.Is(err, repository.ErrDuplicateCode):
			return nil, appErrors.Clone(appErrors.ErrCodeSpaceExhausted, "generated code collided, please retry")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
		}
	}
	return session, nil
}

func (s *SessionService) publish(event models.LifecycleEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(event)
}

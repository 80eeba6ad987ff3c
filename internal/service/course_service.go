package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	"github.com/acadly/remedial-api/internal/repository"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	ListByFaculty(ctx context.Context, facultyID string) ([]models.Course, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Course, error)
	Enroll(ctx context.Context, enrollment *models.Enrollment) error
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	ListEnrolledStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error)
}

// CourseService manages courses and student enrollment. Students enroll
// themselves using the public course code.
type CourseService struct {
	repo      courseRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs the course service.
func NewCourseService(repo courseRepository, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, validator: validate, logger: logger}
}

// CreateCourseRequest describes a new course.
type CreateCourseRequest struct {
	Code       string `json:"code" validate:"required,max=20"`
	Name       string `json:"name" validate:"required,max=200"`
	Department string `json:"department" validate:"max=100"`
	Semester   string `json:"semester" validate:"max=20"`
}

// EnrollRequest carries the course code a student enrolls with.
type EnrollRequest struct {
	CourseCode string `json:"course_code" validate:"required"`
}

// Create registers a new course owned by the acting faculty member.
func (s *CourseService) Create(ctx context.Context, actorID string, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course := &models.Course{
		Code:       strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:       req.Name,
		FacultyID:  actorID,
		Department: req.Department,
		Semester:   req.Semester,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		if errors.Is(err, repository.ErrDuplicateCode) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a course with this code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Get returns a course by ID.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// ListMine returns courses visible to the actor: owned courses for faculty,
// enrolled courses for students.
func (s *CourseService) ListMine(ctx context.Context, actor *models.JWTClaims) ([]models.Course, error) {
	var (
		courses []models.Course
		err     error
	)
	if actor.Role == models.RoleFaculty {
		courses, err = s.repo.ListByFaculty(ctx, actor.UserID)
	} else {
		courses, err = s.repo.ListByStudent(ctx, actor.UserID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// Enroll enrolls the acting student into the course matching the given code.
func (s *CourseService) Enroll(ctx context.Context, studentID string, req EnrollRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	course, err := s.repo.FindByCode(ctx, strings.ToUpper(strings.TrimSpace(req.CourseCode)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no course matches this code")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	enrollment := &models.Enrollment{CourseID: course.ID, StudentID: studentID}
	if err := s.repo.Enroll(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll")
	}

	s.logger.Info("student enrolled", zap.String("course_id", course.ID), zap.String("student_id", studentID))
	return course, nil
}

// ListStudents returns the roster of a course the actor owns.
func (s *CourseService) ListStudents(ctx context.Context, actorID, courseID string) ([]models.EnrolledStudent, error) {
	course, err := s.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.FacultyID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning faculty can view the roster")
	}
	students, err := s.repo.ListEnrolledStudents(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
	"github.com/acadly/remedial-api/pkg/jobs"
)

type notificationRepository interface {
	BulkInsert(ctx context.Context, notifications []models.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkAllRead(ctx context.Context, recipientID string) error
}

type enrollmentLister interface {
	ListEnrolledStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error)
}

type deliveryObserver interface {
	ObserveNotifications(count int)
}

// NotificationService fans lifecycle events out to per-recipient rows via an
// in-memory worker queue. Publishing never blocks session transitions: a full
// queue drops the event with a log line, it does not fail the request.
type NotificationService struct {
	repo        notificationRepository
	enrollments enrollmentLister
	metrics     deliveryObserver
	queue       *jobs.Queue
	logger      *zap.Logger
}

// NewNotificationService constructs the service and its fan-out queue.
func NewNotificationService(repo notificationRepository, enrollments enrollmentLister, metrics deliveryObserver, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		repo:        repo,
		enrollments: enrollments,
		metrics:     metrics,
		logger:      logger,
	}
	s.queue = jobs.NewQueue("notifications", s.handleEvent, cfg)
	return s
}

// Start begins queue consumption.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Publish enqueues a lifecycle event for asynchronous fan-out.
func (s *NotificationService) Publish(event models.LifecycleEvent) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(event.Kind),
		Payload: event,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("dropping lifecycle event",
			zap.String("kind", string(event.Kind)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

// ListMine returns the caller's notifications, newest first.
func (s *NotificationService) ListMine(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	notifications, err := s.repo.ListByRecipient(ctx, recipientID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// UnreadCount returns the caller's unread notification count.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkAllRead flags all of the caller's notifications as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) error {
	if err := s.repo.MarkAllRead(ctx, recipientID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return nil
}

func (s *NotificationService) handleEvent(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.LifecycleEvent)
	if !ok {
		s.logger.Error("unexpected job payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}

	recipients := event.Audience
	if len(recipients) == 0 {
		students, err := s.enrollments.ListEnrolledStudents(ctx, event.CourseID)
		if err != nil {
			return fmt.Errorf("resolve recipients for %s: %w", event.SessionID, err)
		}
		recipients = make([]string, 0, len(students))
		for _, student := range students {
			recipients = append(recipients, student.StudentID)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	sessionID := event.SessionID
	notifications := make([]models.Notification, 0, len(recipients))
	for _, recipientID := range recipients {
		notifications = append(notifications, models.Notification{
			RecipientID: recipientID,
			Kind:        event.Kind,
			Title:       event.Title,
			Message:     event.Message,
			SessionID:   &sessionID,
		})
	}

	if err := s.repo.BulkInsert(ctx, notifications); err != nil {
		return fmt.Errorf("fan out %s to %d recipients: %w", event.Kind, len(notifications), err)
	}
	if s.metrics != nil {
		s.metrics.ObserveNotifications(len(notifications))
	}
	s.logger.Debug("lifecycle event delivered",
		zap.String("kind", string(event.Kind)),
		zap.String("session_id", event.SessionID),
		zap.Int("recipients", len(notifications)))
	return nil
}

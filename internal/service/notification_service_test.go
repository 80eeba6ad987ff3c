package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadly/remedial-api/internal/models"
	"github.com/acadly/remedial-api/pkg/jobs"
)

type mockNotificationRepo struct {
	mu       sync.Mutex
	inserted []models.Notification
	done     chan struct{}
}

func (m *mockNotificationRepo) BulkInsert(ctx context.Context, notifications []models.Notification) error {
	m.mu.Lock()
	m.inserted = append(m.inserted, notifications...)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return nil
}

func (m *mockNotificationRepo) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Notification
	for _, n := range m.inserted {
		if n.RecipientID == recipientID {
			list = append(list, n)
		}
	}
	return list, nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.inserted {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.inserted {
		if m.inserted[i].RecipientID == recipientID {
			m.inserted[i].IsRead = true
		}
	}
	return nil
}

type mockEnrollmentLister struct {
	students map[string][]models.EnrolledStudent
}

func (m *mockEnrollmentLister) ListEnrolledStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error) {
	return m.students[courseID], nil
}

type countObserver struct {
	mu    sync.Mutex
	total int
}

func (o *countObserver) ObserveNotifications(count int) {
	o.mu.Lock()
	o.total += count
	o.mu.Unlock()
}

func waitDelivered(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fan-out")
	}
}

func TestNotificationFanOutToEnrolled(t *testing.T) {
	repo := &mockNotificationRepo{done: make(chan struct{}, 1)}
	enrollments := &mockEnrollmentLister{students: map[string][]models.EnrolledStudent{
		"c1": {{StudentID: "stu1"}, {StudentID: "stu2"}},
	}}
	observer := &countObserver{}
	svc := NewNotificationService(repo, enrollments, observer, jobs.QueueConfig{Workers: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.Publish(models.LifecycleEvent{
		Kind:      models.NotifyCodeActivated,
		SessionID: "s1",
		CourseID:  "c1",
		Title:     "Attendance open",
		Message:   "Code: ABCD2345",
	})
	waitDelivered(t, repo.done)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.inserted, 2)
	assert.Equal(t, models.NotifyCodeActivated, repo.inserted[0].Kind)
	require.NotNil(t, repo.inserted[0].SessionID)
	assert.Equal(t, "s1", *repo.inserted[0].SessionID)
	assert.Equal(t, 2, observer.total)
}

func TestNotificationFanOutHonorsAudience(t *testing.T) {
	repo := &mockNotificationRepo{done: make(chan struct{}, 1)}
	enrollments := &mockEnrollmentLister{students: map[string][]models.EnrolledStudent{
		"c1": {{StudentID: "stu1"}, {StudentID: "stu2"}},
	}}
	svc := NewNotificationService(repo, enrollments, nil, jobs.QueueConfig{Workers: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.Publish(models.LifecycleEvent{
		Kind:      models.NotifyAttendanceMarked,
		SessionID: "s1",
		CourseID:  "c1",
		Audience:  []string{"f1"},
		Title:     "Attendance marked",
	})
	waitDelivered(t, repo.done)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.inserted, 1)
	assert.Equal(t, "f1", repo.inserted[0].RecipientID)
}

func TestNotificationPublishBeforeStartDrops(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := NewNotificationService(repo, &mockEnrollmentLister{}, nil, jobs.QueueConfig{Workers: 1}, zap.NewNop())

	// Must not block or panic; the event is dropped with a warning.
	svc.Publish(models.LifecycleEvent{Kind: models.NotifySessionScheduled, SessionID: "s1", CourseID: "c1"})

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Empty(t, repo.inserted)
}

func TestNotificationReadTracking(t *testing.T) {
	repo := &mockNotificationRepo{inserted: []models.Notification{
		{ID: "n1", RecipientID: "stu1", Kind: models.NotifySessionScheduled},
		{ID: "n2", RecipientID: "stu1", Kind: models.NotifyCodeActivated},
		{ID: "n3", RecipientID: "stu2", Kind: models.NotifySessionScheduled},
	}}
	svc := NewNotificationService(repo, &mockEnrollmentLister{}, nil, jobs.QueueConfig{}, zap.NewNop())

	count, err := svc.UnreadCount(context.Background(), "stu1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, svc.MarkAllRead(context.Background(), "stu1"))

	count, err = svc.UnreadCount(context.Background(), "stu1")
	require.NoError(t, err)
	assert.Zero(t, count)

	list, err := svc.ListMine(context.Background(), "stu2", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsRead)
}

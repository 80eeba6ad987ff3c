package models

import "time"

// NotificationKind classifies lifecycle notifications.
type NotificationKind string

const (
	NotifySessionScheduled NotificationKind = "SESSION_SCHEDULED"
	NotifyCodeActivated    NotificationKind = "CODE_ACTIVATED"
	NotifyAttendanceMarked NotificationKind = "ATTENDANCE_MARKED"
)

// Notification is a persisted message for one recipient.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Kind        NotificationKind `db:"kind" json:"kind"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	SessionID   *string          `db:"session_id" json:"session_id,omitempty"`
	IsRead      bool             `db:"is_read" json:"is_read"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// LifecycleEvent is the payload handed to the notification queue when a
// session transitions. Fan-out to recipients happens asynchronously.
type LifecycleEvent struct {
	Kind      NotificationKind `json:"kind"`
	SessionID string           `json:"session_id"`
	CourseID  string           `json:"course_id"`
	FacultyID string           `json:"faculty_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	// Audience limits delivery to specific recipients. Empty means all
	// students enrolled in the course.
	Audience []string `json:"audience,omitempty"`
}

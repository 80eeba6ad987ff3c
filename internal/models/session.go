package models

import "time"

// Session is a scheduled makeup class carrying a one-time attendance code.
//
// State machine over (IsActive, IsCompleted):
//
//	Scheduled (false, false) <-> Activated (true, false) -> Completed (false, true)
//
// Completed is terminal. IsCompleted implies IsActive == false.
type Session struct {
	ID            string     `db:"id" json:"id"`
	CourseID      string     `db:"course_id" json:"course_id"`
	FacultyID     string     `db:"faculty_id" json:"faculty_id"`
	Title         string     `db:"title" json:"title"`
	Reason        string     `db:"reason" json:"reason,omitempty"`
	Venue         string     `db:"venue" json:"venue"`
	ScheduledDate time.Time  `db:"scheduled_date" json:"scheduled_date"`
	StartTime     string     `db:"start_time" json:"start_time"`
	EndTime       string     `db:"end_time" json:"end_time"`
	Code          string     `db:"code" json:"code"`
	CodeExpiresAt *time.Time `db:"code_expires_at" json:"code_expires_at,omitempty"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	IsCompleted   bool       `db:"is_completed" json:"is_completed"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// State labels the session lifecycle for API consumers.
func (s *Session) State() string {
	switch {
	case s.IsCompleted:
		return "COMPLETED"
	case s.IsActive:
		return "ACTIVATED"
	default:
		return "SCHEDULED"
	}
}

// CodeExpired reports whether the code has an expiry stamp in the past.
func (s *Session) CodeExpired(now time.Time) bool {
	return s.CodeExpiresAt != nil && now.After(*s.CodeExpiresAt)
}

// SessionDetail enriches a session with course context.
type SessionDetail struct {
	Session
	CourseCode string `db:"course_code" json:"course_code"`
	CourseName string `db:"course_name" json:"course_name"`
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	FacultyID string
	StudentID string
	CourseID  string
	State     string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

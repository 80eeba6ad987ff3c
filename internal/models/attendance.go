package models

import "time"

// AttendanceMethod records how a student was marked present.
type AttendanceMethod string

const (
	MethodCode   AttendanceMethod = "CODE"
	MethodManual AttendanceMethod = "MANUAL"
	MethodOther  AttendanceMethod = "OTHER"
)

// Valid reports whether the method is one of the known methods.
func (m AttendanceMethod) Valid() bool {
	return m == MethodCode || m == MethodManual || m == MethodOther
}

// AttendanceRecord is an immutable proof of presence. The pair
// (SessionID, StudentID) is unique at the schema level; records are never
// updated or deleted under normal operation.
type AttendanceRecord struct {
	ID        string           `db:"id" json:"id"`
	SessionID string           `db:"session_id" json:"session_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Method    AttendanceMethod `db:"method" json:"method"`
	MarkedAt  time.Time        `db:"marked_at" json:"marked_at"`
	IPAddress string           `db:"ip_address" json:"ip_address,omitempty"`
}

// AttendanceDetail joins a record with student and session context.
type AttendanceDetail struct {
	AttendanceRecord
	StudentName  string `db:"student_name" json:"student_name"`
	SessionTitle string `db:"session_title" json:"session_title"`
	CourseCode   string `db:"course_code" json:"course_code"`
}

// SessionStats summarises attendance for a single session.
type SessionStats struct {
	SessionID      string                   `json:"session_id"`
	EnrolledCount  int                      `json:"enrolled_count"`
	PresentCount   int                      `json:"present_count"`
	AbsentCount    int                      `json:"absent_count"`
	AttendanceRate float64                  `json:"attendance_rate"`
	ByMethod       map[AttendanceMethod]int `json:"by_method"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

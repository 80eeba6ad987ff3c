package models

import "time"

// Course groups sessions and enrollments under one faculty owner.
type Course struct {
	ID         string    `db:"id" json:"id"`
	Code       string    `db:"code" json:"code"`
	Name       string    `db:"name" json:"name"`
	FacultyID  string    `db:"faculty_id" json:"faculty_id"`
	Department string    `db:"department" json:"department,omitempty"`
	Semester   string    `db:"semester" json:"semester,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Enrollment links a student to a course. The (course, student) pair is
// unique at the schema level.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// EnrolledStudent is an enrollment joined with student identity, used for
// attendance sheets and notification fan-out.
type EnrolledStudent struct {
	StudentID string `db:"student_id" json:"student_id"`
	FullName  string `db:"full_name" json:"full_name"`
	Email     string `db:"email" json:"email"`
}

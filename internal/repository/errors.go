package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors surfaced to services so they can map storage conflicts onto
// the domain taxonomy without parsing driver errors themselves.
var (
	// ErrDuplicateCode reports a violation of the unique index on sessions.code.
	ErrDuplicateCode = errors.New("session code already exists")
	// ErrDuplicateAttendance reports a violation of the unique
	// (session_id, student_id) constraint.
	ErrDuplicateAttendance = errors.New("attendance already recorded for session and student")
	// ErrDuplicateEnrollment reports a violation of the unique
	// (course_id, student_id) constraint.
	ErrDuplicateEnrollment = errors.New("student already enrolled in course")
	// ErrStaleSession reports that a guarded insert matched no session row,
	// meaning the code was regenerated or the session deactivated in flight.
	ErrStaleSession = errors.New("session code or state changed during redemption")
	// ErrSessionReferenced reports that attendance records still reference the
	// session; deletion is restricted by the schema.
	ErrSessionReferenced = errors.New("attendance records reference this session")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}

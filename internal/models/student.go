package models

import (
	"strings"
	"time"
)

// Student is a learner identity record. ID is the mutable institutional
// student number.
type Student struct {
	ID           int64      `db:"id" json:"id"`
	FirstName    string     `db:"first_name" json:"first_name"`
	MiddleName   *string    `db:"middle_name" json:"middle_name,omitempty"`
	LastName     string     `db:"last_name" json:"last_name"`
	Email        *string    `db:"email" json:"email,omitempty"`
	CourseID     *string    `db:"course_id" json:"course_id,omitempty"`
	AcademicYear *string    `db:"academic_year" json:"academic_year,omitempty"`
	Status       string     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// FullName joins the name parts, skipping blanks.
func (s Student) FullName() string {
	parts := []string{strings.TrimSpace(s.FirstName)}
	if s.MiddleName != nil {
		parts = append(parts, strings.TrimSpace(*s.MiddleName))
	}
	parts = append(parts, strings.TrimSpace(s.LastName))
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// Deleted reports whether the student row is soft-deleted.
func (s Student) Deleted() bool {
	return s.DeletedAt != nil
}

// EmailAddress returns the email or an empty string.
func (s Student) EmailAddress() string {
	if s.Email == nil {
		return ""
	}
	return *s.Email
}

package models

import "time"

// EnrollmentStatus represents the lifecycle of a class enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive  EnrollmentStatus = "ACTIVE"
	EnrollmentStatusDropped EnrollmentStatus = "DROPPED"
)

// ClassEnrollment links a student to one section.
type ClassEnrollment struct {
	ID        string           `db:"id" json:"id"`
	ClassID   string           `db:"class_id" json:"class_id"`
	StudentID int64            `db:"student_id" json:"student_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// SubjectEnrollment records a student's registration in a subject, with a
// denormalised section that follows the class enrollment.
type SubjectEnrollment struct {
	ID           string    `db:"id" json:"id"`
	StudentID    int64     `db:"student_id" json:"student_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	ClassID      *string   `db:"class_id" json:"class_id,omitempty"`
	Section      *string   `db:"section" json:"section,omitempty"`
	SchoolYear   string    `db:"school_year" json:"school_year"`
	Semester     int       `db:"semester" json:"semester"`
	Grade        *string   `db:"grade" json:"grade,omitempty"`
	CreditStatus *string   `db:"credit_status" json:"credit_status,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectEnrollmentDetail joins the subject catalogue for printable forms.
type SubjectEnrollmentDetail struct {
	SubjectEnrollment
	SubjectCode  string `db:"subject_code" json:"subject_code"`
	SubjectTitle string `db:"subject_title" json:"subject_title"`
	Units        int    `db:"units" json:"units"`
}

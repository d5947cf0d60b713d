package models

import (
	"fmt"
	"strings"
	"time"
)

// Class is a section offering: one subject code taught as one section in a
// given school year and semester.
type Class struct {
	ID           string    `db:"id" json:"id"`
	SubjectCode  string    `db:"subject_code" json:"subject_code"`
	Section      string    `db:"section" json:"section"`
	SchoolYear   string    `db:"school_year" json:"school_year"`
	Semester     int       `db:"semester" json:"semester"`
	MaximumSlots int       `db:"maximum_slots" json:"maximum_slots"`
	FacultyID    *string   `db:"faculty_id" json:"faculty_id,omitempty"`
	RoomID       *string   `db:"room_id" json:"room_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Label renders the human readable section name, e.g. "MATH101 - A".
func (c Class) Label() string {
	return fmt.Sprintf("%s - %s", strings.TrimSpace(c.SubjectCode), strings.TrimSpace(c.Section))
}

// Limited reports whether the section enforces a capacity.
func (c Class) Limited() bool {
	return c.MaximumSlots > 0
}

// SameSubject compares subject codes ignoring case and surrounding spaces.
func (c Class) SameSubject(other Class) bool {
	return NormalizeSubjectCode(c.SubjectCode) == NormalizeSubjectCode(other.SubjectCode)
}

// SamePeriod reports whether both sections belong to the same school year and semester.
func (c Class) SamePeriod(other Class) bool {
	return strings.TrimSpace(c.SchoolYear) == strings.TrimSpace(other.SchoolYear) && c.Semester == other.Semester
}

// NormalizeSubjectCode canonicalises a subject code for comparison.
func NormalizeSubjectCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ClassWithCount pairs a section with its live enrollment count.
type ClassWithCount struct {
	Class
	EnrolledCount int `db:"enrolled_count" json:"enrolled_count"`
}

// TransferTarget is a sibling section a student can be moved to.
type TransferTarget struct {
	ClassID        string `json:"class_id"`
	Label          string `json:"label"`
	SubjectCode    string `json:"subject_code"`
	Section        string `json:"section"`
	MaximumSlots   int    `json:"maximum_slots"`
	EnrolledCount  int    `json:"enrolled_count"`
	AvailableSlots int    `json:"available_slots"`
	IsFull         bool   `json:"is_full"`
}

// NewTransferTarget computes capacity fields. Unlimited sections report
// AvailableSlots -1 and are never full.
func NewTransferTarget(c ClassWithCount) TransferTarget {
	t := TransferTarget{
		ClassID:        c.ID,
		Label:          c.Label(),
		SubjectCode:    c.SubjectCode,
		Section:        c.Section,
		MaximumSlots:   c.MaximumSlots,
		EnrolledCount:  c.EnrolledCount,
		AvailableSlots: -1,
	}
	if c.Limited() {
		t.AvailableSlots = c.MaximumSlots - c.EnrolledCount
		if t.AvailableSlots < 0 {
			t.AvailableSlots = 0
		}
		t.IsFull = t.AvailableSlots == 0
	}
	return t
}

// Subject is a curriculum item.
type Subject struct {
	ID    string `db:"id" json:"id"`
	Code  string `db:"code" json:"code"`
	Title string `db:"title" json:"title"`
	Units int    `db:"units" json:"units"`
}

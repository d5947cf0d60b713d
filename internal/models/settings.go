package models

import (
	"fmt"
	"time"
)

// AcademicPeriod is the current school year and semester.
type AcademicPeriod struct {
	SchoolYear string `db:"school_year" json:"school_year"`
	Semester   int    `db:"semester" json:"semester"`
}

// String renders e.g. "2024 - 2025 / 1".
func (p AcademicPeriod) String() string {
	return fmt.Sprintf("%s / %d", p.SchoolYear, p.Semester)
}

// Valid reports whether both parts are set.
func (p AcademicPeriod) Valid() bool {
	return p.SchoolYear != "" && p.Semester > 0
}

// GeneralSettings is the single configuration row.
type GeneralSettings struct {
	ID         string    `db:"id" json:"id"`
	SchoolYear string    `db:"school_year" json:"school_year"`
	Semester   int       `db:"semester" json:"semester"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// StudentIDChangeLog is the audit and reversal record of one renumbering.
type StudentIDChangeLog struct {
	ID              string         `db:"id" json:"id"`
	OldStudentID    int64          `db:"old_student_id" json:"old_student_id"`
	NewStudentID    int64          `db:"new_student_id" json:"new_student_id"`
	StudentName     string         `db:"student_name" json:"student_name"`
	ChangedBy       string         `db:"changed_by" json:"changed_by"`
	AffectedRecords types.JSONText `db:"affected_records" json:"affected_records"`
	BackupData      types.JSONText `db:"backup_data" json:"backup_data"`
	Reason          *string        `db:"reason" json:"reason,omitempty"`
	IsUndone        bool           `db:"is_undone" json:"is_undone"`
	UndoneAt        *time.Time     `db:"undone_at" json:"undone_at,omitempty"`
	UndoneBy        *string        `db:"undone_by" json:"undone_by,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// ChangeLogFilter narrows change log listings.
type ChangeLogFilter struct {
	StudentID     *int64
	IncludeUndone bool
	Page          int
	PageSize      int
}

// AffectedRecords holds per-table row counts touched by a renumbering.
type AffectedRecords struct {
	Tables       map[string]int `json:"tables"`
	TotalUpdated int            `json:"total_updated"`
}

// Add records n rows for table.
func (a *AffectedRecords) Add(table string, n int) {
	if a.Tables == nil {
		a.Tables = make(map[string]int)
	}
	a.Tables[table] += n
	a.TotalUpdated += n
}

// SafetyWarning is a soft signal that a renumbering is high risk.
type SafetyWarning struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
}

// Safety warning codes.
const (
	WarningActiveEnrollments  = "ACTIVE_ENROLLMENTS"
	WarningRecentTransactions = "RECENT_TRANSACTIONS"
)

// StudentIDChangeResult is returned by a successful renumbering or undo.
type StudentIDChangeResult struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	ChangeLogID  string          `json:"change_log_id"`
	OldStudentID int64           `json:"old_student_id"`
	NewStudentID int64           `json:"new_student_id"`
	StudentName  string          `json:"student_name"`
	Affected     AffectedRecords `json:"affected_records"`
	Warnings     []SafetyWarning `json:"warnings,omitempty"`
}

// TableCount is one row of an affected-records summary.
type TableCount struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	Count    int    `json:"count"`
	Optional bool   `json:"optional"`
}

// AffectedRecordsSummary counts rows per table referencing a student id.
type AffectedRecordsSummary struct {
	StudentID int64        `json:"student_id"`
	Tables    []TableCount `json:"tables"`
	Skipped   []string     `json:"skipped,omitempty"`
	Total     int          `json:"total"`
}

// DryRunResult is the no-write preview of a renumbering.
type DryRunResult struct {
	StudentID    int64                  `json:"student_id"`
	NewStudentID int64                  `json:"new_student_id"`
	StudentName  string                 `json:"student_name"`
	Valid        bool                   `json:"valid"`
	Errors       []string               `json:"errors,omitempty"`
	Warnings     []SafetyWarning        `json:"warnings,omitempty"`
	Summary      AffectedRecordsSummary `json:"summary"`
}

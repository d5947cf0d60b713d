package dto

// ChangeStudentIDRequest renumbers a student.
type ChangeStudentIDRequest struct {
	StudentID          int64  `json:"-" validate:"required,gt=0"`
	NewStudentID       int64  `json:"newStudentId" validate:"required,gt=0"`
	Reason             string `json:"reason" validate:"omitempty,max=500"`
	BypassSafetyChecks bool   `json:"bypassSafetyChecks"`
	Confirmed          bool   `json:"confirmed"`
}

// ChangeLogQuery mirrors change log listing filters.
type ChangeLogQuery struct {
	StudentID     *int64
	IncludeUndone bool
	Page          int
	PageSize      int
}

package models

// TransferResult describes a completed section transfer.
type TransferResult struct {
	EnrollmentID             string   `json:"enrollment_id"`
	StudentID                int64    `json:"student_id"`
	StudentName              string   `json:"student_name"`
	OldClassID               string   `json:"old_class_id"`
	NewClassID               string   `json:"new_class_id"`
	OldSection               string   `json:"old_section"`
	NewSection               string   `json:"new_section"`
	SubjectCode              string   `json:"subject_code"`
	SubjectEnrollmentUpdated bool     `json:"subject_enrollment_updated"`
	DuplicateRemoved         bool     `json:"duplicate_removed"`
	Warnings                 []string `json:"warnings,omitempty"`
}

// BulkTransferError records one failed item of a bulk transfer.
type BulkTransferError struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentID    *int64 `json:"student_id,omitempty"`
	StudentName  string `json:"student_name,omitempty"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// BulkTransferResult aggregates a best-effort batch.
type BulkTransferResult struct {
	Total        int                 `json:"total"`
	SuccessCount int                 `json:"success_count"`
	ErrorCount   int                 `json:"error_count"`
	Skipped      int                 `json:"skipped"`
	Cancelled    bool                `json:"cancelled"`
	TimedOut     bool                `json:"timed_out"`
	Results      []TransferResult    `json:"results"`
	Errors       []BulkTransferError `json:"errors"`
}

package models

import "time"

// DocumentType enumerates printable documents.
type DocumentType string

const (
	DocumentTransferSlip        DocumentType = "transfer_slip"
	DocumentIDChangeCertificate DocumentType = "id_change_certificate"
	DocumentAssessmentForm      DocumentType = "assessment_form"
	DocumentConflictReport      DocumentType = "conflict_report"
)

// GeneratedDocument describes a rendered file and how to download it.
type GeneratedDocument struct {
	ID          string       `json:"id"`
	Type        DocumentType `json:"type"`
	Filename    string       `json:"filename"`
	Path        string       `json:"-"`
	Size        int64        `json:"size"`
	DownloadURL string       `json:"download_url"`
	ExpiresAt   time.Time    `json:"expires_at"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
}

// JobAccepted is returned when work is handed to a background queue.
type JobAccepted struct {
	JobID  string `json:"job_id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

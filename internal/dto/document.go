package dto

import "github.com/noah-isme/sma-records-api/internal/models"

// GenerateDocumentRequest asks for a printable document.
type GenerateDocumentRequest struct {
	Type        models.DocumentType `json:"type" validate:"required,oneof=transfer_slip id_change_certificate assessment_form conflict_report"`
	StudentID   int64               `json:"studentId" validate:"required_if=Type assessment_form"`
	ChangeLogID string              `json:"changeLogId" validate:"required_if=Type id_change_certificate"`
	Transfer    *TransferSlipInput  `json:"transfer" validate:"required_if=Type transfer_slip"`
	SchoolYear  string              `json:"schoolYear"`
	Semester    int                 `json:"semester" validate:"omitempty,min=1,max=3"`
}

// TransferSlipInput carries a completed transfer for slip rendering.
type TransferSlipInput struct {
	EnrollmentID string `json:"enrollmentId"`
	StudentID    int64  `json:"studentId" validate:"required"`
	StudentName  string `json:"studentName"`
	OldClassID   string `json:"oldClassId" validate:"required"`
	NewClassID   string `json:"newClassId" validate:"required"`
	OldSection   string `json:"oldSection"`
	NewSection   string `json:"newSection"`
	SubjectCode  string `json:"subjectCode"`
}

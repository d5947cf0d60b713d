package dto

// TransferRequest moves one class enrollment to a sibling section.
type TransferRequest struct {
	EnrollmentID      string `json:"-" validate:"required"`
	TargetClassID     string `json:"targetClassId" validate:"required"`
	AllowOverCapacity bool   `json:"allowOverCapacity"`
}

// BulkTransferRequest moves several enrollments to one target section.
type BulkTransferRequest struct {
	EnrollmentIDs     []string `json:"enrollmentIds" validate:"required,min=1,dive,required"`
	TargetClassID     string   `json:"targetClassId" validate:"required"`
	AllowOverCapacity bool     `json:"allowOverCapacity"`
	NotifyEmail       string   `json:"notifyEmail" validate:"omitempty,email"`
}

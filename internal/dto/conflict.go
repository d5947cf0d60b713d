package dto

import "github.com/noah-isme/sma-records-api/internal/models"

// ConflictQuery selects the academic period to scan. Empty fields fall back
// to the current period.
type ConflictQuery struct {
	SchoolYear string `form:"schoolYear"`
	Semester   int    `form:"semester" validate:"omitempty,min=1,max=3"`
	Refresh    bool   `form:"refresh"`
}

// SuggestionKind selects which suggestion to apply.
type SuggestionKind string

const (
	SuggestionRoom     SuggestionKind = "room"
	SuggestionTimeSlot SuggestionKind = "time_slot"
	SuggestionSplit    SuggestionKind = "split"
)

// ApplySuggestionRequest applies one resolution suggestion to a schedule.
type ApplySuggestionRequest struct {
	Kind   SuggestionKind    `json:"kind" validate:"required,oneof=room time_slot split"`
	RoomID string            `json:"roomId" validate:"required_if=Kind room"`
	Day    string            `json:"day"`
	Start  *models.ClockTime `json:"start" validate:"required_if=Kind time_slot"`
	End    *models.ClockTime `json:"end" validate:"required_if=Kind time_slot"`
}

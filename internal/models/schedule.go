package models

import (
	"strconv"
	"time"
)

// Schedule is a weekly meeting of a section.
type Schedule struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	DayOfWeek string    `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	RoomID    *string   `db:"room_id" json:"room_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ScheduleRow is a schedule joined with its section, room and faculty.
type ScheduleRow struct {
	Schedule
	SubjectCode string  `db:"subject_code" json:"subject_code"`
	Section     string  `db:"section" json:"section"`
	SchoolYear  string  `db:"school_year" json:"school_year"`
	Semester    int     `db:"semester" json:"semester"`
	FacultyID   *string `db:"faculty_id" json:"faculty_id,omitempty"`
	FacultyName *string `db:"faculty_name" json:"faculty_name,omitempty"`
	RoomName    *string `db:"room_name" json:"room_name,omitempty"`
}

// Period returns the academic period of the schedule's section.
func (r ScheduleRow) Period() AcademicPeriod {
	return AcademicPeriod{SchoolYear: r.SchoolYear, Semester: r.Semester}
}

// ClassStudent pairs a section with an enrolled student.
type ClassStudent struct {
	ClassID   string `db:"class_id"`
	StudentID int64  `db:"student_id"`
}

// Room is a bookable teaching space.
type Room struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Capacity *int   `db:"capacity" json:"capacity,omitempty"`
}

// ScheduleEntry is the in-memory view used for conflict detection.
type ScheduleEntry struct {
	ScheduleID  string    `json:"schedule_id"`
	ClassID     string    `json:"class_id"`
	ClassLabel  string    `json:"class_label"`
	Day         string    `json:"day"`
	Start       ClockTime `json:"start"`
	End         ClockTime `json:"end"`
	RoomID      string    `json:"room_id,omitempty"`
	RoomName    string    `json:"room_name,omitempty"`
	FacultyID   string    `json:"faculty_id,omitempty"`
	FacultyName string    `json:"faculty_name,omitempty"`
	StudentIDs  []int64   `json:"student_ids,omitempty"`
}

// Duration returns the entry length in minutes.
func (e ScheduleEntry) Duration() int {
	return int(e.End - e.Start)
}

// ConflictType classifies a timetable conflict.
type ConflictType string

// ConflictSeverity ranks conflicts for notification purposes.
type ConflictSeverity string

const (
	ConflictTypeRoom    ConflictType = "room"
	ConflictTypeFaculty ConflictType = "faculty"
	ConflictTypeStudent ConflictType = "student"

	SeverityHigh   ConflictSeverity = "high"
	SeverityMedium ConflictSeverity = "medium"
)

// ConflictSlot is the compact description of one side of a conflict.
type ConflictSlot struct {
	ScheduleID string    `json:"schedule_id"`
	ClassID    string    `json:"class_id"`
	ClassLabel string    `json:"class_label"`
	Start      ClockTime `json:"start"`
	End        ClockTime `json:"end"`
}

// SlotOf extracts the conflict slot for an entry.
func SlotOf(e ScheduleEntry) ConflictSlot {
	return ConflictSlot{ScheduleID: e.ScheduleID, ClassID: e.ClassID, ClassLabel: e.ClassLabel, Start: e.Start, End: e.End}
}

// Conflict is a single overlapping pair within a grouping bucket.
type Conflict struct {
	Type     ConflictType     `json:"type"`
	Severity ConflictSeverity `json:"severity"`
	Day      string           `json:"day"`
	Key      string           `json:"key"`
	KeyLabel string           `json:"key_label,omitempty"`
	First    ConflictSlot     `json:"first"`
	Second   ConflictSlot     `json:"second"`
}

// StudentKey formats a student id as a conflict key.
func StudentKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ConflictReport groups detected conflicts by type: room, faculty and student.
type ConflictReport struct {
	RoomConflicts    []Conflict `json:"room_conflicts"`
	FacultyConflicts []Conflict `json:"faculty_conflicts"`
	StudentConflicts []Conflict `json:"student_conflicts"`
	GeneratedAt      time.Time  `json:"generated_at"`
}

// All returns every conflict in report order.
func (r ConflictReport) All() []Conflict {
	out := make([]Conflict, 0, len(r.RoomConflicts)+len(r.FacultyConflicts)+len(r.StudentConflicts))
	out = append(out, r.RoomConflicts...)
	out = append(out, r.FacultyConflicts...)
	return append(out, r.StudentConflicts...)
}

// ConflictSummary aggregates counts for dashboards and notifications.
type ConflictSummary struct {
	Total        int                      `json:"total"`
	BySeverity   map[ConflictSeverity]int `json:"by_severity"`
	ByType       map[ConflictType]int     `json:"by_type"`
	HasConflicts bool                     `json:"has_conflicts"`
}

// RoomSuggestion proposes a free room for a schedule.
type RoomSuggestion struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
	Capacity *int   `json:"capacity,omitempty"`
}

// TimeSlotSuggestion proposes a free slot of the same duration.
type TimeSlotSuggestion struct {
	Day   string    `json:"day"`
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// SplitSuggestion proposes dividing a long session into two meetings.
type SplitSuggestion struct {
	First  TimeSlotSuggestion `json:"first"`
	Second TimeSlotSuggestion `json:"second"`
}

// ResolutionSuggestions bundles all suggestions for one schedule.
type ResolutionSuggestions struct {
	ScheduleID string               `json:"schedule_id"`
	Rooms      []RoomSuggestion     `json:"rooms"`
	TimeSlots  []TimeSlotSuggestion `json:"time_slots"`
	Split      *SplitSuggestion     `json:"split,omitempty"`
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/pkg/database"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

const (
	// splitThresholdMinutes is the shortest session that may be split in two.
	splitThresholdMinutes = 180

	firstCandidateHour = 7
	lastCandidateHour  = 18
)

// dayEnd bounds candidate slots; no suggestion ends after 19:00.
var dayEnd = models.Clock(19, 0)

type scheduleWriter interface {
	UpdateRoom(ctx context.Context, exec sqlx.ExtContext, id, roomID string, updatedAt time.Time) error
	UpdateTime(ctx context.Context, exec sqlx.ExtContext, id, day string, start, end models.ClockTime, updatedAt time.Time) error
}

type roomReader interface {
	List(ctx context.Context) ([]models.Room, error)
}

// ConflictResolutionService proposes and applies fixes for conflicting schedules.
type ConflictResolutionService struct {
	schedules scheduleReader
	writer    scheduleWriter
	rooms     roomReader
	students  classStudentReader
	conflicts *TimetableConflictService
	tx        txProvider
	audit     auditTrail
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// ResolutionOption configures optional collaborators.
type ResolutionOption func(*ConflictResolutionService)

// WithResolutionAudit records an audit row for every applied suggestion.
func WithResolutionAudit(repo auditLogger) ResolutionOption {
	return func(s *ConflictResolutionService) { s.audit.repo = repo }
}

// WithConflictInvalidation drops cached conflict reports after an apply.
func WithConflictInvalidation(conflicts *TimetableConflictService) ResolutionOption {
	return func(s *ConflictResolutionService) { s.conflicts = conflicts }
}

// NewConflictResolutionService constructs the service.
func NewConflictResolutionService(schedules scheduleReader, writer scheduleWriter, rooms roomReader, students classStudentReader, tx txProvider, logger *zap.Logger, opts ...ResolutionOption) *ConflictResolutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ConflictResolutionService{
		schedules: schedules,
		writer:    writer,
		rooms:     rooms,
		students:  students,
		tx:        tx,
		validator: validator.New(),
		logger:    logger,
		audit:     auditTrail{logger: logger, component: "timetable"},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Suggest bundles room, time slot and split suggestions for a schedule.
func (s *ConflictResolutionService) Suggest(ctx context.Context, scheduleID string) (*models.ResolutionSuggestions, error) {
	target, day, err := s.loadDay(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	rooms, err := s.freeRooms(ctx, target, day)
	if err != nil {
		return nil, err
	}
	return &models.ResolutionSuggestions{
		ScheduleID: scheduleID,
		Rooms:      rooms,
		TimeSlots:  freeSlots(target, day),
		Split:      s.SuggestSplit(target),
	}, nil
}

// SuggestRooms lists rooms free for the schedule's whole meeting.
func (s *ConflictResolutionService) SuggestRooms(ctx context.Context, scheduleID string) ([]models.RoomSuggestion, error) {
	target, day, err := s.loadDay(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return s.freeRooms(ctx, target, day)
}

// SuggestTimeSlots lists same-day hour-aligned slots of the same length that
// neither the room nor the faculty member has booked.
func (s *ConflictResolutionService) SuggestTimeSlots(ctx context.Context, scheduleID string) ([]models.TimeSlotSuggestion, error) {
	target, day, err := s.loadDay(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return freeSlots(target, day), nil
}

// SuggestSplit proposes two meetings for sessions of three hours or more.
// The second half moves to the next school day at the same start time.
func (s *ConflictResolutionService) SuggestSplit(entry models.ScheduleEntry) *models.SplitSuggestion {
	duration := entry.Duration()
	if duration < splitThresholdMinutes {
		return nil
	}
	first := duration / 2
	second := duration - first
	return &models.SplitSuggestion{
		First:  models.TimeSlotSuggestion{Day: entry.Day, Start: entry.Start, End: entry.Start + models.ClockTime(first)},
		Second: models.TimeSlotSuggestion{Day: nextSchoolDay(entry.Day), Start: entry.Start, End: entry.Start + models.ClockTime(second)},
	}
}

// Apply moves a schedule to the suggested room or time after re-checking
// that the destination is still free.
func (s *ConflictResolutionService) Apply(ctx context.Context, scheduleID string, req dto.ApplySuggestionRequest, actor models.Operator) (*models.ScheduleRow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid suggestion")
	}
	row, err := s.findSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	target, err := toScheduleEntry(*row)
	if err != nil {
		return nil, validationError(err, "schedule has an invalid time range")
	}

	var apply func(tx *sqlx.Tx) error
	switch req.Kind {
	case dto.SuggestionRoom:
		apply, err = s.planRoom(ctx, row, target, req.RoomID)
	case dto.SuggestionTimeSlot:
		apply, err = s.planTime(ctx, row, target, req)
	case dto.SuggestionSplit:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "split suggestions must be applied manually")
	default:
		return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown suggestion kind %q", req.Kind)
	}
	if err != nil {
		return nil, err
	}

	if err := database.WithTx(ctx, s.tx, apply); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "schedule %s not found", scheduleID)
		}
		return nil, internalError(err, "failed to apply suggestion to schedule %s", scheduleID)
	}
	if s.conflicts != nil {
		s.conflicts.Invalidate(ctx, row.Period())
	}

	updated, err := s.findSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("schedule suggestion applied", zap.String("schedule_id", scheduleID), zap.String("kind", string(req.Kind)), zap.String("by", actor.Label()))
	s.audit.emit(ctx, actor, models.AuditActionSuggestionApplied, "schedule", scheduleID, row.Schedule, updated.Schedule)
	return updated, nil
}

func (s *ConflictResolutionService) planRoom(ctx context.Context, row *models.ScheduleRow, target models.ScheduleEntry, roomID string) (func(*sqlx.Tx) error, error) {
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, internalError(err, "failed to load rooms")
	}
	known := false
	for _, room := range rooms {
		if room.ID == roomID {
			known = true
			break
		}
	}
	if !known {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "room %s does not exist", roomID)
	}

	day, err := s.dayEntries(ctx, row.Period(), row.DayOfWeek)
	if err != nil {
		return nil, err
	}
	if clash := firstClash(target, day, func(e models.ScheduleEntry) bool { return e.RoomID == roomID }); clash != nil {
		return nil, appErrors.Clonef(appErrors.ErrConflict, "room is booked by %s from %s to %s", clash.ClassLabel, clash.Start, clash.End)
	}
	return func(tx *sqlx.Tx) error {
		return s.writer.UpdateRoom(ctx, tx, row.ID, roomID, s.now())
	}, nil
}

func (s *ConflictResolutionService) planTime(ctx context.Context, row *models.ScheduleRow, target models.ScheduleEntry, req dto.ApplySuggestionRequest) (func(*sqlx.Tx) error, error) {
	dayName := row.DayOfWeek
	if strings.TrimSpace(req.Day) != "" {
		idx := dayOrder(normalizeDay(req.Day))
		if idx == len(weekdays) {
			return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown day %q", req.Day)
		}
		dayName = titleDay(weekdays[idx])
	}
	start, end := *req.Start, *req.End
	if end <= start || end > models.MinutesPerDay {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end must be after start within the same day")
	}

	moved := target
	moved.Day, moved.Start, moved.End = dayName, start, end
	day, err := s.dayEntries(ctx, row.Period(), dayName)
	if err != nil {
		return nil, err
	}
	if moved.RoomID != "" {
		if clash := firstClash(moved, day, func(e models.ScheduleEntry) bool { return e.RoomID == moved.RoomID }); clash != nil {
			return nil, appErrors.Clonef(appErrors.ErrConflict, "room is booked by %s from %s to %s", clash.ClassLabel, clash.Start, clash.End)
		}
	}
	if moved.FacultyID != "" {
		if clash := firstClash(moved, day, func(e models.ScheduleEntry) bool { return e.FacultyID == moved.FacultyID }); clash != nil {
			return nil, appErrors.Clonef(appErrors.ErrConflict, "faculty teaches %s from %s to %s", clash.ClassLabel, clash.Start, clash.End)
		}
	}
	return func(tx *sqlx.Tx) error {
		return s.writer.UpdateTime(ctx, tx, row.ID, dayName, start, end, s.now())
	}, nil
}

func (s *ConflictResolutionService) findSchedule(ctx context.Context, id string) (*models.ScheduleRow, error) {
	row, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "schedule %s not found", id)
		}
		return nil, internalError(err, "failed to load schedule %s", id)
	}
	return row, nil
}

func (s *ConflictResolutionService) loadDay(ctx context.Context, scheduleID string) (models.ScheduleEntry, []models.ScheduleEntry, error) {
	row, err := s.findSchedule(ctx, scheduleID)
	if err != nil {
		return models.ScheduleEntry{}, nil, err
	}
	target, err := toScheduleEntry(*row)
	if err != nil {
		return models.ScheduleEntry{}, nil, validationError(err, "schedule has an invalid time range")
	}
	day, err := s.dayEntries(ctx, row.Period(), row.DayOfWeek)
	if err != nil {
		return models.ScheduleEntry{}, nil, err
	}
	return target, day, nil
}

func (s *ConflictResolutionService) dayEntries(ctx context.Context, period models.AcademicPeriod, day string) ([]models.ScheduleEntry, error) {
	rows, err := s.schedules.ListForDay(ctx, period, day)
	if err != nil {
		return nil, internalError(err, "failed to load %s schedules", day)
	}
	entries := make([]models.ScheduleEntry, 0, len(rows))
	for _, r := range rows {
		if e, err := toScheduleEntry(r); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *ConflictResolutionService) freeRooms(ctx context.Context, target models.ScheduleEntry, day []models.ScheduleEntry) ([]models.RoomSuggestion, error) {
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, internalError(err, "failed to load rooms")
	}
	enrolled, err := s.students.ListStudentsByClasses(ctx, []string{target.ClassID})
	if err != nil {
		return nil, internalError(err, "failed to count students of class %s", target.ClassID)
	}

	suggestions := []models.RoomSuggestion{}
	for _, room := range rooms {
		if room.ID == target.RoomID {
			continue
		}
		if room.Capacity != nil && *room.Capacity < len(enrolled) {
			continue
		}
		roomID := room.ID
		if firstClash(target, day, func(e models.ScheduleEntry) bool { return e.RoomID == roomID }) != nil {
			continue
		}
		suggestions = append(suggestions, models.RoomSuggestion{RoomID: room.ID, RoomName: room.Name, Capacity: room.Capacity})
	}
	return suggestions, nil
}

func freeSlots(target models.ScheduleEntry, day []models.ScheduleEntry) []models.TimeSlotSuggestion {
	duration := models.ClockTime(target.Duration())
	slots := []models.TimeSlotSuggestion{}
	for hour := firstCandidateHour; hour <= lastCandidateHour; hour++ {
		start := models.Clock(hour, 0)
		end := start + duration
		if start == target.Start || end > dayEnd {
			continue
		}
		candidate := target
		candidate.Start, candidate.End = start, end
		if target.RoomID != "" && firstClash(candidate, day, func(e models.ScheduleEntry) bool { return e.RoomID == target.RoomID }) != nil {
			continue
		}
		if target.FacultyID != "" && firstClash(candidate, day, func(e models.ScheduleEntry) bool { return e.FacultyID == target.FacultyID }) != nil {
			continue
		}
		slots = append(slots, models.TimeSlotSuggestion{Day: target.Day, Start: start, End: end})
	}
	return slots
}

// firstClash returns the first other entry matching shares that overlaps target.
func firstClash(target models.ScheduleEntry, day []models.ScheduleEntry, shares func(models.ScheduleEntry) bool) *models.ScheduleEntry {
	for i := range day {
		e := day[i]
		if e.ScheduleID == target.ScheduleID || !shares(e) {
			continue
		}
		if models.Overlaps(target.Start, target.End, e.Start, e.End) {
			return &e
		}
	}
	return nil
}

func nextSchoolDay(day string) string {
	next := weekdays[0]
	if idx := dayOrder(normalizeDay(day)); idx < 4 {
		next = weekdays[idx+1]
	}
	if day = strings.TrimSpace(day); day != "" && day[0] >= 'A' && day[0] <= 'Z' {
		next = titleDay(next)
	}
	return next
}

// titleDay turns "monday" into "Monday", the spelling stored in schedules.
func titleDay(day string) string {
	if day == "" {
		return day
	}
	return strings.ToUpper(day[:1]) + day[1:]
}

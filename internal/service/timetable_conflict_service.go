package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type scheduleReader interface {
	ListForPeriod(ctx context.Context, period models.AcademicPeriod) ([]models.ScheduleRow, error)
	ListForDay(ctx context.Context, period models.AcademicPeriod, day string) ([]models.ScheduleRow, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleRow, error)
}

type classStudentReader interface {
	ListStudentsByClasses(ctx context.Context, classIDs []string) ([]models.ClassStudent, error)
}

// TimetableConflictService finds overlapping schedules sharing a room, a
// faculty member or a student.
type TimetableConflictService struct {
	schedules scheduleReader
	students  classStudentReader
	periods   AcademicPeriodProvider
	cache     *CacheService
	cacheTTL  time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewTimetableConflictService constructs the service. cacheSvc and metrics may be nil.
func NewTimetableConflictService(schedules scheduleReader, students classStudentReader, periods AcademicPeriodProvider, cacheSvc *CacheService, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *TimetableConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableConflictService{
		schedules: schedules,
		students:  students,
		periods:   periods,
		cache:     cacheSvc,
		cacheTTL:  cacheTTL,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Detect runs the three pairwise overlap passes over entries. Pairs are
// compared only within their (day, room), (day, faculty) or (day, student)
// bucket.
func (s *TimetableConflictService) Detect(entries []models.ScheduleEntry) models.ConflictReport {
	report := models.ConflictReport{
		RoomConflicts:    []models.Conflict{},
		FacultyConflicts: []models.Conflict{},
		StudentConflicts: []models.Conflict{},
		GeneratedAt:      s.now(),
	}

	valid := make([]models.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		if e.End > e.Start {
			valid = append(valid, e)
		}
	}

	rooms := groupEntries(valid, func(e models.ScheduleEntry) []string { return nonEmpty(e.RoomID) })
	report.RoomConflicts = pairwise(rooms, models.ConflictTypeRoom, models.SeverityHigh, func(e models.ScheduleEntry) string { return e.RoomName })

	faculty := groupEntries(valid, func(e models.ScheduleEntry) []string { return nonEmpty(e.FacultyID) })
	report.FacultyConflicts = pairwise(faculty, models.ConflictTypeFaculty, models.SeverityHigh, func(e models.ScheduleEntry) string { return e.FacultyName })

	students := groupEntries(valid, func(e models.ScheduleEntry) []string {
		keys := make([]string, 0, len(e.StudentIDs))
		for _, id := range e.StudentIDs {
			keys = append(keys, models.StudentKey(id))
		}
		return keys
	})
	report.StudentConflicts = pairwise(students, models.ConflictTypeStudent, models.SeverityMedium, func(models.ScheduleEntry) string { return "" })
	return report
}

// Summarize counts conflicts by severity and type.
func (s *TimetableConflictService) Summarize(report models.ConflictReport) models.ConflictSummary {
	summary := models.ConflictSummary{
		BySeverity: map[models.ConflictSeverity]int{models.SeverityHigh: 0, models.SeverityMedium: 0},
		ByType:     map[models.ConflictType]int{models.ConflictTypeRoom: 0, models.ConflictTypeFaculty: 0, models.ConflictTypeStudent: 0},
	}
	for _, c := range report.All() {
		summary.Total++
		summary.BySeverity[c.Severity]++
		summary.ByType[c.Type]++
	}
	summary.HasConflicts = summary.Total > 0
	return summary
}

// Scan loads the period's timetable and detects conflicts. A zero period
// means the current one; refresh skips the cached report.
func (s *TimetableConflictService) Scan(ctx context.Context, period models.AcademicPeriod, refresh bool) (*models.ConflictReport, error) {
	period, err := s.resolvePeriod(ctx, period)
	if err != nil {
		return nil, err
	}
	key := conflictsKey(period)
	if !refresh {
		var cached models.ConflictReport
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	entries, err := s.Entries(ctx, period)
	if err != nil {
		return nil, err
	}
	report := s.Detect(entries)
	summary := s.Summarize(report)
	s.metrics.SetConflictSummary(summary)
	if summary.HasConflicts {
		s.logger.Info("timetable conflicts detected",
			zap.Stringer("period", period),
			zap.Int("room", summary.ByType[models.ConflictTypeRoom]),
			zap.Int("faculty", summary.ByType[models.ConflictTypeFaculty]),
			zap.Int("student", summary.ByType[models.ConflictTypeStudent]))
	}
	_ = s.cache.Set(ctx, key, report, s.cacheTTL)
	return &report, nil
}

// Invalidate drops the cached report of a period.
func (s *TimetableConflictService) Invalidate(ctx context.Context, period models.AcademicPeriod) {
	_ = s.cache.Delete(ctx, conflictsKey(period))
}

// Entries builds schedule entries, including enrolled students, for a period.
func (s *TimetableConflictService) Entries(ctx context.Context, period models.AcademicPeriod) ([]models.ScheduleEntry, error) {
	rows, err := s.schedules.ListForPeriod(ctx, period)
	if err != nil {
		return nil, internalError(err, "failed to load schedules for %s", period)
	}
	classIDs := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if !seen[r.ClassID] {
			seen[r.ClassID] = true
			classIDs = append(classIDs, r.ClassID)
		}
	}
	links, err := s.students.ListStudentsByClasses(ctx, classIDs)
	if err != nil {
		return nil, internalError(err, "failed to load enrolled students for %s", period)
	}
	byClass := make(map[string][]int64, len(classIDs))
	for _, l := range links {
		byClass[l.ClassID] = append(byClass[l.ClassID], l.StudentID)
	}

	entries := make([]models.ScheduleEntry, 0, len(rows))
	for _, r := range rows {
		entry, err := toScheduleEntry(r)
		if err != nil {
			s.logger.Warn("skipping schedule with invalid time", zap.String("schedule_id", r.ID), zap.Error(err))
			continue
		}
		entry.StudentIDs = byClass[r.ClassID]
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *TimetableConflictService) resolvePeriod(ctx context.Context, period models.AcademicPeriod) (models.AcademicPeriod, error) {
	if period.Valid() {
		return period, nil
	}
	current, err := s.periods.Current(ctx)
	if err != nil {
		return models.AcademicPeriod{}, err
	}
	if period.SchoolYear != "" {
		current.SchoolYear = period.SchoolYear
	}
	if period.Semester > 0 {
		current.Semester = period.Semester
	}
	return current, nil
}

func conflictsKey(p models.AcademicPeriod) string {
	return cache.Key("timetable_conflicts", p.SchoolYear, strconv.Itoa(p.Semester))
}

func toScheduleEntry(r models.ScheduleRow) (models.ScheduleEntry, error) {
	start, err := models.ParseClock(r.StartTime)
	if err != nil {
		return models.ScheduleEntry{}, err
	}
	end, err := models.ParseClock(r.EndTime)
	if err != nil {
		return models.ScheduleEntry{}, err
	}
	if end <= start {
		return models.ScheduleEntry{}, appErrors.Clonef(appErrors.ErrValidation, "schedule %s ends before it starts", r.ID)
	}
	return models.ScheduleEntry{
		ScheduleID:  r.ID,
		ClassID:     r.ClassID,
		ClassLabel:  models.Class{SubjectCode: r.SubjectCode, Section: r.Section}.Label(),
		Day:         r.DayOfWeek,
		Start:       start,
		End:         end,
		RoomID:      deref(r.RoomID),
		RoomName:    deref(r.RoomName),
		FacultyID:   deref(r.FacultyID),
		FacultyName: deref(r.FacultyName),
	}, nil
}

type bucketKey struct {
	day string
	key string
}

type bucket struct {
	bucketKey
	entries []models.ScheduleEntry
}

func groupEntries(entries []models.ScheduleEntry, keys func(models.ScheduleEntry) []string) []bucket {
	index := make(map[bucketKey]int)
	var buckets []bucket
	for _, e := range entries {
		for _, k := range keys(e) {
			bk := bucketKey{day: normalizeDay(e.Day), key: k}
			i, ok := index[bk]
			if !ok {
				i = len(buckets)
				index[bk] = i
				buckets = append(buckets, bucket{bucketKey: bk})
			}
			buckets[i].entries = append(buckets[i].entries, e)
		}
	}
	sort.Slice(buckets, func(i, j int) bool {
		if dayOrder(buckets[i].day) != dayOrder(buckets[j].day) {
			return dayOrder(buckets[i].day) < dayOrder(buckets[j].day)
		}
		return buckets[i].key < buckets[j].key
	})
	return buckets
}

func pairwise(buckets []bucket, kind models.ConflictType, severity models.ConflictSeverity, label func(models.ScheduleEntry) string) []models.Conflict {
	conflicts := []models.Conflict{}
	for _, b := range buckets {
		entries := b.entries
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Start != entries[j].Start {
				return entries[i].Start < entries[j].Start
			}
			return entries[i].ScheduleID < entries[j].ScheduleID
		})
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				a, c := entries[i], entries[j]
				if a.ScheduleID == c.ScheduleID {
					continue
				}
				if !models.Overlaps(a.Start, a.End, c.Start, c.End) {
					continue
				}
				conflicts = append(conflicts, models.Conflict{
					Type:     kind,
					Severity: severity,
					Day:      a.Day,
					Key:      b.key,
					KeyLabel: label(a),
					First:    models.SlotOf(a),
					Second:   models.SlotOf(c),
				})
			}
		}
	}
	return conflicts
}

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func normalizeDay(day string) string {
	return strings.ToLower(strings.TrimSpace(day))
}

func dayOrder(day string) int {
	for i, d := range weekdays {
		if d == day {
			return i
		}
	}
	return len(weekdays)
}

func nonEmpty(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return []string{v}
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	"github.com/noah-isme/sma-records-api/pkg/database"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type studentStore interface {
	FindByID(ctx context.Context, id int64) (*models.Student, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Student, error)
	Exists(ctx context.Context, exec sqlx.ExtContext, id int64) (bool, error)
	Snapshot(ctx context.Context, exec sqlx.ExtContext, id int64) ([]byte, error)
	CopyColumns(ctx context.Context, exec sqlx.ExtContext) ([]string, error)
	CloneWithID(ctx context.Context, exec sqlx.ExtContext, oldID, newID int64, columns []string) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

type referenceStore interface {
	ResolveTables(ctx context.Context, exec sqlx.ExtContext, optional []string) ([]repository.ReferenceTable, []string, error)
	Count(ctx context.Context, exec sqlx.ExtContext, table repository.ReferenceTable, id int64) (int, error)
	Rewrite(ctx context.Context, exec sqlx.ExtContext, table repository.ReferenceTable, oldID, newID int64) (int, error)
	CountActiveSubjectEnrollments(ctx context.Context, studentID int64, period models.AcademicPeriod) (int, error)
	CountTransactionsSince(ctx context.Context, studentID int64, since time.Time) (int, error)
}

type changeLogStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, log *models.StudentIDChangeLog) error
	FindByID(ctx context.Context, id string) (*models.StudentIDChangeLog, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentIDChangeLog, error)
	MarkUndone(ctx context.Context, exec sqlx.ExtContext, id, undoneBy string, undoneAt time.Time) error
	List(ctx context.Context, filter models.ChangeLogFilter) ([]models.StudentIDChangeLog, int, error)
}

// StudentIDPolicy holds the renumbering guard rails.
type StudentIDPolicy struct {
	MinID                int64
	MaxID                int64
	EnrollmentThreshold  int
	TransactionThreshold int
	RecentWindow         time.Duration
	OptionalTables       []string
}

// DefaultStudentIDPolicy mirrors the configuration defaults.
func DefaultStudentIDPolicy() StudentIDPolicy {
	return StudentIDPolicy{
		MinID:                100000,
		MaxID:                999999,
		EnrollmentThreshold:  10,
		TransactionThreshold: 5,
		RecentWindow:         30 * 24 * time.Hour,
	}
}

// Student id operation labels used in metrics.
const (
	opChange = "change"
	opUndo   = "undo"
	opDryRun = "dry_run"
)

// StudentIDService renumbers students and every row referencing them.
type StudentIDService struct {
	students   studentStore
	references referenceStore
	logs       changeLogStore
	periods    AcademicPeriodProvider
	tx         txProvider
	policy     StudentIDPolicy
	metrics    *MetricsService
	audit      auditTrail
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// StudentIDOption configures optional collaborators.
type StudentIDOption func(*StudentIDService)

// WithStudentIDMetrics enables renumbering counters.
func WithStudentIDMetrics(m *MetricsService) StudentIDOption {
	return func(s *StudentIDService) { s.metrics = m }
}

// WithStudentIDAudit records audit rows for changes and undos.
func WithStudentIDAudit(repo auditLogger) StudentIDOption {
	return func(s *StudentIDService) { s.audit.repo = repo }
}

// NewStudentIDService constructs the service.
func NewStudentIDService(
	students studentStore,
	references referenceStore,
	logs changeLogStore,
	periods AcademicPeriodProvider,
	tx txProvider,
	policy StudentIDPolicy,
	logger *zap.Logger,
	opts ...StudentIDOption,
) *StudentIDService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &StudentIDService{
		students:   students,
		references: references,
		logs:       logs,
		periods:    periods,
		tx:         tx,
		policy:     policy,
		validator:  validator.New(),
		logger:     logger,
		audit:      auditTrail{logger: logger, component: "student-id"},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Change renumbers a student after validation and safety checks.
func (s *StudentIDService) Change(ctx context.Context, req dto.ChangeStudentIDRequest, actor models.Operator) (*models.StudentIDChangeResult, error) {
	result, err := s.change(ctx, req, actor)
	if err != nil {
		s.metrics.RecordStudentIDChange(opChange, OutcomeError)
		return nil, err
	}
	s.metrics.RecordStudentIDChange(opChange, OutcomeSuccess)
	s.audit.emit(ctx, actor, models.AuditActionStudentIDChange, "student", fmt.Sprint(result.NewStudentID),
		map[string]int64{"student_id": result.OldStudentID},
		map[string]interface{}{"student_id": result.NewStudentID, "change_log_id": result.ChangeLogID})
	return result, nil
}

func (s *StudentIDService) change(ctx context.Context, req dto.ChangeStudentIDRequest, actor models.Operator) (*models.StudentIDChangeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student id change request")
	}
	problems, err := s.validateNewID(ctx, req.StudentID, req.NewStudentID, req.BypassSafetyChecks)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, problems[0]), map[string][]string{"errors": problems})
	}

	var warnings []models.SafetyWarning
	if !req.BypassSafetyChecks {
		if warnings, err = s.safetyWarnings(ctx, req.StudentID); err != nil {
			return nil, err
		}
		if len(warnings) > 0 && !req.Confirmed {
			return nil, appErrors.WithDetails(
				appErrors.Clonef(appErrors.ErrConfirmationRequired, "changing student %d is high risk and must be confirmed", req.StudentID),
				map[string]interface{}{"warnings": warnings})
		}
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "student %d not found", req.StudentID)
		}
		return nil, internalError(err, "failed to load student %d", req.StudentID)
	}
	if student.Deleted() {
		return nil, appErrors.Clonef(appErrors.ErrPreconditionFailed, "student %d is deleted", req.StudentID)
	}

	var (
		outcome *renumberOutcome
		log     *models.StudentIDChangeLog
	)
	err = database.WithTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		var err error
		if outcome, err = s.renumber(ctx, tx, req.StudentID, req.NewStudentID); err != nil {
			return err
		}
		affected, err := json.Marshal(outcome.affected)
		if err != nil {
			return err
		}
		log = &models.StudentIDChangeLog{
			OldStudentID:    req.StudentID,
			NewStudentID:    req.NewStudentID,
			StudentName:     outcome.student.FullName(),
			ChangedBy:       actor.Label(),
			AffectedRecords: types.JSONText(affected),
			BackupData:      types.JSONText(outcome.backup),
			Reason:          optionalString(req.Reason),
			CreatedAt:       s.now(),
		}
		return s.logs.Create(ctx, tx, log)
	})
	if err != nil {
		return nil, internalError(err, "failed to change student id %d to %d", req.StudentID, req.NewStudentID)
	}

	s.logger.Info("student id changed",
		zap.Int64("old_student_id", req.StudentID),
		zap.Int64("new_student_id", req.NewStudentID),
		zap.Int("records_updated", outcome.affected.TotalUpdated),
		zap.String("change_log_id", log.ID))
	return &models.StudentIDChangeResult{
		Success:      true,
		Message:      fmt.Sprintf("Student ID changed from %d to %d. %d records updated.", req.StudentID, req.NewStudentID, outcome.affected.TotalUpdated),
		ChangeLogID:  log.ID,
		OldStudentID: req.StudentID,
		NewStudentID: req.NewStudentID,
		StudentName:  log.StudentName,
		Affected:     outcome.affected,
		Warnings:     warnings,
	}, nil
}

// Undo reverts a change log, restoring the original id.
func (s *StudentIDService) Undo(ctx context.Context, changeLogID string, actor models.Operator) (*models.StudentIDChangeResult, error) {
	result, err := s.undo(ctx, changeLogID, actor)
	if err != nil {
		s.metrics.RecordStudentIDChange(opUndo, OutcomeError)
		return nil, err
	}
	s.metrics.RecordStudentIDChange(opUndo, OutcomeSuccess)
	s.audit.emit(ctx, actor, models.AuditActionStudentIDUndo, "student_id_change_log", changeLogID,
		map[string]int64{"student_id": result.OldStudentID},
		map[string]int64{"student_id": result.NewStudentID})
	return result, nil
}

func (s *StudentIDService) undo(ctx context.Context, changeLogID string, actor models.Operator) (*models.StudentIDChangeResult, error) {
	log, err := s.logs.FindByID(ctx, changeLogID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "change log %s not found", changeLogID)
		}
		return nil, internalError(err, "failed to load change log %s", changeLogID)
	}
	if log.IsUndone {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "change log %s has already been undone", changeLogID)
	}
	taken, err := s.students.Exists(ctx, nil, log.OldStudentID)
	if err != nil {
		return nil, internalError(err, "failed to check student id %d", log.OldStudentID)
	}
	if taken {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "original student id %d is now used by another student", log.OldStudentID)
	}

	var outcome *renumberOutcome
	err = database.WithTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		locked, err := s.logs.LockByID(ctx, tx, changeLogID)
		if err != nil {
			return err
		}
		if locked.IsUndone {
			return appErrors.Clonef(appErrors.ErrValidation, "change log %s has already been undone", changeLogID)
		}
		if outcome, err = s.renumber(ctx, tx, log.NewStudentID, log.OldStudentID); err != nil {
			return err
		}
		return s.logs.MarkUndone(ctx, tx, changeLogID, actor.Label(), s.now())
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrValidation, "change log %s has already been undone", changeLogID)
		}
		return nil, internalError(err, "failed to undo change log %s (%d back to %d)", changeLogID, log.NewStudentID, log.OldStudentID)
	}

	return &models.StudentIDChangeResult{
		Success:      true,
		Message:      fmt.Sprintf("Student ID change reverted: %d restored from %d. %d records updated.", log.OldStudentID, log.NewStudentID, outcome.affected.TotalUpdated),
		ChangeLogID:  changeLogID,
		OldStudentID: log.NewStudentID,
		NewStudentID: log.OldStudentID,
		StudentName:  outcome.student.FullName(),
		Affected:     outcome.affected,
	}, nil
}

type renumberOutcome struct {
	student  *models.Student
	affected models.AffectedRecords
	backup   []byte
}

// renumber moves the student row and every reference from oldID to newID
// inside tx, then verifies nothing still points at oldID.
func (s *StudentIDService) renumber(ctx context.Context, tx *sqlx.Tx, oldID, newID int64) (*renumberOutcome, error) {
	student, err := s.students.LockByID(ctx, tx, oldID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "student %d not found", oldID)
		}
		return nil, err
	}
	if student.Deleted() {
		return nil, appErrors.Clonef(appErrors.ErrPreconditionFailed, "student %d is deleted", oldID)
	}
	taken, err := s.students.Exists(ctx, tx, newID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "student id %d is already assigned to another student", newID)
	}

	backup, err := s.students.Snapshot(ctx, tx, oldID)
	if err != nil {
		return nil, err
	}
	columns, err := s.students.CopyColumns(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := s.students.CloneWithID(ctx, tx, oldID, newID, columns); err != nil {
		return nil, err
	}

	tables, skipped, err := s.references.ResolveTables(ctx, tx, s.policy.OptionalTables)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		s.logger.Debug("reference tables not present", zap.Strings("tables", skipped))
	}
	affected := models.AffectedRecords{Tables: make(map[string]int, len(tables)+1)}
	for _, table := range tables {
		n, err := s.references.Rewrite(ctx, tx, table, oldID, newID)
		if err != nil {
			return nil, err
		}
		affected.Add(table.Name, n)
	}
	if err := s.students.Delete(ctx, tx, oldID); err != nil {
		return nil, err
	}
	affected.Add("students", 1)

	if err := s.verify(ctx, tx, oldID, newID, tables); err != nil {
		return nil, err
	}
	student.ID = newID
	return &renumberOutcome{student: student, affected: affected, backup: backup}, nil
}

func (s *StudentIDService) verify(ctx context.Context, tx *sqlx.Tx, oldID, newID int64, tables []repository.ReferenceTable) error {
	present, err := s.students.Exists(ctx, tx, newID)
	if err != nil {
		return err
	}
	if !present {
		return appErrors.Clonef(appErrors.ErrConsistency, "student %d missing after renumbering from %d", newID, oldID)
	}
	stale, err := s.students.Exists(ctx, tx, oldID)
	if err != nil {
		return err
	}
	if stale {
		return appErrors.Clonef(appErrors.ErrConsistency, "student %d still exists after renumbering to %d", oldID, newID)
	}

	remaining := make(map[string]int)
	for _, table := range tables {
		n, err := s.references.Count(ctx, tx, table, oldID)
		if err != nil {
			return err
		}
		if n > 0 {
			remaining[table.Name] = n
		}
	}
	if len(remaining) > 0 {
		return appErrors.WithDetails(
			appErrors.Clonef(appErrors.ErrConsistency, "references to student %d remain after renumbering to %d", oldID, newID),
			map[string]interface{}{"remaining": remaining})
	}
	return nil
}

// DryRun validates a change and counts the rows it would touch without
// writing anything.
func (s *StudentIDService) DryRun(ctx context.Context, req dto.ChangeStudentIDRequest) (*models.DryRunResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student id change request")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "student %d not found", req.StudentID)
		}
		return nil, internalError(err, "failed to load student %d", req.StudentID)
	}

	problems, err := s.validateNewID(ctx, req.StudentID, req.NewStudentID, req.BypassSafetyChecks)
	if err != nil {
		return nil, err
	}
	if student.Deleted() {
		problems = append(problems, fmt.Sprintf("student %d is deleted", req.StudentID))
	}
	result := &models.DryRunResult{
		StudentID:    req.StudentID,
		NewStudentID: req.NewStudentID,
		StudentName:  student.FullName(),
		Errors:       problems,
		Valid:        len(problems) == 0,
	}
	if !req.BypassSafetyChecks {
		if result.Warnings, err = s.safetyWarnings(ctx, req.StudentID); err != nil {
			return nil, err
		}
	}
	summary, err := s.AffectedRecordsSummary(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	result.Summary = *summary
	s.metrics.RecordStudentIDChange(opDryRun, OutcomeSuccess)
	return result, nil
}

// AffectedRecordsSummary counts rows per table that reference studentID.
// Optional tables missing from the schema are reported as skipped.
func (s *StudentIDService) AffectedRecordsSummary(ctx context.Context, studentID int64) (*models.AffectedRecordsSummary, error) {
	if studentID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id must be a positive integer")
	}
	tables, skipped, err := s.references.ResolveTables(ctx, nil, s.policy.OptionalTables)
	if err != nil {
		return nil, internalError(err, "failed to resolve reference tables")
	}
	summary := &models.AffectedRecordsSummary{
		StudentID: studentID,
		Tables:    make([]models.TableCount, 0, len(tables)),
		Skipped:   skipped,
	}
	for _, table := range tables {
		n, err := s.references.Count(ctx, nil, table, studentID)
		if err != nil {
			return nil, internalError(err, "failed to count %s rows for student %d", table.Name, studentID)
		}
		summary.Tables = append(summary.Tables, models.TableCount{Table: table.Name, Column: table.Column, Count: n, Optional: table.Optional})
		summary.Total += n
	}
	return summary, nil
}

// ListChangeLogs returns change logs newest first.
func (s *StudentIDService) ListChangeLogs(ctx context.Context, query dto.ChangeLogQuery) ([]models.StudentIDChangeLog, *models.Pagination, error) {
	page, size := query.Page, query.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	logs, total, err := s.logs.List(ctx, models.ChangeLogFilter{
		StudentID:     query.StudentID,
		IncludeUndone: query.IncludeUndone,
		Page:          page,
		PageSize:      size,
	})
	if err != nil {
		return nil, nil, internalError(err, "failed to list change logs")
	}
	return logs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetChangeLog returns a single change log.
func (s *StudentIDService) GetChangeLog(ctx context.Context, id string) (*models.StudentIDChangeLog, error) {
	log, err := s.logs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "change log %s not found", id)
		}
		return nil, internalError(err, "failed to load change log %s", id)
	}
	return log, nil
}

func (s *StudentIDService) validateNewID(ctx context.Context, currentID, newID int64, bypass bool) ([]string, error) {
	var problems []string
	if newID <= 0 {
		problems = append(problems, "new student id must be a positive integer")
	}
	if newID == currentID {
		problems = append(problems, "new student id must differ from the current id")
	}
	if !bypass && newID > 0 && (newID < s.policy.MinID || newID > s.policy.MaxID) {
		problems = append(problems, fmt.Sprintf("new student id must be between %d and %d", s.policy.MinID, s.policy.MaxID))
	}
	if newID > 0 && newID != currentID {
		taken, err := s.students.Exists(ctx, nil, newID)
		if err != nil {
			return nil, internalError(err, "failed to check student id %d", newID)
		}
		if taken {
			problems = append(problems, fmt.Sprintf("student id %d is already assigned to another student", newID))
		}
	}
	return problems, nil
}

func (s *StudentIDService) safetyWarnings(ctx context.Context, studentID int64) ([]models.SafetyWarning, error) {
	period, err := s.periods.Current(ctx)
	if err != nil {
		return nil, err
	}
	var warnings []models.SafetyWarning

	enrolled, err := s.references.CountActiveSubjectEnrollments(ctx, studentID, period)
	if err != nil {
		return nil, internalError(err, "failed to count subject enrollments of student %d", studentID)
	}
	if enrolled > s.policy.EnrollmentThreshold {
		warnings = append(warnings, models.SafetyWarning{
			Code:      models.WarningActiveEnrollments,
			Message:   fmt.Sprintf("student has %d active subject enrollments in %s", enrolled, period),
			Count:     enrolled,
			Threshold: s.policy.EnrollmentThreshold,
		})
	}

	since := s.now().Add(-s.policy.RecentWindow)
	txns, err := s.references.CountTransactionsSince(ctx, studentID, since)
	if err != nil {
		return nil, internalError(err, "failed to count transactions of student %d", studentID)
	}
	if txns > s.policy.TransactionThreshold {
		warnings = append(warnings, models.SafetyWarning{
			Code:      models.WarningRecentTransactions,
			Message:   fmt.Sprintf("student has %d financial transactions since %s", txns, since.Format("2006-01-02")),
			Count:     txns,
			Threshold: s.policy.TransactionThreshold,
		})
	}
	return warnings, nil
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}

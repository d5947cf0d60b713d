package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/pkg/cache"
	"github.com/noah-isme/sma-records-api/pkg/database"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type classEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.ClassEnrollment, error)
	FindOtherInClass(ctx context.Context, exec sqlx.ExtContext, studentID int64, classID, excludeID string) (*models.ClassEnrollment, error)
	UpdateClass(ctx context.Context, exec sqlx.ExtContext, id, classID string, updatedAt time.Time) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Class, error)
	CountEnrollments(ctx context.Context, classID string) (int, error)
	ListSiblings(ctx context.Context, class models.Class) ([]models.ClassWithCount, error)
}

type subjectEnrollmentStore interface {
	FindForTransfer(ctx context.Context, exec sqlx.ExtContext, studentID int64, subjectCode, schoolYear string, semester int, preferClassID string) (*models.SubjectEnrollment, error)
	UpdateSection(ctx context.Context, exec sqlx.ExtContext, id, classID, section string, updatedAt time.Time) error
}

// BulkProgress receives the number of processed items after each one.
type BulkProgress func(done, total int)

// SectionTransferService moves class enrollments between sibling sections.
type SectionTransferService struct {
	enrollments classEnrollmentStore
	classes     classReader
	subjects    subjectEnrollmentStore
	students    studentFinder
	tx          txProvider
	cache       *CacheService
	targetsTTL  time.Duration
	bulkMax     int
	metrics     *MetricsService
	audit       auditTrail
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// SectionTransferOption configures optional collaborators.
type SectionTransferOption func(*SectionTransferService)

// WithTransferCache caches available target lists.
func WithTransferCache(c *CacheService, ttl time.Duration) SectionTransferOption {
	return func(s *SectionTransferService) {
		s.cache = c
		s.targetsTTL = ttl
	}
}

// WithTransferMetrics enables transfer counters.
func WithTransferMetrics(m *MetricsService) SectionTransferOption {
	return func(s *SectionTransferService) { s.metrics = m }
}

// WithTransferAudit records an audit row for every completed transfer.
func WithTransferAudit(repo auditLogger) SectionTransferOption {
	return func(s *SectionTransferService) { s.audit.repo = repo }
}

// WithBulkLimit caps the number of enrollments accepted by BulkTransfer.
func WithBulkLimit(limit int) SectionTransferOption {
	return func(s *SectionTransferService) { s.bulkMax = limit }
}

// NewSectionTransferService constructs the service.
func NewSectionTransferService(
	enrollments classEnrollmentStore,
	classes classReader,
	subjects subjectEnrollmentStore,
	students studentFinder,
	tx txProvider,
	logger *zap.Logger,
	opts ...SectionTransferOption,
) *SectionTransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SectionTransferService{
		enrollments: enrollments,
		classes:     classes,
		subjects:    subjects,
		students:    students,
		tx:          tx,
		validator:   validator.New(),
		logger:      logger,
		audit:       auditTrail{logger: logger, component: "section-transfer"},
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Transfer moves one class enrollment, and its paired subject enrollment,
// to the target section.
func (s *SectionTransferService) Transfer(ctx context.Context, req dto.TransferRequest, actor models.Operator) (*models.TransferResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid transfer request")
	}
	result, source, target, err := s.transfer(ctx, req)
	if err != nil {
		s.metrics.RecordTransfer(OutcomeError)
		return nil, err
	}
	s.metrics.RecordTransfer(OutcomeSuccess)

	s.audit.emit(ctx, actor, models.AuditActionSectionTransfer, "class_enrollment", result.EnrollmentID,
		map[string]interface{}{"class_id": result.OldClassID, "section": result.OldSection},
		map[string]interface{}{"class_id": result.NewClassID, "section": result.NewSection, "duplicate_removed": result.DuplicateRemoved})
	_ = s.cache.Invalidate(ctx, targetsPattern(*source))
	if !source.SameSubject(*target) || !source.SamePeriod(*target) {
		_ = s.cache.Invalidate(ctx, targetsPattern(*target))
	}
	return result, nil
}

func (s *SectionTransferService) transfer(ctx context.Context, req dto.TransferRequest) (*models.TransferResult, *models.Class, *models.Class, error) {
	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clonef(appErrors.ErrNotFound, "class enrollment %s not found", req.EnrollmentID)
		}
		return nil, nil, nil, internalError(err, "failed to load class enrollment %s", req.EnrollmentID)
	}
	if enrollment.ClassID == req.TargetClassID {
		return nil, nil, nil, appErrors.Clonef(appErrors.ErrValidation, "enrollment %s is already in class %s", enrollment.ID, req.TargetClassID)
	}

	classes, err := s.classes.FindByIDs(ctx, []string{enrollment.ClassID, req.TargetClassID})
	if err != nil {
		return nil, nil, nil, internalError(err, "failed to load classes %s and %s", enrollment.ClassID, req.TargetClassID)
	}
	var source, target *models.Class
	for i := range classes {
		switch classes[i].ID {
		case enrollment.ClassID:
			source = &classes[i]
		case req.TargetClassID:
			target = &classes[i]
		}
	}
	if source == nil {
		return nil, nil, nil, appErrors.Clonef(appErrors.ErrValidation, "source class %s not found", enrollment.ClassID)
	}
	if target == nil {
		return nil, nil, nil, appErrors.Clonef(appErrors.ErrValidation, "target class %s not found", req.TargetClassID)
	}
	if !source.SameSubject(*target) {
		return nil, nil, nil, appErrors.Clonef(appErrors.ErrValidation, "cannot transfer between different subjects: %s to %s",
			models.NormalizeSubjectCode(source.SubjectCode), models.NormalizeSubjectCode(target.SubjectCode))
	}

	// With an active row already in the target the move adds no headcount.
	_, dupErr := s.enrollments.FindOtherInClass(ctx, nil, enrollment.StudentID, target.ID, enrollment.ID)
	if dupErr != nil && !errors.Is(dupErr, sql.ErrNoRows) {
		return nil, nil, nil, internalError(dupErr, "failed to look up enrollments of student %d in class %s", enrollment.StudentID, target.ID)
	}
	hasActiveInTarget := dupErr == nil

	var warnings []string
	if target.Limited() && !hasActiveInTarget {
		enrolled, err := s.classes.CountEnrollments(ctx, target.ID)
		if err != nil {
			return nil, nil, nil, internalError(err, "failed to count enrollments of class %s", target.ID)
		}
		if enrolled >= target.MaximumSlots {
			if !req.AllowOverCapacity {
				capErr := appErrors.Clonef(appErrors.ErrCapacity, "class %s is full (%d/%d)", target.Label(), enrolled, target.MaximumSlots)
				return nil, nil, nil, appErrors.WithDetails(capErr, map[string]interface{}{
					"classId": target.ID, "enrolled": enrolled, "maximumSlots": target.MaximumSlots,
				})
			}
			warnings = append(warnings, fmt.Sprintf("class %s is over capacity (%d/%d)", target.Label(), enrolled+1, target.MaximumSlots))
		}
	}

	student, err := s.students.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clonef(appErrors.ErrNotFound, "student %d not found", enrollment.StudentID)
		}
		return nil, nil, nil, internalError(err, "failed to load student %d", enrollment.StudentID)
	}

	result := &models.TransferResult{
		EnrollmentID: enrollment.ID,
		StudentID:    student.ID,
		StudentName:  student.FullName(),
		OldClassID:   source.ID,
		NewClassID:   target.ID,
		OldSection:   source.Label(),
		NewSection:   target.Label(),
		SubjectCode:  models.NormalizeSubjectCode(source.SubjectCode),
		Warnings:     warnings,
	}

	now := s.now()
	err = database.WithTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		_, err := s.enrollments.FindOtherInClass(ctx, tx, student.ID, target.ID, enrollment.ID)
		switch {
		case err == nil:
			if err := s.enrollments.Delete(ctx, tx, enrollment.ID); err != nil {
				return err
			}
			result.DuplicateRemoved = true
		case errors.Is(err, sql.ErrNoRows):
			if err := s.enrollments.UpdateClass(ctx, tx, enrollment.ID, target.ID, now); err != nil {
				return err
			}
		default:
			return err
		}

		subject, err := s.subjects.FindForTransfer(ctx, tx, student.ID, source.SubjectCode, source.SchoolYear, source.Semester, source.ID)
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("subject enrollment missing for transfer",
				zap.String("enrollment_id", enrollment.ID),
				zap.Int64("student_id", student.ID),
				zap.String("subject_code", result.SubjectCode))
			result.Warnings = append(result.Warnings, "subject enrollment not found; section not updated")
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.subjects.UpdateSection(ctx, tx, subject.ID, target.ID, target.Section, now); err != nil {
			return err
		}
		result.SubjectEnrollmentUpdated = true
		return nil
	})
	if err != nil {
		return nil, nil, nil, internalError(err, "failed to transfer enrollment %s of student %d from class %s to %s",
			enrollment.ID, student.ID, source.ID, target.ID)
	}
	return result, source, target, nil
}

// BulkTransfer attempts every enrollment independently. cancelled and the
// context are polled before each item; once either stops the batch the
// remaining items are skipped. Operator cancellation sets Cancelled, an
// expired context sets TimedOut.
func (s *SectionTransferService) BulkTransfer(ctx context.Context, req dto.BulkTransferRequest, actor models.Operator, cancelled func() bool, progress BulkProgress) (*models.BulkTransferResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid bulk transfer request")
	}
	if s.bulkMax > 0 && len(req.EnrollmentIDs) > s.bulkMax {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "bulk transfer accepts at most %d enrollments", s.bulkMax)
	}

	total := len(req.EnrollmentIDs)
	result := &models.BulkTransferResult{
		Total:   total,
		Results: make([]models.TransferResult, 0, total),
		Errors:  make([]models.BulkTransferError, 0),
	}
	for i, id := range req.EnrollmentIDs {
		if cancelled != nil && cancelled() {
			result.Cancelled = true
			result.Skipped = total - i
			break
		}
		if ctx.Err() != nil {
			result.TimedOut = true
			result.Skipped = total - i
			break
		}
		res, err := s.Transfer(ctx, dto.TransferRequest{
			EnrollmentID:      id,
			TargetClassID:     req.TargetClassID,
			AllowOverCapacity: req.AllowOverCapacity,
		}, actor)
		if err != nil {
			result.Errors = append(result.Errors, s.bulkError(ctx, id, err))
			result.ErrorCount++
		} else {
			result.Results = append(result.Results, *res)
			result.SuccessCount++
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	s.logger.Info("bulk transfer finished",
		zap.String("target_class_id", req.TargetClassID),
		zap.Int("total", total),
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int("skipped", result.Skipped),
		zap.Bool("cancelled", result.Cancelled),
		zap.Bool("timed_out", result.TimedOut))
	return result, nil
}

func (s *SectionTransferService) bulkError(ctx context.Context, enrollmentID string, err error) models.BulkTransferError {
	typed := appErrors.FromError(err)
	item := models.BulkTransferError{EnrollmentID: enrollmentID, Code: typed.Code, Message: typed.Message}
	enrollment, lookupErr := s.enrollments.FindByID(ctx, enrollmentID)
	if lookupErr != nil {
		return item
	}
	studentID := enrollment.StudentID
	item.StudentID = &studentID
	if student, err := s.students.FindByID(ctx, studentID); err == nil {
		item.StudentName = student.FullName()
	}
	return item
}

// AvailableTargets lists the sibling sections a class enrollment can move to.
func (s *SectionTransferService) AvailableTargets(ctx context.Context, classID string) ([]models.TransferTarget, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "class %s not found", classID)
		}
		return nil, internalError(err, "failed to load class %s", classID)
	}

	key := targetsKey(*class)
	var targets []models.TransferTarget
	if hit, _ := s.cache.Get(ctx, key, &targets); hit {
		return targets, nil
	}

	siblings, err := s.classes.ListSiblings(ctx, *class)
	if err != nil {
		return nil, internalError(err, "failed to list sections for class %s", classID)
	}
	targets = make([]models.TransferTarget, 0, len(siblings))
	for _, sibling := range siblings {
		targets = append(targets, models.NewTransferTarget(sibling))
	}
	_ = s.cache.Set(ctx, key, targets, s.targetsTTL)
	return targets, nil
}

func targetsKey(c models.Class) string {
	return cache.Key("transfer_targets", c.SchoolYear, strconv.Itoa(c.Semester), models.NormalizeSubjectCode(c.SubjectCode), c.ID)
}

func targetsPattern(c models.Class) string {
	return cache.Key("transfer_targets", c.SchoolYear, strconv.Itoa(c.Semester), models.NormalizeSubjectCode(c.SubjectCode), "*")
}

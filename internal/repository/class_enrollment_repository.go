package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

// ClassEnrollmentRepository manages student to section links.
type ClassEnrollmentRepository struct {
	db *sqlx.DB
}

// NewClassEnrollmentRepository constructs the repository.
func NewClassEnrollmentRepository(db *sqlx.DB) *ClassEnrollmentRepository {
	return &ClassEnrollmentRepository{db: db}
}

func (r *ClassEnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID returns an enrollment.
func (r *ClassEnrollmentRepository) FindByID(ctx context.Context, id string) (*models.ClassEnrollment, error) {
	const query = `SELECT id, class_id, student_id, status, created_at, updated_at FROM class_enrollments WHERE id = $1`
	var enrollment models.ClassEnrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find class enrollment %s: %w", id, err)
	}
	return &enrollment, nil
}

// FindOtherInClass looks for another active enrollment of the student in classID.
func (r *ClassEnrollmentRepository) FindOtherInClass(ctx context.Context, exec sqlx.ExtContext, studentID int64, classID, excludeID string) (*models.ClassEnrollment, error) {
	const query = `SELECT id, class_id, student_id, status, created_at, updated_at FROM class_enrollments
WHERE student_id = $1 AND class_id = $2 AND id <> $3 AND status = $4 LIMIT 1`
	var enrollment models.ClassEnrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, studentID, classID, excludeID, models.EnrollmentStatusActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find duplicate class enrollment: %w", err)
	}
	return &enrollment, nil
}

// UpdateClass points the enrollment at a new section.
func (r *ClassEnrollmentRepository) UpdateClass(ctx context.Context, exec sqlx.ExtContext, id, classID string, updatedAt time.Time) error {
	const query = `UPDATE class_enrollments SET class_id = $2, updated_at = $3 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, classID, updatedAt)
	if err != nil {
		return fmt.Errorf("update class enrollment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an enrollment row.
func (r *ClassEnrollmentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `DELETE FROM class_enrollments WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete class enrollment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListStudentsByClasses returns active (class, student) pairs for the given sections.
func (r *ClassEnrollmentRepository) ListStudentsByClasses(ctx context.Context, classIDs []string) ([]models.ClassStudent, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT class_id, student_id FROM class_enrollments WHERE status = ? AND class_id IN (?)`, models.EnrollmentStatusActive, classIDs)
	if err != nil {
		return nil, fmt.Errorf("build class students lookup: %w", err)
	}
	var rows []models.ClassStudent
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return rows, nil
}

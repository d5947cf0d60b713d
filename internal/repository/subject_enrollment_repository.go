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

// SubjectEnrollmentRepository manages subject-level enrollment rows.
type SubjectEnrollmentRepository struct {
	db *sqlx.DB
}

// NewSubjectEnrollmentRepository constructs the repository.
func NewSubjectEnrollmentRepository(db *sqlx.DB) *SubjectEnrollmentRepository {
	return &SubjectEnrollmentRepository{db: db}
}

func (r *SubjectEnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindForTransfer locates the subject enrollment paired with a class
// enrollment, preferring the row already pointing at preferClassID.
func (r *SubjectEnrollmentRepository) FindForTransfer(ctx context.Context, exec sqlx.ExtContext, studentID int64, subjectCode, schoolYear string, semester int, preferClassID string) (*models.SubjectEnrollment, error) {
	const query = `SELECT se.id, se.student_id, se.subject_id, se.class_id, se.section, se.school_year, se.semester,
se.grade, se.credit_status, se.created_at, se.updated_at
FROM subject_enrollments se
JOIN subjects s ON s.id = se.subject_id
WHERE se.student_id = $1 AND UPPER(TRIM(s.code)) = UPPER(TRIM($2)) AND se.school_year = $3 AND se.semester = $4
ORDER BY (se.class_id IS NOT DISTINCT FROM $5) DESC, se.created_at
LIMIT 1`
	var enrollment models.SubjectEnrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, studentID, subjectCode, schoolYear, semester, preferClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find subject enrollment for student %d: %w", studentID, err)
	}
	return &enrollment, nil
}

// UpdateSection sets the class and denormalised section of a subject enrollment.
func (r *SubjectEnrollmentRepository) UpdateSection(ctx context.Context, exec sqlx.ExtContext, id, classID, section string, updatedAt time.Time) error {
	const query = `UPDATE subject_enrollments SET class_id = $2, section = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, classID, section, updatedAt); err != nil {
		return fmt.Errorf("update subject enrollment %s: %w", id, err)
	}
	return nil
}

// ListForStudentPeriod returns a student's subjects for a period with catalogue data.
func (r *SubjectEnrollmentRepository) ListForStudentPeriod(ctx context.Context, studentID int64, period models.AcademicPeriod) ([]models.SubjectEnrollmentDetail, error) {
	const query = `SELECT se.id, se.student_id, se.subject_id, se.class_id, se.section, se.school_year, se.semester,
se.grade, se.credit_status, se.created_at, se.updated_at,
s.code AS subject_code, s.title AS subject_title, s.units
FROM subject_enrollments se
JOIN subjects s ON s.id = se.subject_id
WHERE se.student_id = $1 AND se.school_year = $2 AND se.semester = $3
ORDER BY s.code`
	var rows []models.SubjectEnrollmentDetail
	if err := r.db.SelectContext(ctx, &rows, query, studentID, period.SchoolYear, period.Semester); err != nil {
		return nil, fmt.Errorf("list subject enrollments for student %d: %w", studentID, err)
	}
	return rows, nil
}

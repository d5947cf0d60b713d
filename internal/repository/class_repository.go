package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

const classColumns = `id, subject_code, section, school_year, semester, maximum_slots, faculty_id, room_id, created_at, updated_at`

// ClassRepository handles persistence for section offerings.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository creates a new repository instance.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID retrieves a section by id.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find class %s: %w", id, err)
	}
	return &class, nil
}

// FindByIDs loads several sections in one round trip. Missing ids are
// simply absent from the result.
func (r *ClassRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Class, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+classColumns+` FROM classes WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build classes lookup: %w", err)
	}
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find classes: %w", err)
	}
	return classes, nil
}

// CountEnrollments returns the live active enrollment count of a section.
func (r *ClassRepository) CountEnrollments(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM class_enrollments WHERE class_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count enrollments for class %s: %w", classID, err)
	}
	return count, nil
}

// ListSiblings returns the other sections of the same subject and period
// annotated with their enrollment counts.
func (r *ClassRepository) ListSiblings(ctx context.Context, class models.Class) ([]models.ClassWithCount, error) {
	const query = `SELECT c.id, c.subject_code, c.section, c.school_year, c.semester, c.maximum_slots,
c.faculty_id, c.room_id, c.created_at, c.updated_at,
COUNT(ce.id) AS enrolled_count
FROM classes c
LEFT JOIN class_enrollments ce ON ce.class_id = c.id AND ce.status = $5
WHERE UPPER(TRIM(c.subject_code)) = UPPER(TRIM($1)) AND c.school_year = $2 AND c.semester = $3 AND c.id <> $4
GROUP BY c.id
ORDER BY c.section`
	var siblings []models.ClassWithCount
	if err := r.db.SelectContext(ctx, &siblings, query, class.SubjectCode, class.SchoolYear, class.Semester, class.ID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list sibling sections of %s: %w", class.ID, err)
	}
	return siblings, nil
}

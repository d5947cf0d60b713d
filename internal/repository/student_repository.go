package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-records-api/internal/models"
)

const studentColumns = `id, first_name, middle_name, last_name, email, course_id, academic_year, status, created_at, updated_at, deleted_at`

// StudentRepository provides access to the students table, including the
// primitives used to renumber a student in place.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new repository instance.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID returns a student including soft-deleted rows.
func (r *StudentRepository) FindByID(ctx context.Context, id int64) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student %d: %w", id, err)
	}
	return &student, nil
}

// LockByID loads the student row and holds a row lock until the
// surrounding transaction ends.
func (r *StudentRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1 FOR UPDATE`
	var student models.Student
	if err := sqlx.GetContext(ctx, r.exec(exec), &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock student %d: %w", id, err)
	}
	return &student, nil
}

// Exists reports whether any row, soft-deleted or not, uses id.
func (r *StudentRepository) Exists(ctx context.Context, exec sqlx.ExtContext, id int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, id); err != nil {
		return false, fmt.Errorf("check student %d exists: %w", id, err)
	}
	return exists, nil
}

// Snapshot returns the full student row as JSON for change log backups.
func (r *StudentRepository) Snapshot(ctx context.Context, exec sqlx.ExtContext, id int64) ([]byte, error) {
	const query = `SELECT row_to_json(s)::text FROM students s WHERE s.id = $1`
	var raw string
	if err := sqlx.GetContext(ctx, r.exec(exec), &raw, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("snapshot student %d: %w", id, err)
	}
	return []byte(raw), nil
}

// CopyColumns lists every students column except id, in table order.
func (r *StudentRepository) CopyColumns(ctx context.Context, exec sqlx.ExtContext) ([]string, error) {
	const query = `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = 'students' AND column_name <> 'id'
ORDER BY ordinal_position`
	var columns []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &columns, query); err != nil {
		return nil, fmt.Errorf("list student columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("list student columns: students table not found")
	}
	return columns, nil
}

// CloneWithID inserts a copy of the oldID row under newID.
func (r *StudentRepository) CloneWithID(ctx context.Context, exec sqlx.ExtContext, oldID, newID int64, columns []string) error {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	list := strings.Join(quoted, ", ")
	query := fmt.Sprintf(`INSERT INTO students (id, %s) SELECT $1, %s FROM students WHERE id = $2`, list, list)
	res, err := r.exec(exec).ExecContext(ctx, query, newID, oldID)
	if err != nil {
		return fmt.Errorf("clone student %d as %d: %w", oldID, newID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("clone student %d as %d: %d rows inserted", oldID, newID, n)
	}
	return nil
}

// Delete removes the student row permanently.
func (r *StudentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	const query = `DELETE FROM students WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete student %d: %w", id, err)
	}
	return nil
}

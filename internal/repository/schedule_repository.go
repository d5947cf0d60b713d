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

const scheduleRowSelect = `SELECT s.id, s.class_id, s.day_of_week, s.start_time::text AS start_time, s.end_time::text AS end_time,
COALESCE(s.room_id, c.room_id) AS room_id, s.created_at, s.updated_at,
c.subject_code, c.section, c.school_year, c.semester, c.faculty_id::text AS faculty_id,
NULLIF(TRIM(CONCAT(f.first_name, ' ', f.last_name)), '') AS faculty_name,
r.name AS room_name
FROM schedules s
JOIN classes c ON c.id = s.class_id
LEFT JOIN faculty f ON f.id = c.faculty_id
LEFT JOIN rooms r ON r.id = COALESCE(s.room_id, c.room_id)`

// ScheduleRepository reads and adjusts section meeting times.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new repository instance.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListForPeriod returns every schedule of the period's sections.
func (r *ScheduleRepository) ListForPeriod(ctx context.Context, period models.AcademicPeriod) ([]models.ScheduleRow, error) {
	query := scheduleRowSelect + ` WHERE c.school_year = $1 AND c.semester = $2 ORDER BY s.day_of_week, s.start_time, s.id`
	var rows []models.ScheduleRow
	if err := r.db.SelectContext(ctx, &rows, query, period.SchoolYear, period.Semester); err != nil {
		return nil, fmt.Errorf("list schedules for %s: %w", period, err)
	}
	return rows, nil
}

// ListForDay returns the period's schedules meeting on day, matched case-insensitively.
func (r *ScheduleRepository) ListForDay(ctx context.Context, period models.AcademicPeriod, day string) ([]models.ScheduleRow, error) {
	query := scheduleRowSelect + ` WHERE c.school_year = $1 AND c.semester = $2 AND LOWER(s.day_of_week) = LOWER($3) ORDER BY s.start_time, s.id`
	var rows []models.ScheduleRow
	if err := r.db.SelectContext(ctx, &rows, query, period.SchoolYear, period.Semester, day); err != nil {
		return nil, fmt.Errorf("list schedules for %s on %s: %w", period, day, err)
	}
	return rows, nil
}

// FindByID returns one schedule with its section context.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.ScheduleRow, error) {
	query := scheduleRowSelect + ` WHERE s.id = $1`
	var row models.ScheduleRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find schedule %s: %w", id, err)
	}
	return &row, nil
}

// UpdateRoom reassigns the meeting room.
func (r *ScheduleRepository) UpdateRoom(ctx context.Context, exec sqlx.ExtContext, id, roomID string, updatedAt time.Time) error {
	const query = `UPDATE schedules SET room_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, roomID, updatedAt); err != nil {
		return fmt.Errorf("update schedule %s room: %w", id, err)
	}
	return nil
}

// UpdateTime moves the meeting to another day and time.
func (r *ScheduleRepository) UpdateTime(ctx context.Context, exec sqlx.ExtContext, id, day string, start, end models.ClockTime, updatedAt time.Time) error {
	const query = `UPDATE schedules SET day_of_week = $2, start_time = $3::time, end_time = $4::time, updated_at = $5 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, day, start.String(), end.String(), updatedAt); err != nil {
		return fmt.Errorf("update schedule %s time: %w", id, err)
	}
	return nil
}

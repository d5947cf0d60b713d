package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/sma-records-api/internal/models"
)

const changeLogColumns = `id, old_student_id, new_student_id, student_name, changed_by, affected_records, backup_data,
reason, is_undone, undone_at, undone_by, created_at`

// ChangeLogRepository persists student id change logs.
type ChangeLogRepository struct {
	db *sqlx.DB
}

// NewChangeLogRepository constructs the repository.
func NewChangeLogRepository(db *sqlx.DB) *ChangeLogRepository {
	return &ChangeLogRepository{db: db}
}

func (r *ChangeLogRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a change log row.
func (r *ChangeLogRepository) Create(ctx context.Context, exec sqlx.ExtContext, log *models.StudentIDChangeLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if len(log.AffectedRecords) == 0 {
		log.AffectedRecords = types.JSONText(`{}`)
	}
	if len(log.BackupData) == 0 {
		log.BackupData = types.JSONText(`{}`)
	}
	const query = `INSERT INTO student_id_change_logs
(id, old_student_id, new_student_id, student_name, changed_by, affected_records, backup_data, reason, is_undone, created_at)
VALUES (:id, :old_student_id, :new_student_id, :student_name, :changed_by, :affected_records, :backup_data, :reason, :is_undone, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, log); err != nil {
		return fmt.Errorf("insert student id change log: %w", err)
	}
	return nil
}

// FindByID returns a change log.
func (r *ChangeLogRepository) FindByID(ctx context.Context, id string) (*models.StudentIDChangeLog, error) {
	return r.find(ctx, r.db, id, false)
}

// LockByID returns a change log holding a row lock for the transaction.
func (r *ChangeLogRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentIDChangeLog, error) {
	return r.find(ctx, r.exec(exec), id, true)
}

func (r *ChangeLogRepository) find(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (*models.StudentIDChangeLog, error) {
	query := `SELECT ` + changeLogColumns + ` FROM student_id_change_logs WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var log models.StudentIDChangeLog
	if err := sqlx.GetContext(ctx, q, &log, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find change log %s: %w", id, err)
	}
	return &log, nil
}

// MarkUndone flags a log as reverted by operator at the given time.
func (r *ChangeLogRepository) MarkUndone(ctx context.Context, exec sqlx.ExtContext, id, undoneBy string, undoneAt time.Time) error {
	const query = `UPDATE student_id_change_logs SET is_undone = TRUE, undone_by = $2, undone_at = $3 WHERE id = $1 AND is_undone = FALSE`
	res, err := r.exec(exec).ExecContext(ctx, query, id, undoneBy, undoneAt)
	if err != nil {
		return fmt.Errorf("mark change log %s undone: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns change logs newest first along with the total count.
func (r *ChangeLogRepository) List(ctx context.Context, filter models.ChangeLogFilter) ([]models.StudentIDChangeLog, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("(old_student_id = $%d OR new_student_id = $%d)", len(args), len(args)))
	}
	if !filter.IncludeUndone {
		conditions = append(conditions, "is_undone = FALSE")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	listQuery := fmt.Sprintf(`SELECT %s FROM student_id_change_logs%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		changeLogColumns, where, pageSize, (page-1)*pageSize)
	var logs []models.StudentIDChangeLog
	if err := r.db.SelectContext(ctx, &logs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list change logs: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM student_id_change_logs`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count change logs: %w", err)
	}
	return logs, total, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

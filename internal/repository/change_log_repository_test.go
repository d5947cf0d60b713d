package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/models"
)

var fixedNow = time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

var changeLogRowColumns = []string{"id", "old_student_id", "new_student_id", "student_name", "changed_by", "affected_records", "backup_data", "reason", "is_undone", "undone_at", "undone_by", "created_at"}

func TestChangeLogRepositoryCreateDefaults(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewChangeLogRepository(db)

	mock.ExpectExec(`INSERT INTO student_id_change_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	log := &models.StudentIDChangeLog{OldStudentID: 1001, NewStudentID: 500001, StudentName: "Ana Reyes", ChangedBy: "admin"}
	require.NoError(t, repo.Create(context.Background(), nil, log))
	assert.NotEmpty(t, log.ID)
	assert.False(t, log.CreatedAt.IsZero())
	assert.Equal(t, "{}", string(log.BackupData))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeLogRepositoryLockByID(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewChangeLogRepository(db)

	mock.ExpectQuery(`FROM student_id_change_logs WHERE id = \$1 FOR UPDATE`).
		WithArgs("log-1").
		WillReturnRows(sqlmock.NewRows(changeLogRowColumns).
			AddRow("log-1", 1001, 500001, "Ana Reyes", "admin", `{"tables":{}}`, `{}`, nil, false, nil, nil, fixedNow))

	log, err := repo.LockByID(context.Background(), nil, "log-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500001), log.NewStudentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeLogRepositoryMarkUndoneTwice(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewChangeLogRepository(db)

	mock.ExpectExec(`SET is_undone = TRUE`).
		WithArgs("log-1", "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkUndone(context.Background(), nil, "log-1", "admin", fixedNow)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestChangeLogRepositoryListFiltersByStudent(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewChangeLogRepository(db)
	studentID := int64(1001)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM student_id_change_logs WHERE (old_student_id = $1 OR new_student_id = $1) AND is_undone = FALSE ORDER BY created_at DESC LIMIT 20 OFFSET 20`)).
		WithArgs(studentID).
		WillReturnRows(sqlmock.NewRows(changeLogRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM student_id_change_logs WHERE (old_student_id = $1 OR new_student_id = $1) AND is_undone = FALSE`)).
		WithArgs(studentID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))

	logs, total, err := repo.List(context.Background(), models.ChangeLogFilter{StudentID: &studentID, Page: 2, PageSize: 500})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, 21, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var studentRowColumns = []string{"id", "first_name", "middle_name", "last_name", "email", "course_id", "academic_year", "status", "created_at", "updated_at", "deleted_at"}

func TestStudentRepositoryLockByID(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectQuery(`FROM students WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(1001)).
		WillReturnRows(sqlmock.NewRows(studentRowColumns).
			AddRow(1001, "Ana", nil, "Reyes", "ana@school.test", nil, nil, "ACTIVE", now, now, nil))

	student, err := repo.LockByID(context.Background(), nil, 1001)
	require.NoError(t, err)
	assert.Equal(t, "Ana Reyes", student.FullName())
	assert.False(t, student.Deleted())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`FROM students WHERE id = \$1`).WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), 5)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStudentRepositoryCloneWithIDQuotesColumns(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO students (id, "first_name", "last_name") SELECT $1, "first_name", "last_name" FROM students WHERE id = $2`)).
		WithArgs(int64(500001), int64(1001)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CloneWithID(context.Background(), nil, 1001, 500001, []string{"first_name", "last_name"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCloneWithIDDetectsMissingSource(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewStudentRepository(db)

	mock.ExpectExec(`INSERT INTO students`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CloneWithID(context.Background(), nil, 1001, 500001, []string{"first_name"})
	assert.Error(t, err)
}

func TestStudentRepositoryCopyColumnsAndSnapshot(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`information_schema.columns`).
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("first_name").AddRow("last_name"))
	mock.ExpectQuery(`row_to_json`).WithArgs(int64(1001)).
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":1001,"first_name":"Ana"}`))

	cols, err := repo.CopyColumns(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "last_name"}, cols)

	raw, err := repo.Snapshot(context.Background(), nil, 1001)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1001,"first_name":"Ana"}`, string(raw))
	require.NoError(t, mock.ExpectationsWereMet())
}

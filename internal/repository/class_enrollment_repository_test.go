package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassEnrollmentRepositoryUpdateClassMissingRow(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewClassEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE class_enrollments SET class_id = $2, updated_at = $3 WHERE id = $1`)).
		WithArgs("enr-1", "class-b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateClass(context.Background(), nil, "enr-1", "class-b", fixedNow)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassEnrollmentRepositoryFindOtherInClass(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewClassEnrollmentRepository(db)

	mock.ExpectQuery(`WHERE student_id = \$1 AND class_id = \$2 AND id <> \$3 AND status = \$4`).
		WithArgs(int64(1001), "class-b", "enr-1", "ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id", "student_id", "status", "created_at", "updated_at"}).
			AddRow("enr-9", "class-b", 1001, "ACTIVE", fixedNow, fixedNow))

	dup, err := repo.FindOtherInClass(context.Background(), nil, 1001, "class-b", "enr-1")
	require.NoError(t, err)
	assert.Equal(t, "enr-9", dup.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassEnrollmentRepositoryFindOtherInClassIgnoresInactive(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewClassEnrollmentRepository(db)

	mock.ExpectQuery(`AND status = \$4`).
		WithArgs(int64(1001), "class-b", "enr-1", "ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id", "student_id", "status", "created_at", "updated_at"}))

	_, err := repo.FindOtherInClass(context.Background(), nil, 1001, "class-b", "enr-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassEnrollmentRepositoryListStudentsByClasses(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewClassEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT class_id, student_id FROM class_enrollments WHERE status = $1 AND class_id IN ($2, $3)`)).
		WithArgs("ACTIVE", "class-a", "class-b").
		WillReturnRows(sqlmock.NewRows([]string{"class_id", "student_id"}).
			AddRow("class-a", 1001).
			AddRow("class-b", 1001))

	rows, err := repo.ListStudentsByClasses(context.Background(), []string{"class-a", "class-b"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1001), rows[1].StudentID)
}

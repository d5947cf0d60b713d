package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/models"
)

var classRowColumns = []string{"id", "subject_code", "section", "school_year", "semester", "maximum_slots", "faculty_id", "room_id", "created_at", "updated_at"}

func TestClassRepositoryFindByIDsRebindsIn(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewClassRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM classes WHERE id IN ($1, $2)`)).
		WithArgs("class-a", "class-b").
		WillReturnRows(sqlmock.NewRows(classRowColumns).
			AddRow("class-a", "MATH101", "A", "2024 - 2025", 1, 40, nil, nil, now, now).
			AddRow("class-b", "MATH101", "B", "2024 - 2025", 1, 0, nil, nil, now, now))

	classes, err := repo.FindByIDs(context.Background(), []string{"class-a", "class-b"})
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.True(t, classes[0].Limited())
	assert.False(t, classes[1].Limited())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryFindByIDsEmpty(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewClassRepository(db)

	classes, err := repo.FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, classes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryListSiblings(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewClassRepository(db)
	now := time.Now()
	source := models.Class{ID: "class-a", SubjectCode: "math101 ", SchoolYear: "2024 - 2025", Semester: 1}

	cols := append(append([]string{}, classRowColumns...), "enrolled_count")
	mock.ExpectQuery(`LEFT JOIN class_enrollments ce ON ce.class_id = c.id`).
		WithArgs("math101 ", "2024 - 2025", 1, "class-a", "ACTIVE").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("class-b", "MATH101", "B", "2024 - 2025", 1, 30, nil, nil, now, now, 30).
			AddRow("class-c", "MATH101", "C", "2024 - 2025", 1, 30, nil, nil, now, now, 12))

	siblings, err := repo.ListSiblings(context.Background(), source)
	require.NoError(t, err)
	require.Len(t, siblings, 2)

	full := models.NewTransferTarget(siblings[0])
	assert.True(t, full.IsFull)
	assert.Equal(t, 0, full.AvailableSlots)
	open := models.NewTransferTarget(siblings[1])
	assert.Equal(t, 18, open.AvailableSlots)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryCountEnrollments(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewClassRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM class_enrollments WHERE class_id = $1 AND status = $2`)).
		WithArgs("class-b", "ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountEnrollments(context.Background(), "class-b")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

// idWorld is an in-memory model of the students table and its references.
type idWorld struct {
	students     map[int64]models.Student
	refs         map[string]map[int64]int
	tables       []repository.ReferenceTable
	skipped      []string
	stuck        string
	activeByID   map[int64]int
	recentTxByID map[int64]int
	writes       int
}

func newIDWorld() *idWorld {
	return &idWorld{
		students: map[int64]models.Student{
			1001: {ID: 1001, FirstName: "Ana", LastName: "Reyes", Status: "ACTIVE"},
			2002: {ID: 2002, FirstName: "Ben", LastName: "Cruz", Status: "ACTIVE"},
		},
		refs: map[string]map[int64]int{
			"subject_enrollments":  {1001: 2},
			"student_transactions": {1001: 1},
			"class_enrollments":    {1001: 2, 2002: 1},
			"accounts":             {1001: 1},
		},
		tables: []repository.ReferenceTable{
			{Name: "student_transactions", Column: "student_id"},
			{Name: "class_enrollments", Column: "student_id"},
			{Name: "subject_enrollments", Column: "student_id"},
			{Name: "accounts", Column: "person_id", TextKey: true},
			{Name: "student_contacts", Column: "student_id", Optional: true},
		},
		skipped:      []string{"student_clearances", "document_locations"},
		activeByID:   map[int64]int{1001: 2},
		recentTxByID: map[int64]int{1001: 1},
	}
}

func (w *idWorld) FindByID(ctx context.Context, id int64) (*models.Student, error) {
	s, ok := w.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (w *idWorld) LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Student, error) {
	return w.FindByID(ctx, id)
}

func (w *idWorld) Exists(ctx context.Context, exec sqlx.ExtContext, id int64) (bool, error) {
	_, ok := w.students[id]
	return ok, nil
}

func (w *idWorld) Snapshot(ctx context.Context, exec sqlx.ExtContext, id int64) ([]byte, error) {
	return json.Marshal(w.students[id])
}

func (w *idWorld) CopyColumns(ctx context.Context, exec sqlx.ExtContext) ([]string, error) {
	return []string{"first_name", "last_name", "status"}, nil
}

func (w *idWorld) CloneWithID(ctx context.Context, exec sqlx.ExtContext, oldID, newID int64, columns []string) error {
	w.writes++
	s, ok := w.students[oldID]
	if !ok {
		return fmt.Errorf("clone student %d: missing", oldID)
	}
	s.ID = newID
	w.students[newID] = s
	return nil
}

func (w *idWorld) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	w.writes++
	delete(w.students, id)
	return nil
}

func (w *idWorld) ResolveTables(ctx context.Context, exec sqlx.ExtContext, optional []string) ([]repository.ReferenceTable, []string, error) {
	return w.tables, w.skipped, nil
}

func (w *idWorld) Count(ctx context.Context, exec sqlx.ExtContext, table repository.ReferenceTable, id int64) (int, error) {
	return w.refs[table.Name][id], nil
}

func (w *idWorld) Rewrite(ctx context.Context, exec sqlx.ExtContext, table repository.ReferenceTable, oldID, newID int64) (int, error) {
	w.writes++
	rows := w.refs[table.Name]
	n := rows[oldID]
	if n == 0 || table.Name == w.stuck {
		return 0, nil
	}
	rows[newID] += n
	delete(rows, oldID)
	return n, nil
}

func (w *idWorld) CountActiveSubjectEnrollments(ctx context.Context, studentID int64, period models.AcademicPeriod) (int, error) {
	return w.activeByID[studentID], nil
}

func (w *idWorld) CountTransactionsSince(ctx context.Context, studentID int64, since time.Time) (int, error) {
	return w.recentTxByID[studentID], nil
}

func (w *idWorld) totalRefs(id int64) int {
	total := 0
	for _, rows := range w.refs {
		total += rows[id]
	}
	return total
}

type memoryChangeLogs struct {
	rows map[string]*models.StudentIDChangeLog
	seq  int
}

func newMemoryChangeLogs() *memoryChangeLogs {
	return &memoryChangeLogs{rows: make(map[string]*models.StudentIDChangeLog)}
}

func (m *memoryChangeLogs) Create(ctx context.Context, exec sqlx.ExtContext, log *models.StudentIDChangeLog) error {
	m.seq++
	log.ID = fmt.Sprintf("log-%d", m.seq)
	clone := *log
	m.rows[log.ID] = &clone
	return nil
}

func (m *memoryChangeLogs) FindByID(ctx context.Context, id string) (*models.StudentIDChangeLog, error) {
	log, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *log
	return &clone, nil
}

func (m *memoryChangeLogs) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentIDChangeLog, error) {
	return m.FindByID(ctx, id)
}

func (m *memoryChangeLogs) MarkUndone(ctx context.Context, exec sqlx.ExtContext, id, undoneBy string, undoneAt time.Time) error {
	log, ok := m.rows[id]
	if !ok || log.IsUndone {
		return sql.ErrNoRows
	}
	log.IsUndone = true
	log.UndoneBy = &undoneBy
	log.UndoneAt = &undoneAt
	return nil
}

func (m *memoryChangeLogs) List(ctx context.Context, filter models.ChangeLogFilter) ([]models.StudentIDChangeLog, int, error) {
	var out []models.StudentIDChangeLog
	for _, log := range m.rows {
		if !filter.IncludeUndone && log.IsUndone {
			continue
		}
		out = append(out, *log)
	}
	return out, len(out), nil
}

var currentPeriod = AcademicPeriodFunc(func(context.Context) (models.AcademicPeriod, error) {
	return models.AcademicPeriod{SchoolYear: "2024 - 2025", Semester: 1}, nil
})

func newStudentIDService(t *testing.T, world *idWorld, logs *memoryChangeLogs, tx txProvider) *StudentIDService {
	t.Helper()
	return NewStudentIDService(world, world, logs, currentPeriod, tx, DefaultStudentIDPolicy(), nil)
}

func TestStudentIDChangeAndUndo(t *testing.T) {
	world := newIDWorld()
	logs := newMemoryChangeLogs()
	tx, mock := newTxProviderMock(t)
	audit := &auditRecorder{}
	svc := newStudentIDService(t, world, logs, tx)
	WithStudentIDAudit(audit)(svc)

	mock.ExpectBegin()
	mock.ExpectCommit()
	result, err := svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 500001, Reason: "registrar correction"}, testOperator)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Ana Reyes", result.StudentName)
	assert.GreaterOrEqual(t, result.Affected.TotalUpdated, 2)
	assert.Equal(t, fmt.Sprintf("Student ID changed from 1001 to 500001. %d records updated.", result.Affected.TotalUpdated), result.Message)

	_, err = world.FindByID(context.Background(), 1001)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	moved, err := world.FindByID(context.Background(), 500001)
	require.NoError(t, err)
	assert.Equal(t, "Ana", moved.FirstName)
	assert.Zero(t, world.totalRefs(1001))
	assert.Equal(t, 6, world.totalRefs(500001))

	log := logs.rows[result.ChangeLogID]
	require.NotNil(t, log)
	var affected models.AffectedRecords
	require.NoError(t, json.Unmarshal(log.AffectedRecords, &affected))
	assert.GreaterOrEqual(t, affected.TotalUpdated, 2)
	assert.Equal(t, "Registrar One", log.ChangedBy)
	assert.Contains(t, string(log.BackupData), `"id":1001`)
	require.NotNil(t, log.Reason)

	mock.ExpectBegin()
	mock.ExpectCommit()
	undo, err := svc.Undo(context.Background(), result.ChangeLogID, testOperator)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), undo.NewStudentID)

	restored, err := world.FindByID(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), restored.ID)
	assert.Zero(t, world.totalRefs(500001))
	assert.True(t, logs.rows[result.ChangeLogID].IsUndone)

	_, err = svc.Undo(context.Background(), result.ChangeLogID, testOperator)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	require.Len(t, audit.logs, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentIDUndoFailsWhenOriginalReclaimed(t *testing.T) {
	world := newIDWorld()
	logs := newMemoryChangeLogs()
	tx, mock := newTxProviderMock(t)
	svc := newStudentIDService(t, world, logs, tx)

	mock.ExpectBegin()
	mock.ExpectCommit()
	result, err := svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 500001}, testOperator)
	require.NoError(t, err)

	world.students[1001] = models.Student{ID: 1001, FirstName: "New", LastName: "Student"}
	writes := world.writes

	_, err = svc.Undo(context.Background(), result.ChangeLogID, testOperator)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	assert.Equal(t, writes, world.writes)
	assert.False(t, logs.rows[result.ChangeLogID].IsUndone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentIDChangeValidation(t *testing.T) {
	world := newIDWorld()
	tx, _ := newTxProviderMock(t)
	svc := newStudentIDService(t, world, newMemoryChangeLogs(), tx)

	cases := []struct {
		name  string
		newID int64
	}{
		{name: "same id", newID: 1001},
		{name: "taken", newID: 2002},
		{name: "out of range", newID: 42},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: tc.newID}, testOperator)
			require.Error(t, err)
			var typed *appErrors.Error
			require.True(t, errors.As(err, &typed))
			assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)
			assert.NotNil(t, typed.Details)
		})
	}
	assert.Zero(t, world.writes)
}

func TestStudentIDChangeBypassAllowsOutOfRange(t *testing.T) {
	world := newIDWorld()
	world.activeByID[1001] = 50
	tx, mock := newTxProviderMock(t)
	svc := newStudentIDService(t, world, newMemoryChangeLogs(), tx)

	mock.ExpectBegin()
	mock.ExpectCommit()
	result, err := svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 42, BypassSafetyChecks: true}, testOperator)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentIDChangeRequiresConfirmationForRiskyStudents(t *testing.T) {
	world := newIDWorld()
	world.activeByID[1001] = 11
	world.recentTxByID[1001] = 6
	tx, mock := newTxProviderMock(t)
	svc := newStudentIDService(t, world, newMemoryChangeLogs(), tx)

	_, err := svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 500001}, testOperator)
	require.Error(t, err)
	var typed *appErrors.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, appErrors.ErrConfirmationRequired.Code, typed.Code)
	details, ok := typed.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, details["warnings"], 2)
	assert.Zero(t, world.writes)

	mock.ExpectBegin()
	mock.ExpectCommit()
	result, err := svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 500001, Confirmed: true}, testOperator)
	require.NoError(t, err)
	assert.Len(t, result.Warnings, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentIDChangeRejectsDeletedStudent(t *testing.T) {
	world := newIDWorld()
	deletedAt := time.Now()
	s := world.students[1001]
	s.DeletedAt = &deletedAt
	world.students[1001] = s
	tx, _ := newTxProviderMock(t)
	svc := newStudentIDService(t, world, newMemoryChangeLogs(), tx)

	_, err := svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 500001}, testOperator)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))

	_, err = svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 7777, NewStudentID: 500001}, testOperator)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestStudentIDChangeRollsBackWhenReferencesRemain(t *testing.T) {
	world := newIDWorld()
	world.stuck = "accounts"
	logs := newMemoryChangeLogs()
	tx, mock := newTxProviderMock(t)
	svc := newStudentIDService(t, world, logs, tx)

	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err := svc.Change(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 500001}, testOperator)
	require.Error(t, err)
	var typed *appErrors.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, appErrors.ErrConsistency.Code, typed.Code)
	assert.Equal(t, map[string]interface{}{"remaining": map[string]int{"accounts": 1}}, typed.Details)
	assert.Empty(t, logs.rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentIDDryRunIsRepeatableAndReadOnly(t *testing.T) {
	world := newIDWorld()
	tx, mock := newTxProviderMock(t)
	svc := newStudentIDService(t, world, newMemoryChangeLogs(), tx)
	req := dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 500001}

	first, err := svc.DryRun(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.DryRun(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, first.Valid)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, 6, first.Summary.Total)
	assert.Equal(t, []string{"student_clearances", "document_locations"}, first.Summary.Skipped)
	assert.Zero(t, world.writes)
	require.NoError(t, mock.ExpectationsWereMet())

	invalid, err := svc.DryRun(context.Background(), dto.ChangeStudentIDRequest{StudentID: 1001, NewStudentID: 2002})
	require.NoError(t, err)
	assert.False(t, invalid.Valid)
	assert.NotEmpty(t, invalid.Errors)
}

func TestStudentIDAffectedRecordsSummary(t *testing.T) {
	world := newIDWorld()
	tx, _ := newTxProviderMock(t)
	svc := newStudentIDService(t, world, newMemoryChangeLogs(), tx)

	summary, err := svc.AffectedRecordsSummary(context.Background(), 1001)
	require.NoError(t, err)
	require.Len(t, summary.Tables, 5)
	assert.Equal(t, "student_contacts", summary.Tables[4].Table)
	assert.True(t, summary.Tables[4].Optional)
	assert.Equal(t, 0, summary.Tables[4].Count)
	assert.Equal(t, 6, summary.Total)

	_, err = svc.AffectedRecordsSummary(context.Background(), 0)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestStudentIDChangeLogsListing(t *testing.T) {
	world := newIDWorld()
	logs := newMemoryChangeLogs()
	tx, _ := newTxProviderMock(t)
	svc := newStudentIDService(t, world, logs, tx)
	logs.rows["log-9"] = &models.StudentIDChangeLog{ID: "log-9", OldStudentID: 1, NewStudentID: 2}

	items, pagination, err := svc.ListChangeLogs(context.Background(), dto.ChangeLogQuery{PageSize: 1000})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)

	_, err = svc.GetChangeLog(context.Background(), "missing")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

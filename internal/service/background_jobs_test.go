package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
)

type recordingQueue struct {
	registry *jobs.Registry
	jobs     []jobs.Job
	err      error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.registry.Track(job.ID, job.Type)
	q.jobs = append(q.jobs, job)
	return nil
}

type recordingNotifier struct {
	users   []string
	notices []Notice
}

func (r *recordingNotifier) Notify(ctx context.Context, userID string, notice Notice) (*models.Notification, error) {
	r.users = append(r.users, userID)
	r.notices = append(r.notices, notice)
	return &models.Notification{UserID: userID, Title: notice.Title}, nil
}

type stubBulkRunner struct {
	result     *models.BulkTransferResult
	err        error
	sawCancel  bool
	progressed []int
}

func (s *stubBulkRunner) BulkTransfer(ctx context.Context, req dto.BulkTransferRequest, actor models.Operator, cancelled func() bool, progress BulkProgress) (*models.BulkTransferResult, error) {
	s.sawCancel = cancelled()
	for i := range req.EnrollmentIDs {
		progress(i+1, len(req.EnrollmentIDs))
		s.progressed = append(s.progressed, i+1)
	}
	return s.result, s.err
}

func TestRetryableMarksClientErrorsPermanent(t *testing.T) {
	assert.Nil(t, retryable(nil))
	assert.True(t, jobs.IsPermanent(retryable(appErrors.Clone(appErrors.ErrValidation, "bad"))))
	assert.True(t, jobs.IsPermanent(retryable(appErrors.ErrConfirmationRequired)))
	assert.False(t, jobs.IsPermanent(retryable(errors.New("connection reset"))))
	assert.False(t, jobs.IsPermanent(retryable(appErrors.ErrConsistency)))
}

func TestTransferJobLifecycle(t *testing.T) {
	registry := jobs.NewRegistry()
	queue := &recordingQueue{registry: registry}
	notes := &recordingNotifier{}
	runner := &stubBulkRunner{result: &models.BulkTransferResult{Total: 2, SuccessCount: 1, ErrorCount: 1}}
	svc := NewTransferJobService(runner, registry, notes, nil, nil)

	_, err := svc.EnqueueBulk(context.Background(), dto.BulkTransferRequest{EnrollmentIDs: []string{"e1"}, TargetClassID: "class-b"}, testOperator)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))

	_, err = svc.EnqueueBulk(context.Background(), dto.BulkTransferRequest{TargetClassID: "class-b"}, testOperator)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	svc.UseQueue(queue)
	req := dto.BulkTransferRequest{EnrollmentIDs: []string{"e1", "e2"}, TargetClassID: "class-b", NotifyEmail: "ops@example.com"}
	accepted, err := svc.EnqueueBulk(context.Background(), req, testOperator)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StatusQueued), accepted.Status)
	require.Len(t, queue.jobs, 1)

	job := queue.jobs[0]
	require.NoError(t, svc.Handle(context.Background(), job))
	assert.False(t, runner.sawCancel)
	assert.Equal(t, []int{1, 2}, runner.progressed)

	record, ok := registry.Get(accepted.JobID)
	require.True(t, ok)
	assert.Equal(t, 2, record.Done)
	assert.Equal(t, 2, record.Total)
	assert.Equal(t, runner.result, record.Result)

	require.Len(t, notes.notices, 1)
	assert.Equal(t, testOperator.ID, notes.users[0])
	assert.Equal(t, "ops@example.com", notes.notices[0].Email)
	assert.Equal(t, models.NotificationInfo, notes.notices[0].Level)
}

func TestTransferJobErrorsAndFailedHook(t *testing.T) {
	registry := jobs.NewRegistry()
	notes := &recordingNotifier{}
	runner := &stubBulkRunner{err: appErrors.Clone(appErrors.ErrValidation, "target missing")}
	svc := NewTransferJobService(runner, registry, notes, nil, nil)
	job := jobs.Job{ID: "job-1", Type: jobTypeBulkTransfer, Attempt: 1, Payload: bulkTransferJob{
		Request: dto.BulkTransferRequest{EnrollmentIDs: []string{"e1"}, TargetClassID: "x"},
		Actor:   models.Operator{ID: "user-9", Email: "user9@example.com"},
	}}

	err := svc.Handle(context.Background(), job)
	assert.True(t, jobs.IsPermanent(err))

	svc.Failed(context.Background(), job, err)
	require.Len(t, notes.notices, 1)
	assert.Equal(t, models.NotificationError, notes.notices[0].Level)
	assert.Equal(t, "user9@example.com", notes.notices[0].Email)
	assert.Equal(t, "target missing", notes.notices[0].Body)

	err = svc.Handle(context.Background(), jobs.Job{ID: "job-2", Payload: "garbage"})
	assert.True(t, jobs.IsPermanent(err))
}

func TestTransferJobTimeoutIsNotCancellation(t *testing.T) {
	registry := jobs.NewRegistry()
	registry.Track("job-1", jobTypeBulkTransfer)
	notes := &recordingNotifier{}
	runner := &stubBulkRunner{result: &models.BulkTransferResult{Total: 2, SuccessCount: 1, Skipped: 1, TimedOut: true}}
	svc := NewTransferJobService(runner, registry, notes, nil, nil)
	job := jobs.Job{ID: "job-1", Type: jobTypeBulkTransfer, Attempt: 1, Payload: bulkTransferJob{
		Request: dto.BulkTransferRequest{EnrollmentIDs: []string{"e1", "e2"}, TargetClassID: "class-b"},
		Actor:   testOperator,
	}}

	err := svc.Handle(context.Background(), job)
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Empty(t, notes.notices)

	record, ok := registry.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, runner.result, record.Result)

	svc.Failed(context.Background(), job, err)
	require.Len(t, notes.notices, 1)
	assert.Equal(t, "Bulk section transfer timed out", notes.notices[0].Title)
	assert.True(t, strings.HasPrefix(notes.notices[0].Body, "Timed out."))
	assert.NotContains(t, notes.notices[0].Body, "Cancelled")
}

type stubChanger struct {
	result *models.StudentIDChangeResult
	err    error
	calls  int
}

func (s *stubChanger) Change(ctx context.Context, req dto.ChangeStudentIDRequest, actor models.Operator) (*models.StudentIDChangeResult, error) {
	s.calls++
	return s.result, s.err
}

func TestStudentIDJobNotifiesStudent(t *testing.T) {
	registry := jobs.NewRegistry()
	queue := &recordingQueue{registry: registry}
	notes := &recordingNotifier{}
	changer := &stubChanger{result: &models.StudentIDChangeResult{Success: true, OldStudentID: 100100, NewStudentID: 100200, StudentName: "Ana Cruz", ChangeLogID: "log-1"}}
	svc := NewStudentIDJobService(changer, registry, notes, nil, nil)
	svc.UseQueue(queue)

	_, err := svc.EnqueueChange(context.Background(), dto.ChangeStudentIDRequest{StudentID: 100100, NewStudentID: 100100}, testOperator)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	accepted, err := svc.EnqueueChange(context.Background(), dto.ChangeStudentIDRequest{StudentID: 100100, NewStudentID: 100200, Confirmed: true}, testOperator)
	require.NoError(t, err)
	require.NoError(t, svc.Handle(context.Background(), queue.jobs[0]))

	record, _ := registry.Get(accepted.JobID)
	assert.Equal(t, 1, record.Done)
	require.Len(t, notes.notices, 1)
	assert.Equal(t, models.StudentRef{ID: 100200}, notes.notices[0].Person)

	svc.Failed(context.Background(), queue.jobs[0], errors.New("db down"))
	require.Len(t, notes.notices, 2)
	assert.Equal(t, models.StudentRef{ID: 100100}, notes.notices[1].Person)
	assert.Equal(t, models.NotificationError, notes.notices[1].Level)
}

func TestStudentIDJobRetriesServerErrors(t *testing.T) {
	svc := NewStudentIDJobService(&stubChanger{err: errors.New("deadlock detected")}, jobs.NewRegistry(), nil, nil, nil)
	err := svc.Handle(context.Background(), jobs.Job{ID: "j", Payload: studentIDJob{Request: dto.ChangeStudentIDRequest{StudentID: 1, NewStudentID: 2}}})
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
}

func TestJobServiceGetAndCancel(t *testing.T) {
	registry := jobs.NewRegistry()
	registry.Track("job-1", jobTypeBulkTransfer)
	svc := NewJobService(registry)

	record, err := svc.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, record.Status)

	_, err = svc.Cancel("job-1")
	require.NoError(t, err)
	assert.True(t, registry.Cancelled("job-1"))

	_, err = svc.Get("missing")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

package service

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
)

// Queue names used by the API process.
const (
	QueueTransfers  = "transfers"
	QueueStudentIDs = "student-ids"
	QueueDocuments  = "documents"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type notifier interface {
	Notify(ctx context.Context, userID string, notice Notice) (*models.Notification, error)
}

// jobSupport holds what every queue-backed service shares.
type jobSupport struct {
	queueName string
	queue     jobDispatcher
	registry  *jobs.Registry
	notify    notifier
	metrics   *MetricsService
	logger    *zap.Logger
}

func (j *jobSupport) enqueue(id, jobType string, payload interface{}) (*models.JobAccepted, error) {
	if j.queue == nil {
		return nil, appErrors.Clonef(appErrors.ErrPreconditionFailed, "%s queue is not running", j.queueName)
	}
	if err := j.queue.Enqueue(jobs.Job{ID: id, Type: jobType, Payload: payload}); err != nil {
		return nil, internalError(err, "failed to enqueue %s job", jobType)
	}
	return &models.JobAccepted{JobID: id, Type: jobType, Status: string(jobs.StatusQueued)}, nil
}

func (j *jobSupport) observe(status string, started time.Time) {
	j.metrics.ObserveJob(j.queueName, status, time.Since(started))
}

func (j *jobSupport) send(ctx context.Context, userID string, notice Notice) {
	if j.notify == nil {
		return
	}
	if _, err := j.notify.Notify(ctx, userID, notice); err != nil {
		j.logger.Warn("failed to notify job outcome", zap.String("queue", j.queueName), zap.String("title", notice.Title), zap.Error(err))
	}
}

// retryable marks client errors as permanent so the queue does not retry
// requests that can never succeed.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	if appErr := appErrors.FromError(err); appErr.Status < http.StatusInternalServerError {
		return jobs.Permanent(err)
	}
	return err
}

// JobService exposes tracked job records and cancellation.
type JobService struct {
	registry *jobs.Registry
}

// NewJobService constructs the service.
func NewJobService(registry *jobs.Registry) *JobService {
	return &JobService{registry: registry}
}

// Get returns a job record.
func (s *JobService) Get(id string) (*jobs.Record, error) {
	record, ok := s.registry.Get(id)
	if !ok {
		return nil, appErrors.Clonef(appErrors.ErrNotFound, "job %s not found", id)
	}
	return &record, nil
}

// Cancel requests cooperative cancellation. Finished jobs cannot be cancelled.
func (s *JobService) Cancel(id string) (*jobs.Record, error) {
	record, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !s.registry.Cancel(id) {
		return nil, appErrors.Clonef(appErrors.ErrConflict, "job %s is already %s", id, record.Status)
	}
	return s.Get(id)
}

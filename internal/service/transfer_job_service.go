package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
)

const jobTypeBulkTransfer = "bulk_transfer"

type bulkTransferRunner interface {
	BulkTransfer(ctx context.Context, req dto.BulkTransferRequest, actor models.Operator, cancelled func() bool, progress BulkProgress) (*models.BulkTransferResult, error)
}

type bulkTransferJob struct {
	Request dto.BulkTransferRequest
	Actor   models.Operator
}

// TransferJobService runs bulk section transfers on the transfers queue.
type TransferJobService struct {
	jobSupport
	runner    bulkTransferRunner
	validator *validator.Validate
}

// NewTransferJobService constructs the service. Bind the queue with UseQueue
// once it has been built around Handle and Failed.
func NewTransferJobService(runner bulkTransferRunner, registry *jobs.Registry, notify notifier, metrics *MetricsService, logger *zap.Logger) *TransferJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferJobService{
		jobSupport: jobSupport{queueName: QueueTransfers, registry: registry, notify: notify, metrics: metrics, logger: logger},
		runner:     runner,
		validator:  validator.New(),
	}
}

// UseQueue sets the dispatcher jobs are pushed to.
func (s *TransferJobService) UseQueue(q jobDispatcher) {
	s.queue = q
}

// EnqueueBulk validates the batch and hands it to the queue.
func (s *TransferJobService) EnqueueBulk(ctx context.Context, req dto.BulkTransferRequest, actor models.Operator) (*models.JobAccepted, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid bulk transfer request")
	}
	return s.enqueue(uuid.NewString(), jobTypeBulkTransfer, bulkTransferJob{Request: req, Actor: actor})
}

// Handle runs one attempt of a bulk transfer job.
func (s *TransferJobService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(bulkTransferJob)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type))
	}
	started := time.Now()
	result, err := s.runner.BulkTransfer(ctx, payload.Request, payload.Actor,
		func() bool { return s.registry.Cancelled(job.ID) },
		func(done, total int) { s.registry.Progress(job.ID, done, total) },
	)
	if err != nil {
		s.observe(string(jobs.StatusRetrying), started)
		return retryable(err)
	}
	s.registry.SetResult(job.ID, result)
	if result.TimedOut {
		return jobs.Permanent(fmt.Errorf("bulk transfer stopped after %d of %d enrollments: %w",
			result.Total-result.Skipped, result.Total, context.DeadlineExceeded))
	}

	status := jobs.StatusFinished
	if result.Cancelled {
		status = jobs.StatusCancelled
	}
	s.observe(string(status), started)

	level := models.NotificationSuccess
	if result.ErrorCount > 0 || result.Cancelled {
		level = models.NotificationInfo
	}
	body := fmt.Sprintf("%d of %d enrollments moved, %d failed, %d skipped.", result.SuccessCount, result.Total, result.ErrorCount, result.Skipped)
	if result.Cancelled {
		body = "Cancelled. " + body
	}
	s.send(ctx, payload.Actor.ID, Notice{
		Title: "Bulk section transfer finished",
		Body:  body,
		Level: level,
		Data:  map[string]interface{}{"job_id": job.ID, "target_class_id": payload.Request.TargetClassID},
		Email: notifyAddress(payload.Request.NotifyEmail, payload.Actor),
	})
	return nil
}

// Failed notifies the operator once the job has given up.
func (s *TransferJobService) Failed(ctx context.Context, job jobs.Job, err error) {
	s.metrics.ObserveJob(s.queueName, string(jobs.StatusFailed), 0)
	payload, ok := job.Payload.(bulkTransferJob)
	if !ok {
		return
	}
	title, body := "Bulk section transfer failed", appErrors.FromError(err).Message
	if errors.Is(err, context.DeadlineExceeded) {
		title, body = "Bulk section transfer timed out", "Timed out. "+err.Error()
	}
	s.send(ctx, payload.Actor.ID, Notice{
		Title: title,
		Body:  body,
		Level: models.NotificationError,
		Data:  map[string]interface{}{"job_id": job.ID, "attempts": job.Attempt},
		Email: notifyAddress(payload.Request.NotifyEmail, payload.Actor),
	})
}

func notifyAddress(explicit string, actor models.Operator) string {
	if explicit != "" {
		return explicit
	}
	return actor.Email
}

package service

import (
	"context"
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

const jobTypeStudentIDChange = "student_id_change"

type studentIDChanger interface {
	Change(ctx context.Context, req dto.ChangeStudentIDRequest, actor models.Operator) (*models.StudentIDChangeResult, error)
}

type studentIDJob struct {
	Request dto.ChangeStudentIDRequest
	Actor   models.Operator
}

// StudentIDJobService runs renumbering requests on the student-ids queue.
type StudentIDJobService struct {
	jobSupport
	changer   studentIDChanger
	validator *validator.Validate
}

// NewStudentIDJobService constructs the service.
func NewStudentIDJobService(changer studentIDChanger, registry *jobs.Registry, notify notifier, metrics *MetricsService, logger *zap.Logger) *StudentIDJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentIDJobService{
		jobSupport: jobSupport{queueName: QueueStudentIDs, registry: registry, notify: notify, metrics: metrics, logger: logger},
		changer:    changer,
		validator:  validator.New(),
	}
}

// UseQueue sets the dispatcher jobs are pushed to.
func (s *StudentIDJobService) UseQueue(q jobDispatcher) {
	s.queue = q
}

// EnqueueChange queues a renumbering. Confirmation rules still apply when
// the job runs.
func (s *StudentIDJobService) EnqueueChange(ctx context.Context, req dto.ChangeStudentIDRequest, actor models.Operator) (*models.JobAccepted, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student id change request")
	}
	if req.StudentID == req.NewStudentID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new student id must differ from the current one")
	}
	return s.enqueue(uuid.NewString(), jobTypeStudentIDChange, studentIDJob{Request: req, Actor: actor})
}

// Handle runs one attempt of a renumbering job.
func (s *StudentIDJobService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(studentIDJob)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type))
	}
	started := time.Now()
	s.registry.Progress(job.ID, 0, 1)
	result, err := s.changer.Change(ctx, payload.Request, payload.Actor)
	if err != nil {
		s.observe(string(jobs.StatusRetrying), started)
		return retryable(err)
	}
	s.registry.Progress(job.ID, 1, 1)
	s.registry.SetResult(job.ID, result)
	s.observe(string(jobs.StatusFinished), started)

	s.send(ctx, payload.Actor.ID, Notice{
		Title:  "Student ID changed",
		Body:   fmt.Sprintf("Student %s was renumbered from %d to %d; %d records updated.", result.StudentName, result.OldStudentID, result.NewStudentID, result.Affected.TotalUpdated),
		Level:  models.NotificationSuccess,
		Data:   map[string]interface{}{"job_id": job.ID, "change_log_id": result.ChangeLogID},
		Person: models.StudentRef{ID: result.NewStudentID},
	})
	return nil
}

// Failed tells the operator and the student that the renumbering did not happen.
func (s *StudentIDJobService) Failed(ctx context.Context, job jobs.Job, err error) {
	s.metrics.ObserveJob(s.queueName, string(jobs.StatusFailed), 0)
	payload, ok := job.Payload.(studentIDJob)
	if !ok {
		return
	}
	s.send(ctx, payload.Actor.ID, Notice{
		Title:  "Student ID change failed",
		Body:   fmt.Sprintf("Student %d could not be renumbered to %d: %s", payload.Request.StudentID, payload.Request.NewStudentID, appErrors.FromError(err).Message),
		Level:  models.NotificationError,
		Data:   map[string]interface{}{"job_id": job.ID, "attempts": job.Attempt},
		Person: models.StudentRef{ID: payload.Request.StudentID},
	})
}

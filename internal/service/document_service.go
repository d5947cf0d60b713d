package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/export"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
	"github.com/noah-isme/sma-records-api/pkg/storage"
)

const jobTypeDocument = "document"

type documentStorage interface {
	Save(name string, data []byte) (string, int64, error)
	Open(name string) (io.ReadSeekCloser, os.FileInfo, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type changeLogReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentIDChangeLog, error)
}

type subjectEnrollmentReader interface {
	ListForStudentPeriod(ctx context.Context, studentID int64, period models.AcademicPeriod) ([]models.SubjectEnrollmentDetail, error)
}

type conflictScanner interface {
	Scan(ctx context.Context, period models.AcademicPeriod, refresh bool) (*models.ConflictReport, error)
}

type pdfRenderer interface {
	RenderDocument(doc export.Document) ([]byte, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// DocumentSources are the records documents are built from.
type DocumentSources struct {
	Students  studentFinder
	Subjects  subjectEnrollmentReader
	Changes   changeLogReader
	Conflicts conflictScanner
	Periods   AcademicPeriodProvider
}

// DocumentConfig tunes document storage and links.
type DocumentConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// DocumentDownload is an opened stored document.
type DocumentDownload struct {
	Content  io.ReadSeekCloser
	Filename string
	Size     int64
	ModTime  time.Time
}

type documentJob struct {
	ID      string
	Request dto.GenerateDocumentRequest
	Actor   models.Operator
}

// DocumentService renders printable registrar documents and serves them
// through signed download links.
type DocumentService struct {
	jobSupport
	sources   DocumentSources
	storage   documentStorage
	signer    *storage.SignedURLSigner
	pdf       pdfRenderer
	csv       csvRenderer
	cfg       DocumentConfig
	audit     auditTrail
	validator *validator.Validate
	now       func() time.Time
}

// DocumentOption configures optional collaborators.
type DocumentOption func(*DocumentService)

// WithDocumentAudit records an audit row per generated document.
func WithDocumentAudit(repo auditLogger) DocumentOption {
	return func(s *DocumentService) { s.audit.repo = repo }
}

// WithDocumentJobs enables queued generation with progress tracking and notifications.
func WithDocumentJobs(registry *jobs.Registry, notify notifier, metrics *MetricsService) DocumentOption {
	return func(s *DocumentService) {
		s.registry = registry
		s.notify = notify
		s.metrics = metrics
	}
}

// NewDocumentService constructs the service. Nil renderers fall back to the
// gofpdf and CSV exporters.
func NewDocumentService(sources DocumentSources, store documentStorage, signer *storage.SignedURLSigner, pdf pdfRenderer, csv csvRenderer, cfg DocumentConfig, logger *zap.Logger, opts ...DocumentOption) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("sma-records-api")
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	svc := &DocumentService{
		jobSupport: jobSupport{queueName: QueueDocuments, logger: logger},
		sources:    sources,
		storage:    store,
		signer:     signer,
		pdf:        pdf,
		csv:        csv,
		cfg:        cfg,
		audit:      auditTrail{logger: logger, component: "documents"},
		validator:  validator.New(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// UseQueue sets the dispatcher jobs are pushed to.
func (s *DocumentService) UseQueue(q jobDispatcher) {
	s.queue = q
}

// Generate renders, stores and signs a document synchronously.
func (s *DocumentService) Generate(ctx context.Context, req dto.GenerateDocumentRequest, actor models.Operator) (*models.GeneratedDocument, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid document request")
	}
	return s.generate(ctx, uuid.NewString(), req, actor)
}

// Enqueue validates the request and renders it on the documents queue.
func (s *DocumentService) Enqueue(ctx context.Context, req dto.GenerateDocumentRequest, actor models.Operator) (*models.JobAccepted, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid document request")
	}
	id := uuid.NewString()
	return s.enqueue(id, jobTypeDocument, documentJob{ID: id, Request: req, Actor: actor})
}

// Handle renders one queued document.
func (s *DocumentService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(documentJob)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type))
	}
	started := time.Now()
	doc, err := s.generate(ctx, payload.ID, payload.Request, payload.Actor)
	if err != nil {
		s.observe(string(jobs.StatusRetrying), started)
		return retryable(err)
	}
	s.registry.SetResult(job.ID, doc)
	s.observe(string(jobs.StatusFinished), started)
	s.send(ctx, payload.Actor.ID, Notice{
		Title: "Document ready",
		Body:  fmt.Sprintf("%s is ready for download until %s.", doc.Filename, doc.ExpiresAt.Format(time.RFC1123)),
		Level: models.NotificationSuccess,
		Data:  map[string]interface{}{"job_id": job.ID, "download_url": doc.DownloadURL},
	})
	return nil
}

// Failed notifies the operator that the document could not be produced.
func (s *DocumentService) Failed(ctx context.Context, job jobs.Job, err error) {
	s.metrics.ObserveJob(s.queueName, string(jobs.StatusFailed), 0)
	payload, ok := job.Payload.(documentJob)
	if !ok {
		return
	}
	s.send(ctx, payload.Actor.ID, Notice{
		Title: "Document generation failed",
		Body:  appErrors.FromError(err).Message,
		Level: models.NotificationError,
		Data:  map[string]interface{}{"job_id": job.ID, "type": payload.Request.Type},
	})
}

// Open resolves a signed token to the stored file.
func (s *DocumentService) Open(token string) (*DocumentDownload, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "download link has expired")
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download token")
	}
	file, info, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document no longer exists")
		}
		return nil, internalError(err, "failed to open document")
	}
	return &DocumentDownload{Content: file, Filename: path.Base(relPath), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// AffectedRecordsCSV renders an affected-records summary as CSV.
func (s *DocumentService) AffectedRecordsCSV(summary *models.AffectedRecordsSummary) ([]byte, error) {
	data := export.Dataset{Headers: []string{"table", "column", "count", "optional"}}
	for _, t := range summary.Tables {
		data.Rows = append(data.Rows, map[string]string{
			"table":    t.Table,
			"column":   t.Column,
			"count":    strconv.Itoa(t.Count),
			"optional": strconv.FormatBool(t.Optional),
		})
	}
	data.Rows = append(data.Rows, map[string]string{"table": "total", "count": strconv.Itoa(summary.Total)})
	payload, err := s.csv.Render(data)
	if err != nil {
		return nil, internalError(err, "failed to render affected records for student %d", summary.StudentID)
	}
	return payload, nil
}

// StartCleanup removes expired documents every interval until ctx ends.
func (s *DocumentService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
				if err != nil {
					s.logger.Warn("document cleanup failed", zap.Error(err))
					continue
				}
				if len(removed) > 0 {
					s.logger.Info("expired documents removed", zap.Int("count", len(removed)))
				}
			}
		}
	}()
}

func (s *DocumentService) generate(ctx context.Context, id string, req dto.GenerateDocumentRequest, actor models.Operator) (*models.GeneratedDocument, error) {
	doc, err := s.compose(ctx, req)
	if err != nil {
		return nil, err
	}
	doc.GeneratedAt = s.now()
	payload, err := s.pdf.RenderDocument(doc)
	if err != nil {
		return nil, internalError(err, "failed to render %s", req.Type)
	}

	name := fmt.Sprintf("%s/%s-%s.pdf", doc.GeneratedAt.Format("2006/01"), req.Type, id[:8])
	relPath, size, err := s.storage.Save(name, payload)
	if err != nil {
		return nil, internalError(err, "failed to store %s", req.Type)
	}
	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		return nil, internalError(err, "failed to sign %s", req.Type)
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	generated := &models.GeneratedDocument{
		ID:          id,
		Type:        req.Type,
		Filename:    path.Base(relPath),
		Path:        relPath,
		Size:        size,
		DownloadURL: prefix + "/documents/download?token=" + token,
		ExpiresAt:   expiresAt,
		CreatedBy:   actor.Label(),
		CreatedAt:   doc.GeneratedAt,
	}
	s.audit.emit(ctx, actor, models.AuditActionDocumentGenerate, "document", id, nil, map[string]interface{}{"type": req.Type, "path": relPath})
	return generated, nil
}

func (s *DocumentService) compose(ctx context.Context, req dto.GenerateDocumentRequest) (export.Document, error) {
	switch req.Type {
	case models.DocumentTransferSlip:
		return transferSlip(req.Transfer), nil
	case models.DocumentIDChangeCertificate:
		return s.idChangeCertificate(ctx, req.ChangeLogID)
	case models.DocumentAssessmentForm:
		return s.assessmentForm(ctx, req)
	case models.DocumentConflictReport:
		return s.conflictReport(ctx, req)
	default:
		return export.Document{}, appErrors.Clonef(appErrors.ErrValidation, "unsupported document type %q", req.Type)
	}
}

func transferSlip(t *dto.TransferSlipInput) export.Document {
	return export.Document{
		Title:    "Section Transfer Slip",
		Subtitle: t.SubjectCode,
		Fields: []export.Field{
			{Label: "Student ID", Value: strconv.FormatInt(t.StudentID, 10)},
			{Label: "Student name", Value: t.StudentName},
			{Label: "Subject", Value: t.SubjectCode},
			{Label: "From section", Value: sectionLabel(t.OldSection, t.OldClassID)},
			{Label: "To section", Value: sectionLabel(t.NewSection, t.NewClassID)},
			{Label: "Enrollment", Value: t.EnrollmentID},
		},
		Signatures: []string{"Registrar", "Student"},
	}
}

func sectionLabel(section, classID string) string {
	if section == "" {
		return classID
	}
	return section
}

func (s *DocumentService) idChangeCertificate(ctx context.Context, changeLogID string) (export.Document, error) {
	log, err := s.sources.Changes.FindByID(ctx, changeLogID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return export.Document{}, appErrors.Clonef(appErrors.ErrNotFound, "change log %s not found", changeLogID)
		}
		return export.Document{}, internalError(err, "failed to load change log %s", changeLogID)
	}

	var affected models.AffectedRecords
	if len(log.AffectedRecords) > 0 {
		if err := json.Unmarshal(log.AffectedRecords, &affected); err != nil {
			return export.Document{}, internalError(err, "change log %s has unreadable affected records", changeLogID)
		}
	}
	tables := make([]string, 0, len(affected.Tables))
	for name := range affected.Tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	data := export.Dataset{Headers: []string{"Table", "Rows updated"}}
	for _, name := range tables {
		data.Rows = append(data.Rows, map[string]string{"Table": name, "Rows updated": strconv.Itoa(affected.Tables[name])})
	}

	doc := export.Document{
		Title:    "Student ID Change Certificate",
		Subtitle: "Change " + log.ID,
		Fields: []export.Field{
			{Label: "Student name", Value: log.StudentName},
			{Label: "Previous student ID", Value: strconv.FormatInt(log.OldStudentID, 10)},
			{Label: "New student ID", Value: strconv.FormatInt(log.NewStudentID, 10)},
			{Label: "Changed by", Value: log.ChangedBy},
			{Label: "Changed at", Value: log.CreatedAt.Format("2006-01-02 15:04")},
			{Label: "Reason", Value: deref(log.Reason)},
			{Label: "Records updated", Value: strconv.Itoa(affected.TotalUpdated)},
		},
		TableTitle: "Affected records",
		Table:      &data,
		Signatures: []string{"Registrar"},
	}
	if len(data.Rows) == 0 {
		doc.Table = nil
	}
	if log.IsUndone && log.UndoneAt != nil {
		doc.Notes = append(doc.Notes, fmt.Sprintf("This change was undone on %s by %s.", log.UndoneAt.Format("2006-01-02 15:04"), deref(log.UndoneBy)))
	}
	return doc, nil
}

func (s *DocumentService) assessmentForm(ctx context.Context, req dto.GenerateDocumentRequest) (export.Document, error) {
	student, err := s.sources.Students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return export.Document{}, appErrors.Clonef(appErrors.ErrNotFound, "student %d not found", req.StudentID)
		}
		return export.Document{}, internalError(err, "failed to load student %d", req.StudentID)
	}
	period, err := s.period(ctx, req)
	if err != nil {
		return export.Document{}, err
	}
	subjects, err := s.sources.Subjects.ListForStudentPeriod(ctx, student.ID, period)
	if err != nil {
		return export.Document{}, internalError(err, "failed to load subjects of student %d", student.ID)
	}

	data := export.Dataset{Headers: []string{"Code", "Title", "Units", "Section"}}
	units := 0
	for _, subj := range subjects {
		units += subj.Units
		data.Rows = append(data.Rows, map[string]string{
			"Code":    subj.SubjectCode,
			"Title":   subj.SubjectTitle,
			"Units":   strconv.Itoa(subj.Units),
			"Section": deref(subj.Section),
		})
	}
	return export.Document{
		Title:    "Assessment Form",
		Subtitle: period.String(),
		Fields: []export.Field{
			{Label: "Student ID", Value: strconv.FormatInt(student.ID, 10)},
			{Label: "Student name", Value: student.FullName()},
			{Label: "Status", Value: student.Status},
			{Label: "Total units", Value: strconv.Itoa(units)},
		},
		TableTitle: "Enrolled subjects",
		Table:      &data,
		Signatures: []string{"Registrar", "Student"},
	}, nil
}

func (s *DocumentService) conflictReport(ctx context.Context, req dto.GenerateDocumentRequest) (export.Document, error) {
	period, err := s.period(ctx, req)
	if err != nil {
		return export.Document{}, err
	}
	report, err := s.sources.Conflicts.Scan(ctx, period, true)
	if err != nil {
		return export.Document{}, err
	}
	data := export.Dataset{Headers: []string{"Type", "Severity", "Day", "Key", "First", "Second", "Overlap"}}
	for _, c := range report.All() {
		key := c.Key
		if c.KeyLabel != "" {
			key = c.KeyLabel
		}
		data.Rows = append(data.Rows, map[string]string{
			"Type":     string(c.Type),
			"Severity": string(c.Severity),
			"Day":      c.Day,
			"Key":      key,
			"First":    c.First.ClassLabel,
			"Second":   c.Second.ClassLabel,
			"Overlap":  fmt.Sprintf("%s-%s / %s-%s", c.First.Start, c.First.End, c.Second.Start, c.Second.End),
		})
	}
	doc := export.Document{
		Title:      "Timetable Conflict Report",
		Subtitle:   period.String(),
		Fields:     []export.Field{{Label: "Conflicts found", Value: strconv.Itoa(len(data.Rows))}},
		TableTitle: "Conflicts",
		Table:      &data,
		Landscape:  true,
	}
	if len(data.Rows) == 0 {
		doc.Table = nil
		doc.Notes = []string{"No conflicts were detected."}
	}
	return doc, nil
}

func (s *DocumentService) period(ctx context.Context, req dto.GenerateDocumentRequest) (models.AcademicPeriod, error) {
	period := models.AcademicPeriod{SchoolYear: req.SchoolYear, Semester: req.Semester}
	if period.Valid() {
		return period, nil
	}
	current, err := s.sources.Periods.Current(ctx)
	if err != nil {
		return models.AcademicPeriod{}, err
	}
	if period.SchoolYear != "" {
		current.SchoolYear = period.SchoolYear
	}
	if period.Semester > 0 {
		current.Semester = period.Semester
	}
	return current, nil
}

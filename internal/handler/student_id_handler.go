package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

type studentIDService interface {
	AffectedRecordsSummary(ctx context.Context, studentID int64) (*models.AffectedRecordsSummary, error)
	DryRun(ctx context.Context, req dto.ChangeStudentIDRequest) (*models.DryRunResult, error)
	Change(ctx context.Context, req dto.ChangeStudentIDRequest, actor models.Operator) (*models.StudentIDChangeResult, error)
	Undo(ctx context.Context, changeLogID string, actor models.Operator) (*models.StudentIDChangeResult, error)
	ListChangeLogs(ctx context.Context, query dto.ChangeLogQuery) ([]models.StudentIDChangeLog, *models.Pagination, error)
	GetChangeLog(ctx context.Context, id string) (*models.StudentIDChangeLog, error)
}

type studentIDQueue interface {
	EnqueueChange(ctx context.Context, req dto.ChangeStudentIDRequest, actor models.Operator) (*models.JobAccepted, error)
}

type affectedRecordsRenderer interface {
	AffectedRecordsCSV(summary *models.AffectedRecordsSummary) ([]byte, error)
}

// StudentIDHandler exposes student ID renumbering endpoints.
type StudentIDHandler struct {
	service studentIDService
	queue   studentIDQueue
	csv     affectedRecordsRenderer
}

// NewStudentIDHandler constructs the handler.
func NewStudentIDHandler(service studentIDService, queue studentIDQueue, csv affectedRecordsRenderer) *StudentIDHandler {
	return &StudentIDHandler{service: service, queue: queue, csv: csv}
}

// AffectedRecords godoc
// @Summary Affected records summary
// @Description Per-table counts of rows referencing the student ID
// @Tags Student IDs
// @Produce json
// @Param id path int true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/affected-records [get]
func (h *StudentIDHandler) AffectedRecords(c *gin.Context) {
	id, err := studentIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.service.AffectedRecordsSummary(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// AffectedRecordsCSV godoc
// @Summary Affected records summary as CSV
// @Tags Student IDs
// @Produce text/csv
// @Param id path int true "Student ID"
// @Success 200 {file} file
// @Router /students/{id}/affected-records.csv [get]
func (h *StudentIDHandler) AffectedRecordsCSV(c *gin.Context) {
	id, err := studentIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.service.AffectedRecordsSummary(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	data, err := h.csv.AffectedRecordsCSV(summary)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=affected-records-%d.csv", id))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// DryRun godoc
// @Summary Preview a student ID change
// @Tags Student IDs
// @Accept json
// @Produce json
// @Param id path int true "Current student ID"
// @Param payload body dto.ChangeStudentIDRequest true "Change payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/{id}/change-id/dry-run [post]
func (h *StudentIDHandler) DryRun(c *gin.Context) {
	req, ok := h.bindChange(c)
	if !ok {
		return
	}
	result, err := h.service.DryRun(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Change godoc
// @Summary Change a student ID
// @Description Renumber the student across every referencing table. Pass async=true to queue the change.
// @Tags Student IDs
// @Accept json
// @Produce json
// @Param id path int true "Current student ID"
// @Param async query bool false "Run in the background"
// @Param payload body dto.ChangeStudentIDRequest true "Change payload"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 428 {object} response.Envelope
// @Router /students/{id}/change-id [post]
func (h *StudentIDHandler) Change(c *gin.Context) {
	req, ok := h.bindChange(c)
	if !ok {
		return
	}
	actor := operatorFromContext(c)
	if queryBool(c, "async") {
		accepted, err := h.queue.EnqueueChange(c.Request.Context(), req, actor)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, accepted)
		return
	}

	result, err := h.service.Change(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListChanges godoc
// @Summary List student ID change logs
// @Tags Student IDs
// @Produce json
// @Param studentId query int false "Filter by old or new student ID"
// @Param includeUndone query bool false "Include undone changes"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /student-id-changes [get]
func (h *StudentIDHandler) ListChanges(c *gin.Context) {
	query := dto.ChangeLogQuery{
		IncludeUndone: queryBool(c, "includeUndone"),
		Page:          queryInt(c, "page"),
		PageSize:      queryInt(c, "pageSize"),
	}
	if raw := c.Query("studentId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "studentId must be numeric"))
			return
		}
		query.StudentID = &id
	}

	logs, pagination, err := h.service.ListChangeLogs(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// GetChange godoc
// @Summary Get a change log entry
// @Tags Student IDs
// @Produce json
// @Param id path string true "Change log ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /student-id-changes/{id} [get]
func (h *StudentIDHandler) GetChange(c *gin.Context) {
	entry, err := h.service.GetChangeLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Undo godoc
// @Summary Undo a student ID change
// @Tags Student IDs
// @Produce json
// @Param id path string true "Change log ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /student-id-changes/{id}/undo [post]
func (h *StudentIDHandler) Undo(c *gin.Context) {
	result, err := h.service.Undo(c.Request.Context(), c.Param("id"), operatorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func (h *StudentIDHandler) bindChange(c *gin.Context) (dto.ChangeStudentIDRequest, bool) {
	var req dto.ChangeStudentIDRequest
	id, err := studentIDParam(c)
	if err != nil {
		response.Error(c, err)
		return req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid student id payload"))
		return req, false
	}
	req.StudentID = id
	return req, true
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

type conflictScanner interface {
	Scan(ctx context.Context, period models.AcademicPeriod, refresh bool) (*models.ConflictReport, error)
	Summarize(report models.ConflictReport) models.ConflictSummary
}

type conflictResolver interface {
	Suggest(ctx context.Context, scheduleID string) (*models.ResolutionSuggestions, error)
	Apply(ctx context.Context, scheduleID string, req dto.ApplySuggestionRequest, actor models.Operator) (*models.ScheduleRow, error)
}

// ConflictHandler exposes timetable conflict endpoints.
type ConflictHandler struct {
	scanner  conflictScanner
	resolver conflictResolver
}

// NewConflictHandler constructs the handler.
func NewConflictHandler(scanner conflictScanner, resolver conflictResolver) *ConflictHandler {
	return &ConflictHandler{scanner: scanner, resolver: resolver}
}

// Conflicts godoc
// @Summary Detect timetable conflicts
// @Description Room, faculty and student double-bookings for an academic period
// @Tags Timetable
// @Produce json
// @Param schoolYear query string false "School year, defaults to the current period"
// @Param semester query int false "Semester"
// @Param refresh query bool false "Bypass the cached report"
// @Success 200 {object} response.Envelope
// @Router /timetable/conflicts [get]
func (h *ConflictHandler) Conflicts(c *gin.Context) {
	report, ok := h.scan(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Summary godoc
// @Summary Conflict counts
// @Tags Timetable
// @Produce json
// @Param schoolYear query string false "School year"
// @Param semester query int false "Semester"
// @Success 200 {object} response.Envelope
// @Router /timetable/conflicts/summary [get]
func (h *ConflictHandler) Summary(c *gin.Context) {
	report, ok := h.scan(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, h.scanner.Summarize(*report), nil)
}

// Suggestions godoc
// @Summary Resolution suggestions for a schedule
// @Tags Timetable
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id}/suggestions [get]
func (h *ConflictHandler) Suggestions(c *gin.Context) {
	suggestions, err := h.resolver.Suggest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, suggestions, nil)
}

// Apply godoc
// @Summary Apply a resolution suggestion
// @Tags Timetable
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.ApplySuggestionRequest true "Suggestion"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules/{id}/suggestions/apply [post]
func (h *ConflictHandler) Apply(c *gin.Context) {
	var req dto.ApplySuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid suggestion payload"))
		return
	}
	row, err := h.resolver.Apply(c.Request.Context(), c.Param("id"), req, operatorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}

func (h *ConflictHandler) scan(c *gin.Context) (*models.ConflictReport, bool) {
	var query dto.ConflictQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid conflict query"))
		return nil, false
	}
	period := models.AcademicPeriod{SchoolYear: query.SchoolYear, Semester: query.Semester}
	report, err := h.scanner.Scan(c.Request.Context(), period, query.Refresh)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return report, true
}

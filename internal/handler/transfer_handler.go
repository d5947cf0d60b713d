package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

type sectionTransferService interface {
	AvailableTargets(ctx context.Context, classID string) ([]models.TransferTarget, error)
	Transfer(ctx context.Context, req dto.TransferRequest, actor models.Operator) (*models.TransferResult, error)
}

type bulkTransferQueue interface {
	EnqueueBulk(ctx context.Context, req dto.BulkTransferRequest, actor models.Operator) (*models.JobAccepted, error)
}

// TransferHandler exposes section transfer endpoints.
type TransferHandler struct {
	transfers sectionTransferService
	bulk      bulkTransferQueue
}

// NewTransferHandler constructs the handler.
func NewTransferHandler(transfers sectionTransferService, bulk bulkTransferQueue) *TransferHandler {
	return &TransferHandler{transfers: transfers, bulk: bulk}
}

// Targets godoc
// @Summary List transfer targets
// @Description Sibling sections of the same grade and period with their remaining capacity
// @Tags Transfers
// @Produce json
// @Param id path string true "Source class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id}/transfer-targets [get]
func (h *TransferHandler) Targets(c *gin.Context) {
	targets, err := h.transfers.AvailableTargets(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, targets, nil)
}

// Transfer godoc
// @Summary Transfer an enrollment
// @Description Move a class enrollment to another section of the same grade
// @Tags Transfers
// @Accept json
// @Produce json
// @Param id path string true "Class enrollment ID"
// @Param payload body dto.TransferRequest true "Transfer payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /class-enrollments/{id}/transfer [post]
func (h *TransferHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid transfer payload"))
		return
	}
	req.EnrollmentID = c.Param("id")

	result, err := h.transfers.Transfer(c.Request.Context(), req, operatorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// BulkTransfer godoc
// @Summary Queue a bulk transfer
// @Description Transfer many enrollments to one section in the background
// @Tags Transfers
// @Accept json
// @Produce json
// @Param payload body dto.BulkTransferRequest true "Bulk transfer payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /class-enrollments/bulk-transfer [post]
func (h *TransferHandler) BulkTransfer(c *gin.Context) {
	var req dto.BulkTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid bulk transfer payload"))
		return
	}
	accepted, err := h.bulk.EnqueueBulk(c.Request.Context(), req, operatorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, accepted)
}

package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/service"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

type documentService interface {
	Generate(ctx context.Context, req dto.GenerateDocumentRequest, actor models.Operator) (*models.GeneratedDocument, error)
	Enqueue(ctx context.Context, req dto.GenerateDocumentRequest, actor models.Operator) (*models.JobAccepted, error)
	Open(token string) (*service.DocumentDownload, error)
}

// DocumentHandler exposes printable document endpoints.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(svc documentService) *DocumentHandler {
	return &DocumentHandler{service: svc}
}

// Generate godoc
// @Summary Generate a document
// @Description Render a transfer slip, ID change certificate, assessment form or conflict report
// @Tags Documents
// @Accept json
// @Produce json
// @Param async query bool false "Render in the background"
// @Param payload body dto.GenerateDocumentRequest true "Document request"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Generate(c *gin.Context) {
	var req dto.GenerateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid document payload"))
		return
	}
	actor := operatorFromContext(c)
	if queryBool(c, "async") {
		accepted, err := h.service.Enqueue(c.Request.Context(), req, actor)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, accepted)
		return
	}

	doc, err := h.service.Generate(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// Download godoc
// @Summary Download a generated document
// @Tags Documents
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /documents/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	doc, err := h.service.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer doc.Content.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Header("Cache-Control", "private, no-store")
	http.ServeContent(c.Writer, c.Request, doc.Filename, doc.ModTime, doc.Content)
}

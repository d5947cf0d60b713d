package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/service"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type readSeekNopCloser struct {
	io.ReadSeeker
	closed bool
}

func (r *readSeekNopCloser) Close() error {
	r.closed = true
	return nil
}

type documentServiceMock struct {
	doc       *models.GeneratedDocument
	download  *service.DocumentDownload
	err       error
	generated bool
	enqueued  bool
	lastToken string
}

func (m *documentServiceMock) Generate(ctx context.Context, req dto.GenerateDocumentRequest, actor models.Operator) (*models.GeneratedDocument, error) {
	m.generated = true
	return m.doc, m.err
}

func (m *documentServiceMock) Enqueue(ctx context.Context, req dto.GenerateDocumentRequest, actor models.Operator) (*models.JobAccepted, error) {
	m.enqueued = true
	return &models.JobAccepted{JobID: "job-3", Type: string(req.Type), Status: "QUEUED"}, m.err
}

func (m *documentServiceMock) Open(token string) (*service.DocumentDownload, error) {
	m.lastToken = token
	return m.download, m.err
}

func TestDocumentHandlerGenerate(t *testing.T) {
	svc := &documentServiceMock{doc: &models.GeneratedDocument{ID: "doc-1", Type: models.DocumentConflictReport, DownloadURL: "/api/v1/documents/download?token=abc"}}
	h := NewDocumentHandler(svc)

	c, w := newGinContext(http.MethodPost, "/documents", []byte(`{"type":"conflict_report"}`))
	withRegistrar(c)
	h.Generate(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, svc.generated)
	var doc models.GeneratedDocument
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &doc))
	require.Equal(t, "doc-1", doc.ID)
}

func TestDocumentHandlerGenerateAsync(t *testing.T) {
	svc := &documentServiceMock{}
	h := NewDocumentHandler(svc)

	c, w := newGinContext(http.MethodPost, "/documents?async=1", []byte(`{"type":"conflict_report"}`))
	h.Generate(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.True(t, svc.enqueued)
	require.False(t, svc.generated)
}

func TestDocumentHandlerDownload(t *testing.T) {
	content := &readSeekNopCloser{ReadSeeker: bytes.NewReader([]byte("%PDF-1.3 test"))}
	svc := &documentServiceMock{download: &service.DocumentDownload{
		Content:  content,
		Filename: "conflict_report-1a2b3c4d.pdf",
		Size:     13,
		ModTime:  time.Date(2024, 8, 1, 8, 0, 0, 0, time.UTC),
	}}
	h := NewDocumentHandler(svc)

	c, w := newGinContext(http.MethodGet, "/documents/download?token=signed", nil)
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "signed", svc.lastToken)
	require.Equal(t, "%PDF-1.3 test", w.Body.String())
	require.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "conflict_report-1a2b3c4d.pdf")
	require.True(t, content.closed)
}

func TestDocumentHandlerDownloadErrors(t *testing.T) {
	h := NewDocumentHandler(&documentServiceMock{})
	c, w := newGinContext(http.MethodGet, "/documents/download", nil)
	h.Download(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	h = NewDocumentHandler(&documentServiceMock{err: appErrors.Clone(appErrors.ErrPreconditionFailed, "download link has expired")})
	c, w = newGinContext(http.MethodGet, "/documents/download?token=old", nil)
	h.Download(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
}

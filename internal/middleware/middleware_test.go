package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type tokenValidatorStub struct {
	claims *models.JWTClaims
}

func (s tokenValidatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type auditWriterStub struct {
	logs []*models.AuditLog
	err  error
}

func (s *auditWriterStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return s.err
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected/:id", append(handlers, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})...)
	return r
}

func perform(r http.Handler, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected/42", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	validator := tokenValidatorStub{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleRegistrar}}
	r := newRouter(JWT(validator))

	assert.Equal(t, http.StatusUnauthorized, perform(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, "Bearer bad").Code)
	assert.Equal(t, http.StatusOK, perform(r, "Bearer good").Code)
	assert.Equal(t, http.StatusOK, perform(r, "bearer good").Code)
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	validator := tokenValidatorStub{claims: &models.JWTClaims{UserID: "u1"}}
	var seen bool
	r := newRouter(OptionalJWT(validator), func(c *gin.Context) {
		_, seen = c.Get(ContextUserKey)
	})

	assert.Equal(t, http.StatusOK, perform(r, "").Code)
	assert.False(t, seen)
	assert.Equal(t, http.StatusOK, perform(r, "Bearer bad").Code)
	assert.False(t, seen)
	assert.Equal(t, http.StatusOK, perform(r, "Bearer good").Code)
	assert.True(t, seen)
}

func TestRequireRoles(t *testing.T) {
	registrar := tokenValidatorStub{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleRegistrar}}
	teacher := tokenValidatorStub{claims: &models.JWTClaims{UserID: "42", Role: models.RoleTeacher}}

	allowed := newRouter(JWT(registrar), RequireRoles(models.RoleAdmin, models.RoleRegistrar))
	assert.Equal(t, http.StatusOK, perform(allowed, "Bearer good").Code)

	denied := newRouter(JWT(teacher), RequireRoles(models.RoleAdmin, models.RoleRegistrar))
	assert.Equal(t, http.StatusForbidden, perform(denied, "Bearer good").Code)

	anonymous := newRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, perform(anonymous, "").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	writer := &auditWriterStub{}
	validator := tokenValidatorStub{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleRegistrar}}
	r := newRouter(OptionalJWT(validator), Audit(writer, nil, models.AuditActionDocumentDownload, "documents"))

	require.Equal(t, http.StatusOK, perform(r, "Bearer good").Code)
	require.Len(t, writer.logs, 1)
	entry := writer.logs[0]
	assert.Equal(t, models.AuditActionDocumentDownload, entry.Action)
	assert.Equal(t, "documents", entry.Resource)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "u1", *entry.UserID)
	assert.Contains(t, string(entry.NewValues), `"status":200`)

	writer.err = errors.New("insert failed")
	require.Equal(t, http.StatusOK, perform(r, "").Code)
	require.Len(t, writer.logs, 2)
	assert.Nil(t, writer.logs[1].UserID)
}

func TestAuditSkipsFailedRequests(t *testing.T) {
	writer := &auditWriterStub{}
	r := newRouter(Audit(writer, nil, "X", "y"), JWT(tokenValidatorStub{}))

	require.Equal(t, http.StatusUnauthorized, perform(r, "").Code)
	assert.Empty(t, writer.logs)
}

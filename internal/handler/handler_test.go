package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/middleware"
	"github.com/noah-isme/sma-records-api/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	c.Request = req
	return c, w
}

func withRegistrar(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{
		UserID:   "user-1",
		Role:     models.RoleRegistrar,
		Email:    "registrar@school.test",
		FullName: "Rina Registrar",
	})
}

type envelope struct {
	Data       json.RawMessage    `json:"data"`
	Pagination *models.Pagination `json:"pagination"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestOperatorFromContext(t *testing.T) {
	c, _ := newGinContext(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.7:1234"
	withRegistrar(c)

	op := operatorFromContext(c)
	require.Equal(t, "user-1", op.ID)
	require.Equal(t, "Rina Registrar", op.Name)
	require.Equal(t, "registrar@school.test", op.Email)
	require.Equal(t, "10.0.0.7", op.IP)
	require.Equal(t, "handler-test", op.Agent)

	anon, _ := newGinContext(http.MethodGet, "/", nil)
	require.Empty(t, operatorFromContext(anon).ID)
}

func TestStudentIDParam(t *testing.T) {
	c, _ := newGinContext(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: "123456"}}
	id, err := studentIDParam(c)
	require.NoError(t, err)
	require.Equal(t, int64(123456), id)

	for _, raw := range []string{"abc", "0", "-4"} {
		c.Params = gin.Params{{Key: "id", Value: raw}}
		_, err := studentIDParam(c)
		require.Error(t, err, raw)
	}
}

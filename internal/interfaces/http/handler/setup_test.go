package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/staryer/backend/internal/interfaces/http/middleware"
	"github.com/staryer/backend/internal/interfaces/http/router"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRouter builds an engine with the production middleware chain and
// the handler under test mounted at /api/v1.
func newTestRouter(registrar router.RouteRegistrar) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.TenantContext())
	api := r.Group("/api/v1")
	registrar.RegisterRoutes(api)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, tenantID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != uuid.Nil {
		req.Header.Set(middleware.TenantHeader, tenantID.String())
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

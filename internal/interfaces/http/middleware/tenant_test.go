package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTenantRouter() (*gin.Engine, *uuid.UUID) {
	var seen uuid.UUID
	r := gin.New()
	r.Use(RequestID(), TenantContext())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/meters", func(c *gin.Context) {
		if id, ok := GetTenantID(c); ok {
			seen = id
		}
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestTenantContext(t *testing.T) {
	t.Run("resolves tenant from header", func(t *testing.T) {
		r, seen := newTenantRouter()
		tenantID := uuid.New()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/meters", nil)
		req.Header.Set(TenantHeader, tenantID.String())
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, tenantID, *seen)
	})

	t.Run("rejects missing tenant", func(t *testing.T) {
		r, _ := newTenantRouter()

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/meters", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_UNAUTHORIZED")
	})

	t.Run("rejects malformed tenant", func(t *testing.T) {
		r, _ := newTenantRouter()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/meters", nil)
		req.Header.Set(TenantHeader, "not-a-uuid")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("skips health checks", func(t *testing.T) {
		r, _ := newTenantRouter()

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	t.Run("keeps caller-supplied ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-id")
		r.ServeHTTP(w, req)

		assert.Equal(t, "upstream-id", w.Body.String())
		assert.Equal(t, "upstream-id", w.Header().Get(RequestIDHeader))
	})

	t.Run("generates an ID when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, w.Body.String())
		assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
	})
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/staryer/backend/internal/interfaces/http/dto"
)

// TenantHeader is the header carrying the tenant ID
const TenantHeader = "X-Tenant-ID"

// TenantIDKey is the gin context key holding the resolved tenant ID
const TenantIDKey = "tenant_id"

// TenantConfig holds tenant middleware configuration
type TenantConfig struct {
	// SkipPaths are paths served without tenant context (health checks)
	SkipPaths []string
}

// DefaultTenantConfig returns the default tenant middleware configuration
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		SkipPaths: []string{"/health", "/healthz", "/ready"},
	}
}

// TenantContext resolves the tenant ID from the X-Tenant-ID header and
// stores it on the request context. Requests without a valid tenant are
// rejected; every API resource is tenant-scoped.
func TenantContext() gin.HandlerFunc {
	return TenantContextWithConfig(DefaultTenantConfig())
}

// TenantContextWithConfig returns tenant middleware with custom configuration
func TenantContextWithConfig(cfg TenantConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		raw := c.GetHeader(TenantHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Tenant ID is required", GetRequestID(c)))
			return
		}

		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeBadRequest, "Invalid tenant ID format", GetRequestID(c)))
			return
		}

		c.Set(TenantIDKey, tenantID)
		c.Next()
	}
}

// GetTenantID returns the tenant ID resolved by TenantContext
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(TenantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

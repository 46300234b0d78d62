package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantSource enumerates the tenants known to the platform for background
// jobs. A tenant exists as soon as it defines a meter.
type TenantSource struct {
	db *gorm.DB
}

// NewTenantSource creates a new tenant source
func NewTenantSource(db *gorm.DB) *TenantSource {
	return &TenantSource{db: db}
}

// ListTenantIDs returns the distinct tenant IDs that own usage meters
func (s *TenantSource) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&UsageMeterModel{}).
		Distinct("tenant_id").
		Order("tenant_id ASC").
		Pluck("tenant_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

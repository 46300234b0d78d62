package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

// UsageMeterModel is the GORM model for usage meters
type UsageMeterModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_meters_tenant_event"`
	EventName     string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_meters_tenant_event"`
	DisplayName   string    `gorm:"type:varchar(255);not null"`
	Description   string    `gorm:"type:text"`
	Aggregation   string    `gorm:"type:varchar(20);not null"`
	UnitName      string    `gorm:"type:varchar(50)"`
	BillingModel  string    `gorm:"type:varchar(20);not null;default:'metered'"`
	Active        bool      `gorm:"not null;default:true"`
	StripeMeterID string    `gorm:"type:varchar(255)"`
	StripePriceID string    `gorm:"type:varchar(255)"`
	Version       int       `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageMeterModel) TableName() string {
	return "usage_meters"
}

// ToEntity converts the model to a domain entity
func (m *UsageMeterModel) ToEntity() *metering.UsageMeter {
	return &metering.UsageMeter{
		TenantAggregateRoot: shared.TenantAggregateRoot{
			BaseAggregateRoot: shared.BaseAggregateRoot{
				BaseEntity: shared.BaseEntity{
					ID:        m.ID,
					CreatedAt: m.CreatedAt,
					UpdatedAt: m.UpdatedAt,
				},
				Version: m.Version,
			},
			TenantID: m.TenantID,
		},
		EventName:     m.EventName,
		DisplayName:   m.DisplayName,
		Description:   m.Description,
		Aggregation:   metering.AggregationType(m.Aggregation),
		UnitName:      m.UnitName,
		BillingModel:  metering.BillingModel(m.BillingModel),
		Active:        m.Active,
		StripeMeterID: m.StripeMeterID,
		StripePriceID: m.StripePriceID,
	}
}

// UsageMeterModelFromEntity creates a model from a domain entity
func UsageMeterModelFromEntity(e *metering.UsageMeter) *UsageMeterModel {
	return &UsageMeterModel{
		ID:            e.ID,
		TenantID:      e.TenantID,
		EventName:     e.EventName,
		DisplayName:   e.DisplayName,
		Description:   e.Description,
		Aggregation:   string(e.Aggregation),
		UnitName:      e.UnitName,
		BillingModel:  string(e.BillingModel),
		Active:        e.Active,
		StripeMeterID: e.StripeMeterID,
		StripePriceID: e.StripePriceID,
		Version:       e.Version,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// MeterRepository implements the metering.MeterRepository interface
type MeterRepository struct {
	db *gorm.DB
}

// NewMeterRepository creates a new meter repository
func NewMeterRepository(db *gorm.DB) *MeterRepository {
	return &MeterRepository{db: db}
}

// Save persists a new meter
func (r *MeterRepository) Save(ctx context.Context, meter *metering.UsageMeter) error {
	model := UsageMeterModelFromEntity(meter)
	return r.db.WithContext(ctx).Create(model).Error
}

// Update persists changes to an existing meter
func (r *MeterRepository) Update(ctx context.Context, meter *metering.UsageMeter) error {
	model := UsageMeterModelFromEntity(meter)
	result := r.db.WithContext(ctx).
		Model(&UsageMeterModel{}).
		Where("id = ? AND tenant_id = ?", model.ID, model.TenantID).
		Select("display_name", "description", "unit_name", "billing_model", "active",
			"stripe_meter_id", "stripe_price_id", "version", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID retrieves a meter by its ID
func (r *MeterRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*metering.UsageMeter, error) {
	var model UsageMeterModel
	err := r.db.WithContext(ctx).
		First(&model, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByEventName retrieves a meter by its event name within a tenant
func (r *MeterRepository) FindByEventName(ctx context.Context, tenantID uuid.UUID, eventName string) (*metering.UsageMeter, error) {
	var model UsageMeterModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND event_name = ?", tenantID, eventName).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// List retrieves all meters for a tenant, optionally only active ones
func (r *MeterRepository) List(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*metering.UsageMeter, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var models []UsageMeterModel
	if err := query.Order("event_name ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	meters := make([]*metering.UsageMeter, len(models))
	for i, model := range models {
		meters[i] = model.ToEntity()
	}
	return meters, nil
}

// Ensure MeterRepository implements the interface
var _ metering.MeterRepository = (*MeterRepository)(nil)

package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

// UsageAggregateModel is the GORM model for materialized usage aggregates
type UsageAggregateModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_aggregates_scope"`
	MeterID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_aggregates_scope"`
	UserID         string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_aggregates_scope"`
	BillingPeriod  string     `gorm:"type:varchar(7);not null;uniqueIndex:idx_aggregates_scope"`
	AggregateValue float64    `gorm:"not null;default:0"`
	EventCount     int64      `gorm:"not null;default:0"`
	LastEventAt    *time.Time `gorm:""`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageAggregateModel) TableName() string {
	return "usage_aggregates"
}

// ToEntity converts the model to a domain entity
func (m *UsageAggregateModel) ToEntity() *metering.UsageAggregate {
	return &metering.UsageAggregate{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:       m.TenantID,
		MeterID:        m.MeterID,
		UserID:         m.UserID,
		BillingPeriod:  m.BillingPeriod,
		AggregateValue: m.AggregateValue,
		EventCount:     m.EventCount,
		LastEventAt:    m.LastEventAt,
	}
}

// UsageAggregateModelFromEntity creates a model from a domain entity
func UsageAggregateModelFromEntity(e *metering.UsageAggregate) *UsageAggregateModel {
	return &UsageAggregateModel{
		ID:             e.ID,
		TenantID:       e.TenantID,
		MeterID:        e.MeterID,
		UserID:         e.UserID,
		BillingPeriod:  e.BillingPeriod,
		AggregateValue: e.AggregateValue,
		EventCount:     e.EventCount,
		LastEventAt:    e.LastEventAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// UsageAggregateRepository implements the metering.UsageAggregateRepository
// interface. Aggregates are pure functions of the event log, so Replace
// overwrites unconditionally instead of merging.
type UsageAggregateRepository struct {
	db *gorm.DB
}

// NewUsageAggregateRepository creates a new usage aggregate repository
func NewUsageAggregateRepository(db *gorm.DB) *UsageAggregateRepository {
	return &UsageAggregateRepository{db: db}
}

// Replace atomically overwrites the aggregate for (meter, user, period)
func (r *UsageAggregateRepository) Replace(ctx context.Context, aggregate *metering.UsageAggregate) error {
	model := UsageAggregateModelFromEntity(aggregate)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "meter_id"},
			{Name: "user_id"},
			{Name: "billing_period"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"aggregate_value", "event_count", "last_event_at", "updated_at",
		}),
	}).Create(model).Error
}

// Find retrieves the aggregate for a meter, user and period
func (r *UsageAggregateRepository) Find(ctx context.Context, tenantID, meterID uuid.UUID, userID, billingPeriod string) (*metering.UsageAggregate, error) {
	var model UsageAggregateModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND meter_id = ? AND user_id = ? AND billing_period = ?",
			tenantID, meterID, userID, billingPeriod).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListByPeriod retrieves all aggregates for a tenant in a billing period
func (r *UsageAggregateRepository) ListByPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*metering.UsageAggregate, error) {
	var models []UsageAggregateModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND billing_period = ?", tenantID, billingPeriod).
		Order("user_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return aggregatesToEntities(models), nil
}

// ListByUser retrieves a user's aggregates across all meters for a period
func (r *UsageAggregateRepository) ListByUser(ctx context.Context, tenantID uuid.UUID, userID, billingPeriod string) ([]*metering.UsageAggregate, error) {
	var models []UsageAggregateModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND billing_period = ?", tenantID, userID, billingPeriod).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return aggregatesToEntities(models), nil
}

func aggregatesToEntities(models []UsageAggregateModel) []*metering.UsageAggregate {
	aggregates := make([]*metering.UsageAggregate, len(models))
	for i, model := range models {
		aggregates[i] = model.ToEntity()
	}
	return aggregates
}

// Ensure UsageAggregateRepository implements the interface
var _ metering.UsageAggregateRepository = (*UsageAggregateRepository)(nil)

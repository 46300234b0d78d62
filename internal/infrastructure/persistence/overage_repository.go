package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

// TierUsageOverageModel is the GORM model for tier usage overages
type TierUsageOverageModel struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_overages_scope"`
	MeterID       uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_overages_scope"`
	CustomerID    string           `gorm:"type:varchar(255);not null;uniqueIndex:idx_overages_scope"`
	PlanName      string           `gorm:"type:varchar(100);not null"`
	BillingPeriod string           `gorm:"type:varchar(7);not null;uniqueIndex:idx_overages_scope"`
	LimitValue    int64            `gorm:"not null"`
	UsageValue    int64            `gorm:"not null"`
	OverageAmount int64            `gorm:"not null"`
	OverageCost   *decimal.Decimal `gorm:"type:numeric(20,8)"`
	Billed        bool             `gorm:"not null;default:false"`
	BilledAt      *time.Time       `gorm:""`
	Version       int              `gorm:"not null;default:1"`
	CreatedAt     time.Time        `gorm:"autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (TierUsageOverageModel) TableName() string {
	return "tier_usage_overages"
}

// ToEntity converts the model to a domain entity
func (m *TierUsageOverageModel) ToEntity() *tiers.TierUsageOverage {
	return &tiers.TierUsageOverage{
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
		MeterID:       m.MeterID,
		CustomerID:    m.CustomerID,
		PlanName:      m.PlanName,
		BillingPeriod: m.BillingPeriod,
		LimitValue:    m.LimitValue,
		UsageValue:    m.UsageValue,
		OverageAmount: m.OverageAmount,
		OverageCost:   m.OverageCost,
		Billed:        m.Billed,
		BilledAt:      m.BilledAt,
	}
}

// TierUsageOverageModelFromEntity creates a model from a domain entity
func TierUsageOverageModelFromEntity(e *tiers.TierUsageOverage) *TierUsageOverageModel {
	return &TierUsageOverageModel{
		ID:            e.ID,
		TenantID:      e.TenantID,
		MeterID:       e.MeterID,
		CustomerID:    e.CustomerID,
		PlanName:      e.PlanName,
		BillingPeriod: e.BillingPeriod,
		LimitValue:    e.LimitValue,
		UsageValue:    e.UsageValue,
		OverageAmount: e.OverageAmount,
		OverageCost:   e.OverageCost,
		Billed:        e.Billed,
		BilledAt:      e.BilledAt,
		Version:       e.Version,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// OverageRepository implements the tiers.OverageRepository interface
type OverageRepository struct {
	db *gorm.DB
}

// NewOverageRepository creates a new overage repository
func NewOverageRepository(db *gorm.DB) *OverageRepository {
	return &OverageRepository{db: db}
}

// Upsert writes the overage for (meter, customer, period), overwriting the
// usage figures on conflict. The billed flag is never reset by an upsert.
func (r *OverageRepository) Upsert(ctx context.Context, overage *tiers.TierUsageOverage) error {
	model := TierUsageOverageModelFromEntity(overage)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "meter_id"},
			{Name: "customer_id"},
			{Name: "billing_period"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_name", "limit_value", "usage_value", "overage_amount", "overage_cost", "updated_at",
		}),
	}).Create(model).Error
}

// Update persists changes to an existing overage record
func (r *OverageRepository) Update(ctx context.Context, overage *tiers.TierUsageOverage) error {
	model := TierUsageOverageModelFromEntity(overage)
	result := r.db.WithContext(ctx).
		Model(&TierUsageOverageModel{}).
		Where("id = ? AND tenant_id = ?", model.ID, model.TenantID).
		Select("billed", "billed_at", "version", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListByPeriod retrieves all overages for a tenant in a billing period
func (r *OverageRepository) ListByPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*tiers.TierUsageOverage, error) {
	var models []TierUsageOverageModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND billing_period = ?", tenantID, billingPeriod).
		Order("customer_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return overagesToEntities(models), nil
}

// ListUnbilled retrieves overages not yet billed for a period
func (r *OverageRepository) ListUnbilled(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*tiers.TierUsageOverage, error) {
	var models []TierUsageOverageModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND billing_period = ? AND billed = ? AND overage_amount > 0",
			tenantID, billingPeriod, false).
		Order("customer_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return overagesToEntities(models), nil
}

func overagesToEntities(models []TierUsageOverageModel) []*tiers.TierUsageOverage {
	overages := make([]*tiers.TierUsageOverage, len(models))
	for i, model := range models {
		overages[i] = model.ToEntity()
	}
	return overages
}

// Ensure OverageRepository implements the interface
var _ tiers.OverageRepository = (*OverageRepository)(nil)

package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

// MeterPlanLimitModel is the GORM model for meter plan limits
type MeterPlanLimitModel struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_plan_limits_meter_plan"`
	MeterID            uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_plan_limits_meter_plan"`
	PlanName           string           `gorm:"type:varchar(100);not null;uniqueIndex:idx_plan_limits_meter_plan"`
	LimitValue         *int64           `gorm:""`
	OveragePrice       *decimal.Decimal `gorm:"type:numeric(20,8)"`
	SoftLimitThreshold float64          `gorm:"not null;default:0.8"`
	HardCap            bool             `gorm:"not null;default:false"`
	Version            int              `gorm:"not null;default:1"`
	CreatedAt          time.Time        `gorm:"autoCreateTime"`
	UpdatedAt          time.Time        `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (MeterPlanLimitModel) TableName() string {
	return "meter_plan_limits"
}

// ToEntity converts the model to a domain entity
func (m *MeterPlanLimitModel) ToEntity() *metering.MeterPlanLimit {
	return &metering.MeterPlanLimit{
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
		MeterID:            m.MeterID,
		PlanName:           m.PlanName,
		LimitValue:         m.LimitValue,
		OveragePrice:       m.OveragePrice,
		SoftLimitThreshold: m.SoftLimitThreshold,
		HardCap:            m.HardCap,
	}
}

// MeterPlanLimitModelFromEntity creates a model from a domain entity
func MeterPlanLimitModelFromEntity(e *metering.MeterPlanLimit) *MeterPlanLimitModel {
	return &MeterPlanLimitModel{
		ID:                 e.ID,
		TenantID:           e.TenantID,
		MeterID:            e.MeterID,
		PlanName:           e.PlanName,
		LimitValue:         e.LimitValue,
		OveragePrice:       e.OveragePrice,
		SoftLimitThreshold: e.SoftLimitThreshold,
		HardCap:            e.HardCap,
		Version:            e.Version,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// PlanLimitRepository implements the metering.PlanLimitRepository interface
type PlanLimitRepository struct {
	db *gorm.DB
}

// NewPlanLimitRepository creates a new plan limit repository
func NewPlanLimitRepository(db *gorm.DB) *PlanLimitRepository {
	return &PlanLimitRepository{db: db}
}

// Save persists a new plan limit
func (r *PlanLimitRepository) Save(ctx context.Context, limit *metering.MeterPlanLimit) error {
	model := MeterPlanLimitModelFromEntity(limit)
	return r.db.WithContext(ctx).Create(model).Error
}

// SaveAll persists multiple plan limits in a single transaction
func (r *PlanLimitRepository) SaveAll(ctx context.Context, limits []*metering.MeterPlanLimit) error {
	if len(limits) == 0 {
		return nil
	}

	models := make([]*MeterPlanLimitModel, len(limits))
	for i, limit := range limits {
		models[i] = MeterPlanLimitModelFromEntity(limit)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(models).Error
	})
}

// FindByMeterAndPlan retrieves the limit for a meter on a plan
func (r *PlanLimitRepository) FindByMeterAndPlan(ctx context.Context, tenantID, meterID uuid.UUID, planName string) (*metering.MeterPlanLimit, error) {
	var model MeterPlanLimitModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND meter_id = ? AND plan_name = ?", tenantID, meterID, planName).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListByMeter retrieves all plan limits for a meter
func (r *PlanLimitRepository) ListByMeter(ctx context.Context, tenantID, meterID uuid.UUID) ([]*metering.MeterPlanLimit, error) {
	var models []MeterPlanLimitModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND meter_id = ?", tenantID, meterID).
		Order("plan_name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	limits := make([]*metering.MeterPlanLimit, len(models))
	for i, model := range models {
		limits[i] = model.ToEntity()
	}
	return limits, nil
}

// Ensure PlanLimitRepository implements the interface
var _ metering.PlanLimitRepository = (*PlanLimitRepository)(nil)

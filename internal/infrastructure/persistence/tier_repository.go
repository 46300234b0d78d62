package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

// SubscriptionTierModel is the GORM model for subscription tiers
type SubscriptionTierModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_tiers_tenant_name"`
	Name            string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_tiers_tenant_name"`
	Description     string          `gorm:"type:text"`
	Price           decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'usd'"`
	BillingInterval string          `gorm:"type:varchar(10);not null;default:'monthly'"`
	Features        []byte          `gorm:"type:jsonb;default:'[]'"`
	UsageCaps       []byte          `gorm:"type:jsonb;default:'{}'"`
	TrialDays       int             `gorm:"not null;default:0"`
	IsDefault       bool            `gorm:"not null;default:false"`
	Status          string          `gorm:"type:varchar(20);not null;default:'draft'"`
	StripePriceID   string          `gorm:"type:varchar(255)"`
	Version         int             `gorm:"not null;default:1"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (SubscriptionTierModel) TableName() string {
	return "subscription_tiers"
}

// ToEntity converts the model to a domain entity
func (m *SubscriptionTierModel) ToEntity() *tiers.SubscriptionTier {
	var features []string
	if len(m.Features) > 0 {
		_ = json.Unmarshal(m.Features, &features)
	}
	if features == nil {
		features = []string{}
	}

	var usageCaps map[string]int64
	if len(m.UsageCaps) > 0 {
		_ = json.Unmarshal(m.UsageCaps, &usageCaps)
	}
	if usageCaps == nil {
		usageCaps = map[string]int64{}
	}

	return &tiers.SubscriptionTier{
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
		Name:            m.Name,
		Description:     m.Description,
		Price:           m.Price,
		Currency:        m.Currency,
		BillingInterval: tiers.BillingInterval(m.BillingInterval),
		Features:        features,
		UsageCaps:       usageCaps,
		TrialDays:       m.TrialDays,
		IsDefault:       m.IsDefault,
		Status:          tiers.TierStatus(m.Status),
		StripePriceID:   m.StripePriceID,
	}
}

// SubscriptionTierModelFromEntity creates a model from a domain entity
func SubscriptionTierModelFromEntity(e *tiers.SubscriptionTier) *SubscriptionTierModel {
	featureBytes, _ := json.Marshal(e.Features)
	if e.Features == nil {
		featureBytes = []byte("[]")
	}
	capBytes, _ := json.Marshal(e.UsageCaps)
	if e.UsageCaps == nil {
		capBytes = []byte("{}")
	}

	return &SubscriptionTierModel{
		ID:              e.ID,
		TenantID:        e.TenantID,
		Name:            e.Name,
		Description:     e.Description,
		Price:           e.Price,
		Currency:        e.Currency,
		BillingInterval: string(e.BillingInterval),
		Features:        featureBytes,
		UsageCaps:       capBytes,
		TrialDays:       e.TrialDays,
		IsDefault:       e.IsDefault,
		Status:          string(e.Status),
		StripePriceID:   e.StripePriceID,
		Version:         e.Version,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

// TierRepository implements the tiers.TierRepository interface
type TierRepository struct {
	db *gorm.DB
}

// NewTierRepository creates a new tier repository
func NewTierRepository(db *gorm.DB) *TierRepository {
	return &TierRepository{db: db}
}

// Save persists a new tier
func (r *TierRepository) Save(ctx context.Context, tier *tiers.SubscriptionTier) error {
	model := SubscriptionTierModelFromEntity(tier)
	return r.db.WithContext(ctx).Create(model).Error
}

// Update persists changes to an existing tier
func (r *TierRepository) Update(ctx context.Context, tier *tiers.SubscriptionTier) error {
	model := SubscriptionTierModelFromEntity(tier)
	result := r.db.WithContext(ctx).
		Model(&SubscriptionTierModel{}).
		Where("id = ? AND tenant_id = ?", model.ID, model.TenantID).
		Select("description", "price", "currency", "billing_interval", "features",
			"usage_caps", "trial_days", "is_default", "status", "stripe_price_id",
			"version", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID retrieves a tier by its ID
func (r *TierRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*tiers.SubscriptionTier, error) {
	var model SubscriptionTierModel
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

// FindByName retrieves a tier by its name within a tenant
func (r *TierRepository) FindByName(ctx context.Context, tenantID uuid.UUID, name string) (*tiers.SubscriptionTier, error) {
	var model SubscriptionTierModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND name = ?", tenantID, name).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// List retrieves tiers for a tenant, optionally filtered by status
func (r *TierRepository) List(ctx context.Context, tenantID uuid.UUID, status tiers.TierStatus) ([]*tiers.SubscriptionTier, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var models []SubscriptionTierModel
	if err := query.Order("price ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*tiers.SubscriptionTier, len(models))
	for i, model := range models {
		result[i] = model.ToEntity()
	}
	return result, nil
}

// Ensure TierRepository implements the interface
var _ tiers.TierRepository = (*TierRepository)(nil)

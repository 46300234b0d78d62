package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/staryer/backend/internal/domain/pricing"
	"github.com/staryer/backend/internal/domain/shared"
)

// PricingChangeModel is the GORM model for pricing change notifications
type PricingChangeModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	TierID          uuid.UUID       `gorm:"type:uuid;not null;index"`
	TierName        string          `gorm:"type:varchar(100);not null"`
	ChangeType      string          `gorm:"type:varchar(20);not null"`
	OldPrice        decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	NewPrice        decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	RemovedFeatures []byte          `gorm:"type:jsonb;default:'[]'"`
	EffectiveDate   time.Time       `gorm:"not null"`
	Reason          string          `gorm:"type:text"`
	Status          string          `gorm:"type:varchar(20);not null;default:'draft';index"`
	CreatorApproved bool            `gorm:"not null;default:false"`
	ScheduledAt     *time.Time      `gorm:""`
	SentAt          *time.Time      `gorm:""`
	CancelledAt     *time.Time      `gorm:""`
	Version         int             `gorm:"not null;default:1"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (PricingChangeModel) TableName() string {
	return "pricing_change_notifications"
}

// ToEntity converts the model to a domain entity
func (m *PricingChangeModel) ToEntity() *pricing.PricingChangeNotification {
	var removed []string
	if len(m.RemovedFeatures) > 0 {
		_ = json.Unmarshal(m.RemovedFeatures, &removed)
	}

	return &pricing.PricingChangeNotification{
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
		TierID:          m.TierID,
		TierName:        m.TierName,
		ChangeType:      pricing.ChangeType(m.ChangeType),
		OldPrice:        m.OldPrice,
		NewPrice:        m.NewPrice,
		RemovedFeatures: removed,
		EffectiveDate:   m.EffectiveDate,
		Reason:          m.Reason,
		Status:          pricing.ChangeStatus(m.Status),
		CreatorApproved: m.CreatorApproved,
		ScheduledAt:     m.ScheduledAt,
		SentAt:          m.SentAt,
		CancelledAt:     m.CancelledAt,
	}
}

// PricingChangeModelFromEntity creates a model from a domain entity
func PricingChangeModelFromEntity(e *pricing.PricingChangeNotification) *PricingChangeModel {
	removedBytes, _ := json.Marshal(e.RemovedFeatures)
	if e.RemovedFeatures == nil {
		removedBytes = []byte("[]")
	}

	return &PricingChangeModel{
		ID:              e.ID,
		TenantID:        e.TenantID,
		TierID:          e.TierID,
		TierName:        e.TierName,
		ChangeType:      string(e.ChangeType),
		OldPrice:        e.OldPrice,
		NewPrice:        e.NewPrice,
		RemovedFeatures: removedBytes,
		EffectiveDate:   e.EffectiveDate,
		Reason:          e.Reason,
		Status:          string(e.Status),
		CreatorApproved: e.CreatorApproved,
		ScheduledAt:     e.ScheduledAt,
		SentAt:          e.SentAt,
		CancelledAt:     e.CancelledAt,
		Version:         e.Version,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

// PricingChangeRepository implements the pricing.ChangeRepository interface
type PricingChangeRepository struct {
	db *gorm.DB
}

// NewPricingChangeRepository creates a new pricing change repository
func NewPricingChangeRepository(db *gorm.DB) *PricingChangeRepository {
	return &PricingChangeRepository{db: db}
}

// Save persists a new pricing change notification
func (r *PricingChangeRepository) Save(ctx context.Context, change *pricing.PricingChangeNotification) error {
	model := PricingChangeModelFromEntity(change)
	return r.db.WithContext(ctx).Create(model).Error
}

// Update persists changes to an existing notification
func (r *PricingChangeRepository) Update(ctx context.Context, change *pricing.PricingChangeNotification) error {
	model := PricingChangeModelFromEntity(change)
	result := r.db.WithContext(ctx).
		Model(&PricingChangeModel{}).
		Where("id = ? AND tenant_id = ?", model.ID, model.TenantID).
		Select("status", "creator_approved", "scheduled_at", "sent_at", "cancelled_at",
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

// FindByID retrieves a notification by its ID
func (r *PricingChangeRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricing.PricingChangeNotification, error) {
	var model PricingChangeModel
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

// ListByTier retrieves all notifications for a tier
func (r *PricingChangeRepository) ListByTier(ctx context.Context, tenantID, tierID uuid.UUID) ([]*pricing.PricingChangeNotification, error) {
	var models []PricingChangeModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND tier_id = ?", tenantID, tierID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return changesToEntities(models), nil
}

// ListByStatus retrieves all notifications in a given status
func (r *PricingChangeRepository) ListByStatus(ctx context.Context, tenantID uuid.UUID, status pricing.ChangeStatus) ([]*pricing.PricingChangeNotification, error) {
	var models []PricingChangeModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, string(status)).
		Order("effective_date ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return changesToEntities(models), nil
}

func changesToEntities(models []PricingChangeModel) []*pricing.PricingChangeNotification {
	changes := make([]*pricing.PricingChangeNotification, len(models))
	for i, model := range models {
		changes[i] = model.ToEntity()
	}
	return changes
}

// Ensure PricingChangeRepository implements the interface
var _ pricing.ChangeRepository = (*PricingChangeRepository)(nil)

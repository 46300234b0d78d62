package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

// CustomerTierAssignmentModel is the GORM model for customer tier assignments
type CustomerTierAssignmentModel struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID  `gorm:"type:uuid;not null;index:idx_assignments_tenant_customer"`
	CustomerID         string     `gorm:"type:varchar(255);not null;index:idx_assignments_tenant_customer"`
	TierID             uuid.UUID  `gorm:"type:uuid;not null;index"`
	PlanName           string     `gorm:"type:varchar(100);not null"`
	Status             string     `gorm:"type:varchar(20);not null"`
	CurrentPeriodStart time.Time  `gorm:"not null"`
	CurrentPeriodEnd   time.Time  `gorm:"not null"`
	TrialEndsAt        *time.Time `gorm:""`
	CancelAtPeriodEnd  bool       `gorm:"not null;default:false"`
	CanceledAt         *time.Time `gorm:""`
	SubscribedAt       time.Time  `gorm:"not null"`
	Version            int        `gorm:"not null;default:1"`
	CreatedAt          time.Time  `gorm:"autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (CustomerTierAssignmentModel) TableName() string {
	return "customer_tier_assignments"
}

// ToEntity converts the model to a domain entity
func (m *CustomerTierAssignmentModel) ToEntity() *tiers.CustomerTierAssignment {
	return &tiers.CustomerTierAssignment{
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
		CustomerID:         m.CustomerID,
		TierID:             m.TierID,
		PlanName:           m.PlanName,
		Status:             tiers.AssignmentStatus(m.Status),
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		TrialEndsAt:        m.TrialEndsAt,
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		CanceledAt:         m.CanceledAt,
		SubscribedAt:       m.SubscribedAt,
	}
}

// CustomerTierAssignmentModelFromEntity creates a model from a domain entity
func CustomerTierAssignmentModelFromEntity(e *tiers.CustomerTierAssignment) *CustomerTierAssignmentModel {
	return &CustomerTierAssignmentModel{
		ID:                 e.ID,
		TenantID:           e.TenantID,
		CustomerID:         e.CustomerID,
		TierID:             e.TierID,
		PlanName:           e.PlanName,
		Status:             string(e.Status),
		CurrentPeriodStart: e.CurrentPeriodStart,
		CurrentPeriodEnd:   e.CurrentPeriodEnd,
		TrialEndsAt:        e.TrialEndsAt,
		CancelAtPeriodEnd:  e.CancelAtPeriodEnd,
		CanceledAt:         e.CanceledAt,
		SubscribedAt:       e.SubscribedAt,
		Version:            e.Version,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// usableAssignmentStatuses are the states in which a customer has tier access
var usableAssignmentStatuses = []string{
	string(tiers.AssignmentTrialing),
	string(tiers.AssignmentActive),
	string(tiers.AssignmentPastDue),
}

// AssignmentRepository implements the tiers.AssignmentRepository interface
type AssignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Save persists a new assignment
func (r *AssignmentRepository) Save(ctx context.Context, assignment *tiers.CustomerTierAssignment) error {
	model := CustomerTierAssignmentModelFromEntity(assignment)
	return r.db.WithContext(ctx).Create(model).Error
}

// Update persists changes to an existing assignment
func (r *AssignmentRepository) Update(ctx context.Context, assignment *tiers.CustomerTierAssignment) error {
	model := CustomerTierAssignmentModelFromEntity(assignment)
	result := r.db.WithContext(ctx).
		Model(&CustomerTierAssignmentModel{}).
		Where("id = ? AND tenant_id = ?", model.ID, model.TenantID).
		Select("status", "current_period_start", "current_period_end", "trial_ends_at",
			"cancel_at_period_end", "canceled_at", "version", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID retrieves an assignment by its ID
func (r *AssignmentRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*tiers.CustomerTierAssignment, error) {
	var model CustomerTierAssignmentModel
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

// FindActiveByCustomer retrieves a customer's usable assignment. Canceled and
// paused assignments do not resolve a plan for enforcement.
func (r *AssignmentRepository) FindActiveByCustomer(ctx context.Context, tenantID uuid.UUID, customerID string) (*tiers.CustomerTierAssignment, error) {
	var model CustomerTierAssignmentModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ? AND status IN ?", tenantID, customerID, usableAssignmentStatuses).
		Order("subscribed_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListByTier retrieves all assignments on a tier
func (r *AssignmentRepository) ListByTier(ctx context.Context, tenantID, tierID uuid.UUID) ([]*tiers.CustomerTierAssignment, error) {
	var models []CustomerTierAssignmentModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND tier_id = ?", tenantID, tierID).
		Order("subscribed_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	assignments := make([]*tiers.CustomerTierAssignment, len(models))
	for i, model := range models {
		assignments[i] = model.ToEntity()
	}
	return assignments, nil
}

// CountByTier counts usable assignments on a tier
func (r *AssignmentRepository) CountByTier(ctx context.Context, tenantID, tierID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CustomerTierAssignmentModel{}).
		Where("tenant_id = ? AND tier_id = ? AND status IN ?", tenantID, tierID, usableAssignmentStatuses).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure AssignmentRepository implements the interface
var _ tiers.AssignmentRepository = (*AssignmentRepository)(nil)

package tiers

import (
	"context"

	"github.com/google/uuid"
)

// TierRepository defines persistence for subscription tiers
type TierRepository interface {
	Save(ctx context.Context, tier *SubscriptionTier) error
	Update(ctx context.Context, tier *SubscriptionTier) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*SubscriptionTier, error)
	FindByName(ctx context.Context, tenantID uuid.UUID, name string) (*SubscriptionTier, error)
	List(ctx context.Context, tenantID uuid.UUID, status TierStatus) ([]*SubscriptionTier, error)
}

// AssignmentRepository defines persistence for customer tier assignments
type AssignmentRepository interface {
	Save(ctx context.Context, assignment *CustomerTierAssignment) error
	Update(ctx context.Context, assignment *CustomerTierAssignment) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*CustomerTierAssignment, error)
	FindActiveByCustomer(ctx context.Context, tenantID uuid.UUID, customerID string) (*CustomerTierAssignment, error)
	ListByTier(ctx context.Context, tenantID, tierID uuid.UUID) ([]*CustomerTierAssignment, error)
	CountByTier(ctx context.Context, tenantID, tierID uuid.UUID) (int64, error)
}

// OverageRepository defines persistence for tier usage overages
type OverageRepository interface {
	Upsert(ctx context.Context, overage *TierUsageOverage) error
	Update(ctx context.Context, overage *TierUsageOverage) error
	ListByPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*TierUsageOverage, error)
	ListUnbilled(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*TierUsageOverage, error)
}

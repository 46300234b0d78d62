package pricing

import (
	"context"

	"github.com/google/uuid"
)

// ChangeRepository defines persistence for pricing change notifications
type ChangeRepository interface {
	Save(ctx context.Context, change *PricingChangeNotification) error
	Update(ctx context.Context, change *PricingChangeNotification) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*PricingChangeNotification, error)
	ListByTier(ctx context.Context, tenantID, tierID uuid.UUID) ([]*PricingChangeNotification, error)
	ListByStatus(ctx context.Context, tenantID uuid.UUID, status ChangeStatus) ([]*PricingChangeNotification, error)
}

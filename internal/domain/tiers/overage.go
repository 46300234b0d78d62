package tiers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/staryer/backend/internal/domain/shared"
)

// TierUsageOverage records usage beyond a plan limit for one customer,
// meter and billing period. OverageCost is nil when the limit carries no
// overage price; the record is then informational only.
type TierUsageOverage struct {
	shared.TenantAggregateRoot
	MeterID       uuid.UUID
	CustomerID    string
	PlanName      string
	BillingPeriod string
	LimitValue    int64
	UsageValue    int64
	OverageAmount int64
	OverageCost   *decimal.Decimal
	Billed        bool
	BilledAt      *time.Time
}

// ComputeOverage returns usage beyond the limit, never negative
func ComputeOverage(usage, limit int64) int64 {
	if usage <= limit {
		return 0
	}
	return usage - limit
}

// NewTierUsageOverage creates an overage record. The cost is
// max(0, usage-limit) x unitPrice when a unit price is set.
func NewTierUsageOverage(tenantID, meterID uuid.UUID, customerID, planName, billingPeriod string, usage, limit int64, unitPrice *decimal.Decimal) (*TierUsageOverage, error) {
	if customerID == "" {
		return nil, shared.NewDomainError("INVALID_CUSTOMER_ID", "Customer ID cannot be empty")
	}
	amount := ComputeOverage(usage, limit)

	overage := &TierUsageOverage{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		MeterID:             meterID,
		CustomerID:          customerID,
		PlanName:            planName,
		BillingPeriod:       billingPeriod,
		LimitValue:          limit,
		UsageValue:          usage,
		OverageAmount:       amount,
	}

	if unitPrice != nil {
		cost := unitPrice.Mul(decimal.NewFromInt(amount))
		overage.OverageCost = &cost
	}

	return overage, nil
}

// IsBillable reports whether the overage should produce a charge
func (o *TierUsageOverage) IsBillable() bool {
	return o.OverageCost != nil && o.OverageAmount > 0 && !o.Billed
}

// MarkBilled flags the overage as charged
func (o *TierUsageOverage) MarkBilled(at time.Time) error {
	if o.Billed {
		return shared.NewDomainError("OVERAGE_ALREADY_BILLED", "Overage has already been billed")
	}
	o.Billed = true
	o.BilledAt = &at
	o.IncrementVersion()
	return nil
}

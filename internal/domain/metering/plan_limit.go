package metering

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/staryer/backend/internal/domain/shared"
)

// EnforcementStatus describes where a customer sits relative to a plan limit
type EnforcementStatus string

const (
	// EnforcementUnderLimit means usage is below the soft-limit threshold
	EnforcementUnderLimit EnforcementStatus = "under_limit"
	// EnforcementWarned means usage crossed the soft-limit threshold
	EnforcementWarned EnforcementStatus = "warned"
	// EnforcementBlocked means usage reached a hard-capped limit
	EnforcementBlocked EnforcementStatus = "blocked"
)

// MeterPlanLimit binds a meter to a plan with a usage limit.
// A nil LimitValue means unlimited usage on that plan.
type MeterPlanLimit struct {
	shared.TenantAggregateRoot
	MeterID            uuid.UUID
	PlanName           string
	LimitValue         *int64
	OveragePrice       *decimal.Decimal
	SoftLimitThreshold float64
	HardCap            bool
}

// NewMeterPlanLimit creates a plan limit for a meter
func NewMeterPlanLimit(tenantID, meterID uuid.UUID, planName string, limitValue *int64, softLimitThreshold float64, hardCap bool) (*MeterPlanLimit, error) {
	if planName == "" {
		return nil, shared.NewDomainError("INVALID_PLAN_NAME", "Plan name cannot be empty")
	}
	if softLimitThreshold < 0 || softLimitThreshold > 1 {
		return nil, shared.NewDomainError("INVALID_SOFT_LIMIT_THRESHOLD",
			fmt.Sprintf("Soft limit threshold must be between 0 and 1, got %v", softLimitThreshold))
	}
	if limitValue != nil && *limitValue < 0 {
		return nil, shared.NewDomainError("INVALID_LIMIT_VALUE", "Limit value cannot be negative")
	}

	return &MeterPlanLimit{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		MeterID:             meterID,
		PlanName:            planName,
		LimitValue:          limitValue,
		SoftLimitThreshold:  softLimitThreshold,
		HardCap:             hardCap,
	}, nil
}

// SetOveragePrice attaches a per-unit overage price. Without one, overage
// is computed for reporting only and never billed.
func (l *MeterPlanLimit) SetOveragePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return shared.NewDomainError("INVALID_OVERAGE_PRICE", "Overage price cannot be negative")
	}
	l.OveragePrice = &price
	l.IncrementVersion()
	return nil
}

// IsUnlimited reports whether the plan imposes no usage limit
func (l *MeterPlanLimit) IsUnlimited() bool {
	return l.LimitValue == nil
}

// EnforcementDecision is the result of checking current usage against a limit.
// Enforcement outcomes are decisions, not errors: a blocked customer is a
// normal state the caller must render, not a failure.
type EnforcementDecision struct {
	Allowed      bool              `json:"allowed"`
	Status       EnforcementStatus `json:"status"`
	CurrentUsage int64             `json:"current_usage"`
	LimitValue   *int64            `json:"limit_value,omitempty"`
	// UsagePercent is on a 0-100 scale (85.0 means 85% of the limit),
	// while SoftLimitThreshold on the limit is a 0-1 fraction.
	UsagePercent float64 `json:"usage_percent"`
	Remaining    *int64            `json:"remaining,omitempty"`
	Overage      int64             `json:"overage"`
	ShouldWarn   bool              `json:"should_warn"`
	HardCap      bool              `json:"hard_cap"`
}

// Check evaluates current usage against this limit.
// Unlimited plans always come back allowed and under_limit with 0%.
// At or over the limit with a hard cap the decision is blocked; without a
// hard cap the customer stays allowed and accrues overage.
func (l *MeterPlanLimit) Check(currentUsage int64) EnforcementDecision {
	decision := EnforcementDecision{
		Allowed:      true,
		Status:       EnforcementUnderLimit,
		CurrentUsage: currentUsage,
		LimitValue:   l.LimitValue,
		HardCap:      l.HardCap,
	}

	if l.IsUnlimited() {
		return decision
	}

	limit := *l.LimitValue
	if limit > 0 {
		decision.UsagePercent = float64(currentUsage) / float64(limit) * 100
	} else if currentUsage > 0 {
		decision.UsagePercent = 100
	}

	remaining := limit - currentUsage
	if remaining < 0 {
		remaining = 0
	}
	decision.Remaining = &remaining

	if currentUsage > limit {
		decision.Overage = currentUsage - limit
	}

	switch {
	case currentUsage >= limit:
		if l.HardCap {
			decision.Allowed = false
			decision.Status = EnforcementBlocked
		} else {
			decision.Status = EnforcementWarned
			decision.ShouldWarn = true
		}
	case l.SoftLimitThreshold > 0 && float64(currentUsage) >= float64(limit)*l.SoftLimitThreshold:
		decision.Status = EnforcementWarned
		decision.ShouldWarn = true
	}

	return decision
}

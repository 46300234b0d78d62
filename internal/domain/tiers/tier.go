package tiers

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/staryer/backend/internal/domain/shared"
)

// TierStatus represents the lifecycle state of a subscription tier
type TierStatus string

const (
	// TierStatusDraft is the initial state; draft tiers are invisible to customers
	TierStatusDraft TierStatus = "draft"
	// TierStatusActive tiers can be subscribed to
	TierStatusActive TierStatus = "active"
	// TierStatusArchived tiers accept no new subscribers but keep existing ones
	TierStatusArchived TierStatus = "archived"
)

// BillingInterval is the recurring charge cadence of a tier
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalYearly  BillingInterval = "yearly"
)

// IsValid checks if the billing interval is valid
func (b BillingInterval) IsValid() bool {
	return b == BillingIntervalMonthly || b == BillingIntervalYearly
}

// SubscriptionTier is a priced plan a creator offers. Usage caps map meter
// event names to the per-period limit included in the tier price.
type SubscriptionTier struct {
	shared.TenantAggregateRoot
	Name            string
	Description     string
	Price           decimal.Decimal
	Currency        string
	BillingInterval BillingInterval
	Features        []string
	UsageCaps       map[string]int64
	TrialDays       int
	IsDefault       bool
	Status          TierStatus
	StripePriceID   string
}

// NewSubscriptionTier creates a tier in draft status
func NewSubscriptionTier(tenantID uuid.UUID, name string, price decimal.Decimal, currency string, interval BillingInterval) (*SubscriptionTier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_TIER_NAME", "Tier name cannot be empty")
	}
	if price.IsNegative() {
		return nil, shared.NewDomainError("INVALID_TIER_PRICE", "Tier price cannot be negative")
	}
	if currency == "" {
		currency = "usd"
	}
	if interval == "" {
		interval = BillingIntervalMonthly
	}
	if !interval.IsValid() {
		return nil, shared.NewDomainError("INVALID_BILLING_INTERVAL", "Invalid billing interval: "+string(interval))
	}

	return &SubscriptionTier{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                name,
		Price:               price,
		Currency:            strings.ToLower(currency),
		BillingInterval:     interval,
		Features:            []string{},
		UsageCaps:           map[string]int64{},
		Status:              TierStatusDraft,
	}, nil
}

// SetUsageCap sets the included usage for a meter event name
func (t *SubscriptionTier) SetUsageCap(eventName string, cap int64) error {
	if eventName == "" {
		return shared.NewDomainError("INVALID_EVENT_NAME", "Event name cannot be empty")
	}
	if cap < 0 {
		return shared.NewDomainError("INVALID_USAGE_CAP", "Usage cap cannot be negative")
	}
	if t.UsageCaps == nil {
		t.UsageCaps = map[string]int64{}
	}
	t.UsageCaps[eventName] = cap
	t.IncrementVersion()
	return nil
}

// Activate publishes a draft tier
func (t *SubscriptionTier) Activate() error {
	if t.Status != TierStatusDraft {
		return shared.NewDomainError("INVALID_TIER_TRANSITION", "Only draft tiers can be activated, current status: "+string(t.Status))
	}
	t.Status = TierStatusActive
	t.IncrementVersion()
	return nil
}

// Archive retires an active tier. Existing subscribers are unaffected.
func (t *SubscriptionTier) Archive() error {
	if t.Status != TierStatusActive {
		return shared.NewDomainError("INVALID_TIER_TRANSITION", "Only active tiers can be archived, current status: "+string(t.Status))
	}
	t.Status = TierStatusArchived
	t.IsDefault = false
	t.IncrementVersion()
	return nil
}

// CanSubscribe reports whether new customers may join this tier
func (t *SubscriptionTier) CanSubscribe() bool {
	return t.Status == TierStatusActive
}

// ChangePrice updates the tier price. Archived tiers are immutable.
func (t *SubscriptionTier) ChangePrice(price decimal.Decimal) error {
	if t.Status == TierStatusArchived {
		return shared.NewDomainError("TIER_ARCHIVED", "Archived tiers cannot be modified")
	}
	if price.IsNegative() {
		return shared.NewDomainError("INVALID_TIER_PRICE", "Tier price cannot be negative")
	}
	t.Price = price
	t.IncrementVersion()
	return nil
}

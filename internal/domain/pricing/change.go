package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/staryer/backend/internal/domain/shared"
)

// ChangeStatus represents the lifecycle of a pricing change notification.
// The machine is linear: draft -> scheduled -> sent. Cancellation is the
// only escape and is possible until the notification is sent.
type ChangeStatus string

const (
	ChangeStatusDraft     ChangeStatus = "draft"
	ChangeStatusScheduled ChangeStatus = "scheduled"
	ChangeStatusSent      ChangeStatus = "sent"
	ChangeStatusCancelled ChangeStatus = "cancelled"
)

// ChangeType classifies what a pricing change does to subscribers
type ChangeType string

const (
	ChangeTypeIncrease      ChangeType = "price_increase"
	ChangeTypeDecrease      ChangeType = "price_decrease"
	ChangeTypeFeatureChange ChangeType = "feature_change"
)

// PricingChangeNotification is a planned price change for a tier together
// with the customer communication around it.
type PricingChangeNotification struct {
	shared.TenantAggregateRoot
	TierID          uuid.UUID
	TierName        string
	ChangeType      ChangeType
	OldPrice        decimal.Decimal
	NewPrice        decimal.Decimal
	RemovedFeatures []string
	EffectiveDate   time.Time
	Reason          string
	Status          ChangeStatus
	CreatorApproved bool
	ScheduledAt     *time.Time
	SentAt          *time.Time
	CancelledAt     *time.Time
}

// NewPricingChangeNotification creates a draft notification
func NewPricingChangeNotification(tenantID, tierID uuid.UUID, tierName string, oldPrice, newPrice decimal.Decimal, effectiveDate time.Time, reason string) (*PricingChangeNotification, error) {
	if newPrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_PRICE", "New price cannot be negative")
	}

	changeType := ChangeTypeFeatureChange
	switch {
	case newPrice.GreaterThan(oldPrice):
		changeType = ChangeTypeIncrease
	case newPrice.LessThan(oldPrice):
		changeType = ChangeTypeDecrease
	}

	return &PricingChangeNotification{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		TierID:              tierID,
		TierName:            tierName,
		ChangeType:          changeType,
		OldPrice:            oldPrice,
		NewPrice:            newPrice,
		EffectiveDate:       effectiveDate,
		Reason:              reason,
		Status:              ChangeStatusDraft,
	}, nil
}

// PercentChange returns the relative price change, 0 when the old price is zero
func (n *PricingChangeNotification) PercentChange() decimal.Decimal {
	if n.OldPrice.IsZero() {
		return decimal.Zero
	}
	return n.NewPrice.Sub(n.OldPrice).Div(n.OldPrice).Mul(decimal.NewFromInt(100))
}

// Approve records the creator's sign-off on the draft
func (n *PricingChangeNotification) Approve() error {
	if n.Status != ChangeStatusDraft {
		return shared.NewDomainError("INVALID_CHANGE_TRANSITION", "Only draft changes can be approved, current status: "+string(n.Status))
	}
	n.CreatorApproved = true
	n.IncrementVersion()
	return nil
}

// Schedule queues an approved draft for delivery
func (n *PricingChangeNotification) Schedule() error {
	if n.Status != ChangeStatusDraft {
		return shared.NewDomainError("INVALID_CHANGE_TRANSITION", "Only draft changes can be scheduled, current status: "+string(n.Status))
	}
	if !n.CreatorApproved {
		return shared.NewDomainError("CHANGE_NOT_APPROVED", "Pricing change must be approved before scheduling")
	}
	now := time.Now()
	n.Status = ChangeStatusScheduled
	n.ScheduledAt = &now
	n.IncrementVersion()
	return nil
}

// MarkSent finalizes a scheduled notification after delivery
func (n *PricingChangeNotification) MarkSent() error {
	if n.Status != ChangeStatusScheduled {
		return shared.NewDomainError("INVALID_CHANGE_TRANSITION", "Only scheduled changes can be sent, current status: "+string(n.Status))
	}
	now := time.Now()
	n.Status = ChangeStatusSent
	n.SentAt = &now
	n.IncrementVersion()
	return nil
}

// Cancel abandons a draft or scheduled change. Sent changes are final.
func (n *PricingChangeNotification) Cancel() error {
	if n.Status == ChangeStatusSent || n.Status == ChangeStatusCancelled {
		return shared.NewDomainError("INVALID_CHANGE_TRANSITION", "Cannot cancel a "+string(n.Status)+" pricing change")
	}
	now := time.Now()
	n.Status = ChangeStatusCancelled
	n.CancelledAt = &now
	n.IncrementVersion()
	return nil
}

package tiers

import (
	"time"

	"github.com/google/uuid"

	"github.com/staryer/backend/internal/domain/shared"
)

// AssignmentStatus represents the subscription state of a customer on a tier
type AssignmentStatus string

const (
	AssignmentTrialing AssignmentStatus = "trialing"
	AssignmentActive   AssignmentStatus = "active"
	AssignmentPastDue  AssignmentStatus = "past_due"
	AssignmentCanceled AssignmentStatus = "canceled"
	AssignmentPaused   AssignmentStatus = "paused"
)

// CustomerTierAssignment binds a customer to a subscription tier.
// Transitions: trialing -> active; active -> past_due | canceled | paused;
// past_due -> active | canceled; paused -> active | canceled.
type CustomerTierAssignment struct {
	shared.TenantAggregateRoot
	CustomerID         string
	TierID             uuid.UUID
	PlanName           string
	Status             AssignmentStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEndsAt        *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	SubscribedAt       time.Time
}

// NewCustomerTierAssignment subscribes a customer to a tier. Tiers with a
// trial period start in trialing, everything else starts active.
func NewCustomerTierAssignment(tier *SubscriptionTier, customerID string, periodStart, periodEnd time.Time) (*CustomerTierAssignment, error) {
	if tier == nil {
		return nil, shared.ErrNotFound
	}
	if !tier.CanSubscribe() {
		return nil, shared.NewDomainError("TIER_NOT_SUBSCRIBABLE", "Tier is not open for subscription: "+tier.Name)
	}
	if customerID == "" {
		return nil, shared.NewDomainError("INVALID_CUSTOMER_ID", "Customer ID cannot be empty")
	}
	if !periodEnd.After(periodStart) {
		return nil, shared.NewDomainError("INVALID_BILLING_PERIOD", "Period end must be after period start")
	}

	assignment := &CustomerTierAssignment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tier.TenantID),
		CustomerID:          customerID,
		TierID:              tier.ID,
		PlanName:            tier.Name,
		Status:              AssignmentActive,
		CurrentPeriodStart:  periodStart,
		CurrentPeriodEnd:    periodEnd,
		SubscribedAt:        time.Now(),
	}

	if tier.TrialDays > 0 {
		trialEnd := periodStart.AddDate(0, 0, tier.TrialDays)
		assignment.Status = AssignmentTrialing
		assignment.TrialEndsAt = &trialEnd
	}

	return assignment, nil
}

func (a *CustomerTierAssignment) transition(to AssignmentStatus, allowed ...AssignmentStatus) error {
	for _, from := range allowed {
		if a.Status == from {
			a.Status = to
			a.IncrementVersion()
			return nil
		}
	}
	return shared.NewDomainError("INVALID_ASSIGNMENT_TRANSITION",
		"Cannot transition assignment from "+string(a.Status)+" to "+string(to))
}

// Activate converts a trial, recovers a past-due, or resumes a paused assignment
func (a *CustomerTierAssignment) Activate() error {
	return a.transition(AssignmentActive, AssignmentTrialing, AssignmentPastDue, AssignmentPaused)
}

// MarkPastDue flags an active assignment whose payment failed
func (a *CustomerTierAssignment) MarkPastDue() error {
	return a.transition(AssignmentPastDue, AssignmentActive)
}

// Pause suspends an active assignment
func (a *CustomerTierAssignment) Pause() error {
	return a.transition(AssignmentPaused, AssignmentActive)
}

// ScheduleCancellation keeps the assignment running until the period ends
func (a *CustomerTierAssignment) ScheduleCancellation() error {
	if a.Status == AssignmentCanceled {
		return shared.NewDomainError("ASSIGNMENT_ALREADY_CANCELED", "Assignment is already canceled")
	}
	a.CancelAtPeriodEnd = true
	a.IncrementVersion()
	return nil
}

// Cancel terminates the assignment immediately
func (a *CustomerTierAssignment) Cancel() error {
	if err := a.transition(AssignmentCanceled, AssignmentTrialing, AssignmentActive, AssignmentPastDue, AssignmentPaused); err != nil {
		return err
	}
	now := time.Now()
	a.CanceledAt = &now
	return nil
}

// RenewPeriod rolls the assignment into the next billing period, applying a
// scheduled cancellation instead when one is pending.
func (a *CustomerTierAssignment) RenewPeriod(periodStart, periodEnd time.Time) error {
	if a.Status == AssignmentCanceled {
		return shared.NewDomainError("ASSIGNMENT_ALREADY_CANCELED", "Assignment is already canceled")
	}
	if a.CancelAtPeriodEnd {
		return a.Cancel()
	}
	if !periodEnd.After(periodStart) {
		return shared.NewDomainError("INVALID_BILLING_PERIOD", "Period end must be after period start")
	}
	a.CurrentPeriodStart = periodStart
	a.CurrentPeriodEnd = periodEnd
	a.IncrementVersion()
	return nil
}

// IsUsable reports whether the customer currently has tier access
func (a *CustomerTierAssignment) IsUsable() bool {
	return a.Status == AssignmentTrialing || a.Status == AssignmentActive || a.Status == AssignmentPastDue
}

package tiers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

// CreateTierInput contains input for creating a subscription tier
type CreateTierInput struct {
	Name            string
	Description     string
	Price           decimal.Decimal
	Currency        string
	BillingInterval string
	Features        []string
	UsageCaps       map[string]int64
	TrialDays       int
	IsDefault       bool
}

// TierService manages subscription tiers and customer assignments
type TierService struct {
	tierRepo       tiers.TierRepository
	assignmentRepo tiers.AssignmentRepository
	logger         *zap.Logger
}

// NewTierService creates a new tier service
func NewTierService(tierRepo tiers.TierRepository, assignmentRepo tiers.AssignmentRepository, logger *zap.Logger) *TierService {
	return &TierService{
		tierRepo:       tierRepo,
		assignmentRepo: assignmentRepo,
		logger:         logger,
	}
}

// CreateTier creates a draft tier. Tier names are unique per tenant.
func (s *TierService) CreateTier(ctx context.Context, tenantID uuid.UUID, input CreateTierInput) (*tiers.SubscriptionTier, error) {
	existing, err := s.tierRepo.FindByName(ctx, tenantID, input.Name)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("failed to check tier uniqueness: %w", err)
	}
	if existing != nil {
		return nil, shared.NewDomainError("TIER_ALREADY_EXISTS", "A tier already exists with name: "+input.Name)
	}

	tier, err := tiers.NewSubscriptionTier(tenantID, input.Name, input.Price, input.Currency, tiers.BillingInterval(input.BillingInterval))
	if err != nil {
		return nil, err
	}
	tier.Description = input.Description
	tier.TrialDays = input.TrialDays
	tier.IsDefault = input.IsDefault
	if len(input.Features) > 0 {
		tier.Features = input.Features
	}
	for eventName, cap := range input.UsageCaps {
		if err := tier.SetUsageCap(eventName, cap); err != nil {
			return nil, err
		}
	}

	if err := s.tierRepo.Save(ctx, tier); err != nil {
		return nil, fmt.Errorf("failed to save tier: %w", err)
	}

	s.logger.Info("subscription tier created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("tier_id", tier.ID.String()),
		zap.String("name", tier.Name),
		zap.String("price", tier.Price.String()))

	return tier, nil
}

// ActivateTier publishes a draft tier
func (s *TierService) ActivateTier(ctx context.Context, tenantID, tierID uuid.UUID) (*tiers.SubscriptionTier, error) {
	return s.mutateTier(ctx, tenantID, tierID, (*tiers.SubscriptionTier).Activate)
}

// ArchiveTier retires an active tier
func (s *TierService) ArchiveTier(ctx context.Context, tenantID, tierID uuid.UUID) (*tiers.SubscriptionTier, error) {
	return s.mutateTier(ctx, tenantID, tierID, (*tiers.SubscriptionTier).Archive)
}

// GetTier returns a tier by ID
func (s *TierService) GetTier(ctx context.Context, tenantID, tierID uuid.UUID) (*tiers.SubscriptionTier, error) {
	return s.tierRepo.FindByID(ctx, tenantID, tierID)
}

// ListTiers returns the tenant's tiers, optionally filtered by status
func (s *TierService) ListTiers(ctx context.Context, tenantID uuid.UUID, status tiers.TierStatus) ([]*tiers.SubscriptionTier, error) {
	return s.tierRepo.List(ctx, tenantID, status)
}

// AssignCustomer subscribes a customer to a tier. A customer can hold only
// one usable assignment at a time.
func (s *TierService) AssignCustomer(ctx context.Context, tenantID, tierID uuid.UUID, customerID string, periodStart, periodEnd time.Time) (*tiers.CustomerTierAssignment, error) {
	tier, err := s.tierRepo.FindByID(ctx, tenantID, tierID)
	if err != nil {
		return nil, err
	}

	current, err := s.assignmentRepo.FindActiveByCustomer(ctx, tenantID, customerID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing assignment: %w", err)
	}
	if current != nil {
		return nil, shared.NewDomainError("ASSIGNMENT_CONFLICT",
			"Customer already has an active tier assignment: "+current.PlanName)
	}

	assignment, err := tiers.NewCustomerTierAssignment(tier, customerID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if err := s.assignmentRepo.Save(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	s.logger.Info("customer assigned to tier",
		zap.String("tenant_id", tenantID.String()),
		zap.String("customer_id", customerID),
		zap.String("tier", tier.Name),
		zap.String("status", string(assignment.Status)))

	return assignment, nil
}

// GetCustomerAssignment returns the customer's usable assignment
func (s *TierService) GetCustomerAssignment(ctx context.Context, tenantID uuid.UUID, customerID string) (*tiers.CustomerTierAssignment, error) {
	return s.assignmentRepo.FindActiveByCustomer(ctx, tenantID, customerID)
}

// ActivateAssignment converts a trial or recovers a past-due/paused assignment
func (s *TierService) ActivateAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*tiers.CustomerTierAssignment, error) {
	return s.mutateAssignment(ctx, tenantID, assignmentID, (*tiers.CustomerTierAssignment).Activate)
}

// PauseAssignment suspends an active assignment
func (s *TierService) PauseAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*tiers.CustomerTierAssignment, error) {
	return s.mutateAssignment(ctx, tenantID, assignmentID, (*tiers.CustomerTierAssignment).Pause)
}

// MarkAssignmentPastDue flags a failed payment
func (s *TierService) MarkAssignmentPastDue(ctx context.Context, tenantID, assignmentID uuid.UUID) (*tiers.CustomerTierAssignment, error) {
	return s.mutateAssignment(ctx, tenantID, assignmentID, (*tiers.CustomerTierAssignment).MarkPastDue)
}

// CancelAssignment ends a subscription, either immediately or at period end
func (s *TierService) CancelAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID, atPeriodEnd bool) (*tiers.CustomerTierAssignment, error) {
	op := (*tiers.CustomerTierAssignment).Cancel
	if atPeriodEnd {
		op = (*tiers.CustomerTierAssignment).ScheduleCancellation
	}
	return s.mutateAssignment(ctx, tenantID, assignmentID, op)
}

// RenewAssignment rolls an assignment into its next billing period
func (s *TierService) RenewAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID, periodStart, periodEnd time.Time) (*tiers.CustomerTierAssignment, error) {
	return s.mutateAssignment(ctx, tenantID, assignmentID, func(a *tiers.CustomerTierAssignment) error {
		return a.RenewPeriod(periodStart, periodEnd)
	})
}

func (s *TierService) mutateTier(ctx context.Context, tenantID, tierID uuid.UUID, op func(*tiers.SubscriptionTier) error) (*tiers.SubscriptionTier, error) {
	tier, err := s.tierRepo.FindByID(ctx, tenantID, tierID)
	if err != nil {
		return nil, err
	}
	if err := op(tier); err != nil {
		return nil, err
	}
	if err := s.tierRepo.Update(ctx, tier); err != nil {
		return nil, fmt.Errorf("failed to update tier: %w", err)
	}
	return tier, nil
}

func (s *TierService) mutateAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID, op func(*tiers.CustomerTierAssignment) error) (*tiers.CustomerTierAssignment, error) {
	assignment, err := s.assignmentRepo.FindByID(ctx, tenantID, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := op(assignment); err != nil {
		return nil, err
	}
	if err := s.assignmentRepo.Update(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to update assignment: %w", err)
	}
	return assignment, nil
}

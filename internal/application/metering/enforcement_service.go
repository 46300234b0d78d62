package metering

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

// EnforcementCheck is the outcome of an enforcement lookup, combining the
// limit decision with the context it was made in.
type EnforcementCheck struct {
	Meter         *metering.UsageMeter
	PlanName      string
	BillingPeriod string
	Decision      metering.EnforcementDecision
	Limit         *metering.MeterPlanLimit
}

// EnforcementService decides whether customers may keep using metered
// features and raises usage alerts when thresholds are crossed.
type EnforcementService struct {
	meterRepo      metering.MeterRepository
	limitRepo      metering.PlanLimitRepository
	alertRepo      metering.AlertRepository
	assignmentRepo tiers.AssignmentRepository
	aggregation    *AggregationService
	logger         *zap.Logger
}

// NewEnforcementService creates a new enforcement service
func NewEnforcementService(
	meterRepo metering.MeterRepository,
	limitRepo metering.PlanLimitRepository,
	alertRepo metering.AlertRepository,
	assignmentRepo tiers.AssignmentRepository,
	aggregation *AggregationService,
	logger *zap.Logger,
) *EnforcementService {
	return &EnforcementService{
		meterRepo:      meterRepo,
		limitRepo:      limitRepo,
		alertRepo:      alertRepo,
		assignmentRepo: assignmentRepo,
		aggregation:    aggregation,
		logger:         logger,
	}
}

// CheckUsageEnforcement is a pure pre-flight read: it decides whether the
// customer could consume requestedUsage more units, as if they were already
// counted, without recording anything. No alerts are emitted here; those
// belong to actually tracked usage.
func (s *EnforcementService) CheckUsageEnforcement(ctx context.Context, tenantID uuid.UUID, customerID, eventName string, requestedUsage int64) (*EnforcementCheck, error) {
	meter, err := s.meterRepo.FindByEventName(ctx, tenantID, eventName)
	if err != nil {
		return nil, err
	}

	period := metering.CurrentBillingPeriod()
	check := &EnforcementCheck{
		Meter:         meter,
		BillingPeriod: period,
		Decision: metering.EnforcementDecision{
			Allowed: true,
			Status:  metering.EnforcementUnderLimit,
		},
	}

	limit, planName, err := s.resolveLimit(ctx, tenantID, meter.ID, customerID)
	if err != nil {
		return nil, err
	}
	check.PlanName = planName
	if limit == nil {
		// no plan or no configured limit: usage is unmetered for enforcement
		return check, nil
	}
	check.Limit = limit

	aggregate, err := s.aggregation.GetAggregate(ctx, tenantID, meter, customerID, period)
	if err != nil {
		return nil, err
	}

	check.Decision = limit.Check(int64(aggregate.AggregateValue) + requestedUsage)
	return check, nil
}

// EnforceTrackedUsage evaluates a just-updated aggregate against the
// customer's plan limit and emits alerts for crossed thresholds. At most one
// unacknowledged alert exists per (meter, user, type); repeats are dropped.
func (s *EnforcementService) EnforceTrackedUsage(ctx context.Context, tenantID uuid.UUID, meter *metering.UsageMeter, customerID string, aggregate *metering.UsageAggregate) (*EnforcementCheck, error) {
	check := &EnforcementCheck{
		Meter:         meter,
		BillingPeriod: aggregate.BillingPeriod,
		Decision: metering.EnforcementDecision{
			Allowed: true,
			Status:  metering.EnforcementUnderLimit,
		},
	}

	limit, planName, err := s.resolveLimit(ctx, tenantID, meter.ID, customerID)
	if err != nil {
		return nil, err
	}
	check.PlanName = planName
	if limit == nil {
		return check, nil
	}
	check.Limit = limit
	check.Decision = limit.Check(int64(aggregate.AggregateValue))

	if alertType, ok := alertTypeFor(check.Decision); ok {
		if err := s.emitAlert(ctx, tenantID, meter.ID, customerID, alertType, aggregate.BillingPeriod, check.Decision); err != nil {
			return nil, err
		}
	}

	return check, nil
}

// AcknowledgeAlert marks an alert as seen
func (s *EnforcementService) AcknowledgeAlert(ctx context.Context, tenantID, alertID uuid.UUID) (*metering.UsageAlert, error) {
	alert, err := s.alertRepo.FindByID(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if err := alert.Acknowledge(); err != nil {
		return nil, err
	}
	if err := s.alertRepo.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	return alert, nil
}

// ListOpenAlerts returns the tenant's unacknowledged alerts
func (s *EnforcementService) ListOpenAlerts(ctx context.Context, tenantID uuid.UUID) ([]*metering.UsageAlert, error) {
	return s.alertRepo.ListUnacknowledged(ctx, tenantID)
}

func (s *EnforcementService) resolveLimit(ctx context.Context, tenantID, meterID uuid.UUID, customerID string) (*metering.MeterPlanLimit, string, error) {
	assignment, err := s.assignmentRepo.FindActiveByCustomer(ctx, tenantID, customerID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve customer plan: %w", err)
	}

	limit, err := s.limitRepo.FindByMeterAndPlan(ctx, tenantID, meterID, assignment.PlanName)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, assignment.PlanName, nil
	}
	if err != nil {
		return nil, assignment.PlanName, fmt.Errorf("failed to load plan limit: %w", err)
	}
	return limit, assignment.PlanName, nil
}

func alertTypeFor(decision metering.EnforcementDecision) (metering.AlertType, bool) {
	switch {
	case decision.Status == metering.EnforcementBlocked:
		return metering.AlertHardLimit, true
	case decision.LimitValue != nil && decision.UsagePercent >= 100:
		return metering.AlertOverage, true
	case decision.ShouldWarn:
		return metering.AlertSoftLimit, true
	}
	return "", false
}

func (s *EnforcementService) emitAlert(ctx context.Context, tenantID, meterID uuid.UUID, customerID string, alertType metering.AlertType, billingPeriod string, decision metering.EnforcementDecision) error {
	existing, err := s.alertRepo.FindUnacknowledged(ctx, tenantID, meterID, customerID, alertType)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("failed to check existing alerts: %w", err)
	}
	if existing != nil {
		return nil
	}

	var limitValue int64
	if decision.LimitValue != nil {
		limitValue = *decision.LimitValue
	}
	alert, err := metering.NewUsageAlert(tenantID, meterID, customerID, alertType, billingPeriod, decision.CurrentUsage, limitValue, decision.UsagePercent)
	if err != nil {
		return err
	}
	if err := s.alertRepo.Save(ctx, alert); err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}

	s.logger.Warn("usage alert raised",
		zap.String("tenant_id", tenantID.String()),
		zap.String("meter_id", meterID.String()),
		zap.String("customer_id", customerID),
		zap.String("alert_type", string(alertType)),
		zap.Int64("usage", decision.CurrentUsage),
		zap.Int64("limit", limitValue))

	return nil
}

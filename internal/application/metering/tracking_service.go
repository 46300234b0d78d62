package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/domain/metering"
)

// TrackUsageInput contains a single usage occurrence to record
type TrackUsageInput struct {
	EventName  string
	UserID     string
	Value      float64
	Properties map[string]any
	OccurredAt time.Time
}

// TrackUsageResult contains the recorded event, the refreshed aggregate and
// the enforcement outcome after the event was counted.
type TrackUsageResult struct {
	Event     *metering.UsageEvent
	Aggregate *metering.UsageAggregate
	Check     *EnforcementCheck
}

// TrackingService ingests usage events. Events are append-only; the
// billing-period aggregate is refreshed synchronously so reads within the
// period converge quickly.
type TrackingService struct {
	meterRepo   metering.MeterRepository
	eventRepo   metering.UsageEventRepository
	aggregation *AggregationService
	enforcement *EnforcementService
	logger      *zap.Logger
}

// NewTrackingService creates a new tracking service
func NewTrackingService(
	meterRepo metering.MeterRepository,
	eventRepo metering.UsageEventRepository,
	aggregation *AggregationService,
	enforcement *EnforcementService,
	logger *zap.Logger,
) *TrackingService {
	return &TrackingService{
		meterRepo:   meterRepo,
		eventRepo:   eventRepo,
		aggregation: aggregation,
		enforcement: enforcement,
		logger:      logger,
	}
}

// TrackUsage records one usage event against a meter. Unknown and inactive
// meters are rejected; negative values are rejected for count, sum and
// duration meters. After the event is stored the period aggregate is
// recomputed and enforcement runs, raising alerts for crossed thresholds.
func (s *TrackingService) TrackUsage(ctx context.Context, tenantID uuid.UUID, input TrackUsageInput) (*TrackUsageResult, error) {
	meter, err := s.meterRepo.FindByEventName(ctx, tenantID, input.EventName)
	if err != nil {
		return nil, err
	}

	event, err := metering.NewUsageEvent(meter, input.UserID, input.Value, input.Properties, input.OccurredAt)
	if err != nil {
		return nil, err
	}

	if err := s.eventRepo.Save(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to save usage event: %w", err)
	}

	aggregate, err := s.aggregation.Recompute(ctx, tenantID, meter, event.UserID, event.BillingPeriod())
	if err != nil {
		return nil, err
	}

	check, err := s.enforcement.EnforceTrackedUsage(ctx, tenantID, meter, event.UserID, aggregate)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("usage tracked",
		zap.String("tenant_id", tenantID.String()),
		zap.String("event_name", meter.EventName),
		zap.String("user_id", event.UserID),
		zap.Float64("value", event.Value),
		zap.Float64("aggregate", aggregate.AggregateValue),
		zap.String("status", string(check.Decision.Status)))

	return &TrackUsageResult{Event: event, Aggregate: aggregate, Check: check}, nil
}

// GetUsageSummary returns every meter's rollup for a user in a period
func (s *TrackingService) GetUsageSummary(ctx context.Context, tenantID uuid.UUID, userID, billingPeriod string) ([]*metering.UsageAggregate, error) {
	if billingPeriod == "" {
		billingPeriod = metering.CurrentBillingPeriod()
	}
	if err := metering.ValidateBillingPeriod(billingPeriod); err != nil {
		return nil, err
	}
	return s.aggregation.ListForUser(ctx, tenantID, userID, billingPeriod)
}

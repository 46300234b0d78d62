package metering

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

// AggregateCache is a read-through cache for period aggregates. A nil or
// failing cache never breaks aggregation; it only costs a recompute.
type AggregateCache interface {
	Get(ctx context.Context, tenantID, meterID uuid.UUID, userID, billingPeriod string) (*metering.UsageAggregate, bool)
	Set(ctx context.Context, aggregate *metering.UsageAggregate)
	Invalidate(ctx context.Context, tenantID, meterID uuid.UUID, userID, billingPeriod string)
}

// AggregationService maintains the materialized per-period usage rollups.
// Aggregates are always derivable from the event log, so every operation
// here is an idempotent recompute-and-replace.
type AggregationService struct {
	meterRepo metering.MeterRepository
	eventRepo metering.UsageEventRepository
	aggRepo   metering.UsageAggregateRepository
	cache     AggregateCache
	logger    *zap.Logger
}

// NewAggregationService creates a new aggregation service
func NewAggregationService(
	meterRepo metering.MeterRepository,
	eventRepo metering.UsageEventRepository,
	aggRepo metering.UsageAggregateRepository,
	cache AggregateCache,
	logger *zap.Logger,
) *AggregationService {
	return &AggregationService{
		meterRepo: meterRepo,
		eventRepo: eventRepo,
		aggRepo:   aggRepo,
		cache:     cache,
		logger:    logger,
	}
}

// Recompute rebuilds the aggregate for (meter, user, period) from the
// event log and replaces the stored row. Running it any number of times
// yields the same result.
func (s *AggregationService) Recompute(ctx context.Context, tenantID uuid.UUID, meter *metering.UsageMeter, userID, billingPeriod string) (*metering.UsageAggregate, error) {
	if err := metering.ValidateBillingPeriod(billingPeriod); err != nil {
		return nil, err
	}

	events, err := s.eventRepo.List(ctx, tenantID, metering.EventFilter{
		MeterID:       &meter.ID,
		UserID:        userID,
		BillingPeriod: billingPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load events for aggregation: %w", err)
	}

	aggregate := metering.FoldEvents(meter, userID, billingPeriod, events)
	if err := s.aggRepo.Replace(ctx, aggregate); err != nil {
		return nil, fmt.Errorf("failed to replace aggregate: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, aggregate)
	}

	return aggregate, nil
}

// GetAggregate returns the rollup for (meter, user, period), consulting the
// cache first and falling back to the stored row. A missing row means no
// usage: a zero-valued aggregate is returned, not an error.
func (s *AggregationService) GetAggregate(ctx context.Context, tenantID uuid.UUID, meter *metering.UsageMeter, userID, billingPeriod string) (*metering.UsageAggregate, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, tenantID, meter.ID, userID, billingPeriod); ok {
			return cached, nil
		}
	}

	aggregate, err := s.aggRepo.Find(ctx, tenantID, meter.ID, userID, billingPeriod)
	if errors.Is(err, shared.ErrNotFound) {
		return metering.FoldEvents(meter, userID, billingPeriod, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregate: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, aggregate)
	}

	return aggregate, nil
}

// ListForUser returns every meter's aggregate for a user in a period
func (s *AggregationService) ListForUser(ctx context.Context, tenantID uuid.UUID, userID, billingPeriod string) ([]*metering.UsageAggregate, error) {
	return s.aggRepo.ListByUser(ctx, tenantID, userID, billingPeriod)
}

// RebuildBillingPeriod recomputes every (meter, user) aggregate that has
// events in the period. Used by the scheduler to heal any drift between the
// event log and the rollups.
func (s *AggregationService) RebuildBillingPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) (int, error) {
	if err := metering.ValidateBillingPeriod(billingPeriod); err != nil {
		return 0, err
	}

	meters, err := s.meterRepo.List(ctx, tenantID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list meters: %w", err)
	}

	rebuilt := 0
	for _, meter := range meters {
		users, err := s.eventRepo.ListPeriodUsers(ctx, tenantID, meter.ID, billingPeriod)
		if err != nil {
			return rebuilt, fmt.Errorf("failed to list users for meter %s: %w", meter.EventName, err)
		}
		for _, userID := range users {
			if _, err := s.Recompute(ctx, tenantID, meter, userID, billingPeriod); err != nil {
				return rebuilt, err
			}
			rebuilt++
		}
	}

	s.logger.Info("billing period rebuilt",
		zap.String("tenant_id", tenantID.String()),
		zap.String("billing_period", billingPeriod),
		zap.Int("aggregates", rebuilt))

	return rebuilt, nil
}

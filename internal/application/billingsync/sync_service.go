package billingsync

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

// ReportUsageInput is one grouped usage report for the billing provider
type ReportUsageInput struct {
	StripeMeterID  string
	EventName      string
	CustomerID     string
	Value          float64
	Timestamp      time.Time
	IdempotencyKey string
}

// CreatePriceInput describes a metered recurring price to create
type CreatePriceInput struct {
	ProductName string
	UnitAmount  decimal.Decimal
	Currency    string
	Interval    string
}

// MeterEventReporter is the outbound port to the billing provider. The
// Stripe adapter implements it; tests substitute fakes.
type MeterEventReporter interface {
	CreateBillingMeter(ctx context.Context, eventName, displayName string) (string, error)
	CreateMeteredPrice(ctx context.Context, stripeMeterID string, input CreatePriceInput) (string, error)
	ReportMeterEvent(ctx context.Context, input ReportUsageInput) error
}

// SyncError records one failed (meter, customer) report without aborting
// the rest of the batch.
type SyncError struct {
	MeterID    uuid.UUID `json:"meter_id"`
	EventName  string    `json:"event_name"`
	CustomerID string    `json:"customer_id"`
	Message    string    `json:"message"`
}

// SyncResult summarizes one billing-period sync run
type SyncResult struct {
	BillingPeriod string      `json:"billing_period"`
	Synced        int         `json:"synced"`
	Skipped       int         `json:"skipped"`
	Errors        []SyncError `json:"errors"`
}

// SyncService pushes metered usage to the billing provider and settles
// overage charges at period close.
type SyncService struct {
	meterRepo      metering.MeterRepository
	eventRepo      metering.UsageEventRepository
	aggRepo        metering.UsageAggregateRepository
	limitRepo      metering.PlanLimitRepository
	assignmentRepo tiers.AssignmentRepository
	overageRepo    tiers.OverageRepository
	reporter       MeterEventReporter
	logger         *zap.Logger
}

// NewSyncService creates a new billing sync service
func NewSyncService(
	meterRepo metering.MeterRepository,
	eventRepo metering.UsageEventRepository,
	aggRepo metering.UsageAggregateRepository,
	limitRepo metering.PlanLimitRepository,
	assignmentRepo tiers.AssignmentRepository,
	overageRepo tiers.OverageRepository,
	reporter MeterEventReporter,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		meterRepo:      meterRepo,
		eventRepo:      eventRepo,
		aggRepo:        aggRepo,
		limitRepo:      limitRepo,
		assignmentRepo: assignmentRepo,
		overageRepo:    overageRepo,
		reporter:       reporter,
		logger:         logger,
	}
}

// SyncBillingPeriod reports unreported usage for the period, grouped by
// (meter, customer). The reported marker is persisted before the external
// call: a crash in between under-reports once instead of double-billing on
// retry. Failures are isolated per group and collected in the result.
func (s *SyncService) SyncBillingPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) (*SyncResult, error) {
	if err := metering.ValidateBillingPeriod(billingPeriod); err != nil {
		return nil, err
	}

	meters, err := s.meterRepo.List(ctx, tenantID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", err)
	}

	result := &SyncResult{BillingPeriod: billingPeriod, Errors: []SyncError{}}

	for _, meter := range meters {
		if meter.BillingModel == metering.BillingModelLicensed {
			continue
		}
		if meter.StripeMeterID == "" {
			continue
		}

		users, err := s.eventRepo.ListPeriodUsers(ctx, tenantID, meter.ID, billingPeriod)
		if err != nil {
			return nil, fmt.Errorf("failed to list users for meter %s: %w", meter.EventName, err)
		}

		for _, userID := range users {
			synced, err := s.syncGroup(ctx, tenantID, meter, userID, billingPeriod)
			if err != nil {
				result.Errors = append(result.Errors, SyncError{
					MeterID:    meter.ID,
					EventName:  meter.EventName,
					CustomerID: userID,
					Message:    err.Error(),
				})
				continue
			}
			if synced {
				result.Synced++
			} else {
				result.Skipped++
			}
		}
	}

	s.logger.Info("billing period synced",
		zap.String("tenant_id", tenantID.String()),
		zap.String("billing_period", billingPeriod),
		zap.Int("synced", result.Synced),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// syncGroup reports the unreported usage of one (meter, customer) pair.
// Returns false when everything was already reported.
func (s *SyncService) syncGroup(ctx context.Context, tenantID uuid.UUID, meter *metering.UsageMeter, userID, billingPeriod string) (bool, error) {
	events, err := s.eventRepo.List(ctx, tenantID, metering.EventFilter{
		MeterID:        &meter.ID,
		UserID:         userID,
		BillingPeriod:  billingPeriod,
		OnlyUnreported: true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to list unreported events: %w", err)
	}
	if len(events) == 0 {
		return false, nil
	}

	value := metering.FoldEvents(meter, userID, billingPeriod, events).AggregateValue

	now := time.Now()
	eventIDs := make([]uuid.UUID, len(events))
	for i, e := range events {
		eventIDs[i] = e.ID
	}
	if err := s.eventRepo.MarkReported(ctx, tenantID, eventIDs, now); err != nil {
		return false, fmt.Errorf("failed to mark events reported: %w", err)
	}

	input := ReportUsageInput{
		StripeMeterID:  meter.StripeMeterID,
		EventName:      meter.EventName,
		CustomerID:     userID,
		Value:          value,
		Timestamp:      now,
		IdempotencyKey: batchIdempotencyKey(tenantID, meter.ID, userID, billingPeriod, eventIDs),
	}
	if err := s.reporter.ReportMeterEvent(ctx, input); err != nil {
		return false, fmt.Errorf("%s: %s", shared.ErrExternalService.Code, err.Error())
	}

	return true, nil
}

// batchIdempotencyKey identifies one reported batch. A period syncs many
// times and each run picks up only the events tracked since the last one,
// so the key must change between batches; deriving it from the sorted event
// IDs keeps it stable for a given set of events while staying unique across
// batches within the same period.
func batchIdempotencyKey(tenantID, meterID uuid.UUID, userID, billingPeriod string, eventIDs []uuid.UUID) string {
	ids := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		ids[i] = id.String()
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
	}
	return fmt.Sprintf("%s:%s:%s:%s:%x", tenantID, meterID, userID, billingPeriod, h.Sum(nil)[:8])
}

// CreateMeterBasedPrice provisions the external billing meter (once) and a
// metered recurring price for it, recording both IDs on the meter.
func (s *SyncService) CreateMeterBasedPrice(ctx context.Context, tenantID, meterID uuid.UUID, input CreatePriceInput) (*metering.UsageMeter, error) {
	meter, err := s.meterRepo.FindByID(ctx, tenantID, meterID)
	if err != nil {
		return nil, err
	}
	if input.UnitAmount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_UNIT_AMOUNT", "Unit amount cannot be negative")
	}

	if meter.StripeMeterID == "" {
		stripeMeterID, err := s.reporter.CreateBillingMeter(ctx, meter.EventName, meter.DisplayName)
		if err != nil {
			return nil, shared.NewDomainError(shared.ErrExternalService.Code,
				"Failed to create billing meter: "+err.Error())
		}
		meter.AttachStripeMeter(stripeMeterID)
	}

	priceID, err := s.reporter.CreateMeteredPrice(ctx, meter.StripeMeterID, input)
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrExternalService.Code,
			"Failed to create metered price: "+err.Error())
	}
	meter.AttachStripePrice(priceID)

	if err := s.meterRepo.Update(ctx, meter); err != nil {
		return nil, fmt.Errorf("failed to update meter: %w", err)
	}

	s.logger.Info("meter-based price created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("meter_id", meter.ID.String()),
		zap.String("stripe_meter_id", meter.StripeMeterID),
		zap.String("stripe_price_id", meter.StripePriceID))

	return meter, nil
}

// SettleOverages computes overage records for every aggregate in the period
// whose customer plan sets a limit. Cost is max(0, usage-limit) times the
// overage price; limits without a price produce informational records.
func (s *SyncService) SettleOverages(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*tiers.TierUsageOverage, error) {
	if err := metering.ValidateBillingPeriod(billingPeriod); err != nil {
		return nil, err
	}

	aggregates, err := s.aggRepo.ListByPeriod(ctx, tenantID, billingPeriod)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}

	var overages []*tiers.TierUsageOverage
	for _, agg := range aggregates {
		assignment, err := s.assignmentRepo.FindActiveByCustomer(ctx, tenantID, agg.UserID)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve customer plan: %w", err)
		}

		limit, err := s.limitRepo.FindByMeterAndPlan(ctx, tenantID, agg.MeterID, assignment.PlanName)
		if errors.Is(err, shared.ErrNotFound) || (err == nil && limit.IsUnlimited()) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load plan limit: %w", err)
		}

		usage := int64(agg.AggregateValue)
		if usage <= *limit.LimitValue {
			continue
		}

		overage, err := tiers.NewTierUsageOverage(tenantID, agg.MeterID, agg.UserID, assignment.PlanName, billingPeriod, usage, *limit.LimitValue, limit.OveragePrice)
		if err != nil {
			return nil, err
		}
		if err := s.overageRepo.Upsert(ctx, overage); err != nil {
			return nil, fmt.Errorf("failed to upsert overage: %w", err)
		}
		overages = append(overages, overage)
	}

	s.logger.Info("overages settled",
		zap.String("tenant_id", tenantID.String()),
		zap.String("billing_period", billingPeriod),
		zap.Int("count", len(overages)))

	return overages, nil
}

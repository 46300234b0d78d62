package metering

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
)

// CreateMeterInput contains input for registering a usage meter
type CreateMeterInput struct {
	EventName    string
	DisplayName  string
	Description  string
	Aggregation  string
	UnitName     string
	BillingModel string
}

// PlanLimitInput defines one plan's limit for a meter
type PlanLimitInput struct {
	PlanName           string
	LimitValue         *int64
	OveragePrice       *decimal.Decimal
	SoftLimitThreshold float64
	HardCap            bool
}

// MeterService manages the meter registry
type MeterService struct {
	meterRepo metering.MeterRepository
	limitRepo metering.PlanLimitRepository
	logger    *zap.Logger
}

// NewMeterService creates a new meter service
func NewMeterService(meterRepo metering.MeterRepository, limitRepo metering.PlanLimitRepository, logger *zap.Logger) *MeterService {
	return &MeterService{
		meterRepo: meterRepo,
		limitRepo: limitRepo,
		logger:    logger,
	}
}

// CreateMeter registers a new usage meter. The event name must be unique
// within the tenant.
func (s *MeterService) CreateMeter(ctx context.Context, tenantID uuid.UUID, input CreateMeterInput) (*metering.UsageMeter, error) {
	aggregation, err := metering.ParseAggregationType(input.Aggregation)
	if err != nil {
		return nil, err
	}

	existing, err := s.meterRepo.FindByEventName(ctx, tenantID, input.EventName)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("failed to check meter uniqueness: %w", err)
	}
	if existing != nil {
		return nil, shared.NewDomainError("METER_ALREADY_EXISTS",
			"A meter already exists for event name: "+input.EventName)
	}

	meter, err := metering.NewUsageMeter(tenantID, input.EventName, input.DisplayName, aggregation, metering.BillingModel(input.BillingModel))
	if err != nil {
		return nil, err
	}
	meter.Description = input.Description
	meter.UnitName = input.UnitName

	if err := s.meterRepo.Save(ctx, meter); err != nil {
		return nil, fmt.Errorf("failed to save meter: %w", err)
	}

	s.logger.Info("usage meter created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("meter_id", meter.ID.String()),
		zap.String("event_name", meter.EventName),
		zap.String("aggregation", string(meter.Aggregation)))

	return meter, nil
}

// CreatePlanLimits attaches per-plan limits to a meter, replacing none:
// each (meter, plan) pair may be configured once.
func (s *MeterService) CreatePlanLimits(ctx context.Context, tenantID, meterID uuid.UUID, inputs []PlanLimitInput) ([]*metering.MeterPlanLimit, error) {
	meter, err := s.meterRepo.FindByID(ctx, tenantID, meterID)
	if err != nil {
		return nil, err
	}

	limits := make([]*metering.MeterPlanLimit, 0, len(inputs))
	for _, input := range inputs {
		limit, err := metering.NewMeterPlanLimit(tenantID, meter.ID, input.PlanName, input.LimitValue, input.SoftLimitThreshold, input.HardCap)
		if err != nil {
			return nil, err
		}
		if input.OveragePrice != nil {
			if err := limit.SetOveragePrice(*input.OveragePrice); err != nil {
				return nil, err
			}
		}
		limits = append(limits, limit)
	}

	if err := s.limitRepo.SaveAll(ctx, limits); err != nil {
		return nil, fmt.Errorf("failed to save plan limits: %w", err)
	}

	s.logger.Info("plan limits created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("meter_id", meterID.String()),
		zap.Int("count", len(limits)))

	return limits, nil
}

// GetMeter returns a meter by ID
func (s *MeterService) GetMeter(ctx context.Context, tenantID, meterID uuid.UUID) (*metering.UsageMeter, error) {
	return s.meterRepo.FindByID(ctx, tenantID, meterID)
}

// ListMeters returns the tenant's meters
func (s *MeterService) ListMeters(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*metering.UsageMeter, error) {
	return s.meterRepo.List(ctx, tenantID, activeOnly)
}

// ListPlanLimits returns the configured limits for a meter
func (s *MeterService) ListPlanLimits(ctx context.Context, tenantID, meterID uuid.UUID) ([]*metering.MeterPlanLimit, error) {
	return s.limitRepo.ListByMeter(ctx, tenantID, meterID)
}

// DeactivateMeter stops a meter from accepting events
func (s *MeterService) DeactivateMeter(ctx context.Context, tenantID, meterID uuid.UUID) (*metering.UsageMeter, error) {
	meter, err := s.meterRepo.FindByID(ctx, tenantID, meterID)
	if err != nil {
		return nil, err
	}
	if err := meter.Deactivate(); err != nil {
		return nil, err
	}
	if err := s.meterRepo.Update(ctx, meter); err != nil {
		return nil, fmt.Errorf("failed to update meter: %w", err)
	}

	s.logger.Info("usage meter deactivated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("meter_id", meterID.String()))

	return meter, nil
}

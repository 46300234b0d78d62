package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MeterRepository defines persistence for usage meters
type MeterRepository interface {
	Save(ctx context.Context, meter *UsageMeter) error
	Update(ctx context.Context, meter *UsageMeter) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*UsageMeter, error)
	FindByEventName(ctx context.Context, tenantID uuid.UUID, eventName string) (*UsageMeter, error)
	List(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*UsageMeter, error)
}

// PlanLimitRepository defines persistence for meter plan limits
type PlanLimitRepository interface {
	Save(ctx context.Context, limit *MeterPlanLimit) error
	SaveAll(ctx context.Context, limits []*MeterPlanLimit) error
	FindByMeterAndPlan(ctx context.Context, tenantID, meterID uuid.UUID, planName string) (*MeterPlanLimit, error)
	ListByMeter(ctx context.Context, tenantID, meterID uuid.UUID) ([]*MeterPlanLimit, error)
}

// EventFilter narrows usage event queries
type EventFilter struct {
	MeterID        *uuid.UUID
	UserID         string
	BillingPeriod  string
	From           *time.Time
	To             *time.Time
	OnlyUnreported bool
	Limit          int
	Offset         int
}

// UsageEventRepository defines persistence for the append-only event log
type UsageEventRepository interface {
	Save(ctx context.Context, event *UsageEvent) error
	FindByID(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (*UsageEvent, error)
	List(ctx context.Context, tenantID uuid.UUID, filter EventFilter) ([]*UsageEvent, error)
	ListPeriodUsers(ctx context.Context, tenantID, meterID uuid.UUID, billingPeriod string) ([]string, error)
	MarkReported(ctx context.Context, tenantID uuid.UUID, eventIDs []uuid.UUID, at time.Time) error
}

// UsageAggregateRepository defines persistence for materialized rollups.
// Replace overwrites the aggregate for (meter, user, period) atomically.
type UsageAggregateRepository interface {
	Replace(ctx context.Context, aggregate *UsageAggregate) error
	Find(ctx context.Context, tenantID, meterID uuid.UUID, userID, billingPeriod string) (*UsageAggregate, error)
	ListByPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*UsageAggregate, error)
	ListByUser(ctx context.Context, tenantID uuid.UUID, userID, billingPeriod string) ([]*UsageAggregate, error)
}

// AlertRepository defines persistence for usage alerts
type AlertRepository interface {
	Save(ctx context.Context, alert *UsageAlert) error
	Update(ctx context.Context, alert *UsageAlert) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*UsageAlert, error)
	FindUnacknowledged(ctx context.Context, tenantID, meterID uuid.UUID, userID string, alertType AlertType) (*UsageAlert, error)
	ListUnacknowledged(ctx context.Context, tenantID uuid.UUID) ([]*UsageAlert, error)
}

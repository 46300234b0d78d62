package metering

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

type fakeMeterRepo struct {
	meters map[uuid.UUID]*metering.UsageMeter
}

func newFakeMeterRepo() *fakeMeterRepo {
	return &fakeMeterRepo{meters: map[uuid.UUID]*metering.UsageMeter{}}
}

func (r *fakeMeterRepo) Save(_ context.Context, meter *metering.UsageMeter) error {
	r.meters[meter.ID] = meter
	return nil
}

func (r *fakeMeterRepo) Update(_ context.Context, meter *metering.UsageMeter) error {
	r.meters[meter.ID] = meter
	return nil
}

func (r *fakeMeterRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*metering.UsageMeter, error) {
	if m, ok := r.meters[id]; ok && m.TenantID == tenantID {
		return m, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakeMeterRepo) FindByEventName(_ context.Context, tenantID uuid.UUID, eventName string) (*metering.UsageMeter, error) {
	for _, m := range r.meters {
		if m.TenantID == tenantID && m.EventName == eventName {
			return m, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeMeterRepo) List(_ context.Context, tenantID uuid.UUID, activeOnly bool) ([]*metering.UsageMeter, error) {
	var out []*metering.UsageMeter
	for _, m := range r.meters {
		if m.TenantID == tenantID && (!activeOnly || m.Active) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeLimitRepo struct {
	limits []*metering.MeterPlanLimit
}

func (r *fakeLimitRepo) Save(_ context.Context, limit *metering.MeterPlanLimit) error {
	r.limits = append(r.limits, limit)
	return nil
}

func (r *fakeLimitRepo) SaveAll(_ context.Context, limits []*metering.MeterPlanLimit) error {
	r.limits = append(r.limits, limits...)
	return nil
}

func (r *fakeLimitRepo) FindByMeterAndPlan(_ context.Context, tenantID, meterID uuid.UUID, planName string) (*metering.MeterPlanLimit, error) {
	for _, l := range r.limits {
		if l.TenantID == tenantID && l.MeterID == meterID && l.PlanName == planName {
			return l, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeLimitRepo) ListByMeter(_ context.Context, tenantID, meterID uuid.UUID) ([]*metering.MeterPlanLimit, error) {
	var out []*metering.MeterPlanLimit
	for _, l := range r.limits {
		if l.TenantID == tenantID && l.MeterID == meterID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeEventRepo struct {
	events []*metering.UsageEvent
}

func (r *fakeEventRepo) Save(_ context.Context, event *metering.UsageEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *fakeEventRepo) FindByID(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (*metering.UsageEvent, error) {
	for _, e := range r.events {
		if e.TenantID == tenantID && e.ID == id {
			return e, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeEventRepo) List(_ context.Context, tenantID uuid.UUID, filter metering.EventFilter) ([]*metering.UsageEvent, error) {
	var out []*metering.UsageEvent
	for _, e := range r.events {
		if e.TenantID != tenantID {
			continue
		}
		if filter.MeterID != nil && e.MeterID != *filter.MeterID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.BillingPeriod != "" && e.BillingPeriod() != filter.BillingPeriod {
			continue
		}
		if filter.OnlyUnreported && e.Reported {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeEventRepo) ListPeriodUsers(_ context.Context, tenantID, meterID uuid.UUID, billingPeriod string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range r.events {
		if e.TenantID != tenantID || e.MeterID != meterID || e.BillingPeriod() != billingPeriod {
			continue
		}
		if _, ok := seen[e.UserID]; !ok {
			seen[e.UserID] = struct{}{}
			out = append(out, e.UserID)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) MarkReported(_ context.Context, tenantID uuid.UUID, eventIDs []uuid.UUID, at time.Time) error {
	ids := map[uuid.UUID]struct{}{}
	for _, id := range eventIDs {
		ids[id] = struct{}{}
	}
	for _, e := range r.events {
		if _, ok := ids[e.ID]; ok && e.TenantID == tenantID {
			e.MarkReported(at)
		}
	}
	return nil
}

type aggKey struct {
	tenant uuid.UUID
	meter  uuid.UUID
	user   string
	period string
}

type fakeAggRepo struct {
	aggregates map[aggKey]*metering.UsageAggregate
}

func newFakeAggRepo() *fakeAggRepo {
	return &fakeAggRepo{aggregates: map[aggKey]*metering.UsageAggregate{}}
}

func (r *fakeAggRepo) Replace(_ context.Context, a *metering.UsageAggregate) error {
	r.aggregates[aggKey{a.TenantID, a.MeterID, a.UserID, a.BillingPeriod}] = a
	return nil
}

func (r *fakeAggRepo) Find(_ context.Context, tenantID, meterID uuid.UUID, userID, billingPeriod string) (*metering.UsageAggregate, error) {
	if a, ok := r.aggregates[aggKey{tenantID, meterID, userID, billingPeriod}]; ok {
		return a, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakeAggRepo) ListByPeriod(_ context.Context, tenantID uuid.UUID, billingPeriod string) ([]*metering.UsageAggregate, error) {
	var out []*metering.UsageAggregate
	for k, a := range r.aggregates {
		if k.tenant == tenantID && k.period == billingPeriod {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAggRepo) ListByUser(_ context.Context, tenantID uuid.UUID, userID, billingPeriod string) ([]*metering.UsageAggregate, error) {
	var out []*metering.UsageAggregate
	for k, a := range r.aggregates {
		if k.tenant == tenantID && k.user == userID && k.period == billingPeriod {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeAlertRepo struct {
	alerts []*metering.UsageAlert
}

func (r *fakeAlertRepo) Save(_ context.Context, alert *metering.UsageAlert) error {
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *fakeAlertRepo) Update(_ context.Context, alert *metering.UsageAlert) error {
	for i, a := range r.alerts {
		if a.ID == alert.ID {
			r.alerts[i] = alert
		}
	}
	return nil
}

func (r *fakeAlertRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*metering.UsageAlert, error) {
	for _, a := range r.alerts {
		if a.TenantID == tenantID && a.ID == id {
			return a, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeAlertRepo) FindUnacknowledged(_ context.Context, tenantID, meterID uuid.UUID, userID string, alertType metering.AlertType) (*metering.UsageAlert, error) {
	for _, a := range r.alerts {
		if a.TenantID == tenantID && a.MeterID == meterID && a.UserID == userID && a.AlertType == alertType && !a.Acknowledged {
			return a, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeAlertRepo) ListUnacknowledged(_ context.Context, tenantID uuid.UUID) ([]*metering.UsageAlert, error) {
	var out []*metering.UsageAlert
	for _, a := range r.alerts {
		if a.TenantID == tenantID && !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeAssignmentRepo struct {
	assignments []*tiers.CustomerTierAssignment
}

func (r *fakeAssignmentRepo) Save(_ context.Context, a *tiers.CustomerTierAssignment) error {
	r.assignments = append(r.assignments, a)
	return nil
}

func (r *fakeAssignmentRepo) Update(_ context.Context, a *tiers.CustomerTierAssignment) error {
	return nil
}

func (r *fakeAssignmentRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*tiers.CustomerTierAssignment, error) {
	for _, a := range r.assignments {
		if a.TenantID == tenantID && a.ID == id {
			return a, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeAssignmentRepo) FindActiveByCustomer(_ context.Context, tenantID uuid.UUID, customerID string) (*tiers.CustomerTierAssignment, error) {
	for _, a := range r.assignments {
		if a.TenantID == tenantID && a.CustomerID == customerID && a.IsUsable() {
			return a, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeAssignmentRepo) ListByTier(_ context.Context, tenantID, tierID uuid.UUID) ([]*tiers.CustomerTierAssignment, error) {
	var out []*tiers.CustomerTierAssignment
	for _, a := range r.assignments {
		if a.TenantID == tenantID && a.TierID == tierID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAssignmentRepo) CountByTier(ctx context.Context, tenantID, tierID uuid.UUID) (int64, error) {
	list, _ := r.ListByTier(ctx, tenantID, tierID)
	return int64(len(list)), nil
}

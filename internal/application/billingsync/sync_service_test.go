package billingsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

type memMeterRepo struct{ meters []*metering.UsageMeter }

func (r *memMeterRepo) Save(_ context.Context, m *metering.UsageMeter) error {
	r.meters = append(r.meters, m)
	return nil
}
func (r *memMeterRepo) Update(_ context.Context, m *metering.UsageMeter) error { return nil }
func (r *memMeterRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*metering.UsageMeter, error) {
	for _, m := range r.meters {
		if m.TenantID == tenantID && m.ID == id {
			return m, nil
		}
	}
	return nil, shared.ErrNotFound
}
func (r *memMeterRepo) FindByEventName(_ context.Context, tenantID uuid.UUID, name string) (*metering.UsageMeter, error) {
	for _, m := range r.meters {
		if m.TenantID == tenantID && m.EventName == name {
			return m, nil
		}
	}
	return nil, shared.ErrNotFound
}
func (r *memMeterRepo) List(_ context.Context, tenantID uuid.UUID, activeOnly bool) ([]*metering.UsageMeter, error) {
	var out []*metering.UsageMeter
	for _, m := range r.meters {
		if m.TenantID == tenantID && (!activeOnly || m.Active) {
			out = append(out, m)
		}
	}
	return out, nil
}

type memEventRepo struct{ events []*metering.UsageEvent }

func (r *memEventRepo) Save(_ context.Context, e *metering.UsageEvent) error {
	r.events = append(r.events, e)
	return nil
}
func (r *memEventRepo) FindByID(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (*metering.UsageEvent, error) {
	return nil, shared.ErrNotFound
}
func (r *memEventRepo) List(_ context.Context, tenantID uuid.UUID, f metering.EventFilter) ([]*metering.UsageEvent, error) {
	var out []*metering.UsageEvent
	for _, e := range r.events {
		if e.TenantID != tenantID {
			continue
		}
		if f.MeterID != nil && e.MeterID != *f.MeterID {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.BillingPeriod != "" && e.BillingPeriod() != f.BillingPeriod {
			continue
		}
		if f.OnlyUnreported && e.Reported {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
func (r *memEventRepo) ListPeriodUsers(_ context.Context, tenantID, meterID uuid.UUID, period string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range r.events {
		if e.TenantID == tenantID && e.MeterID == meterID && e.BillingPeriod() == period {
			if _, ok := seen[e.UserID]; !ok {
				seen[e.UserID] = struct{}{}
				out = append(out, e.UserID)
			}
		}
	}
	return out, nil
}
func (r *memEventRepo) MarkReported(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID, at time.Time) error {
	set := map[uuid.UUID]struct{}{}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for _, e := range r.events {
		if _, ok := set[e.ID]; ok && e.TenantID == tenantID {
			e.MarkReported(at)
		}
	}
	return nil
}

type memAggRepo struct{ aggregates []*metering.UsageAggregate }

func (r *memAggRepo) Replace(_ context.Context, a *metering.UsageAggregate) error {
	r.aggregates = append(r.aggregates, a)
	return nil
}
func (r *memAggRepo) Find(_ context.Context, tenantID, meterID uuid.UUID, userID, period string) (*metering.UsageAggregate, error) {
	return nil, shared.ErrNotFound
}
func (r *memAggRepo) ListByPeriod(_ context.Context, tenantID uuid.UUID, period string) ([]*metering.UsageAggregate, error) {
	var out []*metering.UsageAggregate
	for _, a := range r.aggregates {
		if a.TenantID == tenantID && a.BillingPeriod == period {
			out = append(out, a)
		}
	}
	return out, nil
}
func (r *memAggRepo) ListByUser(_ context.Context, tenantID uuid.UUID, userID, period string) ([]*metering.UsageAggregate, error) {
	return nil, nil
}

type memLimitRepo struct{ limits []*metering.MeterPlanLimit }

func (r *memLimitRepo) Save(_ context.Context, l *metering.MeterPlanLimit) error {
	r.limits = append(r.limits, l)
	return nil
}
func (r *memLimitRepo) SaveAll(_ context.Context, ls []*metering.MeterPlanLimit) error {
	r.limits = append(r.limits, ls...)
	return nil
}
func (r *memLimitRepo) FindByMeterAndPlan(_ context.Context, tenantID, meterID uuid.UUID, plan string) (*metering.MeterPlanLimit, error) {
	for _, l := range r.limits {
		if l.TenantID == tenantID && l.MeterID == meterID && l.PlanName == plan {
			return l, nil
		}
	}
	return nil, shared.ErrNotFound
}
func (r *memLimitRepo) ListByMeter(_ context.Context, tenantID, meterID uuid.UUID) ([]*metering.MeterPlanLimit, error) {
	return nil, nil
}

type memAssignmentRepo struct{ assignments []*tiers.CustomerTierAssignment }

func (r *memAssignmentRepo) Save(_ context.Context, a *tiers.CustomerTierAssignment) error {
	r.assignments = append(r.assignments, a)
	return nil
}
func (r *memAssignmentRepo) Update(_ context.Context, a *tiers.CustomerTierAssignment) error {
	return nil
}
func (r *memAssignmentRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*tiers.CustomerTierAssignment, error) {
	return nil, shared.ErrNotFound
}
func (r *memAssignmentRepo) FindActiveByCustomer(_ context.Context, tenantID uuid.UUID, customerID string) (*tiers.CustomerTierAssignment, error) {
	for _, a := range r.assignments {
		if a.TenantID == tenantID && a.CustomerID == customerID && a.IsUsable() {
			return a, nil
		}
	}
	return nil, shared.ErrNotFound
}
func (r *memAssignmentRepo) ListByTier(_ context.Context, tenantID, tierID uuid.UUID) ([]*tiers.CustomerTierAssignment, error) {
	return nil, nil
}
func (r *memAssignmentRepo) CountByTier(_ context.Context, tenantID, tierID uuid.UUID) (int64, error) {
	return 0, nil
}

type memOverageRepo struct{ overages []*tiers.TierUsageOverage }

func (r *memOverageRepo) Upsert(_ context.Context, o *tiers.TierUsageOverage) error {
	r.overages = append(r.overages, o)
	return nil
}
func (r *memOverageRepo) Update(_ context.Context, o *tiers.TierUsageOverage) error { return nil }
func (r *memOverageRepo) ListByPeriod(_ context.Context, tenantID uuid.UUID, period string) ([]*tiers.TierUsageOverage, error) {
	return r.overages, nil
}
func (r *memOverageRepo) ListUnbilled(_ context.Context, tenantID uuid.UUID, period string) ([]*tiers.TierUsageOverage, error) {
	return nil, nil
}

// fakeReporter records reports and fails for customers listed in failFor
type fakeReporter struct {
	reports    []ReportUsageInput
	failFor    map[string]bool
	meterCalls int
	priceCalls int
	failMeter  bool
	failPrice  bool
}

func (f *fakeReporter) CreateBillingMeter(_ context.Context, eventName, displayName string) (string, error) {
	f.meterCalls++
	if f.failMeter {
		return "", errors.New("provider unavailable")
	}
	return "mtr_" + eventName, nil
}

func (f *fakeReporter) CreateMeteredPrice(_ context.Context, stripeMeterID string, input CreatePriceInput) (string, error) {
	f.priceCalls++
	if f.failPrice {
		return "", errors.New("invalid currency")
	}
	return "price_" + stripeMeterID, nil
}

func (f *fakeReporter) ReportMeterEvent(_ context.Context, input ReportUsageInput) error {
	if f.failFor[input.CustomerID] {
		return errors.New("rate limited")
	}
	f.reports = append(f.reports, input)
	return nil
}

type syncFixture struct {
	tenantID uuid.UUID
	meters   *memMeterRepo
	events   *memEventRepo
	aggs     *memAggRepo
	limits   *memLimitRepo
	assigned *memAssignmentRepo
	overages *memOverageRepo
	reporter *fakeReporter
	service  *SyncService
	period   string
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	f := &syncFixture{
		tenantID: uuid.New(),
		meters:   &memMeterRepo{},
		events:   &memEventRepo{},
		aggs:     &memAggRepo{},
		limits:   &memLimitRepo{},
		assigned: &memAssignmentRepo{},
		overages: &memOverageRepo{},
		reporter: &fakeReporter{failFor: map[string]bool{}},
		period:   metering.CurrentBillingPeriod(),
	}
	f.service = NewSyncService(f.meters, f.events, f.aggs, f.limits, f.assigned, f.overages, f.reporter, zap.NewNop())
	return f
}

func (f *syncFixture) addMeter(t *testing.T, eventName string, withStripe bool) *metering.UsageMeter {
	t.Helper()
	meter, err := metering.NewUsageMeter(f.tenantID, eventName, "", metering.AggregationSum, metering.BillingModelMetered)
	require.NoError(t, err)
	if withStripe {
		meter.AttachStripeMeter("mtr_" + eventName)
	}
	require.NoError(t, f.meters.Save(context.Background(), meter))
	return meter
}

func (f *syncFixture) addEvent(t *testing.T, meter *metering.UsageMeter, userID string, value float64) *metering.UsageEvent {
	t.Helper()
	event, err := metering.NewUsageEvent(meter, userID, value, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.events.Save(context.Background(), event))
	return event
}

func TestSyncService_SyncBillingPeriod(t *testing.T) {
	t.Run("groups by meter and customer", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		f.addEvent(t, meter, "cus-1", 3)
		f.addEvent(t, meter, "cus-1", 5)
		f.addEvent(t, meter, "cus-2", 2)

		result, err := f.service.SyncBillingPeriod(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Synced)
		assert.Empty(t, result.Errors)

		require.Len(t, f.reporter.reports, 2)
		byCustomer := map[string]float64{}
		for _, r := range f.reporter.reports {
			byCustomer[r.CustomerID] = r.Value
		}
		assert.Equal(t, 8.0, byCustomer["cus-1"])
		assert.Equal(t, 2.0, byCustomer["cus-2"])
	})

	t.Run("already reported events are skipped on retry", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		f.addEvent(t, meter, "cus-1", 3)

		first, err := f.service.SyncBillingPeriod(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Synced)

		second, err := f.service.SyncBillingPeriod(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Zero(t, second.Synced)
		assert.Equal(t, 1, second.Skipped)
		assert.Len(t, f.reporter.reports, 1)
	})

	t.Run("each batch in a period carries its own idempotency key", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		f.addEvent(t, meter, "cus-1", 3)

		_, err := f.service.SyncBillingPeriod(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)

		// usage tracked after the first sync is a new batch; reusing the
		// first key would make the provider dedupe the second report away
		f.addEvent(t, meter, "cus-1", 4)
		_, err = f.service.SyncBillingPeriod(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)

		require.Len(t, f.reporter.reports, 2)
		assert.NotEmpty(t, f.reporter.reports[0].IdempotencyKey)
		assert.NotEmpty(t, f.reporter.reports[1].IdempotencyKey)
		assert.NotEqual(t, f.reporter.reports[0].IdempotencyKey, f.reporter.reports[1].IdempotencyKey)
	})

	t.Run("idempotency key is stable for the same event set", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		a := f.addEvent(t, meter, "cus-1", 3)
		b := f.addEvent(t, meter, "cus-1", 5)

		forward := batchIdempotencyKey(f.tenantID, meter.ID, "cus-1", f.period, []uuid.UUID{a.ID, b.ID})
		reverse := batchIdempotencyKey(f.tenantID, meter.ID, "cus-1", f.period, []uuid.UUID{b.ID, a.ID})
		assert.Equal(t, forward, reverse)
	})

	t.Run("reported marker is written before the external call", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		event := f.addEvent(t, meter, "cus-1", 3)
		f.reporter.failFor["cus-1"] = true

		result, err := f.service.SyncBillingPeriod(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Zero(t, result.Synced)
		require.Len(t, result.Errors, 1)

		// the event stays marked: retries must not risk double-billing
		assert.True(t, event.Reported)
	})

	t.Run("one failing customer does not abort the batch", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		f.addEvent(t, meter, "cus-ok", 1)
		f.addEvent(t, meter, "cus-bad", 1)
		f.addEvent(t, meter, "cus-ok-2", 1)
		f.reporter.failFor["cus-bad"] = true

		result, err := f.service.SyncBillingPeriod(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Synced)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "cus-bad", result.Errors[0].CustomerID)
		assert.Contains(t, result.Errors[0].Message, "rate limited")
	})

	t.Run("meters without a provider meter are skipped", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", false)
		f.addEvent(t, meter, "cus-1", 3)

		result, err := f.service.SyncBillingPeriod(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Zero(t, result.Synced)
		assert.Empty(t, f.reporter.reports)
	})

	t.Run("invalid period rejected", func(t *testing.T) {
		f := newSyncFixture(t)
		_, err := f.service.SyncBillingPeriod(context.Background(), f.tenantID, "2026/08")
		assert.Error(t, err)
	})
}

func TestSyncService_CreateMeterBasedPrice(t *testing.T) {
	input := CreatePriceInput{ProductName: "API", UnitAmount: decimal.NewFromFloat(0.01), Currency: "usd", Interval: "month"}

	t.Run("provisions meter then price", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", false)

		updated, err := f.service.CreateMeterBasedPrice(context.Background(), f.tenantID, meter.ID, input)
		require.NoError(t, err)
		assert.Equal(t, "mtr_api_call", updated.StripeMeterID)
		assert.Equal(t, "price_mtr_api_call", updated.StripePriceID)
	})

	t.Run("existing provider meter is reused", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)

		_, err := f.service.CreateMeterBasedPrice(context.Background(), f.tenantID, meter.ID, input)
		require.NoError(t, err)
		assert.Zero(t, f.reporter.meterCalls)
		assert.Equal(t, 1, f.reporter.priceCalls)
	})

	t.Run("provider rejection surfaces as external service error", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", false)
		f.reporter.failPrice = true

		_, err := f.service.CreateMeterBasedPrice(context.Background(), f.tenantID, meter.ID, input)
		require.Error(t, err)
		domainErr, ok := err.(*shared.DomainError)
		require.True(t, ok)
		assert.Equal(t, shared.ErrExternalService.Code, domainErr.Code)
	})

	t.Run("negative unit amount rejected", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", false)
		_, err := f.service.CreateMeterBasedPrice(context.Background(), f.tenantID, meter.ID, CreatePriceInput{UnitAmount: decimal.NewFromInt(-1)})
		assert.Error(t, err)
	})
}

func TestSyncService_SettleOverages(t *testing.T) {
	subscribe := func(t *testing.T, f *syncFixture, customerID string) {
		t.Helper()
		tier, err := tiers.NewSubscriptionTier(f.tenantID, "pro", decimal.NewFromInt(29), "usd", tiers.BillingIntervalMonthly)
		require.NoError(t, err)
		require.NoError(t, tier.Activate())
		assignment, err := tiers.NewCustomerTierAssignment(tier, customerID, time.Now(), time.Now().AddDate(0, 1, 0))
		require.NoError(t, err)
		require.NoError(t, f.assigned.Save(context.Background(), assignment))
	}

	addAggregate := func(t *testing.T, f *syncFixture, meter *metering.UsageMeter, userID string, value float64) {
		t.Helper()
		event, err := metering.NewUsageEvent(meter, userID, value, nil, time.Now())
		require.NoError(t, err)
		agg := metering.FoldEvents(meter, userID, f.period, []*metering.UsageEvent{event})
		require.NoError(t, f.aggs.Replace(context.Background(), agg))
	}

	setLimit := func(t *testing.T, f *syncFixture, meter *metering.UsageMeter, limit int64, price *decimal.Decimal) {
		t.Helper()
		l, err := metering.NewMeterPlanLimit(f.tenantID, meter.ID, "pro", &limit, 0.8, false)
		require.NoError(t, err)
		if price != nil {
			require.NoError(t, l.SetOveragePrice(*price))
		}
		require.NoError(t, f.limits.Save(context.Background(), l))
	}

	t.Run("priced overage produces a billable record", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		subscribe(t, f, "cus-1")
		price := decimal.NewFromFloat(0.05)
		setLimit(t, f, meter, 100, &price)
		addAggregate(t, f, meter, "cus-1", 120)

		overages, err := f.service.SettleOverages(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		require.Len(t, overages, 1)
		assert.Equal(t, int64(20), overages[0].OverageAmount)
		require.NotNil(t, overages[0].OverageCost)
		assert.True(t, overages[0].OverageCost.Equal(decimal.NewFromFloat(1.00)))
		assert.True(t, overages[0].IsBillable())
	})

	t.Run("unpriced overage is informational", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		subscribe(t, f, "cus-1")
		setLimit(t, f, meter, 100, nil)
		addAggregate(t, f, meter, "cus-1", 120)

		overages, err := f.service.SettleOverages(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		require.Len(t, overages, 1)
		assert.Nil(t, overages[0].OverageCost)
		assert.False(t, overages[0].IsBillable())
	})

	t.Run("usage under limit produces nothing", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		subscribe(t, f, "cus-1")
		price := decimal.NewFromFloat(0.05)
		setLimit(t, f, meter, 100, &price)
		addAggregate(t, f, meter, "cus-1", 80)

		overages, err := f.service.SettleOverages(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Empty(t, overages)
	})

	t.Run("customers without assignments are skipped", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		price := decimal.NewFromFloat(0.05)
		setLimit(t, f, meter, 100, &price)
		addAggregate(t, f, meter, "cus-1", 500)

		overages, err := f.service.SettleOverages(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Empty(t, overages)
	})

	t.Run("wrapped not-found from the assignment lookup reads as absence", func(t *testing.T) {
		f := newSyncFixture(t)
		meter := f.addMeter(t, "api_call", true)
		price := decimal.NewFromFloat(0.05)
		setLimit(t, f, meter, 100, &price)
		addAggregate(t, f, meter, "cus-1", 500)
		f.service = NewSyncService(f.meters, f.events, f.aggs, f.limits, &wrappingAssignmentRepo{}, f.overages, f.reporter, zap.NewNop())

		overages, err := f.service.SettleOverages(context.Background(), f.tenantID, f.period)
		require.NoError(t, err)
		assert.Empty(t, overages)
	})
}

// wrappingAssignmentRepo wraps the not-found sentinel the way a persistence
// layer adding context would
type wrappingAssignmentRepo struct{ memAssignmentRepo }

func (r *wrappingAssignmentRepo) FindActiveByCustomer(_ context.Context, _ uuid.UUID, customerID string) (*tiers.CustomerTierAssignment, error) {
	return nil, fmt.Errorf("find active assignment for %s: %w", customerID, shared.ErrNotFound)
}

package metering

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/staryer/backend/internal/domain/shared"
)

var billingPeriodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// FormatBillingPeriod returns the calendar-month billing period of t in UTC
func FormatBillingPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CurrentBillingPeriod returns the billing period containing now
func CurrentBillingPeriod() string {
	return FormatBillingPeriod(time.Now())
}

// ValidateBillingPeriod checks the YYYY-MM format
func ValidateBillingPeriod(period string) error {
	if !billingPeriodPattern.MatchString(period) {
		return shared.NewDomainError("INVALID_BILLING_PERIOD",
			fmt.Sprintf("Billing period must be YYYY-MM, got %q", period))
	}
	return nil
}

// BillingPeriodBounds returns the UTC [start, end) interval of a period
func BillingPeriodBounds(period string) (time.Time, time.Time, error) {
	if err := ValidateBillingPeriod(period); err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, err := time.ParseInLocation("2006-01", period, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, shared.NewDomainError("INVALID_BILLING_PERIOD", err.Error())
	}
	return start, start.AddDate(0, 1, 0), nil
}

// UsageAggregate is the materialized per-period rollup for one meter and
// user. It is a pure function of the underlying events: recomputing and
// replacing it is always safe and idempotent.
type UsageAggregate struct {
	shared.BaseEntity
	TenantID       uuid.UUID
	MeterID        uuid.UUID
	UserID         string
	BillingPeriod  string
	AggregateValue float64
	EventCount     int64
	LastEventAt    *time.Time
}

// FoldEvents deterministically folds events into an aggregate value
// according to the meter's aggregation type. Event order does not affect
// the result.
func FoldEvents(meter *UsageMeter, userID, billingPeriod string, events []*UsageEvent) *UsageAggregate {
	agg := &UsageAggregate{
		BaseEntity:    shared.NewBaseEntity(),
		TenantID:      meter.TenantID,
		MeterID:       meter.ID,
		UserID:        userID,
		BillingPeriod: billingPeriod,
		EventCount:    int64(len(events)),
	}

	switch meter.Aggregation {
	case AggregationCount:
		agg.AggregateValue = float64(len(events))
	case AggregationSum, AggregationDuration:
		var sum float64
		for _, e := range events {
			sum += e.Value
		}
		agg.AggregateValue = sum
	case AggregationMax:
		// seeded from the first event: max meters accept negative values
		for i, e := range events {
			if i == 0 || e.Value > agg.AggregateValue {
				agg.AggregateValue = e.Value
			}
		}
	case AggregationUnique:
		seen := make(map[string]struct{}, len(events))
		for _, e := range events {
			seen[e.UniqueKey()] = struct{}{}
		}
		agg.AggregateValue = float64(len(seen))
	}

	for _, e := range events {
		if agg.LastEventAt == nil || e.OccurredAt.After(*agg.LastEventAt) {
			t := e.OccurredAt
			agg.LastEventAt = &t
		}
	}

	return agg
}
